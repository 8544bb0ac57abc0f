package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const fetchBodyLimit = 256 << 10

// HTTPFetchTool performs a bounded GET/POST on behalf of an agent.
type HTTPFetchTool struct {
	client *http.Client
}

func NewHTTPFetchTool() *HTTPFetchTool {
	return &HTTPFetchTool{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HTTPFetchTool) Name() string { return "http_fetch" }

type fetchArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type fetchResult struct {
	Status    int    `json:"status"`
	Body      string `json:"body"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (h *HTTPFetchTool) Execute(ctx context.Context, runID string, args json.RawMessage) (json.RawMessage, error) {
	var in fetchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if in.URL == "" {
		return nil, errors.New("http_fetch: empty url")
	}
	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("http_fetch: method %s not allowed", method)
	}

	var body io.Reader
	if in.Body != "" {
		body = strings.NewReader(in.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit+1))
	if err != nil {
		return nil, err
	}
	res := fetchResult{Status: resp.StatusCode, Body: string(b)}
	if len(b) > fetchBodyLimit {
		res.Body = string(b[:fetchBodyLimit])
		res.Truncated = true
	}
	return json.Marshal(res)
}
