package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"agent-workflow-engine/internal/domain/model"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// estimateTokens is the fallback when a provider omits usage in its stream.
// cl100k_base over- or under-counts a little for non-OpenAI models, which is
// acceptable for metrics.
func estimateTokens(messages []model.Message, completion string) (prompt, out int) {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		// Rough 4-bytes-per-token estimate when encoding data is unavailable.
		for _, m := range messages {
			prompt += len(m.Text()) / 4
		}
		return prompt, len(completion) / 4
	}
	for _, m := range messages {
		prompt += len(enc.Encode(m.Text(), nil, nil))
	}
	return prompt, len(enc.Encode(completion, nil, nil))
}
