package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const projectIDKey ctxKey = iota

// ProjectID returns the project the request was authenticated for, or ""
// when the caller used the engine-wide API key.
func ProjectID(ctx context.Context) string {
	v, _ := ctx.Value(projectIDKey).(string)
	return v
}

type AuthManager struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthManager(secret string, ttl time.Duration) *AuthManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &AuthManager{secret: []byte(secret), ttl: ttl}
}

type ProjectClaims struct {
	ProjectID string `json:"project_id"`
	jwt.RegisteredClaims
}

// Mint issues a project-scoped session token.
func (a *AuthManager) Mint(projectID string) (string, error) {
	now := time.Now()
	claims := ProjectClaims{
		ProjectID: projectID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Subject:   projectID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) parse(tok string) (*ProjectClaims, error) {
	claims := &ProjectClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// authMiddleware accepts either the engine-wide API key or a project-scoped
// JWT, both as bearer tokens. A JWT binds the request to its project; the
// API key leaves the binding to the path.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get("Authorization")
		if hdr == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(hdr, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Unauthorized: malformed token", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(parts[1])

		if s.apiKey != "" && token == s.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		if claims, err := s.auth.parse(token); err == nil {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), projectIDKey, claims.ProjectID)))
			return
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

// requireProject rejects requests whose session is bound to a different
// project than the one named in the path.
func (s *Server) requireProject(w http.ResponseWriter, r *http.Request, projectID string) bool {
	if bound := ProjectID(r.Context()); bound != "" && bound != projectID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}
