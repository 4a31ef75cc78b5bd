package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/matheus3301/pairchat/internal/chat"
)

// Gate authenticates HTTP upgrade requests before the websocket is accepted.
type Gate struct {
	verifier   Verifier
	cookieName string
}

func NewGate(v Verifier, cookieName string) *Gate {
	if cookieName == "" {
		cookieName = "accessToken"
	}
	return &Gate{verifier: v, cookieName: cookieName}
}

// TokenFromRequest extracts the credential: the configured cookie first, then
// an "Authorization: Bearer" header.
func (g *Gate) TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(g.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticate resolves the request's user id or fails with
// chat.ErrUnauthenticated.
func (g *Gate) Authenticate(r *http.Request) (string, error) {
	token := g.TokenFromRequest(r)
	if token == "" {
		return "", fmt.Errorf("no credential in handshake: %w", chat.ErrUnauthenticated)
	}
	return g.verifier.Verify(token)
}
