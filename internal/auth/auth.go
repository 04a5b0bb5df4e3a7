// Package auth attaches the bearer credential to channel handshakes and REST calls.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptyTokenFile is returned when a token file holds no token.
var ErrEmptyTokenFile = errors.New("token file is empty")

// Credential is a bearer token plus where to put it. An empty token is
// valid and attaches nothing.
type Credential struct {
	QueryParam string // query parameter name, "" disables
	Header     bool   // also send Authorization: Bearer

	mu    sync.RWMutex
	token string
}

// NewCredential returns a credential for token.
func NewCredential(token, queryParam string, header bool) *Credential {
	return &Credential{
		QueryParam: queryParam,
		Header:     header,
		token:      strings.TrimSpace(token),
	}
}

// FromConfig builds a credential from an inline token or, when that is
// empty, from tokenFile.
func FromConfig(token, tokenFile, queryParam string, header bool) (*Credential, error) {
	if token == "" && tokenFile != "" {
		t, err := LoadToken(tokenFile)
		if err != nil {
			return nil, err
		}
		token = t
	}
	return NewCredential(token, queryParam, header), nil
}

// LoadToken reads a token from path, ignoring surrounding whitespace.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrEmptyTokenFile
	}
	return token, nil
}

// Token returns the current token.
func (c *Credential) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the token used by later handshakes and requests.
func (c *Credential) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Apply adds the token to a handshake URL and header.
func (c *Credential) Apply(u *url.URL, header http.Header) error {
	token := c.Token()
	if token == "" {
		return nil
	}
	if c.QueryParam != "" {
		q := u.Query()
		q.Set(c.QueryParam, token)
		u.RawQuery = q.Encode()
	}
	if c.Header {
		header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// AuthorizeRequest sets the Authorization header on a REST request.
func (c *Credential) AuthorizeRequest(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// ExpiresAt reports the exp claim of a JWT token. The signature is not
// verified; opaque tokens and tokens without exp report false.
func (c *Credential) ExpiresAt() (time.Time, bool) {
	token := c.Token()
	if token == "" {
		return time.Time{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether the token carries an exp claim before now.
func (c *Credential) Expired(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	return ok && !now.Before(exp)
}
