package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	// AccessTokenQueryParam carries the token for websocket upgrades, which
	// browsers cannot decorate with headers.
	AccessTokenQueryParam = "access_token"
	bearerPrefix          = "Bearer "
)

var ErrMissingValidator = errors.New("request authenticator: token validator required")

// TokenValidator validates a raw token string.
type TokenValidator interface {
	ValidateToken(token string) (Claims, error)
}

type RequestAuthenticatorConfig struct {
	Validator  TokenValidator
	CookieName string
}

// RequestAuthenticator locates the access token on an HTTP request. Lookup
// order is Authorization header, access_token query parameter, then cookie.
type RequestAuthenticator struct {
	validator  TokenValidator
	cookieName string
}

func NewRequestAuthenticator(cfg RequestAuthenticatorConfig) (*RequestAuthenticator, error) {
	if cfg.Validator == nil {
		return nil, ErrMissingValidator
	}
	return &RequestAuthenticator{
		validator:  cfg.Validator,
		cookieName: strings.TrimSpace(cfg.CookieName),
	}, nil
}

// CookieName returns the cookie consulted last, or "" when cookies are off.
func (a *RequestAuthenticator) CookieName() string {
	return a.cookieName
}

// Authenticate validates the first token found on the request.
func (a *RequestAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	token := a.extractToken(r)
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	return a.validator.ValidateToken(token)
}

func (a *RequestAuthenticator) extractToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	if token := strings.TrimSpace(r.URL.Query().Get(AccessTokenQueryParam)); token != "" {
		return token
	}
	if a.cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie == nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
