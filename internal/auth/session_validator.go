package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	bearerPrefix         = "Bearer "
	accessTokenParameter = "access_token"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionIssuer     = errors.New("session validator: issuer required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	jwt.RegisteredClaims
}

// User returns the user the claims describe.
func (c SessionClaims) User() User {
	return User{ID: c.UserID, Email: c.UserEmail, DisplayName: c.UserDisplayName}
}

// SessionValidatorConfig describes how to validate session tokens.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator validates HS256 session tokens.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	if claims.Subject != claims.UserID {
		return SessionClaims{}, fmt.Errorf("%w: subject and user id differ", ErrInvalidSessionToken)
	}
	return *claims, nil
}

// ValidateRequest finds the session token in the Authorization header, the session cookie or the
// access_token query parameter, in that order, and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	token := v.RequestToken(r)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(token)
}

// RequestToken extracts the raw session token from r without validating it.
func (v *SessionValidator) RequestToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); strings.HasPrefix(header, bearerPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)); token != "" {
			return token
		}
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie != nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}
	return strings.TrimSpace(r.URL.Query().Get(accessTokenParameter))
}
