package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs HS256 session tokens for authenticated users.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. A non-positive TTL falls back to twelve hours.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: append([]byte(nil), cfg.SigningSecret...),
			Issuer:        issuer,
			Audience:      strings.TrimSpace(cfg.Audience),
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// Issue produces a signed session token for user and the moment it expires.
func (i *TokenIssuer) Issue(user User) (string, time.Time, error) {
	subject := strings.TrimSpace(user.ID)
	if subject == "" {
		return "", time.Time{}, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if i.config.Audience != "" {
		registered.Audience = []string{i.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:           subject,
		UserEmail:        user.Email,
		UserDisplayName:  user.DisplayName,
		RegisteredClaims: registered,
	})
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// TTL reports the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.config.TokenTTL
}
