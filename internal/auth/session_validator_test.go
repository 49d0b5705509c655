package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "fairway-auth"
	testSessionCookieName    = "fairway_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func newTestTokenPair(t *testing.T, clock func() time.Time) (*TokenIssuer, *SessionValidator) {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return issuer, validator
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestTokenPair(t, func() time.Time { return clockNow })

	signed, _, err := issuer.Issue(User{ID: testSessionUserID, Email: testSessionUserEmail})
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if claims.User().Email != testSessionUserEmail {
		t.Fatalf("unexpected user email: %s", claims.User().Email)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	issuedAt := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, _ := newTestTokenPair(t, func() time.Time { return issuedAt })
	_, validator := newTestTokenPair(t, func() time.Time { return issuedAt.Add(2 * time.Hour) })

	signed, _, err := issuer.Issue(User{ID: testSessionUserID})
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignIssuer(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	foreign, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        "someone-else",
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	_, validator := newTestTokenPair(t, func() time.Time { return clockNow })

	signed, _, err := foreign.Issue(User{ID: testSessionUserID})
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if _, err := validator.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error for malformed input, got %v", err)
	}
}

func TestSessionValidatorValidateRequestSources(t *testing.T) {
	issuer, validator := newTestTokenPair(t, time.Now)
	signed, _, err := issuer.Issue(User{ID: testSessionUserID})
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	bearer := httptest.NewRequest(http.MethodGet, "/api/discs", http.NoBody)
	bearer.Header.Set("Authorization", "Bearer "+signed)

	cookie := httptest.NewRequest(http.MethodGet, "/api/discs", http.NoBody)
	cookie.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})

	query := httptest.NewRequest(http.MethodGet, "/api/discs/live?access_token="+signed, http.NoBody)

	for name, request := range map[string]*http.Request{"bearer": bearer, "cookie": cookie, "query": query} {
		claims, err := validator.ValidateRequest(request)
		if err != nil {
			t.Fatalf("%s: validation failed: %v", name, err)
		}
		if claims.UserID != testSessionUserID {
			t.Fatalf("%s: unexpected user id: %s", name, claims.UserID)
		}
	}

	missing := httptest.NewRequest(http.MethodGet, "/api/discs", http.NoBody)
	if _, err := validator.ValidateRequest(missing); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
