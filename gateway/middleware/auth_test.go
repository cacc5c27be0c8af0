package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const authTestSecret = "gateway-test-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHandler(auth *Authenticator, scopes ...string) http.Handler {
	return auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthenticatorAllowsValidToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: authTestSecret,
		Issuer:     "vaultlend",
		Audience:   "gateway",
	}, nil)
	token := mintToken(t, authTestSecret, jwt.MapClaims{
		"iss":   "vaultlend",
		"aud":   "gateway",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "lending",
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authHandler(auth, "lending").ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected valid token to pass, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: authTestSecret}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	res := httptest.NewRecorder()
	authHandler(auth).ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected missing token to be rejected, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsWrongSecret(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: authTestSecret}, nil)
	token := mintToken(t, "some-other-secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authHandler(auth).ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected token signed with wrong secret to be rejected, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: authTestSecret}, nil)
	token := mintToken(t, authTestSecret, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authHandler(auth).ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired token to be rejected, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsIssuerMismatch(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: authTestSecret,
		Issuer:     "vaultlend",
	}, nil)
	token := mintToken(t, authTestSecret, jwt.MapClaims{
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authHandler(auth).ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected issuer mismatch to be rejected, got %d", res.Code)
	}
}

func TestAuthenticatorEnforcesScope(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: authTestSecret}, nil)
	token := mintToken(t, authTestSecret, jwt.MapClaims{
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "reporting",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/lending/deposit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authHandler(auth, "lending").ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected missing scope to be forbidden, got %d", res.Code)
	}
}

func TestAuthenticatorAcceptsSpaceSeparatedScopes(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: authTestSecret}, nil)
	token := mintToken(t, authTestSecret, jwt.MapClaims{
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "reporting lending",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/lending/deposit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authHandler(auth, "lending").ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected space separated scope list to satisfy requirement, got %d", res.Code)
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	res := httptest.NewRecorder()
	authHandler(auth, "lending").ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected disabled authenticator to pass requests, got %d", res.Code)
	}
}

func TestAuthenticatorOptionalPathAllowsAnonymous(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:        true,
		HMACSecret:     authTestSecret,
		OptionalPaths:  []string{"/v1/lending/market"},
		AllowAnonymous: true,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	res := httptest.NewRecorder()
	authHandler(auth, "lending").ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected optional path to allow anonymous access, got %d", res.Code)
	}

	guarded := httptest.NewRequest(http.MethodPost, "/v1/lending/deposit", nil)
	guardedRes := httptest.NewRecorder()
	authHandler(auth, "lending").ServeHTTP(guardedRes, guarded)
	if guardedRes.Code != http.StatusUnauthorized {
		t.Fatalf("expected non-optional path to require a token, got %d", guardedRes.Code)
	}
}
