package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type testIssuer struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := &testIssuer{key: key, kid: "test-kid"}
	issuer.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer.fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": issuer.kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(issuer.server.Close)
	return issuer
}

func (i *testIssuer) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.kid
	signed, err := token.SignedString(i.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (i *testIssuer) bearer(t *testing.T, subject string) string {
	return "Bearer " + i.token(t, jwt.MapClaims{
		"sub": subject,
		"iss": "https://clerk.test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func TestClerkAuthMiddleware(t *testing.T) {
	issuer := newTestIssuer(t)
	var gotSubject string
	handler := ClerkAuthMiddleware(AuthConfig{JWKSURL: issuer.server.URL, Issuer: "https://clerk.test"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = GetClerkUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user_evil", "exp": time.Now().Add(time.Hour).Unix()})
	forged.Header["kid"] = issuer.kid
	forgedToken, _ := forged.SignedString(otherKey)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid token", header: issuer.bearer(t, "user_1"), wantStatus: http.StatusNoContent},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + issuer.token(t, jwt.MapClaims{"sub": "user_1", "iss": "https://clerk.test", "exp": time.Now().Add(-time.Hour).Unix()}), wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + issuer.token(t, jwt.MapClaims{"sub": "user_1", "iss": "https://other.test", "exp": time.Now().Add(time.Hour).Unix()}), wantStatus: http.StatusUnauthorized},
		{name: "forged signature", header: "Bearer " + forgedToken, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusNoContent && gotSubject != "user_1" {
				t.Fatalf("expected subject user_1, got %q", gotSubject)
			}
		})
	}

	if fetches := issuer.fetches.Load(); fetches != 1 {
		t.Fatalf("expected the JWKS to be fetched once, got %d", fetches)
	}
}

func TestJWKSCacheLimitsRefetchOnUnknownKid(t *testing.T) {
	issuer := newTestIssuer(t)
	clock := time.Now()
	cache := newJWKSCache(issuer.server.URL)
	cache.now = func() time.Time { return clock }

	if _, err := cache.key(issuer.kid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := cache.key("unknown-kid"); err == nil {
			t.Fatalf("expected unknown kid to fail")
		}
	}
	if fetches := issuer.fetches.Load(); fetches != 1 {
		t.Fatalf("expected unknown kids inside the window to reuse the cache, got %d fetches", fetches)
	}

	clock = clock.Add(jwksMinRefetch + time.Second)
	if _, err := cache.key("unknown-kid"); err == nil {
		t.Fatalf("expected unknown kid to fail")
	}
	if _, err := cache.key(issuer.kid); err != nil {
		t.Fatalf("known kid must still resolve: %v", err)
	}
	if fetches := issuer.fetches.Load(); fetches != 2 {
		t.Fatalf("expected one refetch after the window, got %d fetches", fetches)
	}
}

func TestRequireAdmin(t *testing.T) {
	issuer := newTestIssuer(t)
	handler := ClerkAuthMiddleware(AuthConfig{JWKSURL: issuer.server.URL})(
		RequireAdmin([]string{" user_admin ", ""})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})),
	)

	for subject, want := range map[string]int{"user_admin": http.StatusNoContent, "user_1": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", issuer.bearer(t, subject))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", subject, want, rec.Code)
		}
	}
}
