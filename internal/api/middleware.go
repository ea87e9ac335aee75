/**
 * @description
 * This file contains custom middleware for the HTTP router. ClerkAuthMiddleware validates
 * Clerk-issued RS256 bearer tokens against the JWKS endpoint, and RequireAdmin gates the
 * payout routes behind an allow-list of Clerk subjects.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const clerkUserIDKey UserIDContextKey = "clerkUserID"

const (
	jwksCacheTTL = 10 * time.Minute
	// jwksMinRefetch bounds how often an unknown kid can reach the JWKS endpoint.
	jwksMinRefetch = time.Minute
)

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWKSURL  string
	Audience string
	Issuer   string
}

// jwksCache holds the RSA keys of one JWKS endpoint and refetches on an unknown kid,
// at most once per jwksMinRefetch.
type jwksCache struct {
	url         string
	client      *http.Client
	now         func() time.Time
	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key, ok := c.keys[kid]
	if ok && now.Sub(c.fetchedAt) < jwksCacheTTL {
		return key, nil
	}
	if !c.attemptedAt.IsZero() && now.Sub(c.attemptedAt) < jwksMinRefetch {
		if ok {
			return key, nil
		}
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	c.attemptedAt = now
	keys, err := c.fetch()
	if err != nil {
		return nil, err
	}
	c.keys = keys
	c.fetchedAt = now

	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func (c *jwksCache) fetch() (map[string]*rsa.PublicKey, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			return nil, err
		}
		keys[key.Kid] = pub
	}
	return keys, nil
}

// ClerkAuthMiddleware creates a middleware that validates JWT tokens from Clerk.
func ClerkAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	cache := newJWKSCache(cfg.JWKSURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}
				publicKey, err := cache.key(kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}
				return publicKey, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}
			if cfg.Audience != "" {
				audiences, err := claims.GetAudience()
				if err != nil || !containsString(audiences, cfg.Audience) {
					writeError(w, http.StatusUnauthorized, "Invalid audience")
					return
				}
			}
			if cfg.Issuer != "" {
				if iss, err := claims.GetIssuer(); err != nil || iss != cfg.Issuer {
					writeError(w, http.StatusUnauthorized, "Invalid issuer")
					return
				}
			}

			userID, err := claims.GetSubject()
			if err != nil || userID == "" {
				writeError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), clerkUserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only the listed Clerk subjects. It must run after ClerkAuthMiddleware.
func RequireAdmin(adminUserIDs []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(adminUserIDs))
	for _, id := range adminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetClerkUserID(r.Context())
			if !ok || !allowed[userID] {
				writeError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseRSAPublicKey parses RSA public key from modulus and exponent
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}

// GetClerkUserID retrieves the Clerk User ID from the request context.
func GetClerkUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(clerkUserIDKey).(string)
	return userID, ok
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
