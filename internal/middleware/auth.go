// Package middleware provides HTTP middleware for the payroll ledger API.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

type contextKey string

const principalKey contextKey = "principal"

// Claims are the JWT claims the API accepts. Principal is the identity
// every ledger operation is attributed to.
type Claims struct {
	Principal string `json:"principal"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates requests with an HMAC-signed bearer token
// and stashes the principal in the request context.
type AuthMiddleware struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Paths in
// skipPaths bypass authentication entirely.
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{secret: secret, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, r, "missing Authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondUnauthorized(w, r, "invalid Authorization header format")
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Warn("token validation failed")
			m.respondUnauthorized(w, r, "invalid token")
			return
		}
		if claims.Principal == "" {
			m.respondUnauthorized(w, r, "token carries no principal")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, claims.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})

	m.log.WithField("path", r.URL.Path).WithField("method", r.Method).Warn("authentication failed")
}

// Principal extracts the authenticated principal from the context, or ""
// when the request was not authenticated.
func Principal(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey).(string)
	return principal
}

// WithPrincipal injects a principal into the context. Test helper and escape
// hatch for internal callers that bypass HTTP.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// IssueToken signs a token for the principal with the given secret. Used by
// operator tooling and tests.
func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
