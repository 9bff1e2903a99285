package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	contextKeyCaller    contextKey = "caller"
	contextKeyRequestID contextKey = "request_id"
)

var errNoCaller = errors.New("rpc: no authenticated caller in context")

// CallerFromContext returns the authenticated principal for the request.
func CallerFromContext(ctx context.Context) ([20]byte, error) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	if !ok {
		return [20]byte{}, errNoCaller
	}
	return caller, nil
}

// RequestIDFromContext returns the request correlation id, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// IssueToken mints an HS256 bearer token whose subject is the caller's hex
// address. Used by operator tooling and tests.
func IssueToken(secret string, caller [20]byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "0x" + hex.EncodeToString(caller[:]),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// authenticate verifies the bearer token and stores the caller address on the
// request context. Requests without a valid token are rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.authSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("invalid bearer token"))
			return
		}

		caller, err := parseAddress(claims.Subject)
		if err != nil {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("token subject is not an address"))
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
