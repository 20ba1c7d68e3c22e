package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsKey contextKey = "apiClaims"

// APIAuth guards the operator API. A request passes with an X-API-Key equal
// to apiKey, or with a Bearer JWT signed (HS256) with jwtSecret. With both
// unset every request is refused.
func APIAuth(apiKey, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" && jwtSecret == "" {
				http.Error(w, "api auth disabled", http.StatusUnauthorized)
				return
			}
			if key := r.Header.Get("X-API-Key"); key != "" && apiKey != "" {
				if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if jwtSecret == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// ClaimsFromContext returns the JWT claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
