package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceKey is the context key holding the authenticated calling service
const ServiceKey contextKey = "service"

// ServiceAuth validates the bearer token on submission endpoints. Callers are
// trusted internal services carrying an HS256 token with the configured
// issuer; the "sub" claim names the calling service.
func (m *Middleware) ServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"unauthorized","message":"Missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.cfg.Auth.JWTSecret), nil
		}, jwt.WithIssuer(m.cfg.Auth.Issuer), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			m.log.Warn().Err(err).Str("path", r.URL.Path).Msg("rejected service token")
			http.Error(w, `{"error":"unauthorized","message":"Invalid service token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ServiceKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetService retrieves the authenticated calling service from context
func GetService(ctx context.Context) string {
	if s, ok := ctx.Value(ServiceKey).(string); ok {
		return s
	}
	return ""
}
