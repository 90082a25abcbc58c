// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

type ctxKey int

const ctxKeySubject ctxKey = 0

// bearerAuth validates Bearer tokens against the shared secret. An empty
// secret disables auth entirely, which is the local single-user default;
// once a secret is configured every /api/v1 call must carry a valid
// HS256 token.
func (s *Server) bearerAuth() mux.MiddlewareFunc {
	secret := []byte(s.cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				s.writeError(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				s.log.Warn("", "", "rejected bearer token", map[string]interface{}{
					"path": r.URL.Path,
				})
				s.writeError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				s.writeError(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			if sub := getClaimString(claims, "sub"); sub != "" {
				r = r.WithContext(context.WithValue(r.Context(), ctxKeySubject, sub))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	return token, token != ""
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// Subject returns the authenticated token subject, or the empty string
// when auth is disabled or the token carried no subject.
func Subject(ctx context.Context) string {
	sub, _ := ctx.Value(ctxKeySubject).(string)
	return sub
}
