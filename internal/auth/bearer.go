package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the claims expected from the identity provider's
// tokens: the user's email and display name.
type IdentityClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// UserUpserter provisions a user the first time an identity is seen and
// returns its id. A nil-user upsert (unknown email, no name) must return an
// error so the request stays anonymous.
type UserUpserter func(ctx context.Context, email, name string) (uint, error)

// Bearer returns middleware that accepts an HS256 identity-provider token
// from the Authorization header. A valid token upserts the user and
// attaches its id to the context; anything else passes through anonymous,
// leaving the decision to RequireAuth.
func Bearer(secret string, upsert UserUpserter) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserIDFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			claims := &IdentityClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return key, nil
			})
			if err != nil || !token.Valid || claims.Email == "" {
				next.ServeHTTP(w, r)
				return
			}
			uid, err := upsert(r.Context(), claims.Email, claims.Name)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}
