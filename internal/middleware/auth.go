package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator is what this package needs from the user service.
// Keeping it an interface here avoids an import cycle back into user.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type Auth struct {
	validator TokenValidator
}

func NewAuth(v TokenValidator) *Auth {
	return &Auth{validator: v}
}

// Handle authenticates the request from the Authorization header, falling
// back to a ?token= query parameter for websocket upgrades, and injects the
// user id and username into the request context.
func (a *Auth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
