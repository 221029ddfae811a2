package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey struct{}

var userContextKey contextKey

// CurrentUser returns the user the middleware resolved for this
// request. The password hash is never present.
func CurrentUser(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey).(User)
	return user, ok
}

// WithUser is exported for handler tests that bypass the middleware.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey, user.Public())
}

// Middleware gates protected routes. It extracts the bearer token,
// verifies it with purpose=access, resolves the subject to a stored
// user (cache first) and rejects the request if the account no longer
// exists. A valid signature alone does not authenticate a request.
func Middleware(tokens *TokenService, store UserStore, cache UserCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			username, err := tokens.Verify(tokenString, PurposeAccess)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, cached := cache.Get(r.Context(), username)
			if !cached {
				user, err = store.GetByUsername(r.Context(), username)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						writeError(w, http.StatusUnauthorized, "user no longer exists")
						return
					}
					writeError(w, http.StatusInternalServerError, "failed to resolve user")
					return
				}
				cache.Set(r.Context(), user)
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", false
	}

	return tokenString, true
}
