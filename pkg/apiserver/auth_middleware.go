package apiserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/is-app/dnsdesk/pkg/auth"
	"github.com/sirupsen/logrus"
)

type ContextKey string

const CallerKey ContextKey = "caller"

// Caller is the authenticated user behind a request.
type Caller struct {
	ID      string
	IsAdmin bool
}

func tokenAuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := r.Header.Get("Authorization")
			token := strings.TrimPrefix(authorization, "Bearer ")
			if token == "" || token == authorization {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			claims, err := auth.Parse(secret, token)
			if err != nil {
				logrus.Debugf("rejected token for %s: %v", r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), CallerKey, Caller{
				ID:      claims.Subject,
				IsAdmin: claims.IsAdmin(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func adminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !callerFromContext(r.Context()).IsAdmin {
			writeError(w, http.StatusForbidden, errors.New("you do not have permission to run this command"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFromContext(ctx context.Context) Caller {
	caller, _ := ctx.Value(CallerKey).(Caller)
	return caller
}
