package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey struct{}

// IdentityFrom returns the authenticated user attached by Middleware.
func IdentityFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(contextKey{}).(*User)
	return u, ok
}

// Middleware validates bearer credentials on every route except those in
// excluded. A route is public when its path exactly equals, or is
// prefixed by, an excluded entry. All failure causes produce the same
// generic 401 body; the specific cause only reaches the log. Successful
// 2xx responses carry a rotated token in X-Access-Token.
func Middleware(verifier *Verifier, users UserStore, excluded []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isExcluded(r.URL.Path, excluded) {
				next.ServeHTTP(w, r)
				return
			}

			user, err := authenticate(r, verifier, users)
			if err != nil {
				logger.Warn("authentication failed", "path", r.URL.Path, "cause", err)
				unauthorized(w)
				return
			}

			rotated, err := verifier.Issue(user)
			if err != nil {
				logger.Error("token rotation failed", "user", user.Username, "error", err)
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, user)
			rw := &rotatingWriter{ResponseWriter: w, token: rotated}
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, verifier *Verifier, users UserStore) (*User, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, ErrMalformedCredential
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMalformedCredential
	}

	claims, err := verifier.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	id, err := claims.SubjectID()
	if err != nil {
		return nil, err
	}

	user, err := users.UserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrUnknownSubject
	}
	return user, nil
}

func isExcluded(path string, excluded []string) bool {
	for _, e := range excluded {
		if path == e || strings.HasPrefix(path, e) {
			return true
		}
	}
	return false
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid or missing credentials"})
}

// rotatingWriter injects the rotated token header just before a 2xx
// status is committed.
type rotatingWriter struct {
	http.ResponseWriter
	token string
	wrote bool
}

func (w *rotatingWriter) WriteHeader(code int) {
	if !w.wrote {
		w.wrote = true
		if code >= 200 && code < 300 {
			w.Header().Set("X-Access-Token", w.token)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *rotatingWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
