package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"cmdgate.io/internal/auth"
)

const (
	apiKeyHeader = "X-API-Key"
	authHeader   = "Authorization"
	bearer       = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth resolves the caller from the API key header or a bearer token
// and stores the user in the request context. Public paths pass through.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		user, err := a.authenticate(r)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNotFound):
				writeError(w, r, http.StatusUnauthorized, "authentication required")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}

func (a *API) authenticate(r *http.Request) (*auth.User, error) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return a.users.FindByAPIKey(r.Context(), key)
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return nil, auth.ErrUnauthorized
	}
	claims, err := auth.ParseAndValidate(token)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	return a.users.Find(r.Context(), claims.Subject)
}

// requireAdmin returns the context user if present and an admin.
func requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	if !user.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return nil, false
	}
	return user, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
