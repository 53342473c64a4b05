package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/auth"
)

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken exchanges a valid API key for a short-lived bearer token.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !auth.TokensEnabled() {
		writeError(w, r, http.StatusServiceUnavailable, "token issuance disabled")
		return
	}

	key := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if key == "" {
		var req tokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		key = strings.TrimSpace(req.APIKey)
	}
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "api_key is required")
		return
	}

	user, err := a.users.FindByAPIKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid api key")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := auth.GenerateToken(user, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       user.Username,
		"role":       user.Role,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
