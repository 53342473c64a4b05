package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/auth"
	"cmdgate.io/internal/ledger"
)

const maxCommandLength = 4096

type submitCommandRequest struct {
	CommandText string `json:"command_text"`
}

type meResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Credits  int64  `json:"credits"`
}

func (a *API) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req submitCommandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	commandText := strings.TrimSpace(req.CommandText)
	if commandText == "" {
		writeError(w, r, http.StatusBadRequest, "command_text is required")
		return
	}
	if len(commandText) > maxCommandLength {
		writeError(w, r, http.StatusBadRequest, "command_text too long")
		return
	}

	decision, err := a.pipeline.Authorize(r.Context(), user, commandText)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	// Every decision is a successful authorization round trip, rejections
	// included. HTTP errors are reserved for transport level failures.
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	balance, err := a.credits.Balance(r.Context(), user.ID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
		Credits:  balance,
	})
}

// --- shared helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
