package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/rules"
)

type createRuleRequest struct {
	Pattern string `json:"pattern"`
	Action  string `json:"action"`
	// TestString opts into shadow conflict detection. The rule is rejected
	// if an earlier rule of the opposite action already captures it.
	TestString string `json:"test_string"`
}

type listRulesResponse struct {
	Items []rules.Rule `json:"items"`
	AsOf  time.Time    `json:"as_of"`
}

func (a *API) handleRulesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRules(w, r)
	case http.MethodPost:
		a.createRule(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRuleResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/rules/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "rule id must be a positive integer")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		a.deleteRule(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	items, err := a.rules.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, listRulesResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	action, ok := rules.ParseAction(req.Action)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "action must be ALLOW or REJECT")
		return
	}

	rule, err := a.rules.Add(r.Context(), req.Pattern, action, strings.TrimSpace(req.TestString))
	if err != nil {
		handleRuleError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "rules.create", map[string]any{
		"rule_id": rule.ID,
		"pattern": rule.Pattern,
		"action":  string(rule.Action),
	})

	w.Header().Set("Location", "/v1/rules/"+strconv.FormatInt(rule.ID, 10))
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request, id int64) {
	if err := a.rules.Delete(r.Context(), id); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "rules.delete", map[string]any{
		"rule_id": id,
	})

	// Idempotent: deleting an absent rule also lands here.
	w.WriteHeader(http.StatusNoContent)
}

func handleRuleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid  *rules.InvalidPatternError
		dup      *rules.DuplicateRuleError
		conflict *rules.ShadowConflictError
	)
	switch {
	case errors.Is(err, rules.ErrEmptyPattern),
		errors.Is(err, rules.ErrInvalidTestExample),
		errors.As(err, &invalid):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &dup), errors.As(err, &conflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
