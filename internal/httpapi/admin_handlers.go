package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"cmdgate.io/internal/audit"
)

type listLogsResponse struct {
	Items []audit.Entry `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

func (a *API) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	q := audit.Query{Filter: audit.FilterAll, Order: audit.OrderNewestFirst, Limit: 100}

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))) {
	case "", "all":
	case "executed":
		q.Filter = audit.FilterExecuted
	case "rejected":
		q.Filter = audit.FilterRejectedAny
	default:
		writeError(w, r, http.StatusBadRequest, "status must be executed, rejected or all")
		return
	}

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("order"))) {
	case "", "desc":
	case "asc":
		q.Order = audit.OrderOldestFirst
	default:
		writeError(w, r, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		q.Limit = limit
	}

	items, err := a.log.List(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, listLogsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}
