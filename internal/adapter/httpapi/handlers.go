package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/event"
	"github.com/circadianhq/circadian/internal/domain/quota"
	"github.com/circadianhq/circadian/internal/domain/usage"
	"github.com/circadianhq/circadian/internal/service"
)

const (
	defaultActionLimit = 50
	maxActionLimit     = 500
)

// Manager is the slice of the account loop manager the API consumes.
// *service.Manager satisfies it; tests substitute a fake.
type Manager interface {
	Accounts() []service.AccountSummary
	Status(id string) (service.Status, error)
	Quotas(ctx context.Context, id string) ([]quota.Snapshot, error)
	Plan(id string) (activity.DailyPlan, error)
	Usage(ctx context.Context, id, day string) ([]usage.Record, error)
	Actions(ctx context.Context, id string, limit int) ([]event.Action, error)
	StartAccount(ctx context.Context, id string) error
	StopAccount(id string) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Manager Manager
}

type controlResponse struct {
	Status  string `json:"status"`
	Account string `json:"account"`
}

// ListAccounts returns every configured account with its loop state.
func (h *Handlers) ListAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Manager.Accounts())
}

// GetAccount returns the detailed loop status for one account.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	status, err := h.Manager.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StartAccount launches the activity loop for one account.
func (h *Handlers) StartAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Manager.StartAccount(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Status: "started", Account: id})
}

// StopAccount stops the running loop for one account, waiting for the
// current activity to finish.
func (h *Handlers) StopAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Manager.StopAccount(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Status: "stopped", Account: id})
}

// GetQuotas returns the quota window counters for one account.
func (h *Handlers) GetQuotas(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Manager.Quotas(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if snaps == nil {
		snaps = []quota.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetPlan returns the running loop's daily plan.
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Manager.Plan(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// GetUsage returns per-model token usage for one account and day.
// The day query parameter defaults to today.
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = time.Now().Format(usage.DayFormat)
	} else if _, err := time.Parse(usage.DayFormat, day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be formatted YYYY-MM-DD")
		return
	}

	records, err := h.Manager.Usage(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []usage.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetActions returns the newest audit events for one account.
func (h *Handlers) GetActions(w http.ResponseWriter, r *http.Request) {
	limit := defaultActionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActionLimit)
	}

	actions, err := h.Manager.Actions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if actions == nil {
		actions = []event.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}
