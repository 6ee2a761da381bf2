package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/utafrali/AuthGo/internal/security"
	"github.com/utafrali/AuthGo/pkg/validator"
)

// AdminHandler exposes the security reporting and maintenance surface.
type AdminHandler struct {
	stats   *security.StatsAggregator
	lockout *security.LockoutTracker
	sweeper *security.Sweeper
	logger  *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(stats *security.StatsAggregator, lockout *security.LockoutTracker, sweeper *security.Sweeper, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, lockout: lockout, sweeper: sweeper, logger: logger}
}

// UnlockAccountRequest is the JSON request body for clearing a lockout.
type UnlockAccountRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// GetStats handles GET /api/v1/admin/security/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Data: h.stats.Snapshot()})
}

// TriggerCleanup handles POST /api/v1/admin/security/cleanup and runs one
// sweep outside the regular schedule.
func (h *AdminHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	result := h.sweeper.Trigger(r.Context())

	h.logger.InfoContext(r.Context(), "manual cleanup triggered",
		slog.Int("blacklist_evicted", result.BlacklistEvicted),
		slog.Int("lockouts_removed", result.LockoutsRemoved),
		slog.Int64("sessions_pruned", result.SessionsPruned),
	)

	writeJSON(w, http.StatusOK, response{Data: result})
}

// UnlockAccount handles POST /api/v1/admin/security/unlock and clears a
// lockout ahead of its window. Unlocking an account that is not locked is
// not an error.
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req UnlockAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	h.lockout.Unlock(req.Email)

	h.logger.InfoContext(r.Context(), "account lockout cleared by admin")

	writeJSON(w, http.StatusOK, response{Data: map[string]string{"email": req.Email, "status": "unlocked"}})
}
