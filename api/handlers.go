/*
handlers.go - HTTP API handlers for the guard ledger

PURPOSE:
  Exposes the guard.Engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the engine.

ENDPOINTS (all under /api/profiles/{profile}):
  Days:
    GET    /days?from&to              List tagged days
    GET    /days/{date}               One day
    PUT    /days/{date}/tags          Upsert a tag
    DELETE /days/{date}/tags/{type}   Remove one tag (with ledger rollback)
    DELETE /days/{date}               Remove every event on the day

  Guards:
    POST   /guards                    Mark a guard week (planned or done)
    POST   /guards/{week}/complete    Planned -> done, credits the week
    POST   /guards/{week}/reindex     Renumber the week's free days
    GET    /guards                    Guard accounts with their debits
    GET    /guards/available          Oldest account with balance left

  Balance:
    POST   /free-days                 Book free days (FIFO, all or nothing)
    POST   /other                     OTHER day with a day-count effect
    POST   /adjustments               Manual adjustment
    GET    /ledger                    Movements in creation order
    DELETE /ledger/{id}               Remove a movement and its tag
    GET    /counters?as_of            Derived counters
    POST   /counters/verify           Compare displayed counters
    POST   /reconcile                 Reindex every account
    GET    /audit?limit               Audit trail (SQLite only)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (dates, tag names)
  3. Call the engine
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  - 400: invalid date, unknown tag, invalid amount, bad JSON
  - 404: day, tag, movement or planned week not found
  - 409: tag conflict, integrity violation
  - 422: not enough guard balance
  - 500: storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/guard-ledger/generic"
	"github.com/warp/guard-ledger/guard"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuditReader is implemented by stores that persist the audit trail.
type AuditReader interface {
	AuditLog(ctx context.Context, profile generic.ProfileID, limit int) ([]generic.AuditEntry, error)
}

// Resetter is implemented by stores that can be wiped (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *guard.Engine
	Store  generic.TxStore
	Log    zerolog.Logger

	// Now is the clock used for default as-of dates.
	Now func() time.Time

	// Scheduler is optional; it backs GET /api/reconciliation.
	Scheduler *ReconciliationScheduler

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the engine and its store.
func NewHandler(engine *guard.Engine, store generic.TxStore, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Store: store, Log: log, Now: time.Now}
}

// =============================================================================
// DAYS
// =============================================================================

// ListDays returns tagged days, optionally bounded by from/to.
func (h *Handler) ListDays(w http.ResponseWriter, r *http.Request) {
	var from, to generic.TimePoint
	if s := r.URL.Query().Get("from"); s != "" {
		tp, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date", err)
			return
		}
		from = tp
	}
	if s := r.URL.Query().Get("to"); s != "" {
		tp, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date", err)
			return
		}
		to = tp
	}

	days, err := h.Engine.Days(r.Context(), profileParam(r), from, to)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	out := make([]DayDTO, len(days))
	for i, d := range days {
		out[i] = toDayDTO(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	day, err := h.Engine.Day(r.Context(), profileParam(r), date)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDayDTO(day))
}

func (h *Handler) UpsertTag(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	var req UpsertTagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	typ, err := guard.ParseTagType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown tag type", err)
		return
	}

	day, err := h.Engine.UpsertTag(r.Context(), profileParam(r), date, guard.Tag{Type: typ, Meta: req.Meta})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDayDTO(day))
}

func (h *Handler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	typ, err := guard.ParseTagType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown tag type", err)
		return
	}

	res, err := h.Engine.RemoveTag(r.Context(), profileParam(r), date, typ)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RemoveDay(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	res, err := h.Engine.RemoveAllDayEvents(r.Context(), profileParam(r), date)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// GUARDS
// =============================================================================

func (h *Handler) MarkGuardWeek(w http.ResponseWriter, r *http.Request) {
	var req MarkGuardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	weekStart, err := generic.ParseDate(req.WeekStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid week_start", err)
		return
	}

	res, err := h.Engine.MarkGuardWeek(r.Context(), profileParam(r), weekStart, req.Planned)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGuardWeekResponse(res))
}

func (h *Handler) CompleteGuardWeek(w http.ResponseWriter, r *http.Request) {
	weekStart, ok := dateParam(w, r, "week")
	if !ok {
		return
	}
	res, err := h.Engine.CompleteGuardWeek(r.Context(), profileParam(r), weekStart)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGuardWeekResponse(res))
}

func (h *Handler) ReindexGuard(w http.ResponseWriter, r *http.Request) {
	weekStart, ok := dateParam(w, r, "week")
	if !ok {
		return
	}
	n, err := h.Engine.Reindex(r.Context(), profileParam(r), guard.NewGuardAccountID(weekStart))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rewritten": n})
}

func (h *Handler) ListGuards(w http.ResponseWriter, r *http.Request) {
	details, err := h.Engine.GuardDetails(r.Context(), profileParam(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) AvailableGuard(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Engine.FindAvailableGuard(r.Context(), profileParam(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if acc == nil {
		writeJSON(w, http.StatusOK, AvailableGuardResponse{Available: false})
		return
	}
	writeJSON(w, http.StatusOK, AvailableGuardResponse{
		Available: true,
		Label:     acc.ID.Label(),
		Ref:       acc.ID.Ref(),
		Remaining: acc.Remaining,
	})
}

// =============================================================================
// FREE DAYS AND ADJUSTMENTS
// =============================================================================

func (h *Handler) RequestFreeDays(w http.ResponseWriter, r *http.Request) {
	var req FreeDaysRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dates := make([]generic.TimePoint, 0, len(req.Dates))
	for _, s := range req.Dates {
		tp, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date in request", err)
			return
		}
		dates = append(dates, tp)
	}

	assignments, err := h.Engine.RequestFreeDays(r.Context(), profileParam(r), dates)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	out := make([]AssignmentDTO, len(assignments))
	for i, a := range assignments {
		out[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) AddOtherDays(w http.ResponseWriter, r *http.Request) {
	var req OtherDaysRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}

	m, err := h.Engine.AddOtherDays(r.Context(), profileParam(r), date, req.Label, req.Amount)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}

	m, err := h.Engine.ManualAdjust(r.Context(), profileParam(r), date, req.Amount, req.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.Engine.Ledger(r.Context(), profileParam(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	out := make([]MovementDTO, len(ledger))
	for i, m := range ledger {
		out[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) RemoveMovement(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.RemoveMovement(r.Context(), profileParam(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// COUNTERS
// =============================================================================

func (h *Handler) GetCounters(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of", err)
		return
	}
	c, err := h.Engine.Counters(r.Context(), profileParam(r), asOf)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountersResponse{AsOf: asOf.String(), Counters: c})
}

func (h *Handler) VerifyCounters(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asOf, err := h.asOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of", err)
		return
	}

	fresh, ok, err := h.Engine.Verify(r.Context(), profileParam(r), req.Displayed, asOf)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Consistent: ok, Displayed: req.Displayed, Counters: fresh})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Engine.Reconcile(r.Context(), profileParam(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.Store.(AuditReader)
	if !ok {
		writeError(w, http.StatusNotImplemented, "audit trail requires the sqlite store", nil)
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := reader.AuditLog(r.Context(), profileParam(r), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTagTypes returns the tag enumeration with its conflict rules.
func (h *Handler) ListTagTypes(w http.ResponseWriter, r *http.Request) {
	types := guard.AllTagTypes()
	out := make([]TagTypeDTO, len(types))
	for i, t := range types {
		blocked := []string{}
		for _, b := range guard.Excludes(t) {
			blocked = append(blocked, string(b))
		}
		out[i] = TagTypeDTO{Type: string(t), Name: t.DisplayName(), BlockedBy: blocked}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func profileParam(r *http.Request) generic.ProfileID {
	return generic.ProfileID(chi.URLParam(r, "profile"))
}

func dateParam(w http.ResponseWriter, r *http.Request, name string) (generic.TimePoint, bool) {
	tp, err := generic.ParseDate(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return generic.TimePoint{}, false
	}
	return tp, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) asOf(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.FromTime(h.Now()), nil
	}
	return generic.ParseDate(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var (
		conflict  *generic.ConflictError
		capacity  *generic.CapacityError
		integrity *generic.IntegrityError
		notFound  *generic.NotFoundError
	)
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: conflict.Reason, Code: "conflict", Details: map[string]string{
			"date": conflict.Date.String(), "tag": conflict.Tag, "existing": conflict.Existing,
		}})
	case errors.As(err, &capacity):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "insufficient guard balance", Code: "capacity", Details: map[string]int{
			"requested": capacity.Requested, "available": capacity.Available, "shortfall": capacity.Shortfall,
		}})
	case errors.As(err, &integrity):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: integrity.Reason, Code: "integrity", Details: map[string]any{
			"ref": integrity.Ref, "dependents": integrity.Dependents,
		}})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: notFound.Error(), Code: "not_found"})
	case generic.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid"})
	default:
		h.Log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
