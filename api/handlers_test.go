/*
handlers_test.go - HTTP tests for the guard ledger API

Drives the chi router end to end over an in-memory store:
- status codes for each error class
- guard week marking, free-day booking, counters
- rollback and reindex through DELETE
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/guard-ledger/generic"
	"github.com/warp/guard-ledger/generic/store"
	"github.com/warp/guard-ledger/guard"
	"github.com/warp/guard-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testAPI struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func tickingNow() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestAPIOn(t *testing.T, st generic.TxStore, sinks ...generic.AuditSink) *testAPI {
	t.Helper()
	engine := guard.NewEngine(st, guard.DefaultConfig(),
		guard.WithAuditSink(guard.MultiAuditSink(sinks)),
		guard.WithNow(tickingNow()),
		guard.WithLogger(zerolog.Nop()),
	)
	h := NewHandler(engine, st, zerolog.Nop())
	h.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return &testAPI{t: t, handler: h, router: NewRouter(h, nil)}
}

func newTestAPI(t *testing.T) *testAPI {
	return newTestAPIOn(t, store.NewMemory())
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const base = "/api/profiles/alice"

func (a *testAPI) markGuard(week string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, base+"/guards", MarkGuardRequest{WeekStart: week})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) counters() CountersResponse {
	a.t.Helper()
	rec := a.do(http.MethodGet, base+"/counters?as_of=2025-06-01", nil)
	require.Equal(a.t, http.StatusOK, rec.Code)
	return decode[CountersResponse](a.t, rec)
}

// =============================================================================
// DAYS
// =============================================================================

func TestUpsertTag_PlainTag(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPut, base+"/days/2025-03-10/tags", UpsertTagRequest{Type: "training"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	day := decode[DayDTO](t, rec)
	assert.Equal(t, "2025-03-10", day.Date)
	require.Len(t, day.Tags, 1)
	assert.Equal(t, "TRAINING", day.Tags[0].Type)

	rec = api.do(http.MethodGet, base+"/days?from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]DayDTO](t, rec), 1)
}

func TestUpsertTag_ConflictIs409(t *testing.T) {
	// GIVEN: a completed guard week
	api := newTestAPI(t)
	api.markGuard("2025-02-03")

	// WHEN: vacation is tagged inside it
	rec := api.do(http.MethodPut, base+"/days/2025-02-05/tags", UpsertTagRequest{Type: "VACATION"})

	// THEN: conflict with the blocking tag in the details
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "conflict", resp.Code)
	assert.Equal(t, "GUARD_DONE", resp.Details.(map[string]any)["existing"])
}

func TestUpsertTag_LedgerMetaIs409(t *testing.T) {
	// GIVEN: a guard week with one booked free day
	api := newTestAPI(t)
	api.markGuard("2025-02-03")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/free-days", FreeDaysRequest{Dates: []string{"2025-03-03"}}).Code)

	// WHEN: a FREE_DAY carrying a guard link is written through the tag endpoint
	rec := api.do(http.MethodPut, base+"/days/2025-03-04/tags", UpsertTagRequest{
		Type: "FREE_DAY",
		Meta: map[string]any{"guardRef": "G.2025-02-03", "ordinal": "D.1"},
	})

	// THEN: it is refused and the day stays empty
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Code)
	day := decode[DayDTO](t, api.do(http.MethodGet, base+"/days/2025-03-04", nil))
	assert.Empty(t, day.Tags)
	assert.Equal(t, 1, api.counters().UsedFree)
}

func TestListTagTypes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/api/tag-types", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	types := decode[[]TagTypeDTO](t, rec)
	require.Len(t, types, len(guard.AllTagTypes()))
	byType := make(map[string]TagTypeDTO, len(types))
	for _, tt := range types {
		byType[tt.Type] = tt
	}
	assert.Equal(t, "free day", byType["FREE_DAY"].Name)
	assert.ElementsMatch(t, []string{"GUARD_DONE", "GUARD_PLANNED", "VACATION"}, byType["FREE_DAY"].BlockedBy)
	assert.Empty(t, byType["TRAINING"].BlockedBy)
}

func TestUpsertTag_BadInput(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, base+"/days/2025-13-01/tags", UpsertTagRequest{Type: "VACATION"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, base+"/days/2025-03-10/tags", UpsertTagRequest{Type: "HOLIDAY"}).Code)

	req := httptest.NewRequest(http.MethodPut, base+"/days/2025-03-10/tags", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveDay_EmptyIs404(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodDelete, base+"/days/2025-03-10", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// GUARDS AND FREE DAYS
// =============================================================================

func TestFreeDays_BookAndCount(t *testing.T) {
	// GIVEN: one guard week worth 5 days
	api := newTestAPI(t)
	api.markGuard("2025-02-03")

	// WHEN: two free days are requested
	rec := api.do(http.MethodPost, base+"/free-days", FreeDaysRequest{Dates: []string{"2025-02-18", "2025-02-17"}})

	// THEN: they are drawn from G.03/02 in date order
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[[]AssignmentDTO](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, AssignmentDTO{Date: "2025-02-17", Guard: "G.03/02", Ref: "G.2025-02-03", Ordinal: "D.1"}, got[0])
	assert.Equal(t, "D.2", got[1].Ordinal)

	c := api.counters()
	assert.Equal(t, "2025-06-01", c.AsOf)
	assert.Equal(t, 3, c.AccumulatedFree)
	assert.Equal(t, 2, c.UsedFree)
	assert.Equal(t, 1, c.GuardsDone)

	rec = api.do(http.MethodGet, base+"/guards/available", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode[AvailableGuardResponse](t, rec)
	assert.True(t, avail.Available)
	assert.Equal(t, 3, avail.Remaining)
}

func TestFreeDays_ShortfallIs422(t *testing.T) {
	api := newTestAPI(t)
	api.markGuard("2025-02-03")

	rec := api.do(http.MethodPost, base+"/free-days", FreeDaysRequest{Dates: []string{
		"2025-03-03", "2025-03-04", "2025-03-05", "2025-03-06", "2025-03-07", "2025-03-10",
	}})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "capacity", resp.Code)
	assert.EqualValues(t, 1, resp.Details.(map[string]any)["shortfall"])

	// Nothing was booked.
	rec = api.do(http.MethodGet, base+"/ledger", nil)
	assert.Len(t, decode[[]MovementDTO](t, rec), 1)
}

func TestFreeDays_EmptyRequestIs400(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, base+"/free-days", FreeDaysRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveGuard_WithDebitsIs409(t *testing.T) {
	// GIVEN: a guard week with a free day drawn from it
	api := newTestAPI(t)
	api.markGuard("2025-02-03")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/free-days", FreeDaysRequest{Dates: []string{"2025-02-17"}}).Code)

	// WHEN: the guard tag is removed
	rec := api.do(http.MethodDelete, base+"/days/2025-02-04/tags/GUARD_DONE", nil)

	// THEN: integrity violation
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "integrity", decode[ErrorResponse](t, rec).Code)
}

func TestRemoveFreeDay_Reindexes(t *testing.T) {
	// GIVEN: D.1..D.3 on G.27/01
	api := newTestAPI(t)
	api.markGuard("2025-01-27")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/free-days", FreeDaysRequest{
		Dates: []string{"2025-02-04", "2025-02-05", "2025-02-06"},
	}).Code)

	// WHEN: the middle day is cleared
	rec := api.do(http.MethodDelete, base+"/days/2025-02-05", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[guard.RollbackResult](t, rec)
	assert.Equal(t, 1, res.RemovedMovements)
	assert.Equal(t, 1, res.Reindexed)

	// THEN: the last day becomes D.2
	rec = api.do(http.MethodGet, base+"/days/2025-02-06", nil)
	day := decode[DayDTO](t, rec)
	require.Len(t, day.Tags, 1)
	assert.Equal(t, "D.2", day.Tags[0].Meta["ordinal"])

	rec = api.do(http.MethodGet, base+"/guards", nil)
	details := decode[[]guard.GuardDetail](t, rec)
	require.Len(t, details, 1)
	assert.Equal(t, 2, details[0].Used)
}

func TestPlannedWeek_Complete(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, base+"/guards", MarkGuardRequest{WeekStart: "2025-03-03", Planned: true})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, decode[GuardWeekResponse](t, rec).Credit)
	assert.Equal(t, 1, api.counters().GuardsPlanned)

	rec = api.do(http.MethodPost, base+"/guards/2025-03-03/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[GuardWeekResponse](t, rec)
	require.NotNil(t, resp.Credit)
	assert.Equal(t, 5, resp.Credit.Amount)
	assert.Len(t, resp.Days, 7)

	c := api.counters()
	assert.Equal(t, 0, c.GuardsPlanned)
	assert.Equal(t, 1, c.GuardsDone)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, base+"/guards/2025-04-07/complete", nil).Code)
}

func TestReindexGuard_NothingToRewrite(t *testing.T) {
	api := newTestAPI(t)
	api.markGuard("2025-02-03")

	rec := api.do(http.MethodPost, base+"/guards/2025-02-03/reindex", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"rewritten": 0}, decode[map[string]int](t, rec))
}

// =============================================================================
// ADJUSTMENTS AND COUNTERS
// =============================================================================

func TestOtherAndAdjustments(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, base+"/other", OtherDaysRequest{Date: "2025-05-01", Label: "Holiday worked", Amount: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "CREDIT", decode[MovementDTO](t, rec).Kind)

	rec = api.do(http.MethodPost, base+"/adjustments", AdjustmentRequest{Date: "2025-05-02", Amount: -1, Reason: "correction"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adj := decode[MovementDTO](t, rec)

	assert.Equal(t, 1, api.counters().AccumulatedFree)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, base+"/adjustments", AdjustmentRequest{Date: "2025-05-02"}).Code)

	rec = api.do(http.MethodDelete, base+"/ledger/"+adj.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, api.counters().AccumulatedFree)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, base+"/ledger/missing", nil).Code)
}

func TestVerifyCounters(t *testing.T) {
	api := newTestAPI(t)
	api.markGuard("2025-02-03")

	rec := api.do(http.MethodPost, base+"/counters/verify", VerifyRequest{
		AsOf:      "2025-06-01",
		Displayed: guard.Counters{AccumulatedFree: 4, GuardsDone: 1},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[VerifyResponse](t, rec)
	assert.False(t, resp.Consistent)
	assert.Equal(t, 5, resp.Counters.AccumulatedFree)
}

func TestCounters_DefaultAsOfUsesHandlerClock(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, base+"/counters", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[CountersResponse](t, rec)
	assert.Equal(t, "2025-06-01", c.AsOf)
	assert.Equal(t, 22, c.VacationRemaining)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, base+"/counters?as_of=yesterday", nil).Code)
}

func TestProfilesAreIsolated(t *testing.T) {
	api := newTestAPI(t)
	api.markGuard("2025-02-03")

	rec := api.do(http.MethodGet, "/api/profiles/bob/counters?as_of=2025-06-01", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[CountersResponse](t, rec).GuardsDone)
}

// =============================================================================
// AUDIT AND OPERATIONS
// =============================================================================

func TestGetAudit_MemoryStoreIs501(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusNotImplemented, api.do(http.MethodGet, base+"/audit", nil).Code)
}

func TestGetAudit_SQLite(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	api := newTestAPIOn(t, db, db)

	api.markGuard("2025-02-03")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/free-days", FreeDaysRequest{Dates: []string{"2025-02-17"}}).Code)

	rec := api.do(http.MethodGet, base+"/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, string(generic.AuditFreeDaysBooked), entries[0].Action)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, base+"/audit?limit=0", nil).Code)
}

func TestReconcile(t *testing.T) {
	api := newTestAPI(t)
	api.markGuard("2025-02-03")

	rec := api.do(http.MethodPost, base+"/reconcile", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[guard.ReconcileReport](t, rec)
	assert.Equal(t, generic.ProfileID("alice"), rep.ProfileID)
	assert.Equal(t, 1, rep.Accounts)
	assert.Zero(t, rep.Rewritten)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	api.markGuard("2025-02-03")
	rec = api.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guard_ledger_operations_total")
}
