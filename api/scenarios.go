/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a realistic
	guard rotation for the "demo" profile. Every scenario goes through the
	engine, so the data obeys the same rules as real traffic.

AVAILABLE SCENARIOS:

	rotation:  two completed guard weeks, free days spread over both, leave
	reindex:   three free days on one account, the middle one removed
	planned:   a planned rotation for the rest of the year, one completed

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Mark guard weeks
 3. Book free days, leave and adjustments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "rotation"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the endpoints the demo data can be inspected with
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/guard-ledger/generic"
	"github.com/warp/guard-ledger/guard"
)

// DemoProfile is the profile every scenario writes to.
const DemoProfile generic.ProfileID = "demo"

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *guard.Engine, p generic.ProfileID) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "rotation",
			Name:        "Guard Rotation",
			Description: "Two completed guard weeks, seven free days drawn FIFO, vacation and personal leave",
		},
		load: loadRotationScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "reindex",
			Name:        "Reindex After Removal",
			Description: "G.27/01 with free days D.1..D.3; the middle one is removed and D.3 becomes D.2",
		},
		load: loadReindexScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "planned",
			Name:        "Planned Rotation",
			Description: "Guard weeks planned every four weeks; the first one completed",
		},
		load: loadPlannedScenario,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := s.load(ctx, h.Engine, DemoProfile); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load scenario %s", s.ID), err)
		return
	}
	h.currentScenario = s.ID
	h.Log.Info().Str("scenario", s.ID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID, "profile": string(DemoProfile)})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func dates(from string, n int) []generic.TimePoint {
	start := generic.MustParseDate(from)
	out := make([]generic.TimePoint, n)
	for i := range out {
		out[i] = start.AddDays(i)
	}
	return out
}

func loadRotationScenario(ctx context.Context, e *guard.Engine, p generic.ProfileID) error {
	for _, week := range []string{"2025-02-03", "2025-03-03"} {
		if _, err := e.MarkGuardWeek(ctx, p, generic.MustParseDate(week), false); err != nil {
			return err
		}
	}
	if _, err := e.RequestFreeDays(ctx, p, dates("2025-04-14", 7)); err != nil {
		return err
	}
	for _, d := range dates("2025-08-04", 10) {
		if _, err := e.UpsertTag(ctx, p, d, guard.Tag{Type: guard.TagVacation}); err != nil {
			return err
		}
	}
	if _, err := e.UpsertTag(ctx, p, generic.MustParseDate("2025-05-16"), guard.Tag{Type: guard.TagPersonalLeave}); err != nil {
		return err
	}
	_, err := e.AddOtherDays(ctx, p, generic.MustParseDate("2025-05-01"), "Holiday worked", 1)
	return err
}

func loadReindexScenario(ctx context.Context, e *guard.Engine, p generic.ProfileID) error {
	if _, err := e.MarkGuardWeek(ctx, p, generic.MustParseDate("2025-01-27"), false); err != nil {
		return err
	}
	if _, err := e.RequestFreeDays(ctx, p, dates("2025-02-04", 3)); err != nil {
		return err
	}
	_, err := e.RemoveAllDayEvents(ctx, p, generic.MustParseDate("2025-02-05"))
	return err
}

func loadPlannedScenario(ctx context.Context, e *guard.Engine, p generic.ProfileID) error {
	start := generic.MustParseDate("2025-01-06")
	for i := 0; i < 12; i++ {
		week := start.AddDays(28 * i)
		if _, err := e.MarkGuardWeek(ctx, p, week, true); err != nil {
			return err
		}
	}
	if _, err := e.CompleteGuardWeek(ctx, p, start); err != nil {
		return err
	}
	_, err := e.RequestFreeDay(ctx, p, generic.MustParseDate("2025-01-20"))
	return err
}
