/*
scheduler.go - Periodic ledger integrity sweep

PURPOSE:
  Periodically reconciles every profile: free-day ordinals are renumbered
  where they drifted and debits pointing at a missing guard credit are
  reported. Manual reconciliation is POST /api/profiles/{profile}/reconcile.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps run immediately on start, then on every tick
  - One failing profile does not stop the sweep
  - The last sweep's reports are kept for inspection

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - guard/reconcile.go: Engine.Reconcile
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/guard-ledger/guard"
)

// ReconciliationScheduler handles the automated integrity sweep.
type ReconciliationScheduler struct {
	Engine        *guard.Engine
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun time.Time
	last    []guard.ReconcileReport
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(engine *guard.Engine, log zerolog.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info().Msg("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.Log.Info().Dur("interval", rs.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Log.Info().Msg("stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	rs.RunNow(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow sweeps every profile once and returns the reports of the profiles
// that reconciled successfully.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) []guard.ReconcileReport {
	profiles, err := rs.Engine.Profiles(ctx)
	if err != nil {
		rs.Log.Error().Err(err).Msg("failed to list profiles")
		return nil
	}

	var (
		reports   []guard.ReconcileReport
		rewritten int
		failed    int
	)
	for _, p := range profiles {
		rep, err := rs.Engine.Reconcile(ctx, p)
		if err != nil {
			failed++
			rs.Log.Error().Err(err).Str("profile", string(p)).Msg("reconciliation failed")
			continue
		}
		rewritten += rep.Rewritten
		reports = append(reports, rep)
	}

	rs.lastMu.Lock()
	rs.lastRun = time.Now()
	rs.last = reports
	rs.lastMu.Unlock()

	if rewritten > 0 || failed > 0 {
		rs.Log.Info().Int("profiles", len(profiles)).Int("rewritten", rewritten).Int("failed", failed).Msg("sweep completed")
	}
	return reports
}

// LastRun returns when the last sweep finished and its reports.
func (rs *ReconciliationScheduler) LastRun() (time.Time, []guard.ReconcileReport) {
	rs.lastMu.Lock()
	defer rs.lastMu.Unlock()
	return rs.lastRun, append([]guard.ReconcileReport(nil), rs.last...)
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	rs.lastMu.Lock()
	defer rs.lastMu.Unlock()
	if rs.lastRun.IsZero() {
		return time.Now()
	}
	return rs.lastRun.Add(rs.CheckInterval)
}

// SchedulerStatusResponse is the body of GET /api/reconciliation.
type SchedulerStatusResponse struct {
	Enabled  bool                    `json:"enabled"`
	Interval string                  `json:"interval"`
	LastRun  *time.Time              `json:"last_run,omitempty"`
	NextRun  time.Time               `json:"next_run"`
	Reports  []guard.ReconcileReport `json:"reports"`
}

// SchedulerStatus reports the last sweep.
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler not running", nil)
		return
	}
	last, reports := h.Scheduler.LastRun()
	resp := SchedulerStatusResponse{
		Enabled:  h.Scheduler.Enabled,
		Interval: h.Scheduler.CheckInterval.String(),
		NextRun:  h.Scheduler.GetNextRunTime(),
		Reports:  reports,
	}
	if !last.IsZero() {
		resp.LastRun = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunReconciliation triggers a sweep over every profile.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler not running", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.RunNow(r.Context()))
}
