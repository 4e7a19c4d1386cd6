package guard

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/guard-ledger/generic"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_ledger_operations_total",
		Help: "Engine operations by name and outcome.",
	}, []string{"operation", "outcome"})

	movementsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_ledger_movements_created_total",
		Help: "Ledger movements written, by kind and category.",
	}, []string{"kind", "category"})

	movementsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guard_ledger_movements_removed_total",
		Help: "Ledger movements hard-deleted by rollbacks.",
	})

	ordinalsRewritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guard_ledger_ordinals_rewritten_total",
		Help: "Free-day tags whose ordinal was rewritten by a reindex.",
	})
)

// outcome classifies err for the operations counter.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, generic.ErrConflict):
		return "conflict"
	case errors.Is(err, generic.ErrCapacity):
		return "capacity"
	case errors.Is(err, generic.ErrIntegrity):
		return "integrity"
	case errors.Is(err, generic.ErrNotFound):
		return "not_found"
	case generic.IsClientError(err):
		return "invalid"
	default:
		return "error"
	}
}

func observe(op string, err error) {
	operationsTotal.WithLabelValues(op, outcome(err)).Inc()
}

func countCreated(m Movement) {
	movementsCreated.WithLabelValues(string(m.Kind), string(m.Category)).Inc()
}
