package guard

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/warp/guard-ledger/generic"
)

// LogAuditSink writes audit entries to a zerolog logger.
type LogAuditSink struct {
	Logger zerolog.Logger
}

func (s LogAuditSink) Record(_ context.Context, e generic.AuditEntry) {
	s.Logger.Info().
		Str("profile", string(e.ProfileID)).
		Str("action", string(e.Action)).
		Interface("detail", e.Detail).
		Time("at", e.Timestamp).
		Msg("audit")
}

// MemoryAuditSink keeps entries in memory. Used by tests.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []generic.AuditEntry
}

func (s *MemoryAuditSink) Record(_ context.Context, e generic.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *MemoryAuditSink) Entries() []generic.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]generic.AuditEntry(nil), s.entries...)
}

// MultiAuditSink fans out to several sinks.
type MultiAuditSink []generic.AuditSink

func (m MultiAuditSink) Record(ctx context.Context, e generic.AuditEntry) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}
