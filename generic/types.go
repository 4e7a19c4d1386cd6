/*
Package generic provides the storage, time and error primitives the guard
ledger is built on.

PURPOSE:
  Nothing in here knows about guard duty. It defines:
  - TimePoint: a calendar day, plus the monotonic Clock used to order ledger rows
  - ProfileID: whose calendar a record belongs to
  - Record / RecordStore: the key-value collaborator the domain persists through
  - AuditEntry / AuditSink: the fire-and-forget audit hook
  - The business error taxonomy (errors.go)

DESIGN PRINCIPLES:
  1. Derived state is never stored: balances are folded from records on demand
  2. Validation happens before any write; the store only ever sees valid data
  3. Multi-record writes go through TxStore.WithTx so they land together

SEE ALSO:
  - store.go: RecordStore and TxStore interfaces
  - errors.go: ConflictError, CapacityError, IntegrityError, NotFoundError
  - guard/: the domain built on top of this package
*/
package generic

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProfileID string

// =============================================================================
// RECORD - Unit of persistence
// =============================================================================

// Record is one row of a named store. Body holds the JSON encoding of the
// domain value; Index holds the secondary index values it can be found by.
type Record struct {
	Key   string
	Index map[string]string
	Body  json.RawMessage
}

// NewRecord marshals v into a record body.
func NewRecord(key string, index map[string]string, v any) (Record, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Index: index, Body: body}, nil
}

// Decode unmarshals the record body into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// =============================================================================
// AUDIT - Fire-and-forget trail of successful mutations
// =============================================================================

type AuditAction string

const (
	AuditTagUpserted      AuditAction = "tag_upserted"
	AuditTagRemoved       AuditAction = "tag_removed"
	AuditDayCleared       AuditAction = "day_cleared"
	AuditGuardWeekMarked  AuditAction = "guard_week_marked"
	AuditGuardCompleted   AuditAction = "guard_week_completed"
	AuditGuardWeekRemoved AuditAction = "guard_week_removed"
	AuditFreeDaysBooked   AuditAction = "free_days_booked"
	AuditOtherRecorded    AuditAction = "other_recorded"
	AuditManualAdjust     AuditAction = "manual_adjustment"
	AuditMovementRemoved  AuditAction = "movement_removed"
	AuditReindexed        AuditAction = "reindexed"
)

// AuditEntry records what happened and when.
type AuditEntry struct {
	ProfileID ProfileID      `json:"profile_id"`
	Action    AuditAction    `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditSink receives audit entries. Implementations must not block for long;
// callers ignore the outcome.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// NopAuditSink drops everything.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEntry) {}
