/*
store.go - Persistence interface for day records and ledger movements

PURPOSE:
  Defines the boundary between the domain and durable storage. The store is
  a plain keyed record store with secondary indexes; it knows nothing about
  tags, guard accounts or balances.

KEY INTERFACES:
  RecordStore: get/put/remove by key, full scans, index lookups
  TxStore:     RecordStore plus WithTx for all-or-nothing multi-record writes

STORES USED BY THE DOMAIN:
  days:   one record per (profile, date), indexed by profile
  ledger: one record per movement, indexed by profile and source_ref

ATOMIC UNITS OF WORK:
  Marking a guard week writes seven day records and one ledger movement.
  WithTx guarantees a crash cannot leave some of them behind.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, real database transactions
  - generic/store/memory.go: in-memory, snapshot + restore on error

SEE ALSO:
  - guard/days.go, guard/ledger.go: the only writers
*/
package generic

import "context"

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore persists records grouped into named stores.
// Get returns (nil, nil) when the key does not exist.
type RecordStore interface {
	GetAll(ctx context.Context, store string) ([]Record, error)
	Get(ctx context.Context, store, key string) (*Record, error)
	Put(ctx context.Context, store string, record Record) error
	Remove(ctx context.Context, store, key string) error
	GetAllByIndex(ctx context.Context, store, index, value string) ([]Record, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps RecordStore with transaction support.
type TxStore interface {
	RecordStore

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed store is undone.
	WithTx(ctx context.Context, fn func(RecordStore) error) error
}
