// Package store provides RecordStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/guard-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	stores map[string]map[string]generic.Record
}

func NewMemory() *Memory {
	return &Memory{stores: make(map[string]map[string]generic.Record)}
}

func (m *Memory) GetAll(_ context.Context, store string) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAllLocked(store, "", ""), nil
}

func (m *Memory) Get(_ context.Context, store, key string) (*generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(store, key), nil
}

func (m *Memory) Put(_ context.Context, store string, record generic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(store, record)
	return nil
}

func (m *Memory) Remove(_ context.Context, store, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores[store], key)
	return nil
}

func (m *Memory) GetAllByIndex(_ context.Context, store, index, value string) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAllLocked(store, index, value), nil
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = make(map[string]map[string]generic.Record)
	return nil
}

func (m *Memory) getLocked(store, key string) *generic.Record {
	r, ok := m.stores[store][key]
	if !ok {
		return nil
	}
	c := cloneRecord(r)
	return &c
}

func (m *Memory) putLocked(store string, record generic.Record) {
	s, ok := m.stores[store]
	if !ok {
		s = make(map[string]generic.Record)
		m.stores[store] = s
	}
	s[record.Key] = cloneRecord(record)
}

// getAllLocked returns records ordered by key; an empty index matches everything.
func (m *Memory) getAllLocked(store, index, value string) []generic.Record {
	var result []generic.Record
	for _, r := range m.stores[store] {
		if index != "" && r.Index[index] != value {
			continue
		}
		result = append(result, cloneRecord(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

func cloneRecord(r generic.Record) generic.Record {
	c := generic.Record{Key: r.Key, Body: append([]byte(nil), r.Body...)}
	if r.Index != nil {
		c.Index = make(map[string]string, len(r.Index))
		for k, v := range r.Index {
			c.Index[k] = v
		}
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.RecordStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.stores = snapshot
		return err
	}
	return nil
}

func (m *Memory) snapshot() map[string]map[string]generic.Record {
	c := make(map[string]map[string]generic.Record, len(m.stores))
	for name, s := range m.stores {
		cs := make(map[string]generic.Record, len(s))
		for k, r := range s {
			cs[k] = r
		}
		c[name] = cs
	}
	return c
}

// txMemoryView runs against the parent while its lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetAll(_ context.Context, store string) ([]generic.Record, error) {
	return tv.parent.getAllLocked(store, "", ""), nil
}

func (tv *txMemoryView) Get(_ context.Context, store, key string) (*generic.Record, error) {
	return tv.parent.getLocked(store, key), nil
}

func (tv *txMemoryView) Put(_ context.Context, store string, record generic.Record) error {
	tv.parent.putLocked(store, record)
	return nil
}

func (tv *txMemoryView) Remove(_ context.Context, store, key string) error {
	delete(tv.parent.stores[store], key)
	return nil
}

func (tv *txMemoryView) GetAllByIndex(_ context.Context, store, index, value string) ([]generic.Record, error) {
	return tv.parent.getAllLocked(store, index, value), nil
}

// Compile-time check
var _ generic.TxStore = (*Memory)(nil)
