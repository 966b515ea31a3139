// Package memstore is an in-process ledger.Store with optimistic concurrency.
//
// A transaction reads committed state, buffers its writes and validates at
// commit that every material it read is still at the version it saw. A
// mismatch aborts the whole transaction with ledger.ErrConflict.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/ledger"
)

type logKey struct {
	t  logs.Type
	id string
}

type Store struct {
	mu        sync.Mutex
	materials map[string]materials.Material
	logs      map[logKey]logs.Entry
}

func New() *Store {
	return &Store{
		materials: make(map[string]materials.Material),
		logs:      make(map[logKey]logs.Entry),
	}
}

// PutMaterial seeds or replaces a material outside any transaction.
func (s *Store) PutMaterial(m materials.Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materials[m.ID] = m
}

func (s *Store) GetMaterial(id string) (materials.Material, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.materials[id]
	return m, ok
}

// Logs returns the committed logs of one type for a material, ordered by id.
func (s *Store) Logs(t logs.Type, materialID string) []logs.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []logs.Entry
	for k, e := range s.logs {
		if k.t == t && e.MaterialID == materialID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	tx := &tx{
		s:       s,
		read:    make(map[string]int64),
		pending: make(map[string]pendingAggregate),
		puts:    make(map[logKey]logs.Entry),
		deletes: make(map[logKey]struct{}),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type pendingAggregate struct {
	version   int64
	delivered decimal.Decimal
	issued    decimal.Decimal
}

type tx struct {
	s       *Store
	read    map[string]int64
	pending map[string]pendingAggregate
	puts    map[logKey]logs.Entry
	deletes map[logKey]struct{}
}

func (t *tx) Material(_ context.Context, id string) (materials.Material, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	m, ok := t.s.materials[id]
	if !ok {
		return materials.Material{}, ledger.ErrMaterialNotFound
	}
	t.read[id] = m.Version
	return m, nil
}

func (t *tx) Log(_ context.Context, lt logs.Type, id string) (logs.Entry, error) {
	k := logKey{lt, id}
	if _, gone := t.deletes[k]; gone {
		return logs.Entry{}, ledger.ErrLogNotFound
	}
	if e, ok := t.puts[k]; ok {
		return e, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	e, ok := t.s.logs[k]
	if !ok {
		return logs.Entry{}, ledger.ErrLogNotFound
	}
	return e, nil
}

func (t *tx) exists(k logKey) bool {
	if _, gone := t.deletes[k]; gone {
		return false
	}
	if _, ok := t.puts[k]; ok {
		return true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	_, ok := t.s.logs[k]
	return ok
}

func (t *tx) InsertLog(_ context.Context, e logs.Entry) error {
	k := logKey{e.Type, e.ID}
	if t.exists(k) {
		return fmt.Errorf("memstore: log %s %s already exists", e.Type, e.ID)
	}
	delete(t.deletes, k)
	t.puts[k] = e
	return nil
}

func (t *tx) UpdateLog(_ context.Context, e logs.Entry) error {
	k := logKey{e.Type, e.ID}
	if !t.exists(k) {
		return ledger.ErrLogNotFound
	}
	t.puts[k] = e
	return nil
}

func (t *tx) DeleteLog(_ context.Context, lt logs.Type, id string) error {
	k := logKey{lt, id}
	if !t.exists(k) {
		return ledger.ErrLogNotFound
	}
	delete(t.puts, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *tx) SetAggregate(_ context.Context, materialID string, version int64, delivered, issued decimal.Decimal) error {
	t.s.mu.Lock()
	m, ok := t.s.materials[materialID]
	t.s.mu.Unlock()
	if !ok {
		return ledger.ErrMaterialNotFound
	}
	if m.Version != version {
		return ledger.ErrConflict
	}
	t.pending[materialID] = pendingAggregate{version: version, delivered: delivered, issued: issued}
	return nil
}

func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, version := range t.read {
		if m, ok := t.s.materials[id]; !ok || m.Version != version {
			return ledger.ErrConflict
		}
	}
	for id, p := range t.pending {
		if m, ok := t.s.materials[id]; !ok || m.Version != p.version {
			return ledger.ErrConflict
		}
	}

	now := time.Now()
	for id, p := range t.pending {
		m := t.s.materials[id]
		m.Delivered, m.Issued = p.delivered, p.issued
		m.Version = p.version + 1
		m.UpdatedAt = now
		t.s.materials[id] = m
	}
	for k := range t.deletes {
		delete(t.s.logs, k)
	}
	for k, e := range t.puts {
		t.s.logs[k] = e
	}
	return nil
}
