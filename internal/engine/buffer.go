package engine

import (
	"sync"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
)

// Staged is one buffered mutation awaiting persistence.
type Staged struct {
	Entity entity.Entity

	// StagedAt is when the mutation entered the buffer.
	StagedAt time.Time

	// Attempts counts failed persistence attempts.
	Attempts int

	// LastErr is the diagnostic from the most recent failed attempt.
	LastErr string
}

// ChangeBuffer stages not-yet-persisted mutations, keyed by entity ID
// within each entity kind.
//
// The buffer never holds two staged mutations for one ID: a later Stage
// overwrites the earlier one, so only the latest local value is
// persisted (last-stage-wins). Safe for concurrent use.
type ChangeBuffer struct {
	mu    sync.Mutex
	kinds map[entity.Kind]map[string]*Staged
}

// NewChangeBuffer creates an empty buffer.
func NewChangeBuffer() *ChangeBuffer {
	return &ChangeBuffer{
		kinds: make(map[entity.Kind]map[string]*Staged),
	}
}

// Stage buffers a mutation, overwriting any prior staged value for the
// same ID. A fresh stage resets the failure bookkeeping: a corrected
// value starts over with zero attempts.
func (b *ChangeBuffer) Stage(ent entity.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind := ent.EntityKind()
	if b.kinds[kind] == nil {
		b.kinds[kind] = make(map[string]*Staged)
	}
	b.kinds[kind][ent.EntityID()] = &Staged{
		Entity:   ent,
		StagedAt: time.Now(),
	}
}

// DrainSnapshot atomically copies and clears the staged set for one
// entity kind. A Stage racing with the drain either lands in the
// snapshot or remains buffered for the next cycle, never both.
func (b *ChangeBuffer) DrainSnapshot(kind entity.Kind) []*Staged {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.kinds[kind]
	if len(m) == 0 {
		return nil
	}

	snapshot := make([]*Staged, 0, len(m))
	for _, st := range m {
		snapshot = append(snapshot, st)
	}
	delete(b.kinds, kind)

	return snapshot
}

// Restage returns a failed entry to the buffer for the next cycle.
//
// If a newer mutation for the same ID was staged while the entry was
// being processed, the newer value wins and the failed entry is dropped.
func (b *ChangeBuffer) Restage(st *Staged) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind := st.Entity.EntityKind()
	id := st.Entity.EntityID()

	if b.kinds[kind] == nil {
		b.kinds[kind] = make(map[string]*Staged)
	}
	if _, exists := b.kinds[kind][id]; exists {
		return
	}
	b.kinds[kind][id] = st
}

// Remove drops any staged mutation for the given identity. Used by the
// single-entity fast path once it has persisted the value directly.
func (b *ChangeBuffer) Remove(kind entity.Kind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m := b.kinds[kind]; m != nil {
		delete(m, id)
	}
}

// PendingCount returns the total number of staged mutations.
func (b *ChangeBuffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, m := range b.kinds {
		total += len(m)
	}
	return total
}

// PendingForKind returns the number of staged mutations for one kind.
func (b *ChangeBuffer) PendingForKind(kind entity.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.kinds[kind])
}

// PendingDiagnostics returns the diagnostics attached to staged entries
// that have failed at least once, for status surfaces.
func (b *ChangeBuffer) PendingDiagnostics() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	diags := make(map[string]string)
	for kind, m := range b.kinds {
		for id, st := range m {
			if st.LastErr != "" {
				diags[kind.String()+"/"+id] = st.LastErr
			}
		}
	}
	return diags
}
