// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JournalEntry records one side-effecting tool invocation.
type JournalEntry struct {
	ID         string
	SessionID  string
	AgentID    string
	ToolName   string
	ActionType string
	Before     map[string]any
	After      map[string]any
	Reversible bool
	Reversed   bool
	Timestamp  time.Time
	Actor      string
}

// JournalStore is the journal slice of the persistence port (spec §6:
// writeJournalEntry/markReversed). The journal is append-only: MarkReversed
// writes a flag flip, it never deletes.
type JournalStore interface {
	WriteJournalEntry(ctx context.Context, entry JournalEntry) error
	MarkReversed(ctx context.Context, entryID string) error
	GetJournalEntry(ctx context.Context, entryID string) (JournalEntry, error)
}

// RollbackFunc re-invokes a tool handler's declared inverse operation for a
// reversible JournalEntry.
type RollbackFunc func(ctx context.Context, entry JournalEntry) error

// Journal records tool invocations and drives rollback. Rolling back an
// already-reversed entry is a no-op (spec §8 rollback idempotence law).
type Journal struct {
	store JournalStore

	mu       sync.Mutex
	rollback map[string]RollbackFunc
}

func NewJournal(store JournalStore) *Journal {
	return &Journal{store: store, rollback: make(map[string]RollbackFunc)}
}

// Record writes entry and, if reversible, remembers how to roll it back.
func (j *Journal) Record(ctx context.Context, entry JournalEntry, inverse RollbackFunc) (JournalEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Reversed && !entry.Reversible {
		return JournalEntry{}, fmt.Errorf("governance: cannot record reversed=true on an irreversible entry")
	}

	if err := j.store.WriteJournalEntry(ctx, entry); err != nil {
		return JournalEntry{}, fmt.Errorf("governance: write journal entry: %w", err)
	}

	if entry.Reversible && inverse != nil {
		j.mu.Lock()
		j.rollback[entry.ID] = inverse
		j.mu.Unlock()
	}
	return entry, nil
}

// Rollback re-invokes the inverse operation for entryID and marks it
// reversed. It is an error to roll back an irreversible entry, and a no-op
// (returns nil without re-invoking the inverse) to roll back one already
// reversed.
func (j *Journal) Rollback(ctx context.Context, entryID string) error {
	entry, err := j.store.GetJournalEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("governance: load journal entry %s: %w", entryID, err)
	}
	if !entry.Reversible {
		return fmt.Errorf("governance: journal entry %s is not reversible", entryID)
	}
	if entry.Reversed {
		return nil
	}

	j.mu.Lock()
	inverse := j.rollback[entryID]
	j.mu.Unlock()

	if inverse != nil {
		if err := inverse(ctx, entry); err != nil {
			return fmt.Errorf("governance: rollback handler for %s: %w", entryID, err)
		}
	}
	return j.store.MarkReversed(ctx, entryID)
}

// MemoryJournalStore is the in-memory reference JournalStore.
type MemoryJournalStore struct {
	mu      sync.Mutex
	entries map[string]JournalEntry
}

func NewMemoryJournalStore() *MemoryJournalStore {
	return &MemoryJournalStore{entries: make(map[string]JournalEntry)}
}

func (m *MemoryJournalStore) WriteJournalEntry(_ context.Context, entry JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

func (m *MemoryJournalStore) MarkReversed(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return fmt.Errorf("governance: unknown journal entry %s", entryID)
	}
	e.Reversed = true
	m.entries[entryID] = e
	return nil
}

func (m *MemoryJournalStore) GetJournalEntry(_ context.Context, entryID string) (JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return JournalEntry{}, fmt.Errorf("governance: unknown journal entry %s", entryID)
	}
	return e, nil
}

var _ JournalStore = (*MemoryJournalStore)(nil)
