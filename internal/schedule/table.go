// Package schedule holds the in-memory table of scheduled commands shared
// between the operator-facing API and the dispatcher.
package schedule

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"rconflow/internal/domain"
	"rconflow/internal/recur"
)

var ErrEmptyCommand = errors.New("schedule: command text is empty")

// Entry is one persisted unit of work: a command plus its recurrence rule
// and the next instant it should fire. The structured rule is the source
// of truth; the label is only a projection for display.
type Entry struct {
	ID        string
	Command   string
	Rule      recur.Rule
	NextFire  time.Time
	CreatedAt time.Time
}

func (e Entry) View() domain.EntryView {
	return domain.EntryView{ID: e.ID, Command: e.Command, Label: e.Rule.Label(), NextFire: e.NextFire}
}

// Table is the mutex-guarded entry collection. Iteration order is
// insertion order, kept stable so fires within a tick are deterministic.
type Table struct {
	mu      sync.Mutex
	entries []*Entry
}

func NewTable() *Table {
	return &Table{}
}

// Add registers a command with the given rule and computes its first fire
// time strictly after now.
func (t *Table) Add(command string, rule recur.Rule, now time.Time) (domain.EntryView, error) {
	if command == "" {
		return domain.EntryView{}, ErrEmptyCommand
	}
	e := &Entry{
		ID:        "ent_" + uuid.NewString(),
		Command:   command,
		Rule:      rule,
		NextFire:  rule.Next(now),
		CreatedAt: now.UTC(),
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e.View(), nil
}

// Restore re-registers a persisted entry under its original id. The next
// fire time is always recomputed; it is never trusted from storage.
func (t *Table) Restore(id, command string, rule recur.Rule, now time.Time) (domain.EntryView, error) {
	if command == "" {
		return domain.EntryView{}, ErrEmptyCommand
	}
	e := &Entry{
		ID:        id,
		Command:   command,
		Rule:      rule,
		NextFire:  rule.Next(now),
		CreatedAt: now.UTC(),
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e.View(), nil
}

// Remove deletes the entry; it reports whether the id was present.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Due returns copies of every entry whose next fire time is at or before
// now, in insertion order. Copies, so the dispatcher can work through them
// while the operator keeps mutating the table.
func (t *Table) Due(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var due []Entry
	for _, e := range t.entries {
		if !e.NextFire.After(now) {
			due = append(due, *e)
		}
	}
	return due
}

// Advance moves the entry's next fire time forward. A no-op if the entry
// was removed while its command was in flight.
func (t *Table) Advance(id string, next time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.ID == id {
			e.NextFire = next
			return
		}
	}
}

// Snapshot lists every entry for display, in insertion order.
func (t *Table) Snapshot() []domain.EntryView {
	t.mu.Lock()
	defer t.mu.Unlock()
	views := make([]domain.EntryView, 0, len(t.entries))
	for _, e := range t.entries {
		views = append(views, e.View())
	}
	return views
}

// Entries returns copies of the full table, for persistence.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
