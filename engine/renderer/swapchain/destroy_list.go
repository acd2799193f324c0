package swapchain

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/prism/engine/core"
)

// DestroyEntry is one object owed a destroy call.
type DestroyEntry struct {
	ID    uuid.UUID
	Kind  string
	Label string

	destroy func()
}

// DestroyList records everything created for the current swapchain in creation order and
// tears it down in exactly the reverse order.
type DestroyList struct {
	entries []DestroyEntry
}

// Push registers fn as the destroy call of an object that was just created.
func (l *DestroyList) Push(kind, label string, fn func()) uuid.UUID {
	e := DestroyEntry{ID: uuid.New(), Kind: kind, Label: label, destroy: fn}
	l.entries = append(l.entries, e)
	return e.ID
}

// PushID is Push for objects that already carry an identity.
func (l *DestroyList) PushID(id uuid.UUID, kind, label string, fn func()) {
	l.entries = append(l.entries, DestroyEntry{ID: id, Kind: kind, Label: label, destroy: fn})
}

func (l *DestroyList) Len() int {
	return len(l.entries)
}

// Entries returns the pending entries in creation order.
func (l *DestroyList) Entries() []DestroyEntry {
	out := make([]DestroyEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Teardown pops and runs every entry, newest first, and returns them in the order they ran.
// The device must be idle.
func (l *DestroyList) Teardown() []DestroyEntry {
	ran := make([]DestroyEntry, 0, len(l.entries))
	for len(l.entries) > 0 {
		last := len(l.entries) - 1
		e := l.entries[last]
		l.entries = l.entries[:last]

		core.LogDebug("destroying %s `%s` (%s)", e.Kind, e.Label, e.ID)
		e.destroy()
		ran = append(ran, e)
	}
	return ran
}
