package normalize

import (
	"github.com/agentboard/agentboard/internal/entry"
)

// Context is the per-session state normalization decisions depend on: which
// entry ids have been emitted, which tool invocations still await a result,
// and whether the session id has been surfaced. It is owned by exactly one
// session and is only ever mutated through Observe.
type Context struct {
	emitted       map[string]struct{}
	pendingTools  map[string]*entry.Entry
	sessionIDSeen bool
}

// NewContext returns an empty normalization context.
func NewContext() *Context {
	return &Context{
		emitted:      make(map[string]struct{}),
		pendingTools: make(map[string]*entry.Entry),
	}
}

// Emitted reports whether an entry with this id has already been introduced.
// Once true, the same id must route to entry-update, never entry.
func (c *Context) Emitted(id string) bool {
	_, ok := c.emitted[id]
	return ok
}

// PendingToolUse returns the in-flight tool-use entry for a call id, if the
// tool use was observed this run.
func (c *Context) PendingToolUse(callID string) (*entry.Entry, bool) {
	e, ok := c.pendingTools[callID]
	return e, ok
}

// SessionIDSurfaced reports whether the engine's session id was already
// emitted this session.
func (c *Context) SessionIDSurfaced() bool {
	return c.sessionIDSeen
}

// Observe applies a normalization event's bookkeeping consequences. The
// orchestrator calls this for every event a normalizer returns; normalizers
// themselves never touch the context.
func (c *Context) Observe(ev Event) {
	switch ev := ev.(type) {
	case EntryEvent:
		c.emitted[ev.Entry.ID] = struct{}{}
		if ev.Entry.Type == entry.TypeToolUse && ev.Entry.Tool != nil && ev.Entry.Tool.Output == nil {
			c.pendingTools[ev.Entry.ID] = ev.Entry
		}
	case EntryUpdateEvent:
		c.emitted[ev.Entry.ID] = struct{}{}
		if ev.Entry.Type == entry.TypeToolUse && ev.Entry.Tool != nil && ev.Entry.Tool.Output != nil {
			delete(c.pendingTools, ev.Entry.ID)
		}
	case SessionIDEvent:
		c.sessionIDSeen = true
	}
}
