// Package normalize maps heterogeneous raw engine events onto the canonical
// entry model. One Normalizer exists per backend; all of them are pure: they
// read the per-session Context but never mutate it. The caller applies the
// returned events back onto the context via Context.Observe.
package normalize

import (
	"encoding/json"

	"github.com/agentboard/agentboard/internal/entry"
)

// Normalizer is the per-backend strategy mapping one raw datum to zero or
// more normalization events. Implementations must be side-effect free.
type Normalizer interface {
	Normalize(raw json.RawMessage, ctx *Context) ([]Event, error)
}

// Event is the closed set of normalization outcomes.
type Event interface{ normalizationEvent() }

// EntryEvent introduces a new entry.
type EntryEvent struct {
	Entry *entry.Entry
}

// EntryUpdateEvent patches an already-emitted entry in place, identified by
// its id. The persistence layer overwrites rather than appends.
type EntryUpdateEvent struct {
	Entry *entry.Entry
}

// SessionIDEvent surfaces the engine's resume token, once per session.
type SessionIDEvent struct {
	ID string
}

// CompleteEvent ends the turn.
type CompleteEvent struct {
	IsError      bool
	ErrorMessage string
	CostUSD      float64
	DurationMS   int64
}

// ErrorEvent forwards an engine-reported error that does not end the turn.
type ErrorEvent struct {
	Message string
}

// OrphanToolResultEvent carries a tool result whose call id was never seen
// as a tool use this run (e.g. a resumed session). It stays untyped.
type OrphanToolResultEvent struct {
	CallID  string
	Content string
	IsError bool
}

// PermissionNoticeEvent forwards an informational permission announcement.
type PermissionNoticeEvent struct {
	ToolName string
	Message  string
}

// RateLimitEvent forwards an engine rate-limit notice.
type RateLimitEvent struct {
	Message string
}

func (EntryEvent) normalizationEvent()            {}
func (EntryUpdateEvent) normalizationEvent()      {}
func (SessionIDEvent) normalizationEvent()        {}
func (CompleteEvent) normalizationEvent()         {}
func (ErrorEvent) normalizationEvent()            {}
func (OrphanToolResultEvent) normalizationEvent() {}
func (PermissionNoticeEvent) normalizationEvent() {}
func (RateLimitEvent) normalizationEvent()        {}
