// Package viewportmsg defines every tea.Msg the viewport engine
// produces or consumes. It imports only geometry and rangecache (for
// Range and RangeID) and none of controller, scheduler or scrollstate,
// to avoid import cycles.
package viewportmsg

import (
	"github.com/scrollcore/viewport/geometry"
	"github.com/scrollcore/viewport/rangecache"
)

// -- Produced by ScrollState --

// ScrollMsg reports a new authoritative scroll position, coalesced to
// at most one per render frame.
type ScrollMsg struct {
	Position float64
}

// VelocityChangedMsg carries the SpeedTracker's latest signed
// velocity (pixels/ms) and direction.
type VelocityChangedMsg struct {
	Velocity  float64
	Direction Direction
}

// Direction is the sign of the most recent position delta.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionBackward
)

// IdleMsg fires at most once per continuous scroll gesture, when two
// consecutive frames report the same scroll position.
type IdleMsg struct {
	VisibleRange geometry.Range
}

// ScrollPositionSyncMsg is emitted when the engine itself rewrites the
// scroll position (e.g. after totalItems first arrives and the
// initial-index target must be re-derived under compression) — as
// opposed to ScrollMsg, which reports a user-originated change.
type ScrollPositionSyncMsg struct {
	Position float64
}

// -- Produced by Controller --

// RangeChangedMsg reports a newly-computed visible range.
type RangeChangedMsg struct {
	Range geometry.Range
}

// VirtualSizeChangedMsg reports a new total virtual pixel extent.
type VirtualSizeChangedMsg struct {
	VirtualSize float64
}

// ContainerSizeChangedMsg reports a viewport resize.
type ContainerSizeChangedMsg struct {
	Width, Height int
}

// ItemsRenderedMsg carries the count of elements mounted this frame.
// The Controller does not consume it.
type ItemsRenderedMsg struct {
	Count int
}

// RenderedMsg marks a completed render pass.
type RenderedMsg struct{}

// ItemsChangedMsg reports a mutation to the underlying collection not
// driven by a range load (e.g. an external ItemRemovedMsg).
type ItemsChangedMsg struct{}

// TotalItemsChangedMsg reports a new discovered or dynamic total.
type TotalItemsChangedMsg struct {
	Total uint64
}

// ItemSizeDetectedMsg reports an item size measured by the host; the
// Controller applies the first one it receives when item-size
// auto-detection is enabled.
type ItemSizeDetectedMsg struct {
	ItemSize float64
}

// -- Produced by Scheduler --

// RangeLoadedMsg reports a successful page load for RangeID id.
type RangeLoadedMsg struct {
	ID     rangecache.RangeID
	Offset uint64
	Limit  uint64
	Items  []any
	Total  *int
}

// ErrorKind classifies a RangeErrorMsg; it is a semantic category, not
// an exception type.
type ErrorKind int

const (
	ErrorKindTransport ErrorKind = iota
	ErrorKindSequentialRequired
	ErrorKindInvariantViolation
)

// RangeErrorMsg reports a failed load. Cancellation is never reported
// through this message — it resolves silently instead.
type RangeErrorMsg struct {
	ID       rangecache.RangeID
	Kind     ErrorKind
	Err      error
	Attempts int
}

// -- Produced by Controller from RangeCache results --

// CollectionRangeLoadedMsg reports the overlap between a newly-loaded
// range and the visible range, in which placeholders were replaced.
type CollectionRangeLoadedMsg struct {
	ID    rangecache.RangeID
	Range geometry.Range
}

// InitialLoadCompleteMsg fires after the first load completes, optionally
// carrying the id of an item to auto-select.
type InitialLoadCompleteMsg struct {
	SelectID string
}

// ItemsEvictedMsg reports an eviction sweep's result.
type ItemsEvictedMsg struct {
	KeepStart uint64
	KeepEnd   uint64
	Count     int
}

// ResetMsg marks a completed reset: configuration preserved, all
// caches and scroll position cleared.
type ResetMsg struct{}

// PlaceholderReplacedMsg fires once per slot that transitioned from a
// placeholder to a real item.
type PlaceholderReplacedMsg struct {
	Index uint64
}

// -- Consumed from external collaborators --

// DragStartMsg/DragEndMsg mark the scrollbar-drag gesture boundary
// the Scheduler's drag-residual velocity gate keys off of.
type DragStartMsg struct{}
type DragEndMsg struct{}

// ReloadStartMsg requests the Controller discard all caches and
// re-issue the initial load, preserving scroll position.
type ReloadStartMsg struct{}

// ClearedMsg requests a full Reset (config preserved, scroll zeroed).
type ClearedMsg struct{}

// ItemRemovedMsg reports that the caller spliced index out of the
// backing collection in place; the discovered total is decremented but
// loadedRanges is left untouched.
type ItemRemovedMsg struct {
	Index uint64
}

// -- Input events routed in from the terminal --

// WheelMsg is the terminal analogue of a DOM wheel event, normally
// derived from a tea.MouseWheelMsg by the caller wiring the program.
type WheelMsg struct {
	DeltaY, DeltaX float64
	Time           int64 // unix nanos, supplied by the caller so tests stay deterministic
}

// ClickMsg marks a mousedown on the viewport surface — the anchor
// point for the click-anchor inertia discriminator.
type ClickMsg struct {
	Time int64
}

// TickMsg is the RAF-equivalent coalescing signal, produced by the
// one-shot tea.Tick that ScrollState arms after a position change.
type TickMsg struct {
	Time int64
}
