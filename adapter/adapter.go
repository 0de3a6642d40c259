// Package adapter defines the one external I/O boundary the viewport
// engine talks to: a paged data source, abstracted behind Strategy so
// the scheduler can address it by offset, page, or opaque cursor
// without knowing which one the underlying transport actually speaks.
package adapter

import (
	"context"
	"errors"
)

// Strategy selects how Params is shaped for a given load.
type Strategy string

const (
	StrategyOffset Strategy = "offset"
	StrategyPage   Strategy = "page"
	StrategyCursor Strategy = "cursor"
)

// Params carries the request shape for a single page load. Only the
// fields relevant to the configured Strategy are populated.
type Params struct {
	Strategy Strategy

	// offset strategy
	Offset uint64
	Limit  uint64

	// page strategy (page is 1-based)
	Page uint64

	// cursor strategy; Cursor is empty for the first page
	Cursor string
}

// Response is what an Adapter returns for one Params request. Total,
// Cursor and HasNext are pointers because their absence is meaningful:
// a nil Total means "unknown, infer one"; a nil HasNext means the
// adapter doesn't report end-of-stream, and the scheduler only treats
// the stream as ended once some page reports HasNext=false.
type Response struct {
	Items    []any
	Total    *int
	Cursor   *string
	HasNext  *bool
}

// Adapter is the transport contract the Scheduler drives. Every call
// is expected to respect ctx cancellation promptly — a cache reset or
// an explicit Scheduler.Abort cancels in-flight loads through ctx.
// Velocity gating only drops new requests; it never cancels a load
// already in flight.
type Adapter interface {
	Read(ctx context.Context, params Params) (Response, error)
}

// Item is the optional self-rendering contract a loaded item value may
// implement. controller.Model.View prefers it over cfg.ItemRenderer or
// the plain "%v" fallback when an item satisfies it, so callers whose
// collection already has a natural per-item render (as opposed to a
// raw []any of plain values) don't need to duplicate that logic in a
// separate ItemRenderer closure.
type Item interface {
	// ID returns a stable identifier, independent of position, used for
	// cache keying and targeted invalidation.
	ID() string

	// ContentVersion increases whenever the item's content changes; a
	// render cache keyed on it never serves a stale row.
	ContentVersion() int

	// Height returns the rendered height in rows for the given width.
	Height(width int) int

	// Render returns the item's content for the given width.
	Render(width int) string
}

// SequentialRequiredError is returned by an Adapter (or synthesized by
// the scheduler itself, for cursor strategy) when a page cannot be
// fetched without first resolving an earlier page's cursor. Page is
// the page that was asked for; MissingPage is the prerequisite.
type SequentialRequiredError struct {
	Page        uint64
	MissingPage uint64
}

func (e *SequentialRequiredError) Error() string {
	return "cursor for page requires loading an earlier page first"
}

// AbortError marks a Read call that returned because ctx was
// cancelled rather than because the transport actually failed. The
// scheduler treats this as cancellation, not a TransportFailure.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause != nil {
		return "aborted: " + e.Cause.Error()
	}
	return "aborted"
}

func (e *AbortError) Unwrap() error { return e.Cause }

// IsAbort reports whether err represents a cancellation rather than a
// genuine transport failure: either an *AbortError or ctx.Canceled
// (and its common aliases) surfacing directly from a http.Client whose
// request context was cancelled.
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ae *AbortError
	return asAbortError(err, &ae)
}

func asAbortError(err error, target **AbortError) bool {
	for err != nil {
		if ae, ok := err.(*AbortError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
