package adapter

import (
	"context"
	"strconv"
	"time"
)

// InMemoryAdapter serves Read from an in-process slice, useful for
// demos and tests. It can simulate latency and a sticky failure
// window to exercise the scheduler's retry/backoff path without a
// real network.
type InMemoryAdapter struct {
	data []any

	// Latency, if non-zero, is slept (respecting ctx) before
	// returning, to make async coalescing and velocity gating visible
	// in a demo.
	Latency time.Duration

	// FailBefore, if set, makes every call with Offset (or the
	// offset-equivalent derived from Page) less than FailBefore
	// return an error exactly FailTimes times before succeeding. Used
	// to exercise the scheduler's backoff path.
	FailBefore int
	FailTimes  int
	failures   map[uint64]int

	limit uint64
}

// NewInMemoryAdapter wraps data; limit is the page size used to turn
// a page-strategy or cursor-strategy request into a slice bound when
// Params.Limit is unset.
func NewInMemoryAdapter(data []any, limit uint64) *InMemoryAdapter {
	if limit == 0 {
		limit = 20
	}
	return &InMemoryAdapter{data: data, limit: limit, failures: make(map[uint64]int)}
}

func (a *InMemoryAdapter) Read(ctx context.Context, params Params) (Response, error) {
	offset, limit := a.resolveOffset(params)

	if a.Latency > 0 {
		select {
		case <-time.After(a.Latency):
		case <-ctx.Done():
			return Response{}, &AbortError{Cause: ctx.Err()}
		}
	}
	if err := ctx.Err(); err != nil {
		return Response{}, &AbortError{Cause: err}
	}

	if a.FailBefore > 0 && offset < uint64(a.FailBefore) && a.failures[offset] < a.FailTimes {
		a.failures[offset]++
		return Response{}, errTransient
	}

	end := offset + limit
	if end > uint64(len(a.data)) {
		end = uint64(len(a.data))
	}
	var items []any
	if offset < end {
		items = append(items, a.data[offset:end]...)
	}

	total := len(a.data)
	hasNext := end < uint64(len(a.data))

	resp := Response{Items: items, Total: &total, HasNext: &hasNext}
	if params.Strategy == StrategyCursor {
		next := encodeCursor(end)
		resp.Cursor = &next
	}
	return resp, nil
}

func (a *InMemoryAdapter) resolveOffset(params Params) (offset, limit uint64) {
	limit = params.Limit
	if limit == 0 {
		limit = a.limit
	}
	switch params.Strategy {
	case StrategyPage:
		if params.Page > 0 {
			offset = (params.Page - 1) * limit
		}
	case StrategyCursor:
		if params.Cursor != "" {
			offset = decodeCursor(params.Cursor)
		}
	default:
		offset = params.Offset
	}
	return offset, limit
}

var errTransient = &transientError{}

type transientError struct{}

func (e *transientError) Error() string { return "simulated transient transport failure" }

// encodeCursor/decodeCursor are deliberately trivial: the in-memory
// adapter's cursor is just its next offset rendered as a string, since
// nothing external ever needs to parse it.
func encodeCursor(offset uint64) string {
	return strconv.FormatUint(offset, 10)
}

func decodeCursor(cursor string) uint64 {
	v, _ := strconv.ParseUint(cursor, 10, 64)
	return v
}
