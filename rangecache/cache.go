// Package rangecache tracks which contiguous index ranges of a very large,
// lazily-materialized sequence are loaded, pending, or failed, stores the
// loaded items themselves in a sparse map keyed by index, and reclaims
// memory for ranges that have scrolled far from the visible window.
//
// Eviction cost is proportional to the number of loaded ranges, never to
// the total item count or the sparse item map's size — the property that
// makes this cache usable against sequences of hundreds of millions of
// items.
package rangecache

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRangeSize is the number of indices a single RangeID covers.
	DefaultRangeSize = 20
	// DefaultMaxCachedItems is the cachedItemCount threshold past which
	// Evict is expected to be called.
	DefaultMaxCachedItems = 1000
	// DefaultEvictionBuffer extends the visible window on each side
	// before a loaded range is considered evictable.
	DefaultEvictionBuffer = 150
)

// EvictionResult describes what Evict reclaimed, suitable for turning
// directly into a viewportmsg.ItemsEvictedMsg.
type EvictionResult struct {
	KeepStart uint64
	KeepEnd   uint64
	Count     int
	Evicted   []RangeID
}

// Cache is the range/item bookkeeping store: tracks which ranges are
// loaded, pending or failed, and which items are cached, evicting the
// loaded ranges that lie outside the visible window plus its eviction
// buffer once the cached item count exceeds its budget.
// The zero value is not usable; construct with New.
type Cache struct {
	mu sync.Mutex

	rangeSize       uint64
	maxCachedItems  int
	evictionBuffer  uint64
	cachedItemCount int

	items   map[uint64]any
	loaded  map[RangeID]struct{}
	pending map[RangeID]struct{}
	failed  map[RangeID]FailInfo
	aborts  map[RangeID]context.CancelFunc
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithMaxCachedItems overrides DefaultMaxCachedItems.
func WithMaxCachedItems(n int) Option {
	return func(c *Cache) { c.maxCachedItems = n }
}

// WithEvictionBuffer overrides DefaultEvictionBuffer.
func WithEvictionBuffer(n uint64) Option {
	return func(c *Cache) { c.evictionBuffer = n }
}

// New constructs a Cache for the given rangeSize (the "page" granularity
// for cache bookkeeping; 0 uses DefaultRangeSize).
func New(rangeSize uint64, opts ...Option) *Cache {
	if rangeSize == 0 {
		rangeSize = DefaultRangeSize
	}
	c := &Cache{
		rangeSize:      rangeSize,
		maxCachedItems: DefaultMaxCachedItems,
		evictionBuffer: DefaultEvictionBuffer,
		items:          make(map[uint64]any),
		loaded:         make(map[RangeID]struct{}),
		pending:        make(map[RangeID]struct{}),
		failed:         make(map[RangeID]FailInfo),
		aborts:         make(map[RangeID]context.CancelFunc),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RangeIDFor returns the RangeID a given logical offset belongs to.
func (c *Cache) RangeIDFor(offset uint64) RangeID {
	return RangeID(offset / c.rangeSize)
}

// RangeBounds returns the half-open index interval [start, end) an id
// covers.
func (c *Cache) RangeBounds(id RangeID) (start, end uint64) {
	start = uint64(id) * c.rangeSize
	return start, start + c.rangeSize
}

// RangeSize returns the configured batch granularity.
func (c *Cache) RangeSize() uint64 { return c.rangeSize }

// CachedItemCount returns the number of non-empty slots currently held,
// maintained incrementally to avoid an O(N) scan of the sparse item map.
func (c *Cache) CachedItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedItemCount
}

// Status reports the lifecycle state of id.
func (c *Cache) Status(id RangeID) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(id)
}

func (c *Cache) statusLocked(id RangeID) Status {
	if _, ok := c.loaded[id]; ok {
		return StatusLoaded
	}
	if _, ok := c.pending[id]; ok {
		return StatusPending
	}
	if _, ok := c.failed[id]; ok {
		return StatusFailed
	}
	return StatusUnknown
}

// FailedInfo returns the recorded failure info for id, if any.
func (c *Cache) FailedInfo(id RangeID) (FailInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fi, ok := c.failed[id]
	return fi, ok
}

// MarkPending records id as in-flight, removing it from the loaded and
// failed sets to maintain I1 (the three sets are pairwise disjoint). cancel
// is the abort handle invoked if id is evicted while still pending.
func (c *Cache) MarkPending(id RangeID, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.loaded, id)
	delete(c.failed, id)
	c.pending[id] = struct{}{}
	if cancel != nil {
		c.aborts[id] = cancel
	}
}

// MarkFailed records id's failure, removing it from loaded/pending.
func (c *Cache) MarkFailed(id RangeID, err error, attempts int, failTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.loaded, id)
	delete(c.pending, id)
	delete(c.aborts, id)
	c.failed[id] = FailInfo{Attempts: attempts, LastErr: err, FailTime: failTime}
}

// Store writes items at consecutive indices starting at offset,
// incrementing cachedItemCount once per previously-empty slot. It does
// not by itself mark id loaded — callers must call CompleteLoad (or
// MarkLoaded directly when no race is possible, e.g. tests) to honor
// the eviction-race semantics described on CompleteLoad.
func (c *Cache) Store(offset uint64, items []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(offset, items)
}

func (c *Cache) storeLocked(offset uint64, items []any) {
	for i, item := range items {
		idx := offset + uint64(i)
		if _, existed := c.items[idx]; !existed {
			c.cachedItemCount++
		}
		c.items[idx] = item
	}
}

// CompleteLoad stores items at offset and marks id loaded only if every
// slot in id's range window is still present after the write — i.e. the
// range was not evicted while the load was in flight. Returns whether id
// ended up loaded. This guards a real race: a load may complete after
// eviction removed id from loadedRanges because the user scrolled away;
// in that case id must stay unloaded.
func (c *Cache) CompleteLoad(id RangeID, offset uint64, items []any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeLocked(offset, items)
	delete(c.pending, id)
	delete(c.aborts, id)

	start, end := c.RangeBounds(id)
	if !c.windowFullyPresentLocked(start, end) {
		return false
	}
	delete(c.failed, id)
	c.loaded[id] = struct{}{}
	return true
}

// MarkLoaded marks id loaded directly, bypassing the store-then-verify
// race check. Intended for tests and for callers that already know the
// window is present.
func (c *Cache) MarkLoaded(id RangeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	delete(c.failed, id)
	delete(c.aborts, id)
	c.loaded[id] = struct{}{}
}

// VerifyLoaded is a defensive recheck: if id's slot window is not
// fully present, id is removed from loadedRanges.
func (c *Cache) VerifyLoaded(id RangeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.loaded[id]; !ok {
		return
	}
	start, end := c.RangeBounds(id)
	if !c.windowFullyPresentLocked(start, end) {
		delete(c.loaded, id)
	}
}

func (c *Cache) windowFullyPresentLocked(start, end uint64) bool {
	for i := start; i < end; i++ {
		if _, ok := c.items[i]; !ok {
			return false
		}
	}
	return true
}

// Get returns the item stored at index, if any.
func (c *Cache) Get(index uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[index]
	return v, ok
}

// Abort cancels the in-flight transport for id via its stored abort
// handle, if one is registered.
func (c *Cache) Abort(id RangeID) {
	c.mu.Lock()
	cancel, ok := c.aborts[id]
	delete(c.aborts, id)
	c.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
}

// Evict reclaims every loaded range that lies entirely outside
// [visibleStart - evictionBuffer, visibleEnd + evictionBuffer], provided
// cachedItemCount currently exceeds maxCachedItems. It iterates only
// loadedRanges — never the sparse item map — so its cost is O(len(loaded
// ranges)), independent of total sequence size.
func (c *Cache) Evict(visibleStart, visibleEnd uint64) EvictionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedItemCount <= c.maxCachedItems {
		return EvictionResult{KeepStart: visibleStart, KeepEnd: visibleEnd}
	}

	keepStart := uint64(0)
	if visibleStart > c.evictionBuffer {
		keepStart = visibleStart - c.evictionBuffer
	}
	keepEnd := visibleEnd + c.evictionBuffer

	result := EvictionResult{KeepStart: keepStart, KeepEnd: keepEnd}

	for id := range c.loaded {
		start, end := c.RangeBounds(id)
		if end > keepStart && start < keepEnd {
			continue // overlaps the keep zone
		}
		removed := c.evictRangeLocked(id, start, end)
		result.Count += removed
		result.Evicted = append(result.Evicted, id)
	}

	return result
}

func (c *Cache) evictRangeLocked(id RangeID, start, end uint64) int {
	removed := 0
	for i := start; i < end; i++ {
		if _, ok := c.items[i]; ok {
			delete(c.items, i)
			c.cachedItemCount--
			removed++
		}
	}
	delete(c.loaded, id)
	delete(c.pending, id)
	if cancel, ok := c.aborts[id]; ok && cancel != nil {
		cancel()
	}
	delete(c.aborts, id)
	return removed
}

// Reset aborts every in-flight load and clears all bookkeeping and items,
// zeroing cachedItemCount.
func (c *Cache) Reset() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.aborts))
	for _, cancel := range c.aborts {
		if cancel != nil {
			cancels = append(cancels, cancel)
		}
	}
	c.items = make(map[uint64]any)
	c.loaded = make(map[RangeID]struct{})
	c.pending = make(map[RangeID]struct{})
	c.failed = make(map[RangeID]FailInfo)
	c.aborts = make(map[RangeID]context.CancelFunc)
	c.cachedItemCount = 0
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// LoadedRangeIDs returns a snapshot of the currently loaded range ids.
func (c *Cache) LoadedRangeIDs() []RangeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RangeID, 0, len(c.loaded))
	for id := range c.loaded {
		out = append(out, id)
	}
	return out
}

// MissingRangeIDs returns the RangeIDs that cover [start, end) and are
// currently neither loaded nor pending (failed ranges are included — the
// scheduler decides whether a backoff window permits a retry).
func (c *Cache) MissingRangeIDs(start, end uint64) []RangeID {
	c.mu.Lock()
	defer c.mu.Unlock()

	if end <= start {
		return nil
	}
	firstID := RangeID(start / c.rangeSize)
	lastID := RangeID((end - 1) / c.rangeSize)

	var out []RangeID
	for id := firstID; id <= lastID; id++ {
		if _, ok := c.loaded[id]; ok {
			continue
		}
		if _, ok := c.pending[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}
