// Package scheduler gates adapter calls by scroll velocity and
// concurrency, assigns priority, sequences cursor-mode pagination, and
// manages in-flight abort — the component sitting between the
// Controller and the Adapter.
//
// The engine runs cooperatively: a requestLoad call either dispatches
// immediately (returning a tea.Cmd the caller batches into the next
// Update return value), queues for later dispatch, or drops silently.
// Queued dispatches surface later as the tea.Cmd returned by
// HandleResult, SetVelocity or OnIdle; the prerequisite pages of a
// cursor-mode chain are delivered through the Sender the caller
// supplies at construction.
package scheduler

import (
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/scrollcore/viewport/adapter"
	"github.com/scrollcore/viewport/geometry"
	"github.com/scrollcore/viewport/rangecache"
)

const (
	DefaultCancelLoadThreshold   = 25.0 // px/ms
	DefaultMaxConcurrentRequests = 1
	DefaultMaxQueueSize          = 1
	DefaultMaxPagesToLoad        = 10
)

// Sender delivers a tea.Msg back into the owning tea.Program from a
// goroutine outside Update — exactly what *tea.Program.Send does.
type Sender interface {
	Send(tea.Msg)
}

// Config carries the Scheduler's tunables, all optional; zero values
// fall back to the package defaults.
type Config struct {
	Strategy              adapter.Strategy
	RangeSize             uint64
	CancelLoadThreshold   float64
	MaxConcurrentRequests int
	MaxQueueSize          int
	MaxPagesToLoad        int
	// Transform, when set, is applied to every decoded item before it
	// is written to the cache.
	Transform func(any) any
}

func (c Config) withDefaults() Config {
	if c.RangeSize == 0 {
		c.RangeSize = rangecache.DefaultRangeSize
	}
	if c.CancelLoadThreshold == 0 {
		c.CancelLoadThreshold = DefaultCancelLoadThreshold
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxPagesToLoad == 0 {
		c.MaxPagesToLoad = DefaultMaxPagesToLoad
	}
	if c.Strategy == "" {
		c.Strategy = adapter.StrategyOffset
	}
	return c
}

// Counters tallies terminal outcomes, useful for tests and for a demo
// status line.
type Counters struct {
	Completed int
	Failed    int
	Cancelled int
}

// Scheduler is the velocity/concurrency gate described above. The
// zero value is not usable; construct with New.
type Scheduler struct {
	cfg     Config
	cache   *rangecache.Cache
	adapter adapter.Adapter
	program Sender

	// sem and sf are redundant with activeKeys under normal operation
	// (activeKeys already bounds in-flight dispatches to
	// MaxConcurrentRequests and already dedupes a repeat key before
	// dispatch), but both are real guards against the narrower races
	// activeKeys doesn't cover: sem is consulted again inside the
	// dispatch goroutine itself, after activeKeys bookkeeping, and sf
	// collapses a genuinely-concurrent duplicate adapter.Read that
	// reaches dispatch from two different queue-drain paths in the
	// same tick.
	sem *semaphore.Weighted
	sf  singleflight.Group

	mu                sync.Mutex
	currentVelocity   float64 // unsigned, px/ms
	dragging          bool
	activeKeys        map[string]struct{}
	queue             []queuedRequest
	cursorMap         map[uint64]string // page -> cursor to request page+1
	highestLoadedPage uint64
	hasReachedEnd     bool
	counters          Counters
}

// New constructs a Scheduler. program receives the RangeLoadedMsg of
// each cursor-mode prerequisite page resolved inside a chain (it may be
// nil when no cursor chain can occur); every other result is the
// return value of a dispatch tea.Cmd. The caller routes program's
// messages back through its Update the same way any other external
// event arrives.
func New(cache *rangecache.Cache, ad adapter.Adapter, program Sender, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:        cfg,
		cache:      cache,
		adapter:    ad,
		program:    program,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		activeKeys: make(map[string]struct{}),
		cursorMap:  make(map[uint64]string),
	}
}

// Counters returns a snapshot of the terminal-outcome tallies.
func (s *Scheduler) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// SetDragging records whether the user is currently holding a
// scrollbar drag, used by the tiny-residual-velocity gate.
func (s *Scheduler) SetDragging(dragging bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dragging = dragging
}

// SetVelocity updates currentVelocity (always stored as |v|) and, if
// it just crossed down below cancelLoadThreshold, drains the queue.
func (s *Scheduler) SetVelocity(v float64) tea.Cmd {
	if v < 0 {
		v = -v
	}
	s.mu.Lock()
	wasAbove := s.currentVelocity >= s.cfg.CancelLoadThreshold
	s.currentVelocity = v
	nowBelow := v < s.cfg.CancelLoadThreshold
	s.mu.Unlock()

	if wasAbove && nowBelow {
		return s.processQueue()
	}
	return nil
}

// RequestLoad is the single entry point for requesting a range load.
// It never blocks: the gate decision (dedupe, velocity cancel,
// drag-residual cancel, immediate dispatch, enqueue, or
// queue-purge-and-take-slot) happens synchronously; only the dispatch
// itself (when one happens) becomes an async tea.Cmd.
func (s *Scheduler) RequestLoad(id rangecache.RangeID, priority Priority, caller Caller) tea.Cmd {
	start, end := s.cache.RangeBounds(id)
	key := rangeKey(start, end)

	s.mu.Lock()

	if _, active := s.activeKeys[key]; active {
		s.mu.Unlock()
		return nil
	}

	if s.cache.Status(id) == rangecache.StatusLoaded {
		s.mu.Unlock()
		return nil
	}
	if info, failed := s.cache.FailedInfo(id); failed {
		if time.Since(info.FailTime) < backoff(info.Attempts) {
			s.mu.Unlock()
			return nil
		}
	}

	if s.currentVelocity >= s.cfg.CancelLoadThreshold {
		s.counters.Cancelled++
		s.mu.Unlock()
		return nil
	}
	if s.dragging && s.currentVelocity > 0 && s.currentVelocity < 0.5 {
		s.counters.Cancelled++
		s.mu.Unlock()
		return nil
	}

	if len(s.activeKeys) < s.cfg.MaxConcurrentRequests {
		s.activeKeys[key] = struct{}{}
		s.mu.Unlock()
		return s.dispatch(id, priority, key)
	}

	if len(s.queue) < s.cfg.MaxQueueSize {
		s.queue = enqueue(s.queue, queuedRequest{id: id, priority: priority, timestamp: nowNanos(), caller: caller})
		s.mu.Unlock()
		return nil
	}

	if caller.purgesQueueWhenFull() {
		purged := s.queue
		s.queue = nil
		s.counters.Cancelled += len(purged)
		s.queue = enqueue(s.queue, queuedRequest{id: id, priority: PriorityHigh, timestamp: nowNanos(), caller: caller})
		s.mu.Unlock()
		return nil
	}

	s.counters.Cancelled++
	s.mu.Unlock()
	return nil
}

// OnIdle purges queue entries stale relative to visible, re-requests
// the current visible range (caller viewport:idle), then drains
// whatever capacity remains.
func (s *Scheduler) OnIdle(visible geometry.Range) tea.Cmd {
	s.mu.Lock()
	rangeSize := s.cfg.RangeSize
	kept := s.queue[:0:0]
	for _, q := range s.queue {
		qStart, qEnd := s.cache.RangeBounds(q.id)
		if rangeIsStale(qStart, qEnd, visible, rangeSize) {
			s.counters.Cancelled++
			continue
		}
		kept = append(kept, q)
	}
	s.queue = kept
	s.mu.Unlock()

	var cmds []tea.Cmd
	for _, id := range s.missingIDsForRange(visible) {
		if cmd := s.RequestLoad(id, PriorityNormal, CallerIdle); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	if cmd := s.processQueue(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (s *Scheduler) missingIDsForRange(r geometry.Range) []rangecache.RangeID {
	if r.Empty() {
		return nil
	}
	return s.cache.MissingRangeIDs(r.Start, r.End)
}

func rangeIsStale(start, end uint64, visible geometry.Range, rangeSize uint64) bool {
	threshold := 2 * rangeSize
	if end+threshold < visible.Start {
		return true
	}
	if start > visible.End+threshold {
		return true
	}
	return false
}

// Abort cancels id's in-flight transport via the cache's stored abort
// handle. The completion handler (not Abort itself) is what counts it
// as cancelled, once the adapter's Read call actually observes ctx
// cancellation.
func (s *Scheduler) Abort(id rangecache.RangeID) {
	s.cache.Abort(id)
}

// processQueue pulls queued requests while capacity allows, returning
// a batch of their dispatch Cmds.
func (s *Scheduler) processQueue() tea.Cmd {
	var cmds []tea.Cmd
	for {
		s.mu.Lock()
		if len(s.activeKeys) >= s.cfg.MaxConcurrentRequests {
			s.mu.Unlock()
			break
		}
		req, rest, ok := dequeue(s.queue)
		if !ok {
			s.mu.Unlock()
			break
		}
		s.queue = rest
		start, end := s.cache.RangeBounds(req.id)
		key := rangeKey(start, end)
		if _, active := s.activeKeys[key]; active {
			s.mu.Unlock()
			continue
		}
		s.activeKeys[key] = struct{}{}
		s.mu.Unlock()
		cmds = append(cmds, s.dispatch(req.id, req.priority, key))
	}
	return tea.Batch(cmds...)
}

// onDispatchDone releases bookkeeping for key and drains more of the
// queue, to be called once a dispatch's tea.Cmd has resolved. Since a
// tea.Cmd's return value only reaches Update, callers are expected to
// route RangeLoadedMsg/RangeErrorMsg back into a handler that invokes
// this so subsequent queued loads actually get a turn.
func (s *Scheduler) onDispatchDone(key string) tea.Cmd {
	s.mu.Lock()
	delete(s.activeKeys, key)
	s.mu.Unlock()
	return s.processQueue()
}

// HandleResult is the Controller-facing hook that completes the
// accounting a dispatch started: release the active-key slot, update
// counters/cursor bookkeeping is already done inside dispatch, and
// drain the queue. Call this from Update whenever a RangeLoadedMsg or
// RangeErrorMsg arrives.
func (s *Scheduler) HandleResult(id rangecache.RangeID) tea.Cmd {
	start, end := s.cache.RangeBounds(id)
	return s.onDispatchDone(rangeKey(start, end))
}

func nowNanos() int64 {
	return int64(time.Now().UnixNano())
}
