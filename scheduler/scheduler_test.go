package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrollcore/viewport/adapter"
	"github.com/scrollcore/viewport/geometry"
	"github.com/scrollcore/viewport/rangecache"
	"github.com/scrollcore/viewport/viewportmsg"
)

type fakeSender struct {
	mu  sync.Mutex
	got []tea.Msg
}

func (f *fakeSender) Send(msg tea.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
}

func (f *fakeSender) messages() []tea.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tea.Msg, len(f.got))
	copy(out, f.got)
	return out
}

func seqItems(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	return cmd()
}

func TestRequestLoad_DispatchesImmediatelyWhenCapacityAvailable(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20})

	cmd := s.RequestLoad(0, PriorityNormal, CallerManual)
	msg := runCmd(t, cmd)

	loaded, ok := msg.(viewportmsg.RangeLoadedMsg)
	require.True(t, ok)
	assert.Equal(t, rangecache.RangeID(0), loaded.ID)
	assert.Equal(t, uint64(0), loaded.Offset)
	assert.Len(t, loaded.Items, 20)
}

func TestRequestLoad_DedupesActiveRangeKey(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20})

	cmd1 := s.RequestLoad(0, PriorityNormal, CallerManual)
	require.NotNil(t, cmd1)

	cmd2 := s.RequestLoad(0, PriorityNormal, CallerManual)
	assert.Nil(t, cmd2, "a second requestLoad for the same active range must resolve immediately, not dispatch again")
}

func TestRequestLoad_VelocityAboveThresholdCancelsWithoutDispatch(t *testing.T) {
	// Scenario 2: velocity far exceeds cancelLoadThreshold.
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20, CancelLoadThreshold: 25})

	s.SetVelocity(2500) // px/ms, far above threshold

	cmd := s.RequestLoad(0, PriorityNormal, CallerManual)
	assert.Nil(t, cmd)
	assert.Equal(t, 1, s.Counters().Cancelled)
	assert.Equal(t, rangecache.StatusUnknown, cache.Status(0))
}

func TestRequestLoad_DraggingResidualVelocityCancels(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20})

	s.SetDragging(true)
	s.SetVelocity(0.2)

	cmd := s.RequestLoad(0, PriorityNormal, CallerManual)
	assert.Nil(t, cmd)
	assert.Equal(t, 1, s.Counters().Cancelled)
}

func TestRequestLoad_QueuesWhenAtCapacityThenDrainsOnHandleResult(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20, MaxConcurrentRequests: 1, MaxQueueSize: 2})

	cmd0 := s.RequestLoad(0, PriorityNormal, CallerManual)
	require.NotNil(t, cmd0)

	cmd1 := s.RequestLoad(1, PriorityNormal, CallerManual)
	assert.Nil(t, cmd1, "second load must queue, not dispatch, while capacity is exhausted")
	require.Len(t, s.queue, 1)

	// id 0's load resolves; HandleResult frees its slot and drains the queue.
	msg0 := runCmd(t, cmd0)
	loaded0 := msg0.(viewportmsg.RangeLoadedMsg)
	assert.Equal(t, rangecache.RangeID(0), loaded0.ID)

	drainCmd := s.HandleResult(0)
	require.NotNil(t, drainCmd)
	msg1 := drainCmd()
	loaded1 := msg1.(viewportmsg.RangeLoadedMsg)
	assert.Equal(t, rangecache.RangeID(1), loaded1.ID)
	assert.Empty(t, s.queue)
}

func TestRequestLoad_QueueFullPurgesForIdleCaller(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20, MaxConcurrentRequests: 1, MaxQueueSize: 1})

	_ = s.RequestLoad(0, PriorityNormal, CallerManual) // occupies the one slot
	_ = s.RequestLoad(1, PriorityLow, CallerManual)     // fills the one queue slot
	require.Len(t, s.queue, 1)

	cmd := s.RequestLoad(2, PriorityHigh, CallerIdle)
	assert.Nil(t, cmd, "the purge-and-take-slot request itself doesn't dispatch yet, it just claims the slot")
	require.Len(t, s.queue, 1)
	assert.Equal(t, rangecache.RangeID(2), s.queue[0].id)
	assert.Equal(t, 1, s.Counters().Cancelled, "the purged id-1 entry counts as cancelled")
}

func TestSetVelocity_CrossingBelowThresholdDrainsQueue(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20, MaxConcurrentRequests: 1, MaxQueueSize: 2})

	cmd0 := s.RequestLoad(0, PriorityNormal, CallerManual)
	require.NotNil(t, cmd0)
	cmd1 := s.RequestLoad(1, PriorityNormal, CallerManual)
	assert.Nil(t, cmd1)

	// Free id 0's slot directly rather than through HandleResult, which
	// would drain the queue itself; id 1 stays queued until the velocity
	// transition below drains it.
	s.mu.Lock()
	delete(s.activeKeys, rangeKey(0, 20))
	s.mu.Unlock()

	s.SetVelocity(30) // above threshold: no trigger on the way up
	cmd := s.SetVelocity(10)
	require.NotNil(t, cmd)
	msg := cmd()
	loaded, ok := msg.(viewportmsg.RangeLoadedMsg)
	require.True(t, ok)
	assert.Equal(t, rangecache.RangeID(1), loaded.ID)
}

func TestOnIdle_PurgesStaleQueueEntriesAndReloadsVisible(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(1000), 20)
	s := New(cache, a, nil, Config{RangeSize: 20, MaxConcurrentRequests: 1, MaxQueueSize: 5})

	_ = s.RequestLoad(0, PriorityNormal, CallerManual)  // occupies the only slot
	_ = s.RequestLoad(40, PriorityNormal, CallerManual) // far away, will go stale
	require.Len(t, s.queue, 1)

	// Capacity stays fully occupied (nothing has resolved), so OnIdle's
	// re-request for the new visible range enqueues rather than
	// dispatches — but it must still replace the purged stale entry.
	visible := geometry.Range{Start: 400, End: 420}
	s.OnIdle(visible)

	for _, q := range s.queue {
		assert.NotEqual(t, rangecache.RangeID(40), q.id, "range 40 is >2*rangeSize from the new visible window and must be purged")
	}
	require.NotEmpty(t, s.queue, "the re-requested visible range must have been enqueued")
}

func TestFailedRange_GatedByExponentialBackoff(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(100), 20)
	s := New(cache, a, nil, Config{RangeSize: 20})

	cache.MarkFailed(0, assertableErr{}, 1, time.Now())

	cmd := s.RequestLoad(0, PriorityNormal, CallerManual)
	assert.Nil(t, cmd, "a freshly-failed range must not be retried before its backoff window elapses")
}

type assertableErr struct{}

func (assertableErr) Error() string { return "boom" }

// alwaysFailAdapter errors on every Read, to drive repeated dispatches
// of the same range through the real retry path.
type alwaysFailAdapter struct{}

func (alwaysFailAdapter) Read(ctx context.Context, params adapter.Params) (adapter.Response, error) {
	return adapter.Response{}, assertableErr{}
}

// TestRequestLoad_RepeatedFailuresIncrementAttempts drives the same
// range through dispatch three times in a row, bypassing the backoff
// gate each time (as if its window had already elapsed), and checks
// that each dispatch picks up one more than the previously recorded
// attempt count rather than always recording attempt 1.
func TestRequestLoad_RepeatedFailuresIncrementAttempts(t *testing.T) {
	cache := rangecache.New(20)
	s := New(cache, alwaysFailAdapter{}, nil, Config{RangeSize: 20})

	for want := 1; want <= 3; want++ {
		cmd := s.dispatch(0, PriorityNormal, rangeKey(0, 20))
		cmd()

		info, ok := cache.FailedInfo(0)
		require.True(t, ok)
		assert.Equal(t, want, info.Attempts)
	}
}

func TestBackoff_Doubles_CappedAt30s(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, backoff(1))
	assert.Equal(t, 2000*time.Millisecond, backoff(2))
	assert.Equal(t, 4000*time.Millisecond, backoff(3))
	assert.Equal(t, 8000*time.Millisecond, backoff(4))
	assert.Equal(t, 16000*time.Millisecond, backoff(5))
	assert.Equal(t, 30000*time.Millisecond, backoff(6))
	assert.Equal(t, 30000*time.Millisecond, backoff(10))
}

func TestCursorMode_SequentialChainNoParallelCalls(t *testing.T) {
	// Scenario 5: requesting page 4 with no prior history must
	// resolve pages 1-3's cursors strictly in order before the target
	// page, never in parallel.
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(200), 20)
	sender := &fakeSender{}
	s := New(cache, a, sender, Config{Strategy: adapter.StrategyCursor, RangeSize: 20, MaxPagesToLoad: 10})

	cmd := s.RequestLoad(3, PriorityNormal, CallerManual) // page 4, offsets 60-79
	msg := runCmd(t, cmd)

	final, ok := msg.(viewportmsg.RangeLoadedMsg)
	require.True(t, ok)
	assert.Equal(t, rangecache.RangeID(3), final.ID)
	assert.Equal(t, uint64(60), final.Offset)
	assert.Equal(t, seqItems(80)[60:], final.Items)

	prereqs := sender.messages()
	require.Len(t, prereqs, 3, "pages 1-3 must be reported as they resolve, before the target page")
	for i, m := range prereqs {
		loaded := m.(viewportmsg.RangeLoadedMsg)
		assert.Equal(t, rangecache.RangeID(i), loaded.ID)
		assert.Equal(t, uint64(i)*20, loaded.Offset)
	}

	for page := uint64(0); page < 4; page++ {
		assert.Equal(t, rangecache.StatusLoaded, cache.Status(rangecache.RangeID(page)))
	}
}

func TestCursorMode_SequentialRequiredCeiling(t *testing.T) {
	cache := rangecache.New(20)
	a := adapter.NewInMemoryAdapter(seqItems(1000), 20)
	s := New(cache, a, nil, Config{Strategy: adapter.StrategyCursor, RangeSize: 20, MaxPagesToLoad: 2})

	// Page 10 needs 9 prerequisite hops, which exceeds MaxPagesToLoad.
	cmd := s.RequestLoad(9, PriorityNormal, CallerManual)
	msg := runCmd(t, cmd)

	errMsg, ok := msg.(viewportmsg.RangeErrorMsg)
	require.True(t, ok)
	assert.Equal(t, viewportmsg.ErrorKindSequentialRequired, errMsg.Kind)
}

func TestResetDuringLoad_AbortCountsAsCancelledNotFailed(t *testing.T) {
	// Scenario 6, scheduler-level: the range's stored abort handle
	// cancels the in-flight ctx (what Cache.Reset does for every pending
	// range);
	// the adapter observes cancellation and the scheduler must not
	// mark the range failed.
	cache := rangecache.New(20)
	blockingAdapter := &ctxWaitingAdapter{started: make(chan struct{})}
	s := New(cache, blockingAdapter, nil, Config{RangeSize: 20})

	cmd := s.RequestLoad(0, PriorityNormal, CallerManual)
	require.NotNil(t, cmd)

	msgCh := make(chan tea.Msg, 1)
	go func() { msgCh <- cmd() }()

	blockingAdapter.waitUntilReading()
	cache.Abort(0)

	select {
	case msg := <-msgCh:
		assert.Nil(t, msg, "an aborted load resolves silently, no RangeErrorMsg")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not observe the abort")
	}

	_, failed := cache.FailedInfo(0)
	assert.False(t, failed, "cancellation must not be recorded as a failure")
	assert.Equal(t, 1, s.Counters().Cancelled)
}

// ctxWaitingAdapter blocks Read until the context is cancelled, to
// deterministically exercise the abort-during-load race.
type ctxWaitingAdapter struct {
	started chan struct{}
	once    sync.Once
}

func (a *ctxWaitingAdapter) waitUntilReading() {
	<-a.started
}

func (a *ctxWaitingAdapter) Read(ctx context.Context, params adapter.Params) (adapter.Response, error) {
	a.once.Do(func() { close(a.started) })
	<-ctx.Done()
	return adapter.Response{}, &adapter.AbortError{Cause: ctx.Err()}
}
