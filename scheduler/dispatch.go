package scheduler

import (
	"context"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/scrollcore/viewport/adapter"
	"github.com/scrollcore/viewport/rangecache"
	"github.com/scrollcore/viewport/viewportmsg"
)

// dispatch builds the tea.Cmd that performs one range's load. Cursor-
// strategy loads whose prerequisite page cursor is unknown resolve the
// missing prefix sequentially, in-goroutine, before attempting the
// requested page: cursor pagination never issues parallel calls.
func (s *Scheduler) dispatch(id rangecache.RangeID, priority Priority, key string) tea.Cmd {
	return func() tea.Msg {
		// Read before MarkPending, which clears id's FailInfo.
		attempt := s.nextAttempt(id)
		ctx, cancel := context.WithCancel(context.Background())
		s.cache.MarkPending(id, cancel)

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finishCancelled(id)
			return nil
		}
		defer s.sem.Release(1)

		start, end := s.cache.RangeBounds(id)
		limit := end - start

		if s.cfg.Strategy == adapter.StrategyCursor {
			page := uint64(id) + 1
			if err := s.resolveCursorPrereqs(ctx, page); err != nil {
				if adapter.IsAbort(err) {
					return s.finishCancelled(id)
				}
				return s.finishError(id, viewportmsg.ErrorKindSequentialRequired, err, attempt)
			}
		}

		params := s.buildParams(id, start, limit)
		return s.load(ctx, id, key, start, limit, params, attempt)
	}
}

// nextAttempt returns the 1-based attempt number a load about to be
// dispatched for id represents: one past whatever attempt count is
// already on record in FailInfo, or 1 if id has never failed.
func (s *Scheduler) nextAttempt(id rangecache.RangeID) int {
	if info, ok := s.cache.FailedInfo(id); ok {
		return info.Attempts + 1
	}
	return 1
}

// resolveCursorPrereqs fetches, sequentially, every cursor page below
// targetPage whose cursor is not yet known, up to maxPagesToLoad
// hops. Each resolved page is stored into the cache and reported via
// the Scheduler's Sender directly (it cannot be the Cmd's return
// value — only the final target page's result is).
func (s *Scheduler) resolveCursorPrereqs(ctx context.Context, targetPage uint64) error {
	if targetPage <= 1 {
		return nil
	}

	s.mu.Lock()
	if _, known := s.cursorMap[targetPage-1]; known {
		s.mu.Unlock()
		return nil
	}
	firstMissing := targetPage - 1
	for firstMissing > 1 {
		if _, ok := s.cursorMap[firstMissing-1]; ok {
			break
		}
		firstMissing--
	}
	s.mu.Unlock()

	var errs *multierror.Error
	hops := 0
	for page := firstMissing; page < targetPage; page++ {
		hops++
		if hops > s.cfg.MaxPagesToLoad {
			return &adapter.SequentialRequiredError{Page: targetPage, MissingPage: page}
		}

		s.mu.Lock()
		cursor := s.cursorMap[page-1]
		s.mu.Unlock()

		prereqID := rangecache.RangeID(page - 1)
		limit := s.cfg.RangeSize
		attempt := s.nextAttempt(prereqID)
		s.cache.MarkPending(prereqID, nil)

		resp, err := s.adapter.Read(ctx, adapter.Params{Strategy: adapter.StrategyCursor, Cursor: cursor, Limit: limit})
		if err != nil {
			if adapter.IsAbort(err) {
				return err
			}
			errs = multierror.Append(errs, err)
			s.finishError(prereqID, viewportmsg.ErrorKindTransport, err, attempt)
			return errs.ErrorOrNil()
		}

		offset := (page - 1) * limit
		msg := s.commitResponse(prereqID, offset, limit, resp)
		if s.program != nil {
			s.program.Send(msg)
		}
	}
	return nil
}

func (s *Scheduler) buildParams(id rangecache.RangeID, start, limit uint64) adapter.Params {
	switch s.cfg.Strategy {
	case adapter.StrategyPage:
		return adapter.Params{Strategy: adapter.StrategyPage, Page: start/limit + 1, Limit: limit}
	case adapter.StrategyCursor:
		page := uint64(id) + 1
		s.mu.Lock()
		cursor := s.cursorMap[page-1]
		s.mu.Unlock()
		return adapter.Params{Strategy: adapter.StrategyCursor, Cursor: cursor, Limit: limit}
	default:
		return adapter.Params{Strategy: adapter.StrategyOffset, Offset: start, Limit: limit}
	}
}

// load performs the single adapter.Read for id and returns the
// resulting tea.Msg, handling retry bookkeeping on failure and the
// transform/total/cursor special cases on success. The call is routed
// through singleflight keyed by the range's "start-end" identity so a
// second, independently-triggered dispatch for the exact same window
// (a race the activeKeys bookkeeping is meant to prevent, but two
// callers can still land here concurrently from OnIdle and a queued
// drain in the same tick) shares the one in-flight request instead of
// issuing a duplicate.
func (s *Scheduler) load(ctx context.Context, id rangecache.RangeID, key string, offset, limit uint64, params adapter.Params, attempt int) tea.Msg {
	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.adapter.Read(ctx, params)
	})
	var resp adapter.Response
	if err == nil {
		resp = v.(adapter.Response)
	}
	if err != nil {
		if adapter.IsAbort(err) {
			return s.finishCancelled(id)
		}
		return s.finishError(id, viewportmsg.ErrorKindTransport, err, attempt)
	}
	return s.commitResponse(id, offset, limit, resp)
}

// commitResponse applies transform, stores items, updates cursor/end
// bookkeeping, computes the reported total per reportedTotal's special
// cases, and returns the RangeLoadedMsg.
func (s *Scheduler) commitResponse(id rangecache.RangeID, offset, limit uint64, resp adapter.Response) tea.Msg {
	items := resp.Items
	if s.cfg.Transform != nil {
		transformed := make([]any, len(items))
		for i, it := range items {
			transformed[i] = s.cfg.Transform(it)
		}
		items = transformed
	}

	s.cache.CompleteLoad(id, offset, items)

	s.mu.Lock()
	if s.cfg.Strategy == adapter.StrategyCursor {
		page := uint64(id) + 1
		if resp.Cursor != nil {
			s.cursorMap[page] = *resp.Cursor
		}
		if page > s.highestLoadedPage {
			s.highestLoadedPage = page
		}
		if resp.HasNext != nil && !*resp.HasNext {
			s.hasReachedEnd = true
		}
	}
	s.counters.Completed++
	hasReachedEnd := s.hasReachedEnd
	s.mu.Unlock()

	total := s.reportedTotal(id, offset, len(items), resp, hasReachedEnd)

	return viewportmsg.RangeLoadedMsg{ID: id, Offset: offset, Limit: limit, Items: items, Total: total}
}

// reportedTotal handles two special cases: a zero-item page 1 forces
// totalItems=0, and cursor-mode otherwise reports a synthetic,
// monotonically-growing virtual total while the end of the stream
// hasn't been reached.
func (s *Scheduler) reportedTotal(id rangecache.RangeID, offset uint64, itemCount int, resp adapter.Response, hasReachedEnd bool) *int {
	if id == 0 && offset == 0 && itemCount == 0 {
		zero := 0
		return &zero
	}
	if resp.Total != nil {
		return resp.Total
	}
	if s.cfg.Strategy != adapter.StrategyCursor {
		return nil
	}

	margin := int(s.cfg.RangeSize) * 3
	if hasReachedEnd {
		margin = 0
	}
	minVirtual := int(s.cfg.RangeSize) * 3
	synthetic := s.cache.CachedItemCount() + margin
	if synthetic < minVirtual {
		synthetic = minVirtual
	}
	return &synthetic
}

func (s *Scheduler) finishError(id rangecache.RangeID, kind viewportmsg.ErrorKind, err error, attempt int) tea.Msg {
	s.cache.MarkFailed(id, err, attempt, time.Now())
	s.mu.Lock()
	s.counters.Failed++
	s.mu.Unlock()
	return viewportmsg.RangeErrorMsg{ID: id, Kind: kind, Err: err, Attempts: attempt}
}

func (s *Scheduler) finishCancelled(id rangecache.RangeID) tea.Msg {
	s.mu.Lock()
	s.counters.Cancelled++
	s.mu.Unlock()
	return nil
}

// RetryAfter reports how long the caller must still wait before id's
// failed load may be retried, honoring the exponential backoff window.
// Zero means id may be retried now (or has no failure recorded).
func (s *Scheduler) RetryAfter(id rangecache.RangeID) time.Duration {
	info, ok := s.cache.FailedInfo(id)
	if !ok {
		return 0
	}
	wait := backoff(info.Attempts) - time.Since(info.FailTime)
	if wait < 0 {
		return 0
	}
	return wait
}
