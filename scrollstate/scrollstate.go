// Package scrollstate turns wheel and click input into a single
// authoritative scroll position, a signed velocity, and render-frame
// coalescing — the component sitting between raw input and the
// Controller. It also hosts the click-anchor discriminator that tells
// a deliberate click apart from a free-spinning wheel's residual
// inertia.
package scrollstate

import (
	"math"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/scrollcore/viewport/geometry"
	"github.com/scrollcore/viewport/viewportmsg"
)

// frameDuration is this package's RAF-equivalent cadence (20 Hz) for
// per-frame coalescing.
const frameDuration = 50 * time.Millisecond

// Orientation selects which wheel axis and container dimension drive
// scrolling.
type Orientation int

const (
	OrientationVertical Orientation = iota
	OrientationHorizontal
)

// Alignment controls where scrollToIndex/scrollToPage place the target
// item within the container.
type Alignment int

const (
	AlignStart Alignment = iota
	AlignCenter
	AlignEnd
)

// DefaultSensitivity is applied when Options.Sensitivity is left zero.
const DefaultSensitivity = 0.2

// Options configures a ScrollState at construction.
type Options struct {
	Orientation Orientation
	Sensitivity float64
	Smoothing   bool
}

func (o Options) withDefaults() Options {
	if o.Sensitivity == 0 {
		o.Sensitivity = DefaultSensitivity
	}
	return o
}

// ScrollState is the single source of truth for scroll position and
// velocity. It is not a tea.Model itself — the Controller owns the
// Update loop and forwards wheel/click/tick messages into it, batching
// whatever tea.Cmd comes back.
type ScrollState struct {
	opts Options
	cfg  geometry.Config

	position float64
	tracker  *SpeedTracker

	renderScheduled bool
	isScrolling     bool
	hasEmittedIdle  bool
	lastFramePos    float64
	haveLastFrame   bool

	anchor anchorState
}

// New constructs a ScrollState. cfg may be the zero Config — clamping
// is deferred until SetGeometry reports a non-zero TotalItems, so a
// configured initial index survives the gap between viewport creation
// and the first page of data arriving.
func New(cfg geometry.Config, opts Options) *ScrollState {
	return &ScrollState{
		opts:    opts.withDefaults(),
		cfg:     cfg,
		tracker: NewSpeedTracker(),
	}
}

// Position returns the current authoritative scroll position.
func (s *ScrollState) Position() float64 {
	return s.position
}

// Velocity returns the SpeedTracker's current signed pixels/ms figure.
func (s *ScrollState) Velocity() float64 {
	return s.tracker.Velocity()
}

// IsScrolling reports whether the idle-detection loop still considers
// a gesture in progress.
func (s *ScrollState) IsScrolling() bool {
	return s.isScrolling
}

// SetGeometry updates the dimensions clamping is computed against.
// Safe to call at any point in the lifecycle; until cfg.TotalItems is
// non-zero, ScrollBy/ScrollToPosition only floor-clamp at zero.
func (s *ScrollState) SetGeometry(cfg geometry.Config) {
	s.cfg = cfg
	s.position = s.clamp(s.position)
}

func (s *ScrollState) clamp(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if s.cfg.TotalItems == 0 || s.cfg.ItemSize <= 0 {
		return pos
	}
	maxScroll := geometry.TotalVirtualSize(s.cfg.TotalItems, s.cfg.ItemSize, 0, s.cfg.MaxVirtualSize) - s.cfg.ContainerSize
	if maxScroll < 0 {
		maxScroll = 0
	}
	if pos > maxScroll {
		return maxScroll
	}
	return pos
}

func cmdOf(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

func tickCmd() tea.Cmd {
	return tea.Tick(frameDuration, func(t time.Time) tea.Msg {
		return viewportmsg.TickMsg{Time: t.UnixNano()}
	})
}

func (s *ScrollState) scheduleFrame() tea.Cmd {
	if s.renderScheduled {
		return nil
	}
	s.renderScheduled = true
	return tickCmd()
}

// HandleWheel folds one wheel event into position/velocity:
// deltaY·sensitivity (deltaX for horizontal orientation), optional 0.3
// smoothing, clamp, SpeedTracker update, coalesced into the next
// HandleTick via scheduleFrame. While a click-anchor is active the
// event is examined by the anchor discriminator and, if still anchored
// afterward, swallowed — position is forced back to the anchor point
// instead of moving.
func (s *ScrollState) HandleWheel(msg viewportmsg.WheelMsg) tea.Cmd {
	raw := msg.DeltaY
	if s.opts.Orientation == OrientationHorizontal {
		raw = msg.DeltaX
	}
	delta := raw * s.opts.Sensitivity
	if s.opts.Smoothing {
		delta *= 0.3
	}

	nowMS := float64(msg.Time) / 1e6

	if s.anchor.active {
		if release := s.anchor.observe(math.Abs(delta), nowMS); release {
			s.anchor = anchorState{}
		}
	}

	if s.anchor.active {
		s.position = s.anchor.position
	} else {
		s.position = s.clamp(s.position + delta)
	}

	s.tracker.Update(s.position, msg.Time)
	s.isScrolling = true
	s.hasEmittedIdle = false
	return s.scheduleFrame()
}

// HandleClick establishes a click-anchor at the current scroll
// position, mirroring a mousedown in a pointer-driven scroll view.
func (s *ScrollState) HandleClick(msg viewportmsg.ClickMsg) {
	nowMS := float64(msg.Time) / 1e6
	s.anchor = beginAnchor(s.position, nowMS)
}

// HandleTick is the RAF-equivalent callback: it emits the coalesced
// ScrollMsg/VelocityChangedMsg pair for every wheel event folded in
// since the previous frame, and runs idle detection while a gesture is
// still in progress — emitting IdleMsg exactly once per gesture and
// stopping the loop once two consecutive frames report the same
// position.
func (s *ScrollState) HandleTick(msg viewportmsg.TickMsg, visible geometry.Range) tea.Cmd {
	s.renderScheduled = false

	cmds := []tea.Cmd{
		cmdOf(viewportmsg.ScrollMsg{Position: s.position}),
		cmdOf(viewportmsg.VelocityChangedMsg{Velocity: s.tracker.Velocity(), Direction: s.tracker.Direction()}),
	}

	if !s.isScrolling {
		return tea.Batch(cmds...)
	}

	if s.haveLastFrame && s.lastFramePos == s.position {
		if !s.hasEmittedIdle {
			s.hasEmittedIdle = true
			s.isScrolling = false
			s.tracker.Reset()
			cmds = append(cmds, cmdOf(viewportmsg.IdleMsg{VisibleRange: visible}))
		}
		s.haveLastFrame = false
		return tea.Batch(cmds...)
	}

	s.lastFramePos = s.position
	s.haveLastFrame = true
	s.renderScheduled = true
	cmds = append(cmds, tickCmd())
	return tea.Batch(cmds...)
}

// ScrollBy nudges the position by delta and re-enters the render path
// via an immediate ScrollPositionSyncMsg (a programmatic move, not a
// device event, so it bypasses the wheel coalescer).
func (s *ScrollState) ScrollBy(delta float64) tea.Cmd {
	s.position = s.clamp(s.position + delta)
	return cmdOf(viewportmsg.ScrollPositionSyncMsg{Position: s.position})
}

// ScrollToPosition jumps directly to pos, clamped.
func (s *ScrollState) ScrollToPosition(pos float64) tea.Cmd {
	s.position = s.clamp(pos)
	return cmdOf(viewportmsg.ScrollPositionSyncMsg{Position: s.position})
}

// ScrollToIndex positions index at the requested edge of the
// container, accounting for virtual-space compression the same way
// geometry.PositionForItem does. Capping a cursor-mode jump to
// highestLoadedPage+maxPagesToLoad is enforced by the scheduler's
// sequential-chain ceiling, not here: ScrollState only ever moves the
// visual position, it never decides which pages to load.
func (s *ScrollState) ScrollToIndex(index uint64, alignment Alignment) tea.Cmd {
	s.position = s.clamp(s.positionForIndex(index, alignment))
	return cmdOf(viewportmsg.ScrollPositionSyncMsg{Position: s.position})
}

// ScrollToPage converts a 1-based page number and page size into an
// item index and delegates to ScrollToIndex.
func (s *ScrollState) ScrollToPage(page, limit uint64, alignment Alignment) tea.Cmd {
	if page == 0 {
		page = 1
	}
	index := (page - 1) * limit
	return s.ScrollToIndex(index, alignment)
}

func (s *ScrollState) positionForIndex(index uint64, alignment Alignment) float64 {
	cfg := s.cfg
	if cfg.ItemSize <= 0 {
		return s.position
	}

	ratio := 1.0
	if cfg.TotalItems > 0 {
		rawExtent := float64(cfg.TotalItems) * cfg.ItemSize
		if rawExtent > 0 {
			ratio = geometry.TotalVirtualSize(cfg.TotalItems, cfg.ItemSize, 0, cfg.MaxVirtualSize) / rawExtent
		}
	}

	itemExtent := cfg.ItemSize * ratio
	pos := float64(index) * itemExtent
	switch alignment {
	case AlignCenter:
		pos -= (cfg.ContainerSize - itemExtent) / 2
	case AlignEnd:
		pos -= cfg.ContainerSize - itemExtent
	}
	return pos
}
