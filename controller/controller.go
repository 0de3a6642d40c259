// Package controller wires Geometry, RangeCache, Scheduler and
// ScrollState into a single orchestration surface: the Controller owns
// no transport and no rendering of its own, it only routes viewportmsg
// traffic between the four subsystems and exposes the external API a
// host Program drives.
//
// Model is not a top-level tea.Model — it is meant to be embedded by a
// host application's own root model, forwarding messages in and
// batching whatever tea.Cmd comes back.
package controller

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	tea "charm.land/bubbletea/v2"

	"github.com/scrollcore/viewport/adapter"
	"github.com/scrollcore/viewport/geometry"
	"github.com/scrollcore/viewport/logging"
	"github.com/scrollcore/viewport/rangecache"
	"github.com/scrollcore/viewport/scheduler"
	"github.com/scrollcore/viewport/scrollstate"
	"github.com/scrollcore/viewport/style"
	"github.com/scrollcore/viewport/viewportmsg"
)

// Config enumerates every recognized tuning option, grouped by the
// subsystem each one configures. Zero values fall back to sensible
// defaults; the three "default true" behavior flags use *bool so
// "unset" and "explicitly false" are distinguishable, the idiomatic
// optional-bool pattern for config structs with a true-by-default
// field.
type Config struct {
	// Geometry
	ItemSize           float64
	ContainerSize      float64
	Overscan           uint64
	Orientation        scrollstate.Orientation
	AutoDetectItemSize *bool

	// Cache
	RangeSize      uint64
	MaxCachedItems int
	EvictionBuffer uint64

	// Scheduler
	Strategy              adapter.Strategy
	CancelLoadThreshold   float64
	MaxConcurrentRequests int
	EnableRequestQueue    *bool
	MaxQueueSize          int
	Transform             func(any) any

	// Positioning
	InitialScrollIndex uint64
	SelectID           string
	AutoLoad           *bool
	AutoSelectFirst    bool

	// Behavior
	StopOnClick *bool
	Sensitivity float64
	Smoothing   bool

	// Rendering — Width is the column width passed to an adapter.Item's
	// Render/Height; it defaults to 80 if unset. ItemRenderer is the
	// fallback for items that don't implement adapter.Item; View falls
	// back further still to a plain "%v" render if that is also unset.
	Width        int
	ItemRenderer func(item any, index uint64) string

	// Logger receives InvariantViolation reports (NaN scroll position,
	// etc.); nil disables reporting entirely.
	Logger *slog.Logger
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (c Config) withDefaults() Config {
	if c.Overscan == 0 {
		c.Overscan = 2
	}
	if c.Sensitivity == 0 {
		c.Sensitivity = scrollstate.DefaultSensitivity
	}
	if c.AutoDetectItemSize == nil {
		auto := c.ItemSize == 0
		c.AutoDetectItemSize = &auto
	}
	if c.Width == 0 {
		c.Width = 80
	}
	return c
}

// Model is the Controller. The zero value is not usable; construct
// with New.
type Model struct {
	cfg Config
	geo geometry.Config

	cache  *rangecache.Cache
	sched  *scheduler.Scheduler
	scroll *scrollstate.ScrollState

	state LifecycleState

	visible         geometry.Range
	discoveredTotal uint64
	totalKnown      bool

	targetScrollIndex       *uint64
	initialPositionLoadDone bool
	itemSizeDetected        bool
	pendingAutoSelect       bool

	invariants *logging.InvariantViolation
}

// New constructs a Controller Model against ad and program. program
// is the Scheduler's Sender: it receives the RangeLoadedMsg of each
// cursor-mode prerequisite page, as the scheduler package documents.
func New(ad adapter.Adapter, program scheduler.Sender, cfg Config) Model {
	cfg = cfg.withDefaults()

	cache := rangecache.New(cfg.RangeSize,
		rangecache.WithMaxCachedItems(orDefaultInt(cfg.MaxCachedItems, rangecache.DefaultMaxCachedItems)),
		rangecache.WithEvictionBuffer(orDefaultUint(cfg.EvictionBuffer, rangecache.DefaultEvictionBuffer)),
	)

	// EnableRequestQueue=false has no distinct zero to express to the
	// Scheduler (MaxQueueSize==0 means "use the default" there, the
	// same convention every Config in this module follows) — the one
	// knob that actually starves the queue is MaxQueueSize itself, so
	// a caller disabling the queue sets MaxQueueSize alongside it.
	sched := scheduler.New(cache, ad, program, scheduler.Config{
		Strategy:              cfg.Strategy,
		RangeSize:             cfg.RangeSize,
		CancelLoadThreshold:   cfg.CancelLoadThreshold,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		MaxQueueSize:          cfg.MaxQueueSize,
		Transform:             cfg.Transform,
	})

	geo := geometry.Config{
		ItemSize:      cfg.ItemSize,
		ContainerSize: cfg.ContainerSize,
		Overscan:      cfg.Overscan,
	}

	scroll := scrollstate.New(geo, scrollstate.Options{
		Orientation: cfg.Orientation,
		Sensitivity: cfg.Sensitivity,
		Smoothing:   cfg.Smoothing,
	})

	m := Model{
		cfg:    cfg,
		geo:    geo,
		cache:  cache,
		sched:  sched,
		scroll: scroll,
		state:  Unmounted,
	}
	if cfg.InitialScrollIndex > 0 {
		idx := cfg.InitialScrollIndex
		m.targetScrollIndex = &idx
	}
	if cfg.Logger != nil {
		m.invariants = logging.NewInvariantLog(cfg.Logger)
	}
	return m
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultUint(v uint64, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

// Init transitions Unmounted -> Initialized -> Active and performs the
// initial-load policy: with no initialScrollIndex and no selectId,
// load page zero; with an initialScrollIndex, compute the visible
// range around it via Geometry and load exactly that, marking the
// positional load done synchronously so ordinary range-changed
// handling takes over from the next frame on.
func (m Model) Init() (Model, tea.Cmd) {
	m.state = Initialized
	m.state = Active

	if !boolOr(m.cfg.AutoLoad, true) {
		return m, nil
	}

	visible := geometry.VisibleRange(m.scroll.Position(), m.geo, m.targetScrollIndex)
	m.visible = visible

	var cmds []tea.Cmd
	cmds = append(cmds, cmdOf(viewportmsg.RangeChangedMsg{Range: visible}))

	if m.targetScrollIndex != nil {
		m.initialPositionLoadDone = true
		for _, id := range m.cache.MissingRangeIDs(visible.Start, visible.End) {
			if cmd := m.sched.RequestLoad(id, scheduler.PriorityHigh, scheduler.CallerManual); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	} else {
		id := m.cache.RangeIDFor(0)
		if cmd := m.sched.RequestLoad(id, scheduler.PriorityHigh, scheduler.CallerManual); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	if m.cfg.AutoSelectFirst {
		m.pendingAutoSelect = true
	}

	return m, tea.Batch(cmds...)
}

func cmdOf(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// Update routes one viewportmsg (or terminal input event) through the
// Controller. Every message is a no-op once the lifecycle has reached
// Destroyed.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.state == Destroyed {
		return m, nil
	}

	switch msg := msg.(type) {
	case viewportmsg.WheelMsg:
		cmd := m.scroll.HandleWheel(msg)
		return m, cmd

	case viewportmsg.ClickMsg:
		if boolOr(m.cfg.StopOnClick, true) {
			m.scroll.HandleClick(msg)
		}
		return m, nil

	case viewportmsg.TickMsg:
		cmd := m.scroll.HandleTick(msg, m.visible)
		return m, cmd

	case viewportmsg.ScrollMsg:
		return m.onPositionUpdate(msg.Position)

	case viewportmsg.ScrollPositionSyncMsg:
		return m.onPositionUpdate(msg.Position)

	case viewportmsg.VelocityChangedMsg:
		cmd := m.sched.SetVelocity(msg.Velocity)
		return m, cmd

	case viewportmsg.IdleMsg:
		cmd := m.sched.OnIdle(msg.VisibleRange)
		return m, cmd

	case viewportmsg.RangeLoadedMsg:
		return m.handleRangeLoaded(msg)

	case viewportmsg.RangeErrorMsg:
		cmd := m.sched.HandleResult(msg.ID)
		return m, cmd

	case viewportmsg.ItemRemovedMsg:
		if m.totalKnown && m.discoveredTotal > 0 {
			m.discoveredTotal--
			m.geo.TotalItems = m.discoveredTotal
		}
		return m, cmdOf(viewportmsg.ItemsChangedMsg{})

	case viewportmsg.DragStartMsg:
		m.sched.SetDragging(true)
		return m, nil

	case viewportmsg.DragEndMsg:
		m.sched.SetDragging(false)
		return m, nil

	case viewportmsg.ContainerSizeChangedMsg:
		return m.setContainerSize(float64(msg.Height))

	case viewportmsg.ItemSizeDetectedMsg:
		return m.onItemSizeDetected(msg.ItemSize)

	case viewportmsg.ReloadStartMsg:
		return m.reload()

	case viewportmsg.ClearedMsg:
		return m.Reset()
	}

	return m, nil
}

// setContainerSize updates the container dimension driving Geometry
// and re-derives the visible range, exactly as a terminal resize does.
func (m Model) setContainerSize(size float64) (Model, tea.Cmd) {
	m.geo.ContainerSize = size
	m.scroll.SetGeometry(m.geo)
	cmd := cmdOf(viewportmsg.VirtualSizeChangedMsg{VirtualSize: m.geo.VirtualSize()})
	next, rcCmd := m.processRangeChanged(geometry.VisibleRange(m.scroll.Position(), m.geo, nil))
	return next, tea.Batch(cmd, rcCmd)
}

// onPositionUpdate recomputes the visible range for a new scroll
// position and, if it changed, re-enters range-changed handling. A NaN
// position is an invariant violation: Geometry already normalizes it
// to an empty range, but the Controller logs it once per process
// before accepting that degraded result.
func (m Model) onPositionUpdate(pos float64) (Model, tea.Cmd) {
	if math.IsNaN(pos) && m.invariants != nil {
		m.invariants.Report("nan-scroll-position", "ScrollMsg/ScrollPositionSyncMsg carried a NaN position")
	}
	visible := geometry.VisibleRange(pos, m.geo, nil)
	if visible == m.visible {
		return m, nil
	}
	return m.processRangeChanged(visible)
}

// processRangeChanged implements the viewport:range-changed subscription:
// request every missing RangeID in the new visible window (suppressing
// the page-1 load while an initialScrollIndex positional load is still
// outstanding), then evict ranges that have scrolled out of the keep
// window.
func (m Model) processRangeChanged(visible geometry.Range) (Model, tea.Cmd) {
	m.visible = visible
	cmds := []tea.Cmd{cmdOf(viewportmsg.RangeChangedMsg{Range: visible})}

	suppressPageZero := m.targetScrollIndex != nil && !m.initialPositionLoadDone
	pageZero := m.cache.RangeIDFor(0)

	for _, id := range m.cache.MissingRangeIDs(visible.Start, visible.End) {
		if suppressPageZero && id == pageZero {
			continue
		}
		if cmd := m.sched.RequestLoad(id, scheduler.PriorityNormal, scheduler.CallerRangeChanged); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	result := m.cache.Evict(visible.Start, visible.End)
	if result.Count > 0 {
		cmds = append(cmds, cmdOf(viewportmsg.ItemsEvictedMsg{
			KeepStart: result.KeepStart,
			KeepEnd:   result.KeepEnd,
			Count:     result.Count,
		}))
	}

	return m, tea.Batch(cmds...)
}

// handleRangeLoaded implements collection:range-loaded: store the
// page, apply the discovered total (a nil total leaves the current
// total untouched; a non-nil 0 is applied as an empty collection),
// recompute the visible range when the total changed, release the
// scheduler's bookkeeping for the range, and replace placeholders in
// the overlap with the visible window.
func (m Model) handleRangeLoaded(msg viewportmsg.RangeLoadedMsg) (Model, tea.Cmd) {
	replaced := make([]uint64, 0, len(msg.Items))
	for i := range msg.Items {
		idx := msg.Offset + uint64(i)
		if _, ok := m.cache.Get(idx); !ok {
			replaced = append(replaced, idx)
		}
	}

	loaded := m.cache.CompleteLoad(msg.ID, msg.Offset, msg.Items)

	var cmds []tea.Cmd
	totalChanged := false
	if msg.Total != nil {
		changed := !m.totalKnown || m.discoveredTotal != uint64(*msg.Total)
		totalChanged = changed
		m.totalKnown = true
		m.discoveredTotal = uint64(*msg.Total)
		m.geo.TotalItems = m.discoveredTotal
		m.scroll.SetGeometry(m.geo)
		if changed {
			cmds = append(cmds, cmdOf(viewportmsg.TotalItemsChangedMsg{Total: m.discoveredTotal}))
			if syncCmd := m.resyncTargetIndex(); syncCmd != nil {
				cmds = append(cmds, syncCmd)
			}
		}
	}

	if cmd := m.sched.HandleResult(msg.ID); cmd != nil {
		cmds = append(cmds, cmd)
	}

	if totalChanged {
		next, rcCmd := m.processRangeChanged(geometry.VisibleRange(m.scroll.Position(), m.geo, nil))
		m = next
		cmds = append(cmds, rcCmd)
	}

	if loaded {
		start, end := m.cache.RangeBounds(msg.ID)
		overlap := intersect(geometry.Range{Start: start, End: end}, m.visible)
		cmds = append(cmds, cmdOf(viewportmsg.CollectionRangeLoadedMsg{ID: msg.ID, Range: overlap}))
		for _, idx := range replaced {
			cmds = append(cmds, cmdOf(viewportmsg.PlaceholderReplacedMsg{Index: idx}))
		}
	}

	if m.pendingAutoSelect && len(msg.Items) > 0 {
		m.pendingAutoSelect = false
		selectID := m.cfg.SelectID
		if id, ok := itemID(msg.Items[0]); ok {
			selectID = id
		}
		cmds = append(cmds, cmdOf(viewportmsg.InitialLoadCompleteMsg{SelectID: selectID}))
	}

	return m, tea.Batch(cmds...)
}

// itemID extracts a stable identifier from an item for auto-select,
// recognizing the common `ID() string` and `{ID string}` shapes
// without requiring every adapter to implement a shared interface.
func itemID(item any) (string, bool) {
	type hasID interface{ ID() string }
	if v, ok := item.(hasID); ok {
		return v.ID(), true
	}
	if v, ok := item.(struct{ ID string }); ok {
		return v.ID, true
	}
	return "", false
}

// resyncTargetIndex re-derives the scroll position once totalItems
// first arrives while a targetScrollIndex is outstanding: only
// necessary when the full extent would exceed MAX_VIRTUAL_SIZE, since
// otherwise the position Geometry already computed is exact.
func (m *Model) resyncTargetIndex() tea.Cmd {
	if m.targetScrollIndex == nil || m.discoveredTotal == 0 {
		return nil
	}
	rawExtent := float64(m.discoveredTotal) * m.geo.ItemSize
	maxVirtual := m.geo.MaxVirtualSize
	if maxVirtual == 0 {
		maxVirtual = geometry.DefaultMaxVirtualSize
	}
	if rawExtent <= maxVirtual {
		return nil
	}
	pos := (float64(*m.targetScrollIndex) / float64(m.discoveredTotal)) * maxVirtual
	cmd := m.scroll.ScrollToPosition(pos)
	return cmd
}

// onItemSizeDetected implements the optional item-size auto-detection
// step: fires at most once per mount, recomputes virtual size and
// visible range, and re-derives the scroll position if a
// targetScrollIndex is still outstanding.
func (m Model) onItemSizeDetected(itemSize float64) (Model, tea.Cmd) {
	if m.itemSizeDetected || !boolOr(m.cfg.AutoDetectItemSize, m.cfg.ItemSize == 0) {
		return m, nil
	}
	m.itemSizeDetected = true
	m.geo.ItemSize = itemSize
	m.scroll.SetGeometry(m.geo)

	cmds := []tea.Cmd{cmdOf(viewportmsg.VirtualSizeChangedMsg{VirtualSize: m.geo.VirtualSize()})}
	if cmd := m.resyncTargetIndex(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	next, rcCmd := m.processRangeChanged(geometry.VisibleRange(m.scroll.Position(), m.geo, m.targetScrollIndex))
	cmds = append(cmds, rcCmd)
	return next, tea.Batch(cmds...)
}

// reload implements reload:start: discard all caches but keep the
// current scroll position, then re-request the range it now implies.
func (m Model) reload() (Model, tea.Cmd) {
	m.cache.Reset()
	cmds := []tea.Cmd{cmdOf(viewportmsg.ReloadStartMsg{})}
	next, rcCmd := m.processRangeChanged(m.visible)
	cmds = append(cmds, rcCmd)
	return next, tea.Batch(cmds...)
}

// Reset implements the `active -> active` self-loop: full state
// clear, scroll position zeroed, configuration preserved.
func (m Model) Reset() (Model, tea.Cmd) {
	m.cache.Reset()
	m.scroll = scrollstate.New(m.geo, scrollstate.Options{
		Orientation: m.cfg.Orientation,
		Sensitivity: m.cfg.Sensitivity,
		Smoothing:   m.cfg.Smoothing,
	})
	m.visible = geometry.Range{}
	m.discoveredTotal = 0
	m.totalKnown = false
	m.geo.TotalItems = 0
	m.initialPositionLoadDone = false
	m.itemSizeDetected = false
	m.pendingAutoSelect = m.cfg.AutoSelectFirst

	if m.cfg.InitialScrollIndex > 0 {
		idx := m.cfg.InitialScrollIndex
		m.targetScrollIndex = &idx
	} else {
		m.targetScrollIndex = nil
	}

	return m, cmdOf(viewportmsg.ResetMsg{})
}

// Destroy transitions the lifecycle to Destroyed; every subsequent
// Update call becomes a no-op.
func (m Model) Destroy() Model {
	m.state = Destroyed
	return m
}

// VisibleRange returns the Controller's current visible window.
func (m Model) VisibleRange() geometry.Range { return m.visible }

// Position returns the current authoritative scroll position.
func (m Model) Position() float64 { return m.scroll.Position() }

// DiscoveredTotal returns the latest known item count, or (0, false)
// if the adapter has not reported meta.total yet.
func (m Model) DiscoveredTotal() (uint64, bool) { return m.discoveredTotal, m.totalKnown }

// Counters exposes the Scheduler's terminal-outcome tallies.
func (m Model) Counters() scheduler.Counters { return m.sched.Counters() }

// State returns the Controller's lifecycle state.
func (m Model) State() LifecycleState { return m.state }

// Item returns the item stored at index; an absent slot is presented
// to the template contract as rangecache.Placeholder{Index: index}
// (see rangecache.IsPlaceholder).
func (m Model) Item(index uint64) any {
	if v, ok := m.cache.Get(index); ok {
		return v
	}
	return rangecache.Placeholder{Index: index}
}

// View renders one line per row of the visible window (loaded items via
// their own adapter.Item Render when they implement it, else
// cfg.ItemRenderer, else a plain "%v" fallback; outstanding slots via
// style.PlaceholderItem), with a one-character scrollbar column down
// the right edge built from a single style.ScrollbarRender call — one
// rune per row, so the column reads as a vertical thumb/track without
// this package needing its own per-row bar math. Composition alongside
// other host chrome (headers, borders) is left to the embedding
// Program, same as the rows themselves.
func (m Model) View() string {
	rows := int(m.geo.ContainerSize)
	if rows <= 0 {
		return ""
	}

	bar := []rune(style.ScrollbarRender(m.scroll.Position(), m.geo.VirtualSize(), m.geo.ContainerSize, rows))

	lines := make([]string, rows)
	for i := 0; i < rows; i++ {
		idx := m.visible.Start + uint64(i)
		var content string
		if !m.visible.Empty() && idx < m.visible.End {
			content = m.renderRow(idx)
		}
		thumb := " "
		if i < len(bar) {
			thumb = string(bar[i])
		}
		lines[i] = content + " " + thumb
	}
	return strings.Join(lines, "\n")
}

// renderRow renders a single loaded or placeholder row. An item that
// implements adapter.Item renders itself; otherwise cfg.ItemRenderer is
// tried, then a plain "%v" as the last resort.
func (m Model) renderRow(idx uint64) string {
	item := m.Item(idx)
	if rangecache.IsPlaceholder(item) {
		return style.PlaceholderItem.Render(fmt.Sprintf("· loading #%d", idx))
	}
	if ri, ok := item.(adapter.Item); ok {
		return style.RealItem.Render(ri.Render(m.cfg.Width))
	}
	if m.cfg.ItemRenderer != nil {
		return m.cfg.ItemRenderer(item, idx)
	}
	return style.RealItem.Render(fmt.Sprintf("%v", item))
}

// ScrollBy, ScrollToPosition, ScrollToIndex and ScrollToPage are the
// programmatic scroll API, forwarded straight to ScrollState; the
// resulting ScrollPositionSyncMsg re-enters Update the same way a
// user-originated scroll event does.
func (m Model) ScrollBy(delta float64) tea.Cmd       { return m.scroll.ScrollBy(delta) }
func (m Model) ScrollToPosition(pos float64) tea.Cmd { return m.scroll.ScrollToPosition(pos) }

func (m Model) ScrollToIndex(index uint64, alignment scrollstate.Alignment) tea.Cmd {
	return m.scroll.ScrollToIndex(index, alignment)
}

func (m Model) ScrollToPage(page, limit uint64, alignment scrollstate.Alignment) tea.Cmd {
	return m.scroll.ScrollToPage(page, limit, alignment)
}

func intersect(a, b geometry.Range) geometry.Range {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	if end < start {
		return geometry.Range{}
	}
	return geometry.Range{Start: start, End: end}
}
