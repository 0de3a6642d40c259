// Package geometry provides pure, stateless mapping between item-index
// space and pixel/virtual-coordinate space for a virtual-scrolling
// viewport. Every function here is deterministic and side-effect free:
// given the same inputs it always returns the same output, and invalid
// inputs produce degenerate-but-safe zero values rather than panics or
// NaN.
package geometry

import "math"

// DefaultMaxVirtualSize is the safety ceiling on the virtual coordinate
// space (10^8 units); above it the virtual space is compressed.
const DefaultMaxVirtualSize = 1e8

// Range is an inclusive-start, half-open index interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Empty reports whether the range contains no indices.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Len returns the number of indices covered by the range.
func (r Range) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether index falls within the range.
func (r Range) Contains(index uint64) bool {
	return index >= r.Start && index < r.End
}

// Config carries the geometry parameters shared across the package's
// functions. ItemSize and ContainerSize are expressed in the same unit
// (terminal cells, pixels, whatever the embedding surface uses).
type Config struct {
	ItemSize       float64
	ContainerSize  float64
	TotalItems     uint64
	Overscan       uint64
	MaxVirtualSize float64 // 0 means DefaultMaxVirtualSize
}

func (c Config) maxVirtualSize() float64 {
	if c.MaxVirtualSize > 0 {
		return c.MaxVirtualSize
	}
	return DefaultMaxVirtualSize
}

// valid reports whether the config describes a usable, non-degenerate
// geometry. A zero ItemSize, zero ContainerSize, or zero TotalItems is
// not an error — it is the empty-list/zero-size boundary case, handled
// by returning an empty range.
func (c Config) valid() bool {
	return c.ItemSize > 0 && c.ContainerSize >= 0 && !math.IsNaN(c.ItemSize) && !math.IsNaN(c.ContainerSize)
}

// rawExtent is the uncompressed pixel extent of the whole sequence.
func (c Config) rawExtent() float64 {
	return float64(c.TotalItems) * c.ItemSize
}

// VirtualSize returns the (possibly compressed) pixel extent the
// scrollbar/host UI represents the sequence with.
func (c Config) VirtualSize() float64 {
	if !c.valid() || c.TotalItems == 0 {
		return 0
	}
	extent := c.rawExtent()
	max := c.maxVirtualSize()
	if extent > max {
		return max
	}
	return extent
}

// compressionRatio returns VirtualSize / rawExtent, or 1 when the raw
// extent is zero (nothing to compress).
func (c Config) compressionRatio() float64 {
	extent := c.rawExtent()
	if extent <= 0 {
		return 1
	}
	return c.VirtualSize() / extent
}

// TotalVirtualSize returns the pixel extent the scrollbar represents,
// including any fixed container padding, capped at MaxVirtualSize.
func TotalVirtualSize(totalItems uint64, itemSize, containerPadding float64, maxVirtualSize float64) float64 {
	if itemSize <= 0 || math.IsNaN(itemSize) || math.IsNaN(containerPadding) {
		return 0
	}
	if maxVirtualSize <= 0 {
		maxVirtualSize = DefaultMaxVirtualSize
	}
	size := float64(totalItems)*itemSize + containerPadding
	if size < 0 {
		size = 0
	}
	if size > maxVirtualSize {
		return maxVirtualSize
	}
	return size
}

// VisibleRange computes the inclusive-ish [Start, End) index range that
// should be rendered for the given scroll position, container size, item
// size, and total item count, extended by overscan on each side.
//
// targetIndex, when non-nil, overrides the computed Start with
// max(0, *targetIndex - overscan) — the escape hatch for initial-index
// loads under compression, where converting a huge index to an exact
// scroll position is inherently lossy.
func VisibleRange(scrollPos float64, cfg Config, targetIndex *uint64) Range {
	if !cfg.valid() || cfg.TotalItems == 0 || cfg.ContainerSize == 0 || math.IsNaN(scrollPos) {
		return Range{}
	}
	if scrollPos < 0 {
		scrollPos = 0
	}

	ratio := cfg.compressionRatio()
	var start, end float64

	if ratio >= 1 {
		start = math.Floor(scrollPos/cfg.ItemSize) - float64(cfg.Overscan)
		end = start + math.Ceil(cfg.ContainerSize/cfg.ItemSize) + 2*float64(cfg.Overscan)
	} else {
		virtualSize := cfg.VirtualSize()
		scrollRatio := scrollPos / virtualSize
		exactIndex := scrollRatio * float64(cfg.TotalItems)
		visibleCount := math.Ceil(cfg.ContainerSize / cfg.ItemSize)
		start = math.Floor(exactIndex)
		end = math.Ceil(exactIndex) + visibleCount

		start, end = applyNearBottomCorrection(scrollPos, cfg, start, end)
	}

	if targetIndex != nil {
		t := float64(*targetIndex)
		o := float64(cfg.Overscan)
		start = math.Max(0, t-o)
	}

	return clampRange(start, end, cfg.TotalItems)
}

// applyNearBottomCorrection interpolates near the bottom: as the scroll
// position approaches the end of the compressed virtual space, the
// computed start index is nudged toward firstVisibleAtBottom so the true
// last item remains exactly reachable despite compression rounding;
// within one unit of the bottom, end is pinned to the last index.
func applyNearBottomCorrection(scrollPos float64, cfg Config, start, end float64) (float64, float64) {
	virtualSize := cfg.VirtualSize()
	distanceFromBottom := (virtualSize - cfg.ContainerSize) - scrollPos

	if distanceFromBottom > cfg.ContainerSize {
		return start, end
	}

	firstVisibleAtBottom := float64(0)
	itemsPerContainer := math.Floor(cfg.ContainerSize / cfg.ItemSize)
	if float64(cfg.TotalItems) > itemsPerContainer {
		firstVisibleAtBottom = float64(cfg.TotalItems) - itemsPerContainer
	}

	if distanceFromBottom <= 1 {
		return start, float64(cfg.TotalItems) - 1
	}

	factor := 1 - distanceFromBottom/cfg.ContainerSize
	start = start + (firstVisibleAtBottom-start)*factor
	return start, end
}

// clampRange floors/ceils start/end to uint64 index space and clamps to
// [0, totalItems-1], guaranteeing a non-NaN, in-bounds result.
func clampRange(start, end float64, totalItems uint64) Range {
	if totalItems == 0 {
		return Range{}
	}
	if math.IsNaN(start) || math.IsNaN(end) {
		return Range{}
	}

	last := totalItems - 1

	si := clampFloat(start, 0, float64(last))
	ei := clampFloat(end, 0, float64(last))

	s := uint64(si)
	e := uint64(math.Ceil(ei))
	if e > last {
		e = last
	}
	if e < s {
		e = s
	}
	// Range is half-open; include the last computed index.
	return Range{Start: s, End: e + 1}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PositionForItem returns the pixel offset of index relative to the top
// (or left, for horizontal orientation) of the viewport, given the
// current scroll position.
func PositionForItem(index uint64, scrollPos float64, cfg Config) float64 {
	if !cfg.valid() || cfg.TotalItems == 0 {
		return 0
	}
	ratio := cfg.compressionRatio()
	if ratio >= 1 {
		return float64(index)*cfg.ItemSize - scrollPos
	}

	virtualSize := cfg.VirtualSize()
	scrollRatio := scrollPos / virtualSize
	pos := (float64(index) - scrollRatio*float64(cfg.TotalItems)) * cfg.ItemSize

	distanceFromBottom := (virtualSize - cfg.ContainerSize) - scrollPos
	if distanceFromBottom <= cfg.ContainerSize && distanceFromBottom > 0 {
		itemsPerContainer := math.Floor(cfg.ContainerSize / cfg.ItemSize)
		firstVisibleAtBottom := float64(0)
		if float64(cfg.TotalItems) > itemsPerContainer {
			firstVisibleAtBottom = float64(cfg.TotalItems) - itemsPerContainer
		}
		// Mirror the same interpolation used for the range's Start so the
		// rendered stack doesn't jitter relative to visibleRange's own
		// correction.
		factor := 1 - distanceFromBottom/cfg.ContainerSize
		adjustedScrollRatio := scrollRatio*(1-factor) + (firstVisibleAtBottom/float64(cfg.TotalItems))*factor
		pos = (float64(index) - adjustedScrollRatio*float64(cfg.TotalItems)) * cfg.ItemSize
	}
	return pos
}
