package main

import (
	"fmt"
	"strconv"
)

// demoRow is the synthetic item type the in-memory adapter serves when no
// --backend-url is given. It implements adapter.Item directly so the demo
// exercises the self-rendering template contract rather than going through
// a host-supplied ItemRenderer.
type demoRow struct {
	Index int
	Label string
}

func (r demoRow) ID() string           { return strconv.Itoa(r.Index) }
func (r demoRow) ContentVersion() int  { return 1 }
func (r demoRow) Height(width int) int { return 1 }

func (r demoRow) Render(width int) string {
	return fmt.Sprintf("%6d  %s", r.Index, r.Label)
}

// generateRows builds n sequential demoRows the same way the Controller's
// own tests build a synthetic collection, just with a renderable shape.
func generateRows(n int) []any {
	rows := make([]any, n)
	for i := range rows {
		rows[i] = demoRow{Index: i, Label: fmt.Sprintf("row-%06d", i)}
	}
	return rows
}

// renderRow is the ItemRenderer fallback for items that don't implement
// adapter.Item: an HTTPAdapter's decoded JSON (map[string]any or similar)
// arrives with no natural Render method of its own.
func renderRow(item any, index uint64) string {
	return fmt.Sprintf("%6d  %v", index, item)
}
