package main

import (
	"fmt"
	"time"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/scrollcore/viewport/controller"
	"github.com/scrollcore/viewport/scrollstate"
	"github.com/scrollcore/viewport/style"
	"github.com/scrollcore/viewport/viewportmsg"
)

// lazySender lets a Scheduler hold a Sender before the owning tea.Program
// exists: controller.New wants one at construction time, but the Program
// itself can only be built from the already-constructed root Model.
type lazySender struct {
	program *tea.Program
}

func (s *lazySender) Send(msg tea.Msg) {
	if s.program != nil {
		s.program.Send(msg)
	}
}

// model is the root Bubble Tea model. It owns the viewport Controller and
// translates raw terminal events into the viewportmsg vocabulary the
// Controller understands.
type model struct {
	viewport controller.Model
	keys     keyMap

	width, height int
}

func newModel(vp controller.Model) model {
	return model{viewport: vp, keys: defaultKeyMap()}
}

func (m model) Init() (tea.Model, tea.Cmd) {
	vp, cmd := m.viewport.Init()
	m.viewport = vp
	return m, tea.Batch(cmd, func() tea.Msg { return tea.RequestWindowSize() })
}

func (m model) Update(rawMsg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := rawMsg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vp, cmd := m.viewport.Update(viewportmsg.ContainerSizeChangedMsg{
			Width: msg.Width, Height: msg.Height - 2, // reserve the status line
		})
		m.viewport = vp
		return m, cmd

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.MouseWheelMsg:
		delta := 3.0
		if msg.Button == tea.MouseWheelUp {
			delta = -delta
		}
		vp, cmd := m.viewport.Update(viewportmsg.WheelMsg{DeltaY: delta, Time: time.Now().UnixNano()})
		m.viewport = vp
		return m, cmd

	case tea.MouseClickMsg:
		vp, cmd := m.viewport.Update(viewportmsg.ClickMsg{Time: time.Now().UnixNano()})
		m.viewport = vp
		return m, cmd
	}

	vp, cmd := m.viewport.Update(rawMsg)
	m.viewport = vp
	return m, cmd
}

func (m model) handleKey(k tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches[tea.KeyPressMsg](k, m.keys.Quit):
		return m, tea.Quit

	case key.Matches[tea.KeyPressMsg](k, m.keys.Up):
		return m, m.viewport.ScrollBy(-3)

	case key.Matches[tea.KeyPressMsg](k, m.keys.Down):
		return m, m.viewport.ScrollBy(3)

	case key.Matches[tea.KeyPressMsg](k, m.keys.PageUp):
		return m, m.viewport.ScrollBy(-float64(m.height))

	case key.Matches[tea.KeyPressMsg](k, m.keys.PageDown):
		return m, m.viewport.ScrollBy(float64(m.height))

	case key.Matches[tea.KeyPressMsg](k, m.keys.Top):
		return m, m.viewport.ScrollToIndex(0, scrollstate.AlignStart)

	case key.Matches[tea.KeyPressMsg](k, m.keys.Bottom):
		if total, known := m.viewport.DiscoveredTotal(); known && total > 0 {
			return m, m.viewport.ScrollToIndex(total-1, scrollstate.AlignEnd)
		}
		return m, nil

	case key.Matches[tea.KeyPressMsg](k, m.keys.Reload):
		vp, cmd := m.viewport.Update(viewportmsg.ReloadStartMsg{})
		m.viewport = vp
		return m, cmd
	}
	return m, nil
}

func (m model) View() tea.View {
	v := tea.NewView(m.renderView())
	v.AltScreen = true
	v.MouseMode = tea.MouseModeCellMotion
	return v
}

func (m model) renderView() string {
	status := m.renderStatus()
	return m.viewport.View() + "\n" + status
}

func (m model) renderStatus() string {
	r := m.viewport.VisibleRange()
	total, known := m.viewport.DiscoveredTotal()
	totalStr := "?"
	if known {
		totalStr = fmt.Sprintf("%d", total)
	}
	counters := m.viewport.Counters()
	line := fmt.Sprintf(
		"range [%d,%d) of %s  pos=%.0f  loads=%d  failed=%d  k: up  j: down  pgup/pgdn  g/G  r: reload  q: quit",
		r.Start, r.End, totalStr, m.viewport.Position(), counters.Completed, counters.Failed,
	)
	return style.Hint.Render(lipgloss.NewStyle().MaxWidth(m.width).Render(line))
}
