// Package tui is the watch dashboard: a bubbletea program that polls the
// engine for the interpolated runtime, derived statistics and recent
// detections, and sends start and stop requests on key presses.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/events"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/session"
	"github.com/nixlim/drowsewatch/internal/stats"
)

type ViewState int

const (
	ViewDashboard ViewState = iota
	ViewHistory
)

type tickMsg time.Time

// actionMsg carries the outcome of a start, stop or refresh request.
type actionMsg struct {
	action string
	err    error
}

// EngineProvider is the part of the engine the dashboard reads and drives.
type EngineProvider interface {
	Start(ctx context.Context) (session.Session, error)
	Stop(ctx context.Context) (session.Session, error)
	Refresh(ctx context.Context) error
	Session() session.Session
	LastError() string
	Runtime() float64
	Derived() stats.Derived
	Sessions() []protocol.SessionRecord
	Detections() []events.Detection
	Period() protocol.Period
	SetPeriod(p protocol.Period) error
	PushConnected() bool
}

// periodCycle is the order the period key steps through.
var periodCycle = []int{1, 7, 30}

type Model struct {
	view     ViewState
	width    int
	height   int
	keys     KeyMap
	quitting bool

	cfg    config.Config
	engine EngineProvider

	// Snapshots refreshed on every tick so View never blocks on the engine.
	sess       session.Session
	runtime    float64
	derived    stats.Derived
	detections []events.Detection
	sessions   []protocol.SessionRecord
	period     protocol.Period
	connected  bool

	status        string
	statusIsError bool
	busy          bool

	historyCursor int

	isPersistent bool
	refreshRate  time.Duration
	actionWait   time.Duration

	onShutdown func()
}

func NewModel(cfg config.Config, opts ...ModelOption) Model {
	m := Model{
		view:        ViewDashboard,
		keys:        DefaultKeyMap(),
		cfg:         cfg,
		refreshRate: time.Duration(cfg.Display.RefreshRateMS) * time.Millisecond,
		actionWait:  time.Duration(cfg.Client.RequestTimeoutMS+cfg.Client.StopWaitMS) * time.Millisecond,
		period:      protocol.TrailingDays(cfg.Client.StatsDays),
	}
	if m.refreshRate <= 0 {
		m.refreshRate = 100 * time.Millisecond
	}

	for _, opt := range opts {
		opt(&m)
	}
	m.snapshot()

	return m
}

type ModelOption func(*Model)

func WithEngine(e EngineProvider) ModelOption {
	return func(m *Model) { m.engine = e }
}

func WithStartView(v ViewState) ModelOption {
	return func(m *Model) { m.view = v }
}

func WithOnShutdown(fn func()) ModelOption {
	return func(m *Model) { m.onShutdown = fn }
}

func WithPersistenceFlag(isPersistent bool) ModelOption {
	return func(m *Model) { m.isPersistent = isPersistent }
}

func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// snapshot copies the engine's current values into the model.
func (m *Model) snapshot() {
	if m.engine == nil {
		return
	}
	m.sess = m.engine.Session()
	m.runtime = m.engine.Runtime()
	m.derived = m.engine.Derived()
	m.detections = m.engine.Detections()
	m.sessions = m.engine.Sessions()
	m.period = m.engine.Period()
	m.connected = m.engine.PushConnected()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.snapshot()
		return m, m.tickCmd()

	case actionMsg:
		m.busy = false
		m.setActionStatus(msg)
		m.snapshot()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) setActionStatus(msg actionMsg) {
	switch {
	case msg.err == nil:
		m.status = msg.action + " ok"
		m.statusIsError = false
	case errors.Is(msg.err, session.ErrStartUnconfirmed):
		m.status = "Start not confirmed, press s to retry: " + msg.err.Error()
		m.statusIsError = true
	default:
		m.status = msg.action + " failed: " + msg.err.Error()
		m.statusIsError = true
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.onShutdown != nil {
			m.onShutdown()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Tab):
		if m.view == ViewDashboard {
			m.view = ViewHistory
			m.historyCursor = 0
		} else {
			m.view = ViewDashboard
		}
		return m, nil

	case key.Matches(msg, m.keys.Start):
		return m.runAction("start", func(ctx context.Context) error {
			_, err := m.engine.Start(ctx)
			return err
		})

	case key.Matches(msg, m.keys.Stop):
		return m.runAction("stop", func(ctx context.Context) error {
			_, err := m.engine.Stop(ctx)
			return err
		})

	case key.Matches(msg, m.keys.Refresh):
		return m.runAction("refresh", m.engine.Refresh)

	case key.Matches(msg, m.keys.Period):
		return m.cyclePeriod()
	}

	if m.view == ViewHistory {
		return m.handleHistoryKey(msg)
	}
	return m, nil
}

// runAction runs fn off the update loop and reports its outcome as an
// actionMsg.
func (m Model) runAction(action string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	if m.engine == nil || m.busy {
		return m, nil
	}
	m.busy = true
	m.status = action + "..."
	m.statusIsError = false
	wait := m.actionWait
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		return actionMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) cyclePeriod() (tea.Model, tea.Cmd) {
	if m.engine == nil {
		return m, nil
	}
	next := periodCycle[0]
	for i, days := range periodCycle {
		if !m.period.IsRange() && m.period.Days == days {
			next = periodCycle[(i+1)%len(periodCycle)]
			break
		}
	}
	if err := m.engine.SetPeriod(protocol.TrailingDays(next)); err != nil {
		m.status = "period: " + err.Error()
		m.statusIsError = true
		return m, nil
	}
	m.period = m.engine.Period()
	return m.runAction("refresh", m.engine.Refresh)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	switch m.view {
	case ViewHistory:
		return m.renderHistory()
	default:
		return m.renderDashboard()
	}
}
