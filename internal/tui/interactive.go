package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/scenes"
	"github.com/san-kum/mechsim/internal/sim"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

// paramStep is the increment used by the arrow keys.
var paramStep = map[string]float64{
	"dt":         0.001,
	"duration":   1,
	"speed":      0.5,
	"bodies":     1,
	"friction":   0.1,
	"compliance": 1e-4,
	"seed":       1,
}

const (
	historyLen = 120
	frameTime  = 16 * time.Millisecond
	maxPerTick = 400
)

type state int

const (
	stateMenu state = iota
	stateConfig
	stateSim
)

type model struct {
	state    state
	cursor   int
	registry *scenes.Registry
	scenes   []string
	selected string

	presets     []string
	presetIdx   int
	cfg         config.Config
	params      map[string]float64
	paramNames  []string
	paramCursor int
	editing     bool
	editBuf     string

	world     *sim.World
	running   bool
	paused    bool
	rate      float64
	err       error
	history   []float64
	lastFrame time.Time
	fps       float64

	width  int
	height int
}

func NewInteractiveApp(reg *scenes.Registry) *model {
	return &model{
		state:    stateMenu,
		registry: reg,
		scenes:   reg.ListScenes(),
		rate:     1.0,
		history:  make([]float64, 0, historyLen),
		width:    80,
		height:   24,
	}
}

func (m model) Init() tea.Cmd { return nil }

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(frameTime, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		if m.state != stateSim {
			return m, nil
		}
		if m.running && !m.paused && m.world != nil {
			now := time.Now()
			if !m.lastFrame.IsZero() {
				if dt := now.Sub(m.lastFrame).Seconds(); dt > 0 {
					m.fps = 1.0 / dt
				}
			}
			m.lastFrame = now
			m.advance()
		}
		if m.running {
			return m, tick()
		}
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch m.state {
	case stateMenu:
		return m.menuKey(msg)
	case stateConfig:
		return m.configKey(msg)
	case stateSim:
		return m.simKey(msg)
	}
	return m, nil
}

func (m model) menuKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.scenes)-1 {
			m.cursor++
		}
	case "enter", " ":
		if len(m.scenes) == 0 {
			return m, nil
		}
		m.selected = m.scenes[m.cursor]
		m.presets = config.ListPresets(m.selected)
		m.presetIdx = 0
		m.loadPreset()
		m.state = stateConfig
	}
	return m, nil
}

func (m model) configKey(msg tea.KeyMsg) (model, tea.Cmd) {
	if m.editing {
		switch msg.String() {
		case "enter":
			var val float64
			if _, err := fmt.Sscanf(m.editBuf, "%g", &val); err == nil {
				m.params[m.paramNames[m.paramCursor]] = val
			}
			m.editing = false
			m.editBuf = ""
		case "esc":
			m.editing = false
			m.editBuf = ""
		case "backspace":
			if len(m.editBuf) > 0 {
				m.editBuf = m.editBuf[:len(m.editBuf)-1]
			}
		default:
			if len(msg.String()) == 1 {
				c := msg.String()[0]
				if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == 'e' {
					m.editBuf += string(c)
				}
			}
		}
		return m, nil
	}

	name := m.paramNames[m.paramCursor]
	switch msg.String() {
	case "q", "esc":
		m.state = stateMenu
	case "up", "k":
		if m.paramCursor > 0 {
			m.paramCursor--
		}
	case "down", "j":
		if m.paramCursor < len(m.paramNames)-1 {
			m.paramCursor++
		}
	case "enter", " ":
		m.editing = true
		m.editBuf = fmt.Sprintf("%g", m.params[name])
	case "p":
		if len(m.presets) > 0 {
			m.presetIdx = (m.presetIdx + 1) % len(m.presets)
			m.loadPreset()
		}
	case "s":
		m.start()
		m.state = stateSim
		return m, tea.Batch(tea.ClearScreen, tick())
	case "left", "h":
		m.params[name] = math.Max(0, m.params[name]-paramStep[name])
	case "right", "l":
		m.params[name] += paramStep[name]
	}
	return m, nil
}

func (m model) simKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.running = false
		m.state = stateMenu
		m.reset()
		return m, tea.ClearScreen
	case " ", "p":
		m.paused = !m.paused
	case "r":
		m.start()
		return m, tea.ClearScreen
	case "c":
		m.running = false
		m.state = stateConfig
		m.reset()
		return m, tea.ClearScreen
	case "+", "=":
		m.rate = math.Min(m.rate*2, 16)
	case "-", "_":
		m.rate = math.Max(m.rate/2, 1.0/16)
	case "0":
		m.rate = 1.0
	}
	return m, nil
}

// loadPreset resets the configuration to the selected preset, or to the
// defaults when the scene has none.
func (m *model) loadPreset() {
	var cfg *config.Config
	if len(m.presets) > 0 {
		cfg = config.GetPreset(m.selected, m.presets[m.presetIdx])
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Scene = m.selected
	}
	m.cfg = *cfg
	m.paramNames = []string{"dt", "duration"}
	switch m.selected {
	case "head_on":
		m.paramNames = append(m.paramNames, "speed")
	case "rain", "stack":
		m.paramNames = append(m.paramNames, "bodies")
	}
	m.paramNames = append(m.paramNames, "friction", "compliance", "seed")
	m.params = map[string]float64{
		"dt":         cfg.Dt,
		"duration":   cfg.Duration,
		"speed":      cfg.Speed,
		"bodies":     float64(cfg.Bodies),
		"friction":   cfg.Contact.Friction,
		"compliance": cfg.Contact.Compliance,
		"seed":       float64(cfg.Seed),
	}
	m.paramCursor = 0
}

func (m *model) buildConfig() config.Config {
	cfg := m.cfg
	if dt := m.params["dt"]; dt > 0 {
		cfg.Dt = dt
	}
	if d := m.params["duration"]; d > 0 {
		cfg.Duration = d
	}
	cfg.Speed = m.params["speed"]
	if n := int(m.params["bodies"]); n > 0 {
		cfg.Bodies = n
	}
	cfg.Contact.Friction = m.params["friction"]
	cfg.Contact.Compliance = m.params["compliance"]
	cfg.Seed = int64(m.params["seed"])
	return cfg
}

func (m *model) start() {
	m.reset()
	m.rate = 1.0
	m.lastFrame = time.Time{}
	w, err := m.registry.Build(m.buildConfig())
	if err != nil {
		m.err = err
		m.running = false
		return
	}
	m.world = w
	m.running = true
	m.paused = false
}

func (m *model) reset() {
	m.world = nil
	m.err = nil
	m.history = make([]float64, 0, historyLen)
}

// advance steps the world by one frame of simulated time scaled by rate.
func (m *model) advance() {
	w := m.world
	cfg := w.Config()
	if w.Time() >= cfg.Duration {
		m.paused = true
		return
	}
	target := math.Min(w.Time()+m.rate*frameTime.Seconds(), cfg.Duration)
	for i := 0; i < maxPerTick && w.Time() < target-0.5*cfg.Dt; i++ {
		if _, err := w.Advance(context.Background()); err != nil {
			m.err = err
			m.paused = true
			break
		}
	}
	m.history = append(m.history, w.KineticEnergy())
	if len(m.history) > historyLen {
		m.history = m.history[1:]
	}
}

func (m model) View() string {
	switch m.state {
	case stateMenu:
		return m.viewMenu()
	case stateConfig:
		return m.viewConfig()
	case stateSim:
		return m.viewSim()
	}
	return ""
}

func (m model) viewMenu() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("           " + cyan.Render("m e c h s i m") + "\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("\n")

	for i, name := range m.scenes {
		desc := m.registry.Describe(name)
		if i == m.cursor {
			b.WriteString("      " + cyan.Render("▸ ") + white.Render(fmt.Sprintf("%-12s", name)) + dim.Render(desc) + "\n")
		} else {
			b.WriteString("        " + dim.Render(fmt.Sprintf("%-12s", name)) + dimmer.Render(desc) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dim.Render("      ↑↓ select   enter configure   q quit") + "\n")

	return b.String()
}

func (m model) viewConfig() string {
	var b strings.Builder

	preset := "default"
	if len(m.presets) > 0 {
		preset = m.presets[m.presetIdx]
	}
	b.WriteString("\n")
	b.WriteString("      " + cyan.Render(m.selected) + "  " + dim.Render("preset ") + magenta.Render(preset) + "\n")
	b.WriteString(dimmer.Render("      "+strings.Repeat("─", 30)) + "\n\n")

	for i, name := range m.paramNames {
		val := fmt.Sprintf("%10.4g", m.params[name])
		if m.editing && i == m.paramCursor {
			val = fmt.Sprintf("%10s", m.editBuf+"▋")
		}
		if i == m.paramCursor {
			b.WriteString("      " + cyan.Render("▸ ") + white.Render(fmt.Sprintf("%-12s", name)) + magenta.Render(val) + "\n")
		} else {
			b.WriteString("        " + dim.Render(fmt.Sprintf("%-12s", name)) + dim.Render(val) + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n      " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(dim.Render("      ↑↓ select  ←→ adjust  enter edit  p preset  s start  esc back") + "\n")

	return b.String()
}

func (m model) viewSim() string {
	if m.world == nil {
		msg := "no world"
		if m.err != nil {
			msg = m.err.Error()
		}
		return "\n   " + red.Render(msg) + "\n\n" + dim.Render("   c config  q quit") + "\n"
	}
	w := m.world
	cfg := w.Config()

	cw := m.width - 6
	ch := m.height - 20
	if cw < 50 {
		cw = 50
	}
	if ch < 10 {
		ch = 10
	}
	canvas := make([][]rune, ch)
	for i := range canvas {
		canvas[i] = make([]rune, cw)
	}
	clearCanvas(canvas)
	drawWorld(canvas, cw, ch, fitView(w.Model()), w)

	var b strings.Builder

	statusIcon := green.Render("●")
	statusText := green.Render("running")
	switch {
	case m.err != nil:
		statusIcon = red.Render("✕")
		statusText = red.Render("failed")
	case m.paused:
		statusIcon = yellow.Render("○")
		statusText = yellow.Render("paused")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s  %s\n",
		statusIcon, cyan.Render(m.selected), statusText, dim.Render(fmt.Sprintf("x%.3g", m.rate))))

	progress := math.Min(w.Time()/cfg.Duration, 1)
	barWidth := 36
	filled := int(progress * float64(barWidth))
	timeStr := fmt.Sprintf("%.2fs/%.0fs", w.Time(), cfg.Duration)
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	b.WriteString(fmt.Sprintf("   %s %s  %s\n\n", bar, dim.Render(timeStr), dim.Render(fmt.Sprintf("%.0ffps", m.fps))))

	for _, row := range canvas {
		b.WriteString("   " + string(row) + "\n")
	}

	st := w.Stats()
	b.WriteString(fmt.Sprintf("\n   %s %d  %s %d  %s %d/%d  %s %d  %s %.2g  %s %d\n",
		dim.Render("handlers"), st.Handlers,
		dim.Render("contacts"), st.Contacts,
		dim.Render("rows"), st.Bilaterals, st.Unilaterals,
		dim.Render("friction"), st.FrictionSets,
		dim.Render("pen"), st.MaxPenetration,
		dim.Render("retries"), st.Retries))

	if len(m.history) > 1 {
		graph := asciigraph.Plot(m.history,
			asciigraph.Height(6),
			asciigraph.Width(cw-12),
			asciigraph.Precision(3),
			asciigraph.Caption("kinetic energy"))
		for _, line := range strings.Split(graph, "\n") {
			b.WriteString("   " + green.Render(line) + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   space pause  ±rate  r restart  c config  q quit") + "\n")

	return b.String()
}

func RunInteractive(reg *scenes.Registry) error {
	p := tea.NewProgram(NewInteractiveApp(reg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
