package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
	"github.com/ianlancetaylor/demangle"
	"github.com/nxadm/tail"

	"mipstash/internal/listing"
	"mipstash/internal/mipstash/log"
	"mipstash/internal/mipstash/styles"
	"mipstash/internal/stash"
	"mipstash/internal/ui/colorize"
)

type viewMode int

const (
	viewListing viewMode = iota
	viewInstructions
	viewLog
)

const maxLogLines = 500

type instItem struct {
	addr       listing.Address
	label      string
	text       string
	filterTerm string // Pre-computed filter value
}

func (i instItem) FilterValue() string { return i.filterTerm }

// Custom item delegate for the instruction picker
type instDelegate struct{}

func (d instDelegate) Height() int                               { return 1 }
func (d instDelegate) Spacing() int                              { return 0 }
func (d instDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d instDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(instItem)
	if !ok {
		return
	}
	indicator := " "
	addrStyle := styles.Muted
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.Address
	}
	text := i.text
	if !colorize.Disabled() {
		text = colorize.Assembly(text)
	}
	label := ""
	if i.label != "" {
		label = styles.Label.Render(i.label) + "  "
	}
	fmt.Fprintf(w, " %s  %s  %s%s", indicator, addrStyle.Render(fmt.Sprintf("%08x", uint64(i.addr))), label, text)
}

type tuiModel struct {
	listingView viewport.Model
	instList    list.Model
	logView     viewport.Model
	spinner     spinner.Model
	mode        viewMode

	projectPath string
	prog        *listing.Program
	pending     *stash.Stasher
	status      string
	loading     bool

	logTail  *tail.Tail
	logLines []string

	width  int
	height int
}

// Message types
type projectLoadedMsg struct {
	prog *listing.Program
	err  error
}

type logLineMsg struct {
	text string
}

// Commands
func loadProjectCmd(path string) tea.Cmd {
	return func() tea.Msg {
		_, prog, err := openProject(path)
		return projectLoadedMsg{prog: prog, err: err}
	}
}

func waitForLogLine(t *tail.Tail) tea.Cmd {
	if t == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-t.Lines
		if !ok {
			return nil
		}
		if line.Err != nil {
			return logLineMsg{text: line.Err.Error()}
		}
		return logLineMsg{text: line.Text}
	}
}

func newTUIModel(projectPath string, logTail *tail.Tail) tuiModel {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	instList := list.New([]list.Item{}, instDelegate{}, 80, 24)
	instList.SetShowStatusBar(false)
	instList.SetFilteringEnabled(true)
	instList.Title = "Instructions"
	instList.Styles.Title = lipgloss.NewStyle().
		Foreground(charmtone.Charple).
		MarginLeft(2)
	instList.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(charmtone.Charple)

	lv := viewport.New()
	lv.SetWidth(80)
	lv.SetHeight(24)
	if logTail == nil {
		lv.SetContent("Logging to stderr; nothing to follow.")
	}

	return tuiModel{
		listingView: vp,
		instList:    instList,
		logView:     lv,
		spinner:     s,
		mode:        viewListing,
		projectPath: projectPath,
		loading:     true,
		logTail:     logTail,
		width:       80,
		height:      24,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(
		loadProjectCmd(m.projectPath),
		waitForLogLine(m.logTail),
		m.spinner.Tick,
	)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case projectLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.status = "load failed: " + msg.err.Error()
			return m, nil
		}
		m.prog = msg.prog
		m.refresh()
		m.status = fmt.Sprintf("%d instructions", len(m.prog.Instructions()))
		return m, nil

	case logLineMsg:
		m.logLines = append(m.logLines, msg.text)
		if len(m.logLines) > maxLogLines {
			m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
		}
		m.logView.SetContent(strings.Join(m.logLines, "\n"))
		m.logView.GotoBottom()
		return m, waitForLogLine(m.logTail)

	case spinner.TickMsg:
		if m.loading {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.listingView.SetWidth(msg.Width)
		m.listingView.SetHeight(msg.Height - 2)
		m.instList.SetWidth(msg.Width)
		m.instList.SetHeight(msg.Height - 2)
		m.logView.SetWidth(msg.Width)
		m.logView.SetHeight(msg.Height - 2)

	case tea.KeyMsg:
		// Let the list see every key except quit while filtering
		if m.mode == viewInstructions && m.instList.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "l":
			m.mode = viewListing
			return m, nil
		case "i":
			m.mode = viewInstructions
			return m, nil
		case "g":
			m.mode = viewLog
			return m, nil
		case "tab":
			m.mode = (m.mode + 1) % 3
			return m, nil
		case "shift+tab":
			m.mode = (m.mode + 2) % 3
			return m, nil
		case "x":
			if m.mode == viewInstructions {
				if item, ok := m.instList.SelectedItem().(instItem); ok {
					m.setResult(m.stashAt(item.addr))
				}
			}
			return m, nil
		case "u":
			m.setResult(m.restorePending())
			return m, nil
		}
	}

	switch m.mode {
	case viewInstructions:
		m.instList, cmd = m.instList.Update(msg)
	case viewLog:
		m.logView, cmd = m.logView.Update(msg)
	default:
		m.listingView, cmd = m.listingView.Update(msg)
	}
	return m, cmd
}

func (m tuiModel) View() string {
	var content string
	switch {
	case m.loading:
		content = fmt.Sprintf("\n  %s Loading %s...", m.spinner.View(), m.projectPath)
	case m.mode == viewInstructions:
		content = m.instList.View()
	case m.mode == viewLog:
		content = m.logView.View()
	default:
		content = m.listingView.View()
	}

	var menu string
	switch m.mode {
	case viewInstructions:
		menu = " X: stash • U: restore • L: listing • G: log • Q: quit "
	case viewLog:
		menu = " L: listing • I: instructions • Tab: cycle • Q: quit "
	default:
		menu = " I: instructions • G: log • U: restore • Tab: cycle • Q: quit "
	}
	if m.status != "" {
		menu = " " + m.status + " │" + menu
	}

	menuStyle := lipgloss.NewStyle().
		Background(charmtone.Charcoal).
		Foreground(charmtone.Smoke).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

// stashAt clears the instruction containing a and holds it until
// restorePending. Only one stash is pending at a time.
func (m *tuiModel) stashAt(a listing.Address) error {
	if m.prog == nil {
		return fmt.Errorf("project not loaded")
	}
	if m.pending != nil {
		return fmt.Errorf("restore %s first", m.pending.Primary().MinAddress())
	}
	s := stash.New(m.prog, a)
	if s.Primary() == nil {
		return fmt.Errorf("no instruction at %s", a)
	}
	if err := s.Clear(); err != nil {
		return err
	}
	slog.Info("Stashed instruction", "address", s.Primary().MinAddress(), "order", s.Order())
	m.pending = s
	m.status = fmt.Sprintf("cleared %s (%s)", s.Primary().MinAddress(), s.Order())
	m.refresh()
	return nil
}

func (m *tuiModel) restorePending() error {
	if m.pending == nil {
		return fmt.Errorf("nothing stashed")
	}
	s := m.pending
	m.pending = nil
	err := s.Restore()
	m.refresh()
	if err != nil {
		return err
	}
	slog.Info("Restored instruction", "address", s.Primary().MinAddress())
	m.status = fmt.Sprintf("restored %s", s.Primary().MinAddress())
	return nil
}

func (m *tuiModel) setResult(err error) {
	if err != nil {
		slog.Warn("Stash action failed", "error", err)
		m.status = err.Error()
	}
}

// refresh re-renders the listing and the instruction picker from the program.
func (m *tuiModel) refresh() {
	if m.prog == nil {
		return
	}
	lines := m.prog.Lines(0, listing.Address(math.MaxUint64))
	rendered := make([]string, 0, len(lines))
	items := make([]list.Item, 0, len(lines))
	label := ""
	for _, l := range lines {
		if l.Label != "" {
			l.Label = demangle.Filter(l.Label)
			label = l.Label
		}
		if colorize.Disabled() {
			rendered = append(rendered, l.String())
		} else {
			rendered = append(rendered, colorize.Line(l))
		}
		if l.Label != "" {
			continue
		}
		text := strings.TrimSpace(l.Mnemonic + " " + l.Operands)
		items = append(items, instItem{
			addr:       l.Address,
			label:      label,
			text:       text,
			filterTerm: fmt.Sprintf("%08x %s %s", uint64(l.Address), label, text),
		})
		label = ""
	}
	m.listingView.SetContent(strings.Join(rendered, "\n"))
	m.instList.SetItems(items)
	m.instList.Title = fmt.Sprintf("Instructions (%d)", len(items))
}

// runListingTUI browses the project interactively, following the log file
// when one is being written.
func runListingTUI(ctx context.Context, projectPath string) error {
	var logTail *tail.Tail
	if path := log.Path(); path != "" {
		t, err := tail.TailFile(path, tail.Config{
			Follow: true,
			ReOpen: true,
			Logger: tail.DiscardingLogger,
		})
		if err != nil {
			slog.Warn("Cannot follow log file", "path", path, "error", err)
		} else {
			logTail = t
			defer t.Cleanup()
			defer t.Stop()
		}
	}

	program := tea.NewProgram(
		newTUIModel(projectPath, logTail),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil {
		slog.Error("TUI run error", "error", err)
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
