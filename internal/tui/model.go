package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mirrorops/mirrorctl/internal/adapters/watchsvc"
	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/ports"
	"github.com/mirrorops/mirrorctl/internal/snapshot"
)

// View represents the current view state
type View int

const (
	DashboardView View = iota
	BrokenView
	SnapshotsView
	ManifestView
	FileDiffView
)

// refreshInterval is how often the dashboard re-reads the telemetry files.
const refreshInterval = time.Second

// Model is the main TUI model
type Model struct {
	source   ports.WatchSource
	config   *config.Config
	view     View
	width    int
	height   int
	quitting bool

	// Dashboard telemetry, reloaded on every tick
	status    *ports.WatchStatus
	progress  *ports.WatchProgress
	broken    []string
	snapshots []ports.WatchDiffInfo

	// Broken archives view
	brokenCursor int

	// Snapshot browser
	snapCursor       int
	selectedSnapshot string
	manifest         []ports.WatchFileEntry
	fileCursor       int

	// File diff view
	fileDiff       *FileDiffResult
	fileDiffScroll int

	// Status message
	statusMsg string
	statusErr bool
}

// Key bindings
type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Enter     key.Binding
	Back      key.Binding
	Broken    key.Binding
	Snapshots key.Binding
	Reload    key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "open"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc", "backspace"),
		key.WithHelp("esc", "back"),
	),
	Broken: key.NewBinding(
		key.WithKeys("b"),
		key.WithHelp("b", "broken archives"),
	),
	Snapshots: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "snapshots"),
	),
	Reload: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reload"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// NewModel creates a model backed by the real telemetry files.
func NewModel() (*Model, error) {
	return NewModelWithSource(watchsvc.New())
}

// NewModelWithSource creates a model over the given telemetry source.
func NewModelWithSource(source ports.WatchSource) (*Model, error) {
	cfg, err := source.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return NewModelWithConfig(cfg, source), nil
}

// NewModelWithConfig creates a model without touching the filesystem.
func NewModelWithConfig(cfg *config.Config, source ports.WatchSource) *Model {
	return &Model{
		source: source,
		config: cfg,
		view:   DashboardView,
	}
}

type tickMsg time.Time

type telemetryMsg struct {
	status    *ports.WatchStatus
	progress  *ports.WatchProgress
	broken    []string
	snapshots []ports.WatchDiffInfo
}

type manifestMsg struct {
	diffID string
	files  []ports.WatchFileEntry
	err    error
}

type fileDiffMsg struct {
	result *FileDiffResult
	err    error
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// loadTelemetry reads all telemetry documents. A document that does not
// exist yet simply stays nil; the dashboard renders the gap.
func (m *Model) loadTelemetry() tea.Cmd {
	return func() tea.Msg {
		var msg telemetryMsg
		if status, err := m.source.Status(m.config); err == nil {
			msg.status = status
		}
		if progress, err := m.source.Progress(m.config); err == nil {
			msg.progress = progress
		}
		msg.broken, _ = m.source.BrokenArchives(m.config)
		msg.snapshots, _ = m.source.DiffSnapshots(m.config)
		return msg
	}
}

func (m *Model) loadManifest(diffID string) tea.Cmd {
	return func() tea.Msg {
		files, err := m.source.ManifestFiles(m.config, diffID)
		return manifestMsg{diffID: diffID, files: files, err: err}
	}
}

func (m *Model) loadFileDiff(path string) tea.Cmd {
	return func() tea.Msg {
		frozen, live, err := m.source.FileVersions(m.config, path)
		if err != nil {
			return fileDiffMsg{err: err}
		}
		return fileDiffMsg{result: ComputeFileDiff(path, frozen, live)}
	}
}

// Init starts the first telemetry load and the refresh ticker
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadTelemetry(), tick())
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.loadTelemetry(), tick())

	case telemetryMsg:
		m.status = msg.status
		m.progress = msg.progress
		m.broken = msg.broken
		m.snapshots = msg.snapshots
		m.clampCursors()
		return m, nil

	case manifestMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Cannot read manifest: %v", msg.err)
			m.statusErr = true
		} else {
			m.selectedSnapshot = msg.diffID
			m.manifest = msg.files
			m.fileCursor = 0
			m.view = ManifestView
			m.statusMsg = ""
		}
		return m, nil

	case fileDiffMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("File diff failed: %v", msg.err)
			m.statusErr = true
		} else {
			m.fileDiff = msg.result
			m.fileDiffScroll = 0
			m.view = FileDiffView
			m.statusMsg = ""
		}
		return m, nil

	case tea.KeyMsg:
		// Clear status on any key
		m.statusMsg = ""
		m.statusErr = false

		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Up):
			m.moveCursor(-1)

		case key.Matches(msg, keys.Down):
			m.moveCursor(1)

		case key.Matches(msg, keys.Enter):
			if m.view == SnapshotsView && len(m.snapshots) > 0 {
				return m, m.loadManifest(m.snapshots[m.snapCursor].ID)
			}
			if m.view == ManifestView && len(m.manifest) > 0 {
				return m, m.loadFileDiff(m.manifest[m.fileCursor].Path)
			}

		case key.Matches(msg, keys.Back):
			switch m.view {
			case BrokenView, SnapshotsView:
				m.view = DashboardView
			case ManifestView:
				m.view = SnapshotsView
				m.manifest = nil
			case FileDiffView:
				m.view = ManifestView
				m.fileDiff = nil
				m.fileDiffScroll = 0
			}

		case key.Matches(msg, keys.Broken):
			if m.view == DashboardView {
				m.view = BrokenView
				m.brokenCursor = 0
			}

		case key.Matches(msg, keys.Snapshots):
			if m.view == DashboardView {
				m.view = SnapshotsView
				m.snapCursor = 0
			}

		case key.Matches(msg, keys.Reload):
			if m.view == DashboardView {
				return m, m.loadTelemetry()
			}
		}
	}

	return m, nil
}

func (m *Model) moveCursor(delta int) {
	switch m.view {
	case BrokenView:
		m.brokenCursor += delta
		if m.brokenCursor < 0 {
			m.brokenCursor = 0
		}
		if m.brokenCursor >= len(m.broken) {
			m.brokenCursor = len(m.broken) - 1
		}
	case SnapshotsView:
		m.snapCursor += delta
		if m.snapCursor < 0 {
			m.snapCursor = 0
		}
		if m.snapCursor >= len(m.snapshots) {
			m.snapCursor = len(m.snapshots) - 1
		}
	case ManifestView:
		m.fileCursor += delta
		if m.fileCursor < 0 {
			m.fileCursor = 0
		}
		if m.fileCursor >= len(m.manifest) {
			m.fileCursor = len(m.manifest) - 1
		}
	case FileDiffView:
		if m.fileDiff != nil {
			m.fileDiffScroll += delta
			if m.fileDiffScroll < 0 {
				m.fileDiffScroll = 0
			}
			maxScroll := len(m.fileDiff.Lines) - (m.height - 10)
			if maxScroll < 0 {
				maxScroll = 0
			}
			if m.fileDiffScroll > maxScroll {
				m.fileDiffScroll = maxScroll
			}
		}
	}
}

// clampCursors keeps cursors valid after a telemetry reload shrinks a list.
func (m *Model) clampCursors() {
	if m.brokenCursor >= len(m.broken) && m.brokenCursor > 0 {
		m.brokenCursor = len(m.broken) - 1
	}
	if m.snapCursor >= len(m.snapshots) && m.snapCursor > 0 {
		m.snapCursor = len(m.snapshots) - 1
	}
}

// View renders the UI
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.view {
	case DashboardView:
		content = m.renderDashboard()
	case BrokenView:
		content = m.renderBrokenView()
	case SnapshotsView:
		content = m.renderSnapshotsView()
	case ManifestView:
		content = m.renderManifestView()
	case FileDiffView:
		content = m.renderFileDiffView()
	}

	return appStyle.Render(content)
}

func (m *Model) renderDashboard() string {
	var b strings.Builder

	title := titleStyle.Render(" 📡 mirrorctl watch ")
	b.WriteString(title)
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("STATUS"))
	b.WriteString("\n")
	if m.status == nil {
		b.WriteString(dimStyle.Render("  No status document yet"))
		b.WriteString("\n")
	} else {
		badge := statusBadge(m.status.Status)
		b.WriteString(fmt.Sprintf("  %s  %s", badge.Render(m.status.Status), m.status.Message))
		b.WriteString("\n")
		if !m.status.UpdatedAt.IsZero() {
			b.WriteString(dimStyle.Render("  updated " + relativeTime(m.status.UpdatedAt)))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("PROGRESS"))
	b.WriteString("\n")
	if m.progress == nil {
		b.WriteString(dimStyle.Render("  No progress document yet"))
		b.WriteString("\n")
	} else {
		p := m.progress
		b.WriteString("  " + renderBar(p.Percent, 30))
		b.WriteString(fmt.Sprintf(" %5.1f%%  (%d/%d)", p.Percent, p.Current, p.Total))
		b.WriteString("\n")
		if stats := progressStats(p); stats != "" {
			b.WriteString("  " + stats)
			b.WriteString("\n")
		}
		if target := progressTarget(p); target != "" {
			b.WriteString(dimStyle.Render("  " + target))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if m.progress != nil && len(m.progress.Errors) > 0 {
		b.WriteString(sectionStyle.Render("RECENT ERRORS"))
		b.WriteString("\n")
		shown := m.progress.Errors
		if len(shown) > 5 {
			shown = shown[len(shown)-5:]
		}
		for _, e := range shown {
			line := fmt.Sprintf("  %-24s %s", truncate(e.Package, 24), truncate(e.Error, 44))
			b.WriteString(errorBadge.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("Broken archives: %d   Snapshots: %d", len(m.broken), len(m.snapshots))
	b.WriteString(dimStyle.Render(summary))
	b.WriteString("\n")

	b.WriteString("\n")
	if m.statusMsg != "" {
		if m.statusErr {
			b.WriteString(errorBadge.Render(m.statusMsg))
		} else {
			b.WriteString(successBadge.Render(m.statusMsg))
		}
	}
	b.WriteString("\n")

	help := "[b] broken  [s] snapshots  [r] reload  [q] quit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func (m *Model) renderBrokenView() string {
	var b strings.Builder

	title := titleStyle.Render(" 🔍 Broken archives ")
	b.WriteString(title)
	b.WriteString("\n\n")

	if len(m.broken) == 0 {
		b.WriteString(dimStyle.Render("  No broken archives recorded"))
		b.WriteString("\n")
	} else {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d archives failed the integrity check", len(m.broken))))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(strings.Repeat("─", 70)))
		b.WriteString("\n")

		visibleHeight := m.height - 10
		if visibleHeight < 5 {
			visibleHeight = 5
		}

		start := 0
		if m.brokenCursor >= visibleHeight {
			start = m.brokenCursor - visibleHeight + 1
		}

		for i := start; i < len(m.broken) && i < start+visibleHeight; i++ {
			cursor := "  "
			style := normalStyle
			if i == m.brokenCursor {
				cursor = "▸ "
				style = selectedStyle
			}
			b.WriteString(style.Render(cursor + truncate(m.broken[i], 68)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	help := "[↑/↓] navigate  [esc] back  [q] quit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func (m *Model) renderSnapshotsView() string {
	var b strings.Builder

	title := titleStyle.Render(" 📊 Diff snapshots ")
	b.WriteString(title)
	b.WriteString("\n\n")

	if len(m.snapshots) == 0 {
		b.WriteString(dimStyle.Render("  No diff snapshots found"))
		b.WriteString("\n")
	} else {
		header := fmt.Sprintf("  %-28s %8s %12s %s",
			"SNAPSHOT", "FILES", "SIZE", "CREATED")
		b.WriteString(dimStyle.Render(header))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(strings.Repeat("─", 70)))
		b.WriteString("\n")

		visibleHeight := m.height - 10
		if visibleHeight < 5 {
			visibleHeight = 5
		}

		start := 0
		if m.snapCursor >= visibleHeight {
			start = m.snapCursor - visibleHeight + 1
		}

		for i := start; i < len(m.snapshots) && i < start+visibleHeight; i++ {
			s := m.snapshots[i]
			cursor := "  "
			style := normalStyle
			if i == m.snapCursor {
				cursor = "▸ "
				style = selectedStyle
			}

			size := snapshot.FormatSize(s.ArchiveSize)
			if s.ArchiveSize == 0 {
				size = "-"
			}
			created := "-"
			if !s.CreatedAt.IsZero() {
				created = relativeTime(s.CreatedAt)
			}

			line := fmt.Sprintf("%s%-28s %8d %12s %s",
				cursor, truncate(s.ID, 28), s.FileCount, size, created)
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.statusMsg != "" && m.statusErr {
		b.WriteString(errorBadge.Render(m.statusMsg))
	}
	b.WriteString("\n")

	help := "[↑/↓] navigate  [enter] files  [esc] back  [q] quit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func (m *Model) renderManifestView() string {
	var b strings.Builder

	title := titleStyle.Render(fmt.Sprintf(" 📦 %s ", m.selectedSnapshot))
	b.WriteString(title)
	b.WriteString("\n\n")

	if len(m.manifest) == 0 {
		b.WriteString(dimStyle.Render("  Manifest is empty"))
		b.WriteString("\n")
	} else {
		header := fmt.Sprintf("  %-48s %10s %s", "PATH", "SIZE", "MODIFIED")
		b.WriteString(dimStyle.Render(header))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(strings.Repeat("─", 75)))
		b.WriteString("\n")

		visibleHeight := m.height - 10
		if visibleHeight < 5 {
			visibleHeight = 5
		}

		start := 0
		if m.fileCursor >= visibleHeight {
			start = m.fileCursor - visibleHeight + 1
		}

		for i := start; i < len(m.manifest) && i < start+visibleHeight; i++ {
			f := m.manifest[i]
			cursor := "  "
			style := normalStyle
			if i == m.fileCursor {
				cursor = "▸ "
				style = selectedStyle
			}

			modified := "-"
			if !f.MTime.IsZero() {
				modified = relativeTime(f.MTime)
			}

			line := fmt.Sprintf("%s%-48s %10s %s",
				cursor, truncate(f.Path, 48), snapshot.FormatSize(f.Size), modified)
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.statusMsg != "" && m.statusErr {
		b.WriteString(errorBadge.Render(m.statusMsg))
	}
	b.WriteString("\n")

	help := "[↑/↓] navigate  [enter] frozen vs live  [esc] back  [q] quit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func (m *Model) renderFileDiffView() string {
	var b strings.Builder

	if m.fileDiff == nil {
		return "Loading..."
	}

	title := titleStyle.Render(fmt.Sprintf(" 📄 %s ", m.fileDiff.Path))
	b.WriteString(title)
	b.WriteString("\n")

	header := fmt.Sprintf("  %-35s │ %-35s", "frozen", "live")
	b.WriteString(dimStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", 75)))
	b.WriteString("\n")

	if m.fileDiff.Error != "" {
		b.WriteString(errorBadge.Render(m.fileDiff.Error))
		b.WriteString("\n")
	} else if m.fileDiff.IsBinary {
		b.WriteString(dimStyle.Render("  Binary file - content diff not available"))
		b.WriteString("\n")
	} else if len(m.fileDiff.Lines) == 0 {
		b.WriteString(dimStyle.Render("  No differences"))
		b.WriteString("\n")
	} else {
		visibleHeight := m.height - 12
		if visibleHeight < 5 {
			visibleHeight = 5
		}

		endIdx := m.fileDiffScroll + visibleHeight
		if endIdx > len(m.fileDiff.Lines) {
			endIdx = len(m.fileDiff.Lines)
		}

		for i := m.fileDiffScroll; i < endIdx; i++ {
			line := m.fileDiff.Lines[i]

			ln1 := "   "
			ln2 := "   "
			if line.LineNum1 > 0 {
				ln1 = fmt.Sprintf("%3d", line.LineNum1)
			}
			if line.LineNum2 > 0 {
				ln2 = fmt.Sprintf("%3d", line.LineNum2)
			}

			content := line.Content
			maxWidth := 60
			if len(content) > maxWidth {
				content = content[:maxWidth-3] + "..."
			}

			var lineStr string
			switch line.Type {
			case '+':
				lineStr = fmt.Sprintf("%s  + │ %s  + %s", ln1, ln2, content)
				b.WriteString(addedStyle.Render(lineStr))
			case '-':
				lineStr = fmt.Sprintf("%s  - │ %s  - %s", ln1, ln2, content)
				b.WriteString(deletedStyle.Render(lineStr))
			default:
				lineStr = fmt.Sprintf("%s    │ %s    %s", ln1, ln2, content)
				b.WriteString(dimStyle.Render(lineStr))
			}
			b.WriteString("\n")
		}

		if len(m.fileDiff.Lines) > visibleHeight {
			scrollInfo := fmt.Sprintf("  Lines %d-%d of %d",
				m.fileDiffScroll+1, endIdx, len(m.fileDiff.Lines))
			b.WriteString(dimStyle.Render(scrollInfo))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	help := "[↑/↓] scroll  [esc] back  [q] quit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

// statusBadge picks the style for a task status string.
func statusBadge(status string) lipgloss.Style {
	switch status {
	case "running":
		return runningBadge
	case "completed":
		return successBadge
	case "completed_with_errors":
		return warnBadge
	case "failed":
		return errorBadge
	default:
		return dimStyle
	}
}

// renderBar draws a fixed-width progress bar for a 0-100 percentage.
func renderBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// progressStats assembles the task-specific counters that are present in
// the merged progress document. Zero counters are suppressed.
func progressStats(p *ports.WatchProgress) string {
	var parts []string
	if p.Success > 0 {
		parts = append(parts, fmt.Sprintf("success %d", p.Success))
	}
	if p.Fixed > 0 {
		parts = append(parts, fmt.Sprintf("fixed %d", p.Fixed))
	}
	if p.Failed > 0 {
		parts = append(parts, fmt.Sprintf("failed %d", p.Failed))
	}
	if p.Broken > 0 {
		parts = append(parts, fmt.Sprintf("broken %d", p.Broken))
	}
	if p.Phase != "" {
		parts = append(parts, "phase "+p.Phase)
	}
	return strings.Join(parts, "   ")
}

// progressTarget names what the running task is currently working on.
func progressTarget(p *ports.WatchProgress) string {
	if p.CurrentPackage != "" {
		return "current: " + p.CurrentPackage
	}
	if p.CurrentFile != "" {
		return "current: " + p.CurrentFile
	}
	return ""
}

// Run starts the watch dashboard
func Run() error {
	m, err := NewModel()
	if err != nil {
		return err
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// Helper functions
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func relativeTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
