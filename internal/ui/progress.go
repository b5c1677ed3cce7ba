// Package ui renders live run progress in the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"nctest/internal/pipeline"
)

type progressModel struct {
	title    string
	events   <-chan pipeline.Event
	spinner  spinner.Model
	prog     progress.Model
	items    []fragmentItem
	index    map[string]int
	runLabel string
	width    int
	done     bool
}

type fragmentItem struct {
	path     string
	status   string
	stage    pipeline.Stage
	jobs     int
	jobsDone int
	finished bool
}

type eventMsg pipeline.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders one line per
// fragment. It quits when events is closed.
func NewProgressModel(title string, files []string, events <-chan pipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]fragmentItem, 0, len(files))
	index := make(map[string]int, len(files))
	for i, file := range files {
		items = append(items, fragmentItem{path: file, status: "queued"})
		index[file] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(pipeline.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		updated, cmd := m.prog.Update(msg)
		m.prog = updated.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.runLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.runLabel)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	const statusWidth = 14
	nameWidth := max(m.width-statusWidth-4, 20)
	for _, item := range m.items {
		status := styleStatus(item.status).Render(fmt.Sprintf("%*s", statusWidth, item.status))
		fmt.Fprintf(&b, "  %s %s\n", status, truncate(item.path, nameWidth))
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev pipeline.Event) tea.Cmd {
	if ev.File == "" {
		if label := runLabel(ev); label != "" {
			m.runLabel = label
		}
		return nil
	}
	idx, ok := m.index[ev.File]
	if !ok {
		return nil
	}
	item := &m.items[idx]
	if item.finished {
		return nil
	}
	item.stage = ev.Stage
	if ev.Jobs > 0 {
		item.jobs = ev.Jobs
		item.jobsDone = ev.JobsDone
	}
	switch {
	case ev.Status == pipeline.StatusError:
		item.status = "error"
		item.finished = true
	case ev.Status == pipeline.StatusDone && ev.Stage == pipeline.StageSynth:
		item.status = "ok"
		item.finished = true
	default:
		if label := itemLabel(*item, ev.Status); label != "" {
			item.status = label
		}
	}
	return m.prog.SetPercent(m.percent())
}

func (m *progressModel) percent() float64 {
	if len(m.items) == 0 {
		return 0
	}
	total := 0.0
	for _, item := range m.items {
		total += itemProgress(item)
	}
	return total / float64(len(m.items))
}

func itemProgress(item fragmentItem) float64 {
	if item.finished {
		return 1
	}
	switch item.stage {
	case pipeline.StageParse:
		return 0.05
	case pipeline.StageCompile:
		if item.jobs == 0 {
			return 0.1
		}
		return 0.1 + 0.8*float64(item.jobsDone)/float64(item.jobs)
	case pipeline.StageMatch, pipeline.StageSynth:
		return 0.95
	}
	return 0
}

func itemLabel(item fragmentItem, status pipeline.Status) string {
	switch status {
	case pipeline.StatusQueued:
		return "queued"
	case pipeline.StatusWorking:
		switch item.stage {
		case pipeline.StageParse:
			return "parsing"
		case pipeline.StageCompile:
			if item.jobs > 1 {
				return fmt.Sprintf("compiling %d/%d", item.jobsDone, item.jobs)
			}
			return "compiling"
		case pipeline.StageMatch:
			return "matching"
		case pipeline.StageSynth:
			return "writing"
		}
	}
	return ""
}

func runLabel(ev pipeline.Event) string {
	if ev.Status == pipeline.StatusError {
		return "aborted"
	}
	if ev.Status == pipeline.StatusDone {
		return "finished"
	}
	return string(ev.Stage)
}

func styleStatus(status string) lipgloss.Style {
	switch {
	case status == "ok":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case status == "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case status == "queued":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
