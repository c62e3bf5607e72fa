package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"yt-job-server/internal/jobs"
	"yt-job-server/internal/model"
)

const (
	defaultWatchInterval = time.Second
	watchPollTimeout     = 10 * time.Second
	watchMaxErrors       = 3
	watchBarMaxWidth     = 60
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// statusFunc returns the latest snapshot of the watched job.
type statusFunc func(ctx context.Context) (model.JobStatus, error)

type watchStatusMsg struct {
	status model.JobStatus
	err    error
}

type watchTickMsg time.Time

type watchModel struct {
	fetch    statusFunc
	interval time.Duration

	spinner spinner.Model
	bar     progress.Model

	status   model.JobStatus
	loaded   bool
	err      error
	done     bool
	quitting bool
}

func newWatchModel(fetch statusFunc, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = watchTitleStyle
	return watchModel{
		fetch:    fetch,
		interval: interval,
		spinner:  sp,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, pollStatusCmd(m.fetch))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		width := msg.Width - 8
		if width > watchBarMaxWidth {
			width = watchBarMaxWidth
		}
		if width < 10 {
			width = 10
		}
		m.bar.Width = width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case watchStatusMsg:
		if msg.err != nil {
			m.err = msg.err
			if errors.Is(msg.err, jobs.ErrJobNotFound) {
				return m, tea.Quit
			}
			return m, tickCmd(m.interval)
		}
		m.err = nil
		m.loaded = true
		m.status = msg.status
		if m.status.Status.IsTerminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd(m.interval)
	case watchTickMsg:
		return m, pollStatusCmd(m.fetch)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	if !m.loaded {
		if m.err != nil {
			return watchErrorStyle.Render("error: "+m.err.Error()) + "\n"
		}
		return m.spinner.View() + " waiting for job status...\n"
	}
	st := m.status

	header := m.spinner.View() + " "
	if m.done {
		header = statusBadge(st.Status) + " "
	}
	title := st.Title
	if title == "" {
		title = st.ID
	}
	header += watchTitleStyle.Render(title)

	lines := []string{
		header,
		watchMutedStyle.Render(st.ID),
		"",
		m.bar.ViewAs(float64(st.CurrentProgress) / 100),
		"stage:   " + st.Stage,
	}
	if st.CurrentVideo != "" {
		lines = append(lines, "file:    "+st.CurrentVideo)
	}
	if st.TotalBytes > 0 {
		lines = append(lines, "bytes:   "+formatBytes(st.DownloadedBytes)+" / "+formatBytes(st.TotalBytes))
	}
	lines = append(lines,
		"speed:   "+formatSpeed(st.SpeedEstimate)+"   eta: "+formatSeconds(st.ETASeconds),
		"elapsed: "+formatSeconds(st.ElapsedSeconds),
	)
	if st.TotalUnits > 1 {
		lines = append(lines, fmt.Sprintf("items:   %d/%d", st.CompletedUnits, st.TotalUnits))
	}
	if n := len(st.Errors); n > 0 {
		shown := st.Errors
		if n > watchMaxErrors {
			shown = shown[n-watchMaxErrors:]
		}
		lines = append(lines, "", watchErrorStyle.Render(fmt.Sprintf("errors (%d):", n)))
		for _, e := range shown {
			lines = append(lines, "  "+e)
		}
	}
	if m.done && len(st.Files) > 0 {
		lines = append(lines, "", watchOKStyle.Render("files:"))
		for _, f := range st.Files {
			lines = append(lines, "  "+f.Name+" "+watchMutedStyle.Render(formatBytes(f.Size)))
		}
	}
	if m.err != nil {
		lines = append(lines, "", watchErrorStyle.Render("poll error: "+m.err.Error()))
	}

	footer := watchMutedStyle.Render("q: stop watching")
	return lipgloss.JoinVertical(lipgloss.Left, watchPanelStyle.Render(strings.Join(lines, "\n")), footer) + "\n"
}

func statusBadge(s model.Status) string {
	switch s {
	case model.StatusCompleted:
		return watchOKStyle.Render("✔")
	case model.StatusPartial:
		return watchWarnStyle.Render("!")
	default:
		return watchErrorStyle.Render("✘")
	}
}

func pollStatusCmd(fetch statusFunc) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchPollTimeout)
		defer cancel()
		st, err := fetch(ctx)
		return watchStatusMsg{status: st, err: err}
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

// watchJob follows a job until it reaches a terminal state. It returns the
// last snapshot seen and whether the user stopped watching early.
func watchJob(ctx context.Context, fetch statusFunc, interval time.Duration, interactive bool, out io.Writer) (model.JobStatus, bool, error) {
	if !interactive {
		return watchPlain(ctx, fetch, interval, out)
	}
	p := tea.NewProgram(newWatchModel(fetch, interval), tea.WithContext(ctx), tea.WithOutput(out))
	final, err := p.Run()
	fm, _ := final.(watchModel)
	if ctx.Err() != nil {
		return fm.status, true, nil
	}
	if err != nil {
		return fm.status, false, err
	}
	if !fm.loaded && fm.err != nil {
		return fm.status, false, fm.err
	}
	return fm.status, fm.quitting, nil
}

func watchPlain(ctx context.Context, fetch statusFunc, interval time.Duration, out io.Writer) (model.JobStatus, bool, error) {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last     model.JobStatus
		lastLine string
	)
	for {
		st, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, true, nil
			}
			return last, false, err
		}
		last = st
		if line := statusLine(st); line != lastLine {
			fmt.Fprintln(out, line)
			lastLine = line
		}
		if st.Status.IsTerminal() {
			return st, false, nil
		}
		select {
		case <-ctx.Done():
			return last, true, nil
		case <-ticker.C:
		}
	}
}
