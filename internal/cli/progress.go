package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/raphaelgruber/lorekeeper/internal/service"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries a progress event from the scan goroutine.
type eventMsg models.ProgressEvent

// scanDoneMsg carries the outcome of the scan.
type scanDoneMsg struct {
	result *service.ScanResult
	err    error
}

// progressModel is the bubbletea model for a running scan.
type progressModel struct {
	sourceID string
	event    models.ProgressEvent
	progress progress.Model
	theme    Theme
	cancel   context.CancelFunc
	done     bool
	quitting bool
	result   *service.ScanResult
	err      error
}

// newProgressModel creates a new progress model. cancel stops the scan.
func newProgressModel(sourceID string, cancel context.CancelFunc) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		sourceID: sourceID,
		progress: prog,
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The scan stops at the next chunk boundary; wait for it to report.
			if !m.quitting {
				m.quitting = true
				m.cancel()
			}
			return m, nil
		}

	case eventMsg:
		m.event = models.ProgressEvent(msg)
		return m, nil

	case scanDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.event.Type == "" {
		return fmt.Sprintf("Reading %s...\n", m.sourceID)
	}

	var pct float64
	if m.event.ChunksTotal > 0 {
		pct = float64(m.event.ChunksProcessed) / float64(m.event.ChunksTotal)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.event.Status))
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d chunks, %d entities", m.event.ChunksProcessed, m.event.ChunksTotal, m.event.EntitiesFound)

	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop after the current chunk")
	if m.quitting {
		hint = m.theme.hintStyle().Render("Stopping after the current chunk...")
	}

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting && m.err != nil {
		return m.theme.hintStyle().Render("\nScan cancelled. The checkpoint was not moved.\n")
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Scan failed: %s\n", m.err))
	}

	var b strings.Builder
	writeScanResult(&b, m.result, m.theme.completedStyle().Render("✓ Completed"))
	return b.String()
}

// RunScanProgress runs a scan with the interactive progress UI.
// Returns the scan result and the scan error, if any.
func RunScanProgress(ctx context.Context, scans *service.ScanService, sourceID string, opts service.ScanOptions) (*service.ScanResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(sourceID, cancel))

	// Send blocks until the program reads the message or exits.
	opts.Progress = service.ObserverFunc(func(e models.ProgressEvent) {
		p.Send(eventMsg(e))
	})

	var (
		result  *service.ScanResult
		scanErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		result, scanErr = scans.Scan(ctx, sourceID, opts)
		p.Send(scanDoneMsg{result: result, err: scanErr})
	}()

	_, err := p.Run()
	cancel()
	<-finished
	if err != nil {
		return result, fmt.Errorf("progress UI error: %w", err)
	}
	return result, scanErr
}

// logProgress prints one line per event for non-interactive output.
func logProgress(out io.Writer) service.Observer {
	return service.ObserverFunc(func(e models.ProgressEvent) {
		switch e.Type {
		case models.EventScanStarted:
			fmt.Fprintf(out, "Scanning %s...\n", e.SourceID)
		case models.EventScanProgress:
			fmt.Fprintf(out, "  chunk %d/%d, %d entities so far\n", e.ChunksProcessed, e.ChunksTotal, e.EntitiesFound)
		}
	})
}

// writeScanResult prints the summary of a finished scan under heading.
func writeScanResult(out io.Writer, res *service.ScanResult, heading string) {
	if res == nil {
		return
	}
	if res.Skipped() {
		fmt.Fprintf(out, "%s\n", res.Message)
		return
	}

	fmt.Fprintf(out, "%s\n\n", heading)
	fmt.Fprintf(out, "  %s\n", res.Message)
	if res.ChunksTotal == 0 {
		return
	}
	fmt.Fprintf(out, "  Messages:     %d-%d of %d\n", res.StartIndex, res.EndIndex, res.TotalMessages)
	fmt.Fprintf(out, "  Chunks:       %d/%d", res.ChunksProcessed, res.ChunksTotal)
	if res.ChunksFailed > 0 {
		fmt.Fprintf(out, " (%d failed)", res.ChunksFailed)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Entities:     %d\n", res.EntitiesFound)
	if res.Dropped > 0 || res.Flagged > 0 {
		fmt.Fprintf(out, "  Filtered:     %d dropped, %d flagged\n", res.Dropped, res.Flagged)
	}
	if res.Truncated {
		fmt.Fprintf(out, "  More messages remain; run the scan again to continue.\n")
	}
	for _, e := range res.Entities {
		fmt.Fprintf(out, "  • %s [%s] %.2f\n", e.Name, e.Type, e.Confidence)
	}
}
