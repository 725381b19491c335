package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/johnayoung/llm-council/internal/consensus"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/runner"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	phaseStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	modelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))

	headerBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
	responseBox = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#61AFEF")).
			PaddingLeft(1)
	finalBox = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#98C379")).
			Padding(0, 1)
)

// ModelStatus represents the current state of one invocation.
type ModelStatus int

const (
	StatusPending ModelStatus = iota
	StatusRunning
	StatusComplete
	StatusFailed
)

// ModelState holds the state of a single invocation in the current stage.
type ModelState struct {
	Model     string
	Status    ModelStatus
	StartTime time.Time
	EndTime   time.Time
	Error     string
}

const (
	phaseAnswers   = "Stage 1: collecting answers"
	phaseRanking   = "Stage 2: peer ranking"
	phaseSynthesis = "Stage 3: chairman synthesis"
)

// Progress displays per-model progress of the stage currently running. It
// is fed by the runner callbacks and the council event stream.
type Progress struct {
	mu        sync.Mutex
	w         io.Writer
	council   []string
	chairman  string
	phase     string
	models    map[string]*ModelState
	order     []string
	rankers   []string
	startTime time.Time
	ticker    *time.Ticker
	done      chan struct{}
	quiet     bool
	rendered  int
}

// NewProgress creates a progress display for a council.
func NewProgress(w io.Writer, councilModels []string, chairman string, quiet bool) *Progress {
	return &Progress{
		w:        w,
		council:  councilModels,
		chairman: chairman,
		models:   make(map[string]*ModelState),
		done:     make(chan struct{}),
		quiet:    quiet,
	}
}

// Start begins the refresh loop.
func (p *Progress) Start() {
	if p.quiet {
		return
	}

	p.ticker = time.NewTicker(100 * time.Millisecond)
	go func() {
		for {
			select {
			case <-p.ticker.C:
				p.render()
			case <-p.done:
				return
			}
		}
	}()
}

// Stop ends the refresh loop and leaves the last stage on screen.
func (p *Progress) Stop() {
	if p.quiet {
		return
	}
	close(p.done)
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.render()
}

// Callbacks returns runner callbacks that update this display.
func (p *Progress) Callbacks() *runner.Callbacks {
	return &runner.Callbacks{
		OnModelStart:    p.ModelStarted,
		OnModelComplete: p.ModelCompleted,
		OnModelError: func(model string, err error) {
			p.ModelFailed(model, err.Error())
		},
	}
}

// Handle switches stages as council events arrive.
func (p *Progress) Handle(e council.Event) {
	switch e.Type {
	case council.EventStage1Start:
		p.beginPhase(phaseAnswers, p.council)
	case council.EventStage1Complete:
		responses, _ := e.Data.([]consensus.ModelResponse)
		var rankers []string
		for _, r := range consensus.Succeeded(responses) {
			rankers = append(rankers, r.Model)
		}
		p.mu.Lock()
		p.rankers = rankers
		p.mu.Unlock()
	case council.EventStage2Start:
		p.mu.Lock()
		rankers := p.rankers
		p.mu.Unlock()
		p.beginPhase(phaseRanking, rankers)
	case council.EventStage2Complete:
		meta, _ := e.Metadata.(council.Stage2Metadata)
		for _, r := range meta.Rejected {
			p.ModelFailed(r.Model, r.Reason)
		}
	case council.EventStage3Start:
		p.beginPhase(phaseSynthesis, []string{p.chairman})
		p.ModelStarted(p.chairman)
	case council.EventStage3Complete:
		p.ModelCompleted(p.chairman)
	case council.EventError:
		p.mu.Lock()
		synthesis := p.phase == phaseSynthesis
		p.mu.Unlock()
		if synthesis {
			p.ModelFailed(p.chairman, e.Message)
		}
	}
}

// beginPhase freezes the previous stage on screen and starts a new block.
func (p *Progress) beginPhase(phase string, models []string) {
	if !p.quiet && p.phase != "" {
		p.render()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	p.order = models
	p.models = make(map[string]*ModelState, len(models))
	for _, m := range models {
		p.models[m] = &ModelState{Model: m, Status: StatusPending}
	}
	p.startTime = time.Now()
	p.rendered = 0
}

// ModelStarted marks a model as running.
func (p *Progress) ModelStarted(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state, ok := p.models[model]; ok {
		state.Status = StatusRunning
		state.StartTime = time.Now()
	}
}

// ModelCompleted marks a model as finished.
func (p *Progress) ModelCompleted(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state, ok := p.models[model]; ok {
		state.Status = StatusComplete
		state.EndTime = time.Now()
	}
}

// ModelFailed marks a model as failed.
func (p *Progress) ModelFailed(model, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state, ok := p.models[model]; ok {
		state.Status = StatusFailed
		state.EndTime = time.Now()
		state.Error = reason
	}
}

func (p *Progress) render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase == "" {
		return
	}
	clearLines(p.w, p.rendered)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n",
		phaseStyle.Render("▸ "+p.phase),
		dimStyle.Render(fmt.Sprintf("(%.1fs)", time.Since(p.startTime).Seconds())))
	for _, model := range p.order {
		b.WriteString(modelLine(p.models[model]))
		b.WriteByte('\n')
	}
	fmt.Fprint(p.w, b.String())
	p.rendered = len(p.order) + 1
}

func modelLine(state *ModelState) string {
	var icon, status string
	style := dimStyle

	switch state.Status {
	case StatusPending:
		icon, status = "○", "pending"
	case StatusRunning:
		style = runningStyle
		icon = spinner(time.Now())
		status = fmt.Sprintf("running %.1fs", time.Since(state.StartTime).Seconds())
	case StatusComplete:
		style = doneStyle
		icon = "✓"
		status = fmt.Sprintf("done in %.1fs", state.EndTime.Sub(state.StartTime).Seconds())
	case StatusFailed:
		style = failStyle
		icon = "✗"
		status = "failed: " + truncate(state.Error, 60)
	}

	return fmt.Sprintf("  %s %-25s %s",
		style.Render(icon),
		truncate(state.Model, 25),
		style.Render(status))
}

// clearLines moves the cursor up n lines, clearing each.
func clearLines(w io.Writer, n int) {
	for range n {
		fmt.Fprint(w, "\033[A\033[K")
	}
}

func spinner(t time.Time) string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return frames[int(t.UnixMilli()/100)%len(frames)]
}

// truncate flattens s to one line of at most max runes.
func truncate(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

// PrintHeader prints the run banner.
func PrintHeader(w io.Writer, prompt string) {
	body := titleStyle.Render("LLM Council") + "\n" +
		"Prompt: " + dimStyle.Render(truncate(prompt, 60))
	fmt.Fprintf(w, "\n%s\n\n", headerBox.Render(body))
}

// PrintSuccess prints a success message.
func PrintSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, doneStyle.Render("✓ "+msg))
}

// PrintError prints an error message.
func PrintError(w io.Writer, msg string) {
	fmt.Fprintln(w, failStyle.Render("✗ "+msg))
}

// PrintModelResponse prints one stage-1 answer.
func PrintModelResponse(w io.Writer, r consensus.ModelResponse) {
	head := fmt.Sprintf("%s [%.1fs]", modelStyle.Render(r.Model), r.Latency.Seconds())
	if !r.Success {
		fmt.Fprintf(w, "\n%s %s\n", head, failStyle.Render("failed: "+r.Error))
		return
	}
	fmt.Fprintf(w, "\n%s\n%s\n", head, responseBox.Render(r.Response))
}

// PrintRanking prints the aggregate peer ranking, best first.
func PrintRanking(w io.Writer, agg consensus.AggregateRanking) {
	fmt.Fprintf(w, "\n%s\n", phaseStyle.Render("Aggregate ranking"))
	if len(agg) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  no valid rankings"))
		return
	}
	for i, e := range agg {
		fmt.Fprintf(w, "  %d. %-25s %s\n", i+1, e.Model,
			dimStyle.Render(fmt.Sprintf("avg %.2f over %d rankings", e.AverageRank+1, e.RankingsCount)))
	}
}

// PrintFinal prints the chairman's answer.
func PrintFinal(w io.Writer, s consensus.Synthesis) {
	head := titleStyle.Render("Final answer") + " " + dimStyle.Render("("+s.Model+")")
	fmt.Fprintf(w, "\n%s\n", finalBox.Render(head+"\n\n"+s.Response))
}

// PrintSummary prints timing and failure counts for a run.
func PrintSummary(w io.Writer, m council.Metadata) {
	fmt.Fprintf(w, "\n%s\n", dimStyle.Render("─── Summary ───"))
	fmt.Fprintf(w, "Council: %d models (%s, %s)\n",
		m.CouncilSize,
		doneStyle.Render(fmt.Sprintf("%d answered", m.CouncilSize-m.Stage1Failures)),
		failStyle.Render(fmt.Sprintf("%d failed", m.Stage1Failures)))
	if n := m.Stage2Failures + m.ParseFailures; n > 0 {
		fmt.Fprintf(w, "Rankings dropped: %d\n", n)
	}
	fmt.Fprintf(w, "Stages: %.1fs / %.1fs / %.1fs, total %.1fs\n",
		m.Stage1Duration.Seconds(), m.Stage2Duration.Seconds(),
		m.Stage3Duration.Seconds(), m.TotalDuration.Seconds())
}

// IsTerminal checks if the given file is a terminal.
func IsTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
