// Package council runs the three-stage LLM council: independent answers,
// anonymized peer ranking, and chairman synthesis.
package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/johnayoung/llm-council/internal/consensus"
	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/runner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/johnayoung/llm-council/internal/council"

var (
	// ErrNoResponses is returned when every council member failed stage 1.
	ErrNoResponses = errors.New("no council member responded")
	// ErrCanceled is returned when the caller went away between stages.
	ErrCanceled = errors.New("council run canceled")
)

// Settings is the council composition for a run.
type Settings struct {
	CouncilModels []string `json:"council_models"`
	ChairmanModel string   `json:"chairman_model"`
	ShuffleLabels bool     `json:"shuffle_labels"`
}

// Validate checks that the settings describe a runnable council.
func (s Settings) Validate() error {
	if len(s.CouncilModels) == 0 {
		return errors.New("at least one council model is required")
	}
	seen := make(map[string]bool, len(s.CouncilModels))
	for _, m := range s.CouncilModels {
		if m == "" {
			return errors.New("council model names must not be empty")
		}
		if seen[m] {
			return fmt.Errorf("council model %q is listed more than once", m)
		}
		seen[m] = true
	}
	if s.ChairmanModel == "" {
		return errors.New("chairman model is required")
	}
	return nil
}

// Pipeline sequences the three council stages. A Pipeline holds no per-run
// state and may run concurrently.
type Pipeline struct {
	registry    *provider.Registry
	settings    Settings
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
	observer    func(State)
	callbacks   *runner.Callbacks
	rng         *rand.Rand
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout sets the per-invocation timeout for every stage.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithConcurrency caps in-flight invocations within a stage.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithObserver is called on every state transition of every run.
func WithObserver(fn func(State)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// WithCallbacks receives per-model progress from the stage 1 and stage 2
// fan-outs. Callbacks run on the invocation goroutines.
func WithCallbacks(cb *runner.Callbacks) Option {
	return func(p *Pipeline) { p.callbacks = cb }
}

// WithRand sets the source used to shuffle labels. It is only consulted
// when Settings.ShuffleLabels is true, and must not be shared by
// concurrent runs.
func WithRand(r *rand.Rand) Option {
	return func(p *Pipeline) { p.rng = r }
}

// NewPipeline creates a pipeline for the given council.
func NewPipeline(registry *provider.Registry, settings Settings, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		settings: settings,
		timeout:  5 * time.Minute,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Settings returns the council the pipeline was built for.
func (p *Pipeline) Settings() Settings { return p.settings }

type run struct {
	*Pipeline
	sm     machine
	runner *runner.Runner
	emit   Emitter
	result *Result
}

// Run executes the council for query. Events are passed to emit as they
// happen; emit may be nil.
//
// On a fatal error the returned Result still holds every stage that
// completed. Errors are ErrNoResponses, ErrCanceled or a
// *consensus.SynthesisError.
func (p *Pipeline) Run(ctx context.Context, query string, emit Emitter) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	ctx, span := p.tracer.Start(ctx, "council.run", trace.WithAttributes(
		attribute.Int("council.size", len(p.settings.CouncilModels)),
		attribute.String("council.chairman", p.settings.ChairmanModel),
	))
	defer span.End()

	rn := runner.New(p.registry, p.timeout,
		runner.WithConcurrency(p.concurrency),
		runner.WithCallbacks(p.callbacks))
	r := &run{
		Pipeline: p,
		sm:       machine{observer: p.observer},
		runner:   rn,
		emit:     emit,
		result: &Result{
			Query: query,
			Metadata: Metadata{
				StartedAt:   time.Now(),
				CouncilSize: len(p.settings.CouncilModels),
			},
		},
	}

	err := r.execute(ctx)
	r.result.Metadata.TotalDuration = time.Since(r.result.Metadata.StartedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("council run failed", "error", err, "state", r.sm.state)
		return r.result, err
	}

	p.logger.Info("council run complete",
		"duration", r.result.Metadata.TotalDuration,
		"stage1_failures", r.result.Metadata.Stage1Failures,
		"rankings", len(r.result.Stage2.Rankings))
	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	if err := r.boundary(ctx, Stage1Running); err != nil {
		return err
	}
	if err := r.stage1(ctx); err != nil {
		return err
	}

	if err := r.boundary(ctx, Stage2Running); err != nil {
		return err
	}
	if err := r.stage2(ctx); err != nil {
		return err
	}

	if err := r.boundary(ctx, Stage3Running); err != nil {
		return err
	}
	if err := r.stage3(ctx); err != nil {
		return err
	}

	return r.sm.to(Complete)
}

// boundary moves to next unless the caller has gone away. In-flight calls
// of the previous stage have already settled at this point.
func (r *run) boundary(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		if terr := r.sm.to(Failed); terr != nil {
			return terr
		}
		return fmt.Errorf("%w before %s: %w", ErrCanceled, next, err)
	}
	return r.sm.to(next)
}

func (r *run) fail(err error) error {
	if terr := r.sm.to(Failed); terr != nil {
		return errors.Join(err, terr)
	}
	return err
}

func (r *run) stage1(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "council.stage1")
	defer span.End()

	start := time.Now()
	models := r.settings.CouncilModels
	r.emit(Event{Type: EventStage1Start})

	responses := make([]consensus.ModelResponse, len(models))
	for o := range r.runner.Stream(ctx, models, provider.UserMessage(r.result.Query)) {
		mr := toModelResponse(o)
		responses[o.Index] = mr
		if !mr.Success {
			r.logger.Warn("council member failed", "model", mr.Model, "error", mr.Error)
		}
		r.emit(Event{Type: EventStage1ModelComplete, Data: mr})
	}

	r.result.Stage1 = responses
	r.result.Metadata.Stage1Duration = time.Since(start)
	r.result.Metadata.Stage1Failures = len(responses) - len(consensus.Succeeded(responses))
	span.SetAttributes(attribute.Int("council.failures", r.result.Metadata.Stage1Failures))

	r.emit(Event{Type: EventStage1Complete, Data: responses})

	if r.result.Metadata.Stage1Failures == len(responses) {
		span.SetStatus(codes.Error, ErrNoResponses.Error())
		return r.fail(ErrNoResponses)
	}
	return nil
}

func (r *run) stage2(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "council.stage2")
	defer span.End()

	start := time.Now()
	r.emit(Event{Type: EventStage2Start})

	var (
		mapping   *consensus.LabelMapping
		presented []consensus.LabeledResponse
	)
	if r.settings.ShuffleLabels {
		rng := r.rng
		if rng == nil {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		mapping, presented = consensus.AnonymizeShuffled(r.result.Stage1, rng)
	} else {
		mapping, presented = consensus.Anonymize(r.result.Stage1)
	}

	prompt, err := consensus.RankingPrompt(r.result.Query, presented)
	if err != nil {
		return r.fail(fmt.Errorf("building ranking prompt: %w", err))
	}

	// Only members that answered stage 1 rank.
	rankers := make([]string, 0, mapping.Len())
	for _, mr := range consensus.Succeeded(r.result.Stage1) {
		rankers = append(rankers, mr.Model)
	}

	stage2 := &consensus.Stage2Result{
		Rankings:     []consensus.Ranking{},
		Rejected:     []consensus.RejectedRanking{},
		LabelToModel: mapping.LabelToModel(),
	}
	labels := mapping.Labels()
	for _, o := range r.runner.Run(ctx, rankers, provider.UserMessage(prompt)) {
		if !o.OK() {
			r.result.Metadata.Stage2Failures++
			r.logger.Warn("ranking failed", "model", o.Model, "error", o.Err)
			stage2.Rejected = append(stage2.Rejected, consensus.RejectedRanking{Model: o.Model, Reason: o.Err.Error()})
			continue
		}
		ranking, err := consensus.ParseRanking(o.Response.Content, labels)
		if err != nil {
			r.result.Metadata.ParseFailures++
			r.logger.Warn("ranking dropped", "model", o.Model, "error", err)
			stage2.Rejected = append(stage2.Rejected, consensus.RejectedRanking{Model: o.Model, Raw: o.Response.Content, Reason: err.Error()})
			continue
		}
		ranking.Model = o.Model
		stage2.Rankings = append(stage2.Rankings, ranking)
	}
	stage2.Aggregate = consensus.Aggregate(stage2.Rankings, mapping)

	r.result.Stage2 = stage2
	r.result.Metadata.Stage2Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("council.rankings", len(stage2.Rankings)),
		attribute.Int("council.rejected", len(stage2.Rejected)),
	)

	r.emit(Event{
		Type: EventStage2Complete,
		Data: stage2.Rankings,
		Metadata: Stage2Metadata{
			LabelToModel:      stage2.LabelToModel,
			AggregateRankings: stage2.Aggregate,
			Rejected:          stage2.Rejected,
		},
	})
	return nil
}

func (r *run) stage3(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "council.stage3", trace.WithAttributes(
		attribute.String("council.chairman", r.settings.ChairmanModel),
	))
	defer span.End()

	start := time.Now()
	r.emit(Event{Type: EventStage3Start})

	synthesis, err := r.synthesize(context.WithoutCancel(ctx))
	r.result.Metadata.Stage3Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(err)
	}

	r.result.Stage3 = &synthesis
	r.emit(Event{Type: EventStage3Complete, Data: synthesis})
	return nil
}

func (r *run) synthesize(ctx context.Context) (consensus.Synthesis, error) {
	model := r.settings.ChairmanModel
	p, err := r.registry.Get(model)
	if err != nil {
		return consensus.Synthesis{}, &consensus.SynthesisError{Model: model, Err: err}
	}
	chairman := consensus.NewChairman(p, model, consensus.WithChairmanTimeout(r.timeout))
	return chairman.Synthesize(ctx, r.result.Query, r.result.Stage1, *r.result.Stage2)
}

func toModelResponse(o runner.Outcome) consensus.ModelResponse {
	mr := consensus.ModelResponse{
		Model:   o.Model,
		Success: o.OK(),
		Latency: o.Latency,
	}
	if o.OK() {
		mr.Response = o.Response.Content
	} else {
		mr.Error = o.Err.Error()
	}
	return mr
}

// Stream runs the council in the background and delivers its events,
// followed by a terminal complete or error event. The complete event
// carries the *Result. Once ctx is done, undelivered events may be
// dropped; the channel is always closed.
func (p *Pipeline) Stream(ctx context.Context, query string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		send := func(e Event) {
			select {
			case out <- e:
			case <-ctx.Done():
			}
		}
		res, err := p.Run(ctx, query, send)
		if err != nil {
			send(ErrorEvent(err))
			return
		}
		send(Event{Type: EventComplete, Data: res})
	}()
	return out
}
