package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/llm-council/internal/provider"
	"golang.org/x/sync/errgroup"
)

// Outcome is the settled result of one model invocation. Exactly one of
// Response and Err is meaningful.
type Outcome struct {
	// Index is the model's position in the submitted list.
	Index    int
	Model    string
	Response provider.Response
	Err      error
	Latency  time.Duration
}

// OK reports whether the invocation succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Callbacks observe invocations as they progress. Each callback is invoked
// from the invoking goroutine, so implementations must be safe for
// concurrent use.
type Callbacks struct {
	OnModelStart    func(model string)
	OnModelComplete func(model string)
	OnModelError    func(model string, err error)
}

// Runner fans a single message history out to many models concurrently.
type Runner struct {
	registry    *provider.Registry
	timeout     time.Duration
	concurrency int
	callbacks   *Callbacks
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency caps the number of in-flight invocations. Zero or less
// means unlimited.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithCallbacks registers progress callbacks.
func WithCallbacks(cb *Callbacks) Option {
	return func(r *Runner) { r.callbacks = cb }
}

// New creates a runner with the given registry and per-model timeout.
func New(registry *provider.Registry, timeout time.Duration, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run queries all models concurrently and returns one Outcome per model, in
// submission order, once every invocation has settled. Failures are recorded
// in the Outcome and never abort the others.
func (r *Runner) Run(ctx context.Context, models []string, messages []provider.Message) []Outcome {
	outcomes := make([]Outcome, len(models))
	for o := range r.Stream(ctx, models, messages) {
		outcomes[o.Index] = o
	}
	return outcomes
}

// Stream starts all invocations and yields each Outcome as it settles, in
// completion order. The channel is closed after the last one.
//
// Invocations run detached from ctx cancellation: a caller that goes away
// does not abort requests already sent to a backend, each of which still
// ends by its own timeout. ctx values (trace spans, loggers) are kept.
func (r *Runner) Stream(ctx context.Context, models []string, messages []provider.Message) <-chan Outcome {
	out := make(chan Outcome, len(models))
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	go func() {
		defer close(out)
		for i, model := range models {
			g.Go(func() error {
				out <- r.invoke(detached, i, model, messages)
				return nil // best effort: don't fail the round
			})
		}
		_ = g.Wait()
	}()

	return out
}

func (r *Runner) invoke(ctx context.Context, index int, model string, messages []provider.Message) (o Outcome) {
	start := time.Now()
	o = Outcome{Index: index, Model: model}

	defer func() {
		if rec := recover(); rec != nil {
			o.Err = fmt.Errorf("%s: provider panic: %v", model, rec)
		}
		o.Latency = time.Since(start)
		r.notify(o)
	}()

	if cb := r.callbacks; cb != nil && cb.OnModelStart != nil {
		cb.OnModelStart(model)
	}

	p, err := r.registry.Get(model)
	if err != nil {
		o.Err = err
		return o
	}

	// Per-model timeout
	modelCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		modelCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := p.Query(modelCtx, provider.Request{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		o.Err = err
		return o
	}

	o.Response = resp
	return o
}

func (r *Runner) notify(o Outcome) {
	cb := r.callbacks
	if cb == nil {
		return
	}
	if o.Err != nil {
		if cb.OnModelError != nil {
			cb.OnModelError(o.Model, o.Err)
		}
		return
	}
	if cb.OnModelComplete != nil {
		cb.OnModelComplete(o.Model)
	}
}
