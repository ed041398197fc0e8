// Package gateway funnels every text-generation call through one shared,
// bounded-concurrency queue. Participant turns, moderator turns, compaction
// summaries, topic summaries and meeting minutes all pass through the same
// instance, so the provider concurrency cap is global.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roundtable-ai/roundtable/internal/metrics"
)

// Turn is one prompt turn sent to the generation backend.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Sampling carries per-participant sampling parameters.
type Sampling struct {
	Temperature float64
	TopK        int
	TopP        float64
}

// Request describes one generation job.
type Request struct {
	Contents        []Turn
	Sampling        *Sampling
	MaxOutputTokens int
	// EnableSearch attaches the provider's retrieval tool to the call.
	EnableSearch bool
}

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
}

// Result is the outcome of a successful generation call.
type Result struct {
	Text  string
	Usage Usage
}

// Generator is the external text-generation backend.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// ErrClosed is returned for jobs submitted after the gateway stopped.
var ErrClosed = errors.New("gateway closed")

// GenerationError wraps a backend failure. No retries are performed; the
// caller decides fallback behavior.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

type job struct {
	ctx  context.Context
	req  *Request
	done chan outcome
}

type outcome struct {
	res *Result
	err error
}

// Gateway serializes job intake into a FIFO queue and dispatches with a
// global in-flight cap and a small fixed delay between dispatches.
type Gateway struct {
	backend       Generator
	sem           *semaphore.Weighted
	jobs          chan *job
	dispatchDelay time.Duration
}

// New creates a gateway around the backend. maxInFlight bounds concurrent
// backend calls; dispatchDelay spaces out consecutive dispatches.
func New(backend Generator, maxInFlight int, dispatchDelay time.Duration) *Gateway {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Gateway{
		backend:       backend,
		sem:           semaphore.NewWeighted(int64(maxInFlight)),
		jobs:          make(chan *job, 64),
		dispatchDelay: dispatchDelay,
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.drainPending()
			return
		case j := <-g.jobs:
			if err := g.sem.Acquire(ctx, 1); err != nil {
				j.done <- outcome{err: ErrClosed}
				g.drainPending()
				return
			}
			go g.run(j)
			if g.dispatchDelay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(g.dispatchDelay):
				}
			}
		}
	}
}

func (g *Gateway) run(j *job) {
	defer g.sem.Release(1)

	metrics.GenerationInFlight.Inc()
	start := time.Now()
	res, err := g.backend.Generate(j.ctx, j.req)
	metrics.GenerationInFlight.Dec()
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.GenerationsTotal.WithLabelValues("error").Inc()
		slog.Warn("generation call failed", "error", err, "elapsed", time.Since(start))
		j.done <- outcome{err: &GenerationError{Err: err}}
		return
	}

	metrics.GenerationsTotal.WithLabelValues("ok").Inc()
	metrics.GenerationTokensTotal.Add(float64(res.Usage.TotalTokens))
	j.done <- outcome{res: res}
}

func (g *Gateway) drainPending() {
	for {
		select {
		case j := <-g.jobs:
			j.done <- outcome{err: ErrClosed}
		default:
			return
		}
	}
}

// Execute queues the request and blocks until its result is available or
// ctx is cancelled. A failing job resolves only its own caller; the queue
// keeps draining.
func (g *Gateway) Execute(ctx context.Context, req *Request) (*Result, error) {
	j := &job{ctx: ctx, req: req, done: make(chan outcome, 1)}

	select {
	case g.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-j.done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
