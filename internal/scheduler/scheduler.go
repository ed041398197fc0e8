// Package scheduler owns the turn queue: a single-flight, priority-aware
// pipeline that turns stimuli into processed conversation turns. Human
// input pre-empts pending agent chatter; agent follow-ups are capped to
// stop runaway self-conversation.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roundtable-ai/roundtable/internal/chat"
	"github.com/roundtable-ai/roundtable/internal/metrics"
)

// Turn is one queued unit of work.
type Turn struct {
	Stimulus     chat.Message
	HighPriority bool
}

// Runner processes one turn: selection, generation and write-back. It
// returns the responses appended to history, in arrival order.
type Runner interface {
	RunTurn(ctx context.Context, stimulus chat.Message) []chat.Message
}

// Options bound the queue.
type Options struct {
	// MaxQueuedFollowUps caps pending low-priority turns.
	MaxQueuedFollowUps int
	// QueueCeiling bounds total queue length; overflow is dropped from
	// the tail.
	QueueCeiling int
}

// Scheduler serializes turn processing. Only one turn is ever in flight.
type Scheduler struct {
	opts   Options
	runner Runner

	wake chan struct{}

	mu         sync.Mutex
	queue      []Turn
	processing bool
	paused     bool
	processed  map[string]bool
}

func New(opts Options, runner Runner) *Scheduler {
	return &Scheduler{
		opts:      opts,
		runner:    runner,
		wake:      make(chan struct{}, 1),
		processed: make(map[string]bool),
	}
}

// Enqueue adds a stimulus to the queue. High-priority turns (human input,
// re-emitted moderator directives) discard all pending low-priority turns
// and jump to the front, behind nothing. Returns false if the stimulus was
// dropped.
func (s *Scheduler) Enqueue(stimulus chat.Message, highPriority bool) bool {
	s.mu.Lock()
	accepted := s.enqueueLocked(stimulus, highPriority)
	s.mu.Unlock()

	if accepted {
		s.signal()
	}
	return accepted
}

func (s *Scheduler) enqueueLocked(stimulus chat.Message, highPriority bool) bool {
	if stimulus.ID == "" {
		slog.Error("dropping malformed turn: stimulus has no identity")
		return false
	}
	if s.processed[stimulus.ID] {
		slog.Debug("dropping already-processed stimulus", "id", stimulus.ID)
		return false
	}
	for _, t := range s.queue {
		if t.Stimulus.ID == stimulus.ID {
			slog.Debug("dropping duplicate queued stimulus", "id", stimulus.ID)
			return false
		}
	}

	if highPriority {
		// Keep prior high-priority turns, discard agent chatter, and put
		// the interrupt at the front.
		kept := s.queue[:0]
		for _, t := range s.queue {
			if t.HighPriority {
				kept = append(kept, t)
			}
		}
		s.queue = append([]Turn{{Stimulus: stimulus, HighPriority: true}}, kept...)
		slog.Info("interrupt: queue rebuilt for high-priority stimulus", "id", stimulus.ID, "from", stimulus.From)
	} else {
		low := 0
		for _, t := range s.queue {
			if !t.HighPriority {
				low++
			}
		}
		if low >= s.opts.MaxQueuedFollowUps {
			slog.Debug("follow-up cap reached, dropping stimulus", "id", stimulus.ID)
			return false
		}
		s.queue = append(s.queue, Turn{Stimulus: stimulus})
	}

	if s.opts.QueueCeiling > 0 && len(s.queue) > s.opts.QueueCeiling {
		over := len(s.queue) - s.opts.QueueCeiling
		s.queue = s.queue[:s.opts.QueueCeiling]
		slog.Warn("queue ceiling exceeded, truncated tail", "dropped", over)
	}

	metrics.TurnQueueDepth.Set(float64(len(s.queue)))
	return true
}

// Pause empties the queue and halts processing until Resume. Used while a
// one-shot minutes generation holds the floor.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.queue = nil
	metrics.TurnQueueDepth.Set(0)
	s.mu.Unlock()
	slog.Info("scheduler paused, pending turns discarded")
}

// Resume re-enables processing.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	s.mu.Unlock()
	if wasPaused {
		slog.Info("scheduler resumed")
		s.signal()
	}
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Len returns the number of queued turns.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Pending returns a copy of the queued turns, front first.
func (s *Scheduler) Pending() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.queue))
	copy(out, s.queue)
	return out
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes turns until ctx is cancelled. It must be called once.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.drain(ctx)
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.paused || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		turn := s.queue[0]
		s.queue = append([]Turn(nil), s.queue[1:]...)
		s.processing = true
		s.processed[turn.Stimulus.ID] = true
		metrics.TurnQueueDepth.Set(float64(len(s.queue)))
		s.mu.Unlock()

		priority := "low"
		if turn.HighPriority {
			priority = "high"
		}

		responses := s.runner.RunTurn(ctx, turn.Stimulus)
		metrics.TurnsProcessedTotal.WithLabelValues(priority).Inc()

		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()

		// The last response propagates the conversation forward as a
		// low-priority follow-up, capacity permitting.
		if len(responses) > 0 {
			last := responses[len(responses)-1]
			s.Enqueue(last, false)
		}
	}
}
