// Package history is the shared, append-only record of the conversation in
// two parallel views: the full history kept forever for durable artifacts,
// and the bounded contextual history used to build generation prompts.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roundtable-ai/roundtable/internal/chat"
	"github.com/roundtable-ai/roundtable/internal/metrics"
)

// Sink receives every stored message for durable persistence.
type Sink interface {
	Append(ctx context.Context, msg chat.Message) error
}

// Summarizer condenses a spliced-off history segment into one sentence.
// It is routed through the shared generation gateway.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []chat.Message) (string, error)
}

// Options bound the contextual history.
type Options struct {
	MaxLength     int
	TargetLength  int
	MinRecentKeep int
}

// Store owns both history views. It is the sole mutator of either; readers
// get copies.
type Store struct {
	opts       Options
	sink       Sink
	summarizer Summarizer
	// OnAppend, when set, is invoked outside the lock for every appended
	// message. The hub uses it to fan messages out to clients.
	OnAppend func(chat.Message)

	mu           sync.Mutex
	full         []chat.Message
	contextual   []chat.Message
	topicSummary string
	compacting   bool

	compactTimeout time.Duration
	// onCompacted is a test hook fired after a compaction attempt finishes.
	onCompacted func()
}

func NewStore(opts Options, sink Sink, summarizer Summarizer) *Store {
	return &Store{
		opts:           opts,
		sink:           sink,
		summarizer:     summarizer,
		topicSummary:   "The conversation has just started.",
		compactTimeout: 30 * time.Second,
	}
}

// Append resolves the message's reply target, stores it in both views,
// persists it, and kicks off background compaction when the contextual view
// exceeds its bound. The caller never waits on compaction.
func (s *Store) Append(ctx context.Context, msg chat.Message) chat.Message {
	s.mu.Lock()
	msg.ReplyToID = s.resolveReplyToLocked(msg)
	s.full = append(s.full, msg)
	s.contextual = append(s.contextual, msg)
	needsCompaction := len(s.contextual) > s.opts.MaxLength && !s.compacting
	if needsCompaction {
		s.compacting = true
	}
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.Append(ctx, msg); err != nil {
			slog.Error("persisting message", "error", err, "id", msg.ID)
		}
	}
	if s.OnAppend != nil {
		s.OnAppend(msg)
	}

	if needsCompaction {
		go s.compact()
	}
	return msg
}

// resolveReplyToLocked scans the full history backward for the most recent
// message from the first @mentioned participant.
func (s *Store) resolveReplyToLocked(msg chat.Message) string {
	mentioned := msg.FirstMention()
	if mentioned == "" {
		return ""
	}
	for i := len(s.full) - 1; i >= 0; i-- {
		if s.full[i].From == mentioned {
			return s.full[i].ID
		}
	}
	return ""
}

// SnapshotContextual returns a copy of the bounded working memory.
func (s *Store) SnapshotContextual() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.contextual))
	copy(out, s.contextual)
	return out
}

// SnapshotFull returns a copy of the complete, never-pruned history.
func (s *Store) SnapshotFull() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.full))
	copy(out, s.full)
	return out
}

// Lengths returns the current sizes of both views.
func (s *Store) Lengths() (full, contextual int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.full), len(s.contextual)
}

func (s *Store) SetTopicSummary(summary string) {
	s.mu.Lock()
	s.topicSummary = summary
	s.mu.Unlock()
	slog.Info("topic summary updated", "summary", summary)
}

func (s *Store) TopicSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topicSummary
}

// compact splices the oldest segment of contextual history into a single
// synthetic summary message. Single-flight, guarded by the compacting flag
// set in Append. On summarization failure it degrades to plain truncation:
// bounded memory takes priority over completeness.
func (s *Store) compact() {
	defer func() {
		s.mu.Lock()
		s.compacting = false
		s.mu.Unlock()
		if s.onCompacted != nil {
			s.onCompacted()
		}
	}()

	s.mu.Lock()
	n := s.opts.MaxLength - s.opts.TargetLength + 1
	// Never disturb the newest messages; immediate coherence wins.
	if spliceable := len(s.contextual) - s.opts.MinRecentKeep; n > spliceable {
		n = spliceable
	}
	if n <= 0 || len(s.contextual) < n {
		s.mu.Unlock()
		return
	}
	segment := make([]chat.Message, n)
	copy(segment, s.contextual[:n])
	s.mu.Unlock()

	slog.Info("compacting contextual history", "segment", n)

	ctx, cancel := context.WithTimeout(context.Background(), s.compactTimeout)
	defer cancel()

	summaryText, err := s.summarizer.Summarize(ctx, segment)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		// Truncation loses the segment but guarantees forward progress.
		slog.Error("summarizing history segment, falling back to truncation", "error", err)
		s.contextual = append([]chat.Message(nil), s.contextual[n:]...)
		metrics.CompactionsTotal.WithLabelValues("truncated").Inc()
		return
	}

	summary := chat.Message{
		ID:        fmt.Sprintf("summary_%s", uuid.New().String()),
		From:      "System",
		Content:   "(summary) " + summaryText,
		Timestamp: segment[n-1].Timestamp,
		Type:      chat.TypeSummary,
	}
	rest := s.contextual[n:]
	compacted := make([]chat.Message, 0, len(rest)+1)
	compacted = append(compacted, summary)
	compacted = append(compacted, rest...)
	s.contextual = compacted

	metrics.CompactionsTotal.WithLabelValues("summarized").Inc()
	slog.Info("compaction complete", "contextual", len(s.contextual))
}
