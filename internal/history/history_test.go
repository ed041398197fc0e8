package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundtable-ai/roundtable/internal/chat"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []chat.Message
	err  error
}

func (s *recordingSink) Append(_ context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, msgs []chat.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("condensed %d messages", len(msgs)), nil
}

func defaultOpts() Options {
	return Options{MaxLength: 25, TargetLength: 15, MinRecentKeep: 7}
}

// newTestStore wires a store whose compactions signal the returned channel.
func newTestStore(t *testing.T, opts Options, sink Sink, sum Summarizer) (*Store, chan struct{}) {
	t.Helper()
	s := NewStore(opts, sink, sum)
	compacted := make(chan struct{}, 8)
	s.onCompacted = func() { compacted <- struct{}{} }
	return s, compacted
}

func waitCompaction(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("compaction did not finish")
	}
}

func appendN(s *Store, n int, from string) {
	for i := 0; i < n; i++ {
		s.Append(context.Background(), chat.New(from, fmt.Sprintf("message %d", i), chat.TypeChat))
	}
}

func TestAppend_BothViewsAndSink(t *testing.T) {
	sink := &recordingSink{}
	s, _ := newTestStore(t, defaultOpts(), sink, &fakeSummarizer{})

	appendN(s, 3, "alice")

	full, contextual := s.Lengths()
	assert.Equal(t, 3, full)
	assert.Equal(t, 3, contextual)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.msgs, 3)
}

func TestAppend_SinkFailureDoesNotBlockHistory(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	s, _ := newTestStore(t, defaultOpts(), sink, &fakeSummarizer{})

	appendN(s, 2, "alice")
	full, _ := s.Lengths()
	assert.Equal(t, 2, full)
}

func TestAppend_ResolvesReplyToFirstMention(t *testing.T) {
	s, _ := newTestStore(t, defaultOpts(), nil, &fakeSummarizer{})

	old := s.Append(context.Background(), chat.New("Agent2", "earlier thought", chat.TypeChat))
	newer := s.Append(context.Background(), chat.New("Agent2", "latest thought", chat.TypeChat))
	s.Append(context.Background(), chat.New("Agent3", "unrelated", chat.TypeChat))

	reply := s.Append(context.Background(), chat.New("alice", "@Agent2 what about @Agent3's view?", chat.TypeChat))
	assert.Equal(t, newer.ID, reply.ReplyToID)
	assert.NotEqual(t, old.ID, reply.ReplyToID)

	noTarget := s.Append(context.Background(), chat.New("alice", "@ghost are you there?", chat.TypeChat))
	assert.Empty(t, noTarget.ReplyToID)
}

func TestSnapshots_AreCopies(t *testing.T) {
	s, _ := newTestStore(t, defaultOpts(), nil, &fakeSummarizer{})
	appendN(s, 2, "alice")

	snap := s.SnapshotContextual()
	snap[0].Content = "mutated"

	fresh := s.SnapshotContextual()
	assert.Equal(t, "message 0", fresh[0].Content)
}

func TestCompaction_FiresOnceAndBoundsContextual(t *testing.T) {
	sum := &fakeSummarizer{}
	s, compacted := newTestStore(t, defaultOpts(), nil, sum)

	// 26 appends with MAX=25: exactly one compaction event.
	appendN(s, 26, "alice")
	waitCompaction(t, compacted)

	sum.mu.Lock()
	assert.Equal(t, 1, sum.calls)
	sum.mu.Unlock()

	full, contextual := s.Lengths()
	assert.Equal(t, 26, full)
	assert.LessOrEqual(t, contextual, defaultOpts().TargetLength+1)

	snap := s.SnapshotContextual()
	require.NotEmpty(t, snap)
	assert.Equal(t, chat.TypeSummary, snap[0].Type)
	assert.Equal(t, "System", snap[0].From)
	assert.Contains(t, snap[0].Content, "(summary)")
	// The synthetic message carries the last spliced timestamp, so ordering
	// against the surviving tail is preserved.
	assert.False(t, snap[0].Timestamp.After(snap[1].Timestamp))
}

func TestCompaction_FullHistoryNeverPruned(t *testing.T) {
	s, compacted := newTestStore(t, defaultOpts(), nil, &fakeSummarizer{})
	appendN(s, 26, "alice")
	waitCompaction(t, compacted)

	assert.Len(t, s.SnapshotFull(), 26)
	full, contextual := s.Lengths()
	assert.GreaterOrEqual(t, full, contextual)
}

func TestCompaction_FailureFallsBackToTruncation(t *testing.T) {
	sum := &fakeSummarizer{err: errors.New("backend down")}
	s, compacted := newTestStore(t, defaultOpts(), nil, sum)

	appendN(s, 26, "alice")
	waitCompaction(t, compacted)

	_, contextual := s.Lengths()
	assert.LessOrEqual(t, contextual, defaultOpts().TargetLength)

	// No synthetic summary message under the fallback.
	for _, m := range s.SnapshotContextual() {
		assert.NotEqual(t, chat.TypeSummary, m.Type)
	}
	assert.Len(t, s.SnapshotFull(), 26)
}

func TestCompaction_ProtectsMostRecentMessages(t *testing.T) {
	opts := Options{MaxLength: 10, TargetLength: 8, MinRecentKeep: 7}
	for name, sum := range map[string]Summarizer{
		"summarized": &fakeSummarizer{},
		"truncated":  &fakeSummarizer{err: errors.New("down")},
	} {
		t.Run(name, func(t *testing.T) {
			s, compacted := newTestStore(t, opts, nil, sum)
			appendN(s, 11, "alice")
			waitCompaction(t, compacted)

			snap := s.SnapshotContextual()
			full := s.SnapshotFull()
			recent := full[len(full)-7:]
			tail := snap[len(snap)-7:]
			for i, m := range recent {
				assert.Equal(t, m.ID, tail[i].ID)
			}
		})
	}
}

func TestTopicSummary(t *testing.T) {
	s, _ := newTestStore(t, defaultOpts(), nil, &fakeSummarizer{})
	assert.NotEmpty(t, s.TopicSummary())
	s.SetTopicSummary("budget planning")
	assert.Equal(t, "budget planning", s.TopicSummary())
}
