package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundtable-ai/roundtable/internal/chat"
)

type recordingRunner struct {
	mu        sync.Mutex
	processed []chat.Message
	responses []chat.Message
	done      chan string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan string, 64)}
}

func (r *recordingRunner) RunTurn(_ context.Context, stimulus chat.Message) []chat.Message {
	r.mu.Lock()
	r.processed = append(r.processed, stimulus)
	out := r.responses
	r.responses = nil
	r.mu.Unlock()
	r.done <- stimulus.ID
	return out
}

func (r *recordingRunner) processedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.processed))
	for i, m := range r.processed {
		ids[i] = m.ID
	}
	return ids
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for turn %s", want)
	}
}

func newTestScheduler(runner Runner) *Scheduler {
	return New(Options{MaxQueuedFollowUps: 3, QueueCeiling: 32}, runner)
}

func msg(id, from, content string) chat.Message {
	m := chat.New(from, content, chat.TypeChat)
	m.ID = id
	return m
}

func TestEnqueue_RejectsDuplicateQueued(t *testing.T) {
	s := newTestScheduler(newRecordingRunner())

	require.True(t, s.Enqueue(msg("m1", "alice", "hi"), false))
	assert.False(t, s.Enqueue(msg("m1", "alice", "hi"), false))
	assert.Equal(t, 1, s.Len())
}

func TestEnqueue_RejectsAlreadyProcessed(t *testing.T) {
	runner := newRecordingRunner()
	s := newTestScheduler(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.Enqueue(msg("m1", "alice", "hi"), false))
	waitFor(t, runner.done, "m1")

	assert.False(t, s.Enqueue(msg("m1", "alice", "hi"), false))
}

func TestEnqueue_DropsMalformed(t *testing.T) {
	s := newTestScheduler(newRecordingRunner())

	assert.False(t, s.Enqueue(chat.Message{From: "alice", Content: "no id"}, false))
	assert.Equal(t, 0, s.Len())
}

func TestEnqueue_HighPriorityRebuildsQueue(t *testing.T) {
	s := newTestScheduler(newRecordingRunner())

	require.True(t, s.Enqueue(msg("low1", "Agent1", "a"), false))
	require.True(t, s.Enqueue(msg("low2", "Agent2", "b"), false))
	require.True(t, s.Enqueue(msg("high1", "alice", "question"), true))

	pending := s.Pending()
	require.Len(t, pending, 1, "low-priority turns must be discarded")
	assert.Equal(t, "high1", pending[0].Stimulus.ID)

	// A second interrupt goes to the front, keeping the earlier one.
	require.True(t, s.Enqueue(msg("high2", "bob", "another"), true))
	pending = s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "high2", pending[0].Stimulus.ID)
	assert.Equal(t, "high1", pending[1].Stimulus.ID)
}

func TestEnqueue_FollowUpCap(t *testing.T) {
	s := newTestScheduler(newRecordingRunner())

	require.True(t, s.Enqueue(msg("f1", "Agent1", "a"), false))
	require.True(t, s.Enqueue(msg("f2", "Agent1", "b"), false))
	require.True(t, s.Enqueue(msg("f3", "Agent1", "c"), false))
	assert.False(t, s.Enqueue(msg("f4", "Agent1", "d"), false))
	assert.Equal(t, 3, s.Len())

	// High-priority input is not subject to the follow-up cap.
	assert.True(t, s.Enqueue(msg("h1", "alice", "hey"), true))
}

func TestEnqueue_QueueCeiling(t *testing.T) {
	s := New(Options{MaxQueuedFollowUps: 3, QueueCeiling: 2}, newRecordingRunner())

	require.True(t, s.Enqueue(msg("h1", "alice", "1"), true))
	require.True(t, s.Enqueue(msg("h2", "alice", "2"), true))
	require.True(t, s.Enqueue(msg("h3", "alice", "3"), true))

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "h3", pending[0].Stimulus.ID)
	assert.Equal(t, "h2", pending[1].Stimulus.ID)
}

func TestRun_ProcessesInOrder(t *testing.T) {
	runner := newRecordingRunner()
	s := newTestScheduler(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.Enqueue(msg("m1", "alice", "one"), false))
	waitFor(t, runner.done, "m1")
	require.True(t, s.Enqueue(msg("m2", "alice", "two"), false))
	waitFor(t, runner.done, "m2")

	assert.Equal(t, []string{"m1", "m2"}, runner.processedIDs())
}

func TestRun_ReenqueuesLastResponse(t *testing.T) {
	runner := newRecordingRunner()
	s := newTestScheduler(runner)

	runner.mu.Lock()
	runner.responses = []chat.Message{
		msg("r1", "Agent1", "first reply"),
		msg("r2", "Agent2", "second reply"),
	}
	runner.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.Enqueue(msg("m1", "alice", "hello"), false))
	waitFor(t, runner.done, "m1")
	// Only the last response becomes a follow-up stimulus.
	waitFor(t, runner.done, "r2")

	assert.Equal(t, []string{"m1", "r2"}, runner.processedIDs())
}

func TestPauseResume(t *testing.T) {
	runner := newRecordingRunner()
	s := newTestScheduler(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.Enqueue(msg("m1", "alice", "one"), false))
	waitFor(t, runner.done, "m1")

	s.Pause()
	require.True(t, s.Paused())
	require.True(t, s.Enqueue(msg("m2", "alice", "two"), false))

	select {
	case id := <-runner.done:
		t.Fatalf("turn %s processed while paused", id)
	case <-time.After(100 * time.Millisecond):
	}

	s.Resume()
	waitFor(t, runner.done, "m2")
}

func TestPause_DiscardsQueue(t *testing.T) {
	s := newTestScheduler(newRecordingRunner())

	require.True(t, s.Enqueue(msg("m1", "Agent1", "a"), false))
	require.True(t, s.Enqueue(msg("m2", "Agent2", "b"), false))
	s.Pause()
	assert.Equal(t, 0, s.Len())
}
