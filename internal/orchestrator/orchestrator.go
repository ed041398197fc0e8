// Package orchestrator drives conversation turns end to end: selection,
// delayed generation through the shared gateway, post-processing, history
// write-back, and directive propagation after moderator interventions.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roundtable-ai/roundtable/internal/agentmem"
	"github.com/roundtable-ai/roundtable/internal/chat"
	"github.com/roundtable-ai/roundtable/internal/config"
	"github.com/roundtable-ai/roundtable/internal/directive"
	"github.com/roundtable-ai/roundtable/internal/events"
	"github.com/roundtable-ai/roundtable/internal/gateway"
	"github.com/roundtable-ai/roundtable/internal/history"
	"github.com/roundtable-ai/roundtable/internal/postprocess"
	"github.com/roundtable-ai/roundtable/internal/prompt"
	"github.com/roundtable-ai/roundtable/internal/roster"
	"github.com/roundtable-ai/roundtable/internal/selector"
)

// Broadcaster fans a message out to every connected client.
type Broadcaster interface {
	Broadcast(msg chat.Message)
}

// Queue is the slice of the turn scheduler the engine drives.
type Queue interface {
	Enqueue(stimulus chat.Message, highPriority bool) bool
	Pause()
	Resume()
	Paused() bool
}

const (
	apologyLine          = "Sorry, I ran into a problem while composing a reply."
	moderatorMaxTokens   = 1000
	participantMaxTokens = 2048
)

// Engine implements the turn runner. One engine serves one room.
type Engine struct {
	cfg        *config.Config
	gw         *gateway.Gateway
	hist       *history.Store
	roster     *roster.Roster
	selector   *selector.Selector
	directives *directive.Store
	memory     *agentmem.Store
	cleaner    *postprocess.Cleaner

	queue     Queue
	broadcast Broadcaster
	publisher *events.Publisher

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(
	cfg *config.Config,
	gw *gateway.Gateway,
	hist *history.Store,
	ros *roster.Roster,
	sel *selector.Selector,
	dirs *directive.Store,
	mem *agentmem.Store,
) *Engine {
	return &Engine{
		cfg:        cfg,
		gw:         gw,
		hist:       hist,
		roster:     ros,
		selector:   sel,
		directives: dirs,
		memory:     mem,
		cleaner:    postprocess.New(),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// SetQueue and SetBroadcaster complete the wiring; the scheduler and hub
// are constructed after the engine.
func (e *Engine) SetQueue(q Queue) { e.queue = q }

func (e *Engine) SetBroadcaster(b Broadcaster) { e.broadcast = b }

// SetPublisher attaches the optional JetStream publisher; directive
// installs are mirrored onto the event stream.
func (e *Engine) SetPublisher(p *events.Publisher) { e.publisher = p }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunTurn processes one stimulus: pick responders, generate their replies
// concurrently with per-pick delays, then commit results in pick order.
func (e *Engine) RunTurn(ctx context.Context, stimulus chat.Message) []chat.Message {
	snapshot := e.hist.SnapshotContextual()
	candidates := e.roster.Agents()
	if len(candidates) == 0 {
		return nil
	}

	mentioned := e.findMentionedAgent(stimulus)
	picks := e.selector.Select(candidates, stimulus, mentioned)
	if len(picks) == 0 {
		slog.Debug("no responder cleared the participation bar", "stimulus", stimulus.ID)
		return nil
	}

	results := make([]*chat.Message, len(picks))
	var wg sync.WaitGroup
	for i, pick := range picks {
		wg.Add(1)
		go func(i int, pick selector.Pick) {
			defer wg.Done()
			if err := e.sleep(ctx, pick.Delay); err != nil {
				return
			}
			if pick.IsModerator {
				results[i] = e.moderatorResponse(ctx, pick, snapshot)
			} else {
				results[i] = e.participantResponse(ctx, pick, stimulus, snapshot)
			}
		}(i, pick)
	}
	wg.Wait()

	var out []chat.Message
	for _, res := range results {
		if res == nil {
			continue
		}
		msg := e.hist.Append(ctx, *res)
		e.emit(msg)
		e.selector.RecordSpoke(msg.From)
		if e.memory != nil && msg.Type == chat.TypeChat {
			if err := e.memory.Remember(ctx, msg.From, msg.Content); err != nil {
				slog.Warn("failed to persist agent memory", "agent", msg.From, "error", err)
			}
		}
		if msg.Type == chat.TypeModerator {
			e.propagateDirective(msg)
		}
		out = append(out, msg)
	}
	return out
}

func (e *Engine) findMentionedAgent(stimulus chat.Message) string {
	for _, name := range stimulus.Mentions() {
		if p, ok := e.roster.Get(name); ok && p.IsAgent {
			return p.Name
		}
	}
	return ""
}

func (e *Engine) participantResponse(ctx context.Context, pick selector.Pick, stimulus chat.Message, snapshot []chat.Message) *chat.Message {
	p, ok := e.roster.Get(pick.Name)
	if !ok {
		slog.Warn("selected participant left before generating", "name", pick.Name)
		return nil
	}

	var memories []string
	if e.memory != nil {
		var err error
		memories, err = e.memory.Recent(ctx, pick.Name)
		if err != nil {
			slog.Warn("failed to load agent memory", "agent", pick.Name, "error", err)
		}
	}

	req := &gateway.Request{
		Contents: prompt.Participant(prompt.ParticipantInput{
			Name:      pick.Name,
			Persona:   p.Persona,
			Memories:  memories,
			Directive: e.directives.Active(),
			History:   snapshot,
		}),
		Sampling:        &p.Sampling,
		MaxOutputTokens: participantMaxTokens,
		EnableSearch:    prompt.NeedsSearch(stimulus.Content),
	}

	res, err := e.gw.Execute(ctx, req)
	if err != nil {
		slog.Error("participant generation failed", "agent", pick.Name, "error", err)
		msg := chat.New(pick.Name, apologyLine, chat.TypeChat)
		msg.Target = pick.Target
		return &msg
	}

	clean, ok := e.cleaner.Clean(res.Text, pick.Name, e.roster.ListNames())
	if !ok {
		slog.Info("response discarded as empty after cleaning", "agent", pick.Name)
		return nil
	}

	msg := chat.New(pick.Name, clean, chat.TypeChat)
	msg.Target = pick.Target
	return &msg
}

func (e *Engine) moderatorResponse(ctx context.Context, pick selector.Pick, snapshot []chat.Message) *chat.Message {
	req := &gateway.Request{
		Contents:        prompt.Moderator(snapshot),
		Sampling:        &gateway.Sampling{Temperature: 0.7},
		MaxOutputTokens: moderatorMaxTokens,
	}

	res, err := e.gw.Execute(ctx, req)
	if err != nil {
		slog.Error("moderator generation failed", "moderator", pick.Name, "error", err)
		msg := chat.New(pick.Name, "Sorry, I had trouble organizing the discussion. Please carry on.", chat.TypeModerator)
		return &msg
	}

	msg := chat.New(pick.Name, prompt.TrimIncomplete(res.Text), chat.TypeModerator)
	return &msg
}

// propagateDirective extracts structured guidance from a committed
// moderator message, installs it, and re-queues the message so the other
// agents respond under the new directive.
func (e *Engine) propagateDirective(msg chat.Message) {
	d := directive.Extract(msg.Content)
	if d == nil {
		return
	}
	e.directives.Install(d)
	slog.Info("moderator directive installed", "next_topic", d.NextTopic, "highlight", d.Highlight)

	if err := e.publisher.PublishDirective(context.Background(), events.DirectiveEvent{
		NextTopic: d.NextTopic,
		Highlight: d.Highlight,
		Summary:   d.Summary,
		ExpiresAt: d.ExpiresAt,
	}); err != nil {
		slog.Warn("publishing directive event", "error", err)
	}

	follow := msg
	follow.Directive = true
	if e.queue != nil {
		e.queue.Enqueue(follow, true)
	}
}

// HandleInbound processes a message arriving from a connected client. The
// hub calls this for every chat payload after roster validation.
func (e *Engine) HandleInbound(ctx context.Context, msg chat.Message) {
	if msg.FromHuman && e.queue != nil && e.queue.Paused() {
		slog.Info("human input resumes the conversation")
		e.queue.Resume()
	}

	if strings.HasPrefix(msg.Content, "/minutes") || strings.HasPrefix(msg.Content, "/회의록") {
		go e.GenerateMinutes(ctx, msg)
		return
	}

	stored := e.hist.Append(ctx, msg)
	e.emit(stored)
	if e.queue != nil {
		e.queue.Enqueue(stored, true)
	}
}

// GenerateMinutes pauses the room and has the scribe compile meeting
// minutes over the full history. The room stays paused until the next
// human message.
func (e *Engine) GenerateMinutes(ctx context.Context, initiator chat.Message) {
	if e.queue != nil {
		e.queue.Pause()
	}

	scribe := e.roster.FindByRole(roster.RoleScribe)
	if scribe == nil {
		slog.Warn("minutes requested but no scribe is assigned")
		e.emit(chat.New("System", "Error: no scribe is assigned to write the minutes.", chat.TypeSystem))
		return
	}

	e.emit(chat.New("System", "Minutes compilation started (scribe: "+scribe.Name+").", chat.TypeSystem))

	full := e.hist.SnapshotFull()
	req := &gateway.Request{
		Contents: []gateway.Turn{{
			Role: "user",
			Text: prompt.Minutes(full, e.roster.ListNames(), e.now()),
		}},
		MaxOutputTokens: e.cfg.Context.MinutesMaxTokens,
	}

	res, err := e.gw.Execute(ctx, req)
	if err != nil {
		slog.Error("minutes generation failed", "scribe", scribe.Name, "error", err)
		e.emit(chat.New("System", scribe.Name+" failed to compile the minutes.", chat.TypeSystem))
		return
	}

	minutes := chat.New(scribe.Name, "--- Meeting minutes (scribe: "+scribe.Name+") ---\n\n"+res.Text, chat.TypeMinutes)
	e.emit(minutes)
	slog.Info("minutes compiled, awaiting next human input", "scribe", scribe.Name)
}

// RunTopicSummaries periodically refreshes the room's one-line topic
// summary from the tail of the full history.
func (e *Engine) RunTopicSummaries(ctx context.Context) {
	if e.cfg.Context.TopicInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.Context.TopicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		full := e.hist.SnapshotFull()
		if len(full) < 10 {
			continue
		}
		recent := full
		if len(recent) > 20 {
			recent = recent[len(recent)-20:]
		}

		res, err := e.gw.Execute(ctx, &gateway.Request{
			Contents: []gateway.Turn{{Role: "user", Text: prompt.TopicSummary(recent)}},
		})
		if err != nil {
			slog.Warn("topic summary generation failed", "error", err)
			continue
		}
		e.hist.SetTopicSummary(strings.TrimSpace(res.Text))
	}
}

func (e *Engine) emit(msg chat.Message) {
	if e.broadcast != nil {
		e.broadcast.Broadcast(msg)
	}
}

// Condenser adapts the gateway into the history compaction summarizer.
type Condenser struct {
	GW *gateway.Gateway
}

func (c *Condenser) Summarize(ctx context.Context, msgs []chat.Message) (string, error) {
	res, err := c.GW.Execute(ctx, &gateway.Request{
		Contents: []gateway.Turn{{Role: "user", Text: prompt.Compaction(msgs)}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}
