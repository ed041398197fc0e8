// Package selector decides which agents respond to a stimulus: moderator
// pre-emption first, then scored fan-out with mention resolution, cooldown
// gating and a liveness fallback so an active room never goes silent.
package selector

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/roundtable-ai/roundtable/internal/chat"
	"github.com/roundtable-ai/roundtable/internal/config"
	"github.com/roundtable-ai/roundtable/internal/directive"
	"github.com/roundtable-ai/roundtable/internal/roster"
)

// Pick is one selected responder with its reply delay and target.
type Pick struct {
	Name        string
	Delay       time.Duration
	Target      string
	IsModerator bool
}

// Selector scores candidates against a stimulus. It owns the moderator
// intervention counters and the per-agent cooldown clock.
type Selector struct {
	cfg        config.TurnConfig
	roster     *roster.Roster
	directives *directive.Store

	now     func() time.Time
	randInt func(n int) int

	mu            sync.Mutex
	turnCount     int
	lastModerator time.Time
	lastSpoke     map[string]time.Time
}

func New(cfg config.TurnConfig, ros *roster.Roster, directives *directive.Store) *Selector {
	s := &Selector{
		cfg:        cfg,
		roster:     ros,
		directives: directives,
		now:        time.Now,
		randInt:    rand.Intn,
		lastSpoke:  make(map[string]time.Time),
	}
	s.lastModerator = s.now()
	return s
}

// RecordSpoke marks the agent's cooldown clock; called after each turn the
// agent actually produced a response in.
func (s *Selector) RecordSpoke(name string) {
	s.mu.Lock()
	s.lastSpoke[name] = s.now()
	s.mu.Unlock()
}

// TurnCount returns the moderator-intervention turn counter.
func (s *Selector) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// Select chooses responders for the stimulus among the agent candidates.
// mentionedName is the first @mentioned agent, or "".
func (s *Selector) Select(candidates []*roster.Participant, stimulus chat.Message, mentionedName string) []Pick {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(candidates) == 0 {
		return nil
	}
	// A lone agent never replies to itself; the room stays quiet until
	// someone else speaks.
	if len(candidates) == 1 && candidates[0].Name == stimulus.From {
		return nil
	}

	if pick, ok := s.moderatorInterventionLocked(candidates); ok {
		return []Pick{pick}
	}

	scored := s.scoreLocked(candidates, stimulus)

	var picks []Pick
	if mentionedName != "" {
		for _, sc := range scored {
			if sc.p.Name == mentionedName && sc.score > 0 {
				slog.Debug("responder selected", "name", sc.p.Name, "reason", "mentioned")
				picks = append(picks, Pick{
					Name:   sc.p.Name,
					Delay:  s.cfg.BaseDelay,
					Target: stimulus.From,
				})
				break
			}
		}
	}

	maxResponders := s.cfg.MaxResponders
	threshold := s.cfg.ScoreThreshold
	if stimulus.Directive {
		// Moderator redirections widen fan-out and lower the bar so the
		// group visibly reacts within the same exchange.
		maxResponders = s.cfg.DirectiveMaxResponders
		threshold = s.cfg.DirectiveScoreThreshold
	}

	selected := 0
	for _, sc := range scored {
		if selected >= maxResponders {
			break
		}
		if sc.p.Name == mentionedName || sc.score <= threshold {
			continue
		}
		slog.Debug("responder selected", "name", sc.p.Name, "score", sc.score)
		picks = append(picks, Pick{
			Name:   sc.p.Name,
			Delay:  s.cfg.BaseDelay + time.Duration(selected)*s.cfg.StaggerStep + s.jitterLocked(),
			Target: stimulus.From,
		})
		selected++
	}

	// Liveness guarantee: an eligible agent always answers rather than
	// letting the conversation die on a threshold miss.
	if len(picks) == 0 {
		for _, sc := range scored {
			if sc.score > 0 {
				slog.Debug("responder force-selected", "name", sc.p.Name, "score", sc.score)
				picks = append(picks, Pick{
					Name:   sc.p.Name,
					Delay:  s.cfg.BaseDelay,
					Target: stimulus.From,
				})
				break
			}
		}
	}

	if len(picks) > 0 {
		s.turnCount++
	}
	return picks
}

type scoredCandidate struct {
	p     *roster.Participant
	score int
}

func (s *Selector) scoreLocked(candidates []*roster.Participant, stimulus chat.Message) []scoredCandidate {
	directiveActive := s.directives.Active() != nil

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, p := range candidates {
		score := 0
		switch {
		case s.roster.RoleOf(p.Name) == roster.RoleModerator:
			// The moderator does not compete for normal turns.
		case p.Name == stimulus.From:
			// No self-replies.
		case !s.cooldownPassedLocked(p.Name):
		default:
			score = p.Spontaneity + s.randInt(20)
			if directiveActive {
				score += 30
			}
			if chat.ContainsQuestion(stimulus.Content) {
				score += 20
			}
			if stimulus.FromHuman {
				score += 50
			}
		}
		scored = append(scored, scoredCandidate{p: p, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored
}

// cooldownPassedLocked is the timing gate: a fixed quiet period since the
// agent last spoke, relaxed when the remaining wait is within the slack so
// a near-miss does not starve the room.
func (s *Selector) cooldownPassedLocked(name string) bool {
	last, ok := s.lastSpoke[name]
	if !ok {
		return true
	}
	elapsed := s.now().Sub(last)
	if elapsed >= s.cfg.Cooldown {
		return true
	}
	return s.cfg.Cooldown-elapsed <= s.cfg.CooldownSlack
}

func (s *Selector) moderatorInterventionLocked(candidates []*roster.Participant) (Pick, bool) {
	if len(candidates) < 2 {
		return Pick{}, false
	}
	turnReached := s.turnCount >= s.cfg.ModeratorTurns
	timeReached := s.now().Sub(s.lastModerator) >= s.cfg.ModeratorInterval
	if !turnReached && !timeReached {
		return Pick{}, false
	}

	moderator := s.roster.FindByRole(roster.RoleModerator)
	if moderator == nil {
		return Pick{}, false
	}

	slog.Info("moderator intervention", "name", moderator.Name, "turns", s.turnCount)
	s.turnCount = 0
	s.lastModerator = s.now()
	return Pick{
		Name:        moderator.Name,
		Delay:       s.cfg.BaseDelay,
		IsModerator: true,
	}, true
}

func (s *Selector) jitterLocked() time.Duration {
	if s.cfg.RandomDelay <= 0 {
		return 0
	}
	return time.Duration(s.randInt(int(s.cfg.RandomDelay/time.Millisecond))) * time.Millisecond
}
