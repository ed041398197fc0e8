// Package directive extracts structured guidance from moderator utterances
// and holds the single active directive with a time-to-live.
package directive

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/roundtable-ai/roundtable/internal/metrics"
)

// Directive is time-boxed moderator guidance injected into prompts.
type Directive struct {
	NextTopic string
	Highlight string
	Summary   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type field int

const (
	fieldNextTopic field = iota
	fieldHighlight
	fieldSummary
)

// rule is one ordered pattern matcher. For each field the structured marker
// form is tried before the free-form fallback; the first match wins.
type rule struct {
	field    field
	patterns []*regexp.Regexp
}

var rules = []rule{
	{fieldNextTopic, []*regexp.Regexp{
		regexp.MustCompile(`(?i)🔹\s*\*\*다음\s*주제\*\*:\s*\[([^\]]+)\]`),
		regexp.MustCompile(`(?i)🔹\s*\*\*next\s*topic\*\*:\s*\[([^\]]+)\]`),
		regexp.MustCompile(`(?i)다음\s*주제[:\s]*([^\n]+)`),
		regexp.MustCompile(`(?i)next\s*topic[:\s]*([^\n]+)`),
	}},
	{fieldHighlight, []*regexp.Regexp{
		regexp.MustCompile(`(?i)🔹\s*\*\*주목할\s*의견\*\*:\s*\[([^\]]+)\]`),
		regexp.MustCompile(`(?i)🔹\s*\*\*highlight\*\*:\s*\[([^\]]+)\]`),
		regexp.MustCompile(`(?i)주목할\s*의견[:\s]*([^\n]+)`),
		regexp.MustCompile(`(?i)highlight[:\s]*([^\n]+)`),
	}},
	{fieldSummary, []*regexp.Regexp{
		regexp.MustCompile(`(?i)🔹\s*\*\*요약\*\*:\s*\[([^\]]+)\]`),
		regexp.MustCompile(`(?i)🔹\s*\*\*summary\*\*:\s*\[([^\]]+)\]`),
		regexp.MustCompile(`(?i)요약[:\s]*([^\n]+)`),
		regexp.MustCompile(`(?i)summary[:\s]*([^\n]+)`),
	}},
}

func matchField(text string, r rule) string {
	for _, p := range r.patterns {
		if g := p.FindStringSubmatch(text); g != nil {
			return strings.TrimSpace(g[1])
		}
	}
	return ""
}

// Extract pulls directive fields out of a moderator utterance. It returns
// nil when no field matches; extraction failure is not an error.
func Extract(moderatorText string) *Directive {
	d := &Directive{}
	for _, r := range rules {
		val := matchField(moderatorText, r)
		switch r.field {
		case fieldNextTopic:
			d.NextTopic = val
		case fieldHighlight:
			d.Highlight = val
		case fieldSummary:
			d.Summary = val
		}
	}
	if d.NextTopic == "" && d.Highlight == "" && d.Summary == "" {
		return nil
	}
	return d
}

// Store holds at most one active directive system-wide. A newer directive
// always supersedes the current one regardless of remaining TTL.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	active *Directive
}

func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// Install makes d the active directive, stamping issue and expiry times.
func (s *Store) Install(d *Directive) {
	now := s.now()
	d.IssuedAt = now
	d.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	s.active = d
	s.mu.Unlock()

	metrics.DirectivesTotal.Inc()
}

// Active returns the current directive, or nil if none is installed or the
// installed one has expired.
func (s *Store) Active() *Directive {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || !s.now().Before(s.active.ExpiresAt) {
		return nil
	}
	return s.active
}
