// Package postprocess cleans raw generated text before it re-enters the
// conversation as a message.
package postprocess

import (
	"regexp"
	"strings"
)

var (
	quoteChars = regexp.MustCompile("['\"“”‘’]")
	// intentTags removes the bracketed reaction-mode prefix agents are asked
	// to emit, plus any other bracketed annotations.
	intentTags = regexp.MustCompile(`\[[^\]]*\][ \t]*`)
	// allowedChars keeps Hangul (syllables, jamo, compatibility jamo), Latin
	// letters, digits, basic punctuation and whitespace.
	allowedChars = regexp.MustCompile("[^가-힣ㄱ-ㆎᄀ-ᇿa-zA-Z0-9.,!?\\s]")
	sentenceEnd  = regexp.MustCompile(`[.!?]`)
)

// Cleaner strips generation artifacts from model output. The zero value is
// unusable; construct with New.
type Cleaner struct{}

func New() *Cleaner { return &Cleaner{} }

// Clean normalizes a raw generation for the given speaker. participants is
// every current room member; their name labels are stripped when the model
// prefixes its output with someone else's name. The second return value is
// false when cleaning leaves nothing usable; callers treat that as "no
// response", not an error.
func (c *Cleaner) Clean(raw, selfName string, participants []string) (string, bool) {
	text := quoteChars.ReplaceAllString(raw, "")

	for _, name := range participants {
		if name == selfName || name == "" {
			continue
		}
		for _, p := range nameLabelPatterns(name) {
			text = p.ReplaceAllString(text, "")
		}
	}

	text = intentTags.ReplaceAllString(text, "")
	text = allowedChars.ReplaceAllString(text, "")
	text = collapseDuplicateSentences(text)

	if selfName != "" && strings.Contains(text, selfName) {
		text = strings.ReplaceAll(text, "@"+selfName, "")
		text = strings.ReplaceAll(text, selfName, "")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

func nameLabelPatterns(name string) []*regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)^@?` + quoted + `[:\s]+`),
		regexp.MustCompile(`(?i)\n@?` + quoted + `[:\s]+`),
	}
}

// collapseDuplicateSentences removes repeated sentences, a common artifact
// of truncated-and-continued generations. Order of first occurrence is kept.
func collapseDuplicateSentences(text string) string {
	ends := sentenceEnd.FindAllStringIndex(text, -1)
	if len(ends) < 2 {
		return text
	}

	var out strings.Builder
	seen := make(map[string]bool)
	prev := 0
	emit := func(sentence string) {
		key := strings.TrimSpace(sentence)
		if key == "" {
			return
		}
		if seen[key] {
			return
		}
		seen[key] = true
		if out.Len() > 0 {
			out.WriteString(" ")
		}
		out.WriteString(key)
	}

	for _, loc := range ends {
		emit(text[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		emit(text[prev:])
	}
	return out.String()
}
