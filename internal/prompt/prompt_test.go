package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundtable-ai/roundtable/internal/chat"
	"github.com/roundtable-ai/roundtable/internal/directive"
)

func say(from, content string) chat.Message {
	return chat.New(from, content, chat.TypeChat)
}

func TestParticipant_CollapsesConsecutiveRoles(t *testing.T) {
	history := []chat.Message{
		say("alice", "hello"),
		say("bob", "hey there"),
		say("Agent1", "greetings"),
		say("Agent1", "how is everyone"),
		say("alice", "fine"),
	}

	turns := Participant(ParticipantInput{Name: "Agent1", History: history})

	// Preamble merges with the leading user-role history run.
	require.Len(t, turns, 3)
	assert.Equal(t, "user", turns[0].Role)
	assert.Contains(t, turns[0].Text, "You are 'Agent1'")
	assert.Contains(t, turns[0].Text, "alice: hello\nbob: hey there")

	assert.Equal(t, "model", turns[1].Role)
	assert.Equal(t, "Agent1: greetings\nAgent1: how is everyone", turns[1].Text)

	assert.Equal(t, "user", turns[2].Role)
	assert.Equal(t, "alice: fine", turns[2].Text)
}

func TestParticipant_MemoryAndDirectiveBlocks(t *testing.T) {
	in := ParticipantInput{
		Name:     "Agent1",
		Persona:  "a skeptical economist",
		Memories: []string{"I argued rates will fall.", "I questioned the data."},
		Directive: &directive.Directive{
			NextTopic: "return to fiscal policy",
			Summary:   "the chat drifted into sports",
		},
	}

	turns := Participant(in)
	require.Len(t, turns, 1)
	text := turns[0].Text

	assert.Contains(t, text, "'a skeptical economist'")
	assert.Contains(t, text, "- I argued rates will fall.")
	assert.Contains(t, text, "Do NOT repeat")
	assert.Contains(t, text, "steer toward this topic**: return to fiscal policy")
	assert.Contains(t, text, "Conversation summary: the chat drifted into sports")
	assert.NotContains(t, text, "Highlighted opinion", "empty directive fields are omitted")
}

func TestParticipant_NoMemoryNoDirective(t *testing.T) {
	turns := Participant(ParticipantInput{Name: "Agent1"})
	require.Len(t, turns, 1)
	assert.NotContains(t, turns[0].Text, "Personal Memory")
	assert.NotContains(t, turns[0].Text, "moderator**:")
	assert.Contains(t, turns[0].Text, defaultPersona)
}

func TestModeratorWindow(t *testing.T) {
	short := make([]chat.Message, 15)
	for i := range short {
		short[i] = say("a", fmt.Sprintf("m%d", i))
	}
	assert.Len(t, ModeratorWindow(short), 15)

	long := make([]chat.Message, 30)
	for i := range long {
		long[i] = say("a", fmt.Sprintf("m%d", i))
	}
	window := ModeratorWindow(long)
	require.Len(t, window, 15)
	assert.Equal(t, "m0", window[0].Content)
	assert.Equal(t, "m4", window[4].Content)
	assert.Equal(t, "m20", window[5].Content)
	assert.Equal(t, "m29", window[14].Content)
}

func TestModerator_OutputParsableByExtractor(t *testing.T) {
	turns := Moderator([]chat.Message{say("alice", "let's plan the launch")})
	require.Len(t, turns, 1)

	// The mandated format must round-trip through the extractor.
	sample := "🔹 **Summary**: [progress is good]\n🔹 **Highlight**: [bob's timeline]\n🔹 **Next topic**: [pricing]"
	assert.Contains(t, turns[0].Text, "🔹 **Next topic**:")
	d := directive.Extract(sample)
	require.NotNil(t, d)
	assert.Equal(t, "pricing", d.NextTopic)
}

func TestMinutes_IncludesAttendeesAndTranscript(t *testing.T) {
	p := Minutes(
		[]chat.Message{say("alice", "we should ship friday"), say("Agent1", "risky but doable")},
		[]string{"alice", "Agent1"},
		time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	)
	assert.Contains(t, p, "alice, Agent1")
	assert.Contains(t, p, "2026-03-14 15:04")
	assert.Contains(t, p, "alice: we should ship friday")
	assert.Contains(t, p, "Agent1: risky but doable")
}

func TestNeedsSearch(t *testing.T) {
	assert.True(t, NeedsSearch("can you search for that paper?"))
	assert.True(t, NeedsSearch("최신 뉴스 좀 검색해줘"))
	assert.False(t, NeedsSearch("I think we agree"))
}

func TestTrimIncomplete(t *testing.T) {
	t.Run("short responses untouched", func(t *testing.T) {
		assert.Equal(t, "brief and cut of", TrimIncomplete("brief and cut of"))
	})

	t.Run("terminated responses untouched", func(t *testing.T) {
		s := strings.Repeat("a proper sentence. ", 5)
		assert.Equal(t, strings.TrimSpace(s), TrimIncomplete(s))
	})

	t.Run("truncated tail removed", func(t *testing.T) {
		s := "This is the first full sentence. This is the second full sentence! And this trails off without any end"
		got := TrimIncomplete(s)
		assert.Equal(t, "This is the first full sentence. This is the second full sentence!", got)
	})

	t.Run("no terminator at all", func(t *testing.T) {
		s := strings.Repeat("word ", 20) + "tail"
		assert.Equal(t, strings.TrimSpace(s), TrimIncomplete(strings.TrimSpace(s)))
	})
}
