// Package prompt assembles every prompt the engine sends to the generation
// backend: participant turns, moderator interventions, compaction and topic
// summaries, and meeting minutes.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/roundtable-ai/roundtable/internal/chat"
	"github.com/roundtable-ai/roundtable/internal/directive"
	"github.com/roundtable-ai/roundtable/internal/gateway"
)

// ParticipantInput carries everything needed to build one agent's turn.
type ParticipantInput struct {
	Name      string
	Persona   string
	Memories  []string
	Directive *directive.Directive
	History   []chat.Message
}

const defaultPersona = "a thoughtful conversation partner"

// Participant builds the full multi-turn request for one agent response:
// a system-style preamble followed by the conversation history collapsed
// into alternating user/model turns.
func Participant(in ParticipantInput) []gateway.Turn {
	persona := in.Persona
	if persona == "" {
		persona = defaultPersona
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are '%s', one participant in a group chat with several others.\n", in.Name)
	fmt.Fprintf(&b, "Your persona: '%s'.\n", persona)

	if len(in.Memories) > 0 {
		b.WriteString("\n---\n# Personal Memory (Your Most Recent Messages)\n")
		for _, m := range in.Memories {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
		b.WriteString("---\n")
		b.WriteString("**Critical Instruction**: Review your personal memory above. Do NOT repeat the content or opinions from these past messages. Provide a new perspective, new information, or a follow-up question.\n")
	}

	if in.Directive != nil {
		b.WriteString("\n🚨 **Priority instruction from the moderator**:\n")
		if in.Directive.Summary != "" {
			fmt.Fprintf(&b, "📝 Conversation summary: %s\n", in.Directive.Summary)
		}
		if in.Directive.Highlight != "" {
			fmt.Fprintf(&b, "⭐ Highlighted opinion: %s\n", in.Directive.Highlight)
		}
		if in.Directive.NextTopic != "" {
			fmt.Fprintf(&b, "🎯 **You must steer toward this topic**: %s\n", in.Directive.NextTopic)
		}
		b.WriteString("\n**Important**: reflect the moderator's guidance above everything else in your response.\n")
	}

	b.WriteString(`
<Conversation strategy and rules>
1.  **Moderator first**: if the moderator has issued guidance or proposed a topic, pivot to it immediately, above all else.
2.  **Role**: you are not a mere information source but a discussion partner who raises the quality of the conversation.
3.  **Pick an intent**: analyze the recent context and choose exactly one of these response modes:
    *   [Expand]: agree with the previous speaker and enrich the point with your own thoughts, new facts, or a concrete example.
    *   [Counter]: if you disagree, state your reasons politely but clearly and offer an alternative view.
    *   [Probe]: ask a sharp question that digs into the substance of the discussion or demands a deeper explanation.
    *   [Connect]: link the current topic to an earlier idea or a completely new perspective to widen the discussion.
    *   [Empathize]: go beyond analysis and relate to the feelings or experience behind the previous remark.
    *   [Inform]: supply missing facts, data, or recent news that put the discussion on firmer ground.
    *   [Humor]: when the conversation gets too heavy, lighten it with an apt joke or witty remark.
4.  **Tag your intent**: start your reply with the chosen mode tag, e.g. [Probe] What is the evidence for that claim?
5.  **Stay in character**: never reveal that you are an AI; speak as one person named '` + in.Name + `'.
6.  **Brevity**: keep your remark, tag included, to at most 8 sentences.

<Output>
- Produce only the message you would type in the chat, with no labels or meta commentary.
`)

	turns := []gateway.Turn{{Role: "user", Text: b.String()}}
	turns = append(turns, collapse(in.History, in.Name)...)

	// A leading pair of user turns is merged so roles strictly alternate.
	if len(turns) > 1 && turns[0].Role == turns[1].Role {
		turns[0].Text += "\n" + turns[1].Text
		turns = append(turns[:1], turns[2:]...)
	}
	return turns
}

// collapse folds the history into speaker-labelled turns, merging runs of
// consecutive same-role messages into one turn.
func collapse(history []chat.Message, selfName string) []gateway.Turn {
	var out []gateway.Turn
	for _, m := range history {
		role := "user"
		if m.From == selfName {
			role = "model"
		}
		text := fmt.Sprintf("%s: %s", m.From, m.Content)
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Text += "\n" + text
			continue
		}
		out = append(out, gateway.Turn{Role: role, Text: text})
	}
	return out
}

// ModeratorWindow picks the slice of history a moderator sees: everything
// when short, otherwise the first 5 messages (original intent) plus the
// last 10 (current drift).
func ModeratorWindow(history []chat.Message) []chat.Message {
	if len(history) <= 15 {
		return history
	}
	out := make([]chat.Message, 0, 15)
	out = append(out, history[:5]...)
	out = append(out, history[len(history)-10:]...)
	return out
}

// Moderator builds the single-turn intervention prompt. The response format
// it mandates is the structured form the directive extractor parses.
func Moderator(history []chat.Message) []gateway.Turn {
	window := ModeratorWindow(history)
	var lines []string
	for _, m := range window {
		lines = append(lines, fmt.Sprintf("%s: %s", m.From, m.Content))
	}

	text := `You are the **moderator** orchestrating this group discussion.

**Step 1: judge topic drift**
Look at the whole conversation and decide whether it has drifted from the **core topic it started with**.
- Original topic: infer the core goal or theme the first speaker intended.
- Current state: check whether recent messages have wandered into side details or a different direction.

**Step 2: respond accordingly**

**A) If the conversation has drifted:**
🔹 **Summary**: [point out clearly how it drifted]
🔹 **Highlight**: [the part of the current discussion that connects back to the core topic]
🔹 **Next topic**: [propose returning to the original core topic with a concrete actionable angle]

**B) If the conversation is on track:**
🔹 **Summary**: [summarize the progress so far]
🔹 **Highlight**: [the most constructive opinion]
🔹 **Next topic**: [propose the next step toward the overall goal]

**Full conversation record:**
` + strings.Join(lines, "\n") + `

**Moderator principles**:
- Keep the big picture; do not get lost in details.
- Steer toward practical, actionable directions.
- Stay focused on the goal the conversation started with.`

	return []gateway.Turn{{Role: "user", Text: text}}
}

// Compaction asks for a one-sentence summary of an old conversation slice.
func Compaction(batch []chat.Message) string {
	var lines []string
	for _, m := range batch {
		lines = append(lines, fmt.Sprintf("%s: %s", m.From, m.Content))
	}
	return "The following is part of a long conversation. Summarize its essential content in exactly one sentence:\n\n" + strings.Join(lines, "\n")
}

// TopicSummary asks for a headline-style current-topic line.
func TopicSummary(recent []chat.Message) string {
	var lines []string
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", m.From, m.Content))
	}
	return "State, in one short sentence, the topic this conversation is currently about:\n\n" + strings.Join(lines, "\n")
}

// Minutes builds the meeting-minutes prompt over the full uncompacted
// history.
func Minutes(full []chat.Message, participants []string, now time.Time) string {
	var lines []string
	for _, m := range full {
		lines = append(lines, fmt.Sprintf("%s: %s", m.From, m.Content))
	}

	return strings.TrimSpace(fmt.Sprintf(`
# Task: analyze and synthesize the meeting (professional minutes)

You are not a transcription clerk but a **meeting analyst** who grasps the whole flow of a discussion and restructures its key information.
Using the full conversation below, perform the following steps and produce top-quality meeting minutes.

### Process

1.  **[Step 1: identify core themes]**
    Read the entire conversation and identify **3 to 5 core themes** that were discussed.

2.  **[Step 2: regroup and synthesize]**
    Ignoring chronological order, regroup every participant's remarks under the themes you identified.
    For each theme, **synthesize** how the discussion started and deepened into one coherent narrative. Make clear who raised which important question, what answers followed, and how the discussion evolved.

3.  **[Step 3: final structure]**
    Write the final output following the "Minutes format" below. Number each theme in the main section, e.g. "1. [Theme]", "2. [Theme]".

---

### Minutes format

#### Meeting overview
*   **Title**: (infer the most fitting formal title from the content)
*   **Date**: %s
*   **Venue**: online (chat)
*   **Attendees**: %s

#### Agenda
(list the main agenda items covered, concisely)

#### Main discussion
(the theme-by-theme synthesis from Step 3)

#### Decisions
(list anything finally agreed or decided; write "None" if nothing was decided)

#### Action items
(follow-ups arising from the decisions, with owner, task, and deadline as a table or list; write "None" if there are none)

---

## Original conversation
%s

---

Following the instructions and format above, write professional-grade meeting minutes in Markdown.
`, now.Format("2006-01-02 15:04"), strings.Join(participants, ", "), strings.Join(lines, "\n")))
}

var searchKeywords = []string{"검색", "찾아봐", "알아봐", "search", "find", "look up"}

// NeedsSearch reports whether a stimulus asks for information retrieval.
func NeedsSearch(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var terminators = map[rune]bool{'。': true, '.': true, '!': true, '?': true, ')': true, '}': true, ']': true}

// TrimIncomplete cuts off a response that was truncated mid-sentence. A
// short response is left alone even when it lacks a terminator.
func TrimIncomplete(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= 50 {
		return text
	}
	if terminators[runes[len(runes)-1]] {
		return text
	}

	cut := -1
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '.', '!', '?', '。':
			cut = i
		}
		if cut >= 0 {
			break
		}
	}
	if cut < 0 {
		return text
	}
	return strings.TrimSpace(string(runes[:cut+1]))
}
