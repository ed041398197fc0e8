package directive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_StructuredMarkers(t *testing.T) {
	text := "🔹 **Summary**: [we drifted into implementation detail]\n" +
		"🔹 **Highlight**: [the point about budget limits]\n" +
		"🔹 **Next Topic**: [return to the launch plan]"

	d := Extract(text)
	require.NotNil(t, d)
	assert.Equal(t, "return to the launch plan", d.NextTopic)
	assert.Equal(t, "the point about budget limits", d.Highlight)
	assert.Equal(t, "we drifted into implementation detail", d.Summary)
}

func TestExtract_FreeFormFallback(t *testing.T) {
	d := Extract("Let's move on. Next topic: pricing strategy for Q3")
	require.NotNil(t, d)
	assert.Equal(t, "pricing strategy for Q3", d.NextTopic)
	assert.Empty(t, d.Highlight)
}

func TestExtract_KoreanMarkers(t *testing.T) {
	d := Extract("🔹 **다음 주제**: [예산 계획으로 돌아갑시다]")
	require.NotNil(t, d)
	assert.Equal(t, "예산 계획으로 돌아갑시다", d.NextTopic)
}

func TestExtract_StructuredWinsOverFreeForm(t *testing.T) {
	text := "🔹 **Next Topic**: [the structured one]\nnext topic: the loose one"
	d := Extract(text)
	require.NotNil(t, d)
	assert.Equal(t, "the structured one", d.NextTopic)
}

func TestExtract_NoMatchReturnsNil(t *testing.T) {
	assert.Nil(t, Extract("just an ordinary chat message"))
	assert.Nil(t, Extract(""))
}

func TestStore_TTLWindow(t *testing.T) {
	s := NewStore(10 * time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	s.Install(&Directive{NextTopic: "topic A"})

	got := s.Active()
	require.NotNil(t, got)
	assert.Equal(t, "topic A", got.NextTopic)
	assert.Equal(t, base, got.IssuedAt)
	assert.Equal(t, base.Add(10*time.Second), got.ExpiresAt)

	// Still active just inside the window, gone at expiry.
	now = base.Add(9999 * time.Millisecond)
	assert.NotNil(t, s.Active())
	now = base.Add(10 * time.Second)
	assert.Nil(t, s.Active())
}

func TestStore_NewDirectiveSupersedes(t *testing.T) {
	s := NewStore(10 * time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Install(&Directive{NextTopic: "old"})
	now = now.Add(5 * time.Second)
	s.Install(&Directive{NextTopic: "new"})

	got := s.Active()
	require.NotNil(t, got)
	assert.Equal(t, "new", got.NextTopic)

	// The replacement carries its own full TTL.
	now = now.Add(9 * time.Second)
	assert.NotNil(t, s.Active())
}

func TestStore_EmptyStore(t *testing.T) {
	s := NewStore(10 * time.Second)
	assert.Nil(t, s.Active())
}
