package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FillsIdentityAndTimestamp(t *testing.T) {
	m := New("alice", "hello", TypeChat)
	require.NotEmpty(t, m.ID)
	assert.Equal(t, "alice", m.From)
	assert.Equal(t, TypeChat, m.Type)
	assert.False(t, m.Timestamp.IsZero())

	other := New("alice", "hello", TypeChat)
	assert.NotEqual(t, m.ID, other.ID)
}

func TestMentions(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		m := Message{Content: "no mentions here"}
		assert.Empty(t, m.Mentions())
		assert.Equal(t, "", m.FirstMention())
	})

	t.Run("multiple in order", func(t *testing.T) {
		m := Message{Content: "@bob what does @carol think?"}
		assert.Equal(t, []string{"bob", "carol"}, m.Mentions())
		assert.Equal(t, "bob", m.FirstMention())
	})

	t.Run("mentions name", func(t *testing.T) {
		m := Message{Content: "ping @Agent2 please"}
		assert.True(t, m.MentionsName("Agent2"))
		assert.False(t, m.MentionsName("Agent"))
	})
}
