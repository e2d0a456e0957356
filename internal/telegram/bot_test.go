package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	identity := IdentityFor(42)
	assert.Equal(t, "telegram:42", identity)

	id, ok := userIDFrom(identity)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = userIDFrom("web:42")
	assert.False(t, ok)
	_, ok = userIDFrom("telegram:abc")
	assert.False(t, ok)
}

func TestNormalizeImageContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")

	ct, err := normalizeImageContentType("image/jpg; charset=binary", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	ct, err = normalizeImageContentType("application/octet-stream", png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = normalizeImageContentType("text/plain", []byte("hello"))
	assert.ErrorIs(t, err, errNotImage)
}

func TestStateManager(t *testing.T) {
	m := NewStateManager()

	_, ok := m.Get("telegram:1")
	assert.False(t, ok)

	m.Remember("telegram:1", 100)
	m.SetLastOriginal("telegram:1", "orig-1")
	m.Remember("telegram:1", 200)

	got, ok := m.Get("telegram:1")
	require.True(t, ok)
	assert.Equal(t, Session{ChatID: 200, LastOriginalID: "orig-1"}, got)

	m.SetLastOriginal("telegram:2", "orig-2")
	got, _ = m.Get("telegram:2")
	assert.Equal(t, int64(0), got.ChatID)

	m.Reset("telegram:1")
	_, ok = m.Get("telegram:1")
	assert.False(t, ok)
}

func TestChatForFallsBackToUserID(t *testing.T) {
	b := &Bot{state: NewStateManager()}

	chatID, ok := b.chatFor("telegram:7")
	require.True(t, ok)
	assert.Equal(t, int64(7), chatID)

	b.state.Remember("telegram:7", -1001)
	chatID, _ = b.chatFor("telegram:7")
	assert.Equal(t, int64(-1001), chatID)

	_, ok = b.chatFor("web:alice")
	assert.False(t, ok)
}
