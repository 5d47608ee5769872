package safety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsExplicitWords(t *testing.T) {
	assert.True(t, ContainsExplicitWords("send NUDE pics"))
	assert.True(t, ContainsExplicitWords("pornography"))
	assert.False(t, ContainsExplicitWords("hello, how are you?"))
}

func TestDetectSpam(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"heyyyyy", true},
		{"heyyyy", false},
		{"visit https://example.com now", true},
		{"call me 5551234567", true},
		{"call me 555-1234", false},
		{"add me on Telegram", true},
		{"what music do you like", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectSpam(tt.text))
		})
	}
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "scriptalert(1)/script", SanitizeText(`  <script>alert(1)</script> `))
	assert.Equal(t, "Tom  Jerry say hi", SanitizeText(`Tom & Jerry say "hi"`))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "rate_limit:u1:message", RateLimitKey("u1", "message"))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "fuck you", CleanText("fuuuuck y0u"))
	assert.Equal(t, "idiot", CleanText("!d!0t"))
	assert.Equal(t, "hi there", CleanText("  hi,\tthere  "))
}

func TestContainsConfirmedWord_WholeWords(t *testing.T) {
	assert.Empty(t, ContainsConfirmedWord(CleanText("what a skillful player"), []string{"kill"}))
	assert.Equal(t, []string{"kill yourself"}, ContainsConfirmedWord(CleanText("go k1ll yourself"), []string{"kill yourself"}))
	assert.Equal(t, []string{"idiot"}, ContainsConfirmedWord(CleanText("you 1d10t"), []string{"idiot"}))
}

func TestModerateText(t *testing.T) {
	m := DefaultModerator()

	clean := m.ModerateText("hi! what movies do you like?")
	assert.Equal(t, ActionAllow, clean.Action)
	assert.True(t, clean.IsAllowed)
	assert.Zero(t, clean.Confidence)

	warn := m.ModerateText("you are stupid")
	assert.Equal(t, ActionWarn, warn.Action)
	assert.InDelta(t, 0.4, warn.Confidence, 1e-9)

	block := m.ModerateText("stupid, add me on instagram")
	assert.Equal(t, ActionBlock, block.Action)
	assert.False(t, block.IsAllowed)

	ban := m.ModerateText("send nude pics on snapchat, stupid")
	assert.Equal(t, ActionBan, ban.Action)
	assert.LessOrEqual(t, ban.Confidence, 1.0)
	assert.NotEmpty(t, ban.Reasons)
}

func TestLoadModerator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.yaml")
	require.NoError(t, os.WriteFile(path, []byte("harassment:\n  - Clown\n"), 0o600))

	m, err := LoadModerator(path)
	require.NoError(t, err)

	assert.Equal(t, ActionWarn, m.ModerateText("you clown").Action)
	// explicit list falls back to the defaults
	assert.NotEqual(t, ActionAllow, m.ModerateText("nude").Action)
	// default harassment list was replaced
	assert.Equal(t, ActionAllow, m.ModerateText("stupid").Action)
}
