package safety

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
	ActionBan   Action = "ban"
)

const (
	explicitScore   = 0.3
	harassmentScore = 0.4
	spamScore       = 0.25
)

// Result of ModerateText.
type Result struct {
	IsAllowed  bool     `json:"is_allowed"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
	Action     Action   `json:"action"`
}

// Moderator scores text against configurable word lists. The zero value is
// not usable; use NewModerator or DefaultModerator.
type Moderator struct {
	explicit   []string
	harassment []string
}

// DefaultModerator uses the built-in lists.
func DefaultModerator() *Moderator {
	return &Moderator{explicit: explicitWords, harassment: harassmentWords}
}

// Wordlist is the YAML override format:
//
//	explicit: [word, ...]
//	harassment: [phrase, ...]
type Wordlist struct {
	Explicit   []string `yaml:"explicit"`
	Harassment []string `yaml:"harassment"`
}

// LoadModerator reads a Wordlist from path. Lists left empty keep the defaults.
func LoadModerator(path string) (*Moderator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	var wl Wordlist
	if err := yaml.Unmarshal(raw, &wl); err != nil {
		return nil, fmt.Errorf("parse wordlist: %w", err)
	}
	m := DefaultModerator()
	if len(wl.Explicit) > 0 {
		m.explicit = lowerAll(wl.Explicit)
	}
	if len(wl.Harassment) > 0 {
		m.harassment = lowerAll(wl.Harassment)
	}
	return m, nil
}

// ModerateText scores text: 0.3 per explicit word, 0.4 per harassment term,
// 0.25 per matching spam pattern, capped at 1.
// Action: >= 0.8 ban, >= 0.6 block, >= 0.3 warn, else allow.
func (m *Moderator) ModerateText(text string) Result {
	var reasons []string
	score := 0.0

	lower := strings.ToLower(text)
	cleaned := CleanText(text)

	for _, w := range m.explicit {
		// plain substring first, then the de-obfuscated whole word
		if strings.Contains(lower, w) || len(ContainsConfirmedWord(cleaned, []string{w})) > 0 {
			reasons = append(reasons, "explicit: "+w)
			score += explicitScore
		}
	}
	for _, w := range ContainsConfirmedWord(cleaned, m.harassment) {
		reasons = append(reasons, "harassment: "+w)
		score += harassmentScore
	}
	for _, checks := range [][]spamCheck{spamChecks, extendedSpamChecks} {
		for _, c := range checks {
			if c.match(text) {
				reasons = append(reasons, "spam: "+c.name)
				score += spamScore
			}
		}
	}

	if score > 1 {
		score = 1
	}

	action := ActionAllow
	switch {
	case score >= 0.8:
		action = ActionBan
	case score >= 0.6:
		action = ActionBlock
	case score >= 0.3:
		action = ActionWarn
	}

	return Result{
		IsAllowed:  score < 0.6,
		Reasons:    reasons,
		Confidence: score,
		Action:     action,
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
