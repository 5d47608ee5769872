// Package safety holds the cheap, local content heuristics applied to chat
// text before anything heavier runs. They are deliberately blunt.
package safety

import (
	"regexp"
	"strings"
	"unicode"
)

var explicitWords = []string{
	"fuck", "shit", "bitch", "dick", "pussy", "cock", "cum",
	"masturbate", "orgasm", "sex", "porn", "nude", "naked",
}

var harassmentWords = []string{
	"kill yourself", "die", "hate you", "stupid", "ugly",
	"fat", "retard", "loser", "idiot", "worthless",
}

// spamCheck is one named spam heuristic.
type spamCheck struct {
	name  string
	match func(string) bool
}

func patternCheck(name, expr string) spamCheck {
	re := regexp.MustCompile(expr)
	return spamCheck{name: name, match: re.MatchString}
}

// Checked by DetectSpam: repeated characters, links, long digit runs (phone
// numbers) and off-platform handles.
var spamChecks = []spamCheck{
	{name: "repeated_chars", match: hasRepeatRun},
	patternCheck("link", `https?://[^\s]+`),
	patternCheck("long_number", `\b\d{10,}\b`),
	patternCheck("social_handle", `(?i)telegram|whatsapp|instagram`),
}

// ModerateText runs these on top of spamChecks.
var extendedSpamChecks = []spamCheck{
	patternCheck("snapchat", `(?i)snapchat`),
	patternCheck("commerce", `(?i)buy|sell|money|cash|payment`),
}

// repeatRun is the run length at which a repeated character counts as spam.
const repeatRun = 5

// hasRepeatRun reports whether any character occurs repeatRun or more times in
// a row. RE2 has no backreferences so this cannot be a regexp.
func hasRepeatRun(text string) bool {
	var last rune
	run := 0
	for _, r := range text {
		if run > 0 && r == last {
			run++
		} else {
			last, run = r, 1
		}
		if run >= repeatRun {
			return true
		}
	}
	return false
}

// ContainsExplicitWords reports whether the lowercased text contains any word
// of the explicit list as a substring.
func ContainsExplicitWords(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range explicitWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// DetectSpam reports whether any spam pattern matches.
func DetectSpam(text string) bool {
	for _, c := range spamChecks {
		if c.match(text) {
			return true
		}
	}
	return false
}

// SanitizeText strips characters that could be interpreted as markup.
func SanitizeText(text string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '&':
			return -1
		}
		return r
	}, text))
}

// RateLimitKey builds the counter key for one user and action.
func RateLimitKey(userID, action string) string {
	return "rate_limit:" + userID + ":" + action
}

// CleanText folds obfuscated spellings (l33t digits, Cyrillic homoglyphs,
// stretched letters) into plain lowercase words separated by single spaces.
func CleanText(text string) string {
	cleaned := leetReplacer.Replace(strings.ToLower(text))

	var b strings.Builder
	for _, r := range cleaned {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(collapseRepeats(b.String())), " ")
}

var leetReplacer = strings.NewReplacer(
	"@", "a", "4", "a", "3", "e", "!", "i", "1", "i",
	"0", "o", "$", "s", "5", "s", "7", "t", "+", "t",
	"а", "a", // Cyrillic
	"е", "e",
	"і", "i",
	"о", "o",
	"р", "p",
)

// collapseRepeats reduces runs of the same letter to one: "fuuuck" -> "fuck".
func collapseRepeats(text string) string {
	var b strings.Builder
	var last rune
	lastWasLetter := false
	for _, r := range text {
		isLetter := unicode.IsLetter(r)
		if isLetter && lastWasLetter && r == last {
			continue
		}
		b.WriteRune(r)
		last, lastWasLetter = r, isLetter
	}
	return b.String()
}

// ContainsConfirmedWord finds words of list in cleaned text. Single words must
// match a whole word ("skill" does not match "kill"); phrases match as substrings.
func ContainsConfirmedWord(cleaned string, list []string) []string {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(cleaned) {
		words[w] = struct{}{}
	}

	var found []string
	for _, base := range list {
		// cleaned text has its repeats collapsed, so the list word must be too
		folded := collapseRepeats(base)
		if strings.ContainsRune(folded, ' ') {
			if strings.Contains(cleaned, folded) {
				found = append(found, base)
			}
			continue
		}
		if _, ok := words[folded]; ok {
			found = append(found, base)
		}
	}
	return found
}
