package rag

import (
	"strings"
	"unicode"
)

// DefaultGreetingPhrases are the small-talk openers answered without
// retrieved context.
var DefaultGreetingPhrases = []string{
	"hi", "hello", "hey", "hi there", "hello there", "hey there",
	"good morning", "good afternoon", "good evening", "greetings", "howdy",
	"thanks", "thank you",
}

// DefaultIdentityPhrases are questions about the assistant itself. They only
// match as the whole query: "who are you selling to" is a real question.
var DefaultIdentityPhrases = []string{
	"how are you", "who are you", "what are you", "what is your name", "whats your name",
	"what can you do",
}

// DefaultGreetingMaxExtraWords is how many words may follow a phrase.
const DefaultGreetingMaxExtraWords = 2

// GreetingPolicy classifies small talk. A query matches when, after
// normalisation, it equals a phrase or starts with one followed by at most
// MaxExtraWords further words, or when it equals an Identity phrase.
type GreetingPolicy struct {
	Phrases       []string
	Identity      []string
	MaxExtraWords int
}

// DefaultGreetingPolicy returns the built-in phrase lists.
func DefaultGreetingPolicy() GreetingPolicy {
	return GreetingPolicy{
		Phrases:       DefaultGreetingPhrases,
		Identity:      DefaultIdentityPhrases,
		MaxExtraWords: DefaultGreetingMaxExtraWords,
	}
}

// Match reports whether text is a greeting or identity question.
func (g GreetingPolicy) Match(text string) bool {
	words := strings.Fields(normalize(text))
	if len(words) == 0 {
		return false
	}
	return matchAny(words, g.Phrases, g.MaxExtraWords) || matchAny(words, g.Identity, 0)
}

func matchAny(words, phrases []string, maxExtra int) bool {
	for _, phrase := range phrases {
		p := strings.Fields(normalize(phrase))
		if len(p) == 0 || len(p) > len(words) {
			continue
		}
		if !equalWords(words[:len(p)], p) {
			continue
		}
		if len(words)-len(p) <= maxExtra {
			return true
		}
	}
	return false
}

func equalWords(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize lower-cases text and drops punctuation. Apostrophes vanish so
// "what's" and "whats" compare equal; other punctuation becomes a space.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}
