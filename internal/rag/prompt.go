package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bull/ragbot/internal/vectorstore"
)

const (
	// DefaultMaxContextChars caps the retrieved context handed to the model.
	DefaultMaxContextChars = 8000

	truncationMarker = "\n\n[Context truncated]"
	contextSeparator = "\n\n---\n\n"

	// UntrainedAnswer is returned for chatbots with nothing indexed.
	UntrainedAnswer = "This chatbot hasn't been trained yet. Add some content to it before asking questions."
)

// PromptKind is the shape of the user turn sent to the model.
type PromptKind string

const (
	PromptGrounded    PromptKind = "grounded"
	PromptGreeting    PromptKind = "greeting"
	PromptContextFree PromptKind = "context_free"
)

// buildContext joins ranked matches, cutting at maxChars runes.
func buildContext(matches []vectorstore.Match, maxChars int) string {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m.Text); t != "" {
			texts = append(texts, t)
		}
	}
	joined := strings.Join(texts, contextSeparator)
	if utf8.RuneCountInString(joined) <= maxChars {
		return joined
	}
	return string([]rune(joined)[:maxChars]) + truncationMarker
}

// userPrompt builds the user turn. The question is always the last line so
// offline answers can quote it.
func userPrompt(kind PromptKind, question, grounding string) string {
	switch kind {
	case PromptGreeting:
		return "The user is greeting you or asking about you. Reply briefly and warmly, " +
			"and offer to help with questions about your knowledge base.\n\n" + question
	case PromptGrounded:
		return fmt.Sprintf("Answer the question using the context below. "+
			"If the context does not contain the answer, say that you don't know.\n\n"+
			"Context:\n%s\n\nQuestion:\n%s", grounding, question)
	default:
		return "Nothing in the knowledge base matched this question. Answer briefly and " +
			"mention that the knowledge base does not cover it.\n\nQuestion:\n" + question
	}
}

// cleanAnswer strips role labels some local models echo at the start of an
// answer. An echoed "Question: ..." line is dropped when an answer follows it.
func cleanAnswer(s string) string {
	s = strings.TrimSpace(s)
	for {
		switch {
		case hasLabel(s, "question:"):
			if nl := strings.IndexByte(s, '\n'); nl >= 0 && strings.TrimSpace(s[nl:]) != "" {
				s = strings.TrimSpace(s[nl:])
				continue
			}
			return strings.TrimSpace(s[len("question:"):])
		case hasLabel(s, "answer:"):
			s = strings.TrimSpace(s[len("answer:"):])
		default:
			return s
		}
	}
}

func hasLabel(s, label string) bool {
	return len(s) >= len(label) && strings.EqualFold(s[:len(label)], label)
}
