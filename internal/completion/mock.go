package completion

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// MockModel tags answers produced by MockProvider.
const MockModel = "mock-offline"

// DefaultMockDelay is the pause between streamed words.
const DefaultMockDelay = 30 * time.Millisecond

// MockProvider produces a deterministic offline answer. It stands in for a
// cloud provider that has run out of quota.
type MockProvider struct {
	delay time.Duration
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock. A negative delay uses DefaultMockDelay;
// zero streams without pausing.
func NewMockProvider(delay time.Duration) *MockProvider {
	if delay < 0 {
		delay = DefaultMockDelay
	}
	return &MockProvider{delay: delay}
}

func (p *MockProvider) Name() string { return "mock" }

// Complete returns the offline answer for req.
func (p *MockProvider) Complete(_ context.Context, req Request) (*Result, error) {
	content := MockAnswer(req)
	return &Result{
		Content:    content,
		TokensUsed: len(strings.Fields(content)),
		Model:      MockModel,
	}, nil
}

// Stream emits the offline answer one word at a time.
func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	words := strings.Fields(MockAnswer(req))
	i := 0
	recv := func() (string, error) {
		if i >= len(words) {
			return "", io.EOF
		}
		if p.delay > 0 {
			t := time.NewTimer(p.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return "", err
		}
		word := words[i]
		if i > 0 {
			word = " " + word
		}
		i++
		return word, nil
	}
	return openStream(recv, nil, MockModel, nil)
}

// MockAnswer builds the offline answer from the last user message.
func MockAnswer(req Request) string {
	question := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			question = lastLine(req.Messages[i].Content)
			break
		}
	}
	if question == "" {
		return "The assistant is running in offline mode and cannot generate a full answer right now. Please try again later."
	}
	return fmt.Sprintf("The assistant is running in offline mode and cannot generate a full answer right now. "+
		"Your question was: %q. Please try again later.", question)
}

// lastLine returns the final non-empty line, which holds the question in the
// prompts built by the query engine.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
