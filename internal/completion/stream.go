package completion

import (
	"errors"
	"io"
	"strings"
	"sync"
)

// Stream is a single-consumer, forward-only sequence of text increments.
//
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
//	res := s.Result()
type Stream interface {
	// Next advances to the next increment. It returns false when the stream
	// is exhausted or failed.
	Next() bool
	// Text returns the current increment.
	Text() string
	Err() error
	// Result summarises the stream once Next has returned false.
	Result() StreamResult
	// Close releases the backend connection. It is safe to call more than once.
	Close() error
}

// StreamResult is the final record of an exhausted stream.
type StreamResult struct {
	Success   bool
	Content   string
	WordCount int
	Model     string
}

// recvFunc returns the next increment, or io.EOF at the end.
type recvFunc func() (string, error)

// textStream adapts a backend receive loop into a Stream.
type textStream struct {
	recv      recvFunc
	closeFn   func() error
	model     string
	classify  func(error) error
	current   string
	pending   *string
	content   strings.Builder
	err       error
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// openStream reads the first increment eagerly so that failures raised when
// the backend starts generating (quota, out of memory) surface from the open
// call itself.
func openStream(recv recvFunc, closeFn func() error, model string, classify func(error) error) (Stream, error) {
	s := &textStream{recv: recv, closeFn: closeFn, model: model, classify: classify}
	first, err := s.receive()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = s.Close()
		return nil, err
	}
	if errors.Is(err, io.EOF) {
		s.done = true
		return s, nil
	}
	s.pending = &first
	return s, nil
}

func (s *textStream) receive() (string, error) {
	for {
		text, err := s.recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			if s.classify != nil {
				err = s.classify(err)
			}
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
}

func (s *textStream) Next() bool {
	if s.pending != nil {
		s.current = *s.pending
		s.pending = nil
		s.content.WriteString(s.current)
		return true
	}
	if s.done {
		return false
	}

	text, err := s.receive()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		s.current = ""
		_ = s.Close()
		return false
	}
	s.current = text
	s.content.WriteString(text)
	return true
}

func (s *textStream) Text() string { return s.current }

func (s *textStream) Err() error { return s.err }

func (s *textStream) Result() StreamResult {
	content := s.content.String()
	return StreamResult{
		Success:   s.done && s.err == nil && s.pending == nil,
		Content:   content,
		WordCount: len(strings.Fields(content)),
		Model:     s.model,
	}
}

func (s *textStream) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// TextStream returns a stream that yields text as a single increment.
func TextStream(text, model string) Stream {
	sent := false
	recv := func() (string, error) {
		if sent {
			return "", io.EOF
		}
		sent = true
		return text, nil
	}
	s, _ := openStream(recv, nil, model, nil)
	return s
}
