package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

// ErrScriptedFailure is returned for image references scripted to fail.
var ErrScriptedFailure = errors.New("scripted ocr failure")

// ScriptedRecognizer is an in-memory OCR service. Each image reference can be
// scripted with a text, an explicit failure, an error or a delay; anything
// unscripted succeeds with Default.
type ScriptedRecognizer struct {
	Default string
	Delay   time.Duration

	mu        sync.Mutex
	texts     map[string]string
	failures  map[string]string
	errs      map[string]error
	hangs     map[string]bool
	calls     []string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

// NewScriptedRecognizer returns a recognizer answering defaultText.
func NewScriptedRecognizer(defaultText string) *ScriptedRecognizer {
	return &ScriptedRecognizer{
		Default:  defaultText,
		texts:    make(map[string]string),
		failures: make(map[string]string),
		errs:     make(map[string]error),
		hangs:    make(map[string]bool),
	}
}

// WithText answers ref with text.
func (s *ScriptedRecognizer) WithText(ref, text string) *ScriptedRecognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[ref] = text
	return s
}

// FailWith makes ref come back as an explicit failure response.
func (s *ScriptedRecognizer) FailWith(ref, msg string) *ScriptedRecognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[ref] = msg
	return s
}

// ErrorOn makes the call for ref return err.
func (s *ScriptedRecognizer) ErrorOn(ref string, err error) *ScriptedRecognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[ref] = err
	return s
}

// HangOn makes the call for ref block until its context ends.
func (s *ScriptedRecognizer) HangOn(ref string) *ScriptedRecognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangs[ref] = true
	return s
}

// Recognize implements ocr.Recognizer.
func (s *ScriptedRecognizer) Recognize(ctx context.Context, ref string, opts ocr.Options) (*ocr.Recognition, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxFlight.Load()
		if n <= m || s.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, ref)
	text, hasText := s.texts[ref]
	failure, fails := s.failures[ref]
	err := s.errs[ref]
	hang := s.hangs[ref]
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch {
	case err != nil:
		return nil, err
	case fails:
		return &ocr.Recognition{Success: false, Error: failure}, nil
	}
	if !hasText {
		text = s.Default
	}
	return &ocr.Recognition{
		Success: true,
		Text:    text,
		Lines:   []ocr.Line{{Text: text, Confidence: 0.99}},
	}, nil
}

// Calls returns the image references seen so far, in call order.
func (s *ScriptedRecognizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// MaxConcurrent reports the highest number of simultaneous calls observed.
func (s *ScriptedRecognizer) MaxConcurrent() int {
	return int(s.maxFlight.Load())
}
