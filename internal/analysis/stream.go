package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/marginalia-app/marginalia/internal/extract"
	"github.com/marginalia-app/marginalia/internal/scan"
)

// ErrTransport wraps upstream provider failures so callers can distinguish
// them from extraction failures and cancellation.
var ErrTransport = errors.New("transport failure")

// State is the lifecycle of a stream. Completed, Failed and Cancelled are
// terminal.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is terminal.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Stream is a single-consumption ordered event sequence over one analysis
// run. Events are delivered on an unbuffered channel: the producer suspends
// until the consumer pulls, so cancellation is cooperative — once the
// consumer cancels, nothing further is emitted and the transport is
// released promptly.
type Stream struct {
	events chan Event
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	text  string
}

// Run starts an analysis event sequence over the chunk source. The source
// is closed when the stream ends for any reason.
func Run(ctx context.Context, source Source) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan Event),
		cancel: cancel,
		state:  StateInit,
	}
	go s.run(ctx, source)
	return s
}

// Events returns the event channel. It is closed after the terminal event.
// The stream is single-consumption: exactly one consumer must drain it.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Cancel stops the stream. The state is Cancelled immediately unless a
// terminal event was already emitted; the producer goroutine unwinds on its
// next suspension point.
func (s *Stream) Cancel() {
	s.transition(StateCancelled)
	s.cancel()
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the accumulated content text, retained for diagnosis after
// an extraction failure.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// transition moves to next unless the current state is already terminal.
func (s *Stream) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = next
	return true
}

func (s *Stream) setText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

// emit delivers one event, suspending until the consumer pulls it.
// Returns false when the stream was cancelled instead.
func (s *Stream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) run(ctx context.Context, source Source) {
	defer close(s.events)
	defer source.Close()

	s.transition(StateStreaming)

	scanner := scan.New()
	var buf strings.Builder
	annotations, quiz := 0, 0

	for {
		chunk, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				s.transition(StateCancelled)
				return
			}
			s.setText(buf.String())
			s.transition(StateFailed)
			s.emit(ctx, FailedEvent{Err: fmt.Errorf("%w: %v", ErrTransport, err)})
			return
		}

		switch c := chunk.(type) {
		case ThinkingChunk:
			if !s.emit(ctx, ThinkingEvent{Text: c.Text}) {
				return
			}
		case ContentChunk:
			buf.WriteString(c.Text)
			newA, newQ := scanner.Update(c.Text)
			for i := 0; i < newA; i++ {
				annotations++
				if !s.emit(ctx, InsightFoundEvent{Total: annotations}) {
					return
				}
			}
			for i := 0; i < newQ; i++ {
				quiz++
				if !s.emit(ctx, QuizQuestionFoundEvent{Total: quiz}) {
					return
				}
			}
		case UsageChunk:
			if !s.emit(ctx, UsageEvent{Usage: c.Usage}) {
				return
			}
		}
	}

	text := buf.String()
	s.setText(text)

	result, err := extract.Decode[Result](text, ResultSchema)
	if err != nil {
		s.transition(StateFailed)
		s.emit(ctx, FailedEvent{Err: err})
		return
	}

	if s.transition(StateCompleted) {
		s.emit(ctx, CompletedEvent{Result: &result})
	}
}
