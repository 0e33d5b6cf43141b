// Package stream implements the output stream a processor writes its result
// into. A stream accepts one or more writes, each replacing the previous value,
// and is then finalized exactly once into the immutable output.
package stream

import (
	"context"
	"sync"

	"github.com/huandu/go-clone"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

var (
	ErrAlreadyFinalized = errors.New("output stream already finalized")
	ErrNoDataWritten    = errors.New("output stream finalized without a write")
	ErrInvalidOutput    = errors.New("invalid output")
)

// InvalidOutputError wraps the schema violation of a rejected write.
type InvalidOutputError struct {
	Err error
}

func (e *InvalidOutputError) Error() string {
	return ErrInvalidOutput.Error() + ": " + e.Err.Error()
}

func (e *InvalidOutputError) Unwrap() error { return e.Err }

func (e *InvalidOutputError) Is(target error) bool { return target == ErrInvalidOutput }

const (
	StateOpen    = "open"
	StateWritten = "written"
	StateClosed  = "closed"

	eventWrite    = "write"
	eventFinalize = "finalize"
)

// OutputStream is a single-writer sink for values of type O.
//
// Write validates the value against the output schema, publishes it to the
// event sink and blocks until the sink accepted it. Only then is the value
// stored in the stream's single slot, replacing any earlier write.
type OutputStream[O any] struct {
	mu       sync.Mutex
	schema   *schema.Schema[O]
	sink     events.EventSink
	metadata events.Metadata
	machine  *fsm.FSM
	slot     chan O
	writes   int
}

type settings struct {
	sink     events.EventSink
	metadata events.Metadata
}

type Option func(*settings)

func WithSink(sink events.EventSink) Option {
	return func(s *settings) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithMetadata(metadata events.Metadata) Option {
	return func(s *settings) {
		s.metadata = metadata
	}
}

func New[O any](outputSchema *schema.Schema[O], options ...Option) *OutputStream[O] {
	s := &settings{sink: events.NewNullSink()}
	for _, o := range options {
		o(s)
	}

	return &OutputStream[O]{
		schema:   outputSchema,
		sink:     s.sink,
		metadata: s.metadata,
		machine: fsm.NewFSM(
			StateOpen,
			fsm.Events{
				{Name: eventWrite, Src: []string{StateOpen}, Dst: StateWritten},
				{Name: eventFinalize, Src: []string{StateWritten}, Dst: StateClosed},
			},
			fsm.Callbacks{},
		),
		slot: make(chan O, 1),
	}
}

// Write hands output to the stream. It fails with ErrAlreadyFinalized after
// Finalize and with an *InvalidOutputError when output violates the schema.
func (s *OutputStream[O]) Write(output O) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.Is(StateClosed) {
		return ErrAlreadyFinalized
	}

	payload, err := s.schema.Encode(output)
	if err != nil {
		return &InvalidOutputError{Err: err}
	}

	s.writes++
	if err := s.sink.PublishEvent(events.NewOutputEvent(s.metadata, s.writes, payload)); err != nil {
		s.writes--
		return errors.Wrap(err, "output stream: sink rejected write")
	}

	value := clone.Clone(output).(O)
	select {
	case <-s.slot:
	default:
	}
	s.slot <- value

	if s.machine.Is(StateOpen) {
		if err := s.machine.Event(context.Background(), eventWrite); err != nil {
			return errors.Wrap(err, "output stream")
		}
	}
	return nil
}

// Finalize closes the stream and returns the value of the last accepted
// write. The returned value is a deep copy, later calls cannot affect it.
func (s *OutputStream[O]) Finalize() (O, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero O
	switch s.machine.Current() {
	case StateClosed:
		return zero, ErrAlreadyFinalized
	case StateOpen:
		return zero, ErrNoDataWritten
	}

	value := <-s.slot
	close(s.slot)
	if err := s.machine.Event(context.Background(), eventFinalize); err != nil {
		return zero, errors.Wrap(err, "output stream")
	}

	return clone.Clone(value).(O), nil
}

// WriteAndFinalize is the common single-result path: write once, finalize.
func (s *OutputStream[O]) WriteAndFinalize(output O) (O, error) {
	if err := s.Write(output); err != nil {
		var zero O
		return zero, err
	}
	return s.Finalize()
}

func (s *OutputStream[O]) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Writes is the number of accepted writes.
func (s *OutputStream[O]) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *OutputStream[O]) Metadata() events.Metadata {
	return s.metadata
}
