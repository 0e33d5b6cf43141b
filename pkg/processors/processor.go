// Package processors defines the contract every processor implements and the
// registry a host uses to construct processors by identity.
//
// A processor is generic over its Input, Output and Configuration types. Each
// of the three is described by a schema.Schema, and a Definition bundles the
// schemas with a constructor. Register erases the type parameters so that a
// host can validate raw mappings and run any registered processor.
package processors

import (
	"context"

	"github.com/go-go-golems/stagehand/pkg/env"
	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/schema"
	"github.com/go-go-golems/stagehand/pkg/stream"
)

// SessionState is the part of a processor's state the host persists between
// invocations. An empty state means nothing is persisted.
type SessionState map[string]interface{}

// Processor is implemented by every processor kind.
type Processor[I, O, C any] interface {
	// Identity is the stable, globally unique name of the processor kind.
	Identity() string
	// SessionStateToPersist must not modify the processor.
	SessionStateToPersist() SessionState
	// Process runs one invocation. The input is already validated. Process
	// writes its result into a fresh output stream, finalizes it and returns
	// the finalized value, or fails without returning a partial output.
	Process(ctx context.Context, input I) (O, error)
}

// Bindings is what the host hands a processor on construction besides its
// configuration.
type Bindings struct {
	Env *env.Environment
	// Session is the state persisted by a previous invocation, may be nil.
	Session  SessionState
	Sink     events.EventSink
	Metadata events.Metadata
}

// Base carries the bound configuration and bindings. Processors embed it.
type Base[O, C any] struct {
	Config  C
	Env     *env.Environment
	Session SessionState

	output   *schema.Schema[O]
	sink     events.EventSink
	metadata events.Metadata
}

func NewBase[O, C any](output *schema.Schema[O], config C, b Bindings) Base[O, C] {
	e := b.Env
	if e == nil {
		e = env.Empty()
	}
	session := b.Session
	if session == nil {
		session = SessionState{}
	}
	return Base[O, C]{
		Config:   config,
		Env:      e,
		Session:  session,
		output:   output,
		sink:     b.Sink,
		metadata: b.Metadata,
	}
}

// NewOutputStream creates the output stream of one invocation.
func (b *Base[O, C]) NewOutputStream() *stream.OutputStream[O] {
	return stream.New(b.output, stream.WithSink(b.sink), stream.WithMetadata(b.metadata))
}

func (b *Base[O, C]) Metadata() events.Metadata {
	return b.metadata
}

// Constructor builds a processor from its validated configuration.
type Constructor[I, O, C any] func(config C, b Bindings) (Processor[I, O, C], error)

type Definition[I, O, C any] struct {
	Identity    string
	Description string
	Input       *schema.Schema[I]
	Output      *schema.Schema[O]
	Config      *schema.Schema[C]
	New         Constructor[I, O, C]
}
