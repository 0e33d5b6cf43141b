// Package host invokes registered processors: it binds configuration,
// environment and prior session state, runs the processor and persists the
// session state it hands back.
package host

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/stagehand/pkg/env"
	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/metrics"
	"github.com/go-go-golems/stagehand/pkg/processors"
	"github.com/go-go-golems/stagehand/pkg/schema"
	"github.com/go-go-golems/stagehand/pkg/session"
	"github.com/go-go-golems/stagehand/pkg/stream"
)

type Host struct {
	registry *processors.Registry
	store    session.Store
	env      *env.Environment
	sink     events.EventSink
	metrics  *metrics.Collector
}

type Option func(*Host)

func WithStore(store session.Store) Option {
	return func(h *Host) {
		h.store = store
	}
}

func WithEnvironment(e *env.Environment) Option {
	return func(h *Host) {
		h.env = e
	}
}

func WithSink(sink events.EventSink) Option {
	return func(h *Host) {
		if sink != nil {
			h.sink = sink
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(h *Host) {
		h.metrics = c
	}
}

func New(registry *processors.Registry, options ...Option) *Host {
	ret := &Host{
		registry: registry,
		store:    session.NewMemoryStore(),
		env:      env.Empty(),
		sink:     events.NewNullSink(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (h *Host) Registry() *processors.Registry {
	return h.registry
}

type Request struct {
	Identity string `json:"identity" yaml:"identity"`
	// SessionID selects the persisted state, empty means stateless.
	SessionID string                 `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Input     map[string]interface{} `json:"input" yaml:"input"`
}

type Result struct {
	InvocationID string                  `json:"invocation_id" yaml:"invocation_id"`
	Identity     string                  `json:"identity" yaml:"identity"`
	SessionID    string                  `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Output       map[string]interface{}  `json:"output" yaml:"output"`
	SessionState processors.SessionState `json:"session_state,omitempty" yaml:"session_state,omitempty"`
	Duration     time.Duration           `json:"duration" yaml:"duration"`

	outputSchema schema.Descriptor
}

// VisibleOutput is the output without the fields marked hidden.
func (r *Result) VisibleOutput() map[string]interface{} {
	if r.outputSchema == nil {
		return r.Output
	}
	return schema.Visible(r.outputSchema, r.Output)
}

// Invoke runs one invocation. Errors of the processor, such as a
// *schema.ValidationError or a *processors.ExternalCallFailedError, are
// returned unchanged.
func (h *Host) Invoke(ctx context.Context, req Request) (*Result, error) {
	reg, err := h.registry.Lookup(req.Identity)
	if err != nil {
		return nil, err
	}

	meta := events.Metadata{
		InvocationID: uuid.NewString(),
		Identity:     req.Identity,
		SessionID:    req.SessionID,
	}
	logger := log.With().
		Str("invocation_id", meta.InvocationID).
		Str("identity", meta.Identity).
		Logger()

	var done func(string)
	sink := h.sink
	if h.metrics != nil {
		done = h.metrics.InvocationStarted(req.Identity)
		sink = events.MultiSink{h.metrics.Sink(), h.sink}
	}
	start := time.Now()

	result, err := h.invoke(ctx, reg, req, meta, sink)
	outcome := Outcome(err)
	if done != nil {
		done(outcome)
	}
	if err != nil {
		if perr := sink.PublishEvent(events.NewErrorEvent(meta, err)); perr != nil {
			logger.Warn().Err(perr).Msg("Could not publish error event")
		}
		logger.Debug().Err(err).Str("outcome", outcome).Msg("Invocation failed")
		return nil, err
	}

	result.Duration = time.Since(start)
	logger.Debug().Dur("duration", result.Duration).Msg("Invocation finished")
	return result, nil
}

func (h *Host) invoke(
	ctx context.Context,
	reg processors.Registration,
	req Request,
	meta events.Metadata,
	sink events.EventSink,
) (*Result, error) {
	prior, err := h.loadSession(ctx, req)
	if err != nil {
		return nil, err
	}

	runnable, err := reg.New(req.Config, processors.Bindings{
		Env:      h.env,
		Session:  prior,
		Sink:     sink,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}

	if err := sink.PublishEvent(events.NewStartEvent(meta)); err != nil {
		return nil, errors.Wrap(err, "publish start event")
	}

	output, err := runnable.Run(ctx, req.Input)
	if err != nil {
		return nil, err
	}

	state := runnable.SessionStateToPersist()
	if err := h.saveSession(ctx, req, state); err != nil {
		return nil, err
	}

	if err := sink.PublishEvent(events.NewFinalEvent(meta, output)); err != nil {
		return nil, errors.Wrap(err, "publish final event")
	}

	return &Result{
		InvocationID: meta.InvocationID,
		Identity:     req.Identity,
		SessionID:    req.SessionID,
		Output:       output,
		SessionState: state,
		outputSchema: reg.OutputSchema(),
	}, nil
}

func (h *Host) loadSession(ctx context.Context, req Request) (processors.SessionState, error) {
	if req.SessionID == "" {
		return nil, nil
	}
	record, ok, err := h.store.Load(ctx, req.SessionID)
	if err != nil {
		h.sessionError("load")
		return nil, errors.Wrapf(err, "load session %s", req.SessionID)
	}
	if !ok {
		return nil, nil
	}
	if record.Identity != "" && record.Identity != req.Identity {
		return nil, errors.Wrapf(session.ErrIdentityMismatch, "session %s is bound to %s", req.SessionID, record.Identity)
	}
	return processors.SessionState(record.State), nil
}

func (h *Host) saveSession(ctx context.Context, req Request, state processors.SessionState) error {
	if req.SessionID == "" {
		return nil
	}
	if len(state) == 0 {
		// an empty state clears whatever an earlier invocation left behind
		if err := h.store.Delete(ctx, req.SessionID); err != nil {
			h.sessionError("delete")
			return errors.Wrapf(err, "clear session %s", req.SessionID)
		}
		return nil
	}
	err := h.store.Save(ctx, &session.Record{
		SessionID: req.SessionID,
		Identity:  req.Identity,
		State:     state,
	})
	if err != nil {
		h.sessionError("save")
		return errors.Wrapf(err, "save session %s", req.SessionID)
	}
	if h.metrics != nil {
		h.metrics.SessionSavesTotal.WithLabelValues(req.Identity).Inc()
	}
	return nil
}

func (h *Host) sessionError(operation string) {
	if h.metrics != nil {
		h.metrics.SessionErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// Outcome classifies an invocation error for metrics and HTTP status codes.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, stream.ErrAlreadyFinalized),
		errors.Is(err, stream.ErrNoDataWritten),
		errors.Is(err, stream.ErrInvalidOutput):
		return "protocol_violation"
	case errors.Is(err, schema.ErrValidation):
		return "invalid"
	case errors.Is(err, processors.ErrExternalCallFailed):
		return "external_call_failed"
	case errors.Is(err, env.ErrMissingCapability):
		return "missing_capability"
	case errors.Is(err, processors.ErrUnknownProcessor):
		return "unknown_processor"
	case errors.Is(err, session.ErrIdentityMismatch):
		return "session_conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

type Description struct {
	Identity      string             `json:"identity" yaml:"identity"`
	Description   string             `json:"description" yaml:"description"`
	Input         *jsonschema.Schema `json:"input,omitempty" yaml:"input,omitempty"`
	Output        *jsonschema.Schema `json:"output,omitempty" yaml:"output,omitempty"`
	Configuration *jsonschema.Schema `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// Describe returns the identity, description and the three JSON Schemas of
// a processor.
func (h *Host) Describe(identity string) (*Description, error) {
	reg, err := h.registry.Lookup(identity)
	if err != nil {
		return nil, err
	}
	return &Description{
		Identity:      reg.Identity(),
		Description:   reg.Description(),
		Input:         reg.InputSchema().JSONSchema(),
		Output:        reg.OutputSchema().JSONSchema(),
		Configuration: reg.ConfigSchema().JSONSchema(),
	}, nil
}

// List describes every processor without its schemas.
func (h *Host) List() []Description {
	regs := h.registry.List()
	ret := make([]Description, 0, len(regs))
	for _, reg := range regs {
		ret = append(ret, Description{Identity: reg.Identity(), Description: reg.Description()})
	}
	return ret
}

// Schema returns the descriptor of one of the three schemas of identity,
// kind is input, output or config.
func (h *Host) Schema(identity string, kind string) (schema.Descriptor, error) {
	reg, err := h.registry.Lookup(identity)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "input":
		return reg.InputSchema(), nil
	case "output":
		return reg.OutputSchema(), nil
	case "config", "configuration":
		return reg.ConfigSchema(), nil
	default:
		return nil, errors.Errorf("unknown schema kind %q", kind)
	}
}
