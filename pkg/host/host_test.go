package host

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stagehand/pkg/env"
	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/invoker"
	"github.com/go-go-golems/stagehand/pkg/metrics"
	"github.com/go-go-golems/stagehand/pkg/processors"
	"github.com/go-go-golems/stagehand/pkg/processors/builtin"
	"github.com/go-go-golems/stagehand/pkg/schema"
	"github.com/go-go-golems/stagehand/pkg/session"
	"github.com/go-go-golems/stagehand/pkg/stream"
)

type fixture struct {
	host    *Host
	sink    *events.CollectingSink
	metrics *metrics.Collector
	calls   int
	respond func(req *invoker.Request) *invoker.Response
}

func newFixture(t *testing.T, store session.Store) *fixture {
	f := &fixture{
		sink:    events.NewCollectingSink(),
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
		respond: func(req *invoker.Request) *invoker.Response {
			return &invoker.Response{Success: true, StatusCode: 200, Body: []byte(`{"ok": true}`)}
		},
	}
	fake := invoker.InvokerFunc(func(ctx context.Context, req *invoker.Request) (*invoker.Response, error) {
		f.calls++
		return f.respond(req), nil
	})

	r, err := builtin.NewRegistry()
	require.NoError(t, err)
	if store == nil {
		store = session.NewMemoryStore()
	}
	f.host = New(r,
		WithStore(store),
		WithSink(f.sink),
		WithMetrics(f.metrics),
		WithEnvironment(env.New(
			env.WithService(invoker.ServiceName, fake),
			env.WithSecret("replicate_api_key", "r8_test"),
		)),
	)
	return f
}

func TestInvokeHTTPForwarder(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.host.Invoke(context.Background(), Request{
		Identity: "promptly_http_api_processor",
		Input: map[string]interface{}{
			"url":     "https://example.test",
			"method":  "GET",
			"headers": map[string]interface{}{},
			"body":    nil,
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.InvocationID)
	assert.EqualValues(t, 200, res.Output["code"])
	assert.Equal(t, true, res.Output["is_ok"])
	assert.Equal(t, map[string]interface{}{"ok": true}, res.Output["content_json"])
	assert.Contains(t, res.Output, "content")
	assert.NotContains(t, res.VisibleOutput(), "content")

	var types []events.EventType
	for _, e := range f.sink.Events() {
		types = append(types, e.Type)
		assert.Equal(t, res.InvocationID, e.Metadata.InvocationID)
	}
	assert.Equal(t, []events.EventType{events.EventTypeStart, events.EventTypeOutput, events.EventTypeFinal}, types)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InvocationsTotal.WithLabelValues("promptly_http_api_processor", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OutputWritesTotal.WithLabelValues("promptly_http_api_processor")))
}

func TestInvokeExternalFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.respond = func(req *invoker.Request) *invoker.Response {
		return &invoker.Response{StatusCode: 504, StatusText: "upstream timeout"}
	}

	res, err := f.host.Invoke(context.Background(), Request{
		Identity: "promptly_http_api_processor",
		Input:    map[string]interface{}{"url": "https://example.test"},
	})
	assert.Nil(t, res)
	var ecf *processors.ExternalCallFailedError
	require.True(t, errors.As(err, &ecf))
	assert.Equal(t, "upstream timeout", ecf.StatusText)
	assert.Equal(t, "external_call_failed", Outcome(err))

	assert.Empty(t, f.sink.OfType(events.EventTypeOutput))
	assert.Empty(t, f.sink.OfType(events.EventTypeFinal))
	errs := f.sink.OfType(events.EventTypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "upstream timeout")
}

func TestInvalidConfigurationNeverProcesses(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.host.Invoke(context.Background(), Request{
		Identity: "promptly_http_api_processor",
		Config:   map[string]interface{}{"timeout": 120},
		Input:    map[string]interface{}{"url": "https://example.test"},
	})
	assert.True(t, errors.Is(err, schema.ErrValidation))
	assert.Equal(t, 0, f.calls)
	assert.Empty(t, f.sink.OfType(events.EventTypeStart))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InvocationsTotal.WithLabelValues("promptly_http_api_processor", "invalid")))
}

func TestUnknownProcessor(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.host.Invoke(context.Background(), Request{Identity: "nope"})
	assert.True(t, errors.Is(err, processors.ErrUnknownProcessor))
	assert.Equal(t, "unknown_processor", Outcome(err))
}

func TestSessionStateIsPersisted(t *testing.T) {
	store, err := session.NewBoltStore(filepath.Join(t.TempDir(), "sessions.bolt"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	f := newFixture(t, store)
	f.respond = func(req *invoker.Request) *invoker.Response {
		return &invoker.Response{
			Success:    true,
			StatusCode: 201,
			Body:       []byte(`{"id":"pred-1","status":"starting","urls":{"get":"g","cancel":"c"}}`),
		}
	}

	res, err := f.host.Invoke(context.Background(), Request{
		Identity:  "replicate/generic",
		SessionID: "s1",
		Input:     map[string]interface{}{"model": "m", "version": "v1"},
	})
	require.NoError(t, err)
	assert.Equal(t, processors.SessionState{"last_prediction_id": "pred-1"}, res.SessionState)

	record, ok, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "replicate/generic", record.Identity)
	assert.Equal(t, "pred-1", record.State["last_prediction_id"])

	// a session is bound to one processor
	_, err = f.host.Invoke(context.Background(), Request{
		Identity:  "promptly_http_api_processor",
		SessionID: "s1",
		Input:     map[string]interface{}{"url": "https://example.test"},
	})
	assert.True(t, errors.Is(err, session.ErrIdentityMismatch))
}

func TestStatelessProcessorDoesNotPersist(t *testing.T) {
	store := session.NewMemoryStore()
	f := newFixture(t, store)

	_, err := f.host.Invoke(context.Background(), Request{
		Identity:  "promptly_http_api_processor",
		SessionID: "s2",
		Input:     map[string]interface{}{"url": "https://example.test"},
	})
	require.NoError(t, err)
	_, ok, err := store.Load(context.Background(), "s2")
	require.NoError(t, err)
	assert.False(t, ok)
}

type counterConfig struct {
	Forget bool `json:"forget"`
}

type counterOutput struct {
	Count int `json:"count"`
}

type counterProcessor struct {
	processors.Base[counterOutput, counterConfig]
	count int
}

func (c *counterProcessor) Identity() string { return "test/counter" }

func (c *counterProcessor) SessionStateToPersist() processors.SessionState {
	if c.Config.Forget {
		return processors.SessionState{}
	}
	return processors.SessionState{"count": c.count}
}

func (c *counterProcessor) Process(ctx context.Context, _ map[string]interface{}) (counterOutput, error) {
	switch prior := c.Session["count"].(type) {
	case int:
		c.count = prior
	case float64:
		c.count = int(prior)
	}
	c.count++
	return c.NewOutputStream().WriteAndFinalize(counterOutput{Count: c.count})
}

func newCounterRegistry(t *testing.T) *processors.Registry {
	input := schema.Must[map[string]interface{}]("CounterInput")
	output := schema.Must[counterOutput]("CounterOutput",
		schema.NewField("count", schema.TypeInteger, schema.WithRequired()),
	)
	config := schema.Must[counterConfig]("CounterConfig",
		schema.NewField("forget", schema.TypeBool, schema.WithDefault(false)),
	)
	r := processors.NewRegistry()
	require.NoError(t, processors.Register(r, processors.Definition[map[string]interface{}, counterOutput, counterConfig]{
		Identity: "test/counter",
		Input:    input,
		Output:   output,
		Config:   config,
		New: func(c counterConfig, b processors.Bindings) (processors.Processor[map[string]interface{}, counterOutput, counterConfig], error) {
			return &counterProcessor{Base: processors.NewBase(output, c, b)}, nil
		},
	}))
	return r
}

func TestEmptySessionStateClearsStoredRecord(t *testing.T) {
	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.sqlite"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	h := New(newCounterRegistry(t), WithStore(store))
	ctx := context.Background()
	invoke := func(forget bool) *Result {
		res, err := h.Invoke(ctx, Request{
			Identity:  "test/counter",
			SessionID: "s3",
			Config:    map[string]interface{}{"forget": forget},
		})
		require.NoError(t, err)
		return res
	}

	invoke(false)
	res := invoke(false)
	assert.Equal(t, map[string]interface{}{"count": int64(2)}, res.Output)

	invoke(true)
	_, ok, err := store.Load(ctx, "s3")
	require.NoError(t, err)
	assert.False(t, ok)

	res = invoke(false)
	assert.Equal(t, map[string]interface{}{"count": int64(1)}, res.Output)
}

func TestDescribe(t *testing.T) {
	f := newFixture(t, nil)

	d, err := f.host.Describe("promptly_http_api_processor")
	require.NoError(t, err)
	assert.Equal(t, "HttpAPIProcessorConfiguration", d.Configuration.Title)
	timeout, ok := d.Configuration.Properties.Get("timeout")
	require.True(t, ok)
	assert.Equal(t, "integer", timeout.Type)

	_, err = f.host.Describe("nope")
	assert.True(t, errors.Is(err, processors.ErrUnknownProcessor))
	assert.Len(t, f.host.List(), 4)

	s, err := f.host.Schema("replicate/generic", "config")
	require.NoError(t, err)
	assert.Equal(t, "GenericConfiguration", s.Name())
	_, err = f.host.Schema("replicate/generic", "other")
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "protocol_violation", Outcome(stream.ErrNoDataWritten))
	assert.Equal(t, "protocol_violation", Outcome(&stream.InvalidOutputError{Err: &schema.ValidationError{}}))
	assert.Equal(t, "invalid", Outcome(&schema.ValidationError{}))
	assert.Equal(t, "missing_capability", Outcome(&env.MissingCapabilityError{Key: "k"}))
	assert.Equal(t, "canceled", Outcome(errors.Wrap(context.Canceled, "x")))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
