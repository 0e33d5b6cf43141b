package stream

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

type testOutput struct {
	Code    int               `json:"code"`
	Text    string            `json:"text"`
	Headers map[string]string `json:"headers"`
}

var testOutputSchema = schema.Must[testOutput]("TestOutput",
	schema.NewField("code", schema.TypeInteger, schema.WithRequired(), schema.WithRange(100, 599)),
	schema.NewField("text", schema.TypeString, schema.WithDefault("")),
	schema.NewField("headers", schema.TypeStringMap, schema.WithDefault(map[string]string{})),
)

func TestWriteThenFinalize(t *testing.T) {
	s := New(testOutputSchema)
	assert.Equal(t, StateOpen, s.State())

	require.NoError(t, s.Write(testOutput{Code: 200, Text: "ok"}))
	assert.Equal(t, StateWritten, s.State())

	out, err := s.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 200, out.Code)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, StateClosed, s.State())
}

func TestFinalizeReturnsLastWrite(t *testing.T) {
	s := New(testOutputSchema)

	require.NoError(t, s.Write(testOutput{Code: 200, Text: "first"}))
	require.NoError(t, s.Write(testOutput{Code: 200, Text: "first second"}))
	require.NoError(t, s.Write(testOutput{Code: 201, Text: "first second third"}))
	assert.Equal(t, 3, s.Writes())

	out, err := s.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 201, out.Code)
	assert.Equal(t, "first second third", out.Text)
}

func TestFinalizeWithoutWrite(t *testing.T) {
	s := New(testOutputSchema)

	out, err := s.Finalize()
	assert.True(t, errors.Is(err, ErrNoDataWritten))
	assert.Equal(t, testOutput{}, out)
	// the stream stays usable
	assert.Equal(t, StateOpen, s.State())
}

func TestFinalizeTwice(t *testing.T) {
	s := New(testOutputSchema)
	require.NoError(t, s.Write(testOutput{Code: 200, Headers: map[string]string{"a": "b"}}))

	first, err := s.Finalize()
	require.NoError(t, err)

	second, err := s.Finalize()
	assert.True(t, errors.Is(err, ErrAlreadyFinalized))
	assert.Equal(t, testOutput{}, second)
	assert.Equal(t, map[string]string{"a": "b"}, first.Headers)
}

func TestWriteAfterFinalize(t *testing.T) {
	s := New(testOutputSchema)
	_, err := s.WriteAndFinalize(testOutput{Code: 204})
	require.NoError(t, err)

	err = s.Write(testOutput{Code: 200})
	assert.True(t, errors.Is(err, ErrAlreadyFinalized))
	assert.Equal(t, 1, s.Writes())
}

func TestInvalidOutputIsRejected(t *testing.T) {
	sink := events.NewCollectingSink()
	s := New(testOutputSchema, WithSink(sink))

	err := s.Write(testOutput{Code: 42})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOutput))
	assert.True(t, errors.Is(err, schema.ErrValidation))

	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "code", verr.First().Field)

	assert.Empty(t, sink.Events())
	assert.Equal(t, StateOpen, s.State())
	_, err = s.Finalize()
	assert.True(t, errors.Is(err, ErrNoDataWritten))
}

func TestWrittenValueIsCopied(t *testing.T) {
	s := New(testOutputSchema)
	headers := map[string]string{"content-type": "text/plain"}
	require.NoError(t, s.Write(testOutput{Code: 200, Headers: headers}))
	headers["content-type"] = "mutated"

	out, err := s.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", out.Headers["content-type"])
}

func TestWritesArePublished(t *testing.T) {
	sink := events.NewCollectingSink()
	meta := events.Metadata{InvocationID: "inv", Identity: "test"}
	s := New(testOutputSchema, WithSink(sink), WithMetadata(meta))

	require.NoError(t, s.Write(testOutput{Code: 200, Text: "a"}))
	require.NoError(t, s.Write(testOutput{Code: 200, Text: "ab"}))

	published := sink.OfType(events.EventTypeOutput)
	require.Len(t, published, 2)
	assert.Equal(t, 1, published[0].Sequence)
	assert.Equal(t, 2, published[1].Sequence)
	assert.Equal(t, "ab", published[1].Payload["text"])
	assert.Equal(t, meta, published[1].Metadata)
}

func TestSinkErrorRejectsWrite(t *testing.T) {
	s := New(testOutputSchema, WithSink(failingSink{}))

	err := s.Write(testOutput{Code: 200})
	require.Error(t, err)
	assert.Equal(t, 0, s.Writes())
	_, err = s.Finalize()
	assert.True(t, errors.Is(err, ErrNoDataWritten))
}

func TestWriteBlocksUntilRouterHandlerAcks(t *testing.T) {
	r, err := events.NewRouter()
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	r.AddHandler("record", func(e *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Payload["text"].(string))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	<-r.Running()

	s := New(testOutputSchema, WithSink(r.Sink()))
	require.NoError(t, s.Write(testOutput{Code: 200, Text: "hello"}))

	mu.Lock()
	assert.Equal(t, []string{"hello"}, seen)
	mu.Unlock()

	require.NoError(t, r.Close())
	<-done
}

type failingSink struct{}

func (failingSink) PublishEvent(*events.Event) error {
	return errors.New("sink closed")
}
