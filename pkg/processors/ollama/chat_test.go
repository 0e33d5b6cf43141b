package ollama

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stagehand/pkg/env"
	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/processors"
)

type fakeChatter struct {
	chunks   []string
	err      error
	requests []*api.ChatRequest
}

func (f *fakeChatter) Chat(ctx context.Context, req *api.ChatRequest, fn func(api.ChatResponse) error) error {
	f.requests = append(f.requests, req)
	for i, c := range f.chunks {
		var resp api.ChatResponse
		b, _ := json.Marshal(map[string]interface{}{
			"model":   req.Model,
			"message": map[string]string{"role": "assistant", "content": c},
			"done":    i == len(f.chunks)-1,
		})
		if err := json.Unmarshal(b, &resp); err != nil {
			return err
		}
		if err := fn(resp); err != nil {
			return err
		}
	}
	return f.err
}

func construct(t *testing.T, f *fakeChatter, sink events.EventSink, session processors.SessionState) processors.Runnable {
	r := processors.NewRegistry()
	require.NoError(t, processors.Register(r, Definition))
	reg, err := r.Lookup(Identity)
	require.NoError(t, err)
	p, err := reg.New(map[string]interface{}{"model": "mistral"}, processors.Bindings{
		Env:     env.New(env.WithService(ServiceName, f)),
		Sink:    sink,
		Session: session,
	})
	require.NoError(t, err)
	return p
}

func TestEveryChunkIsWritten(t *testing.T) {
	f := &fakeChatter{chunks: []string{"The ", "sky ", "is blue."}}
	sink := events.NewCollectingSink()
	p := construct(t, f, sink, nil)

	out, err := p.Run(context.Background(), map[string]interface{}{"prompt": "Why?"})
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", out["text"])
	assert.Equal(t, true, out["done"])
	assert.Equal(t, "mistral", out["model"])

	writes := sink.OfType(events.EventTypeOutput)
	require.Len(t, writes, 3)
	assert.Equal(t, "The ", writes[0].Payload["text"])
	assert.Equal(t, false, writes[0].Payload["done"])
	assert.Equal(t, "The sky ", writes[1].Payload["text"])
	assert.Equal(t, 3, writes[2].Sequence)

	require.Len(t, f.requests, 1)
	assert.Equal(t, "mistral", f.requests[0].Model)
	assert.Equal(t, 0.8, f.requests[0].Options["temperature"])
}

func TestStreamErrorYieldsNoOutput(t *testing.T) {
	f := &fakeChatter{chunks: []string{"partial"}, err: errors.New("connection reset")}
	p := construct(t, f, nil, nil)

	out, err := p.Run(context.Background(), map[string]interface{}{"prompt": "Why?"})
	assert.Nil(t, out)
	var ecf *processors.ExternalCallFailedError
	require.True(t, errors.As(err, &ecf))
	assert.Equal(t, "connection reset", ecf.StatusText)
	assert.Equal(t, processors.SessionState{}, p.SessionStateToPersist())
}

func TestHistoryFromSession(t *testing.T) {
	f := &fakeChatter{chunks: []string{"fine"}}
	prior := processors.SessionState{"history": []interface{}{
		map[string]interface{}{"role": "user", "content": "hi"},
		map[string]interface{}{"role": "assistant", "content": "hello"},
	}}
	p := construct(t, f, nil, prior)

	_, err := p.Run(context.Background(), map[string]interface{}{"prompt": "how are you", "system": "be nice"})
	require.NoError(t, err)

	msgs := f.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, "how are you", msgs[3].Content)

	state := p.SessionStateToPersist()
	history, ok := state["history"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, history, 4)
	assert.Equal(t, "fine", history[3]["content"])
}

func TestChunksBeforeAFailureStayPublished(t *testing.T) {
	f := &fakeChatter{chunks: []string{"The ", "sky "}, err: errors.New("connection reset")}
	sink := events.NewCollectingSink()
	p := construct(t, f, sink, nil)

	_, err := p.Run(context.Background(), map[string]interface{}{"prompt": "Why?"})
	require.Error(t, err)

	// observers see the provisional chunks, the invocation itself fails
	writes := sink.OfType(events.EventTypeOutput)
	require.Len(t, writes, 2)
	assert.Equal(t, "The sky ", writes[1].Payload["text"])
	assert.Equal(t, false, writes[1].Payload["done"])
}

func TestKeepTurns(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "assistant", Content: "d"},
	}
	assert.Equal(t, history, keepTurns(history, 20))
	assert.Equal(t, history[2:], keepTurns(history, 3))
	assert.Empty(t, keepTurns(history, 1))
}
