package helpers

import (
	"bytes"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWatermillAdapter(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)

	adapter := NewWatermill(logger).With(watermill.LogFields{"topic": "processor-events"})
	adapter.Error("publish failed", errors.New("closed"), watermill.LogFields{"message_uuid": "m1"})
	adapter.Info("subscribed", nil)
	adapter.Trace("dropped", nil)

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"error":"closed"`)
	assert.Contains(t, out, `"topic":"processor-events"`)
	assert.Contains(t, out, `"message_uuid":"m1"`)
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"message":"subscribed"`)
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"component":"watermill"`)
	assert.Contains(t, out, `"caller":`)
	assert.Contains(t, out, "watermill_test.go")
}
