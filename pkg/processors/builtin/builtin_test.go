package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stagehand/pkg/schema"
)

func TestBuiltinRegistry(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ollama/chat",
		"openai/chat_completions",
		"promptly_http_api_processor",
		"replicate/generic",
	}, r.Identities())

	assert.Error(t, Register(r))
}

func TestBuiltinSchemasRender(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, reg := range r.List() {
		for _, d := range []schema.Descriptor{reg.InputSchema(), reg.OutputSchema(), reg.ConfigSchema()} {
			s := d.JSONSchema()
			require.NotNil(t, s, "%s %s", reg.Identity(), d.Name())
			assert.Equal(t, "object", s.Type)
		}
		// every configuration has usable defaults
		_, err := reg.ConfigSchema().Normalize(map[string]interface{}{})
		assert.NoError(t, err, reg.Identity())
	}
}
