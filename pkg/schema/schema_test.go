package schema

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Timeout        int               `json:"timeout"`
	AllowRedirects bool              `json:"allow_redirects"`
	Mode           string            `json:"mode"`
	Headers        map[string]string `json:"headers"`
	Body           *string           `json:"body,omitempty"`
	Ratio          float64           `json:"ratio"`
	Secret         []byte            `json:"secret,omitempty"`
}

func newTestSchema(t *testing.T) *Schema[testConfig] {
	s, err := New[testConfig]("TestConfig",
		NewField("timeout", TypeInteger, WithDefault(5), WithRange(0, 60), WithDescription("Timeout in seconds")),
		NewField("allow_redirects", TypeBool, WithDefault(true)),
		NewField("mode", TypeChoice, WithChoices("fast", "slow"), WithRequired()),
		NewField("headers", TypeStringMap, WithDefault(map[string]string{})),
		NewField("body", TypeString),
		NewField("ratio", TypeFloat, WithDefault(0.5), WithMin(0), WithMax(1)),
		NewField("secret", TypeBytes, WithHidden()),
	)
	require.NoError(t, err)
	return s
}

func TestDecodeAppliesDefaults(t *testing.T) {
	s := newTestSchema(t)

	cfg, err := s.Decode(map[string]interface{}{"mode": "fast"})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Timeout)
	assert.True(t, cfg.AllowRedirects)
	assert.Equal(t, "fast", cfg.Mode)
	assert.Equal(t, map[string]string{}, cfg.Headers)
	assert.Nil(t, cfg.Body)
	assert.Equal(t, 0.5, cfg.Ratio)
}

func TestDefaultsAreNotShared(t *testing.T) {
	s := newTestSchema(t)

	a, err := s.Decode(map[string]interface{}{"mode": "fast"})
	require.NoError(t, err)
	a.Headers["X-Mutated"] = "yes"

	b, err := s.Decode(map[string]interface{}{"mode": "fast"})
	require.NoError(t, err)
	assert.Empty(t, b.Headers)
}

func TestBoundsAcceptBoundaryValues(t *testing.T) {
	s := newTestSchema(t)

	for _, timeout := range []interface{}{0, 60, 30.0, "42", json.Number("7")} {
		_, err := s.Decode(map[string]interface{}{"mode": "slow", "timeout": timeout})
		assert.NoError(t, err, "timeout=%v", timeout)
	}
}

func TestBoundsRejectOutOfRange(t *testing.T) {
	s := newTestSchema(t)

	for _, timeout := range []interface{}{-1, 61, 120} {
		_, err := s.Decode(map[string]interface{}{"mode": "slow", "timeout": timeout})
		require.Error(t, err, "timeout=%v", timeout)
		assert.True(t, errors.Is(err, ErrValidation))

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "timeout", verr.First().Field)
		assert.EqualValues(t, timeout, verr.First().Value)
	}
}

func TestNonFiniteFloatsAreRejected(t *testing.T) {
	s := newTestSchema(t)

	for _, ratio := range []interface{}{"NaN", math.NaN(), "+Inf", math.Inf(-1)} {
		_, err := s.Decode(map[string]interface{}{"mode": "slow", "ratio": ratio})
		require.Error(t, err, "ratio=%v", ratio)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "ratio", verr.First().Field)
		assert.Equal(t, "type", verr.First().Constraint)
	}
}

func TestIntegerOverflowIsRejected(t *testing.T) {
	s := newTestSchema(t)

	for _, timeout := range []interface{}{1e19, -1e19, float64(math.MaxInt64)} {
		_, err := s.Decode(map[string]interface{}{"mode": "slow", "timeout": timeout})
		require.Error(t, err, "timeout=%v", timeout)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "type", verr.First().Constraint)
		assert.Contains(t, err.Error(), "integer overflows int64")
	}
}

func TestMissingRequiredAndTypeErrorsAreCollected(t *testing.T) {
	s := newTestSchema(t)

	_, err := s.Normalize(map[string]interface{}{
		"timeout":         "soon",
		"allow_redirects": "maybe",
	})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "TestConfig", verr.Schema)
	require.Len(t, verr.Violations, 3)
	assert.Equal(t, "timeout", verr.Violations[0].Field)
	assert.Equal(t, "type", verr.Violations[0].Constraint)
	assert.True(t, verr.HasField("allow_redirects"))
	assert.True(t, verr.HasField("mode"))
	assert.Contains(t, err.Error(), "mode: field is required")
}

func TestChoices(t *testing.T) {
	s := newTestSchema(t)

	_, err := s.Decode(map[string]interface{}{"mode": "medium"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "choices", verr.First().Constraint)
}

func TestUnknownKeysAreDropped(t *testing.T) {
	s := newTestSchema(t)

	m, err := s.Normalize(map[string]interface{}{"mode": "fast", "surprise": 1})
	require.NoError(t, err)
	_, ok := m["surprise"]
	assert.False(t, ok)
}

func TestHiddenFieldsAreValidatedButNotVisible(t *testing.T) {
	s := newTestSchema(t)

	_, err := s.Decode(map[string]interface{}{"mode": "fast", "secret": "%%% not base64"})
	require.Error(t, err)

	m, err := s.Normalize(map[string]interface{}{"mode": "fast", "secret": []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), m["secret"])

	visible := Visible(s, m)
	_, ok := visible["secret"]
	assert.False(t, ok)
	assert.Equal(t, "fast", visible["mode"])
}

func TestEncodeRoundTripsBytesAndPointers(t *testing.T) {
	s := newTestSchema(t)
	body := "hello"

	m, err := s.Encode(testConfig{
		Timeout: 10,
		Mode:    "slow",
		Body:    &body,
		Secret:  []byte{0x01, 0x02},
		Ratio:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), m["timeout"])
	assert.Equal(t, "hello", m["body"])
	assert.Equal(t, []byte{0x01, 0x02}, m["secret"])
}

func TestCheckRejectsInvalidValue(t *testing.T) {
	s := newTestSchema(t)

	err := s.Check(testConfig{Timeout: 100, Mode: "fast"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestInvalidDescriptors(t *testing.T) {
	_, err := New[testConfig]("Bad", NewField("mode", TypeChoice))
	assert.Error(t, err)

	_, err = New[testConfig]("Bad", NewField("timeout", TypeInteger, WithRequired(), WithDefault(1)))
	assert.Error(t, err)

	_, err = New[testConfig]("Bad", NewField("timeout", TypeInteger, WithDefault(100), WithMax(60)))
	assert.Error(t, err)

	_, err = New[testConfig]("Bad", NewField("mode", TypeString, WithRange(0, 1)))
	assert.Error(t, err)

	_, err = New[testConfig]("Bad",
		NewField("mode", TypeString),
		NewField("mode", TypeString),
	)
	assert.Error(t, err)

	assert.Panics(t, func() {
		Must[testConfig]("Bad", NewField("x", FieldType("complex")))
	})
}

func TestJSONSchemaRendering(t *testing.T) {
	s := newTestSchema(t)

	b, err := json.Marshal(s.JSONSchema())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []interface{}{"mode"}, doc["required"])

	props := doc["properties"].(map[string]interface{})
	timeout := props["timeout"].(map[string]interface{})
	assert.Equal(t, "integer", timeout["type"])
	assert.Equal(t, float64(0), timeout["minimum"])
	assert.Equal(t, float64(60), timeout["maximum"])
	assert.Equal(t, float64(5), timeout["default"])

	secret := props["secret"].(map[string]interface{})
	assert.Equal(t, "hidden", secret["x-widget"])

	mode := props["mode"].(map[string]interface{})
	assert.Equal(t, []interface{}{"fast", "slow"}, mode["enum"])
}

func TestValidateDocument(t *testing.T) {
	s := newTestSchema(t)

	require.NoError(t, ValidateDocument(s, map[string]interface{}{"mode": "fast", "timeout": 60}))

	err := ValidateDocument(s, map[string]interface{}{"mode": "fast", "timeout": 120})
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.HasField("timeout"))

	err = ValidateDocument(s, map[string]interface{}{"timeout": 1})
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.HasField("mode"))
}
