package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/mindpalace/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, msg string, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Unix(0, 0).UTC(),
		Message: msg,
	}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestSecretField(t *testing.T) {
	field := Secret("api_key", config.Secret("sk-abcdefghij"))

	marshaler, ok := field.Interface.(zapcore.ObjectMarshaler)
	require.True(t, ok)

	enc := zapcore.NewMapObjectEncoder()
	require.NoError(t, marshaler.MarshalLogObject(enc))
	assert.Equal(t, "[REDACTED:13]", enc.Fields["api_key"])
}

func TestRedactingEncoder_EntryFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, "calling upstream",
		zap.String("api_key", "plain-key"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "deepseek-chat"),
	)

	assert.NotContains(t, out, "plain-key")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.Contains(t, out, `"header":"[REDACTED:pattern]"`)
	assert.Contains(t, out, `"model":"deepseek-chat"`)
}

func TestRedactingEncoder_Message(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, "rejected key sk-0123456789abcdefXYZ")
	assert.NotContains(t, out, "sk-0123456789abcdefXYZ")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	clone := enc.Clone()
	clone.AddString("token", "abc")
	clone.AddString("service", "mindpalace")

	out := encode(t, clone, "hello")
	assert.Contains(t, out, `"token":"[REDACTED]"`)
	assert.Contains(t, out, `"service":"mindpalace"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: false})
	require.NoError(t, err)

	out := encode(t, enc, "raw", zap.String("api_key", "visible"))
	assert.Contains(t, out, "visible")
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"("},
	})
	assert.Error(t, err)
}
