package someip

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Interface(t *testing.T) {
	// Verify that *slog.Logger implements our Logger interface
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger == nil {
		t.Fatal("defaultLogger returned nil")
	}

	// Verify it's the slog default
	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

// mockLogger for testing Logger interface
type mockLogger struct {
	debugCalled bool
	infoCalled  bool
	warnCalled  bool
	errorCalled bool
	lastMsg     string
	lastArgs    []any
}

func (l *mockLogger) Debug(msg string, args ...any) {
	l.debugCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Info(msg string, args ...any) {
	l.infoCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.warnCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.errorCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func TestLogger_CustomImplementation(t *testing.T) {
	logger := &mockLogger{}
	ep, err := NewEndpoint(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30490}, &recordingHost{}, LoggerOption(logger))
	require.NoError(t, err)

	require.NoError(t, ep.Close())

	if !logger.infoCalled {
		t.Error("Info not called")
	}
	if logger.lastMsg != "endpoint closed" {
		t.Errorf("lastMsg = %s, want 'endpoint closed'", logger.lastMsg)
	}
	assert.Equal(t, []any{"addr", ep.Addr()}, logger.lastArgs)
}

func TestZerologLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := ZerologLogger(zerolog.New(&buf))

	logger.Error("corrupt stream", "addr", "127.0.0.1:30490", "skipped", 12, "error", errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "corrupt stream", entry["message"])
	assert.Equal(t, "127.0.0.1:30490", entry["addr"])
	assert.Equal(t, float64(12), entry["skipped"])
	assert.Equal(t, "boom", entry["error"])
}

func TestZerologLogger_BadKey(t *testing.T) {
	var buf bytes.Buffer
	logger := ZerologLogger(zerolog.New(&buf))

	logger.Info("odd args", "dangling")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dangling", entry["!BADKEY"])
}

func TestZerologLogger_LevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	logger := ZerologLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("hidden", "key", "value")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.NotZero(t, buf.Len())
}
