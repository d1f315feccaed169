package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": path},
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger, path
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	logger, path := newTestFileLogger(t)

	require.NoError(t, logger.Log("SECRET_STORED", true, map[string]interface{}{
		"secret_name": "db-creds",
		"request_id":  "req-1",
	}))
	require.NoError(t, logger.Log("SECRET_GET_FAILED", false, map[string]interface{}{
		"secret_name": "ghost",
		"error":       "secret ghost not found",
	}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event), "each line must be one JSON event")
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, events, 2)

	assert.Equal(t, "SECRET_STORED", events[0].Action)
	assert.True(t, events[0].Success)
	assert.Equal(t, "db-creds", events[0].SecretName)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Equal(t, "SECRET_GET_FAILED", events[1].Action)
	assert.False(t, events[1].Success)
	assert.NotEmpty(t, events[1].Error)
}

func TestFileLoggerQueryFilters(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	require.NoError(t, logger.Log("SECRET_STORED", true, map[string]interface{}{"secret_name": "alpha"}))
	require.NoError(t, logger.Log("SECRET_STORED", true, map[string]interface{}{"secret_name": "beta"}))
	require.NoError(t, logger.Log("KEY_GENERATED", true, map[string]interface{}{"key_name": "default"}))
	require.NoError(t, logger.Log("SECRET_GET_FAILED", false, map[string]interface{}{"secret_name": "alpha"}))

	byAction, err := logger.Query(QueryOptions{Action: "SECRET_STORED"})
	require.NoError(t, err)
	assert.Len(t, byAction.Events, 2)

	failuresOnly := false
	byOutcome, err := logger.Query(QueryOptions{Success: &failuresOnly})
	require.NoError(t, err)
	require.Len(t, byOutcome.Events, 1)
	assert.Equal(t, "SECRET_GET_FAILED", byOutcome.Events[0].Action)

	bySecret, err := logger.Query(QueryOptions{SecretName: "alpha"})
	require.NoError(t, err)
	assert.Len(t, bySecret.Events, 2)

	byKey, err := logger.Query(QueryOptions{KeyName: "default"})
	require.NoError(t, err)
	require.Len(t, byKey.Events, 1)
	assert.Equal(t, "KEY_GENERATED", byKey.Events[0].Action)

	limited, err := logger.Query(QueryOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited.Events, 2)
	assert.True(t, limited.HasMore)
}

func TestFileLoggerQueryNewestFirst(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	require.NoError(t, logger.Log("FIRST", true, nil))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, logger.Log("SECOND", true, nil))

	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	assert.Equal(t, "SECOND", result.Events[0].Action, "newest event first")
}

func TestNewLoggerFactory(t *testing.T) {
	t.Run("disabled yields no-op", func(t *testing.T) {
		logger, err := NewLogger(&Config{Enabled: false})
		require.NoError(t, err)
		assert.IsType(t, &NoOpLogger{}, logger)
	})

	t.Run("nil config yields no-op", func(t *testing.T) {
		logger, err := NewLogger(nil)
		require.NoError(t, err)
		assert.IsType(t, &NoOpLogger{}, logger)
	})

	t.Run("file type", func(t *testing.T) {
		logger, err := NewLogger(&Config{
			Enabled: true,
			Type:    FileAuditType,
			Options: map[string]interface{}{"file_path": filepath.Join(t.TempDir(), "audit.log")},
		})
		require.NoError(t, err)
		defer logger.Close()
		assert.IsType(t, &FileLogger{}, logger)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewLogger(&Config{Enabled: true, Type: "carrier-pigeon"})
		assert.Error(t, err)
	})
}

func TestNoOpLoggerSwallowsEverything(t *testing.T) {
	logger := NewNoOpLogger()
	assert.NoError(t, logger.Log("ANYTHING", true, nil))
	result, err := logger.Query(QueryOptions{})
	assert.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.NoError(t, logger.Close())
}
