package queue

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrigger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tests := []struct {
		name        string
		config      map[string]any
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid_redis_config",
			config: map[string]any{
				"provider": "redis",
				"queue":    "workflow_starts",
				"connection": map[string]any{
					"addr":     "localhost:6379",
					"password": "",
					"db":       "0",
				},
			},
			expectError: false,
		},
		{
			name: "missing_queue",
			config: map[string]any{
				"provider": "redis",
			},
			expectError: true,
			errorMsg:    "queue trigger queue name is required",
		},
		{
			name: "unsupported_provider",
			config: map[string]any{
				"provider": "rabbitmq",
				"queue":    "workflow_starts",
			},
			expectError: true,
			errorMsg:    "unsupported queue provider: rabbitmq",
		},
		{
			name: "default_provider",
			config: map[string]any{
				"queue": "workflow_starts",
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, err := NewTrigger(tt.config, logger)

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, trigger)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, RedisProvider, trigger.Provider)
			assert.Equal(t, tt.config["queue"], trigger.Queue)
			assert.True(t, trigger.Enabled)
			assert.NoError(t, trigger.Validate())
		})
	}
}

func TestNewTrigger_ConnectionConfig(t *testing.T) {
	trigger, err := NewTrigger(map[string]any{
		"queue": "workflow_starts",
		"connection": map[string]any{
			"addr":     "redis.internal:6380",
			"password": "hunter2",
			"db":       "3",
			"timeout":  30,
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", trigger.Connection["addr"])
	assert.Equal(t, "hunter2", trigger.Connection["password"])
	assert.Equal(t, "3", trigger.Connection["db"])
	assert.NotContains(t, trigger.Connection, "timeout", "non-string connection values are ignored")
}

func TestStartMessageDecoding(t *testing.T) {
	var message startMessage

	err := json.Unmarshal([]byte(`{"template_id":"tpl-1","input":{"order_id":"o-9"}}`), &message)
	require.NoError(t, err)

	assert.Equal(t, "tpl-1", message.TemplateID)
	assert.Equal(t, map[string]any{"order_id": "o-9"}, message.Input)
}

func TestParseDB(t *testing.T) {
	trigger := &Trigger{}

	db, err := trigger.parseDB("7")
	require.NoError(t, err)
	assert.Equal(t, 7, db)

	_, err = trigger.parseDB("not-a-number")
	assert.Error(t, err)
}
