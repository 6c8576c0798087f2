// Package queue starts workflows from messages popped off a Redis list.
// Each message is a JSON document naming the template to run and the start
// input for the new instance.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echelonflow/echelon/pkg/protocol"
	redis "github.com/redis/go-redis/v9"
)

type Provider int

const (
	RedisProvider Provider = iota
)

var providerName = map[Provider]string{
	RedisProvider: "redis",
}

func getProviderByName(name string) (Provider, error) {
	for p, n := range providerName {
		if n == name {
			return p, nil
		}
	}

	return 0, fmt.Errorf("unsupported queue provider: %s", name)
}

// startMessage is the wire format of one queued start request.
type startMessage struct {
	TemplateID string         `json:"template_id"`
	Input      map[string]any `json:"input,omitempty"`
}

type Trigger struct {
	Provider   Provider
	Connection map[string]string
	Queue      string
	Enabled    bool

	client   redis.UniversalClient
	callback protocol.TriggerCallback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewTrigger builds a queue trigger from a config map. Recognized keys are
// provider (defaults to redis), queue and connection (addr, password, db).
func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	provider, _ := config["provider"].(string)
	if provider == "" {
		provider = providerName[RedisProvider]
	}

	queue, _ := config["queue"].(string)

	connectionConfig, _ := config["connection"].(map[string]any)

	connection := make(map[string]string)
	for k, v := range connectionConfig {
		if str, ok := v.(string); ok {
			connection[k] = str
		}
	}

	providerEnum, err := getProviderByName(provider)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	trigger := &Trigger{
		Provider:   providerEnum,
		Connection: connection,
		Queue:      queue,
		Enabled:    true,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"provider", provider,
			"queue", queue,
		),
	}

	err = trigger.Validate()
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	return nil
}

// Start connects to the queue backend and begins consuming. The callback
// runs once per well-formed message.
func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Queue trigger is disabled")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting queue trigger")
	t.callback = callback

	err := t.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) initializeClient(ctx context.Context) error {
	addr := t.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	password := t.Connection["password"]
	db := 0

	if dbStr := t.Connection["db"]; dbStr != "" {
		var err error
		if db, err = t.parseDB(dbStr); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := t.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (t *Trigger) parseDB(dbStr string) (int, error) {
	var db int

	_, err := fmt.Sscanf(dbStr, "%d", &db)

	return db, err
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	t.logger.InfoContext(ctx, "Queue consumer started")

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := t.processMessage(ctx)
			if err != nil {
				t.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, 1*time.Second, t.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	raw := result[1]

	var message startMessage
	if err := json.Unmarshal([]byte(raw), &message); err != nil || message.TemplateID == "" {
		// Malformed payloads are dropped; requeueing them would wedge the
		// consumer on the same message forever.
		t.logger.WarnContext(ctx, "Dropping unusable queue message", "message", raw, "error", err)

		return nil
	}

	t.logger.InfoContext(ctx, "Received start request", "template_id", message.TemplateID)

	go func() {
		err := t.callback(ctx, message.TemplateID, message.Input)
		if err != nil {
			t.logger.ErrorContext(ctx, "Error starting workflow from queue",
				"template_id", message.TemplateID, "error", err)
		}
	}()

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping queue trigger")

	close(t.stopCh)
	t.wg.Wait()

	if t.client != nil {
		err := t.client.Close()
		if err != nil {
			t.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}

var _ protocol.Trigger = (*Trigger)(nil)
