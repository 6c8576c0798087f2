package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echelonflow/echelon/pkg/cmd"
	"github.com/echelonflow/echelon/pkg/eventbus"
	"github.com/echelonflow/echelon/pkg/events"
	"github.com/echelonflow/echelon/pkg/log"
	"github.com/echelonflow/echelon/pkg/models"
	"github.com/echelonflow/echelon/pkg/otelhelper"
	"github.com/echelonflow/echelon/pkg/protocol"
	"github.com/echelonflow/echelon/pkg/store"
	"github.com/echelonflow/echelon/pkg/triggers/queue"
	"github.com/echelonflow/echelon/pkg/triggers/schedule"
	"github.com/echelonflow/echelon/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func NewListenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "Serve queued workflow start requests until interrupted",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "service-id",
				Aliases: []string{"id"},
				Usage:   "Custom service ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SERVICE_ID"),
			},
			&cli.StringFlag{
				Name:     "templates-dir",
				Aliases:  []string{"d"},
				Usage:    "Directory of template files registered at startup",
				Required: true,
				Sources:  cli.EnvVars("TEMPLATES_DIR"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Redis list consumed for start requests",
				Value:   "echelon:starts",
				Sources: cli.EnvVars("START_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the queue trigger",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringSliceFlag{
				Name:    "schedule",
				Aliases: []string{"s"},
				Usage:   "Cron schedule as JSON: '{\"cron\":\"0 9 * * *\",\"template_id\":\"tpl-x\",\"input\":{...}}' (repeatable)",
				Sources: cli.EnvVars("SCHEDULES"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		}, logFlags()...),
		Action: listenAction,
	}
}

func listenAction(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	serviceID := command.String("service-id")
	if serviceID == "" {
		serviceID = "echelon-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("echelon").With("service_id", serviceID)

	logger.InfoContext(ctx, "Initializing Echelon listener")

	if command.Bool("tracing") {
		if _, err := otelhelper.NewTracer(ctx, "echelon"); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), serviceID, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	engine, err := workflow.NewEngine(
		store.NewMemoryTemplateRegistry(),
		store.NewMemoryInstanceStore(),
		demoCapabilities(logger),
		bus,
		logger,
		workflow.DefaultOptions(),
	)
	if err != nil {
		return err
	}

	templates, err := cmd.LoadTemplateDir(ctx, logger, command.String("templates-dir"))
	if err != nil {
		return err
	}

	for _, template := range templates {
		if _, err := engine.RegisterTemplate(ctx, template); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := observeLifecycle(runCtx, bus, logger); err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}

	triggers, err := buildTriggers(command, logger)
	if err != nil {
		return err
	}

	for id, trigger := range triggers {
		err = trigger.Start(runCtx, func(ctx context.Context, templateID string, input map[string]any) error {
			_, err := engine.Start(ctx, templateID, input, models.Owner{UserID: id})

			return err
		})
		if err != nil {
			return fmt.Errorf("failed to start trigger %s: %w", id, err)
		}
	}

	logger.InfoContext(ctx, "Listening for start requests",
		"templates", len(templates),
		"queue", command.String("queue"),
		"schedules", len(triggers)-1,
	)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signals
	logger.InfoContext(ctx, "Received signal, shutting down gracefully", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	for id, trigger := range triggers {
		if err := trigger.Stop(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "Failed to stop trigger", "trigger", id, "error", err)
		}
	}

	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "Failed to shut down engine", "error", err)
	}

	return nil
}

// buildTriggers assembles the inbound adapters for the service: the Redis
// queue consumer plus one cron trigger per --schedule value.
func buildTriggers(command *cli.Command, logger *slog.Logger) (map[string]protocol.Trigger, error) {
	triggers := make(map[string]protocol.Trigger)

	queueTrigger, err := queue.NewTriggerFactory().Create(map[string]any{
		"queue": command.String("queue"),
		"connection": map[string]any{
			"addr": command.String("redis-addr"),
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	triggers["queue"] = queueTrigger

	scheduleFactory := schedule.NewTriggerFactory()

	for i, raw := range command.StringSlice("schedule") {
		var config map[string]any

		if err := json.Unmarshal([]byte(raw), &config); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
		}

		trigger, err := scheduleFactory.Create(config, logger)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
		}

		triggers[fmt.Sprintf("schedule-%d", i)] = trigger
	}

	return triggers, nil
}

// observeLifecycle mirrors terminal instance events into the service log so
// a local run is observable without a broker consumer.
func observeLifecycle(ctx context.Context, bus eventbus.EventBus, logger *slog.Logger) error {
	handler := func(ctx context.Context, event interface{}) error {
		switch e := event.(type) {
		case *events.InstanceCompleted:
			logger.InfoContext(ctx, "Instance completed",
				"instance_id", e.InstanceID, "duration_ms", e.DurationMs)
		case *events.InstanceFailed:
			logger.WarnContext(ctx, "Instance failed",
				"instance_id", e.InstanceID, "task_id", e.TaskID, "error", e.Error)
		case *events.InstanceCancelled:
			logger.InfoContext(ctx, "Instance cancelled", "instance_id", e.InstanceID)
		}

		return nil
	}

	for _, eventType := range []events.EventType{
		events.InstanceCompletedEvent,
		events.InstanceFailedEvent,
		events.InstanceCancelledEvent,
	} {
		if err := bus.Handle(eventType, handler); err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}
