package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/echelonflow/echelon/pkg/cmd"
	"github.com/echelonflow/echelon/pkg/log"
	"github.com/echelonflow/echelon/pkg/models"
	"github.com/echelonflow/echelon/pkg/otelhelper"
	"github.com/echelonflow/echelon/pkg/store"
	"github.com/echelonflow/echelon/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one workflow template to completion and print the result",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Template file to run",
				Required: true,
				Sources:  cli.EnvVars("TEMPLATE_FILE"),
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Start input as a JSON object",
				Value:   "{}",
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces for this run",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		}, logFlags()...),
		Action: runAction,
	}
}

func runAction(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("echelon")

	var input map[string]any
	if err := json.Unmarshal([]byte(command.String("input")), &input); err != nil {
		return fmt.Errorf("invalid --input JSON: %w", err)
	}

	if command.Bool("tracing") {
		if _, err := otelhelper.NewTracer(ctx, "echelon"); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	template, err := cmd.LoadTemplateFile(command.String("file"))
	if err != nil {
		return err
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), "echelon-run", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	options := workflow.DefaultOptions()
	// One-shot process, nothing accumulates worth sweeping.
	options.SweepInterval = 0

	engine, err := workflow.NewEngine(
		store.NewMemoryTemplateRegistry(),
		store.NewMemoryInstanceStore(),
		demoCapabilities(logger),
		bus,
		logger,
		options,
	)
	if err != nil {
		return err
	}

	templateID, err := engine.RegisterTemplate(ctx, template)
	if err != nil {
		return err
	}

	result, err := engine.Start(ctx, templateID, input, models.Owner{UserID: "cli"})
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(encoded))

	return nil
}
