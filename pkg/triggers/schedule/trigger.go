// Package schedule starts workflows on a cron schedule. Each trigger binds
// one cron expression to one template id and fires the start callback with
// the configured input whenever the schedule matches.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/echelonflow/echelon/pkg/protocol"
	"github.com/robfig/cron/v3"
)

type Trigger struct {
	CronExpr   string
	TemplateID string
	Input      map[string]any
	Enabled    bool

	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

// NewTrigger builds a schedule trigger from a config map. Recognized keys
// are cron (standard 5-field expression, required), template_id (required)
// and input (start input merged into every fired run).
func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	cronExpr, _ := config["cron"].(string)
	templateID, _ := config["template_id"].(string)
	input, _ := config["input"].(map[string]any)

	if logger == nil {
		logger = slog.Default()
	}

	trigger := &Trigger{
		CronExpr:   cronExpr,
		TemplateID: templateID,
		Input:      input,
		Enabled:    true,
		logger: logger.With(
			"module", "schedule_trigger",
			"cron", cronExpr,
			"template_id", templateID,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	if t.TemplateID == "" {
		return errors.New("schedule trigger template_id is required")
	}

	return nil
}

// Start schedules the cron job. The callback runs on every schedule match
// until Stop.
func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Schedule trigger is disabled")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting schedule trigger")
	t.callback = callback

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := t.cron.AddFunc(t.CronExpr, t.run); err != nil {
		return fmt.Errorf("failed to schedule template %s: %w", t.TemplateID, err)
	}

	t.cron.Start()

	return nil
}

func (t *Trigger) run() {
	t.logger.Info("Schedule fired")

	input := make(map[string]any, len(t.Input)+1)
	for k, v := range t.Input {
		input[k] = v
	}

	input["scheduled_at"] = time.Now().UTC().Format(time.RFC3339)

	go func() {
		if err := t.callback(context.Background(), t.TemplateID, input); err != nil {
			t.logger.Error("Error starting scheduled workflow",
				"template_id", t.TemplateID, "error", err)
		}
	}()
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping schedule trigger")

	if t.cron != nil {
		t.cron.Stop()
	}

	return nil
}

var _ protocol.Trigger = (*Trigger)(nil)
