package protocol

import (
	"context"
	"log/slog"
)

// TriggerCallback starts a workflow in response to an external signal.
type TriggerCallback func(ctx context.Context, templateID string, input map[string]any) error

// Trigger is a long-running source of workflow start requests, such as the
// Redis queue listener or the cron scheduler.
type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate() error
}

// TriggerFactory builds triggers from configuration maps.
type TriggerFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
}
