package schedule

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/echelonflow/echelon/pkg/protocol"
)

func NewTriggerFactory() protocol.TriggerFactory {
	return &TriggerFactory{}
}

type TriggerFactory struct{}

func (f *TriggerFactory) ID() string {
	return "schedule"
}

func (f *TriggerFactory) Create(config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	trigger, err := NewTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule trigger: %w", err)
	}

	return trigger, nil
}
