package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/echelonflow/echelon/pkg/models"
	"github.com/echelonflow/echelon/pkg/store"
)

// LoadTemplateFile reads one template definition, checking the document
// against the template schema before decoding it.
func LoadTemplateFile(path string) (*models.WorkflowTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file '%s': %w", path, err)
	}

	if err := store.ValidateTemplateJSON(raw); err != nil {
		return nil, fmt.Errorf("template file '%s': %w", path, err)
	}

	var template models.WorkflowTemplate
	if err := json.Unmarshal(raw, &template); err != nil {
		return nil, fmt.Errorf("failed to decode template file '%s': %w", path, err)
	}

	return &template, nil
}

// LoadTemplateDir loads every *.json template in dir, in file name order.
func LoadTemplateDir(ctx context.Context, logger *slog.Logger, dir string) ([]*models.WorkflowTemplate, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan template directory '%s': %w", dir, err)
	}

	sort.Strings(paths)

	templates := make([]*models.WorkflowTemplate, 0, len(paths))

	for _, path := range paths {
		template, err := LoadTemplateFile(path)
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "Loaded template", "path", path, "template_id", template.ID)
		templates = append(templates, template)
	}

	return templates, nil
}
