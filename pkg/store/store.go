// Package store provides in-memory catalogs for workflow templates and instances.
package store

import (
	"context"

	"github.com/echelonflow/echelon/pkg/models"
)

// TemplateRegistry is the catalog of registered workflow templates.
// Registration validates the template and its dependency graph; lookups after
// a successful Register always see the same template until it is overwritten
// or deleted.
type TemplateRegistry interface {
	Register(ctx context.Context, template *models.WorkflowTemplate) (string, error)
	Lookup(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	List(ctx context.Context) ([]*models.WorkflowTemplate, error)
	Delete(ctx context.Context, id string) error
}

// InstanceStore holds workflow instances from creation until the sweeper
// evicts them.
type InstanceStore interface {
	Put(ctx context.Context, instance *models.WorkflowInstance) error
	Get(ctx context.Context, id string) (*models.WorkflowInstance, error)
	List(ctx context.Context) ([]*models.WorkflowInstance, error)
	Delete(ctx context.Context, id string) error
}
