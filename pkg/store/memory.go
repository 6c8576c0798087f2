package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/echelonflow/echelon/pkg/graph"
	"github.com/echelonflow/echelon/pkg/models"
)

// MemoryTemplateRegistry keeps registered templates in a mutex-guarded map.
type MemoryTemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*models.WorkflowTemplate
}

// NewMemoryTemplateRegistry creates an empty template registry.
func NewMemoryTemplateRegistry() *MemoryTemplateRegistry {
	return &MemoryTemplateRegistry{
		templates: make(map[string]*models.WorkflowTemplate),
	}
}

// Register validates the template fields and its dependency graph, then
// stores it by id. Re-registering an id overwrites the previous template.
func (r *MemoryTemplateRegistry) Register(ctx context.Context, template *models.WorkflowTemplate) (string, error) {
	if err := template.Validate(); err != nil {
		return "", NewTemplateError("Register", template.ID, fmt.Errorf("%w: %w", ErrInvalidTemplate, err))
	}

	if err := graph.Validate(template.Tasks); err != nil {
		return "", NewTemplateError("Register", template.ID, fmt.Errorf("%w: %w", ErrInvalidTemplate, err))
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.templates[template.ID] = template

	return template.ID, nil
}

// Lookup returns the template registered under id.
func (r *MemoryTemplateRegistry) Lookup(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	template, ok := r.templates[id]
	if !ok {
		return nil, NewTemplateError("Lookup", id, ErrTemplateNotFound)
	}

	return template, nil
}

// List returns all registered templates ordered by id.
func (r *MemoryTemplateRegistry) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]*models.WorkflowTemplate, 0, len(r.templates))
	for _, template := range r.templates {
		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].ID < templates[j].ID
	})

	return templates, nil
}

// Delete removes the template registered under id.
func (r *MemoryTemplateRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[id]; !ok {
		return NewTemplateError("Delete", id, ErrTemplateNotFound)
	}

	delete(r.templates, id)

	return nil
}

// MemoryInstanceStore keeps workflow instances in a mutex-guarded map. The
// stored *WorkflowInstance is the live instance the engine mutates; readers
// that need a stable view take instance.Snapshot().
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]*models.WorkflowInstance
}

// NewMemoryInstanceStore creates an empty instance store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string]*models.WorkflowInstance),
	}
}

func (s *MemoryInstanceStore) Put(ctx context.Context, instance *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[instance.ID] = instance

	return nil
}

func (s *MemoryInstanceStore) Get(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	return instance, nil
}

func (s *MemoryInstanceStore) List(ctx context.Context) ([]*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := make([]*models.WorkflowInstance, 0, len(s.instances))
	for _, instance := range s.instances {
		instances = append(instances, instance)
	}

	return instances, nil
}

func (s *MemoryInstanceStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[id]; !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	delete(s.instances, id)

	return nil
}
