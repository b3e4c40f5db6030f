package engine

import (
	"sync"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
)

// DefinitionRegistry holds workflow templates by definition id. Templates are
// supplied as data at registration time.
type DefinitionRegistry struct {
	mu   sync.RWMutex
	defs map[string]*domain.WorkflowDefinition
}

func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{defs: make(map[string]*domain.WorkflowDefinition)}
}

func (r *DefinitionRegistry) Register(def *domain.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.DefinitionID] = def
	return nil
}

func (r *DefinitionRegistry) Get(definitionID string) (*domain.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[definitionID]
	return def, ok
}

func (r *DefinitionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	return out
}
