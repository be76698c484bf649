package activity

import (
	"sort"
	"sync"

	"github.com/strandhq/strand/pkg/schema"
)

// Registry is a thread-safe activity lookup table.
type Registry struct {
	mu         sync.RWMutex
	activities map[string]Activity
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		activities: make(map[string]Activity),
	}
}

// Register adds an activity to the registry. Duplicate names are an error.
func (r *Registry) Register(a Activity) error {
	if a == nil {
		return schema.NewError(schema.ErrCodeValidation, "activity is nil")
	}
	name := a.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "activity name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "activity %q already registered", name)
	}
	r.activities[name] = a
	return nil
}

// Get retrieves an activity by name. Unknown names are a configuration
// error, which the engine treats as non-retryable.
func (r *Registry) Get(name string) (Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.activities[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "activity %q not registered", name)
	}
	return a, nil
}

// Has checks if an activity is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.activities[name]
	return ok
}

// List returns info for all registered activities, sorted by name.
func (r *Registry) List() []ActivityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActivityInfo, 0, len(r.activities))
	for _, a := range r.activities {
		infos = append(infos, ActivityInfo{
			Name:        a.Name(),
			Description: a.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
