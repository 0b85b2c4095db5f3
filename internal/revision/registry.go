package revision

import (
	"fmt"
	"sync"

	"github.com/dmitrijs2005/revisions/internal/records"
)

// OptionsProvider is implemented by values that carry their own descriptor.
// It takes precedence over the one registered for their type.
type OptionsProvider interface {
	RevisionOptions() Options
}

// Registry holds one Options per record type.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Options
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Options)}
}

// Register sets the descriptor of recordType after validating it.
func (r *Registry) Register(recordType string, opts Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("options of %q: %w", recordType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[recordType] = opts
	return nil
}

// Lookup returns the descriptor of recordType, or the defaults.
func (r *Registry) Lookup(recordType string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if opts, ok := r.byType[recordType]; ok {
		return opts
	}
	return NewOptions()
}

// Resolve picks the descriptor for v: its own when it is an OptionsProvider,
// otherwise the one registered for its type.
func (r *Registry) Resolve(v records.Versionable) (Options, error) {
	var opts Options
	if p, ok := v.(OptionsProvider); ok {
		opts = p.RevisionOptions()
	} else {
		opts = r.Lookup(v.RevisionRef().Type)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
