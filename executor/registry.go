package executor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// TaskFunc performs a task and returns once it is complete.
type TaskFunc func(ctx context.Context) error

// Registry maps unique task names to their functions.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]TaskFunc
	children map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:    make(map[string]TaskFunc),
		children: make(map[string][]string),
	}
}

// Register stores fn under name. A name can only be registered once.
func (r *Registry) Register(name string, fn TaskFunc) error {
	return r.RegisterComposite(name, nil, fn)
}

// RegisterComposite registers a task that runs the named children, so
// Validate can check the references.
func (r *Registry) RegisterComposite(name string, children []string, fn TaskFunc) error {
	if name == "" {
		return errors.New("task name must not be empty")
	}
	if fn == nil {
		return errors.Errorf("task %s has no function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return errors.Wrapf(ErrDuplicateTask, "%q", name)
	}
	r.tasks[name] = fn
	r.children[name] = slices.Clone(children)
	return nil
}

func (r *Registry) Resolve(name string) (TaskFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	if !ok {
		return nil, errors.Wrapf(ErrTaskNotFound, "%q", name)
	}
	return fn, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks every composite reference and rejects cycles.
func (r *Registry) Validate() error {
	r.mu.RLock()
	dag := NewDAGManager()
	for name := range r.tasks {
		dag.AddNode(name, r.children[name])
	}
	r.mu.RUnlock()

	_, err := dag.TopologicalSort()
	return err
}
