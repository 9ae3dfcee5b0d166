// executor/dag_manager.go

package executor

import (
	"sort"

	"github.com/pkg/errors"
)

// DAGManager checks composite tasks before anything runs: every child must
// exist and no task may reach itself.
type DAGManager interface {
	AddNode(name string, dependencies []string)
	TopologicalSort() ([]string, error)
}

type dagManager struct {
	graph map[string][]string
}

func NewDAGManager() DAGManager {
	return &dagManager{
		graph: make(map[string][]string),
	}
}

func (dm *dagManager) AddNode(name string, dependencies []string) {
	dm.graph[name] = dependencies
}

// TopologicalSort returns dependencies before dependents. Roots are visited
// in name order so the result is stable.
func (dm *dagManager) TopologicalSort() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var order []string

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errors.Wrapf(ErrCycle, "%v -> %s", path, name)
		}
		if _, ok := dm.graph[name]; !ok {
			return errors.Wrapf(ErrTaskNotFound, "%q referenced by %v", name, path)
		}
		state[name] = visiting

		next := append(append([]string(nil), path...), name)
		for _, dep := range dm.graph[name] {
			if err := visit(dep, next); err != nil {
				return err
			}
		}

		state[name] = done
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(dm.graph))
	for name := range dm.graph {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}

	return order, nil
}
