package executor

import (
	"context"
	"sync"
	"time"

	"github.com/ZacxDev/assetooni/logger"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs registered tasks by name and composes them. At most one
// run of a given task is in flight at a time, whoever asked for it.
type Scheduler struct {
	registry  *Registry
	statusMgr StatusManager

	mu         sync.Mutex
	gates      map[string]chan struct{}
	coalescers map[string]*Coalescer
}

func NewScheduler(registry *Registry, statusMgr StatusManager) *Scheduler {
	if statusMgr == nil {
		statusMgr = NewStatusManager()
	}
	return &Scheduler{
		registry:   registry,
		statusMgr:  statusMgr,
		gates:      make(map[string]chan struct{}),
		coalescers: make(map[string]*Coalescer),
	}
}

func (s *Scheduler) Registry() *Registry { return s.registry }

func (s *Scheduler) Status() StatusManager { return s.statusMgr }

func (s *Scheduler) gate(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[name]
	if !ok {
		g = make(chan struct{}, 1)
		s.gates[name] = g
	}
	return g
}

// Run resolves name and runs it, tracking its status. A run of name that is
// already in flight finishes before this one starts.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	fn, err := s.registry.Resolve(name)
	if err != nil {
		return err
	}

	gate := s.gate(name)
	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-gate }()

	log := logger.FromContext(ctx).With("task", name)
	start := time.Now()
	s.statusMgr.UpdateStatus(name, StatusRunning, start, time.Time{})
	log.Debug("Starting")

	if err := fn(logger.ContextWithLogger(ctx, log)); err != nil {
		s.statusMgr.MarkAsFailed(name, err)
		log.Error("Failed", "after", time.Since(start).Round(time.Millisecond), "error", err)
		return errors.Wrapf(err, "task %s", name)
	}

	s.statusMgr.UpdateStatus(name, StatusCompleted, time.Time{}, time.Now())
	log.Info("Completed", "after", time.Since(start).Round(time.Millisecond))
	return nil
}

// Trigger asks for a background run of name. Triggers that arrive while a
// run is in flight fold into one pending re-run. Failures are logged.
func (s *Scheduler) Trigger(ctx context.Context, name string) bool {
	s.mu.Lock()
	c, ok := s.coalescers[name]
	if !ok {
		c = NewCoalescer(
			func(ctx context.Context) error { return s.Run(ctx, name) },
			func(err error) {
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.FromContext(ctx).Warn("Triggered run failed", "task", name, "error", err)
				}
			},
		)
		s.coalescers[name] = c
	}
	s.mu.Unlock()
	return c.Trigger(ctx)
}

// Wait blocks until every triggered run has finished.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	cs := make([]*Coalescer, 0, len(s.coalescers))
	for _, c := range s.coalescers {
		cs = append(cs, c)
	}
	s.mu.Unlock()
	for _, c := range cs {
		c.Wait()
	}
}

func (s *Scheduler) named(names []string) []TaskFunc {
	fns := make([]TaskFunc, len(names))
	for i, name := range names {
		fns[i] = func(ctx context.Context) error { return s.Run(ctx, name) }
	}
	return fns
}

// Series runs the named tasks one after another.
func (s *Scheduler) Series(names ...string) TaskFunc {
	for _, name := range names {
		s.statusMgr.SetStatus(name, StatusQueued)
	}
	return SeriesFuncs(s.named(names)...)
}

// Parallel runs the named tasks concurrently and waits for all of them.
func (s *Scheduler) Parallel(names ...string) TaskFunc {
	for _, name := range names {
		s.statusMgr.SetStatus(name, StatusQueued)
	}
	return ParallelFuncs(s.named(names)...)
}

// SeriesFuncs runs fns in order. Step i+1 starts only after step i returned
// nil; the first failure stops the series.
func SeriesFuncs(fns ...TaskFunc) TaskFunc {
	return func(ctx context.Context) error {
		for _, fn := range fns {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ParallelFuncs starts every fn at once and waits for all of them, even after
// a failure. Failures come back as one *AggregateError.
func ParallelFuncs(fns ...TaskFunc) TaskFunc {
	return func(ctx context.Context) error {
		errs := make([]error, len(fns))
		var g errgroup.Group
		for i, fn := range fns {
			g.Go(func() error {
				errs[i] = fn(ctx)
				return nil
			})
		}
		_ = g.Wait()

		var combined error
		for _, err := range errs {
			combined = multierr.Append(combined, err)
		}
		if combined == nil {
			return nil
		}
		return &AggregateError{Errors: multierr.Errors(combined)}
	}
}
