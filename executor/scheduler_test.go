package executor

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZacxDev/assetooni/fs/mock"
)

func TestScheduler_SeriesRunsInOrder(t *testing.T) {
	m := mock.NewMockFileSystem()
	r := NewRegistry()
	var order []string

	r.Register("a", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		order = append(order, "a")
		return m.WriteFile("dist/a.txt", []byte("from a"), 0644)
	})
	r.Register("b", func(context.Context) error {
		order = append(order, "b")
		data, err := m.ReadFile("dist/a.txt")
		if err != nil {
			return err
		}
		return m.WriteFile("dist/b.txt", append(data, " and b"...), 0644)
	})

	s := NewScheduler(r, nil)
	if err := s.Series("a", "b")(context.Background()); err != nil {
		t.Fatalf("Series failed: %v", err)
	}

	if !reflect.DeepEqual(order, []string{"a", "b"}) {
		t.Errorf("Expected [a b], got %v", order)
	}
	if got := m.Contents("dist/b.txt"); got != "from a and b" {
		t.Errorf("b did not observe a's write, got %q", got)
	}
}

func TestScheduler_SeriesStopsOnFailure(t *testing.T) {
	r := NewRegistry()
	ran := false
	r.Register("a", func(context.Context) error { return errors.New("boom") })
	r.Register("b", func(context.Context) error { ran = true; return nil })

	s := NewScheduler(r, nil)
	err := s.Series("a", "b")(context.Background())
	if err == nil {
		t.Fatal("Expected series to fail")
	}
	if ran {
		t.Error("b ran after a failed")
	}
	if got := s.Status().Snapshot()["a"].Status; got != StatusFailed {
		t.Errorf("Expected a to be Failed, got %s", got)
	}
	if got := s.Status().Snapshot()["b"].Status; got != StatusQueued {
		t.Errorf("Expected b to stay Queued, got %s", got)
	}
}

func TestScheduler_ParallelOverlapsAndWaitsAll(t *testing.T) {
	r := NewRegistry()
	var running, maxRunning int32
	var finished int32
	work := func(context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxRunning)
			if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&finished, 1)
		return nil
	}
	r.Register("a", work)
	r.Register("b", work)
	r.Register("c", work)

	s := NewScheduler(r, nil)
	if err := s.Parallel("a", "b", "c")(context.Background()); err != nil {
		t.Fatalf("Parallel failed: %v", err)
	}
	if finished != 3 {
		t.Errorf("Expected 3 finished tasks, got %d", finished)
	}
	if maxRunning < 2 {
		t.Errorf("Expected tasks to overlap, max concurrency was %d", maxRunning)
	}
}

func TestScheduler_ParallelAggregatesAllFailures(t *testing.T) {
	r := NewRegistry()
	var okRan int32
	r.Register("bad1", func(context.Context) error { return errors.New("first") })
	r.Register("ok", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&okRan, 1)
		return nil
	})
	r.Register("bad2", func(context.Context) error { return errors.New("second") })

	s := NewScheduler(r, nil)
	err := s.Parallel("bad1", "ok", "bad2")(context.Background())

	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("Expected AggregateError, got %v", err)
	}
	if len(agg.Errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(agg.Errors))
	}
	if atomic.LoadInt32(&okRan) != 1 {
		t.Error("Parallel returned before the successful task finished")
	}
}

func TestScheduler_ParallelDisjointOutputsAreDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		m := mock.NewMockFileSystem()
		r := NewRegistry()
		r.Register("css", func(context.Context) error {
			return m.WriteFile("dist/css/main.css", []byte("css"), 0644)
		})
		r.Register("js", func(context.Context) error {
			return m.WriteFile("dist/js/libs.min.js", []byte("js"), 0644)
		})

		if err := NewScheduler(r, nil).Parallel("css", "js")(context.Background()); err != nil {
			t.Fatalf("Parallel failed: %v", err)
		}

		want := []string{"dist/css/main.css", "dist/js/libs.min.js"}
		if got := m.Paths(); !reflect.DeepEqual(got, want) {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func TestScheduler_NestedComposites(t *testing.T) {
	r := NewRegistry()
	s := NewScheduler(r, nil)
	var mu sync.Mutex
	var order []string
	record := func(name string) TaskFunc {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	r.Register("clean", record("clean"))
	r.Register("styles", record("styles"))
	r.Register("scripts", record("scripts"))
	r.RegisterComposite("assets", []string{"styles", "scripts"}, s.Parallel("styles", "scripts"))
	r.RegisterComposite("build", []string{"clean", "assets"}, s.Series("clean", "assets"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := s.Run(context.Background(), "build"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 3 || order[0] != "clean" {
		t.Errorf("Expected clean first and 3 runs, got %v", order)
	}
}

func TestScheduler_RunUnknownTask(t *testing.T) {
	s := NewScheduler(NewRegistry(), nil)

	if err := s.Run(context.Background(), "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestScheduler_SameTaskNeverOverlaps(t *testing.T) {
	r := NewRegistry()
	var active, maxActive, runs int32
	r.Register("styles", func(context.Context) error {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		atomic.AddInt32(&runs, 1)
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	})
	s := NewScheduler(r, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Run(context.Background(), "styles"); err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}()
	}
	s.Trigger(context.Background(), "styles")
	wg.Wait()
	s.Wait()

	if runs != 4 {
		t.Errorf("Expected 4 runs, got %d", runs)
	}
	if maxActive != 1 {
		t.Errorf("Expected runs of one task to be serialized, saw %d at once", maxActive)
	}
}

func TestScheduler_RunWaitingForGateHonoursCancel(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	r.Register("slow", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	s := NewScheduler(r, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), "slow") }()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, "slow"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled while waiting, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("First run failed: %v", err)
	}
}
