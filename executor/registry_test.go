package executor

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func noop(context.Context) error { return nil }

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("styles", noop); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	fn, err := r.Resolve("styles")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if fn == nil {
		t.Error("Resolve returned nil function")
	}
}

func TestRegistry_ResolveMissing(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Resolve("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	r.Register("styles", noop)

	if err := r.Register("styles", noop); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("Expected ErrDuplicateTask, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("scripts", noop)
	r.Register("clean", noop)
	r.Register("styles", noop)

	want := []string{"clean", "scripts", "styles"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	r.Register("clean", noop)
	r.RegisterComposite("build", []string{"clean", "styles"}, noop)

	if err := r.Validate(); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for unknown child, got %v", err)
	}

	r.Register("styles", noop)
	if err := r.Validate(); err != nil {
		t.Errorf("Expected valid graph, got %v", err)
	}

	r.RegisterComposite("loop", []string{"loop"}, noop)
	if err := r.Validate(); !errors.Is(err, ErrCycle) {
		t.Errorf("Expected ErrCycle, got %v", err)
	}
}
