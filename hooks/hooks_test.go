package hooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInvokeRunsHooksInPriorityOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	r.Register(StageRequestPreprocessing, Hook{Name: "b", Priority: 2, Run: func(ctx context.Context, d *MutableData) error {
		order = append(order, "b")
		return nil
	}})
	r.Register(StageRequestPreprocessing, Hook{Name: "a", Priority: 1, Run: func(ctx context.Context, d *MutableData) error {
		order = append(order, "a")
		return nil
	}})

	_, err := r.Invoke(context.Background(), StageRequestPreprocessing, NewMutableData())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected priority order [a b], got %+v", order)
	}
}

func TestInvokeStopsOnAbort(t *testing.T) {
	r := NewRegistry()
	ran := false
	r.Register(StageRequestPreprocessing, Hook{Name: "aborts", Priority: 1, Run: func(ctx context.Context, d *MutableData) error {
		d.Abort(errors.New("boom"))
		return nil
	}})
	r.Register(StageRequestPreprocessing, Hook{Name: "never", Priority: 2, Run: func(ctx context.Context, d *MutableData) error {
		ran = true
		return nil
	}})

	_, err := r.Invoke(context.Background(), StageRequestPreprocessing, NewMutableData())
	if err == nil {
		t.Fatal("expected abort error to propagate")
	}
	if ran {
		t.Fatal("expected hook after abort to not run")
	}
}

func TestInvokeValidationStageErrorIsFatal(t *testing.T) {
	r := NewRegistry()
	r.Register(StageResponseValidation, Hook{Name: "validator", Priority: 1, Run: func(ctx context.Context, d *MutableData) error {
		return errors.New("invalid response")
	}})
	_, err := r.Invoke(context.Background(), StageResponseValidation, NewMutableData())
	if err == nil {
		t.Fatal("expected RESPONSE_VALIDATION error to be fatal")
	}
}

func TestInvokeDebugHookErrorIsNonFatal(t *testing.T) {
	r := NewRegistry()
	r.Register(StageFinalization, Hook{Name: "debug", Priority: 1, Debug: true, Run: func(ctx context.Context, d *MutableData) error {
		return errors.New("debug-only failure")
	}})
	nonFatal, err := r.Invoke(context.Background(), StageFinalization, NewMutableData())
	if err != nil {
		t.Fatalf("expected debug hook error to not be fatal, got %v", err)
	}
	if len(nonFatal) != 1 {
		t.Fatalf("expected one non-fatal error recorded, got %d", len(nonFatal))
	}
}

func TestInvokeAppliesPerHookTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(StageFinalization, Hook{Name: "slow", Priority: 1, Critical: true, Timeout: 10 * time.Millisecond, Run: func(ctx context.Context, d *MutableData) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	_, err := r.Invoke(context.Background(), StageFinalization, NewMutableData())
	if err == nil {
		t.Fatal("expected timeout error to propagate")
	}
}
