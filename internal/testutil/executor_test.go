package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMockExecutor_RecordsCalls(t *testing.T) {
	mock := NewMockExecutor([]byte("output"), nil)
	ctx := context.Background()

	_, _ = mock.Run(ctx, "sf", "org", "display", "--json")
	_, _ = mock.Run(ctx, "gh", "auth", "status")

	if mock.CallCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.CallCount())
	}
	calls := mock.RecordedCalls
	if calls[0].Name != "sf" || len(calls[0].Args) != 3 || calls[0].Args[2] != "--json" {
		t.Fatalf("first call = %+v", calls[0])
	}
	if !mock.WasCalledWith("gh", "auth", "status") {
		t.Fatalf("expected gh auth status to be recorded")
	}
	if mock.WasCalledWith("gh", "auth") {
		t.Fatalf("partial args must not match")
	}
}

func TestMockExecutor_ReturnsConfigured(t *testing.T) {
	mock := NewMockExecutor([]byte("mock output"), nil)
	out, err := mock.Run(context.Background(), "any")
	if err != nil || string(out) != "mock output" {
		t.Fatalf("Run = %q, %v", out, err)
	}

	wantErr := errors.New("mock error")
	mock = NewMockExecutor(nil, wantErr)
	if _, err := mock.Run(context.Background(), "any"); !errors.Is(err, wantErr) {
		t.Fatalf("Run error = %v, want %v", err, wantErr)
	}
}

func TestMockExecutor_HonoursCancelledContext(t *testing.T) {
	mock := NewMockExecutor([]byte("late"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mock.Run(ctx, "git", "remote"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("cancelled call should still be recorded")
	}
}

func TestMockExecutor_OutputFunc(t *testing.T) {
	mock := NewMockExecutorFunc(func(ctx context.Context, name string, args []string) ([]byte, error) {
		if name == "git" {
			return []byte("origin\n"), nil
		}
		return nil, errors.New("unknown")
	})
	if out, err := mock.Run(context.Background(), "git", "remote"); err != nil || string(out) != "origin\n" {
		t.Fatalf("git = %q, %v", out, err)
	}
	if _, err := mock.Run(context.Background(), "hg"); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestBlockingExecutor(t *testing.T) {
	mock := NewBlockingExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := mock.Run(ctx, "supabase", "status"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}
}

func TestMockExecutor_LastCallAndReset(t *testing.T) {
	mock := NewMockExecutor(nil, nil)
	if mock.LastCall() != nil {
		t.Fatalf("expected nil LastCall before any call")
	}
	_, _ = mock.Run(context.Background(), "first")
	_, _ = mock.Run(context.Background(), "second", "arg")
	last := mock.LastCall()
	if last == nil || last.Name != "second" {
		t.Fatalf("LastCall = %+v", last)
	}
	mock.Reset()
	if mock.WasCalled() {
		t.Fatalf("expected no calls after Reset")
	}
}

func TestCommandSequenceMock(t *testing.T) {
	mock := NewCommandSequenceMock(
		SequenceStep{Output: []byte("one")},
		SequenceStep{Error: errors.New("two failed")},
	)
	ctx := context.Background()

	if out, err := mock.Run(ctx, "x"); err != nil || string(out) != "one" {
		t.Fatalf("step 1 = %q, %v", out, err)
	}
	if _, err := mock.Run(ctx, "x"); err == nil {
		t.Fatalf("step 2 should fail")
	}
	if _, err := mock.Run(ctx, "x"); err == nil {
		t.Fatalf("exhausted sequence should fail")
	}
	if mock.Calls() != 2 {
		t.Fatalf("Calls = %d, want 2", mock.Calls())
	}
	mock.Reset()
	if out, _ := mock.Run(ctx, "x"); string(out) != "one" {
		t.Fatalf("after Reset got %q", out)
	}
}

func TestMockExecutor_ThreadSafety(t *testing.T) {
	mock := NewMockExecutor([]byte("ok"), nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Run(context.Background(), "cmd")
		}()
	}
	wg.Wait()
	if mock.CallCount() != 50 {
		t.Fatalf("expected 50 calls, got %d", mock.CallCount())
	}
}
