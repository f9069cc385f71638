package turn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codex-go/turnengine/internal/agent/streamreducer"
	"github.com/codex-go/turnengine/internal/agent/toolrouter"
)

func TestSchedulerRunsParallelCallsConcurrently(t *testing.T) {
	var mu sync.Mutex
	var inFlight, maxInFlight int

	dispatch := func(ctx context.Context, call toolrouter.ToolCall) (streamreducer.ToolResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return streamreducer.ToolResult{}, nil
	}

	s := NewScheduler(dispatch, func(string) bool { return true })
	ctx := context.Background()
	futures := make([]<-chan streamreducer.ToolResult, 3)
	for i := range futures {
		futures[i] = s.Schedule(ctx, toolrouter.ToolCall{ToolName: "websearch", CallID: "c"})
	}
	for _, f := range futures {
		<-f
	}

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight < 2 {
		t.Fatalf("expected parallel tools to overlap, max concurrent was %d", maxInFlight)
	}
}

func TestSchedulerPreservesArrivalOrderForNonParallelTools(t *testing.T) {
	var mu sync.Mutex
	var order []string

	dispatch := func(ctx context.Context, call toolrouter.ToolCall) (streamreducer.ToolResult, error) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, call.CallID)
		mu.Unlock()
		return streamreducer.ToolResult{}, nil
	}

	s := NewScheduler(dispatch, func(string) bool { return false })
	ctx := context.Background()
	f1 := s.Schedule(ctx, toolrouter.ToolCall{ToolName: "edit", CallID: "first"})
	f2 := s.Schedule(ctx, toolrouter.ToolCall{ToolName: "edit", CallID: "second"})
	f3 := s.Schedule(ctx, toolrouter.ToolCall{ToolName: "edit", CallID: "third"})
	<-f1
	<-f2
	<-f3

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestSchedulerCancelsChildContextOnParentCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel bool

	dispatch := func(ctx context.Context, call toolrouter.ToolCall) (streamreducer.ToolResult, error) {
		close(started)
		select {
		case <-ctx.Done():
			sawCancel = true
		case <-release:
		}
		return streamreducer.ToolResult{}, ctx.Err()
	}

	s := NewScheduler(dispatch, func(string) bool { return true })
	parent, cancel := context.WithCancel(context.Background())
	future := s.Schedule(parent, toolrouter.ToolCall{ToolName: "exec", CallID: "c"})

	<-started
	cancel()
	<-future
	close(release)

	if !sawCancel {
		t.Fatal("expected the child context to observe the parent's cancellation")
	}
}
