// Package turn drives one turn: consuming completed stream items, handing
// them to the stream reducer, and scheduling tool calls as sibling tasks
// under a turn-scoped cancellation tree.
package turn

import (
	"context"
	"sync"

	"github.com/codex-go/turnengine/internal/agent/streamreducer"
	"github.com/codex-go/turnengine/internal/agent/toolrouter"
)

// Scheduler runs tool calls as sibling tasks: calls whose tool supports
// parallel execution start immediately; calls that don't wait for the
// previous non-parallel call to finish, preserving arrival order between
// them. Every call gets its own child of the turn's cancellation context,
// so cancelling the turn interrupts any tool still running without
// touching calls that already completed and were recorded to history.
type Scheduler struct {
	dispatch         func(ctx context.Context, call toolrouter.ToolCall) (streamreducer.ToolResult, error)
	supportsParallel func(toolName string) bool

	mu   sync.Mutex
	tail <-chan struct{}
}

// NewScheduler builds a Scheduler. dispatch runs one tool call to
// completion (wrapping approval/sandbox/retry); supportsParallel reports
// whether a tool name may run concurrently with its siblings.
func NewScheduler(
	dispatch func(ctx context.Context, call toolrouter.ToolCall) (streamreducer.ToolResult, error),
	supportsParallel func(toolName string) bool,
) *Scheduler {
	done := make(chan struct{})
	close(done)
	return &Scheduler{dispatch: dispatch, supportsParallel: supportsParallel, tail: done}
}

// Schedule implements streamreducer.ToolScheduler.
func (s *Scheduler) Schedule(ctx context.Context, call toolrouter.ToolCall) <-chan streamreducer.ToolResult {
	out := make(chan streamreducer.ToolResult, 1)
	childCtx, cancel := context.WithCancel(ctx)

	if s.supportsParallel(call.ToolName) {
		go func() {
			defer cancel()
			result, err := s.dispatch(childCtx, call)
			if err != nil {
				result.Err = err
			}
			out <- result
			close(out)
		}()
		return out
	}

	s.mu.Lock()
	waitOn := s.tail
	myDone := make(chan struct{})
	s.tail = myDone
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer close(myDone)
		select {
		case <-waitOn:
		case <-ctx.Done():
			out <- streamreducer.ToolResult{Err: ctx.Err()}
			close(out)
			return
		}
		result, err := s.dispatch(childCtx, call)
		if err != nil {
			result.Err = err
		}
		out <- result
		close(out)
	}()
	return out
}
