package turn

import (
	"context"

	"github.com/codex-go/turnengine/internal/agent/streamreducer"
	"github.com/codex-go/turnengine/pkg/protocol"
)

// Outcome summarizes one turn's pass through the reducer: whether another
// model round is needed, and the trailing assistant text if any.
type Outcome struct {
	NeedsFollowUp    bool
	LastAgentMessage *string
}

// Driver owns the reducer and the history it appends to for one turn.
type Driver struct {
	Reducer *streamreducer.Reducer
	History streamreducer.History
}

// RunTurn consumes items (completed stream items, in emission order),
// classifying each one and scheduling any tool calls via scheduler. Items
// are drained to completion before tool futures are awaited, so a slow
// tool never blocks the rest of the stream from being recorded.
//
// The returned context.CancelFunc must be deferred by the caller's parent
// turn context is expected to cancel this turn's child tree on turn
// completion or abort, since cancellation here is cooperative only.
func (d *Driver) RunTurn(ctx context.Context, items <-chan protocol.ResponseItem, scheduler streamreducer.ToolScheduler) (Outcome, error) {
	var outcome Outcome
	var pending []<-chan streamreducer.ToolResult

	for {
		select {
		case item, ok := <-items:
			if !ok {
				return d.drain(ctx, outcome, pending)
			}
			step, err := d.Reducer.HandleOutputItemDone(ctx, item, d.History, scheduler)
			if err != nil {
				return outcome, err
			}
			if step.ToolFuture != nil {
				pending = append(pending, step.ToolFuture)
			}
			if step.NeedsFollowUp {
				outcome.NeedsFollowUp = true
			}
			if step.LastAgentMessage != nil {
				outcome.LastAgentMessage = step.LastAgentMessage
			}
		case <-ctx.Done():
			return outcome, ctx.Err()
		}
	}
}

func (d *Driver) drain(ctx context.Context, outcome Outcome, pending []<-chan streamreducer.ToolResult) (Outcome, error) {
	for _, fut := range pending {
		select {
		case res := <-fut:
			if res.Err != nil {
				return outcome, res.Err
			}
			d.History.Append(res.Output)
		case <-ctx.Done():
			return outcome, ctx.Err()
		}
	}
	return outcome, nil
}
