// Package streamreducer is the per-turn driver: for each item the model
// stream reports as done, it classifies the item, appends it to history,
// and — for tool calls — schedules the tool execution future. The append
// always happens before the future is scheduled, so history and any
// persisted transcript stay consistent even if the turn is cancelled while
// the tool is still running.
package streamreducer

import (
	"context"
	"errors"

	"github.com/codex-go/turnengine/internal/agent/toolrouter"
	"github.com/codex-go/turnengine/pkg/protocol"
)

// History is the append-only conversation log the reducer writes to.
type History interface {
	Append(item protocol.ResponseItem)
}

// ToolResult is what a scheduled tool future eventually resolves to.
type ToolResult struct {
	Output protocol.ResponseItem
	Err    error
}

// ToolScheduler runs a classified tool call as a sibling task and returns a
// channel that receives exactly one ToolResult.
type ToolScheduler interface {
	Schedule(ctx context.Context, call toolrouter.ToolCall) <-chan ToolResult
}

// StepResult is what HandleOutputItemDone reports about one stream item.
type StepResult struct {
	// NeedsFollowUp means the turn is not done yet: either a tool is
	// running, or a synthetic response was appended that the model still
	// needs to see.
	NeedsFollowUp bool
	// LastAgentMessage is the trailing assistant output text, when item
	// was an assistant Message.
	LastAgentMessage *string
	// ToolFuture is non-nil when item classified as a tool call.
	ToolFuture <-chan ToolResult
}

// Reducer holds what HandleOutputItemDone needs to classify a stream item.
type Reducer struct {
	Router      *toolrouter.Router
	MCPResolver toolrouter.MCPResolver
}

// HandleOutputItemDone classifies one completed stream item against the
// six cases: tool call, missing-call-id guardrail, recoverable
// respond-to-model error, fatal error, assistant message, and everything
// else (recorded but otherwise inert).
func (r *Reducer) HandleOutputItemDone(ctx context.Context, item protocol.ResponseItem, history History, scheduler ToolScheduler) (StepResult, error) {
	call, err := toolrouter.BuildToolCall(item, r.MCPResolver)

	switch {
	case errors.Is(err, toolrouter.ErrMissingLocalShellCallID):
		history.Append(item)
		const msg = "LocalShellCall without call_id or id"
		success := false
		history.Append(protocol.NewFunctionCallOutput("", protocol.FunctionCallOutputPayload{
			Content: msg,
			Success: &success,
		}))
		return StepResult{NeedsFollowUp: true}, nil

	case err != nil:
		var callErr *toolrouter.CallError
		if errors.As(err, &callErr) {
			if callErr.Fatal {
				return StepResult{}, err
			}
			history.Append(item)
			success := false
			history.Append(protocol.NewFunctionCallOutput("", protocol.FunctionCallOutputPayload{
				Content: callErr.Message,
				Success: &success,
			}))
			return StepResult{NeedsFollowUp: true}, nil
		}
		return StepResult{}, err
	}

	if call != nil {
		// History append happens-before future scheduling: a reader of
		// history can never observe a tool future running for a call_id
		// it hasn't seen recorded yet.
		history.Append(item)
		future := scheduler.Schedule(ctx, *call)
		return StepResult{NeedsFollowUp: true, ToolFuture: future}, nil
	}

	lastAgentMessage := lastAssistantMessageFromItem(item)
	history.Append(item)
	return StepResult{LastAgentMessage: lastAgentMessage}, nil
}

// lastAssistantMessageFromItem returns the trailing OutputText of an
// assistant Message, or nil for anything else.
func lastAssistantMessageFromItem(item protocol.ResponseItem) *string {
	if item.Kind != protocol.ItemMessage || item.Role != protocol.RoleAssistant {
		return nil
	}
	for i := len(item.Content) - 1; i >= 0; i-- {
		if item.Content[i].Kind == protocol.ContentOutputText {
			text := item.Content[i].Text
			return &text
		}
	}
	return nil
}
