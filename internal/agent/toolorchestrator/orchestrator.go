// Package toolorchestrator drives approval, sandbox selection, and the
// sandbox-denied retry for a single tool call. It is the only place that
// decides whether a human gets prompted and whether a failed sandboxed
// attempt gets a second, unsandboxed try.
package toolorchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codex-go/turnengine/internal/sandboxing"
)

var tracer = otel.Tracer("github.com/codex-go/turnengine/internal/agent/toolorchestrator")

// SandboxOverride lets a tool force its first attempt to skip the platform
// sandbox entirely (e.g. a read-only status check that never writes).
type SandboxOverride int

const (
	NoOverride SandboxOverride = iota
	BypassSandboxFirstAttempt
)

// SandboxAttempt is what a ToolRuntime needs to actually run a call once
// the orchestrator has picked a sandbox.
type SandboxAttempt struct {
	Sandbox sandboxing.Type
	Policy  sandboxing.Policy
	CWD     string
}

// ApprovalCtx is passed to the Approver for one prompt.
type ApprovalCtx struct {
	ToolName    string
	CallID      string
	RetryReason string // empty on the initial prompt
}

// Approver suspends the turn to ask a human (or an automated policy
// surrogate) for a decision. Implementations are expected to block on a
// channel or similar message-pass rather than raise an exception, so the
// turn's cancellation token can still interrupt the wait.
type Approver interface {
	RequestApproval(ctx context.Context, actx ApprovalCtx) ReviewDecision
}

// Telemetry receives orchestrator decisions. A nil Telemetry is valid;
// Run skips emitting when it is nil.
type Telemetry interface {
	ToolDecision(toolName, callID string, decision ReviewDecision, source DecisionSource)
	ToolFailed(toolName, message string)
}

// RejectedError means the call never ran because approval was denied or
// the tool forbade it outright.
type RejectedError struct{ Reason string }

func (e *RejectedError) Error() string { return e.Reason }

// SandboxDeniedError wraps a tool's own denial output when no retry is
// available (escalation disallowed, policy forbids unsandboxed retry, or
// the retry approval prompt was itself denied).
type SandboxDeniedError struct {
	Output any
}

func (e *SandboxDeniedError) Error() string { return "sandbox denied" }

// ToolRuntime is the contract a tool implements to run under the
// orchestrator. Rq is the tool's request type, Out its result type.
type ToolRuntime[Rq any, Out any] interface {
	// ExecApprovalRequirement lets a tool override the policy default for
	// a specific call. Return nil to fall back to
	// DefaultExecApprovalRequirement.
	ExecApprovalRequirement(req Rq) *Requirement
	SandboxModeForFirstAttempt(req Rq) SandboxOverride
	SandboxPreference() sandboxing.Type
	EscalateOnFailure() bool
	WantsNoSandboxApproval(policy AskForApproval) bool
	ShouldBypassApproval(policy AskForApproval, alreadyApproved bool) bool
	Run(ctx context.Context, req Rq, attempt SandboxAttempt) (Out, error)
}

// Orchestrator owns the sandbox manager shared across calls in a turn.
type Orchestrator struct {
	Sandbox *sandboxing.Manager
	Cache   *ApprovalCache
}

// NewOrchestrator builds an Orchestrator with a fresh sandbox manager and
// approval cache.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{Sandbox: sandboxing.NewManager(), Cache: NewApprovalCache()}
}

// CacheKey is the default ApprovalCache key: tool name plus the original
// approval reason. Callers with a more specific notion of "the same
// command again" may compute their own key instead.
func CacheKey(toolName, reason string) string {
	return toolName + "\x00" + reason
}

// Run executes one tool call through approval, sandbox selection, and (on
// sandbox denial) a single unsandboxed retry.
func Run[Rq any, Out any](
	ctx context.Context,
	o *Orchestrator,
	tool ToolRuntime[Rq, Out],
	req Rq,
	toolName, callID string,
	approver Approver,
	telemetry Telemetry,
	approvalPolicy AskForApproval,
	sandboxPolicy sandboxing.Policy,
	cwd string,
) (Out, error) {
	var zero Out

	ctx, span := tracer.Start(ctx, "toolorchestrator.Run",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("tool.call_id", callID),
		))
	defer span.End()

	alreadyApproved := false

	requirement := tool.ExecApprovalRequirement(req)
	var req0 Requirement
	if requirement != nil {
		req0 = *requirement
	} else {
		req0 = DefaultExecApprovalRequirement(approvalPolicy, sandboxPolicy.AllowsUnsandboxedRetry())
	}

	switch req0.Kind {
	case RequirementSkip:
		emitDecision(telemetry, toolName, callID, Approved, SourceConfig)

	case RequirementForbidden:
		span.SetStatus(codes.Error, req0.Reason)
		return zero, &RejectedError{Reason: req0.Reason}

	case RequirementNeedsApproval:
		decision := Approved
		cacheKey := CacheKey(toolName, req0.Reason)
		if cached, ok := o.Cache.Lookup(cacheKey); ok && cached.IsApproved() {
			decision = cached
		} else {
			decision = approver.RequestApproval(ctx, ApprovalCtx{ToolName: toolName, CallID: callID})
			emitDecision(telemetry, toolName, callID, decision, SourceUser)
			if decision == ApprovedForSession {
				o.Cache.Remember(cacheKey, decision, 0)
			}
		}

		if decision == Denied || decision == Abort {
			return zero, &RejectedError{Reason: "rejected by user"}
		}
		alreadyApproved = true
	}

	initialSandbox := o.Sandbox.SelectInitial(sandboxPolicy, tool.SandboxPreference())
	if tool.SandboxModeForFirstAttempt(req) == BypassSandboxFirstAttempt {
		initialSandbox = sandboxing.None
	}

	initialAttempt := SandboxAttempt{Sandbox: initialSandbox, Policy: sandboxPolicy, CWD: cwd}
	span.SetAttributes(attribute.String("tool.sandbox", string(initialSandbox)))

	out, err := tool.Run(ctx, req, initialAttempt)
	if err == nil {
		return out, nil
	}

	var denied *SandboxDeniedError
	if !errors.As(err, &denied) {
		if telemetry != nil {
			telemetry.ToolFailed(toolName, err.Error())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	if !tool.EscalateOnFailure() {
		span.SetStatus(codes.Error, denied.Error())
		return zero, denied
	}
	if !tool.WantsNoSandboxApproval(approvalPolicy) {
		span.SetStatus(codes.Error, denied.Error())
		return zero, denied
	}

	if !tool.ShouldBypassApproval(approvalPolicy, alreadyApproved) {
		decision := approver.RequestApproval(ctx, ApprovalCtx{
			ToolName:    toolName,
			CallID:      callID,
			RetryReason: "command failed; retry without sandbox?",
		})
		emitDecision(telemetry, toolName, callID, decision, SourceUser)

		if decision == Denied || decision == Abort {
			return zero, &RejectedError{Reason: "rejected by user"}
		}
	}

	escalatedAttempt := SandboxAttempt{Sandbox: sandboxing.None, Policy: sandboxPolicy, CWD: cwd}
	span.SetAttributes(attribute.Bool("tool.escalated_retry", true))
	out, err = tool.Run(ctx, req, escalatedAttempt)
	if err != nil {
		if telemetry != nil {
			telemetry.ToolFailed(toolName, err.Error())
		}
		err = fmt.Errorf("retry without sandbox: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	return out, nil
}

func emitDecision(t Telemetry, toolName, callID string, decision ReviewDecision, source DecisionSource) {
	if t == nil {
		return
	}
	t.ToolDecision(toolName, callID, decision, source)
}
