// Package toolrouter classifies ResponseItems into typed ToolCalls and
// dispatches them to registered handlers.
package toolrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codex-go/turnengine/pkg/protocol"
)

// PayloadKind discriminates a ToolCall's payload.
type PayloadKind string

const (
	PayloadFunction   PayloadKind = "function"
	PayloadCustom     PayloadKind = "custom"
	PayloadLocalShell PayloadKind = "local_shell"
	PayloadMcp        PayloadKind = "mcp"
)

// ShellParams is the normalized argument set for a local_shell tool call.
type ShellParams struct {
	Command            []string
	WorkDir            *string
	TimeoutMs          *int64
	SandboxPermissions string
	Justification      *string
}

// Payload carries the variant-specific fields of a ToolCall.
type Payload struct {
	Kind PayloadKind

	// Function
	Arguments string

	// Custom
	Input json.RawMessage

	// LocalShell
	Shell ShellParams

	// Mcp
	Server       string
	Tool         string
	RawArguments string
}

// ToolCall is the classified, dispatch-ready form of a FunctionCall,
// CustomToolCall, or LocalShellCall item.
type ToolCall struct {
	ToolName string
	CallID   string
	Payload  Payload
}

// ErrMissingLocalShellCallID is returned by BuildToolCall when a
// LocalShellCall item carries neither an id nor a call_id.
var ErrMissingLocalShellCallID = errors.New("missing local shell call id")

// CallError distinguishes turn-ending failures from failures that should be
// reported back to the model as a tool output so the turn can continue.
type CallError struct {
	Fatal   bool
	Message string
}

func (e *CallError) Error() string { return e.Message }

// FatalError marks err (or a new error wrapping msg) as turn-ending.
func FatalError(msg string) *CallError { return &CallError{Fatal: true, Message: msg} }

// RecoverableError marks a failure that becomes a successful tool output.
func RecoverableError(msg string) *CallError { return &CallError{Fatal: false, Message: msg} }

// MCPResolver resolves a flat tool name into an MCP server/tool pair, the
// way session.parse_mcp_tool_name does for names registered from MCP
// server tool lists.
type MCPResolver func(name string) (server, tool string, ok bool)

// BuildToolCall classifies a ResponseItem into a ToolCall. Items that are
// not FunctionCall, CustomToolCall, or LocalShellCall yield (nil, nil) —
// they are not tool calls at all, not errors.
func BuildToolCall(item protocol.ResponseItem, resolveMCP MCPResolver) (*ToolCall, error) {
	switch item.Kind {
	case protocol.ItemFunctionCall:
		if resolveMCP != nil {
			if server, tool, ok := resolveMCP(item.Name); ok {
				return &ToolCall{
					ToolName: item.Name,
					CallID:   item.CallID,
					Payload: Payload{
						Kind:         PayloadMcp,
						Server:       server,
						Tool:         tool,
						RawArguments: item.Arguments,
					},
				}, nil
			}
		}
		return &ToolCall{
			ToolName: item.Name,
			CallID:   item.CallID,
			Payload:  Payload{Kind: PayloadFunction, Arguments: item.Arguments},
		}, nil

	case protocol.ItemCustomToolCall:
		return &ToolCall{
			ToolName: item.Name,
			CallID:   item.CallID,
			Payload:  Payload{Kind: PayloadCustom, Input: item.CustomInput},
		}, nil

	case protocol.ItemLocalShellCall:
		callID := item.CallID
		if callID == "" {
			callID = item.ID
		}
		if callID == "" {
			return nil, ErrMissingLocalShellCallID
		}
		return &ToolCall{
			ToolName: "local_shell",
			CallID:   callID,
			Payload: Payload{
				Kind: PayloadLocalShell,
				Shell: ShellParams{
					Command:            item.ShellAction.Command,
					WorkDir:            item.ShellAction.WorkingDirectory,
					TimeoutMs:          item.ShellAction.TimeoutMs,
					SandboxPermissions: "use_default",
				},
			},
		}, nil

	default:
		return nil, nil
	}
}

// Handler executes one dispatched tool call and returns its output.
type Handler interface {
	Handle(ctx context.Context, call ToolCall) (protocol.ResponseItem, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call ToolCall) (protocol.ResponseItem, error)

func (f HandlerFunc) Handle(ctx context.Context, call ToolCall) (protocol.ResponseItem, error) {
	return f(ctx, call)
}

// Spec describes one registered tool for inclusion in the outbound wire
// request and for parallelism lookups.
type Spec struct {
	Name                      string
	Description               string
	ParametersSchema          json.RawMessage
	SupportsParallelToolCalls bool
}

// Router owns the tool registry: specs advertised to the model plus the
// handler each tool name dispatches to.
type Router struct {
	specs      []Spec
	handlers   map[string]Handler
	mcpHandler Handler // used when Payload.Kind == PayloadMcp and no exact name match exists
	schemas    map[string]*jsonschema.Schema
}

// NewRouter builds a Router from its specs and per-tool handlers. Each
// spec's ParametersSchema, if present, is compiled once up front so
// per-call argument validation never pays compilation cost; a spec with an
// unparseable schema is skipped and that tool's arguments go unvalidated.
func NewRouter(specs []Spec, handlers map[string]Handler, mcpHandler Handler) *Router {
	r := &Router{specs: specs, handlers: handlers, mcpHandler: mcpHandler, schemas: map[string]*jsonschema.Schema{}}
	for _, s := range specs {
		if len(s.ParametersSchema) == 0 {
			continue
		}
		compiler := jsonschema.NewCompiler()
		name := s.Name + ".json"
		if err := compiler.AddResource(name, bytes.NewReader(s.ParametersSchema)); err != nil {
			continue
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			continue
		}
		r.schemas[s.Name] = schema
	}
	return r
}

// ValidateArguments checks call's JSON arguments against the registered
// tool's parameter schema, if one was compiled. Tools with no schema, or
// payload kinds that carry no JSON arguments, always pass.
func (r *Router) ValidateArguments(call ToolCall) error {
	schema, ok := r.schemas[call.ToolName]
	if !ok {
		return nil
	}

	var raw json.RawMessage
	switch call.Payload.Kind {
	case PayloadFunction:
		raw = json.RawMessage(call.Payload.Arguments)
	case PayloadCustom:
		raw = call.Payload.Input
	default:
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("arguments for %q are not valid JSON: %w", call.ToolName, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("arguments for %q failed schema validation: %w", call.ToolName, err)
	}
	return nil
}

// Specs returns the tool specs to advertise on the outbound request.
func (r *Router) Specs() []Spec {
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// SupportsParallel reports whether toolName may run concurrently with
// sibling tool calls in the same turn.
func (r *Router) SupportsParallel(toolName string) bool {
	for _, s := range r.specs {
		if s.Name == toolName {
			return s.SupportsParallelToolCalls
		}
	}
	return false
}

func (r *Router) handlerFor(call ToolCall) (Handler, bool) {
	if call.Payload.Kind == PayloadMcp && r.mcpHandler != nil {
		return r.mcpHandler, true
	}
	h, ok := r.handlers[call.ToolName]
	return h, ok
}

// DispatchToolCall runs call's handler. A Fatal CallError propagates and
// should abort the turn; any other error (including a non-CallError from a
// handler that didn't opt in to the distinction) is folded into a
// successful tool output with success=false, so the conversation continues.
func (r *Router) DispatchToolCall(ctx context.Context, call ToolCall) (protocol.ResponseItem, error) {
	handler, ok := r.handlerFor(call)
	if !ok {
		return failureResponse(call, fmt.Sprintf("no handler registered for tool %q", call.ToolName)), nil
	}

	if err := r.ValidateArguments(call); err != nil {
		return failureResponse(call, err.Error()), nil
	}

	out, err := handler.Handle(ctx, call)
	if err == nil {
		return out, nil
	}

	var callErr *CallError
	if errors.As(err, &callErr) && callErr.Fatal {
		return protocol.ResponseItem{}, err
	}

	return failureResponse(call, err.Error()), nil
}

func failureResponse(call ToolCall, message string) protocol.ResponseItem {
	if call.Payload.Kind == PayloadCustom {
		return protocol.NewCustomToolCallOutput(call.CallID, message)
	}
	success := false
	return protocol.NewFunctionCallOutput(call.CallID, protocol.FunctionCallOutputPayload{
		Content: message,
		Success: &success,
	})
}
