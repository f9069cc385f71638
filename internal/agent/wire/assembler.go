// Package wire assembles conversation history into the JSON body and
// headers sent to a Chat Completions style endpoint. Assemble is a pure
// function: same input always produces the same body, with no I/O and no
// mutation of the input slice.
package wire

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/codex-go/turnengine/pkg/protocol"
)

// SubAgentKind names a sub-agent flavor carried on SessionSource. Mirrors
// the handful of sub-agent roles the runtime can be invoked as.
type SubAgentKind string

const (
	SubAgentReview  SubAgentKind = "review"
	SubAgentCompact SubAgentKind = "compact"
	SubAgentExplore SubAgentKind = "explore"
)

// SessionSource identifies what kind of client started the turn. Only
// SubAgent sources add a wire header; Cli/Exec/Mcp add none.
type SessionSource struct {
	Kind     string // "cli", "exec", "mcp", "sub_agent"
	SubAgent SubAgentKind
}

func subagentHeaderValue(s *SessionSource) (string, bool) {
	if s == nil || s.Kind != "sub_agent" {
		return "", false
	}
	return string(s.SubAgent), true
}

// Request is the input to Assemble.
type Request struct {
	Model            string
	Instructions     string
	Input            []protocol.ResponseItem
	Tools            []openai.Tool
	ReasoningContent *string
	ConversationID   *string
	SessionSource    *SessionSource
}

// Result is the assembled request body and the headers to send alongside it.
type Result struct {
	Body    map[string]any
	Headers http.Header
}

// BadRequestError signals the assembled message sequence would be rejected
// by the wire: an assistant message with tool_calls whose call_ids are not
// all covered by subsequent tool messages before the next non-tool message.
type BadRequestError struct {
	CallID string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("missing tool message for tool_call_id: %s. An assistant message with 'tool_calls' must be followed by tool messages responding to each 'tool_call_id'.", e.CallID)
}

// Assemble builds the wire body and headers for one turn's history.
func Assemble(req Request) (*Result, error) {
	messages := make([]map[string]any, 0, len(req.Input)+1)
	messages = append(messages, map[string]any{"role": "system", "content": req.Instructions})

	input := req.Input
	reasoningByAnchor := make(map[int]string)

	var lastEmittedRole string
	for _, item := range input {
		switch item.Kind {
		case protocol.ItemMessage:
			lastEmittedRole = item.Role
		case protocol.ItemFunctionCall, protocol.ItemLocalShellCall:
			lastEmittedRole = protocol.RoleAssistant
		case protocol.ItemFunctionCallOutput:
			lastEmittedRole = protocol.RoleTool
		}
	}

	lastUserIndex := -1
	for idx, item := range input {
		if item.Kind == protocol.ItemMessage && item.Role == protocol.RoleUser {
			lastUserIndex = idx
		}
	}

	if lastEmittedRole != protocol.RoleUser {
		for idx, item := range input {
			if lastUserIndex >= 0 && idx <= lastUserIndex {
				continue
			}
			if item.Kind != protocol.ItemReasoning {
				continue
			}
			text := protocol.ConcatReasoning(item.ReasoningItems)
			if strings.TrimSpace(text) == "" {
				continue
			}

			attached := false
			if idx > 0 {
				prev := input[idx-1]
				if prev.Kind == protocol.ItemMessage && prev.Role == protocol.RoleAssistant {
					reasoningByAnchor[idx-1] += text
					attached = true
				}
			}
			if !attached && idx+1 < len(input) {
				next := input[idx+1]
				switch {
				case next.Kind == protocol.ItemFunctionCall || next.Kind == protocol.ItemLocalShellCall:
					reasoningByAnchor[idx+1] += text
				case next.Kind == protocol.ItemMessage && next.Role == protocol.RoleAssistant:
					reasoningByAnchor[idx+1] += text
				}
			}
		}
	}

	var lastAssistantText *string
	pendingToolCallIDs := make(map[string]struct{})
	haveIncompleteAssistant := false

	for idx, item := range input {
		switch item.Kind {
		case protocol.ItemMessage:
			role := item.Role
			if role == protocol.RoleDeveloper {
				role = protocol.RoleUser
			}

			if role == protocol.RoleTool {
				if item.ID != "" {
					messages = append(messages, map[string]any{
						"role":         "tool",
						"tool_call_id": item.ID,
						"content":      protocol.TextContent(item.Content),
					})
				}
				continue
			}

			if role == protocol.RoleAssistant && len(item.ToolCalls) > 0 {
				// A transcript replay with tool_calls already attached and
				// validated; emit it verbatim rather than routing it through
				// the dedup/reasoning-anchor logic below, which only applies
				// to freshly produced assistant text.
				reasoning := ""
				if req.ReasoningContent != nil {
					reasoning = *req.ReasoningContent
				}
				calls := make([]any, 0, len(item.ToolCalls))
				for _, tc := range item.ToolCalls {
					calls = append(calls, map[string]any{
						"id":   tc.ID,
						"type": "function",
						"function": map[string]any{
							"name":      tc.Name,
							"arguments": tc.Arguments,
						},
					})
				}
				messages = append(messages, map[string]any{
					"role":              "assistant",
					"content":           protocol.TextContent(item.Content),
					"reasoning_content": reasoning,
					"tool_calls":        calls,
				})
				continue
			}

			if (role == protocol.RoleUser || role == protocol.RoleAssistant) && len(pendingToolCallIDs) > 0 && haveIncompleteAssistant {
				messages = evictIncompleteAssistant(messages)
				pendingToolCallIDs = make(map[string]struct{})
				haveIncompleteAssistant = false
			}

			text := protocol.TextContent(item.Content)
			if role == protocol.RoleAssistant {
				if lastAssistantText != nil && *lastAssistantText == text {
					continue
				}
				cp := text
				lastAssistantText = &cp
			}

			var contentValue any = text
			if role != protocol.RoleAssistant && protocol.HasImage(item.Content) {
				parts := make([]any, 0, len(item.Content))
				for _, c := range item.Content {
					switch c.Kind {
					case protocol.ContentInputText, protocol.ContentOutputText:
						parts = append(parts, map[string]any{"type": "text", "text": c.Text})
					case protocol.ContentInputImage:
						parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": c.ImageURL}})
					}
				}
				contentValue = parts
			}

			msg := map[string]any{"role": role, "content": contentValue}
			if role == protocol.RoleAssistant {
				if reasoning, ok := reasoningByAnchor[idx]; ok {
					msg["reasoning"] = reasoning
				}
			}
			messages = append(messages, msg)

		case protocol.ItemFunctionCall:
			reasoning, hasReasoning := reasoningByAnchor[idx]
			toolCall := map[string]any{
				"id":   item.CallID,
				"type": "function",
				"function": map[string]any{
					"name":      item.Name,
					"arguments": item.Arguments,
				},
			}
			pendingToolCallIDs[item.CallID] = struct{}{}
			messages = pushToolCallMessage(messages, toolCall, reasoning, hasReasoning)
			haveIncompleteAssistant = true

		case protocol.ItemLocalShellCall:
			reasoning, hasReasoning := reasoningByAnchor[idx]
			callID := item.ID
			toolCall := map[string]any{
				"id":     callID,
				"type":   "local_shell_call",
				"status": item.Status,
				"action": map[string]any{
					"command":           item.ShellAction.Command,
					"working_directory": item.ShellAction.WorkingDirectory,
					"timeout_ms":        item.ShellAction.TimeoutMs,
				},
			}
			pendingToolCallIDs[callID] = struct{}{}
			messages = pushToolCallMessage(messages, toolCall, reasoning, hasReasoning)
			haveIncompleteAssistant = true

		case protocol.ItemFunctionCallOutput:
			delete(pendingToolCallIDs, item.CallID)
			if len(pendingToolCallIDs) == 0 {
				haveIncompleteAssistant = false
			}

			var contentValue any
			if len(item.Output.ContentItems) > 0 {
				parts := make([]any, 0, len(item.Output.ContentItems))
				for _, c := range item.Output.ContentItems {
					switch c.Kind {
					case protocol.FuncOutputInputText:
						parts = append(parts, map[string]any{"type": "text", "text": c.Text})
					case protocol.FuncOutputInputImage:
						parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": c.ImageURL}})
					}
				}
				contentValue = parts
			} else {
				contentValue = item.Output.Content
			}

			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": item.CallID,
				"content":      contentValue,
			})

		case protocol.ItemCustomToolCall:
			toolCallID := item.ID
			if toolCallID == "" {
				toolCallID = item.CallID
			}
			toolCall := map[string]any{
				"id":   toolCallID,
				"type": "custom",
				"custom": map[string]any{
					"name":  item.Name,
					"input": item.CustomInput,
				},
			}
			pendingToolCallIDs[item.CallID] = struct{}{}
			reasoning, hasReasoning := reasoningByAnchor[idx]
			messages = pushToolCallMessage(messages, toolCall, reasoning, hasReasoning)
			haveIncompleteAssistant = true

		case protocol.ItemCustomToolCallOut:
			delete(pendingToolCallIDs, item.CallID)
			if len(pendingToolCallIDs) == 0 {
				haveIncompleteAssistant = false
			}
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": item.CallID,
				"content":      item.CustomOutput,
			})

		case protocol.ItemGhostSnapshot, protocol.ItemReasoning, protocol.ItemWebSearchCall,
			protocol.ItemOther, protocol.ItemCompaction:
			continue
		}
	}

	hasToolMessages := false
	for _, m := range messages {
		if m["role"] == "tool" {
			hasToolMessages = true
			break
		}
	}
	if !hasToolMessages {
		if err := validateToolCallsSequence(messages); err != nil {
			return nil, err
		}
	}

	toolsAny := make([]any, len(req.Tools))
	for i, t := range req.Tools {
		toolsAny[i] = t
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   true,
		"tools":    toolsAny,
	}

	headers := http.Header{}
	if req.ConversationID != nil {
		headers.Set("session_id", *req.ConversationID)
	}
	if v, ok := subagentHeaderValue(req.SessionSource); ok {
		headers.Set("x-openai-subagent", v)
	}

	return &Result{Body: body, Headers: headers}, nil
}

// evictIncompleteAssistant drops only the trailing assistant message
// carrying tool_calls, used when a user/assistant message arrives before
// every pending call_id was answered. Earlier assistant/tool_calls groups
// further back in history are already fully answered and must be left in
// place, or their tool messages would be orphaned.
func evictIncompleteAssistant(messages []map[string]any) []map[string]any {
	last := -1
	for i, m := range messages {
		if m["role"] == "assistant" {
			if _, hasCalls := m["tool_calls"]; hasCalls {
				last = i
			}
		}
	}
	if last == -1 {
		return messages
	}
	out := make([]map[string]any, 0, len(messages)-1)
	out = append(out, messages[:last]...)
	out = append(out, messages[last+1:]...)
	return out
}

// pushToolCallMessage appends tool_call to the trailing assistant message
// if one is already open (content nil, tool_calls present), else opens a
// new one. Every assistant message carrying tool_calls gets a
// reasoning_content field, required even when empty.
func pushToolCallMessage(messages []map[string]any, toolCall map[string]any, reasoning string, hasReasoning bool) []map[string]any {
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		if last["role"] == "assistant" && last["content"] == nil {
			if calls, ok := last["tool_calls"].([]any); ok {
				last["tool_calls"] = append(calls, toolCall)
				if hasReasoning {
					existing, _ := last["reasoning_content"].(string)
					if existing != "" {
						existing += "\n"
					}
					last["reasoning_content"] = existing + reasoning
				} else if _, ok := last["reasoning_content"]; !ok {
					last["reasoning_content"] = ""
				}
				return messages
			}
		}
	}

	msg := map[string]any{
		"role":       "assistant",
		"content":    nil,
		"tool_calls": []any{toolCall},
	}
	if hasReasoning {
		msg["reasoning_content"] = reasoning
	} else {
		msg["reasoning_content"] = ""
	}
	return append(messages, msg)
}

// validateToolCallsSequence enforces that every call_id in an assistant
// message's tool_calls is answered by a tool message before the next
// non-tool message. The check is skipped entirely (by the caller) once any
// tool message exists anywhere in the output, since that signals an
// already-validated, replayed transcript.
func validateToolCallsSequence(messages []map[string]any) error {
	for i := 1; i < len(messages); i++ {
		msg := messages[i]
		if msg["role"] != "assistant" {
			continue
		}
		calls, ok := msg["tool_calls"].([]any)
		if !ok || len(calls) == 0 {
			continue
		}
		expected := make([]string, 0, len(calls))
		for _, c := range calls {
			if cm, ok := c.(map[string]any); ok {
				if id, ok := cm["id"].(string); ok {
					expected = append(expected, id)
				}
			}
		}
		if len(expected) == 0 {
			continue
		}

		found := make(map[string]struct{})
		j := i + 1
		sawNonTool := false
		for j < len(messages) {
			next := messages[j]
			role, _ := next["role"].(string)
			if role == "tool" {
				if callID, ok := next["tool_call_id"].(string); ok {
					found[callID] = struct{}{}
				}
				j++
				continue
			}
			sawNonTool = true
			break
		}

		if sawNonTool {
			for _, id := range expected {
				if _, ok := found[id]; !ok {
					return &BadRequestError{CallID: id}
				}
			}
		}
	}
	return nil
}
