package wire

import (
	"testing"

	"github.com/codex-go/turnengine/pkg/protocol"
)

func messagesOf(t *testing.T, res *Result) []map[string]any {
	t.Helper()
	msgs, ok := res.Body["messages"].([]map[string]any)
	if !ok {
		t.Fatalf("messages is not []map[string]any: %T", res.Body["messages"])
	}
	return msgs
}

func TestAssembleSimpleUserTurn(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("hello")),
		},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	msgs := messagesOf(t, res)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (system + user)", len(msgs))
	}
	if msgs[1]["role"] != protocol.RoleUser || msgs[1]["content"] != "hello" {
		t.Fatalf("unexpected user message: %+v", msgs[1])
	}
}

func TestAssembleGroupsConsecutiveToolCallsIntoOneAssistantMessage(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("do two things")),
			protocol.NewFunctionCall("read", "call_1", `{}`),
			protocol.NewFunctionCall("write", "call_2", `{}`),
			protocol.NewFunctionCallOutput("call_1", protocol.FunctionCallOutputPayload{Content: "ok"}),
			protocol.NewFunctionCallOutput("call_2", protocol.FunctionCallOutputPayload{Content: "ok"}),
		},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	msgs := messagesOf(t, res)

	var assistantWithCalls map[string]any
	count := 0
	for _, m := range msgs {
		if m["role"] == "assistant" {
			if calls, ok := m["tool_calls"].([]any); ok {
				count++
				assistantWithCalls = m
				if len(calls) != 2 {
					t.Fatalf("expected 2 grouped tool_calls, got %d", len(calls))
				}
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one assistant message carrying tool_calls, got %d", count)
	}
	if assistantWithCalls["content"] != nil {
		t.Fatalf("assistant message with tool_calls must have nil content, got %v", assistantWithCalls["content"])
	}
}

func TestAssembleEvictsOnlyTrailingIncompleteAssistant(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("first")),
			protocol.NewFunctionCall("read", "call_1", `{}`),
			protocol.NewFunctionCallOutput("call_1", protocol.FunctionCallOutputPayload{Content: "ok"}),
			protocol.NewFunctionCall("write", "call_2", `{}`),
			// call_2 never answered before the next user message arrives.
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("second")),
		},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	msgs := messagesOf(t, res)

	assistantWithCalls := 0
	toolMessages := 0
	for _, m := range msgs {
		if m["role"] == "assistant" {
			if _, ok := m["tool_calls"]; ok {
				assistantWithCalls++
			}
		}
		if m["role"] == "tool" {
			toolMessages++
		}
	}
	if assistantWithCalls != 1 {
		t.Fatalf("expected the earlier, fully-answered tool_calls group to survive eviction, got %d assistant/tool_calls messages", assistantWithCalls)
	}
	if toolMessages != 1 {
		t.Fatalf("expected call_1's tool message to survive (not orphaned), got %d tool messages", toolMessages)
	}
}

func TestAssembleBadRequestOnMissingToolResponse(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("go")),
			protocol.NewFunctionCall("read", "call_1", `{}`),
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("next turn, no tool response seen")),
		},
	}
	_, err := Assemble(req)
	if err == nil {
		t.Fatal("expected BadRequestError, got nil")
	}
	var bad *BadRequestError
	if !asBadRequest(err, &bad) {
		t.Fatalf("expected *BadRequestError, got %T: %v", err, err)
	}
	if bad.CallID != "call_1" {
		t.Fatalf("CallID = %q, want call_1", bad.CallID)
	}
}

func asBadRequest(err error, target **BadRequestError) bool {
	if be, ok := err.(*BadRequestError); ok {
		*target = be
		return true
	}
	return false
}

func TestAssembleSkipsValidationWhenToolMessagesExistAnywhere(t *testing.T) {
	// A replayed transcript already containing a tool message anywhere
	// short-circuits the "missing tool response" check entirely.
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewToolMessage("call_old", protocol.OutputText("stale reply")),
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("go")),
			protocol.NewFunctionCall("read", "call_1", `{}`),
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("never answered")),
		},
	}
	if _, err := Assemble(req); err != nil {
		t.Fatalf("Assemble returned error when a tool message exists elsewhere: %v", err)
	}
}

func TestAssembleDropsDuplicateConsecutiveAssistantText(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleAssistant, protocol.OutputText("same text")),
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("go")),
			protocol.NewMessage(protocol.RoleAssistant, protocol.OutputText("same text")),
		},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	msgs := messagesOf(t, res)
	count := 0
	for _, m := range msgs {
		if m["role"] == protocol.RoleAssistant && m["content"] == "same text" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected duplicate verbatim assistant text to be deduped, found %d copies", count)
	}
}

func TestAssembleRewritesDeveloperRoleToUser(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleDeveloper, protocol.InputText("dev note")),
		},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	msgs := messagesOf(t, res)
	if msgs[1]["role"] != protocol.RoleUser {
		t.Fatalf("developer role not rewritten to user: %+v", msgs[1])
	}
}

func TestAssembleFunctionCallOutputPrefersContentItems(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("go")),
			protocol.NewFunctionCall("read", "call_1", `{}`),
			protocol.NewFunctionCallOutput("call_1", protocol.FunctionCallOutputPayload{
				Content: "plain text fallback",
				ContentItems: []protocol.FunctionCallOutputContentItem{
					{Kind: protocol.FuncOutputInputText, Text: "typed part"},
				},
			}),
		},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	msgs := messagesOf(t, res)
	var toolMsg map[string]any
	for _, m := range msgs {
		if m["role"] == "tool" && m["tool_call_id"] == "call_1" {
			toolMsg = m
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message found for call_1")
	}
	parts, ok := toolMsg["content"].([]any)
	if !ok || len(parts) != 1 {
		t.Fatalf("expected content_items to take precedence, got %+v", toolMsg["content"])
	}
}

func TestAssembleSessionIDHeaderFromConversationID(t *testing.T) {
	convID := "conv-123"
	req := Request{
		Model:          "gpt-4o",
		ConversationID: &convID,
		Input:          []protocol.ResponseItem{protocol.NewMessage(protocol.RoleUser, protocol.InputText("hi"))},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := res.Headers.Get("session_id"); got != convID {
		t.Fatalf("session_id header = %q, want %q", got, convID)
	}
}

func TestAssembleSubAgentHeaderOnlyForSubAgentSource(t *testing.T) {
	req := Request{
		Model:         "gpt-4o",
		SessionSource: &SessionSource{Kind: "sub_agent", SubAgent: SubAgentReview},
		Input:         []protocol.ResponseItem{protocol.NewMessage(protocol.RoleUser, protocol.InputText("hi"))},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := res.Headers.Get("x-openai-subagent"); got != string(SubAgentReview) {
		t.Fatalf("x-openai-subagent header = %q, want %q", got, SubAgentReview)
	}

	cliReq := Request{
		Model:         "gpt-4o",
		SessionSource: &SessionSource{Kind: "cli"},
		Input:         []protocol.ResponseItem{protocol.NewMessage(protocol.RoleUser, protocol.InputText("hi"))},
	}
	cliRes, err := Assemble(cliReq)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := cliRes.Headers.Get("x-openai-subagent"); got != "" {
		t.Fatalf("expected no subagent header for cli source, got %q", got)
	}
}

func TestAssembleLocalShellCallCarriesAction(t *testing.T) {
	workDir := "/repo"
	timeout := int64(5000)
	req := Request{
		Model: "gpt-4o",
		Input: []protocol.ResponseItem{
			protocol.NewMessage(protocol.RoleUser, protocol.InputText("run it")),
			protocol.NewLocalShellCall("call_1", "call_1", "completed", protocol.ShellAction{
				Command:          []string{"go", "test", "./..."},
				WorkingDirectory: &workDir,
				TimeoutMs:        &timeout,
			}),
			protocol.NewFunctionCallOutput("call_1", protocol.FunctionCallOutputPayload{Content: "PASS"}),
		},
	}
	res, err := Assemble(req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	msgs := messagesOf(t, res)
	var found bool
	for _, m := range msgs {
		calls, ok := m["tool_calls"].([]any)
		if !ok {
			continue
		}
		for _, c := range calls {
			cm := c.(map[string]any)
			if cm["type"] == "local_shell_call" {
				found = true
				action := cm["action"].(map[string]any)
				cmd := action["command"].([]string)
				if len(cmd) != 3 {
					t.Fatalf("command = %+v", cmd)
				}
			}
		}
	}
	if !found {
		t.Fatal("no local_shell_call tool_calls entry found")
	}
}
