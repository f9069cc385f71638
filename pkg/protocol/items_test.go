package protocol

import "testing"

func TestTextContentConcatenatesTextParts(t *testing.T) {
	content := []ContentItem{
		InputText("hello "),
		InputImage("https://example.com/cat.png"),
		OutputText("world"),
	}
	if got := TextContent(content); got != "hello world" {
		t.Fatalf("TextContent = %q, want %q", got, "hello world")
	}
}

func TestTextContentEmpty(t *testing.T) {
	if got := TextContent(nil); got != "" {
		t.Fatalf("TextContent(nil) = %q, want empty", got)
	}
}

func TestHasImage(t *testing.T) {
	if HasImage([]ContentItem{InputText("x")}) {
		t.Fatal("HasImage reported true with no image parts")
	}
	if !HasImage([]ContentItem{InputText("x"), InputImage("u")}) {
		t.Fatal("HasImage reported false with an image part present")
	}
}

func TestConcatReasoningConcatenatesFragments(t *testing.T) {
	items := []ReasoningContentItem{
		{Kind: ReasoningText, Text: "step one. "},
		{Kind: ReasoningText, Text: "step two."},
	}
	if got := ConcatReasoning(items); got != "step one. step two." {
		t.Fatalf("ConcatReasoning = %q", got)
	}
}

func TestNewMessageSetsKindAndRole(t *testing.T) {
	m := NewMessage(RoleUser, InputText("hi"))
	if m.Kind != ItemMessage {
		t.Fatalf("Kind = %v, want ItemMessage", m.Kind)
	}
	if m.Role != RoleUser {
		t.Fatalf("Role = %v, want %v", m.Role, RoleUser)
	}
	if len(m.Content) != 1 || m.Content[0].Text != "hi" {
		t.Fatalf("Content = %+v", m.Content)
	}
}

func TestNewFunctionCallFieldOrder(t *testing.T) {
	fc := NewFunctionCall("read_file", "call_1", `{"path":"a.go"}`)
	if fc.Kind != ItemFunctionCall {
		t.Fatalf("Kind = %v", fc.Kind)
	}
	if fc.Name != "read_file" || fc.CallID != "call_1" || fc.Arguments != `{"path":"a.go"}` {
		t.Fatalf("unexpected fields: %+v", fc)
	}
}

func TestNewFunctionCallOutputRoundTrip(t *testing.T) {
	ok := true
	out := NewFunctionCallOutput("call_1", FunctionCallOutputPayload{Content: "done", Success: &ok})
	if out.Kind != ItemFunctionCallOutput {
		t.Fatalf("Kind = %v", out.Kind)
	}
	if out.CallID != "call_1" || out.Output.Content != "done" || out.Output.Success == nil || !*out.Output.Success {
		t.Fatalf("unexpected output: %+v", out.Output)
	}
}

func TestNewToolMessageUsesIDAsCallID(t *testing.T) {
	m := NewToolMessage("call_9", OutputText("result"))
	if m.Role != RoleTool || m.ID != "call_9" {
		t.Fatalf("unexpected tool message: %+v", m)
	}
}
