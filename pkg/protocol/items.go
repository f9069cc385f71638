// Package protocol defines the wire-independent conversation data model
// shared by the wire assembler, tool router, orchestrator, and stream
// reducer. A ResponseItem is the canonical unit of conversation history;
// items are appended in causal order and never mutated in place.
package protocol

import "encoding/json"

// ItemKind discriminates the variant carried by a ResponseItem. Go has no
// native sum type, so ResponseItem is a single struct with optional fields
// per variant, the way pkg/models.Message bundles every channel's shape.
type ItemKind string

const (
	ItemMessage            ItemKind = "message"
	ItemFunctionCall       ItemKind = "function_call"
	ItemLocalShellCall     ItemKind = "local_shell_call"
	ItemFunctionCallOutput ItemKind = "function_call_output"
	ItemCustomToolCall     ItemKind = "custom_tool_call"
	ItemCustomToolCallOut  ItemKind = "custom_tool_call_output"
	ItemReasoning          ItemKind = "reasoning"
	ItemWebSearchCall      ItemKind = "web_search_call"
	ItemGhostSnapshot      ItemKind = "ghost_snapshot"
	ItemCompaction         ItemKind = "compaction"
	ItemOther              ItemKind = "other"
)

// Role values used on Message items. "developer" is accepted on input but
// the wire assembler rewrites it to "user" since Chat Completions has no
// developer role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"
	RoleTool      = "tool"
)

// ContentKind discriminates a ContentItem.
type ContentKind string

const (
	ContentInputText  ContentKind = "input_text"
	ContentOutputText ContentKind = "output_text"
	ContentInputImage ContentKind = "input_image"
)

// ContentItem is one piece of a Message's content: InputText, OutputText,
// or InputImage.
type ContentItem struct {
	Kind     ContentKind
	Text     string
	ImageURL string
}

func InputText(text string) ContentItem  { return ContentItem{Kind: ContentInputText, Text: text} }
func OutputText(text string) ContentItem { return ContentItem{Kind: ContentOutputText, Text: text} }
func InputImage(url string) ContentItem  { return ContentItem{Kind: ContentInputImage, ImageURL: url} }

// ReasoningContentKind discriminates a ReasoningContentItem.
type ReasoningContentKind string

const (
	ReasoningText      ReasoningContentKind = "reasoning_text"
	ReasoningPlainText ReasoningContentKind = "text"
)

// ReasoningContentItem is one fragment of a Reasoning item's content.
type ReasoningContentItem struct {
	Kind ReasoningContentKind
	Text string
}

// ShellAction describes the Exec action carried by a LocalShellCall.
type ShellAction struct {
	Command          []string
	WorkingDirectory *string
	TimeoutMs        *int64
}

// FunctionCallOutputContentKind discriminates FunctionCallOutputContentItem.
type FunctionCallOutputContentKind string

const (
	FuncOutputInputText  FunctionCallOutputContentKind = "input_text"
	FuncOutputInputImage FunctionCallOutputContentKind = "input_image"
)

// FunctionCallOutputContentItem is one typed part of a tool output when the
// output carries more than plain text (e.g. an image alongside a caption).
type FunctionCallOutputContentItem struct {
	Kind     FunctionCallOutputContentKind
	Text     string
	ImageURL string
}

// FunctionCallOutputPayload is the body of a FunctionCallOutput item.
type FunctionCallOutputPayload struct {
	Content      string
	ContentItems []FunctionCallOutputContentItem
	Success      *bool
}

// ToolCallAttachment is the embedded tool_calls entry carried on an
// assistant Message when replaying a transcript whose pairing is already
// validated (history items that already hold a wire-shaped tool_calls list).
type ToolCallAttachment struct {
	ID        string
	Name      string
	Arguments string
}

// ResponseItem is the canonical, tagged unit of conversation history.
type ResponseItem struct {
	Kind ItemKind

	// Message fields.
	ID               string
	Role             string
	Content          []ContentItem
	ReasoningContent string
	ToolCalls        []ToolCallAttachment

	// FunctionCall / CustomToolCall / LocalShellCall fields.
	Name      string
	Arguments string // FunctionCall: JSON-encoded arguments
	CallID    string
	Status    string // CustomToolCall / LocalShellCall status

	// LocalShellCall.
	ShellAction ShellAction

	// FunctionCallOutput / CustomToolCallOutput.
	Output       FunctionCallOutputPayload
	CustomOutput string // CustomToolCallOutput plain text output

	// CustomToolCall input.
	CustomInput json.RawMessage

	// Reasoning.
	ReasoningItems []ReasoningContentItem
}

func NewMessage(role string, content ...ContentItem) ResponseItem {
	return ResponseItem{Kind: ItemMessage, Role: role, Content: content}
}

func NewToolMessage(callID string, content ...ContentItem) ResponseItem {
	return ResponseItem{Kind: ItemMessage, Role: RoleTool, ID: callID, Content: content}
}

func NewFunctionCall(name, callID, arguments string) ResponseItem {
	return ResponseItem{Kind: ItemFunctionCall, Name: name, CallID: callID, Arguments: arguments}
}

func NewLocalShellCall(id, callID, status string, action ShellAction) ResponseItem {
	return ResponseItem{Kind: ItemLocalShellCall, ID: id, CallID: callID, Status: status, ShellAction: action}
}

func NewFunctionCallOutput(callID string, output FunctionCallOutputPayload) ResponseItem {
	return ResponseItem{Kind: ItemFunctionCallOutput, CallID: callID, Output: output}
}

func NewCustomToolCall(id, callID, name string, input json.RawMessage) ResponseItem {
	return ResponseItem{Kind: ItemCustomToolCall, ID: id, CallID: callID, Name: name, CustomInput: input}
}

func NewCustomToolCallOutput(callID, output string) ResponseItem {
	return ResponseItem{Kind: ItemCustomToolCallOut, CallID: callID, CustomOutput: output}
}

func NewReasoning(items ...ReasoningContentItem) ResponseItem {
	return ResponseItem{Kind: ItemReasoning, ReasoningItems: items}
}

// TextContent concatenates all text-bearing ContentItems in order,
// matching the assembler's rule for building a Message's plain-text form.
func TextContent(content []ContentItem) string {
	var out string
	for _, c := range content {
		switch c.Kind {
		case ContentInputText, ContentOutputText:
			out += c.Text
		}
	}
	return out
}

// HasImage reports whether any ContentItem is an InputImage.
func HasImage(content []ContentItem) bool {
	for _, c := range content {
		if c.Kind == ContentInputImage {
			return true
		}
	}
	return false
}

// ConcatReasoning concatenates a Reasoning item's text fragments, matching
// the assembler's anchor-accumulation rule.
func ConcatReasoning(items []ReasoningContentItem) string {
	var out string
	for _, it := range items {
		out += it.Text
	}
	return out
}
