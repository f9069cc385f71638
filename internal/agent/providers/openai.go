package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codex-go/turnengine/internal/agent/wire"
	"github.com/codex-go/turnengine/pkg/protocol"
)

// StreamItem is one decoded event off the model's response stream: either a
// completed ResponseItem (a full message or tool call the reducer can act
// on) or a terminal error.
type StreamItem struct {
	Item protocol.ResponseItem
	Err  error
	Done bool
}

// Client sends assembled wire requests to an OpenAI-compatible Chat
// Completions endpoint and decodes the SSE stream back into ResponseItems.
type Client struct {
	BaseProvider
	client *openai.Client
}

// NewClient builds a Client against baseURL (pass "" for the default OpenAI
// endpoint) using apiKey for auth.
func NewClient(apiKey, baseURL string, maxRetries int, retryDelay time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		BaseProvider: NewBaseProvider("openai", maxRetries, retryDelay),
		client:       openai.NewClientWithConfig(cfg),
	}
}

// Stream assembles req into a Chat Completions body and streams the
// response, decoding each chunk into protocol.ResponseItems on the returned
// channel. The channel is closed after a Done item or a fatal error.
func (c *Client) Stream(ctx context.Context, req wire.Request) (<-chan StreamItem, error) {
	assembled, err := wire.Assemble(req)
	if err != nil {
		return nil, fmt.Errorf("assemble wire request: %w", err)
	}

	chatReq, err := toChatCompletionRequest(assembled.Body)
	if err != nil {
		return nil, fmt.Errorf("build chat completion request: %w", err)
	}

	var stream *openai.ChatCompletionStream
	retryErr := c.Retry(ctx, IsRetryable, func() error {
		s, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return NewProviderError("openai", req.Model, err)
		}
		stream = s
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	out := make(chan StreamItem)
	go c.pump(ctx, stream, out)
	return out, nil
}

// pump decodes raw OpenAI stream chunks into ResponseItems. Text deltas
// accumulate into a single assistant Message; tool call deltas accumulate
// per index into FunctionCall items, emitted once the stream ends.
func (c *Client) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- StreamItem) {
	defer close(out)
	defer stream.Close()

	var textBuf string
	calls := make(map[int]*protocol.ResponseItem)
	callOrder := []int{}

	emit := func(item protocol.ResponseItem) bool {
		select {
		case out <- StreamItem{Item: item}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			out <- StreamItem{Err: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if textBuf != "" {
					if !emit(protocol.NewMessage(protocol.RoleAssistant, protocol.OutputText(textBuf))) {
						return
					}
				}
				for _, idx := range callOrder {
					if !emit(*calls[idx]) {
						return
					}
				}
				out <- StreamItem{Done: true}
				return
			}
			out <- StreamItem{Err: NewProviderError("openai", "", err), Done: true}
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			textBuf += delta.Content
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			item, ok := calls[idx]
			if !ok {
				fc := protocol.NewFunctionCall(tc.Function.Name, tc.ID, "")
				item = &fc
				calls[idx] = item
				callOrder = append(callOrder, idx)
			}
			if tc.ID != "" {
				item.CallID = tc.ID
			}
			if tc.Function.Name != "" {
				item.Name = tc.Function.Name
			}
			item.Arguments += tc.Function.Arguments
		}
	}
}

func toChatCompletionRequest(body map[string]any) (openai.ChatCompletionRequest, error) {
	var req openai.ChatCompletionRequest
	model, _ := body["model"].(string)
	req.Model = model
	req.Stream = true

	rawMessages, _ := body["messages"].([]map[string]any)
	for _, m := range rawMessages {
		msg := openai.ChatCompletionMessage{}
		if role, ok := m["role"].(string); ok {
			msg.Role = role
		}
		if content, ok := m["content"].(string); ok {
			msg.Content = content
		}
		req.Messages = append(req.Messages, msg)
	}

	if tools, ok := body["tools"].([]openai.Tool); ok {
		req.Tools = tools
	}

	return req, nil
}
