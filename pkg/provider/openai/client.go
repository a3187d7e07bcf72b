package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// Config carries what the client needs to talk to an OpenAI-compatible
// Chat Completions endpoint. BaseURL and Headers cover gateways such as
// OpenRouter, which speak the same API with extra routing headers.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Headers map[string]string
}

// Client implements provider.Service on top of the Chat Completions API.
type Client struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI-compatible generation service.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if len(cfg.Headers) > 0 {
		oc.HTTPClient = withHeader(oc.HTTPClient, cfg.Headers)
	}

	slog.Debug("OpenAI-compatible client created", "model", cfg.Model, "base_url", oc.BaseURL)
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}, nil
}

func withHeader(base openai.HTTPDoer, add map[string]string) openai.HTTPDoer {
	if base == nil {
		base = http.DefaultClient
	}
	return headerDoer{base: base, add: add}
}

type headerDoer struct {
	base openai.HTTPDoer
	add  map[string]string
}

func (h headerDoer) Do(req *http.Request) (*http.Response, error) {
	for k, v := range h.add {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return h.base.Do(req)
}

// CreateSession converts the session's tools once and returns a handle bound
// to them.
func (c *Client) CreateSession(_ context.Context, spec provider.SessionSpec) (provider.Handle, error) {
	converted, err := convertTools(spec.Tools)
	if err != nil {
		return nil, fmt.Errorf("openai: convert tools: %w", err)
	}

	return &session{
		client: c.client,
		model:  c.model,
		spec:   spec,
		system: strings.TrimSpace(spec.EffectiveSystemPrompt()),
		tools:  converted,
	}, nil
}

type session struct {
	client *openai.Client
	model  string
	spec   provider.SessionSpec
	system string
	tools  []openai.Tool
}

func (s *session) StreamTurn(ctx context.Context, messages []provider.Message) (provider.TurnStream, error) {
	if len(messages) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}

	req := openai.ChatCompletionRequest{
		Model:         s.model,
		Messages:      s.convertMessages(messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		Tools:         s.tools,
	}
	if s.spec.Temperature != nil {
		req.Temperature = float32(*s.spec.Temperature)
	}
	if s.spec.MaxTokens > 0 {
		req.MaxTokens = int(s.spec.MaxTokens)
	}
	// JSON mode steers contract-bound sessions toward parseable output, but it
	// cannot be combined with tool calling on every compatible backend.
	if s.spec.Contract != nil && len(s.tools) == 0 {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	slog.Debug("Creating OpenAI chat completion stream",
		"model", s.model,
		"message_count", len(req.Messages),
		"tool_count", len(s.tools))

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}
	return newTurnStream(stream, s.spec), nil
}

func (s *session) convertMessages(messages []provider.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if s.system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: s.system,
		})
	}
	for i := range messages {
		msg := &messages[i]
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			m.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for j, call := range msg.ToolCalls {
				m.ToolCalls[j] = openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				}
			}
		}
		if msg.ToolCallID != "" {
			m.ToolCallID = msg.ToolCallID
		}
		out = append(out, m)
	}
	return out
}

func convertTools(toolList []tools.Tool) ([]openai.Tool, error) {
	if len(toolList) == 0 {
		return nil, nil
	}

	out := make([]openai.Tool, len(toolList))
	for i, tool := range toolList {
		params, err := tools.SchemaToMap(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%s parameters: %w", tool.Name, err)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
		if properties, ok := params["properties"].(map[string]any); !ok || len(properties) == 0 {
			out[i].Function.Parameters = json.RawMessage("{}")
		}
	}
	return out, nil
}
