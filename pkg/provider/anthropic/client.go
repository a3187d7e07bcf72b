package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// Safe default that works for all Anthropic models.
const defaultMaxTokens = 8192

const fineGrainedToolStreamingBeta = "fine-grained-tool-streaming-2025-05-14"

// Config carries what the client needs to talk to the Messages API.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client implements provider.Service on top of the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates an Anthropic-backed generation service.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	requestOptions := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Debug("Anthropic client created", "model", cfg.Model)
	return &Client{
		client: anthropic.NewClient(requestOptions...),
		model:  anthropic.Model(cfg.Model),
	}, nil
}

// CreateSession converts the session's tools and system prompt once and
// returns a handle bound to them.
func (c *Client) CreateSession(_ context.Context, spec provider.SessionSpec) (provider.Handle, error) {
	converted, err := convertTools(spec.Tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert tools: %w", err)
	}

	var system []anthropic.TextBlockParam
	if prompt := strings.TrimSpace(spec.EffectiveSystemPrompt()); prompt != "" {
		system = []anthropic.TextBlockParam{{Text: prompt}}
	}

	return &session{
		client: c.client,
		model:  c.model,
		spec:   spec,
		system: system,
		tools:  converted,
	}, nil
}

type session struct {
	client anthropic.Client
	model  anthropic.Model
	spec   provider.SessionSpec
	system []anthropic.TextBlockParam
	tools  []anthropic.ToolUnionParam
}

func (s *session) StreamTurn(ctx context.Context, messages []provider.Message) (provider.TurnStream, error) {
	converted, err := convertMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}
	if len(converted) == 0 {
		return nil, errors.New("anthropic: no messages to send")
	}

	maxTokens := s.spec.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: maxTokens,
		System:    s.system,
		Messages:  converted,
		Tools:     s.tools,
	}
	if s.spec.Temperature != nil {
		params.Temperature = param.NewOpt(*s.spec.Temperature)
	}

	slog.Debug("Creating Anthropic turn stream",
		"model", s.model,
		"message_count", len(converted),
		"tool_count", len(s.tools))

	stream := s.client.Messages.NewStreaming(ctx, params,
		option.WithHeader("anthropic-beta", fineGrainedToolStreamingBeta))
	return newTurnStream(stream, s.spec), nil
}

// convertMessages maps the transcript to Anthropic message params. Anthropic
// requires every assistant tool_use to be answered by tool_result blocks in
// the immediately following user message, so consecutive tool results are
// grouped and checked against the pending call ids.
func convertMessages(messages []provider.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	var pending map[string]struct{}

	for i := 0; i < len(messages); i++ {
		msg := &messages[i]
		switch msg.Role {
		case provider.MessageRoleUser:
			if pending != nil {
				return nil, errors.New("assistant tool_use must be immediately followed by tool results")
			}
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
			}

		case provider.MessageRoleAssistant:
			if pending != nil {
				return nil, errors.New("assistant tool_use must be immediately followed by tool results")
			}
			var blocks []anthropic.ContentBlockParamUnion
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				blocks = append(blocks, anthropic.NewTextBlock(txt))
			}
			if len(msg.ToolCalls) > 0 {
				pending = make(map[string]struct{}, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					var input map[string]any
					if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
						input = map[string]any{}
					}
					if call.ID != "" {
						pending[call.ID] = struct{}{}
					}
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    call.ID,
							Input: input,
							Name:  call.Function.Name,
						},
					})
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}

		case provider.MessageRoleTool:
			if pending == nil {
				return nil, fmt.Errorf("unexpected tool result without preceding tool_use (tool_use_id=%q)", msg.ToolCallID)
			}
			var blocks []anthropic.ContentBlockParamUnion
			j := i
			for j < len(messages) && messages[j].Role == provider.MessageRoleTool {
				id := messages[j].ToolCallID
				if strings.TrimSpace(id) == "" {
					return nil, errors.New("tool result is missing tool_use_id")
				}
				if _, ok := pending[id]; !ok {
					return nil, fmt.Errorf("unexpected tool_result tool_use_id=%q", id)
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(id, strings.TrimSpace(messages[j].Content), messages[j].IsError))
				delete(pending, id)
				j++
			}
			if len(pending) > 0 {
				return nil, fmt.Errorf("missing tool_result for %d pending tool_use ids", len(pending))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
			pending = nil
			i = j - 1
		}
	}

	if pending != nil {
		return nil, errors.New("assistant tool_use present but no subsequent tool results")
	}

	return out, nil
}

func convertTools(toolList []tools.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(toolList) == 0 {
		return nil, nil
	}

	toolParams := make([]anthropic.ToolParam, len(toolList))
	for i, tool := range toolList {
		var schema anthropic.ToolInputSchemaParam
		if err := tools.ConvertSchema(tool.Parameters, &schema); err != nil {
			return nil, err
		}
		toolParams[i] = anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: schema,
		}
	}

	out := make([]anthropic.ToolUnionParam, len(toolParams))
	for i := range toolParams {
		out[i] = anthropic.ToolUnionParam{OfTool: &toolParams[i]}
	}
	return out, nil
}
