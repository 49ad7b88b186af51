// Package llm wraps the chat-completion client shared by the analysis
// pipeline: transcript post-processing, paragraph polish, summaries, and
// task extraction all go through one Client.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/echonote-ai/echonote/pkg/trace"
)

const defaultCallTimeout = 30 * time.Second

// Config holds configuration for the completion client.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string
	// Model defaults to gpt-4o-mini.
	Model string
	// Timeout is the per-call budget (0 = 30s). Callers with tighter
	// budgets pass a shorter deadline through the context.
	Timeout time.Duration
}

// Client is a thin chat-completion wrapper that reports token usage with
// every response.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// Response is one completion with its billable token counts.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// New creates the client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultCallTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		log.Printf("[LLM] Using BaseURL: %s", baseURL)
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete runs one system+user completion and returns the text.
func (c *Client) Complete(ctx context.Context, system, user string) (*Response, error) {
	return c.complete(ctx, system, user, false)
}

// CompleteJSON runs a completion in JSON mode and unmarshals the result
// into out. Code fences around the payload are tolerated.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, out any) (*Response, error) {
	resp, err := c.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(StripFences(resp.Text)), out); err != nil {
		return nil, fmt.Errorf("malformed JSON response: %w", err)
	}
	return resp, nil
}

func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callCtx, span := trace.InstrumentLLMRequest(callCtx, "openai", c.model)
	defer span.End()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: shared.ChatModel(c.model),
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		trace.RecordError(span, err)
		return nil, fmt.Errorf("completion error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	return &Response{
		Text:      strings.TrimSpace(completion.Choices[0].Message.Content),
		TokensIn:  int(completion.Usage.PromptTokens),
		TokensOut: int(completion.Usage.CompletionTokens),
	}, nil
}

// StripFences removes a surrounding markdown code fence if present.
// Models occasionally wrap JSON mode output in ```json fences anyway.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
