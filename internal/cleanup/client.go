// Package cleanup rewrites a raw merged transcript into literary-quality text
// without altering facts. The provider may answer with malformed or partial
// JSON; the pipeline tolerates that by falling back to the raw transcript.
package cleanup

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voicescribe/internal/common"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are an editor. Rewrite the user's raw speech transcript into clean,
readable literary prose. Fix punctuation, casing, and obvious recognition
slips. Never add, remove, or reorder facts. Answer with a JSON object:
{"clean": "<rewritten text>", "notes": "<optional editor notes>"}`

// Result is the cleanup outcome.
type Result struct {
	Clean string `json:"clean"`
	Notes string `json:"notes"`
}

// Cleaner rewrites raw transcript text.
type Cleaner interface {
	Cleanup(ctx context.Context, raw string) (Result, error)
}

// Config holds provider settings for the cleanup client.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	ProxyURL string
}

// Client implements Cleaner via OpenAI chat completions.
type Client struct {
	cfg    Config
	client openai.Client
}

// New creates a cleanup client.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(common.NewHTTPClient(cfg.Timeout, cfg.ProxyURL)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, client: openai.NewClient(opts...)}
}

var _ Cleaner = (*Client)(nil)

// Cleanup sends the raw text for rewriting. An empty or undecodable model
// answer yields an empty Result, not an error; the caller decides the fallback.
func (c *Client) Cleanup(ctx context.Context, raw string) (Result, error) {
	if strings.TrimSpace(raw) == "" {
		return Result{}, nil
	}
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(raw),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("cleanup request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, nil
	}
	return DecodeBestEffort(resp.Choices[0].Message.Content), nil
}
