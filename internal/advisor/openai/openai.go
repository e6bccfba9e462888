// Package openai implements the task-name advisor on the OpenAI Chat
// Completions API or any compatible endpoint.
package openai

import (
	"context"
	"fmt"

	"github.com/davidhoung2/helpbot/internal/advisor"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ClientOpts configures a Client.
type ClientOpts struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries *int
}

// Client asks a chat-completions model whether a task name is plausible.
type Client struct {
	sdk   openai.Client
	model string
}

var _ advisor.Advisor = (*Client)(nil)

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.MaxRetries != nil {
		reqOpts = append(reqOpts, option.WithMaxRetries(*opts.MaxRetries))
	}
	return &Client{sdk: openai.NewClient(reqOpts...), model: opts.Model}, nil
}

// CheckTaskName sends the shared prompt and parses the first choice.
func (c *Client) CheckTaskName(ctx context.Context, taskName, excerpt string) (advisor.Verdict, error) {
	resp, err := c.sdk.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(advisor.Prompt(taskName, excerpt)),
		},
	})
	if err != nil {
		return advisor.Unknown, fmt.Errorf("openai: check task name: %w", err)
	}
	if len(resp.Choices) == 0 {
		return advisor.Unknown, fmt.Errorf("openai: %w: no choices", advisor.ErrNoVerdict)
	}
	v, err := advisor.ParseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return advisor.Unknown, fmt.Errorf("openai: %w", err)
	}
	return v, nil
}
