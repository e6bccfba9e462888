// Package claude implements the task-name advisor on the Anthropic Messages
// API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/davidhoung2/helpbot/internal/advisor"
)

const maxTokens = 16

// ClientOpts configures a Client.
type ClientOpts struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for proxies and tests
	// MaxRetries overrides the SDK retry count when non-nil.
	MaxRetries *int
}

// Client asks Claude whether a task name is plausible.
type Client struct {
	sdk   anthropic.Client
	model string
}

var _ advisor.Advisor = (*Client)(nil)

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("claude: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("claude: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.MaxRetries != nil {
		reqOpts = append(reqOpts, option.WithMaxRetries(*opts.MaxRetries))
	}
	return &Client{
		sdk:   anthropic.NewClient(reqOpts...),
		model: opts.Model,
	}, nil
}

// CheckTaskName sends the shared prompt and parses the one-word reply.
func (c *Client) CheckTaskName(ctx context.Context, taskName, excerpt string) (advisor.Verdict, error) {
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(advisor.Prompt(taskName, excerpt))),
		},
	})
	if err != nil {
		return advisor.Unknown, fmt.Errorf("claude: check task name: %w", err)
	}
	v, err := advisor.ParseVerdict(replyText(msg))
	if err != nil {
		return advisor.Unknown, fmt.Errorf("claude: %w", err)
	}
	return v, nil
}

func replyText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "")
}
