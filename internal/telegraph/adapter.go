// Package telegraph bridges chat platforms (Discord, Slack) to the dispatch
// pipeline: inbound messages are routed to chat commands or ingested as
// dispatch messages, and outcome signals are rendered back to the channel.
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	ChannelID string    // platform-specific channel identifier
	ThreadID  string    // thread/conversation identifier (empty if top-level)
	MessageID string    // platform message identifier, used for replies and reactions
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	Text      string    // raw message text
	IsDirect  bool      // private message to the bot
	Timestamp time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel
	ThreadID  string           // thread to reply in (empty for new top-level message)
	ReplyTo   string           // message being answered (empty for a plain post)
	Text      string           // message text (platform-native formatting)
	Events    []FormattedEvent // structured attachments
}

// FormattedEvent is a titled card rendered as a Discord embed or Slack
// attachment.
type FormattedEvent struct {
	Title    string // headline (e.g. "派車格式說明")
	Body     string // detail text
	Severity string // "info", "warning", "error", "success"
	Color    string // sidebar color hint (e.g. "#36a64f" for success)
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// Reactor is an optional interface for adapters that can add an emoji
// reaction to a message. Adapters without it get a reply instead.
type Reactor interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
}
