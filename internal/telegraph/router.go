package telegraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidhoung2/helpbot/internal/pipeline"
	"github.com/rs/zerolog"
)

// Router classifies inbound chat messages and routes them to the
// appropriate handler: command handler for "!" commands, the dispatch
// pipeline for everything else, or ignore for bot/direct/ignored-channel
// messages.
type Router struct {
	svc        DispatchService
	cmdHandler *CommandHandler
	adapter    Adapter
	botUserID  string
	ignore     map[string]bool
	log        zerolog.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Service        DispatchService
	Adapter        Adapter
	BotUserID      string   // bot's user ID for self-message filtering
	IgnoreChannels []string // channels whose messages are never handled
	Logger         zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("telegraph: router: service is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: router: adapter is required")
	}
	cmd, err := NewCommandHandler(CommandHandlerOpts{Service: opts.Service})
	if err != nil {
		return nil, fmt.Errorf("telegraph: router: %w", err)
	}
	ignore := make(map[string]bool, len(opts.IgnoreChannels))
	for _, id := range opts.IgnoreChannels {
		ignore[strings.TrimSpace(id)] = true
	}
	return &Router{
		svc:        opts.Service,
		cmdHandler: cmd,
		adapter:    opts.Adapter,
		botUserID:  opts.BotUserID,
		ignore:     ignore,
		log:        opts.Logger,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message, direct message or ignored channel → ignore
//  2. Known "!" command → command handler
//  3. Everything else → dispatch pipeline, reply per outcome signal
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) || msg.IsDirect || r.ignore[msg.ChannelID] {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	log := r.log.With().
		Str("channel", msg.ChannelID).
		Str("user", msg.UserName).
		Str("message", msg.MessageID).
		Logger()
	log.Debug().Str("text", truncate(text, 80)).Msg("recv")

	if response, ok := r.cmdHandler.Execute(ctx, msg); ok {
		log.Debug().Msg("→ command")
		r.send(ctx, log, OutboundMessage{ChannelID: msg.ChannelID, ThreadID: msg.ThreadID, Text: response})
		return
	}

	sig, err := r.svc.HandleMessage(ctx, pipeline.Message{
		ID:         msg.MessageID,
		ChannelID:  msg.ChannelID,
		SenderID:   msg.UserID,
		SenderName: msg.UserName,
		Text:       text,
		ReceivedAt: msg.Timestamp,
	})
	if err != nil {
		log.Error().Err(err).Msg("handle dispatch message")
		return
	}
	r.reply(ctx, log, msg, RenderSignal(sig))
}

// reply delivers a rendered signal. Reactions fall back to a text reply on
// adapters that cannot react.
func (r *Router) reply(ctx context.Context, log zerolog.Logger, msg InboundMessage, rep Reply) {
	if rep.Silent() {
		return
	}
	text := rep.Text
	if rep.React != "" {
		reactor, ok := r.adapter.(Reactor)
		switch {
		case ok && msg.MessageID != "":
			if err := reactor.React(ctx, msg.ChannelID, msg.MessageID, rep.React); err != nil {
				log.Warn().Err(err).Msg("add reaction")
			}
		case text == "":
			text = rep.React
		}
	}
	if text == "" && rep.Event == nil {
		return
	}
	out := OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		ReplyTo:   msg.MessageID,
		Text:      text,
	}
	if rep.Event != nil {
		out.Events = []FormattedEvent{*rep.Event}
	}
	r.send(ctx, log, out)
}

func (r *Router) send(ctx context.Context, log zerolog.Logger, out OutboundMessage) {
	if err := r.adapter.Send(ctx, out); err != nil {
		log.Error().Err(err).Msg("send reply")
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

// truncate returns s truncated to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
