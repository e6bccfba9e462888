package discord

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/davidhoung2/helpbot/internal/telegraph"
)

// --- Mock Discord session ---

type mockSession struct {
	mu           sync.Mutex
	opened       bool
	closeCalled  bool
	openErr      error
	sentMessages []sentMessage
	sendErr      error
	reactions    []addedReaction
	reactErr     error
	handler      interface{}
	removeCount  int
	channels     map[string]*discordgo.Channel // for Channel() lookups
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

type addedReaction struct {
	channelID string
	messageID string
	emoji     string
}

func newMockSession() *mockSession {
	return &mockSession{channels: make(map[string]*discordgo.Channel)}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) Channel(channelID string) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("channel not found: %s", channelID)
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentMessages = append(m.sentMessages, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "msg-123"}, nil
}

func (m *mockSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reactErr != nil {
		return m.reactErr
	}
	m.reactions = append(m.reactions, addedReaction{channelID: channelID, messageID: messageID, emoji: emojiID})
	return nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCount++
	}
}

func (m *mockSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentMessages)
}

func (m *mockSession) lastSent() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentMessages[len(m.sentMessages)-1]
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()

	a, err := New(AdapterOpts{
		Session:   sess,
		ChannelID: "C_DEFAULT",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.botUserID = "BOT_USER_ID"
	return a, sess
}

func userMessage(id, channelID, guildID, text string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        id,
			ChannelID: channelID,
			GuildID:   guildID,
			Content:   text,
			Author:    &discordgo.User{ID: "U_ALICE", Username: "Alice"},
		},
	}
}

func receive(t *testing.T, ch <-chan telegraph.InboundMessage) telegraph.InboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return telegraph.InboundMessage{}
}

func expectNothing(t *testing.T, ch <-chan telegraph.InboundMessage) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q, want to mention bot token", err.Error())
	}
}

func TestNew_WithBotToken(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "test-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatal("expected non-nil adapter")
	}
}

// --- Connect tests ---

func TestConnect_Success(t *testing.T) {
	_, sess := newTestAdapter(t)
	if !sess.opened {
		t.Error("expected session to be opened")
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = fmt.Errorf("gateway unreachable")
	a, _ := New(AdapterOpts{Session: sess})

	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "open gateway") {
		t.Errorf("error = %q, want open gateway", err.Error())
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting a closed adapter")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
}

// --- Listen tests ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestListen_RegistersHandler(t *testing.T) {
	a, sess := newTestAdapter(t)
	if _, err := a.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, ok := sess.handler.(func(*discordgo.Session, *discordgo.MessageCreate)); !ok {
		t.Errorf("handler type = %T, want MessageCreate handler", sess.handler)
	}
}

func TestListen_ReceivesMessages(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a.handleMessage(userMessage("123456789012345678", "C1", "G1", "12/17 軍K-20539"))

	msg := receive(t, ch)
	if msg.Platform != "discord" {
		t.Errorf("platform = %q, want discord", msg.Platform)
	}
	if msg.ChannelID != "C1" {
		t.Errorf("channel = %q, want C1", msg.ChannelID)
	}
	if msg.MessageID != "123456789012345678" {
		t.Errorf("message id = %q", msg.MessageID)
	}
	if msg.UserID != "U_ALICE" || msg.UserName != "Alice" {
		t.Errorf("user = %q/%q, want U_ALICE/Alice", msg.UserID, msg.UserName)
	}
	if msg.Text != "12/17 軍K-20539" {
		t.Errorf("text = %q", msg.Text)
	}
	if msg.IsDirect {
		t.Error("guild message must not be direct")
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp derived from snowflake")
	}
}

func TestListen_DirectMessage(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	a.handleMessage(userMessage("1", "DM1", "", "hi"))

	if msg := receive(t, ch); !msg.IsDirect {
		t.Error("message without guild must be direct")
	}
}

func TestListen_FiltersSelfMessages(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	m := userMessage("1", "C1", "G1", "echo")
	m.Author.ID = "BOT_USER_ID"
	a.handleMessage(m)

	expectNothing(t, ch)
}

func TestListen_FiltersBotMessages(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	m := userMessage("1", "C1", "G1", "beep")
	m.Author.Bot = true
	a.handleMessage(m)

	expectNothing(t, ch)
}

func TestHandleMessage_NilAuthor(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	m := userMessage("1", "C1", "G1", "x")
	m.Author = nil
	a.handleMessage(m)

	expectNothing(t, ch)
}

func TestHandleMessage_ThreadChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.channels["T1"] = &discordgo.Channel{ID: "T1", ParentID: "C1", Type: discordgo.ChannelTypeGuildPublicThread}
	ch, _ := a.Listen(context.Background())

	a.handleMessage(userMessage("1", "T1", "G1", "12/17 軍K-20539"))

	msg := receive(t, ch)
	if msg.ChannelID != "C1" {
		t.Errorf("channel = %q, want parent C1", msg.ChannelID)
	}
	if msg.ThreadID != "T1" {
		t.Errorf("thread = %q, want T1", msg.ThreadID)
	}
}

func TestHandleMessage_AfterCloseDropped(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Listen(context.Background())
	a.Close()

	// Must not panic on the closed inbound channel.
	a.handleMessage(userMessage("1", "C1", "G1", "late"))
}

// --- Send tests ---

func TestSend_SimpleText(t *testing.T) {
	a, sess := newTestAdapter(t)

	err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := sess.lastSent()
	if sent.channelID != "C1" {
		t.Errorf("channel = %q, want C1", sent.channelID)
	}
	if sent.data.Content != "hello" {
		t.Errorf("content = %q, want hello", sent.data.Content)
	}
	if sent.data.Reference != nil {
		t.Error("plain post must not carry a reference")
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := sess.lastSent().channelID; got != "C_DEFAULT" {
		t.Errorf("channel = %q, want C_DEFAULT", got)
	}
}

func TestSend_NoChannel(t *testing.T) {
	sess := newMockSession()
	a, _ := New(AdapterOpts{Session: sess})
	a.Connect(context.Background())

	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSend_WithThreadID(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", ThreadID: "T1", Text: "x"})
	if got := sess.lastSent().channelID; got != "T1" {
		t.Errorf("channel = %q, want thread T1", got)
	}
}

func TestSend_ReplyTo(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", ReplyTo: "M42", Text: "x"})

	ref := sess.lastSent().data.Reference
	if ref == nil {
		t.Fatal("expected message reference")
	}
	if ref.MessageID != "M42" || ref.ChannelID != "C1" {
		t.Errorf("reference = %+v, want M42 in C1", ref)
	}
}

func TestSend_WithEvents(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Send(context.Background(), telegraph.OutboundMessage{
		ChannelID: "C1",
		Text:      "❌ 偵測到日期",
		Events: []telegraph.FormattedEvent{
			{Title: "格式範例", Body: "12/17 軍K-20539", Color: "#cc0000"},
		},
	})

	embeds := sess.lastSent().data.Embeds
	if len(embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(embeds))
	}
	if embeds[0].Title != "格式範例" || embeds[0].Color != 0xcc0000 {
		t.Errorf("embed = %+v", embeds[0])
	}
}

func TestSend_SplitsLongText(t *testing.T) {
	a, sess := newTestAdapter(t)
	line := strings.Repeat("車", 999)
	text := line + "\n" + line + "\n" + line

	err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", ReplyTo: "M1", Text: text})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sess.sentCount() != 2 {
		t.Fatalf("sent = %d, want 2", sess.sentCount())
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.sentMessages[0].data.Reference == nil {
		t.Error("first part must reply to the original message")
	}
	if sess.sentMessages[1].data.Reference != nil {
		t.Error("later parts must not repeat the reference")
	}
	for _, s := range sess.sentMessages {
		if n := len([]rune(s.data.Content)); n > maxContentLen {
			t.Errorf("part has %d chars", n)
		}
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSend_PostError(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.sendErr = fmt.Errorf("missing access")

	err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "missing access") {
		t.Fatalf("err = %v, want missing access", err)
	}
}

// --- React tests ---

func TestReact_Success(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.React(context.Background(), "C1", "M1", telegraph.ReactionSaved); err != nil {
		t.Fatalf("react: %v", err)
	}
	if len(sess.reactions) != 1 {
		t.Fatalf("reactions = %d, want 1", len(sess.reactions))
	}
	r := sess.reactions[0]
	if r.channelID != "C1" || r.messageID != "M1" || r.emoji != "✅" {
		t.Errorf("reaction = %+v", r)
	}
}

func TestReact_Error(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.reactErr = fmt.Errorf("unknown message")
	if err := a.React(context.Background(), "C1", "M1", "✅"); err == nil {
		t.Fatal("expected error")
	}
}

func TestReact_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if err := a.React(context.Background(), "C1", "M1", "✅"); err == nil {
		t.Fatal("expected error")
	}
}

// --- Close tests ---

func TestClose_Success(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sess.closeCalled {
		t.Error("expected session Close")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestClose_RemovesHandler(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Listen(context.Background())
	a.Close()
	if sess.removeCount != 1 {
		t.Errorf("removeCount = %d, want 1", sess.removeCount)
	}
}

// --- Helpers ---

func TestSplitContent(t *testing.T) {
	if got := splitContent("", 10); got != nil {
		t.Errorf("empty = %v, want nil", got)
	}
	got := splitContent("aaaa\nbbbb\ncc", 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cc" {
		t.Errorf("split = %q", got)
	}
	got = splitContent(strings.Repeat("x", 25), 10)
	if len(got) != 3 || got[2] != "xxxxx" {
		t.Errorf("hard split = %q", got)
	}
}

func TestEventToEmbed(t *testing.T) {
	embed := eventToEmbed(telegraph.FormattedEvent{
		Title: "t",
		Body:  "b",
		Color: "#36a64f",
	})
	if embed.Title != "t" || embed.Description != "b" {
		t.Errorf("embed = %+v", embed)
	}
	if embed.Color != 0x36a64f {
		t.Errorf("color = %x", embed.Color)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]int{
		"#36a64f": 0x36a64f,
		"ff0000":  0xff0000,
		"#ABCDEF": 0xabcdef,
		"":        0,
	}
	for in, want := range tests {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %x, want %x", in, got, want)
		}
	}
}

// --- retryOnRateLimit tests ---

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
}

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	a, _ := newTestAdapter(t)
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("some other error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("should not retry non-rate-limit errors, calls = %d", calls)
	}
}

func TestRetryOnRateLimit_RetriesAndSucceeds(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return rateLimited()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return rateLimited()
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := a.retryOnRateLimit(ctx, func() error {
		calls++
		return rateLimited()
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before context cancel, got %d", calls)
	}
}

func TestBotUserID(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.BotUserID() != "BOT_USER_ID" {
		t.Errorf("bot user ID = %q, want BOT_USER_ID", a.BotUserID())
	}
}
