package telegraph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/outcome"
	"github.com/davidhoung2/helpbot/internal/pipeline"
	"github.com/davidhoung2/helpbot/internal/store"
)

// DispatchService is the pipeline surface the chat bridge drives.
type DispatchService interface {
	HandleMessage(ctx context.Context, msg pipeline.Message) (outcome.Signal, error)
	ListActive(ctx context.Context, channelRef string) ([]models.Dispatch, error)
	DeleteByID(ctx context.Context, id uint) error
	EditField(ctx context.Context, id uint, field, value string) (*models.Dispatch, error)
	PurgeNow(ctx context.Context) (int, error)
	Location() *time.Location
}

var _ DispatchService = (*pipeline.Service)(nil)

// command names, matched case-insensitively against the first word.
var (
	listCommands   = []string{"!派車", "!dispatch", "!派車表", "派車表", "查派車"}
	detailCommands = []string{"!派車列表", "!dispatch_list", "!詳細派車"}
	purgeCommands  = []string{"!清除派車", "!dispatch_clear"}
	deleteCommands = []string{"!刪除", "!delete"}
	editCommands   = []string{"!編輯", "!edit"}
	helpCommands   = []string{"!help", "!指令"}
	myIDCommands   = []string{"!myid"}
)

// CommandHandler processes the "!" chat commands.
type CommandHandler struct {
	svc DispatchService
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Service DispatchService
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("telegraph: command handler: service is required")
	}
	return &CommandHandler{svc: opts.Service}, nil
}

// Execute runs a command and returns the response text. ok is false when
// text is not a command, in which case it should be ingested instead.
func (ch *CommandHandler) Execute(ctx context.Context, msg InboundMessage) (response string, ok bool) {
	args := strings.Fields(strings.TrimSpace(msg.Text))
	if len(args) == 0 {
		return "", false
	}
	name := strings.ToLower(args[0])

	switch {
	case oneOf(name, listCommands):
		return ch.cmdList(ctx, msg.ChannelID), true
	case oneOf(name, detailCommands):
		return ch.cmdDetail(ctx, msg.ChannelID), true
	case oneOf(name, purgeCommands):
		return ch.cmdPurge(ctx), true
	case oneOf(name, deleteCommands):
		return ch.cmdDelete(ctx, args[1:]), true
	case oneOf(name, editCommands):
		return ch.cmdEdit(ctx, args[1:]), true
	case oneOf(name, helpCommands):
		return helpText(), true
	case oneOf(name, myIDCommands):
		return fmt.Sprintf("你的用戶 ID 是: `%s`", msg.UserID), true
	}
	return "", false
}

func oneOf(name string, set []string) bool {
	for _, s := range set {
		if name == s {
			return true
		}
	}
	return false
}

func (ch *CommandHandler) cmdList(ctx context.Context, channelID string) string {
	recs, err := ch.svc.ListActive(ctx, channelID)
	if err != nil {
		return fmt.Sprintf("❌ 取得派車資訊時發生錯誤：%v", err)
	}
	return FormatDispatchList(recs, ch.svc.Location())
}

func (ch *CommandHandler) cmdDetail(ctx context.Context, channelID string) string {
	recs, err := ch.svc.ListActive(ctx, channelID)
	if err != nil {
		return fmt.Sprintf("❌ 取得列表時發生錯誤：%v", err)
	}
	return FormatDetailedList(recs)
}

func (ch *CommandHandler) cmdPurge(ctx context.Context) string {
	n, err := ch.svc.PurgeNow(ctx)
	if err != nil {
		return fmt.Sprintf("❌ 清除派車記錄時發生錯誤：%v", err)
	}
	return fmt.Sprintf("🗑️ 已刪除 %d 筆過期的派車記錄。", n)
}

func (ch *CommandHandler) cmdDelete(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "❌ 請提供要刪除的記錄 ID。用法: `!刪除 <ID>`"
	}
	id, err := parseID(args[0])
	if err != nil {
		return "❌ ID 必須是數字。"
	}
	if err := ch.svc.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("❌ 找不到記錄 ID: %d", id)
		}
		return fmt.Sprintf("❌ 刪除時發生錯誤：%v", err)
	}
	return fmt.Sprintf("✅ 已刪除記錄 ID: %d", id)
}

func (ch *CommandHandler) cmdEdit(ctx context.Context, args []string) string {
	if len(args) < 3 {
		return "❌ 用法: `!編輯 <ID> <欄位> <新值>`\n欄位: " + strings.Join(pipeline.FieldNames, ", ")
	}
	id, err := parseID(args[0])
	if err != nil {
		return "❌ ID 必須是數字。"
	}
	field, value := args[1], strings.Join(args[2:], " ")

	rec, err := ch.svc.EditField(ctx, id, field, value)
	switch {
	case err == nil:
		if value == pipeline.ClearValue {
			value = "(空)"
		}
		return fmt.Sprintf("✅ 已更新記錄 ID %d 的%s為: %s", rec.ID, field, value)
	case errors.Is(err, pipeline.ErrUnknownField):
		return "❌ 不支援的欄位。可用欄位: " + strings.Join(pipeline.FieldNames, ", ")
	case errors.Is(err, pipeline.ErrBadValue):
		return fmt.Sprintf("❌ 無法使用的值: %s (日期需為單一日期，例如 12/17)", value)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("❌ 找不到記錄 ID: %d", id)
	case errors.Is(err, store.ErrKeyCollision):
		return "❌ 同一天已有相同車號或任務的記錄。"
	case errors.Is(err, store.ErrIncomplete):
		return "❌ 車號與任務不可同時清空。"
	default:
		return fmt.Sprintf("❌ 編輯時發生錯誤：%v", err)
	}
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}
