package telegraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/davidhoung2/helpbot/internal/dateexpr"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/outcome"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// ReactionSaved acknowledges an ingested message.
const ReactionSaved = "✅"

// EmptyListText is shown when there is nothing to list.
const EmptyListText = "目前沒有派車資訊。"

const separator = "────────────────────"

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// displayDate renders a stored date as M/D(週), falling back to the raw value.
func displayDate(date string, loc *time.Location) string {
	t, err := time.ParseInLocation(models.DateLayout, date, loc)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%d/%d(%s)", t.Month(), t.Day(), dateexpr.WeekdayName(t.Weekday()))
}

// FormatDispatchList renders the dispatch table grouped by date. Records are
// expected in ListActive order.
func FormatDispatchList(recs []models.Dispatch, loc *time.Location) string {
	if len(recs) == 0 {
		return EmptyListText
	}
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	b.WriteString("📋 **派車表單**\n\n")
	for i, r := range recs {
		if i > 0 && r.DispatchDate != recs[i-1].DispatchDate {
			b.WriteString(separator + "\n\n")
		}
		b.WriteString(displayDate(r.DispatchDate, loc) + "\n")
		if r.TaskName != "" {
			fmt.Fprintf(&b, "任務: %s\n", r.TaskName)
		}
		if r.VehicleID != "" {
			fmt.Fprintf(&b, "車號: %s\n", r.VehicleID)
		}
		if r.VehicleStatus != "" && r.TaskName == "" {
			fmt.Fprintf(&b, "狀態: %s\n", r.VehicleStatus)
		}
		fmt.Fprintf(&b, "車長: %s\n", r.Commander)
		fmt.Fprintf(&b, "駕駛: %s\n\n", r.Driver)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatDetailedList renders one line per record including its ID, for use
// with the delete and edit commands.
func FormatDetailedList(recs []models.Dispatch) string {
	if len(recs) == 0 {
		return EmptyListText
	}
	lines := []string{"📋 **派車詳細列表** (含 ID)", ""}
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("**ID: %d** | %s | %s | 車長: %s | 駕駛: %s",
			r.ID, r.DispatchDate, r.EffectiveKey, orEmpty(r.Commander), orEmpty(r.Driver)))
	}
	return strings.Join(lines, "\n")
}

func orEmpty(s string) string {
	if s == "" {
		return "(空)"
	}
	return s
}

// Reply is the chat rendering of one outcome signal. The zero Reply means
// stay silent.
type Reply struct {
	React string // emoji to add to the source message
	Text  string
	Event *FormattedEvent
}

// Silent reports whether the reply sends nothing at all.
func (r Reply) Silent() bool {
	return r.React == "" && r.Text == "" && r.Event == nil
}

// RenderSignal turns an outcome signal into a chat reply.
func RenderSignal(sig outcome.Signal) Reply {
	switch sig.Kind {
	case outcome.Created:
		r := Reply{React: ReactionSaved}
		notes := signalNotes(sig)
		if sig.Cancelled > 0 {
			notes = append(notes, fmt.Sprintf("🗑️ 已取消 %d 筆派車記錄", sig.Cancelled))
		}
		if len(notes) > 0 {
			r.Text = fmt.Sprintf("✅ 派車紀錄已保存 (%d 筆)\n\n%s", len(sig.CreatedIDs), strings.Join(notes, "\n"))
		}
		return r

	case outcome.NeedsCorrection:
		var body strings.Builder
		if len(sig.BadExprs) > 0 {
			fmt.Fprintf(&body, "無法辨識的日期: %s\n\n", strings.Join(sig.BadExprs, ", "))
		}
		body.WriteString("請使用正確的派車格式：\n")
		for _, ex := range sig.Examples {
			fmt.Fprintf(&body, "```\n%s\n```\n", ex)
		}
		body.WriteString("輸入 `!help` 查看完整格式說明。")
		r := Reply{
			Text: "❌ 偵測到日期，但格式不符合派車資訊。",
			Event: &FormattedEvent{
				Title:    "派車格式說明",
				Body:     body.String(),
				Severity: "warning",
				Color:    severityColor("warning"),
			},
		}
		// Other blocks of the same message may still have been stored.
		var notes []string
		if len(sig.CreatedIDs) > 0 {
			notes = append(notes, fmt.Sprintf("✅ 其餘派車紀錄已保存 (%d 筆)", len(sig.CreatedIDs)))
		}
		if sig.Cancelled > 0 {
			notes = append(notes, fmt.Sprintf("🗑️ 已取消 %d 筆派車記錄", sig.Cancelled))
		}
		notes = append(notes, signalNotes(sig)...)
		if len(sig.CreatedIDs) > 0 || sig.Cancelled > 0 {
			r.React = ReactionSaved
		}
		if len(notes) > 0 {
			r.Text += "\n" + strings.Join(notes, "\n")
		}
		return r

	case outcome.NeedsTaskNameConfirmation:
		return Reply{
			Text: fmt.Sprintf("⚠️ 任務名稱「%s」看起來不像有效的任務，未儲存。請確認後重新傳送。",
				strings.Join(sig.UnconfirmedTasks, "」、「")),
		}

	case outcome.Cancelled:
		return Reply{
			React: ReactionSaved,
			Text:  fmt.Sprintf("🗑️ 已取消 %d 筆派車記錄。", sig.Cancelled),
		}
	}
	return Reply{}
}

// signalNotes lists unconfirmed task names and weekday warnings.
func signalNotes(sig outcome.Signal) []string {
	var notes []string
	for _, task := range sig.UnconfirmedTasks {
		notes = append(notes, fmt.Sprintf("⚠️ 任務名稱待確認，未儲存: %s", task))
	}
	for _, w := range sig.Warnings {
		notes = append(notes, "⚠️ "+w)
	}
	return notes
}

// helpText lists the chat commands and the accepted message formats.
func helpText() string {
	return "📋 **派車管理指令**\n\n" +
		"**查詢指令:**\n" +
		"`!派車` / `!dispatch` - 查看派車表單\n" +
		"`!派車列表` / `!詳細派車` - 查看含 ID 的詳細列表\n" +
		"`!myid` - 查看你的用戶 ID\n\n" +
		"**管理指令:**\n" +
		"`!編輯 <ID> <欄位> <新值>` - 修改記錄 (欄位: 車長, 駕駛, 車號, 任務, 日期, 狀態；新值 `-` 代表清空)\n" +
		"`!刪除 <ID>` - 刪除指定記錄\n" +
		"`!清除派車` / `!dispatch_clear` - 清除所有過期記錄\n\n" +
		"**自動功能:**\n" +
		"✅ 自動偵測派車訊息，包含日期加車號或任務會自動儲存\n" +
		"```\n" + outcome.DefaultExamples[0] + "\n```\n" +
		"✅ 自動偵測取消，包含日期加「取消」會自動刪除\n" +
		"  • 範例: `原定11/11三分隊線巡取消`"
}
