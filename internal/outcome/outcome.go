// Package outcome maps validation and store results for one message to the
// single signal the chat adapter renders.
package outcome

import (
	"fmt"

	"github.com/davidhoung2/helpbot/internal/dateexpr"
	"github.com/davidhoung2/helpbot/internal/parser"
	"github.com/davidhoung2/helpbot/internal/store"
	"github.com/davidhoung2/helpbot/internal/validator"
)

// Kind is the caller-facing outcome of one message.
type Kind int

const (
	None Kind = iota
	Created
	DuplicateSkipped
	NeedsCorrection
	NeedsTaskNameConfirmation
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case DuplicateSkipped:
		return "duplicate_skipped"
	case NeedsCorrection:
		return "needs_correction"
	case NeedsTaskNameConfirmation:
		return "needs_task_name_confirmation"
	case Cancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// DefaultExamples are the accepted message formats shown with a correction
// prompt.
var DefaultExamples = []string{
	"12／17\n軍K-20539 9A觀測所佈覽用車\n車長：上士曾智偉\n駕駛：上士周宗暘",
	"12/25-27 9A觀測所佈纜\n車長:\n駕駛:",
	"11/19、20 三分隊線巡\n車長:\n駕駛:",
	"12/26(五) 任務用車\n車長:\n駕駛:",
}

// Signal is what the adapter renders. DuplicateSkipped and None are silent.
type Signal struct {
	Kind             Kind
	CreatedIDs       []uint
	DuplicateIDs     []uint
	UnconfirmedTasks []string
	BadExprs         []string
	Examples         []string
	Warnings         []string
	Cancelled        int
	Collisions       int
}

// Silent reports whether the adapter should stay quiet.
func (s Signal) Silent() bool {
	return s.Kind == None || s.Kind == DuplicateSkipped
}

// DraftResult is the fate of one draft.
type DraftResult struct {
	Draft      parser.Draft
	Validation validator.Outcome
	// Upsert is nil when the draft was not stored.
	Upsert *store.UpsertResult
}

// Input is everything that happened to one message.
type Input struct {
	BadExprs  []string
	Drafts    []DraftResult
	Cancelled int
}

// Reporter builds Signals.
type Reporter struct {
	examples []string
}

// NewReporter creates a Reporter. Without examples DefaultExamples are used.
func NewReporter(examples ...string) *Reporter {
	if len(examples) == 0 {
		examples = DefaultExamples
	}
	return &Reporter{examples: examples}
}

// Report picks the signal for one message. A correction prompt wins over
// everything, then an acknowledgment (carrying any unconfirmed task names),
// then a confirmation prompt, then a cancellation notice. Duplicates and
// irrelevant messages stay silent.
func (r *Reporter) Report(in Input) Signal {
	var sig Signal
	seenTask := make(map[string]bool)
	for _, dr := range in.Drafts {
		switch dr.Validation {
		case validator.NeedsTaskNameConfirmation:
			if !seenTask[dr.Draft.TaskName] {
				seenTask[dr.Draft.TaskName] = true
				sig.UnconfirmedTasks = append(sig.UnconfirmedTasks, dr.Draft.TaskName)
			}
			continue
		}
		if dr.Upsert == nil {
			continue
		}
		switch dr.Upsert.Status {
		case store.Created:
			sig.CreatedIDs = append(sig.CreatedIDs, dr.Upsert.ID)
			if dr.Draft.WeekdayMismatch {
				sig.Warnings = append(sig.Warnings, weekdayWarning(dr.Draft))
			}
		case store.DuplicateSkipped:
			sig.DuplicateIDs = append(sig.DuplicateIDs, dr.Upsert.ID)
		case store.KeyCollision:
			sig.Collisions++
		}
	}
	sig.Cancelled = in.Cancelled
	sig.BadExprs = in.BadExprs

	switch {
	case len(in.BadExprs) > 0:
		sig.Kind = NeedsCorrection
		sig.Examples = r.examples
	case len(sig.CreatedIDs) > 0:
		sig.Kind = Created
	case len(sig.UnconfirmedTasks) > 0:
		sig.Kind = NeedsTaskNameConfirmation
	case sig.Cancelled > 0:
		sig.Kind = Cancelled
	case len(sig.DuplicateIDs) > 0:
		sig.Kind = DuplicateSkipped
	default:
		sig.Kind = None
	}
	return sig
}

func weekdayWarning(d parser.Draft) string {
	return fmt.Sprintf("%s：%d/%d 是星期%s，請確認日期", d.DateExpr, d.Date.Month(), d.Date.Day(), dateexpr.WeekdayName(d.Date.Weekday()))
}
