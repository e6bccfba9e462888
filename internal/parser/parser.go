// Package parser turns free-form chat messages into dispatch drafts.
//
// A message is split into blocks, one per line that starts with a date.
// Each block is read with the small recognizers in recognize.go and yields
// one draft per resolved date.
package parser

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/davidhoung2/helpbot/internal/dateexpr"
)

// MaxExcerptRunes bounds Draft.SourceExcerpt.
const MaxExcerptRunes = 500

// Draft is one candidate dispatch record. Empty strings mean the field was
// not present in the message.
type Draft struct {
	Date            time.Time
	DateExpr        string
	VehicleID       string
	TaskName        string
	VehicleStatus   string
	Commander       string
	Driver          string
	WeekdayMismatch bool
	SourceExcerpt   string
}

// Identified reports whether the draft names a vehicle or a task.
func (d Draft) Identified() bool {
	return strings.TrimSpace(d.VehicleID) != "" || strings.TrimSpace(d.TaskName) != ""
}

// Cancellation is a request to remove records for the given dates whose task
// name contains TaskFragment.
type Cancellation struct {
	Dates        []time.Time
	TaskFragment string
	Line         string
}

// Result is everything recognized in one message.
type Result struct {
	Drafts []Draft
	// NeedsCorrection is set when a dispatch-like block carried a date
	// expression that could not be resolved. BadExprs lists them.
	NeedsCorrection bool
	BadExprs        []string
	Cancellations   []Cancellation
	// Incomplete counts dispatch-like blocks skipped for lack of a vehicle
	// or task.
	Incomplete int
}

// Empty reports whether nothing actionable was found.
func (r Result) Empty() bool {
	return len(r.Drafts) == 0 && !r.NeedsCorrection && len(r.Cancellations) == 0
}

// Opts configures a Parser.
type Opts struct {
	// Now supplies the reference date. Defaults to time.Now.
	Now func() time.Time
	// Location is the timezone dates resolve in. Defaults to time.Local.
	Location *time.Location
}

// Parser resolves messages relative to the current date.
type Parser struct {
	now func() time.Time
	loc *time.Location
}

// New creates a Parser.
func New(opts Opts) *Parser {
	p := &Parser{now: opts.Now, loc: opts.Location}
	if p.now == nil {
		p.now = time.Now
	}
	if p.loc == nil {
		p.loc = time.Local
	}
	return p
}

// Parse reads text relative to today.
func (p *Parser) Parse(text string) Result {
	return p.ParseAt(text, p.now().In(p.loc))
}

// ParseAt reads text with ref as the reference date.
func (p *Parser) ParseAt(text string, ref time.Time) Result {
	var res Result
	var lines []string
	for _, line := range splitLines(text) {
		if c, ok := RecognizeCancellation(line); ok {
			r, err := dateexpr.Resolve(c.Expr, ref)
			if err != nil {
				res.NeedsCorrection = true
				res.BadExprs = append(res.BadExprs, c.Expr)
				continue
			}
			res.Cancellations = append(res.Cancellations, Cancellation{
				Dates:        r.Dates,
				TaskFragment: c.Fragment,
				Line:         strings.TrimSpace(line),
			})
			continue
		}
		lines = append(lines, line)
	}

	for _, block := range splitBlocks(lines) {
		p.parseBlock(block, ref, &res)
	}
	return res
}

func (p *Parser) parseBlock(block []string, ref time.Time, res *Result) {
	joined := strings.Join(block, "\n")
	if !isDispatchLike(joined) {
		return
	}

	dateIdx := -1
	var df DateField
	for i, line := range block {
		if f, ok := RecognizeDate(line); ok {
			dateIdx, df = i, f
			break
		}
	}
	if dateIdx < 0 {
		return
	}

	resolved, err := dateexpr.Resolve(df.Expr, ref)
	if err != nil {
		res.NeedsCorrection = true
		res.BadExprs = append(res.BadExprs, df.Expr)
		return
	}

	f := extractFields(block, dateIdx, df)
	if len(f.vehicles) == 0 && f.task == "" {
		res.Incomplete++
		return
	}

	excerpt := Excerpt(joined, MaxExcerptRunes)
	vehicles := f.vehicles
	if len(vehicles) == 0 {
		vehicles = []Plate{{}}
	}
	for _, v := range vehicles {
		status := v.Status
		if status == "" {
			status = f.status
		}
		for _, d := range resolved.Dates {
			res.Drafts = append(res.Drafts, Draft{
				Date:            d,
				DateExpr:        df.Expr,
				VehicleID:       v.ID,
				TaskName:        f.task,
				VehicleStatus:   status,
				Commander:       f.commander,
				Driver:          f.driver,
				WeekdayMismatch: resolved.WeekdayMismatch,
				SourceExcerpt:   excerpt,
			})
		}
	}
}

// fields are the values shared by every draft of a block. Each distinct
// plate in vehicles yields its own drafts; status applies to plates that
// carry no status word of their own.
type fields struct {
	vehicles  []Plate
	task      string
	status    string
	commander string
	driver    string
}

func extractFields(block []string, dateIdx int, df DateField) fields {
	var f fields
	joined := strings.Join(block, "\n")

	seen := make(map[string]bool)
	for _, line := range block {
		for _, pl := range RecognizePlates(line) {
			if seen[pl.ID] {
				continue
			}
			seen[pl.ID] = true
			f.vehicles = append(f.vehicles, pl)
		}
	}
	after := df.After
	if len(f.vehicles) == 0 {
		if m := plainNumber.FindStringSubmatch(after); m != nil {
			f.vehicles = []Plate{{ID: m[1]}}
			after = after[len(m[0]):]
		}
	}

	for _, line := range block {
		per := RecognizePersonnel(line)
		if f.commander == "" {
			f.commander = per.Commander
		}
		if f.driver == "" {
			f.driver = per.Driver
		}
	}

	var taskStatus string
	for _, line := range block {
		if v, ok := RecognizeTaskLabel(line); ok {
			f.task, taskStatus = cleanTask(v)
			break
		}
	}
	if f.task == "" {
		f.task, taskStatus = cleanTask(after)
	}
	if f.task == "" && dateIdx+1 < len(block) {
		next := strings.TrimSpace(block[dateIdx+1])
		if !isFieldLine(next) {
			f.task, taskStatus = cleanTask(next)
		}
	}

	if f.status == "" {
		f.status = taskStatus
	}
	if f.status == "" {
		switch {
		case strings.Contains(joined, "待搶用車"):
			f.status = "待搶用車"
		case strings.Contains(joined, "人員載運"):
			f.status = "人員載運用車"
		}
	}
	return f
}

// isFieldLine reports whether line is a labeled field rather than free text.
func isFieldLine(line string) bool {
	if line == "" {
		return true
	}
	if RecognizePersonnel(line).Marked {
		return true
	}
	if _, ok := RecognizeTaskLabel(line); ok {
		return true
	}
	return fieldLine.MatchString(line)
}

// splitBlocks groups lines into blocks that each begin with a date line.
// Lines before the first date line are dropped. A message whose only date
// sits mid-line is read as a single block.
func splitBlocks(lines []string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if dateexpr.StartsWithDate(line) {
			if cur != nil {
				blocks = append(blocks, cur)
			}
			cur = []string{line}
			continue
		}
		if cur != nil {
			cur = append(cur, line)
		}
	}
	if cur != nil {
		blocks = append(blocks, cur)
	}
	if len(blocks) == 0 {
		var all []string
		found := false
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, ok := RecognizeDate(line); ok {
				found = true
			}
			all = append(all, line)
		}
		if found {
			blocks = append(blocks, all)
		}
	}
	return blocks
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// Excerpt returns s truncated to at most n runes.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
