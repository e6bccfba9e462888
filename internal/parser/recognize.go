package parser

import (
	"regexp"
	"strings"

	"github.com/davidhoung2/helpbot/internal/dateexpr"
)

// Status words that may trail a plate or a task name.
var statusWords = []string{"待搶用車", "用車", "出車", "派車"}

// Words that mark a block as dispatch-related.
var dispatchKeywords = []string{
	"派車", "用車", "出車", "待搶用車", "抗滑", "人員載運",
	"線巡", "觀測", "佈纜", "佈覽", "搶修", "預保",
}

var (
	militaryDash   = regexp.MustCompile(`軍([A-Z]?)(\d*)[-－](\d+)`)
	militaryNoDash = regexp.MustCompile(`軍([A-Z]?)(\d{4,})`)
	civilianPlate  = regexp.MustCompile(`\b[A-Z]{2,4}-\d{3,4}\b`)
	plainNumber    = regexp.MustCompile(`^\s*(\d+)(?:\s|$)`)
	taskLabel      = regexp.MustCompile(`(?:任務說明[:：]?|任務[:：]|說明[:：])\s*(.+)$`)
	fieldLine      = regexp.MustCompile(`^\S{1,4}\s*[:：]`)
	digitsOnly     = regexp.MustCompile(`^\d+$`)
	lazyDeputy     = regexp.MustCompile(`^副隊(?:\s+(\S.*))?$`)
)

// DateField is a date expression found in a line plus the text around it.
type DateField struct {
	Expr   string
	Before string
	After  string
}

// RecognizeDate finds the first date expression in line.
func RecognizeDate(line string) (DateField, bool) {
	m, ok := dateexpr.Find(line)
	if !ok {
		return DateField{}, false
	}
	return DateField{Expr: m.Expr, Before: line[:m.Start], After: line[m.End:]}, true
}

// Plate is a vehicle identifier found in a line.
type Plate struct {
	ID     string // normalized, e.g. 軍K-20539
	Status string // status word directly after the plate, if any
	Start  int
	End    int
}

// RecognizePlate finds the first vehicle plate in line. Military plates
// written without a dash are normalized to the dashed form.
func RecognizePlate(line string) (Plate, bool) {
	var p Plate
	found := false
	consider := func(c Plate) {
		if !found || c.Start < p.Start {
			p, found = c, true
		}
	}
	if m := militaryDash.FindStringSubmatchIndex(line); m != nil {
		consider(Plate{
			ID:    "軍" + line[m[2]:m[3]] + line[m[4]:m[5]] + "-" + line[m[6]:m[7]],
			Start: m[0],
			End:   m[1],
		})
	}
	if m := militaryNoDash.FindStringSubmatchIndex(line); m != nil {
		consider(Plate{
			ID:    "軍" + line[m[2]:m[3]] + "-" + line[m[4]:m[5]],
			Start: m[0],
			End:   m[1],
		})
	}
	if m := civilianPlate.FindStringIndex(line); m != nil {
		consider(Plate{ID: line[m[0]:m[1]], Start: m[0], End: m[1]})
	}
	if !found {
		return Plate{}, false
	}
	rest := line[p.End:]
	for _, w := range statusWords {
		if strings.HasPrefix(rest, w) {
			p.Status = w
			break
		}
	}
	return p, true
}

// RecognizePlates returns every plate in line in order of appearance.
// Offsets are relative to line.
func RecognizePlates(line string) []Plate {
	var out []Plate
	off := 0
	for off < len(line) {
		p, ok := RecognizePlate(line[off:])
		if !ok {
			break
		}
		p.Start += off
		p.End += off
		out = append(out, p)
		off = p.End
	}
	return out
}

// stripPlates removes every plate token from s.
func stripPlates(s string) string {
	s = militaryDash.ReplaceAllString(s, " ")
	s = militaryNoDash.ReplaceAllString(s, " ")
	return civilianPlate.ReplaceAllString(s, " ")
}

// Personnel holds the commander and driver named on one line.
type Personnel struct {
	Commander string
	Driver    string
	// Marked is set when the line carried a 車長, 駕駛 or 副隊 marker, even
	// if the names after it were blank.
	Marked bool
}

// RecognizePersonnel extracts 車長 and 駕駛 values from line. Both markers may
// share a line and the colon after each is optional. A line of the form
// "副隊 楊修" names 副隊 as commander and the rest as driver.
func RecognizePersonnel(line string) Personnel {
	line = strings.TrimSpace(line)
	var p Personnel

	ci := strings.Index(line, "車長")
	di := strings.Index(line, "駕駛")
	if ci >= 0 {
		p.Marked = true
		end := len(line)
		if di > ci {
			end = di
		}
		p.Commander = labelValue(line[ci+len("車長") : end])
	}
	if di >= 0 {
		p.Marked = true
		end := len(line)
		if ci > di {
			end = ci
		}
		p.Driver = labelValue(line[di+len("駕駛") : end])
	}
	if ci < 0 && di < 0 {
		if m := lazyDeputy.FindStringSubmatch(line); m != nil {
			p.Marked = true
			p.Commander = "副隊"
			p.Driver = labelValue(m[1])
		}
	}
	return p
}

// labelValue trims the colon after a label and surrounding separators.
func labelValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, ":： ")
	return strings.TrimSpace(strings.TrimRight(s, " ,，、;；/"))
}

// RecognizeTaskLabel returns the value of a 任務說明, 任務: or 說明: label.
func RecognizeTaskLabel(line string) (string, bool) {
	m := taskLabel.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	v := cutPersonnel(m[1])
	v = strings.TrimSpace(v)
	return v, v != ""
}

// CancelLine is a cancellation notice such as "原定11／11三分隊線巡取消".
type CancelLine struct {
	Expr     string
	Fragment string
}

// RecognizeCancellation matches a line carrying 取消 after a date expression.
// Fragment is the text between the date and 取消.
func RecognizeCancellation(line string) (CancelLine, bool) {
	ci := strings.Index(line, "取消")
	if ci < 0 {
		return CancelLine{}, false
	}
	d, ok := RecognizeDate(line[:ci])
	if !ok {
		return CancelLine{}, false
	}
	frag := strings.TrimSpace(d.After)
	frag = strings.TrimPrefix(frag, "原定")
	return CancelLine{Expr: d.Expr, Fragment: strings.TrimSpace(frag)}, true
}

// cutPersonnel drops anything from the first personnel marker onward.
func cutPersonnel(s string) string {
	for _, marker := range []string{"車長", "駕駛"} {
		if i := strings.Index(s, marker); i >= 0 {
			s = s[:i]
		}
	}
	return s
}

// cleanTask strips plates and trailing status words from a candidate task
// name and returns it with the status word that was removed. A result that is
// empty or only digits is not a task name.
func cleanTask(s string) (task, status string) {
	s = cutPersonnel(s)
	s = strings.Join(strings.Fields(stripPlates(s)), " ")
	for {
		trimmed := false
		for _, w := range statusWords {
			if strings.HasSuffix(s, w) {
				if status == "" {
					status = w
				}
				s = strings.TrimSpace(strings.TrimSuffix(s, w))
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}
	if s == "" || digitsOnly.MatchString(s) {
		return "", status
	}
	return s, status
}

// isDispatchLike reports whether a block has any sign of being a dispatch.
func isDispatchLike(block string) bool {
	if _, ok := RecognizePlate(block); ok {
		return true
	}
	if strings.Contains(block, "車長") || strings.Contains(block, "駕駛") || strings.Contains(block, "副隊") {
		return true
	}
	for _, kw := range dispatchKeywords {
		if strings.Contains(block, kw) {
			return true
		}
	}
	return false
}
