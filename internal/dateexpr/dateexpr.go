// Package dateexpr resolves the short date expressions used in dispatch
// messages ("12/17", "11/19、20", "12/25-27", "12/2(二)") into calendar dates.
package dateexpr

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnresolvable is returned for any expression that is not a well-formed
// single date, day list or day range.
var ErrUnresolvable = errors.New("dateexpr: unresolvable date expression")

// Resolution is the result of resolving one expression.
type Resolution struct {
	// Dates are ascending and unique, at midnight in the reference location.
	Dates []time.Time
	// HasWeekday is set when the expression carried a weekday annotation.
	HasWeekday bool
	Weekday    time.Weekday
	// WeekdayMismatch is set when the annotation disagrees with the first
	// resolved date. The dates themselves are never adjusted.
	WeekdayMismatch bool
}

// Match locates a date expression inside a longer line.
type Match struct {
	Expr  string
	Start int // byte offset into the line
	End   int
}

var normalizer = strings.NewReplacer(
	"／", "/",
	"，", ",",
	"、", ",",
	"－", "-",
	"~", "-",
	"～", "-",
	"（", "(",
	"）", ")",
)

// Normalize folds the fullwidth and alternate separators into their ASCII
// forms: ／ to /, ，and 、 to a comma, －, ~ and ～ to a dash, fullwidth
// parentheses to ASCII.
func Normalize(expr string) string {
	return normalizer.Replace(expr)
}

var (
	// finder is deliberately loose so that malformed expressions are still
	// located and then rejected by Resolve rather than silently truncated.
	finder = regexp.MustCompile(`\d{1,2}\s*[/／]\s*\d{1,2}(?:\s*[-－~～,，、]\s*\d{1,2})*(?:\s*[(（](?:週|周|星期)?[^)）\s][)）])?`)

	strict = regexp.MustCompile(`^(\d{1,2})\s*/\s*(\d{1,2})((?:\s*[-,]\s*\d{1,2})*)\s*(?:\((?:週|周|星期)?(\S)\))?$`)
	tail   = regexp.MustCompile(`\s*([-,])\s*(\d{1,2})`)
)

var weekdays = map[string]time.Weekday{
	"日": time.Sunday,
	"天": time.Sunday,
	"一": time.Monday,
	"二": time.Tuesday,
	"三": time.Wednesday,
	"四": time.Thursday,
	"五": time.Friday,
	"六": time.Saturday,
}

// WeekdayName returns the single-character Chinese weekday for d.
func WeekdayName(d time.Weekday) string {
	return [...]string{"日", "一", "二", "三", "四", "五", "六"}[d]
}

// Find returns the first date-expression-shaped substring of line.
func Find(line string) (Match, bool) {
	loc := finder.FindStringIndex(line)
	if loc == nil {
		return Match{}, false
	}
	return Match{Expr: line[loc[0]:loc[1]], Start: loc[0], End: loc[1]}, true
}

// StartsWithDate reports whether the trimmed line begins with a date.
func StartsWithDate(line string) bool {
	m, ok := Find(strings.TrimSpace(line))
	return ok && m.Start == 0
}

// Resolve turns expr into concrete dates relative to ref. The year is ref's
// year unless the month is before ref's month, in which case it is the next
// year.
func Resolve(expr string, ref time.Time) (Resolution, error) {
	norm := strings.TrimSpace(Normalize(expr))
	m := strict.FindStringSubmatch(norm)
	if m == nil {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnresolvable, expr)
	}

	month, _ := strconv.Atoi(m[1])
	first, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return Resolution{}, fmt.Errorf("%w: %q: month %d", ErrUnresolvable, expr, month)
	}
	year := ref.Year()
	if time.Month(month) < ref.Month() {
		year++
	}

	days, err := expandDays(first, m[3])
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %q: %v", ErrUnresolvable, expr, err)
	}

	limit := daysIn(year, time.Month(month))
	res := Resolution{Dates: make([]time.Time, 0, len(days))}
	for _, d := range days {
		if d < 1 || d > limit {
			return Resolution{}, fmt.Errorf("%w: %q: day %d outside month %d", ErrUnresolvable, expr, d, month)
		}
		res.Dates = append(res.Dates, time.Date(year, time.Month(month), d, 0, 0, 0, 0, ref.Location()))
	}

	if tok := m[4]; tok != "" {
		wd, ok := weekdays[tok]
		if !ok {
			return Resolution{}, fmt.Errorf("%w: %q: weekday %q", ErrUnresolvable, expr, tok)
		}
		res.HasWeekday = true
		res.Weekday = wd
		res.WeekdayMismatch = res.Dates[0].Weekday() != wd
	}
	return res, nil
}

// expandDays interprets the list or range suffix following the first day.
func expandDays(first int, suffix string) ([]int, error) {
	parts := tail.FindAllStringSubmatch(suffix, -1)
	if len(parts) == 0 {
		return []int{first}, nil
	}

	sep := parts[0][1]
	for _, p := range parts[1:] {
		if p[1] != sep {
			return nil, errors.New("mixed list and range separators")
		}
	}

	if sep == "-" {
		if len(parts) > 1 {
			return nil, errors.New("range has more than two ends")
		}
		end, _ := strconv.Atoi(parts[0][2])
		return expandRange(first, end)
	}

	seen := map[int]bool{first: true}
	days := []int{first}
	for _, p := range parts {
		d, _ := strconv.Atoi(p[2])
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days, nil
}

// expandRange lists start..end inclusive. A single-digit end below a start of
// 20 or more borrows the start's tens digit, so 25-7 means 25-27.
func expandRange(start, end int) ([]int, error) {
	if end < start && end < 10 && start >= 20 {
		end = start/10*10 + end
		if end <= start {
			return nil, fmt.Errorf("abbreviated range end not after start %d", start)
		}
	}
	if end < start {
		return nil, fmt.Errorf("range end %d before start %d", end, start)
	}
	days := make([]int, 0, end-start+1)
	for d := start; d <= end; d++ {
		days = append(days, d)
	}
	return days, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
