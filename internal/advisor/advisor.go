// Package advisor defines the best-effort task-name plausibility check and
// the stub implementations used in tests and when no provider is configured.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Verdict is the outcome of a plausibility check.
type Verdict int

const (
	Unknown Verdict = iota
	Plausible
	Implausible
)

func (v Verdict) String() string {
	switch v {
	case Plausible:
		return "plausible"
	case Implausible:
		return "implausible"
	default:
		return "unknown"
	}
}

// ErrNoVerdict is returned when a provider reply is neither yes nor no.
var ErrNoVerdict = errors.New("advisor: reply carried no verdict")

// Advisor judges whether a task name looks like a real dispatch task.
type Advisor interface {
	CheckTaskName(ctx context.Context, taskName, excerpt string) (Verdict, error)
}

// Func adapts a function to the Advisor interface.
type Func func(ctx context.Context, taskName, excerpt string) (Verdict, error)

// CheckTaskName calls f.
func (f Func) CheckTaskName(ctx context.Context, taskName, excerpt string) (Verdict, error) {
	return f(ctx, taskName, excerpt)
}

// Prompt builds the classification prompt shared by all LLM providers.
func Prompt(taskName, excerpt string) string {
	var b strings.Builder
	b.WriteString("判斷以下文字是否為軍事任務名稱或派車任務說明。\n\n")
	fmt.Fprintf(&b, "文字: %q\n\n", taskName)
	if excerpt = strings.TrimSpace(excerpt); excerpt != "" {
		fmt.Fprintf(&b, "原始訊息:\n%s\n\n", excerpt)
	}
	b.WriteString("軍事任務名稱範例:\n- 9A觀測所佈覽\n- 三分隊線巡\n- 連排線巡\n- 95砲指揮車巡視\n- 兩棲登陸演習\n\n")
	b.WriteString("非任務名稱範例:\n- 待搶用車\n- 用車\n- 派車\n- 出車\n- 人員載運\n- 副隊\n- 輜重隊\n\n")
	b.WriteString(`請只回答 "是" 或 "否"，不要其他說明。`)
	return b.String()
}

// ParseVerdict reads a yes/no reply in Chinese or English.
func ParseVerdict(reply string) (Verdict, error) {
	r := strings.ToLower(strings.TrimSpace(reply))
	r = strings.Trim(r, "\"'「」。.!！ ")
	// English answers count only as a whole leading word, so "none" or
	// "not sure" stay undecided.
	word := r
	if i := strings.IndexAny(r, " ,;:.!?\n"); i >= 0 {
		word = r[:i]
	}
	switch {
	case r == "":
		return Unknown, ErrNoVerdict
	case strings.Contains(r, "否"), strings.Contains(r, "不是"), word == "no":
		return Implausible, nil
	case strings.Contains(r, "是"), word == "yes":
		return Plausible, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrNoVerdict, reply)
}

// Always returns an advisor that answers v for every task.
func Always(v Verdict) Advisor {
	return Func(func(context.Context, string, string) (Verdict, error) {
		return v, nil
	})
}

// Hang returns an advisor that blocks until its context is done.
func Hang() Advisor {
	return Func(func(ctx context.Context, _, _ string) (Verdict, error) {
		<-ctx.Done()
		return Unknown, ctx.Err()
	})
}

// Failing returns an advisor that always fails with err.
func Failing(err error) Advisor {
	return Func(func(context.Context, string, string) (Verdict, error) {
		return Unknown, err
	})
}

// Counting wraps an advisor and counts calls.
type Counting struct {
	Next  Advisor
	calls atomic.Int64
}

// CheckTaskName records the call and delegates to Next.
func (c *Counting) CheckTaskName(ctx context.Context, taskName, excerpt string) (Verdict, error) {
	c.calls.Add(1)
	return c.Next.CheckTaskName(ctx, taskName, excerpt)
}

// Calls returns the number of calls so far.
func (c *Counting) Calls() int {
	return int(c.calls.Load())
}
