// Package validator decides whether a parsed draft may be stored.
package validator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/davidhoung2/helpbot/internal/advisor"
	"github.com/davidhoung2/helpbot/internal/metrics"
	"github.com/davidhoung2/helpbot/internal/parser"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one advisory call when Opts.Timeout is unset.
const DefaultTimeout = 3 * time.Second

// Outcome is the validation decision for one draft.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedIncomplete
	NeedsTaskNameConfirmation
	AcceptedUnvalidated
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedIncomplete:
		return "rejected_incomplete"
	case NeedsTaskNameConfirmation:
		return "needs_task_name_confirmation"
	case AcceptedUnvalidated:
		return "accepted_unvalidated"
	default:
		return "unknown"
	}
}

// Storable reports whether drafts with this outcome are persisted.
func (o Outcome) Storable() bool {
	return o == Accepted || o == AcceptedUnvalidated
}

// Opts configures a Validator.
type Opts struct {
	// Advisor is optional. Without one every complete draft is accepted
	// unvalidated.
	Advisor advisor.Advisor
	Timeout time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Validator applies the completeness rule and the advisory check.
type Validator struct {
	advisor advisor.Advisor
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Validator.
func New(opts Opts) *Validator {
	v := &Validator{
		advisor: opts.Advisor,
		timeout: opts.Timeout,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if v.timeout <= 0 {
		v.timeout = DefaultTimeout
	}
	return v
}

// Validate decides one draft.
func (v *Validator) Validate(ctx context.Context, d parser.Draft) Outcome {
	return v.validate(ctx, d, nil)
}

// ValidateAll decides every draft of one message. Drafts sharing a task name
// share a single advisory call.
func (v *Validator) ValidateAll(ctx context.Context, drafts []parser.Draft) []Outcome {
	memo := make(map[string]Outcome)
	out := make([]Outcome, len(drafts))
	for i, d := range drafts {
		out[i] = v.validate(ctx, d, memo)
	}
	return out
}

// validate classifies one draft. A draft with neither identifier is rejected.
// The advisory call is made only when commander, driver and task name are all
// present; a vehicle-only draft has no task name to judge and is stored
// unvalidated, as is any draft when no advisor is configured.
func (v *Validator) validate(ctx context.Context, d parser.Draft, memo map[string]Outcome) Outcome {
	if !d.Identified() {
		return RejectedIncomplete
	}
	task := strings.TrimSpace(d.TaskName)
	if strings.TrimSpace(d.Commander) == "" || strings.TrimSpace(d.Driver) == "" || task == "" {
		return AcceptedUnvalidated
	}
	if v.advisor == nil {
		return AcceptedUnvalidated
	}
	if memo != nil {
		if o, ok := memo[task]; ok {
			return o
		}
	}
	o := v.check(ctx, task, d.SourceExcerpt)
	if memo != nil {
		memo[task] = o
	}
	return o
}

// check runs the advisory call under its own deadline, detached from the
// caller's cancellation.
func (v *Validator) check(ctx context.Context, task, excerpt string) Outcome {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
	defer cancel()

	start := time.Now()
	verdict, err := v.advisor.CheckTaskName(cctx, task, excerpt)
	elapsed := time.Since(start)

	if err != nil {
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
		v.metrics.ObserveAdvisory(result, elapsed)
		v.log.Warn().Err(err).
			Str("event", "AdvisoryUnavailable").
			Str("task", task).
			Str("result", result).
			Dur("elapsed", elapsed).
			Msg("advisory check unavailable, accepting unvalidated")
		return AcceptedUnvalidated
	}

	v.metrics.ObserveAdvisory(verdict.String(), elapsed)
	v.log.Debug().Str("task", task).Str("verdict", verdict.String()).Dur("elapsed", elapsed).Msg("advisory check")
	switch verdict {
	case advisor.Plausible:
		return Accepted
	case advisor.Implausible:
		return NeedsTaskNameConfirmation
	default:
		return AcceptedUnvalidated
	}
}
