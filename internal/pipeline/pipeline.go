// Package pipeline is the inbound surface of helpbot: it runs one chat
// message through parse, validate, store and report, and exposes the list,
// delete, edit and purge operations the chat commands and HTTP API share.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davidhoung2/helpbot/internal/metrics"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/outcome"
	"github.com/davidhoung2/helpbot/internal/parser"
	"github.com/davidhoung2/helpbot/internal/store"
	"github.com/davidhoung2/helpbot/internal/validator"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Message is one inbound chat message.
type Message struct {
	ID         string
	ChannelID  string
	SenderID   string
	SenderName string
	Text       string
	// ReceivedAt is the reference time for date resolution. Zero means now.
	ReceivedAt time.Time
}

// Opts configures a Service.
type Opts struct {
	Store     *store.Store
	Validator *validator.Validator
	Reporter  *outcome.Reporter
	Location  *time.Location
	Now       func() time.Time
	// PerChannelLists scopes ListActive to the asking channel.
	PerChannelLists bool
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Service handles messages and record maintenance.
type Service struct {
	store      *store.Store
	parser     *parser.Parser
	validator  *validator.Validator
	reporter   *outcome.Reporter
	loc        *time.Location
	now        func() time.Time
	perChannel bool
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// New creates a Service. Store is required; the other collaborators default
// to an advisor-less validator and the stock reporter.
func New(opts Opts) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	s := &Service{
		store:      opts.Store,
		validator:  opts.Validator,
		reporter:   opts.Reporter,
		loc:        opts.Location,
		now:        opts.Now,
		perChannel: opts.PerChannelLists,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.validator == nil {
		s.validator = validator.New(validator.Opts{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if s.reporter == nil {
		s.reporter = outcome.NewReporter()
	}
	s.parser = parser.New(parser.Opts{Now: s.now, Location: s.loc})
	return s, nil
}

// Location returns the timezone dates resolve in.
func (s *Service) Location() *time.Location { return s.loc }

// Today returns the current date as a DispatchDate value.
func (s *Service) Today() string {
	return models.FormatDate(s.now().In(s.loc))
}

// Parse previews what HandleMessage would extract from text without touching
// the store.
func (s *Service) Parse(text string) parser.Result {
	return s.parser.Parse(text)
}

// HandleMessage runs one message through the pipeline. A store failure
// aborts the message and is returned; everything else is reported through
// the Signal.
func (s *Service) HandleMessage(ctx context.Context, msg Message) (outcome.Signal, error) {
	log := s.log.With().
		Str("msg_id", ulid.Make().String()).
		Str("channel", msg.ChannelID).
		Str("sender", msg.SenderID).
		Logger()

	ref := msg.ReceivedAt
	if ref.IsZero() {
		ref = s.now()
	}
	res := s.parser.ParseAt(msg.Text, ref.In(s.loc))
	if res.Empty() {
		s.metrics.ObserveMessage(outcome.None.String())
		return outcome.Signal{Kind: outcome.None}, nil
	}

	in := outcome.Input{BadExprs: res.BadExprs}

	for _, c := range res.Cancellations {
		for _, d := range c.Dates {
			n, err := s.store.CancelMatching(ctx, models.FormatDate(d), c.TaskFragment)
			if err != nil {
				s.metrics.ObserveMessage("error")
				return outcome.Signal{}, fmt.Errorf("pipeline: cancel %q: %w", c.Line, err)
			}
			in.Cancelled += n
		}
	}

	verdicts := s.validator.ValidateAll(ctx, res.Drafts)
	for i, d := range res.Drafts {
		dr := outcome.DraftResult{Draft: d, Validation: verdicts[i]}
		if verdicts[i].Storable() {
			rec := s.record(d, verdicts[i], msg)
			up, err := s.store.Upsert(ctx, rec)
			if err != nil {
				s.metrics.ObserveMessage("error")
				return outcome.Signal{}, fmt.Errorf("pipeline: store %s %s: %w", rec.EffectiveKey, rec.DispatchDate, err)
			}
			if up.Status == store.KeyCollision {
				log.Warn().
					Str("key", rec.EffectiveKey).
					Str("date", rec.DispatchDate).
					Msg("unique violation without a conflicting row")
			}
			dr.Upsert = &up
		}
		in.Drafts = append(in.Drafts, dr)
	}

	sig := s.reporter.Report(in)
	s.metrics.ObserveMessage(sig.Kind.String())
	log.Info().
		Str("outcome", sig.Kind.String()).
		Int("drafts", len(res.Drafts)).
		Int("created", len(sig.CreatedIDs)).
		Int("duplicates", len(sig.DuplicateIDs)).
		Int("cancelled", sig.Cancelled).
		Int("incomplete", res.Incomplete).
		Msg("message handled")
	return sig, nil
}

func (s *Service) record(d parser.Draft, v validator.Outcome, msg Message) *models.Dispatch {
	validation := models.ValidationAccepted
	if v == validator.AcceptedUnvalidated {
		validation = models.ValidationUnvalidated
	}
	rec := &models.Dispatch{
		DispatchDate:  models.FormatDate(d.Date),
		VehicleID:     d.VehicleID,
		TaskName:      d.TaskName,
		VehicleStatus: d.VehicleStatus,
		Commander:     d.Commander,
		Driver:        d.Driver,
		Validation:    validation,
		SourceExcerpt: d.SourceExcerpt,
		ChannelID:     msg.ChannelID,
		SenderID:      msg.SenderID,
		MessageID:     msg.ID,
	}
	rec.RefreshKey()
	return rec
}

// ListActive returns the records dated today or later. channelRef scopes
// the list when per-channel lists are enabled.
func (s *Service) ListActive(ctx context.Context, channelRef string) ([]models.Dispatch, error) {
	f := store.ListFilter{From: s.Today()}
	if s.perChannel {
		f.ChannelID = channelRef
	}
	return s.store.ListActive(ctx, f)
}

// DeleteByID removes one record.
func (s *Service) DeleteByID(ctx context.Context, id uint) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("pipeline: delete %d: %w", id, err)
	}
	s.log.Info().Uint("id", id).Msg("dispatch deleted")
	return nil
}

// PurgeNow deletes every record dated before today.
func (s *Service) PurgeNow(ctx context.Context) (int, error) {
	n, err := s.store.PurgeExpired(ctx, s.Today())
	if err != nil {
		return 0, fmt.Errorf("pipeline: purge: %w", err)
	}
	s.log.Info().Int("purged", n).Msg("expired dispatches purged")
	return n, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
