// Package store persists dispatch records and owns deduplication.
//
// Every mutation of a record runs inside the per-(effective_key,
// dispatch_date) critical section of a KeyLocker. The unique index on the
// same pair backs the lock when several processes share one database.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davidhoung2/helpbot/internal/db"
	"github.com/davidhoung2/helpbot/internal/metrics"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("store: dispatch not found")
	// ErrKeyCollision is returned when an edit would give a record the
	// (effective_key, dispatch_date) of another live record.
	ErrKeyCollision = errors.New("store: key collides with another dispatch")
	// ErrIncomplete is returned when a record would have neither a vehicle
	// nor a task name.
	ErrIncomplete = errors.New("store: dispatch has no vehicle or task")
	// ErrUnavailable wraps every failure of the underlying database.
	ErrUnavailable = errors.New("store: unavailable")
)

// Status is the result kind of Upsert.
type Status int

const (
	Created Status = iota
	DuplicateSkipped
	KeyCollision
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case DuplicateSkipped:
		return "duplicate_skipped"
	case KeyCollision:
		return "key_collision"
	default:
		return "unknown"
	}
}

// UpsertResult reports what Upsert did. ID is the new record for Created and
// the existing record for DuplicateSkipped.
type UpsertResult struct {
	Status Status
	ID     uint
}

// Changes is a field-level edit. Nil fields are left untouched.
type Changes struct {
	VehicleID     *string
	TaskName      *string
	VehicleStatus *string
	Commander     *string
	Driver        *string
	DispatchDate  *string // YYYY-MM-DD
}

// ListFilter narrows ListActive. Empty fields match everything.
type ListFilter struct {
	From      string // earliest DispatchDate included
	ChannelID string
}

// Opts configures a Store.
type Opts struct {
	DB      *gorm.DB
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Store is the dispatch table.
type Store struct {
	db      *gorm.DB
	locks   *KeyLocker
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Store over an already migrated database.
func New(opts Opts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{
		db:      opts.DB,
		locks:   NewKeyLocker(),
		log:     opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrUnavailable, err)
}

// Upsert inserts rec unless a live record with the same effective key and
// date exists, in which case nothing is modified. rec.ID is set on Created.
func (s *Store) Upsert(ctx context.Context, rec *models.Dispatch) (UpsertResult, error) {
	rec.RefreshKey()
	if rec.EffectiveKey == "" {
		return UpsertResult{}, ErrIncomplete
	}
	if rec.DispatchDate == "" {
		return UpsertResult{}, fmt.Errorf("store: upsert: dispatch date is required")
	}
	if rec.Validation == "" {
		rec.Validation = models.ValidationAccepted
	}

	unlock := s.locks.Lock(lockKey(rec.EffectiveKey, rec.DispatchDate))
	defer unlock()

	var res UpsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByKey(tx, rec.EffectiveKey, rec.DispatchDate)
		if err != nil {
			return err
		}
		if existing != nil {
			res = UpsertResult{Status: DuplicateSkipped, ID: existing.ID}
			return nil
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		res = UpsertResult{Status: Created, ID: rec.ID}
		return nil
	})
	if err != nil && db.IsDuplicateKey(err) {
		// Another process won the insert between our read and write.
		existing, ferr := findByKey(s.db.WithContext(ctx), rec.EffectiveKey, rec.DispatchDate)
		switch {
		case ferr != nil:
			err = ferr
		case existing != nil:
			res, err = UpsertResult{Status: DuplicateSkipped, ID: existing.ID}, nil
		default:
			res, err = UpsertResult{Status: KeyCollision}, nil
		}
	}
	if err != nil {
		s.metrics.ObserveStore("upsert", "error")
		return UpsertResult{}, unavailable("upsert", err)
	}

	s.metrics.ObserveStore("upsert", res.Status.String())
	s.log.Debug().
		Str("key", rec.EffectiveKey).
		Str("date", rec.DispatchDate).
		Uint("id", res.ID).
		Str("status", res.Status.String()).
		Msg("upsert")
	return res, nil
}

func findByKey(tx *gorm.DB, key, date string) (*models.Dispatch, error) {
	var existing models.Dispatch
	err := tx.Where("effective_key = ? AND dispatch_date = ?", key, date).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id uint) (*models.Dispatch, error) {
	var rec models.Dispatch
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return &rec, nil
}

// Delete removes one record.
func (s *Store) Delete(ctx context.Context, id uint) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(lockKey(rec.EffectiveKey, rec.DispatchDate))
	defer unlock()

	result := s.db.WithContext(ctx).Delete(&models.Dispatch{}, id)
	if result.Error != nil {
		s.metrics.ObserveStore("delete", "error")
		return unavailable("delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.metrics.ObserveStore("delete", "ok")
	return nil
}

// maxEditAttempts bounds retries when a concurrent edit moves the record to
// another key between the unlocked read and taking the locks.
const maxEditAttempts = 3

// Edit applies changes to one record and returns the updated row. If the
// effective key or date changes onto another live record the edit is
// rejected with ErrKeyCollision and nothing is modified.
func (s *Store) Edit(ctx context.Context, id uint, ch Changes) (*models.Dispatch, error) {
	for attempt := 0; attempt < maxEditAttempts; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := *cur
		ch.apply(&next)
		next.RefreshKey()
		if next.EffectiveKey == "" {
			return nil, ErrIncomplete
		}

		oldKey := lockKey(cur.EffectiveKey, cur.DispatchDate)
		newKey := lockKey(next.EffectiveKey, next.DispatchDate)
		unlock := s.locks.LockAll(oldKey, newKey)

		rec, err := s.editLocked(ctx, id, ch, oldKey)
		unlock()
		if errors.Is(err, errMoved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("store: edit %d: record kept changing", id)
}

var errMoved = errors.New("store: record moved")

func (s *Store) editLocked(ctx context.Context, id uint, ch Changes, heldKey string) (*models.Dispatch, error) {
	var out *models.Dispatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.Dispatch
		if err := tx.First(&cur, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return unavailable("edit", err)
		}
		if lockKey(cur.EffectiveKey, cur.DispatchDate) != heldKey {
			return errMoved
		}

		next := cur
		ch.apply(&next)
		next.RefreshKey()
		if next.EffectiveKey == "" {
			return ErrIncomplete
		}

		if next.EffectiveKey != cur.EffectiveKey || next.DispatchDate != cur.DispatchDate {
			other, err := findByKey(tx, next.EffectiveKey, next.DispatchDate)
			if err != nil {
				return unavailable("edit", err)
			}
			if other != nil && other.ID != cur.ID {
				return ErrKeyCollision
			}
		}

		if err := tx.Save(&next).Error; err != nil {
			if db.IsDuplicateKey(err) {
				return ErrKeyCollision
			}
			return unavailable("edit", err)
		}
		out = &next
		return nil
	})
	switch {
	case err == nil:
		s.metrics.ObserveStore("edit", "ok")
	case errors.Is(err, ErrKeyCollision):
		s.metrics.ObserveStore("edit", "key_collision")
	case errors.Is(err, ErrUnavailable):
		s.metrics.ObserveStore("edit", "error")
	}
	return out, err
}

func (ch Changes) apply(d *models.Dispatch) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&d.VehicleID, ch.VehicleID)
	set(&d.TaskName, ch.TaskName)
	set(&d.VehicleStatus, ch.VehicleStatus)
	set(&d.Commander, ch.Commander)
	set(&d.Driver, ch.Driver)
	set(&d.DispatchDate, ch.DispatchDate)
}

// ListActive returns records ordered by date then effective key.
func (s *Store) ListActive(ctx context.Context, f ListFilter) ([]models.Dispatch, error) {
	q := s.db.WithContext(ctx).Model(&models.Dispatch{})
	if f.From != "" {
		q = q.Where("dispatch_date >= ?", f.From)
	}
	if f.ChannelID != "" {
		q = q.Where("channel_id = ?", f.ChannelID)
	}
	var out []models.Dispatch
	if err := q.Order("dispatch_date ASC, effective_key ASC").Find(&out).Error; err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// Count returns the number of records dated from onward (all when empty).
func (s *Store) Count(ctx context.Context, from string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Dispatch{})
	if from != "" {
		q = q.Where("dispatch_date >= ?", from)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// PurgeExpired deletes every record dated strictly before today
// (YYYY-MM-DD). Each delete takes the record's key lock.
func (s *Store) PurgeExpired(ctx context.Context, today string) (int, error) {
	var expired []models.Dispatch
	err := s.db.WithContext(ctx).
		Select("id", "effective_key", "dispatch_date").
		Where("dispatch_date < ?", today).
		Find(&expired).Error
	if err != nil {
		return 0, unavailable("purge", err)
	}

	removed := 0
	for _, rec := range expired {
		n, err := s.deleteWhere(ctx, rec, "dispatch_date < ?", today)
		if err != nil {
			return removed, unavailable("purge", err)
		}
		removed += n
	}
	s.metrics.ObserveStore("purge", "ok")
	return removed, nil
}

// CancelMatching deletes the records on date whose task, vehicle or key
// contains fragment. An empty fragment matches every record on that date.
func (s *Store) CancelMatching(ctx context.Context, date, fragment string) (int, error) {
	var onDate []models.Dispatch
	if err := s.db.WithContext(ctx).Where("dispatch_date = ?", date).Find(&onDate).Error; err != nil {
		return 0, unavailable("cancel", err)
	}

	fragment = strings.TrimSpace(fragment)
	removed := 0
	for _, rec := range onDate {
		if fragment != "" && !matchesFragment(rec, fragment) {
			continue
		}
		n, err := s.deleteWhere(ctx, rec, "dispatch_date = ?", date)
		if err != nil {
			return removed, unavailable("cancel", err)
		}
		removed += n
	}
	s.metrics.ObserveStore("cancel", "ok")
	return removed, nil
}

func matchesFragment(rec models.Dispatch, fragment string) bool {
	for _, field := range []string{rec.TaskName, rec.VehicleID, rec.EffectiveKey} {
		if field != "" && (strings.Contains(field, fragment) || strings.Contains(fragment, field)) {
			return true
		}
	}
	return false
}

// deleteWhere removes rec under its key lock, re-checking cond so a record
// edited in the meantime is left alone.
func (s *Store) deleteWhere(ctx context.Context, rec models.Dispatch, cond string, args ...interface{}) (int, error) {
	unlock := s.locks.Lock(lockKey(rec.EffectiveKey, rec.DispatchDate))
	defer unlock()

	result := s.db.WithContext(ctx).
		Where("id = ? AND effective_key = ?", rec.ID, rec.EffectiveKey).
		Where(cond, args...).
		Delete(&models.Dispatch{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
