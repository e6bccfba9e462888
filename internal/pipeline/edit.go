package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davidhoung2/helpbot/internal/dateexpr"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/store"
)

var (
	// ErrUnknownField is returned by EditField for a field name it does not
	// know.
	ErrUnknownField = errors.New("pipeline: unknown field")
	// ErrBadValue is returned when a value cannot be applied to its field.
	ErrBadValue = errors.New("pipeline: bad value")
)

// ClearValue empties a field when passed to EditField.
const ClearValue = "-"

// Field is an editable dispatch column.
type Field int

const (
	FieldCommander Field = iota + 1
	FieldDriver
	FieldVehicle
	FieldTask
	FieldDate
	FieldStatus
)

var fieldAliases = map[string]Field{
	"車長":        FieldCommander,
	"commander": FieldCommander,
	"駕駛":        FieldDriver,
	"driver":    FieldDriver,
	"車號":        FieldVehicle,
	"車輛":        FieldVehicle,
	"vehicle":   FieldVehicle,
	"任務":        FieldTask,
	"task":      FieldTask,
	"日期":        FieldDate,
	"date":      FieldDate,
	"狀態":        FieldStatus,
	"status":    FieldStatus,
}

// FieldNames lists the accepted field names in display order.
var FieldNames = []string{"車長", "駕駛", "車號", "任務", "日期", "狀態"}

// ParseField maps a field name or alias to a Field.
func ParseField(name string) (Field, error) {
	f, ok := fieldAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w %q (可用: %s)", ErrUnknownField, name, strings.Join(FieldNames, ", "))
	}
	return f, nil
}

// EditField changes one field of a record. A value of ClearValue empties the
// field. Dates accept any single-day expression the parser understands.
func (s *Service) EditField(ctx context.Context, id uint, field, value string) (*models.Dispatch, error) {
	f, err := ParseField(field)
	if err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)
	if value == ClearValue {
		value = ""
	}

	var ch store.Changes
	switch f {
	case FieldCommander:
		ch.Commander = &value
	case FieldDriver:
		ch.Driver = &value
	case FieldVehicle:
		ch.VehicleID = &value
	case FieldTask:
		ch.TaskName = &value
	case FieldStatus:
		ch.VehicleStatus = &value
	case FieldDate:
		date, err := s.resolveSingleDate(value)
		if err != nil {
			return nil, err
		}
		ch.DispatchDate = &date
	}

	rec, err := s.store.Edit(ctx, id, ch)
	if err != nil {
		return nil, fmt.Errorf("pipeline: edit %d: %w", id, err)
	}
	s.log.Info().Uint("id", id).Str("field", field).Msg("dispatch edited")
	return rec, nil
}

func (s *Service) resolveSingleDate(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: date cannot be cleared", ErrBadValue)
	}
	r, err := dateexpr.Resolve(value, s.now().In(s.loc))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrBadValue, value, err)
	}
	if len(r.Dates) != 1 {
		return "", fmt.Errorf("%w: %q names %d dates", ErrBadValue, value, len(r.Dates))
	}
	return models.FormatDate(r.Dates[0]), nil
}
