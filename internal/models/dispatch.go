package models

import (
	"strings"
	"time"
)

// DateLayout is the storage format of Dispatch.DispatchDate.
const DateLayout = "2006-01-02"

// Validation states recorded on a stored dispatch. Rejected drafts are never
// stored.
const (
	ValidationAccepted    = "accepted"
	ValidationUnvalidated = "unvalidated"
)

// Dispatch is one active dispatch record: a vehicle or task assigned to a
// commander and driver on a calendar date. At most one row exists per
// (EffectiveKey, DispatchDate).
type Dispatch struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	EffectiveKey  string    `gorm:"size:128;not null;uniqueIndex:ux_dispatch_key_date,priority:1"`
	DispatchDate  string    `gorm:"size:10;not null;uniqueIndex:ux_dispatch_key_date,priority:2;index"`
	VehicleID     string    `gorm:"size:64"`
	TaskName      string    `gorm:"size:255"`
	VehicleStatus string    `gorm:"size:32"`
	Commander     string    `gorm:"size:64"`
	Driver        string    `gorm:"size:64"`
	Validation    string    `gorm:"size:16;not null;default:accepted"`
	SourceExcerpt string    `gorm:"type:text"`
	ChannelID     string    `gorm:"size:128;index"`
	SenderID      string    `gorm:"size:128"`
	MessageID     string    `gorm:"size:128"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName pins the table name to "dispatch".
func (Dispatch) TableName() string { return "dispatch" }

// EffectiveKeyFor returns the deduplication key: the vehicle identifier when
// present, otherwise the task name. Empty means the record has no identifier.
func EffectiveKeyFor(vehicleID, taskName string) string {
	if v := strings.TrimSpace(vehicleID); v != "" {
		return v
	}
	return strings.TrimSpace(taskName)
}

// RefreshKey recomputes EffectiveKey from the identifier fields.
func (d *Dispatch) RefreshKey() {
	d.EffectiveKey = EffectiveKeyFor(d.VehicleID, d.TaskName)
}

// Date parses DispatchDate in loc.
func (d *Dispatch) Date(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, d.DispatchDate, loc)
}

// FormatDate renders t as a DispatchDate value.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
