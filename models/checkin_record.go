package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CheckInRecord is the single per-user row holding totals, streak and the attempt log.
// Column names match the Supabase `users` table so imported rows line up.
type CheckInRecord struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	UserID      string     `gorm:"column:userid;size:64;not null;uniqueIndex" json:"userid"`
	LastCheckIn *time.Time `gorm:"column:lastcheckin;index" json:"lastcheckin"`
	Count       int        `gorm:"column:count;not null;default:0" json:"count"`
	Streak      int        `gorm:"column:streak;not null;default:0" json:"streak"`
	// History is an attempt log: one entry per check-in call, same-day duplicates included.
	History datatypes.JSONSlice[time.Time] `gorm:"column:checkinhistory" json:"checkinhistory"`
	// Version guards the read-modify-write and advances on every successful write.
	Version   int64     `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`

	persisted bool
}

// TableName keeps the legacy table name.
func (CheckInRecord) TableName() string {
	return "users"
}

// AfterFind marks rows loaded through gorm as already stored.
func (r *CheckInRecord) AfterFind(tx *gorm.DB) error {
	r.persisted = true
	return nil
}

// MarkPersisted flags the record as present in the store.
func (r *CheckInRecord) MarkPersisted() { r.persisted = true }

// Persisted reports whether the record was loaded from, or written to, the store.
func (r *CheckInRecord) Persisted() bool { return r != nil && r.persisted }

// Clone returns a deep copy so callers can mutate it without touching the source record.
func (r *CheckInRecord) Clone() *CheckInRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.LastCheckIn != nil {
		t := *r.LastCheckIn
		out.LastCheckIn = &t
	}
	if r.History != nil {
		out.History = make(datatypes.JSONSlice[time.Time], len(r.History))
		copy(out.History, r.History)
	}
	return &out
}
