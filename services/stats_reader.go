package services

import (
	"context"
	"errors"
	"time"

	"github.com/cppla/checkin/store"
)

// StatsSummary is the read-only view of a user's record.
type StatsSummary struct {
	TotalCheckins         int        `json:"totalCheckins"`
	Streak                int        `json:"streak"`
	LastCheckIn           *time.Time `json:"lastCheckin"`
	AlreadyCheckedInToday bool       `json:"alreadyCheckedIn"`
}

// StatsReader loads a record and reports it without writing anything.
type StatsReader struct {
	store   store.RecordStore
	now     func() time.Time
	timeout time.Duration
}

// NewStatsReader creates a reader; now defaults to time.Now when nil.
func NewStatsReader(st store.RecordStore, now func() time.Time, timeout time.Duration) *StatsReader {
	if now == nil {
		now = time.Now
	}
	return &StatsReader{store: st, now: now, timeout: timeout}
}

// GetStats returns the user's totals. An absent record yields a zero summary.
func (r *StatsReader) GetStats(ctx context.Context, userID string) (*StatsSummary, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rec, err := r.store.Fetch(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &StatsSummary{}, nil
	}
	if err != nil {
		return nil, storeError("fetch", err)
	}

	out := &StatsSummary{
		TotalCheckins: rec.Count,
		Streak:        rec.Streak,
		LastCheckIn:   rec.LastCheckIn,
	}
	if rec.LastCheckIn != nil {
		out.AlreadyCheckedInToday = SameUTCDay(*rec.LastCheckIn, r.now())
	}
	return out, nil
}
