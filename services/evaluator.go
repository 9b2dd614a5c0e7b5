package services

import (
	"time"

	"gorm.io/datatypes"

	"github.com/cppla/checkin/models"
)

// Outcome classifies a single check-in attempt.
type Outcome string

const (
	OutcomeFirstCheckIn     Outcome = "first_checkin"
	OutcomeAlreadyCheckedIn Outcome = "already_checked_in"
	OutcomeStreakContinued  Outcome = "streak_continued"
	OutcomeStreakReset      Outcome = "streak_reset"
)

// UTCDay truncates t to midnight of its UTC calendar date.
func UTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar date.
func SameUTCDay(a, b time.Time) bool {
	return UTCDay(a).Equal(UTCDay(b))
}

// Evaluate computes the record that results from a check-in attempt at now.
// It never mutates existing and never fails.
//
// A stored record without a usable lastCheckIn (imported rows, or a timestamp
// the store could not parse) restarts count and streak at 1 but keeps its history.
// A lastCheckIn dated after today is clock skew and resets the streak.
func Evaluate(now time.Time, existing *models.CheckInRecord) (*models.CheckInRecord, Outcome) {
	now = now.UTC()

	if existing == nil {
		return &models.CheckInRecord{
			LastCheckIn: &now,
			Count:       1,
			Streak:      1,
			History:     datatypes.JSONSlice[time.Time]{now},
		}, OutcomeFirstCheckIn
	}

	next := existing.Clone()
	next.History = append(next.History, now)

	if existing.LastCheckIn == nil {
		next.LastCheckIn = &now
		next.Count = 1
		next.Streak = 1
		return next, OutcomeFirstCheckIn
	}

	lastDay := UTCDay(*existing.LastCheckIn)
	today := UTCDay(now)
	yesterday := today.AddDate(0, 0, -1)

	var outcome Outcome
	switch {
	case lastDay.Equal(today):
		return next, OutcomeAlreadyCheckedIn
	case lastDay.Equal(yesterday):
		next.Streak = existing.Streak + 1
		outcome = OutcomeStreakContinued
	case lastDay.After(today):
		next.Streak = 1
		outcome = OutcomeStreakReset
	default:
		next.Streak = 1
		outcome = OutcomeStreakReset
	}

	next.LastCheckIn = &now
	next.Count = existing.Count + 1
	return next, outcome
}
