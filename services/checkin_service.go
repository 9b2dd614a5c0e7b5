package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/checkin/store"
)

// Locker serialises work per key. Lock blocks until the key is free or ctx ends.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CheckInSummary is what a caller sees after a check-in attempt.
type CheckInSummary struct {
	UserID           string    `json:"userId"`
	Outcome          Outcome   `json:"outcome"`
	Count            int       `json:"count"`
	Streak           int       `json:"streak"`
	LastCheckIn      time.Time `json:"lastCheckin"`
	AlreadyCheckedIn bool      `json:"alreadyCheckedIn"`
	Attempts         int       `json:"attempts"`
}

// CheckInService runs the read-evaluate-write cycle for one user per call.
type CheckInService struct {
	store   store.RecordStore
	locker  Locker
	now     func() time.Time
	timeout time.Duration
	logger  *zap.Logger
	onWrite func(userID string)
}

// Option customises a CheckInService.
type Option func(*CheckInService)

// WithLocker guards the read-modify-write with a per-user lock.
func WithLocker(l Locker) Option { return func(s *CheckInService) { s.locker = l } }

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(s *CheckInService) { s.now = now } }

// WithTimeout bounds each call, including lock wait and both store round-trips.
func WithTimeout(d time.Duration) Option { return func(s *CheckInService) { s.timeout = d } }

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option { return func(s *CheckInService) { s.logger = l } }

// WithWriteHook registers a callback run after every successful write, e.g. cache invalidation.
func WithWriteHook(fn func(userID string)) Option { return func(s *CheckInService) { s.onWrite = fn } }

// NewCheckInService creates the service over a record store.
func NewCheckInService(st store.RecordStore, opts ...Option) *CheckInService {
	s := &CheckInService{
		store:   st,
		now:     time.Now,
		timeout: 5 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PerformCheckIn records one check-in attempt for userID.
//
// A lost optimistic write is retried once from a fresh read; a second loss is
// returned as a Conflict error. Store failures are never reported as success.
func (s *CheckInService) PerformCheckIn(ctx context.Context, userID string) (*CheckInSummary, error) {
	if userID == "" {
		return nil, &ServiceError{Kind: KindMalformedInput, Op: "checkin", Err: errors.New("empty user id")}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "checkin:"+userID)
		if err != nil {
			return nil, storeError("lock", err)
		}
		defer unlock()
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		existing, err := s.store.Fetch(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, storeError("fetch", err)
		}
		if errors.Is(err, store.ErrNotFound) {
			existing = nil
		}

		next, outcome := Evaluate(s.now(), existing)
		next.UserID = userID

		err = s.store.Upsert(ctx, next)
		if err == nil {
			s.logger.Info("check-in recorded",
				zap.String("user_id", userID),
				zap.String("outcome", string(outcome)),
				zap.Int("count", next.Count),
				zap.Int("streak", next.Streak),
				zap.Int("attempt", attempt),
			)
			if s.onWrite != nil {
				s.onWrite(userID)
			}
			return &CheckInSummary{
				UserID:           userID,
				Outcome:          outcome,
				Count:            next.Count,
				Streak:           next.Streak,
				LastCheckIn:      *next.LastCheckIn,
				AlreadyCheckedIn: outcome == OutcomeAlreadyCheckedIn,
				Attempts:         attempt,
			}, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, storeError("upsert", err)
		}
		lastErr = err
		s.logger.Warn("check-in write conflicted", zap.String("user_id", userID), zap.Int("attempt", attempt))
	}
	return nil, &ServiceError{Kind: KindConflict, Op: "upsert", Err: lastErr}
}
