package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"go.uber.org/zap"

	"github.com/cppla/checkin/models"
)

// PostgrestStore keeps records in a Supabase table through its REST interface.
type PostgrestStore struct {
	client *postgrest.Client
	logger *zap.Logger
}

// NewPostgrestStore builds a client for a Supabase project URL (without /rest/v1).
func NewPostgrestStore(projectURL, apiKey, schema string, logger *zap.Logger) *PostgrestStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := map[string]string{
		"apikey":        apiKey,
		"Authorization": "Bearer " + apiKey,
	}
	base := strings.TrimRight(projectURL, "/") + "/rest/v1"
	return &PostgrestStore{
		client: postgrest.NewClient(base, schema, headers),
		logger: logger,
	}
}

// postgrestRow mirrors the table loosely: imported rows may hold numbers as floats,
// timestamps in several layouts and history as either an array or a JSON string.
type postgrestRow struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userid"`
	LastCheckIn *string         `json:"lastcheckin"`
	Count       *float64        `json:"count"`
	Streak      *float64        `json:"streak"`
	History     json.RawMessage `json:"checkinhistory"`
	Version     int64           `json:"version"`
	CreatedAt   *string         `json:"created_at,omitempty"`
	UpdatedAt   *string         `json:"updated_at,omitempty"`
}

type postgrestWrite struct {
	ID          string      `json:"id,omitempty"`
	UserID      string      `json:"userid"`
	LastCheckIn *time.Time  `json:"lastcheckin"`
	Count       int         `json:"count"`
	Streak      int         `json:"streak"`
	History     []time.Time `json:"checkinhistory"`
	Version     int64       `json:"version"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Fetch loads the record for userID.
func (s *PostgrestStore) Fetch(ctx context.Context, userID string) (*models.CheckInRecord, error) {
	var rows []postgrestRow
	err := withContext(ctx, func() error {
		_, err := s.client.From(TableName).
			Select("*", "", false).
			Eq("userid", userID).
			Limit(1, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, classifyPostgrestError(err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return s.toRecord(rows[0]), nil
}

// Upsert inserts a never-stored record, or PATCHes a stored one conditioned on its version.
func (s *PostgrestStore) Upsert(ctx context.Context, rec *models.CheckInRecord) error {
	now := time.Now().UTC()
	body := postgrestWrite{
		UserID:      rec.UserID,
		LastCheckIn: rec.LastCheckIn,
		Count:       rec.Count,
		Streak:      rec.Streak,
		History:     []time.Time(rec.History),
		UpdatedAt:   now,
	}
	if body.History == nil {
		body.History = []time.Time{}
	}

	var rows []postgrestRow
	if !rec.Persisted() {
		if rec.ID == "" {
			rec.ID = rec.UserID
		}
		body.ID = rec.ID
		body.Version = 1
		err := withContext(ctx, func() error {
			_, err := s.client.From(TableName).
				Insert(body, false, "", "representation", "").
				ExecuteTo(&rows)
			return err
		})
		if err != nil {
			return classifyPostgrestError(err)
		}
		rec.Version = 1
		rec.UpdatedAt = now
		rec.MarkPersisted()
		return nil
	}

	body.Version = rec.Version + 1
	err := withContext(ctx, func() error {
		_, err := s.client.From(TableName).
			Update(body, "representation", "").
			Eq("userid", rec.UserID).
			Eq("version", strconv.FormatInt(rec.Version, 10)).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return classifyPostgrestError(err)
	}
	if len(rows) == 0 {
		return ErrConflict
	}
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// ListUsers returns one page ordered by last check-in descending, nulls last.
func (s *PostgrestStore) ListUsers(ctx context.Context, page, pageSize int) ([]models.CheckInRecord, int64, error) {
	var rows []postgrestRow
	var total int64
	from := (page - 1) * pageSize
	err := withContext(ctx, func() error {
		count, err := s.client.From(TableName).
			Select("*", "exact", false).
			Order("lastcheckin", &postgrest.OrderOpts{Ascending: false, NullsFirst: false}).
			Range(from, from+pageSize-1, "").
			ExecuteTo(&rows)
		total = int64(count)
		return err
	})
	if err != nil {
		return nil, 0, classifyPostgrestError(err)
	}
	out := make([]models.CheckInRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, *s.toRecord(r))
	}
	return out, total, nil
}

// InsertRows bulk-inserts imported rows in a single request.
func (s *PostgrestStore) InsertRows(ctx context.Context, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ok, err := s.TableExists(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrTableMissing
	}
	err = withContext(ctx, func() error {
		_, _, err := s.client.From(TableName).
			Insert(rows, false, "", "minimal", "").
			Execute()
		return err
	})
	if err != nil {
		return 0, classifyPostgrestError(err)
	}
	return len(rows), nil
}

// TableExists probes the table with a one-row select.
func (s *PostgrestStore) TableExists(ctx context.Context) (bool, error) {
	err := withContext(ctx, func() error {
		_, _, err := s.client.From(TableName).Select("id", "", false).Limit(1, "").Execute()
		return err
	})
	if err == nil {
		return true, nil
	}
	if err := classifyPostgrestError(err); err == ErrTableMissing {
		return false, nil
	}
	return false, err
}

// EnsureTable cannot create tables over REST; a missing table is reported as
// ErrTableMissing and a table without the version column as ErrVersionMissing.
func (s *PostgrestStore) EnsureTable(ctx context.Context) (bool, error) {
	ok, err := s.TableExists(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrTableMissing
	}
	err = withContext(ctx, func() error {
		_, _, err := s.client.From(TableName).Select("version", "", false).Limit(1, "").Execute()
		return err
	})
	if err != nil {
		if msg := err.Error(); strings.Contains(msg, "42703") || strings.Contains(msg, "PGRST204") {
			return true, ErrVersionMissing
		}
		return true, classifyPostgrestError(err)
	}
	return true, nil
}

// Ping checks that the REST endpoint answers.
func (s *PostgrestStore) Ping(ctx context.Context) error {
	_, err := s.TableExists(ctx)
	return err
}

func (s *PostgrestStore) toRecord(r postgrestRow) *models.CheckInRecord {
	rec := &models.CheckInRecord{
		ID:      r.ID,
		UserID:  r.UserID,
		Version: r.Version,
	}
	if r.Count != nil {
		rec.Count = int(*r.Count)
	}
	if r.Streak != nil {
		rec.Streak = int(*r.Streak)
	}
	if r.LastCheckIn != nil && *r.LastCheckIn != "" {
		if t, ok := parseTimestamp(*r.LastCheckIn); ok {
			rec.LastCheckIn = &t
		} else {
			s.logger.Warn("unparseable lastcheckin, treating as absent",
				zap.String("user_id", r.UserID), zap.String("value", *r.LastCheckIn))
		}
	}
	history, ok := decodeHistory(r.History)
	if !ok {
		s.logger.Warn("malformed checkinhistory, starting a fresh log", zap.String("user_id", r.UserID))
	}
	rec.History = history
	if r.CreatedAt != nil {
		rec.CreatedAt, _ = parseTimestamp(*r.CreatedAt)
	}
	if r.UpdatedAt != nil {
		rec.UpdatedAt, _ = parseTimestamp(*r.UpdatedAt)
	}
	rec.MarkPersisted()
	return rec
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05",
}

func parseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// decodeHistory accepts a JSON array of timestamps or a JSON string wrapping one.
// Anything else yields an empty log and ok=false.
func decodeHistory(raw json.RawMessage) ([]time.Time, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []time.Time{}, true
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return []time.Time{}, false
		}
		return decodeHistory(json.RawMessage(inner))
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return []time.Time{}, false
	}
	out := make([]time.Time, 0, len(items))
	for _, it := range items {
		t, ok := parseTimestamp(it)
		if !ok {
			return []time.Time{}, false
		}
		out = append(out, t)
	}
	return out, true
}

// withContext runs a blocking client call and gives up when ctx ends first.
// postgrest-go has no context support, so the abandoned request finishes in the background.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classifyPostgrestError(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "42P01"), strings.Contains(msg, "PGRST205"):
		return ErrTableMissing
	case strings.Contains(msg, "23505"), strings.Contains(msg, "duplicate key"):
		return ErrConflict
	}
	return fmt.Errorf("postgrest: %w", err)
}
