package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/checkin/models"
)

// GormStore keeps records in a relational table (MySQL, Postgres or SQLite).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Fetch loads the record for userID.
func (s *GormStore) Fetch(ctx context.Context, userID string) (*models.CheckInRecord, error) {
	var rec models.CheckInRecord
	err := s.db.WithContext(ctx).Where("userid = ?", userID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if isScanError(err) {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert inserts a never-stored record or replaces a stored one guarded by its version.
func (s *GormStore) Upsert(ctx context.Context, rec *models.CheckInRecord) error {
	now := time.Now().UTC()
	db := s.db.WithContext(ctx)

	if !rec.Persisted() {
		if rec.ID == "" {
			rec.ID = rec.UserID
		}
		rec.Version = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if err := db.Create(rec).Error; err != nil {
			rec.Version = 0
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrConflict
			}
			return err
		}
		rec.MarkPersisted()
		return nil
	}

	// Map form so zero values (streak reset, empty history) are written too
	res := db.Model(&models.CheckInRecord{}).
		Where("userid = ? AND version = ?", rec.UserID, rec.Version).
		Updates(map[string]interface{}{
			"lastcheckin":    rec.LastCheckIn,
			"count":          rec.Count,
			"streak":         rec.Streak,
			"checkinhistory": rec.History,
			"version":        rec.Version + 1,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// ListUsers returns one page of records ordered by last check-in, never-checked-in rows last.
func (s *GormStore) ListUsers(ctx context.Context, page, pageSize int) ([]models.CheckInRecord, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.CheckInRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []models.CheckInRecord
	err := s.db.WithContext(ctx).
		Order("CASE WHEN lastcheckin IS NULL THEN 1 ELSE 0 END").
		Order("lastcheckin DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// InsertRows bulk-inserts imported rows as-is.
func (s *GormStore) InsertRows(ctx context.Context, rows []map[string]any) (int, error) {
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
	values := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		values[i] = r
	}
	if err := s.db.WithContext(ctx).Table(TableName).Create(&values).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

// TableExists reports whether the users table is present.
func (s *GormStore) TableExists(ctx context.Context) (bool, error) {
	return s.db.WithContext(ctx).Migrator().HasTable(&models.CheckInRecord{}), nil
}

// EnsureTable creates the users table when missing and adds the version
// column to a table created before it existed.
func (s *GormStore) EnsureTable(ctx context.Context) (bool, error) {
	existed, _ := s.TableExists(ctx)
	if existed {
		m := s.db.WithContext(ctx).Migrator()
		if !m.HasColumn(&models.CheckInRecord{}, "Version") {
			if err := m.AddColumn(&models.CheckInRecord{}, "Version"); err != nil {
				return true, fmt.Errorf("%w: %v", ErrVersionMissing, err)
			}
		}
		return true, nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&models.CheckInRecord{}); err != nil {
		return false, err
	}
	return false, nil
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// isScanError reports whether err came from decoding a stored row rather than from the connection.
func isScanError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return true
	}
	// drivers that do not wrap the decoder error still report it through database/sql
	msg := err.Error()
	return strings.Contains(msg, "Scan error") || strings.Contains(msg, "unsupported Scan")
}
