// Package store persists check-in records. Two backends exist: a gorm-backed SQL
// table and a Supabase table reached through PostgREST.
package store

import (
	"context"
	"errors"

	"github.com/cppla/checkin/models"
)

// TableName is the physical table shared by both backends and the bulk importer.
const TableName = "users"

var (
	// ErrNotFound means no record exists for the user. It is a valid state, not a failure.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the write lost a race: the stored version moved or the row already exists.
	ErrConflict = errors.New("record changed concurrently")
	// ErrCorrupt means a stored row could not be decoded into a record.
	ErrCorrupt = errors.New("stored record is corrupt")
	// ErrTableMissing means the backing table has not been created.
	ErrTableMissing = errors.New("users table does not exist")
	// ErrVersionMissing means the table predates the version column and cannot take guarded writes.
	ErrVersionMissing = errors.New("users table has no version column")
)

// RecordStore is the keyed per-user record storage used by the check-in core.
type RecordStore interface {
	// Fetch returns the user's record or ErrNotFound.
	Fetch(ctx context.Context, userID string) (*models.CheckInRecord, error)
	// Upsert creates the record when it was never stored, otherwise replaces it
	// provided the stored version still equals rec.Version. On success rec.Version
	// is advanced; a lost race returns ErrConflict.
	Upsert(ctx context.Context, rec *models.CheckInRecord) error
}

// UserLister pages through all records, most recent check-in first.
type UserLister interface {
	ListUsers(ctx context.Context, page, pageSize int) ([]models.CheckInRecord, int64, error)
}

// RowInserter inserts loosely typed rows straight into the table, bypassing check-in logic.
type RowInserter interface {
	InsertRows(ctx context.Context, rows []map[string]any) (int, error)
}

// SchemaChecker reports and, where the backend allows it, creates the table.
type SchemaChecker interface {
	TableExists(ctx context.Context) (bool, error)
	EnsureTable(ctx context.Context) (existed bool, err error)
	Ping(ctx context.Context) error
}

// Backend is everything the HTTP layer needs from a store.
type Backend interface {
	RecordStore
	UserLister
	RowInserter
	SchemaChecker
}

// CreateTableSQL is the Postgres DDL for the table, shown when a Supabase project lacks it.
const CreateTableSQL = `CREATE TABLE public.users (
  id TEXT PRIMARY KEY,
  userid TEXT NOT NULL UNIQUE,
  lastcheckin TIMESTAMP WITH TIME ZONE,
  count INTEGER DEFAULT 0,
  streak INTEGER DEFAULT 0,
  checkinhistory JSONB DEFAULT '[]'::jsonb,
  version BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);`

// AddVersionColumnSQL upgrades a users table created without the version column.
const AddVersionColumnSQL = `ALTER TABLE public.users ADD COLUMN version BIGINT NOT NULL DEFAULT 0;`
