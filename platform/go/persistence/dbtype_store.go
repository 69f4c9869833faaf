package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseTypeRecord mirrors one row of the database_types reference table.
type DatabaseTypeRecord struct {
	TypeID int16
	Name   string
}

// DBTypeStore persists database type rows.
type DBTypeStore struct {
	pool *pgxpool.Pool
}

func NewDBTypeStore(pool *pgxpool.Pool) (*DBTypeStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &DBTypeStore{pool: pool}, nil
}

func (s *DBTypeStore) Create(ctx context.Context, rec DatabaseTypeRecord) (DatabaseTypeRecord, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO database_types (type_id, name) VALUES ($1, $2)
	`, rec.TypeID, rec.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return DatabaseTypeRecord{}, ErrConflict
		}
		return DatabaseTypeRecord{}, fmt.Errorf("insert database type: %w", err)
	}
	return rec, nil
}

func (s *DBTypeStore) Get(ctx context.Context, typeID int16) (DatabaseTypeRecord, error) {
	var rec DatabaseTypeRecord
	err := s.pool.QueryRow(ctx, `
		SELECT type_id, name FROM database_types WHERE type_id = $1
	`, typeID).Scan(&rec.TypeID, &rec.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DatabaseTypeRecord{}, ErrNotFound
		}
		return DatabaseTypeRecord{}, fmt.Errorf("fetch database type: %w", err)
	}
	return rec, nil
}

func (s *DBTypeStore) List(ctx context.Context) ([]DatabaseTypeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type_id, name FROM database_types ORDER BY type_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list database types: %w", err)
	}
	defer rows.Close()

	var out []DatabaseTypeRecord
	for rows.Next() {
		var rec DatabaseTypeRecord
		if err := rows.Scan(&rec.TypeID, &rec.Name); err != nil {
			return nil, fmt.Errorf("scan database type: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DBTypeStore) Rename(ctx context.Context, typeID int16, name string) (DatabaseTypeRecord, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE database_types SET name = $2 WHERE type_id = $1
	`, typeID, name)
	if err != nil {
		if isUniqueViolation(err) {
			return DatabaseTypeRecord{}, ErrConflict
		}
		return DatabaseTypeRecord{}, fmt.Errorf("rename database type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return DatabaseTypeRecord{}, ErrNotFound
	}
	return DatabaseTypeRecord{TypeID: typeID, Name: name}, nil
}

// Delete removes a type. Deletes are blocked while databases reference it.
func (s *DBTypeStore) Delete(ctx context.Context, typeID int16) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM database_types WHERE type_id = $1`, typeID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrReferenced
		}
		return fmt.Errorf("delete database type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
