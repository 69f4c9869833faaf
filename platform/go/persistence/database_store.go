package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseRecord mirrors one row of the databases table.
type DatabaseRecord struct {
	DatabaseID           uuid.UUID
	Name                 string
	ServerID             uuid.UUID
	TypeID               int16
	StatusID             int16
	UseTrustedConnection bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DatabaseDetail is a database row with its server and type eagerly loaded.
type DatabaseDetail struct {
	Database DatabaseRecord
	Server   DatabaseServerRecord
	Type     DatabaseTypeRecord
}

// DatabaseStore persists database rows.
type DatabaseStore struct {
	pool *pgxpool.Pool
}

func NewDatabaseStore(pool *pgxpool.Pool) (*DatabaseStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &DatabaseStore{pool: pool}, nil
}

const databaseColumns = "database_id, name, server_id, type_id, status_id, use_trusted_connection, created_at, updated_at"

func (s *DatabaseStore) Create(ctx context.Context, rec DatabaseRecord) (DatabaseRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO databases (database_id, name, server_id, type_id, status_id, use_trusted_connection, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+databaseColumns+`
	`, rec.DatabaseID, rec.Name, rec.ServerID, rec.TypeID, rec.StatusID, rec.UseTrustedConnection)

	out, err := scanDatabase(row)
	if err != nil {
		if isUniqueViolation(err) {
			return DatabaseRecord{}, ErrConflict
		}
		if isForeignKeyViolation(err) {
			return DatabaseRecord{}, ErrNotFound
		}
		return DatabaseRecord{}, fmt.Errorf("insert database: %w", err)
	}
	return out, nil
}

func (s *DatabaseStore) Get(ctx context.Context, databaseID uuid.UUID) (DatabaseRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+databaseColumns+`
		FROM databases
		WHERE database_id = $1
	`, databaseID)

	rec, err := scanDatabase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DatabaseRecord{}, ErrNotFound
		}
		return DatabaseRecord{}, fmt.Errorf("fetch database: %w", err)
	}
	return rec, nil
}

// GetDetail fetches a database with its server and type in one round trip.
func (s *DatabaseStore) GetDetail(ctx context.Context, databaseID uuid.UUID) (DatabaseDetail, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT d.database_id, d.name, d.server_id, d.type_id, d.status_id, d.use_trusted_connection, d.created_at, d.updated_at,
		       s.server_id, s.name, s.host_name, s.fqdn, s.ip_address, s.is_linked_server, s.created_at, s.updated_at,
		       t.type_id, t.name
		FROM databases d
		JOIN database_servers s ON s.server_id = d.server_id
		JOIN database_types t ON t.type_id = d.type_id
		WHERE d.database_id = $1
	`, databaseID)

	detail, err := scanDatabaseDetail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DatabaseDetail{}, ErrNotFound
		}
		return DatabaseDetail{}, fmt.Errorf("fetch database detail: %w", err)
	}
	return detail, nil
}

func (s *DatabaseStore) List(ctx context.Context) ([]DatabaseRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+databaseColumns+`
		FROM databases
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var out []DatabaseRecord
	for rows.Next() {
		rec, err := scanDatabase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan database: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListByUser returns the databases a database user owns, with server and
// type eagerly loaded. This is the provisioner's fan-out target list.
func (s *DatabaseStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]DatabaseDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.database_id, d.name, d.server_id, d.type_id, d.status_id, d.use_trusted_connection, d.created_at, d.updated_at,
		       s.server_id, s.name, s.host_name, s.fqdn, s.ip_address, s.is_linked_server, s.created_at, s.updated_at,
		       t.type_id, t.name
		FROM database_user_databases ud
		JOIN databases d ON d.database_id = ud.database_id
		JOIN database_servers s ON s.server_id = d.server_id
		JOIN database_types t ON t.type_id = d.type_id
		WHERE ud.user_id = $1
		ORDER BY d.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list databases for user: %w", err)
	}
	defer rows.Close()

	var out []DatabaseDetail
	for rows.Next() {
		detail, err := scanDatabaseDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan database detail: %w", err)
		}
		out = append(out, detail)
	}
	return out, rows.Err()
}

func (s *DatabaseStore) Update(ctx context.Context, rec DatabaseRecord) (DatabaseRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE databases
		SET name = $2, server_id = $3, type_id = $4, status_id = $5, use_trusted_connection = $6, updated_at = now()
		WHERE database_id = $1
		RETURNING `+databaseColumns+`
	`, rec.DatabaseID, rec.Name, rec.ServerID, rec.TypeID, rec.StatusID, rec.UseTrustedConnection)

	out, err := scanDatabase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DatabaseRecord{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return DatabaseRecord{}, ErrConflict
		}
		if isForeignKeyViolation(err) {
			return DatabaseRecord{}, ErrNotFound
		}
		return DatabaseRecord{}, fmt.Errorf("update database: %w", err)
	}
	return out, nil
}

// Delete removes a database row. Deletes are blocked while connections
// still reference it.
func (s *DatabaseStore) Delete(ctx context.Context, databaseID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM databases WHERE database_id = $1`, databaseID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrReferenced
		}
		return fmt.Errorf("delete database: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDatabase(row pgx.Row) (DatabaseRecord, error) {
	var rec DatabaseRecord
	err := row.Scan(&rec.DatabaseID, &rec.Name, &rec.ServerID, &rec.TypeID, &rec.StatusID,
		&rec.UseTrustedConnection, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func scanDatabaseDetail(row pgx.Row) (DatabaseDetail, error) {
	var d DatabaseDetail
	err := row.Scan(
		&d.Database.DatabaseID, &d.Database.Name, &d.Database.ServerID, &d.Database.TypeID,
		&d.Database.StatusID, &d.Database.UseTrustedConnection, &d.Database.CreatedAt, &d.Database.UpdatedAt,
		&d.Server.ServerID, &d.Server.Name, &d.Server.HostName, &d.Server.FQDN, &d.Server.IPAddress,
		&d.Server.IsLinkedServer, &d.Server.CreatedAt, &d.Server.UpdatedAt,
		&d.Type.TypeID, &d.Type.Name,
	)
	return d, err
}
