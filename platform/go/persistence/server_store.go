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

// DatabaseServerRecord mirrors one row of the database_servers table. At
// least one of FQDN, HostName, IPAddress is always present (enforced by a
// table constraint).
type DatabaseServerRecord struct {
	ServerID       uuid.UUID
	Name           string
	HostName       *string
	FQDN           *string
	IPAddress      *string
	IsLinkedServer bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Address resolves the server address with strict precedence: FQDN, else
// host name, else IP. Fields are never merged or concatenated.
func (r DatabaseServerRecord) Address() string {
	if r.FQDN != nil && *r.FQDN != "" {
		return *r.FQDN
	}
	if r.HostName != nil && *r.HostName != "" {
		return *r.HostName
	}
	if r.IPAddress != nil && *r.IPAddress != "" {
		return *r.IPAddress
	}
	return ""
}

// ServerStore persists database server rows.
type ServerStore struct {
	pool *pgxpool.Pool
}

func NewServerStore(pool *pgxpool.Pool) (*ServerStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ServerStore{pool: pool}, nil
}

const serverColumns = "server_id, name, host_name, fqdn, ip_address, is_linked_server, created_at, updated_at"

func (s *ServerStore) Create(ctx context.Context, rec DatabaseServerRecord) (DatabaseServerRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO database_servers (server_id, name, host_name, fqdn, ip_address, is_linked_server, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+serverColumns+`
	`, rec.ServerID, rec.Name, rec.HostName, rec.FQDN, rec.IPAddress, rec.IsLinkedServer)

	out, err := scanServer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return DatabaseServerRecord{}, ErrConflict
		}
		return DatabaseServerRecord{}, fmt.Errorf("insert database server: %w", err)
	}
	return out, nil
}

func (s *ServerStore) Get(ctx context.Context, serverID uuid.UUID) (DatabaseServerRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+serverColumns+`
		FROM database_servers
		WHERE server_id = $1
	`, serverID)

	rec, err := scanServer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DatabaseServerRecord{}, ErrNotFound
		}
		return DatabaseServerRecord{}, fmt.Errorf("fetch database server: %w", err)
	}
	return rec, nil
}

func (s *ServerStore) List(ctx context.Context) ([]DatabaseServerRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+serverColumns+`
		FROM database_servers
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list database servers: %w", err)
	}
	defer rows.Close()

	var out []DatabaseServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan database server: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *ServerStore) Update(ctx context.Context, rec DatabaseServerRecord) (DatabaseServerRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE database_servers
		SET name = $2, host_name = $3, fqdn = $4, ip_address = $5, is_linked_server = $6, updated_at = now()
		WHERE server_id = $1
		RETURNING `+serverColumns+`
	`, rec.ServerID, rec.Name, rec.HostName, rec.FQDN, rec.IPAddress, rec.IsLinkedServer)

	out, err := scanServer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DatabaseServerRecord{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return DatabaseServerRecord{}, ErrConflict
		}
		return DatabaseServerRecord{}, fmt.Errorf("update database server: %w", err)
	}
	return out, nil
}

// Delete removes a server. Deletes are blocked while databases still
// reference the server.
func (s *ServerStore) Delete(ctx context.Context, serverID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM database_servers WHERE server_id = $1`, serverID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrReferenced
		}
		return fmt.Errorf("delete database server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanServer(row pgx.Row) (DatabaseServerRecord, error) {
	var rec DatabaseServerRecord
	err := row.Scan(&rec.ServerID, &rec.Name, &rec.HostName, &rec.FQDN, &rec.IPAddress,
		&rec.IsLinkedServer, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}
