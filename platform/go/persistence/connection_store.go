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

// ConnectionRecord links a tenant to one of its databases.
type ConnectionRecord struct {
	ConnectionID uuid.UUID
	TenantID     uuid.UUID
	DatabaseID   uuid.UUID
	CreatedAt    time.Time
}

// ResolvedConnection is a connection row with everything the resolver needs
// loaded in one round trip.
type ResolvedConnection struct {
	Connection ConnectionRecord
	Tenant     TenantRecord
	Database   DatabaseRecord
	Server     DatabaseServerRecord
	Type       DatabaseTypeRecord
}

// ConnectionStore persists tenant-to-database links.
type ConnectionStore struct {
	pool *pgxpool.Pool
}

func NewConnectionStore(pool *pgxpool.Pool) (*ConnectionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ConnectionStore{pool: pool}, nil
}

func (s *ConnectionStore) Create(ctx context.Context, rec ConnectionRecord) (ConnectionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO connections (connection_id, tenant_id, database_id, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING connection_id, tenant_id, database_id, created_at
	`, rec.ConnectionID, rec.TenantID, rec.DatabaseID)

	var out ConnectionRecord
	if err := row.Scan(&out.ConnectionID, &out.TenantID, &out.DatabaseID, &out.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ConnectionRecord{}, ErrConflict
		}
		if isForeignKeyViolation(err) {
			return ConnectionRecord{}, ErrNotFound
		}
		return ConnectionRecord{}, fmt.Errorf("insert connection: %w", err)
	}
	return out, nil
}

func (s *ConnectionStore) Get(ctx context.Context, connectionID uuid.UUID) (ConnectionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT connection_id, tenant_id, database_id, created_at
		FROM connections
		WHERE connection_id = $1
	`, connectionID)

	var out ConnectionRecord
	if err := row.Scan(&out.ConnectionID, &out.TenantID, &out.DatabaseID, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConnectionRecord{}, ErrNotFound
		}
		return ConnectionRecord{}, fmt.Errorf("fetch connection: %w", err)
	}
	return out, nil
}

func (s *ConnectionStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]ConnectionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT connection_id, tenant_id, database_id, created_at
		FROM connections
		WHERE tenant_id = $1
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []ConnectionRecord
	for rows.Next() {
		var rec ConnectionRecord
		if err := rows.Scan(&rec.ConnectionID, &rec.TenantID, &rec.DatabaseID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByTenantAndType reports how many of a tenant's connections point at
// databases of the given type. A tenant may hold at most one connection per
// database type; the service checks this before creating a link.
func (s *ConnectionStore) CountByTenantAndType(ctx context.Context, tenantID uuid.UUID, typeID int16) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM connections c
		JOIN databases d ON d.database_id = c.database_id
		WHERE c.tenant_id = $1 AND d.type_id = $2
	`, tenantID, typeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count connections by type: %w", err)
	}
	return count, nil
}

func (s *ConnectionStore) Delete(ctx context.Context, connectionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const resolvedColumns = `
	c.connection_id, c.tenant_id, c.database_id, c.created_at,
	tn.tenant_id, tn.name, tn.code, tn.active, tn.created_at, tn.updated_at,
	d.database_id, d.name, d.server_id, d.type_id, d.status_id, d.use_trusted_connection, d.created_at, d.updated_at,
	s.server_id, s.name, s.host_name, s.fqdn, s.ip_address, s.is_linked_server, s.created_at, s.updated_at,
	t.type_id, t.name`

const resolvedJoins = `
	FROM connections c
	JOIN tenants tn ON tn.tenant_id = c.tenant_id
	JOIN databases d ON d.database_id = c.database_id
	JOIN database_servers s ON s.server_id = d.server_id
	JOIN database_types t ON t.type_id = d.type_id`

// GetResolved loads a connection with tenant, database, server, and type in
// one round trip, keyed by connection id.
func (s *ConnectionStore) GetResolved(ctx context.Context, connectionID uuid.UUID) (ResolvedConnection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resolvedColumns+resolvedJoins+`
		WHERE c.connection_id = $1
	`, connectionID)
	return mapResolvedScan(scanResolved(row))
}

// GetResolvedByTenantType resolves by tenant id and database type.
func (s *ConnectionStore) GetResolvedByTenantType(ctx context.Context, tenantID uuid.UUID, typeID int16) (ResolvedConnection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resolvedColumns+resolvedJoins+`
		WHERE c.tenant_id = $1 AND d.type_id = $2
	`, tenantID, typeID)
	return mapResolvedScan(scanResolved(row))
}

// GetResolvedByTenantCodeType resolves by tenant code and database type.
func (s *ConnectionStore) GetResolvedByTenantCodeType(ctx context.Context, tenantCode string, typeID int16) (ResolvedConnection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resolvedColumns+resolvedJoins+`
		WHERE tn.code = $1 AND d.type_id = $2
	`, tenantCode, typeID)
	return mapResolvedScan(scanResolved(row))
}

func scanResolved(row pgx.Row) (ResolvedConnection, error) {
	var r ResolvedConnection
	err := row.Scan(
		&r.Connection.ConnectionID, &r.Connection.TenantID, &r.Connection.DatabaseID, &r.Connection.CreatedAt,
		&r.Tenant.TenantID, &r.Tenant.Name, &r.Tenant.Code, &r.Tenant.Active, &r.Tenant.CreatedAt, &r.Tenant.UpdatedAt,
		&r.Database.DatabaseID, &r.Database.Name, &r.Database.ServerID, &r.Database.TypeID,
		&r.Database.StatusID, &r.Database.UseTrustedConnection, &r.Database.CreatedAt, &r.Database.UpdatedAt,
		&r.Server.ServerID, &r.Server.Name, &r.Server.HostName, &r.Server.FQDN, &r.Server.IPAddress,
		&r.Server.IsLinkedServer, &r.Server.CreatedAt, &r.Server.UpdatedAt,
		&r.Type.TypeID, &r.Type.Name,
	)
	return r, err
}

func mapResolvedScan(r ResolvedConnection, err error) (ResolvedConnection, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResolvedConnection{}, ErrNotFound
		}
		return ResolvedConnection{}, fmt.Errorf("fetch resolved connection: %w", err)
	}
	return r, nil
}
