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

// TenantRecord mirrors one row of the tenants table.
type TenantRecord struct {
	TenantID  uuid.UUID
	Name      string
	Code      *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantStore persists tenant rows.
type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

const tenantColumns = "tenant_id, name, code, active, created_at, updated_at"

func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (tenant_id, name, code, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+tenantColumns+`
	`, rec.TenantID, rec.Name, rec.Code, rec.Active)

	out, err := scanTenant(row)
	if err != nil {
		if isUniqueViolation(err) {
			return TenantRecord{}, ErrConflict
		}
		return TenantRecord{}, fmt.Errorf("insert tenant: %w", err)
	}
	return out, nil
}

func (s *TenantStore) Get(ctx context.Context, tenantID uuid.UUID) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE tenant_id = $1
	`, tenantID)
	return mapTenantScan(scanTenant(row))
}

func (s *TenantStore) GetByCode(ctx context.Context, code string) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE code = $1
	`, code)
	return mapTenantScan(scanTenant(row))
}

func (s *TenantStore) GetByName(ctx context.Context, name string) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE name = $1
	`, name)
	return mapTenantScan(scanTenant(row))
}

func (s *TenantStore) List(ctx context.Context) ([]TenantRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []TenantRecord
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *TenantStore) Update(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tenants
		SET name = $2, code = $3, active = $4, updated_at = now()
		WHERE tenant_id = $1
		RETURNING `+tenantColumns+`
	`, rec.TenantID, rec.Name, rec.Code, rec.Active)

	out, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return TenantRecord{}, ErrConflict
		}
		return TenantRecord{}, fmt.Errorf("update tenant: %w", err)
	}
	return out, nil
}

// Delete removes a tenant. Deletes are blocked while connections still
// reference the tenant.
func (s *TenantStore) Delete(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrReferenced
		}
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTenant(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	err := row.Scan(&rec.TenantID, &rec.Name, &rec.Code, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func mapTenantScan(rec TenantRecord, err error) (TenantRecord, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		return TenantRecord{}, fmt.Errorf("fetch tenant: %w", err)
	}
	return rec, nil
}
