package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shardgate/dbdirectory/domains/tenants/be/service"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
)

// PostgresRepository implements the tenants repository on the shared tenant
// store.
type PostgresRepository struct {
	tenants *persistence.TenantStore
}

func NewPostgresRepository(tenants *persistence.TenantStore) *PostgresRepository {
	if tenants == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{tenants: tenants}
}

func (r *PostgresRepository) Create(ctx context.Context, tenant service.Tenant) (service.Tenant, error) {
	rec, err := r.tenants.Create(ctx, toRecord(tenant))
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.Tenant{}, fmt.Errorf("%w: name or code already in use", service.ErrConflict)
		}
		return service.Tenant{}, err
	}
	return toTenant(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID uuid.UUID) (service.Tenant, error) {
	rec, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return service.Tenant{}, mapErr(err)
	}
	return toTenant(rec), nil
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (service.Tenant, error) {
	rec, err := r.tenants.GetByCode(ctx, code)
	if err != nil {
		return service.Tenant{}, mapErr(err)
	}
	return toTenant(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]service.Tenant, error) {
	records, err := r.tenants.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.Tenant, 0, len(records))
	for _, rec := range records {
		out = append(out, toTenant(rec))
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, tenant service.Tenant) (service.Tenant, error) {
	rec, err := r.tenants.Update(ctx, toRecord(tenant))
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.Tenant{}, fmt.Errorf("%w: name or code already in use", service.ErrConflict)
		}
		return service.Tenant{}, mapErr(err)
	}
	return toTenant(rec), nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID uuid.UUID) error {
	return mapErr(r.tenants.Delete(ctx, tenantID))
}

func toRecord(tenant service.Tenant) persistence.TenantRecord {
	return persistence.TenantRecord{
		TenantID: tenant.TenantID,
		Name:     tenant.Name,
		Code:     tenant.Code,
		Active:   tenant.Active,
	}
}

func toTenant(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{
		TenantID:  rec.TenantID,
		Name:      rec.Name,
		Code:      rec.Code,
		Active:    rec.Active,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrReferenced):
		return service.ErrReferenced
	default:
		return err
	}
}

var _ service.Repository = (*PostgresRepository)(nil)
