package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shardgate/dbdirectory/domains/connections/be/service"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
	"github.com/shardgate/dbdirectory/platform/go/roles"
)

// PostgresRepository implements the connections repository on the shared
// directory stores.
type PostgresRepository struct {
	connections *persistence.ConnectionStore
	databases   *persistence.DatabaseStore
	users       *persistence.DBUserStore
	tenants     *persistence.TenantStore
	types       *persistence.DBTypeStore
}

func NewPostgresRepository(
	connections *persistence.ConnectionStore,
	databases *persistence.DatabaseStore,
	users *persistence.DBUserStore,
	tenants *persistence.TenantStore,
	types *persistence.DBTypeStore,
) *PostgresRepository {
	if connections == nil || databases == nil || users == nil || tenants == nil || types == nil {
		panic("connections repository requires all directory stores")
	}
	return &PostgresRepository{
		connections: connections,
		databases:   databases,
		users:       users,
		tenants:     tenants,
		types:       types,
	}
}

func (r *PostgresRepository) ResolveByConnection(ctx context.Context, connectionID uuid.UUID) (service.Target, error) {
	resolved, err := r.connections.GetResolved(ctx, connectionID)
	if err != nil {
		return service.Target{}, mapNotFound(err)
	}
	return toTarget(resolved), nil
}

func (r *PostgresRepository) ResolveByTenantType(ctx context.Context, tenantID uuid.UUID, typeID int16) (service.Target, error) {
	resolved, err := r.connections.GetResolvedByTenantType(ctx, tenantID, typeID)
	if err != nil {
		return service.Target{}, mapNotFound(err)
	}
	return toTarget(resolved), nil
}

func (r *PostgresRepository) ResolveByTenantCodeType(ctx context.Context, tenantCode string, typeID int16) (service.Target, error) {
	resolved, err := r.connections.GetResolvedByTenantCodeType(ctx, tenantCode, typeID)
	if err != nil {
		return service.Target{}, mapNotFound(err)
	}
	return toTarget(resolved), nil
}

func (r *PostgresRepository) FindEligibleUsers(ctx context.Context, databaseID uuid.UUID, required []roles.Role, matchAll bool) ([]service.Credential, error) {
	records, err := r.users.FindEligible(ctx, databaseID, required, matchAll)
	if err != nil {
		return nil, err
	}

	out := make([]service.Credential, 0, len(records))
	for _, rec := range records {
		out = append(out, service.Credential{
			UserID:   rec.UserID,
			UserName: rec.UserName,
			Password: rec.Password,
			Roles:    rec.Roles,
		})
	}
	return out, nil
}

func (r *PostgresRepository) TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	_, err := r.tenants.Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *PostgresRepository) TenantCodeExists(ctx context.Context, tenantCode string) (bool, error) {
	_, err := r.tenants.GetByCode(ctx, tenantCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *PostgresRepository) TypeExists(ctx context.Context, typeID int16) (bool, error) {
	_, err := r.types.Get(ctx, typeID)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *PostgresRepository) CreateConnection(ctx context.Context, conn service.Connection) (service.Connection, error) {
	rec, err := r.connections.Create(ctx, persistence.ConnectionRecord{
		ConnectionID: conn.ConnectionID,
		TenantID:     conn.TenantID,
		DatabaseID:   conn.DatabaseID,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.Connection{}, fmt.Errorf("%w: tenant %s is already linked to database %s", service.ErrConflict, conn.TenantID, conn.DatabaseID)
		}
		return service.Connection{}, mapNotFound(err)
	}
	return toConnection(rec), nil
}

func (r *PostgresRepository) GetConnection(ctx context.Context, connectionID uuid.UUID) (service.Connection, error) {
	rec, err := r.connections.Get(ctx, connectionID)
	if err != nil {
		return service.Connection{}, mapNotFound(err)
	}
	return toConnection(rec), nil
}

func (r *PostgresRepository) ListConnectionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]service.Connection, error) {
	records, err := r.connections.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]service.Connection, 0, len(records))
	for _, rec := range records {
		out = append(out, toConnection(rec))
	}
	return out, nil
}

func (r *PostgresRepository) CountConnectionsByTenantAndType(ctx context.Context, tenantID uuid.UUID, typeID int16) (int, error) {
	return r.connections.CountByTenantAndType(ctx, tenantID, typeID)
}

func (r *PostgresRepository) DatabaseTypeID(ctx context.Context, databaseID uuid.UUID) (int16, error) {
	rec, err := r.databases.Get(ctx, databaseID)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return rec.TypeID, nil
}

func (r *PostgresRepository) DeleteConnection(ctx context.Context, connectionID uuid.UUID) error {
	if err := r.connections.Delete(ctx, connectionID); err != nil {
		return mapNotFound(err)
	}
	return nil
}

func toTarget(resolved persistence.ResolvedConnection) service.Target {
	code := ""
	if resolved.Tenant.Code != nil {
		code = *resolved.Tenant.Code
	}
	return service.Target{
		ConnectionID:  resolved.Connection.ConnectionID,
		TenantID:      resolved.Tenant.TenantID,
		TenantCode:    code,
		DatabaseID:    resolved.Database.DatabaseID,
		DatabaseName:  resolved.Database.Name,
		ServerID:      resolved.Server.ServerID,
		ServerAddress: resolved.Server.Address(),
		TypeID:        resolved.Type.TypeID,
		Trusted:       resolved.Database.UseTrustedConnection,
	}
}

func toConnection(rec persistence.ConnectionRecord) service.Connection {
	return service.Connection{
		ConnectionID: rec.ConnectionID,
		TenantID:     rec.TenantID,
		DatabaseID:   rec.DatabaseID,
		CreatedAt:    rec.CreatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

var _ service.Repository = (*PostgresRepository)(nil)
