package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shardgate/dbdirectory/domains/catalog/be/service"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
)

// PostgresRepository implements the catalog repository on the shared server
// and type stores.
type PostgresRepository struct {
	servers *persistence.ServerStore
	types   *persistence.DBTypeStore
}

func NewPostgresRepository(servers *persistence.ServerStore, types *persistence.DBTypeStore) *PostgresRepository {
	if servers == nil || types == nil {
		panic("catalog repository requires the server and type stores")
	}
	return &PostgresRepository{servers: servers, types: types}
}

func (r *PostgresRepository) CreateServer(ctx context.Context, server service.Server) (service.Server, error) {
	rec, err := r.servers.Create(ctx, toServerRecord(server))
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.Server{}, fmt.Errorf("%w: server name or address already registered", service.ErrConflict)
		}
		return service.Server{}, err
	}
	return toServer(rec), nil
}

func (r *PostgresRepository) GetServer(ctx context.Context, serverID uuid.UUID) (service.Server, error) {
	rec, err := r.servers.Get(ctx, serverID)
	if err != nil {
		return service.Server{}, mapErr(err)
	}
	return toServer(rec), nil
}

func (r *PostgresRepository) ListServers(ctx context.Context) ([]service.Server, error) {
	records, err := r.servers.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.Server, 0, len(records))
	for _, rec := range records {
		out = append(out, toServer(rec))
	}
	return out, nil
}

func (r *PostgresRepository) UpdateServer(ctx context.Context, server service.Server) (service.Server, error) {
	rec, err := r.servers.Update(ctx, toServerRecord(server))
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.Server{}, fmt.Errorf("%w: server name or address already registered", service.ErrConflict)
		}
		return service.Server{}, mapErr(err)
	}
	return toServer(rec), nil
}

func (r *PostgresRepository) DeleteServer(ctx context.Context, serverID uuid.UUID) error {
	return mapErr(r.servers.Delete(ctx, serverID))
}

func (r *PostgresRepository) CreateType(ctx context.Context, dbType service.DatabaseType) (service.DatabaseType, error) {
	rec, err := r.types.Create(ctx, persistence.DatabaseTypeRecord{TypeID: dbType.TypeID, Name: dbType.Name})
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.DatabaseType{}, fmt.Errorf("%w: type id or name already in use", service.ErrConflict)
		}
		return service.DatabaseType{}, err
	}
	return toType(rec), nil
}

func (r *PostgresRepository) GetType(ctx context.Context, typeID int16) (service.DatabaseType, error) {
	rec, err := r.types.Get(ctx, typeID)
	if err != nil {
		return service.DatabaseType{}, mapErr(err)
	}
	return toType(rec), nil
}

func (r *PostgresRepository) ListTypes(ctx context.Context) ([]service.DatabaseType, error) {
	records, err := r.types.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.DatabaseType, 0, len(records))
	for _, rec := range records {
		out = append(out, toType(rec))
	}
	return out, nil
}

func (r *PostgresRepository) RenameType(ctx context.Context, typeID int16, name string) (service.DatabaseType, error) {
	rec, err := r.types.Rename(ctx, typeID, name)
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.DatabaseType{}, fmt.Errorf("%w: type name already in use", service.ErrConflict)
		}
		return service.DatabaseType{}, mapErr(err)
	}
	return toType(rec), nil
}

func (r *PostgresRepository) DeleteType(ctx context.Context, typeID int16) error {
	return mapErr(r.types.Delete(ctx, typeID))
}

func toServerRecord(server service.Server) persistence.DatabaseServerRecord {
	return persistence.DatabaseServerRecord{
		ServerID:       server.ServerID,
		Name:           server.Name,
		HostName:       server.HostName,
		FQDN:           server.FQDN,
		IPAddress:      server.IPAddress,
		IsLinkedServer: server.IsLinkedServer,
	}
}

func toServer(rec persistence.DatabaseServerRecord) service.Server {
	return service.Server{
		ServerID:       rec.ServerID,
		Name:           rec.Name,
		HostName:       rec.HostName,
		FQDN:           rec.FQDN,
		IPAddress:      rec.IPAddress,
		IsLinkedServer: rec.IsLinkedServer,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func toType(rec persistence.DatabaseTypeRecord) service.DatabaseType {
	return service.DatabaseType{TypeID: rec.TypeID, Name: rec.Name}
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
