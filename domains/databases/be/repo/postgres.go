package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shardgate/dbdirectory/domains/databases/be/service"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
)

// PostgresRepository implements the databases repository on the shared
// database store.
type PostgresRepository struct {
	databases *persistence.DatabaseStore
}

func NewPostgresRepository(databases *persistence.DatabaseStore) *PostgresRepository {
	if databases == nil {
		panic("database store is required")
	}
	return &PostgresRepository{databases: databases}
}

func (r *PostgresRepository) Create(ctx context.Context, database service.Database) (service.Database, error) {
	rec, err := r.databases.Create(ctx, toRecord(database))
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.Database{}, fmt.Errorf("%w: database %q already exists on the server", service.ErrConflict, database.Name)
		}
		return service.Database{}, mapErr(err)
	}
	return toDatabase(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, databaseID uuid.UUID) (service.Database, error) {
	rec, err := r.databases.Get(ctx, databaseID)
	if err != nil {
		return service.Database{}, mapErr(err)
	}
	return toDatabase(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]service.Database, error) {
	records, err := r.databases.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.Database, 0, len(records))
	for _, rec := range records {
		out = append(out, toDatabase(rec))
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, database service.Database) (service.Database, error) {
	rec, err := r.databases.Update(ctx, toRecord(database))
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.Database{}, fmt.Errorf("%w: database %q already exists on the server", service.ErrConflict, database.Name)
		}
		return service.Database{}, mapErr(err)
	}
	return toDatabase(rec), nil
}

func (r *PostgresRepository) Delete(ctx context.Context, databaseID uuid.UUID) error {
	return mapErr(r.databases.Delete(ctx, databaseID))
}

func (r *PostgresRepository) ServerOf(ctx context.Context, databaseID uuid.UUID) (service.ServerInfo, error) {
	detail, err := r.databases.GetDetail(ctx, databaseID)
	if err != nil {
		return service.ServerInfo{}, mapErr(err)
	}
	return service.ServerInfo{
		ServerID:       detail.Server.ServerID,
		Name:           detail.Server.Name,
		Address:        detail.Server.Address(),
		IsLinkedServer: detail.Server.IsLinkedServer,
	}, nil
}

func toRecord(database service.Database) persistence.DatabaseRecord {
	return persistence.DatabaseRecord{
		DatabaseID:           database.DatabaseID,
		Name:                 database.Name,
		ServerID:             database.ServerID,
		TypeID:               database.TypeID,
		StatusID:             database.StatusID,
		UseTrustedConnection: database.UseTrustedConnection,
	}
}

func toDatabase(rec persistence.DatabaseRecord) service.Database {
	return service.Database{
		DatabaseID:           rec.DatabaseID,
		Name:                 rec.Name,
		ServerID:             rec.ServerID,
		TypeID:               rec.TypeID,
		StatusID:             rec.StatusID,
		UseTrustedConnection: rec.UseTrustedConnection,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
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
