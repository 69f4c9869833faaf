package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	"github.com/shardgate/dbdirectory/domains/dbusers/be/service"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
	"github.com/shardgate/dbdirectory/platform/go/roles"
)

// PostgresRepository implements the dbusers repository and the provisioning
// completion markers on the shared directory stores.
type PostgresRepository struct {
	users     *persistence.DBUserStore
	databases *persistence.DatabaseStore
}

func NewPostgresRepository(users *persistence.DBUserStore, databases *persistence.DatabaseStore) *PostgresRepository {
	if users == nil || databases == nil {
		panic("dbusers repository requires the user and database stores")
	}
	return &PostgresRepository{users: users, databases: databases}
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user service.User) (service.User, error) {
	rec, err := r.users.Create(ctx, persistence.DatabaseUserRecord{
		UserID:    user.UserID,
		UserName:  user.UserName,
		Password:  user.Password,
		Databases: user.Databases,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return service.User{}, fmt.Errorf("%w: user name %q is taken", service.ErrConflict, user.UserName)
		}
		return service.User{}, mapNotFound(err)
	}
	return toUser(rec), nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, userID uuid.UUID) (service.User, error) {
	rec, err := r.users.Get(ctx, userID)
	if err != nil {
		return service.User{}, mapNotFound(err)
	}
	return toUser(rec), nil
}

func (r *PostgresRepository) GetUserByName(ctx context.Context, userName string) (service.User, error) {
	rec, err := r.users.GetByName(ctx, userName)
	if err != nil {
		return service.User{}, mapNotFound(err)
	}
	return toUser(rec), nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]service.User, error) {
	records, err := r.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.User, 0, len(records))
	for _, rec := range records {
		out = append(out, toUser(rec))
	}
	return out, nil
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, password string) error {
	return mapNotFound(r.users.UpdatePassword(ctx, userID, password))
}

func (r *PostgresRepository) RenameUser(ctx context.Context, userID uuid.UUID, userName string) error {
	err := r.users.Rename(ctx, userID, userName)
	if errors.Is(err, persistence.ErrConflict) {
		return fmt.Errorf("%w: user name %q is taken", service.ErrConflict, userName)
	}
	return mapNotFound(err)
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return mapNotFound(r.users.Delete(ctx, userID))
}

func (r *PostgresRepository) GrantRole(ctx context.Context, userID uuid.UUID, role roles.Role) error {
	err := r.users.GrantRole(ctx, userID, role)
	if errors.Is(err, persistence.ErrConflict) {
		return fmt.Errorf("%w: role %s is already granted", service.ErrConflict, role)
	}
	return mapNotFound(err)
}

func (r *PostgresRepository) RevokeRole(ctx context.Context, userID uuid.UUID, role roles.Role) (bool, error) {
	return r.users.RevokeRole(ctx, userID, role)
}

// FanOutTargets maps the user's owned databases to provisioning targets,
// resolving each server's address with the usual precedence.
func (r *PostgresRepository) FanOutTargets(ctx context.Context, userID uuid.UUID) ([]provisioning.Target, error) {
	details, err := r.databases.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]provisioning.Target, 0, len(details))
	for _, d := range details {
		out = append(out, provisioning.Target{
			DatabaseID:     d.Database.DatabaseID,
			DatabaseName:   d.Database.Name,
			ServerID:       d.Server.ServerID,
			ServerName:     d.Server.Name,
			ServerAddress:  d.Server.Address(),
			IsLinkedServer: d.Server.IsLinkedServer,
		})
	}
	return out, nil
}

// DatabaseProvisioned and RoleProvisioned stamp the completion markers the
// provisioner reports through.

func (r *PostgresRepository) DatabaseProvisioned(ctx context.Context, userID, databaseID uuid.UUID) error {
	now := time.Now().UTC()
	return mapNotFound(r.users.MarkDatabaseProvisioned(ctx, userID, databaseID, &now))
}

func (r *PostgresRepository) RoleProvisioned(ctx context.Context, userID uuid.UUID, role roles.Role) error {
	now := time.Now().UTC()
	return mapNotFound(r.users.MarkRoleProvisioned(ctx, userID, role, &now))
}

func toUser(rec persistence.DatabaseUserRecord) service.User {
	return service.User{
		UserID:    rec.UserID,
		UserName:  rec.UserName,
		Password:  rec.Password,
		Roles:     rec.Roles,
		Databases: rec.Databases,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

var (
	_ service.Repository   = (*PostgresRepository)(nil)
	_ provisioning.Markers = (*PostgresRepository)(nil)
)
