package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shardgate/dbdirectory/platform/go/roles"
)

// DatabaseUserRecord mirrors one row of the database_users table with its
// role grants and owned-database links eagerly loaded. Password holds the
// at-rest value, encrypted when a cipher key is configured.
type DatabaseUserRecord struct {
	UserID    uuid.UUID
	UserName  string
	Password  string
	Roles     []roles.Role
	Databases []uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole reports whether the user holds the given role.
func (r DatabaseUserRecord) HasRole(role roles.Role) bool {
	for _, held := range r.Roles {
		if held == role {
			return true
		}
	}
	return false
}

// DBUserStore persists database users, their owned-database links, and
// their role grants. Links and grants carry a provisioned_at marker so a
// retried fan-out can skip targets whose physical side effects already
// completed.
type DBUserStore struct {
	pool *pgxpool.Pool
}

func NewDBUserStore(pool *pgxpool.Pool) (*DBUserStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &DBUserStore{pool: pool}, nil
}

// Create inserts the user and its initial database links in one transaction.
// A user always owns at least one database.
func (s *DBUserStore) Create(ctx context.Context, rec DatabaseUserRecord) (DatabaseUserRecord, error) {
	if len(rec.Databases) == 0 {
		return DatabaseUserRecord{}, errors.New("database user requires at least one database")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DatabaseUserRecord{}, fmt.Errorf("begin user tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO database_users (user_id, user_name, password, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, rec.UserID, rec.UserName, rec.Password); err != nil {
		if isUniqueViolation(err) {
			return DatabaseUserRecord{}, ErrConflict
		}
		return DatabaseUserRecord{}, fmt.Errorf("insert database user: %w", err)
	}

	for _, databaseID := range rec.Databases {
		if _, err := tx.Exec(ctx, `
			INSERT INTO database_user_databases (user_id, database_id)
			VALUES ($1, $2)
		`, rec.UserID, databaseID); err != nil {
			if isForeignKeyViolation(err) {
				return DatabaseUserRecord{}, ErrNotFound
			}
			if isUniqueViolation(err) {
				return DatabaseUserRecord{}, ErrConflict
			}
			return DatabaseUserRecord{}, fmt.Errorf("link user database: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return DatabaseUserRecord{}, fmt.Errorf("commit user tx: %w", err)
	}
	return s.Get(ctx, rec.UserID)
}

func (s *DBUserStore) Get(ctx context.Context, userID uuid.UUID) (DatabaseUserRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, user_name, password, created_at, updated_at
		FROM database_users
		WHERE user_id = $1
	`, userID)
	return s.loadUser(ctx, row)
}

func (s *DBUserStore) GetByName(ctx context.Context, userName string) (DatabaseUserRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, user_name, password, created_at, updated_at
		FROM database_users
		WHERE user_name = $1
	`, userName)
	return s.loadUser(ctx, row)
}

func (s *DBUserStore) List(ctx context.Context) ([]DatabaseUserRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, user_name, password, created_at, updated_at
		FROM database_users
		ORDER BY user_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list database users: %w", err)
	}
	defer rows.Close()

	var out []DatabaseUserRecord
	for rows.Next() {
		var rec DatabaseUserRecord
		if err := rows.Scan(&rec.UserID, &rec.UserName, &rec.Password, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan database user: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.attachRolesAndDatabases(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindEligible returns the users linked to a database whose granted roles
// satisfy the request. With matchAll unset, holding any one of the required
// roles qualifies; with matchAll set, every required role must be held.
// An empty role set returns every user linked to the database.
func (s *DBUserStore) FindEligible(ctx context.Context, databaseID uuid.UUID, required []roles.Role, matchAll bool) ([]DatabaseUserRecord, error) {
	ordinals := make([]int16, 0, len(required))
	for _, r := range required {
		ordinals = append(ordinals, r.Ordinal())
	}

	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case len(required) == 0:
		rows, err = s.pool.Query(ctx, `
			SELECT u.user_id, u.user_name, u.password, u.created_at, u.updated_at
			FROM database_users u
			JOIN database_user_databases ud ON ud.user_id = u.user_id
			WHERE ud.database_id = $1
			ORDER BY u.user_name
		`, databaseID)
	case matchAll:
		rows, err = s.pool.Query(ctx, `
			SELECT u.user_id, u.user_name, u.password, u.created_at, u.updated_at
			FROM database_users u
			JOIN database_user_databases ud ON ud.user_id = u.user_id
			WHERE ud.database_id = $1
			  AND (SELECT count(*) FROM database_user_roles ur
			       WHERE ur.user_id = u.user_id AND ur.role_id = ANY($2)) = $3
			ORDER BY u.user_name
		`, databaseID, ordinals, len(ordinals))
	default:
		rows, err = s.pool.Query(ctx, `
			SELECT DISTINCT u.user_id, u.user_name, u.password, u.created_at, u.updated_at
			FROM database_users u
			JOIN database_user_databases ud ON ud.user_id = u.user_id
			JOIN database_user_roles ur ON ur.user_id = u.user_id
			WHERE ud.database_id = $1 AND ur.role_id = ANY($2)
			ORDER BY u.user_name
		`, databaseID, ordinals)
	}
	if err != nil {
		return nil, fmt.Errorf("find eligible users: %w", err)
	}
	defer rows.Close()

	var out []DatabaseUserRecord
	for rows.Next() {
		var rec DatabaseUserRecord
		if err := rows.Scan(&rec.UserID, &rec.UserName, &rec.Password, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan eligible user: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.attachRolesAndDatabases(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *DBUserStore) UpdatePassword(ctx context.Context, userID uuid.UUID, password string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE database_users SET password = $2, updated_at = now() WHERE user_id = $1
	`, userID, password)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DBUserStore) Rename(ctx context.Context, userID uuid.UUID, userName string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE database_users SET user_name = $2, updated_at = now() WHERE user_id = $1
	`, userID, userName)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("rename user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the user; database links and role grants cascade.
func (s *DBUserStore) Delete(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM database_users WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GrantRole records a role grant. Granting a role the user already holds is
// a conflict.
func (s *DBUserStore) GrantRole(ctx context.Context, userID uuid.UUID, role roles.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO database_user_roles (user_id, role_id) VALUES ($1, $2)
	`, userID, role.Ordinal())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// RevokeRole removes a role grant and reports whether one existed. Revoking
// a role that was never granted is not an error; the caller uses the return
// value to skip physical revocation.
func (s *DBUserStore) RevokeRole(ctx context.Context, userID uuid.UUID, role roles.Role) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM database_user_roles WHERE user_id = $1 AND role_id = $2
	`, userID, role.Ordinal())
	if err != nil {
		return false, fmt.Errorf("revoke role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDatabaseProvisioned records that physical provisioning completed for
// the (user, database) pair; a nil time clears the marker.
func (s *DBUserStore) MarkDatabaseProvisioned(ctx context.Context, userID, databaseID uuid.UUID, at *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE database_user_databases SET provisioned_at = $3
		WHERE user_id = $1 AND database_id = $2
	`, userID, databaseID, at)
	if err != nil {
		return fmt.Errorf("mark database provisioned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRoleProvisioned records that the physical role membership was granted;
// a nil time clears the marker.
func (s *DBUserStore) MarkRoleProvisioned(ctx context.Context, userID uuid.UUID, role roles.Role, at *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE database_user_roles SET provisioned_at = $3
		WHERE user_id = $1 AND role_id = $2
	`, userID, role.Ordinal(), at)
	if err != nil {
		return fmt.Errorf("mark role provisioned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DBUserStore) loadUser(ctx context.Context, row pgx.Row) (DatabaseUserRecord, error) {
	var rec DatabaseUserRecord
	if err := row.Scan(&rec.UserID, &rec.UserName, &rec.Password, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DatabaseUserRecord{}, ErrNotFound
		}
		return DatabaseUserRecord{}, fmt.Errorf("fetch database user: %w", err)
	}
	if err := s.attachRolesAndDatabases(ctx, &rec); err != nil {
		return DatabaseUserRecord{}, err
	}
	return rec, nil
}

func (s *DBUserStore) attachRolesAndDatabases(ctx context.Context, rec *DatabaseUserRecord) error {
	roleRows, err := s.pool.Query(ctx, `
		SELECT role_id FROM database_user_roles WHERE user_id = $1 ORDER BY role_id
	`, rec.UserID)
	if err != nil {
		return fmt.Errorf("load user roles: %w", err)
	}
	defer roleRows.Close()

	for roleRows.Next() {
		var ordinal int16
		if err := roleRows.Scan(&ordinal); err != nil {
			return fmt.Errorf("scan user role: %w", err)
		}
		role, err := roles.ByOrdinal(ordinal)
		if err != nil {
			return err
		}
		rec.Roles = append(rec.Roles, role)
	}
	if err := roleRows.Err(); err != nil {
		return err
	}

	dbRows, err := s.pool.Query(ctx, `
		SELECT database_id FROM database_user_databases WHERE user_id = $1
	`, rec.UserID)
	if err != nil {
		return fmt.Errorf("load user databases: %w", err)
	}
	defer dbRows.Close()

	for dbRows.Next() {
		var databaseID uuid.UUID
		if err := dbRows.Scan(&databaseID); err != nil {
			return fmt.Errorf("scan user database: %w", err)
		}
		rec.Databases = append(rec.Databases, databaseID)
	}
	return dbRows.Err()
}
