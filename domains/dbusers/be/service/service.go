package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	"github.com/shardgate/dbdirectory/platform/go/cache"
	"github.com/shardgate/dbdirectory/platform/go/roles"
	"github.com/shardgate/dbdirectory/platform/go/sanitize"
	"github.com/shardgate/dbdirectory/platform/go/secrets"
)

// Errors returned by the dbusers service.
var (
	// ErrInvalidRequest indicates a malformed user name, role, or target set.
	ErrInvalidRequest = errors.New("invalid database user request")
	// ErrNotFound indicates the user or a referenced database does not exist.
	ErrNotFound = errors.New("database user not found")
	// ErrConflict indicates a duplicate user name, a duplicate role grant, or
	// a delete attempted while role grants remain.
	ErrConflict = errors.New("database user conflict")
)

// User is the domain model of a logical database user. Password holds the
// at-rest value and is never serialized outward.
type User struct {
	UserID    uuid.UUID
	UserName  string
	Password  string
	Roles     []roles.Role
	Databases []uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole reports whether the user holds the given role.
func (u User) HasRole(role roles.Role) bool {
	for _, held := range u.Roles {
		if held == role {
			return true
		}
	}
	return false
}

// CreateUserRequest is the input to CreateUser. A user always owns at least
// one database; initial roles are granted in the same call.
type CreateUserRequest struct {
	UserName       string
	Password       string
	Databases      []uuid.UUID
	Roles          []roles.Role
	AffectDatabase bool
}

// Repository is the directory access the service needs.
type Repository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)
	GetUserByName(ctx context.Context, userName string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, password string) error
	RenameUser(ctx context.Context, userID uuid.UUID, userName string) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	GrantRole(ctx context.Context, userID uuid.UUID, role roles.Role) error

	// RevokeRole reports whether a grant existed. Revoking a role that was
	// never granted is a no-op, not an error.
	RevokeRole(ctx context.Context, userID uuid.UUID, role roles.Role) (bool, error)

	// FanOutTargets lists the physical databases the user owns, the
	// provisioner's execution set.
	FanOutTargets(ctx context.Context, userID uuid.UUID) ([]provisioning.Target, error)
}

// Provisioner executes the physical side effects of user mutations.
type Provisioner interface {
	CreateLogin(ctx context.Context, user provisioning.User, password string, targets []provisioning.Target) error
	AlterLoginPassword(ctx context.Context, user provisioning.User, password string, targets []provisioning.Target) error
	CreateUser(ctx context.Context, user provisioning.User, targets []provisioning.Target) error
	GrantRole(ctx context.Context, user provisioning.User, role roles.Role, targets []provisioning.Target) error
	RevokeRole(ctx context.Context, user provisioning.User, role roles.Role, targets []provisioning.Target) error
	DropUser(ctx context.Context, user provisioning.User, targets []provisioning.Target) error
	DropLogin(ctx context.Context, user provisioning.User, targets []provisioning.Target) error
	RenameUser(ctx context.Context, user provisioning.User, newName string, targets []provisioning.Target) error
}

// Service manages logical database users and drives physical provisioning.
// Every mutating call takes an affectDatabase flag: unset, the mutation stops
// at the directory record; set, it is carried through to SQL logins, users,
// and role memberships on the owned servers.
type Service struct {
	repo   Repository
	prov   Provisioner
	cipher *secrets.Cipher
	cache  cache.Cache
	logger *zap.Logger
}

func New(repo Repository, prov Provisioner, cipher *secrets.Cipher, c cache.Cache, logger *zap.Logger) *Service {
	if repo == nil {
		panic("dbusers repository is required")
	}
	if prov == nil {
		panic("provisioner is required")
	}
	if cipher == nil {
		cipher = secrets.New("")
	}
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, prov: prov, cipher: cipher, cache: c, logger: logger}
}

// CreateUser creates the directory record, grants the initial roles, and,
// when affectDatabase is set, provisions the login, database users, and role
// memberships across every owned database.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (User, error) {
	if _, err := sanitize.Identifier(req.UserName); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidRequest)
	}
	if len(req.Databases) == 0 {
		return User{}, fmt.Errorf("%w: at least one database is required", ErrInvalidRequest)
	}
	for _, role := range req.Roles {
		if !role.Valid() {
			return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
		}
	}

	stored, err := s.cipher.Encrypt(req.Password)
	if err != nil {
		return User{}, fmt.Errorf("encrypt password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, User{
		UserID:    uuid.New(),
		UserName:  req.UserName,
		Password:  stored,
		Databases: req.Databases,
	})
	if err != nil {
		return User{}, err
	}
	for _, role := range req.Roles {
		if err := s.repo.GrantRole(ctx, user.UserID, role); err != nil {
			return User{}, err
		}
		user.Roles = append(user.Roles, role)
	}

	if req.AffectDatabase {
		targets, err := s.repo.FanOutTargets(ctx, user.UserID)
		if err != nil {
			return User{}, err
		}
		pu := provisioning.User{ID: user.UserID, Name: user.UserName}
		if err := s.prov.CreateLogin(ctx, pu, req.Password, targets); err != nil {
			return User{}, err
		}
		if err := s.prov.CreateUser(ctx, pu, targets); err != nil {
			return User{}, err
		}
		for _, role := range req.Roles {
			if err := s.prov.GrantRole(ctx, pu, role, targets); err != nil {
				return User{}, err
			}
		}
	}

	s.cache.Remove(ctx, provisioning.AllUsersCacheKey)
	s.logger.Info("database user created",
		zap.String("user", user.UserName),
		zap.Int("databases", len(user.Databases)),
		zap.Bool("affect_database", req.AffectDatabase))
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	return s.repo.GetUser(ctx, userID)
}

func (s *Service) GetUserByName(ctx context.Context, userName string) (User, error) {
	return s.repo.GetUserByName(ctx, userName)
}

// userSummary is the cached shape of the user listing. Passwords never enter
// the cache.
type userSummary struct {
	UserID    uuid.UUID    `json:"userId"`
	UserName  string       `json:"userName"`
	Roles     []roles.Role `json:"roles"`
	Databases []uuid.UUID  `json:"databases"`
}

// ListUsers returns every user, served from the cached listing when present.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	if raw, ok := s.cache.Get(ctx, provisioning.AllUsersCacheKey); ok {
		var summaries []userSummary
		if err := json.Unmarshal([]byte(raw), &summaries); err == nil {
			out := make([]User, 0, len(summaries))
			for _, sum := range summaries {
				out = append(out, User{
					UserID:    sum.UserID,
					UserName:  sum.UserName,
					Roles:     sum.Roles,
					Databases: sum.Databases,
				})
			}
			return out, nil
		}
		s.cache.Remove(ctx, provisioning.AllUsersCacheKey)
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]userSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, userSummary{
			UserID:    u.UserID,
			UserName:  u.UserName,
			Roles:     u.Roles,
			Databases: u.Databases,
		})
	}
	if raw, err := json.Marshal(summaries); err == nil {
		s.cache.Put(ctx, provisioning.AllUsersCacheKey, string(raw))
	}
	return users, nil
}

// RotatePassword re-encrypts and stores the new password and, when
// affectDatabase is set, alters the login on every owned server.
func (s *Service) RotatePassword(ctx context.Context, userID uuid.UUID, newPassword string, affectDatabase bool) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidRequest)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	stored, err := s.cipher.Encrypt(newPassword)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, stored); err != nil {
		return err
	}

	if affectDatabase {
		targets, err := s.repo.FanOutTargets(ctx, userID)
		if err != nil {
			return err
		}
		pu := provisioning.User{ID: user.UserID, Name: user.UserName}
		if err := s.prov.AlterLoginPassword(ctx, pu, newPassword, targets); err != nil {
			return err
		}
	}

	// Cached connection strings embed the decrypted credential; everything
	// built from this user is now stale.
	s.cache.Remove(ctx, provisioning.AllUsersCacheKey)
	s.cache.InvalidateByFragment(ctx, userID.String())
	s.cache.InvalidateByFragment(ctx, user.UserName)
	return nil
}

// RenameUser renames the directory record and, when affectDatabase is set,
// the physical database users and login.
func (s *Service) RenameUser(ctx context.Context, userID uuid.UUID, newName string, affectDatabase bool) error {
	if _, err := sanitize.Identifier(newName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.UserName == newName {
		return nil
	}

	if affectDatabase {
		targets, err := s.repo.FanOutTargets(ctx, userID)
		if err != nil {
			return err
		}
		pu := provisioning.User{ID: user.UserID, Name: user.UserName}
		if err := s.prov.RenameUser(ctx, pu, newName, targets); err != nil {
			return err
		}
	}
	if err := s.repo.RenameUser(ctx, userID, newName); err != nil {
		return err
	}

	s.cache.Remove(ctx, provisioning.AllUsersCacheKey)
	s.cache.InvalidateByFragment(ctx, userID.String())
	s.cache.InvalidateByFragment(ctx, user.UserName)
	s.cache.InvalidateByFragment(ctx, newName)
	return nil
}

// GrantRole grants a fixed database role. Granting a role the user already
// holds is a conflict.
func (s *Service) GrantRole(ctx context.Context, userID uuid.UUID, role roles.Role, affectDatabase bool) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.repo.GrantRole(ctx, userID, role); err != nil {
		return err
	}

	if affectDatabase {
		targets, err := s.repo.FanOutTargets(ctx, userID)
		if err != nil {
			return err
		}
		pu := provisioning.User{ID: user.UserID, Name: user.UserName}
		if err := s.prov.GrantRole(ctx, pu, role, targets); err != nil {
			return err
		}
	}

	s.cache.Remove(ctx, provisioning.AllUsersCacheKey)
	s.cache.InvalidateByFragment(ctx, userID.String())
	s.cache.InvalidateByFragment(ctx, string(role))
	return nil
}

// RevokeRole removes a role grant. Revoking a role the user never held is a
// no-op success and executes no SQL; revoking from a user that does not exist
// is ErrNotFound.
func (s *Service) RevokeRole(ctx context.Context, userID uuid.UUID, role roles.Role, affectDatabase bool) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	existed, err := s.repo.RevokeRole(ctx, userID, role)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}

	if affectDatabase {
		targets, err := s.repo.FanOutTargets(ctx, userID)
		if err != nil {
			return err
		}
		pu := provisioning.User{ID: user.UserID, Name: user.UserName}
		if err := s.prov.RevokeRole(ctx, pu, role, targets); err != nil {
			return err
		}
	}

	s.cache.Remove(ctx, provisioning.AllUsersCacheKey)
	s.cache.InvalidateByFragment(ctx, userID.String())
	s.cache.InvalidateByFragment(ctx, string(role))
	return nil
}

// DeleteUser removes the user. Deletion is blocked while role grants remain;
// with affectDatabase set the physical users and login are dropped first.
func (s *Service) DeleteUser(ctx context.Context, userID uuid.UUID, affectDatabase bool) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(user.Roles) > 0 {
		return fmt.Errorf("%w: user %s still holds %d roles", ErrConflict, user.UserName, len(user.Roles))
	}

	if affectDatabase {
		targets, err := s.repo.FanOutTargets(ctx, userID)
		if err != nil {
			return err
		}
		pu := provisioning.User{ID: user.UserID, Name: user.UserName}
		if err := s.prov.DropUser(ctx, pu, targets); err != nil {
			return err
		}
		if err := s.prov.DropLogin(ctx, pu, targets); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}

	s.cache.Remove(ctx, provisioning.AllUsersCacheKey)
	s.cache.InvalidateByFragment(ctx, userID.String())
	s.cache.InvalidateByFragment(ctx, user.UserName)
	return nil
}
