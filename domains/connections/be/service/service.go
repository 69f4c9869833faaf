package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/platform/go/cache"
	"github.com/shardgate/dbdirectory/platform/go/roles"
	"github.com/shardgate/dbdirectory/platform/go/secrets"
)

// Errors returned by the connections service.
var (
	// ErrInvalidRequest indicates a malformed selector: zero or multiple
	// variants populated, or a missing database type.
	ErrInvalidRequest = errors.New("invalid resolve request")
	// ErrNotFound indicates the tenant, tenant code, database type, or
	// connection does not exist.
	ErrNotFound = errors.New("connection not found")
	// ErrConflict indicates the tenant already has a connection for the
	// database or for the database's type.
	ErrConflict = errors.New("connection conflict")
	// ErrNoEligibleUser indicates no database user satisfies the requested
	// role constraint.
	ErrNoEligibleUser = errors.New("no database user satisfies the requested roles")
)

// RoleMatchMode selects how RequiredRoles constrain user selection.
type RoleMatchMode int

const (
	// MatchAny selects a user holding at least one of the required roles.
	MatchAny RoleMatchMode = iota
	// MatchAll selects a user holding every required role.
	MatchAll
)

func (m RoleMatchMode) String() string {
	if m == MatchAll {
		return "all"
	}
	return "any"
}

// Selector identifies the connection to resolve. Exactly one variant must
// be populated: ConnectionID alone, TenantID+DatabaseTypeID, or
// TenantCode+DatabaseTypeID.
type Selector struct {
	ConnectionID   *uuid.UUID
	TenantID       *uuid.UUID
	TenantCode     *string
	DatabaseTypeID *int16
}

// ResolveRequest is the full input to Resolve.
type ResolveRequest struct {
	Selector      Selector
	RequiredRoles []roles.Role
	RoleMatch     RoleMatchMode
}

// Target is the directory view of a resolvable connection: the link row
// plus the database, server, and type it points at.
type Target struct {
	ConnectionID  uuid.UUID
	TenantID      uuid.UUID
	TenantCode    string
	DatabaseID    uuid.UUID
	DatabaseName  string
	ServerID      uuid.UUID
	ServerAddress string
	TypeID        int16
	Trusted       bool
}

// Credential is a database user eligible for a target. Password carries the
// at-rest (possibly encrypted) value.
type Credential struct {
	UserID   uuid.UUID
	UserName string
	Password string
	Roles    []roles.Role
}

// Connection is the domain model for a tenant-to-database link.
type Connection struct {
	ConnectionID uuid.UUID
	TenantID     uuid.UUID
	DatabaseID   uuid.UUID
	CreatedAt    time.Time
}

// Repository is the directory access the service needs.
type Repository interface {
	ResolveByConnection(ctx context.Context, connectionID uuid.UUID) (Target, error)
	ResolveByTenantType(ctx context.Context, tenantID uuid.UUID, typeID int16) (Target, error)
	ResolveByTenantCodeType(ctx context.Context, tenantCode string, typeID int16) (Target, error)

	// FindEligibleUsers returns users linked to the database whose role
	// grants satisfy the constraint, ordered deterministically. An empty
	// role set matches every linked user.
	FindEligibleUsers(ctx context.Context, databaseID uuid.UUID, required []roles.Role, matchAll bool) ([]Credential, error)

	// Existence probes used to report precise not-found causes.
	TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error)
	TenantCodeExists(ctx context.Context, tenantCode string) (bool, error)
	TypeExists(ctx context.Context, typeID int16) (bool, error)

	CreateConnection(ctx context.Context, conn Connection) (Connection, error)
	GetConnection(ctx context.Context, connectionID uuid.UUID) (Connection, error)
	ListConnectionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]Connection, error)
	CountConnectionsByTenantAndType(ctx context.Context, tenantID uuid.UUID, typeID int16) (int, error)
	DatabaseTypeID(ctx context.Context, databaseID uuid.UUID) (int16, error)
	DeleteConnection(ctx context.Context, connectionID uuid.UUID) error
}

// Service resolves connection requests and manages tenant-to-database links.
type Service struct {
	repo   Repository
	cipher *secrets.Cipher
	cache  cache.Cache
	logger *zap.Logger
}

func New(repo Repository, cipher *secrets.Cipher, c cache.Cache, logger *zap.Logger) *Service {
	if repo == nil {
		panic("connections repository is required")
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
	return &Service{repo: repo, cipher: cipher, cache: c, logger: logger}
}

// CreateConnection links a tenant to a database. A tenant may hold at most
// one connection per database type.
func (s *Service) CreateConnection(ctx context.Context, tenantID, databaseID uuid.UUID) (Connection, error) {
	typeID, err := s.repo.DatabaseTypeID(ctx, databaseID)
	if err != nil {
		return Connection{}, err
	}

	count, err := s.repo.CountConnectionsByTenantAndType(ctx, tenantID, typeID)
	if err != nil {
		return Connection{}, err
	}
	if count > 0 {
		return Connection{}, fmt.Errorf("%w: tenant %s already has a connection for database type %d", ErrConflict, tenantID, typeID)
	}

	conn, err := s.repo.CreateConnection(ctx, Connection{
		ConnectionID: uuid.New(),
		TenantID:     tenantID,
		DatabaseID:   databaseID,
	})
	if err != nil {
		return Connection{}, err
	}

	s.cache.InvalidateByFragment(ctx, tenantID.String())
	return conn, nil
}

func (s *Service) GetConnection(ctx context.Context, connectionID uuid.UUID) (Connection, error) {
	return s.repo.GetConnection(ctx, connectionID)
}

func (s *Service) ListConnectionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]Connection, error) {
	return s.repo.ListConnectionsByTenant(ctx, tenantID)
}

// DeleteConnection removes a link and invalidates anything cached from it.
func (s *Service) DeleteConnection(ctx context.Context, connectionID uuid.UUID) error {
	conn, err := s.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteConnection(ctx, connectionID); err != nil {
		return err
	}

	s.cache.InvalidateByFragment(ctx, connectionID.String())
	s.cache.InvalidateByFragment(ctx, conn.TenantID.String())
	return nil
}
