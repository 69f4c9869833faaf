package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/platform/go/cache"
)

var (
	ErrInvalidRequest = errors.New("invalid catalog request")
	ErrNotFound       = errors.New("catalog entry not found")
	ErrConflict       = errors.New("catalog entry conflict")
	// ErrReferenced indicates databases still point at the server or type.
	ErrReferenced = errors.New("catalog entry is referenced by databases")
)

// Server is the domain model of a physical SQL Server instance. At least one
// of FQDN, HostName, IPAddress must be set; resolution picks them in that
// order.
type Server struct {
	ServerID       uuid.UUID
	Name           string
	HostName       *string
	FQDN           *string
	IPAddress      *string
	IsLinkedServer bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DatabaseType is a logical database category, e.g. billing or reporting.
type DatabaseType struct {
	TypeID int16
	Name   string
}

// Repository is the directory access the service needs.
type Repository interface {
	CreateServer(ctx context.Context, server Server) (Server, error)
	GetServer(ctx context.Context, serverID uuid.UUID) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	UpdateServer(ctx context.Context, server Server) (Server, error)
	DeleteServer(ctx context.Context, serverID uuid.UUID) error

	CreateType(ctx context.Context, dbType DatabaseType) (DatabaseType, error)
	GetType(ctx context.Context, typeID int16) (DatabaseType, error)
	ListTypes(ctx context.Context) ([]DatabaseType, error)
	RenameType(ctx context.Context, typeID int16, name string) (DatabaseType, error)
	DeleteType(ctx context.Context, typeID int16) error
}

// Service manages the server and database-type reference data. Mutations
// invalidate cached connection strings built from the affected entries.
type Service struct {
	repo   Repository
	cache  cache.Cache
	logger *zap.Logger
}

func New(repo Repository, c cache.Cache, logger *zap.Logger) *Service {
	if repo == nil {
		panic("catalog repository is required")
	}
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, cache: c, logger: logger}
}

func (s *Service) CreateServer(ctx context.Context, server Server) (Server, error) {
	if err := validateServer(server); err != nil {
		return Server{}, err
	}
	server.ServerID = uuid.New()
	created, err := s.repo.CreateServer(ctx, server)
	if err != nil {
		return Server{}, err
	}
	s.logger.Info("database server registered",
		zap.String("name", created.Name),
		zap.Bool("linked", created.IsLinkedServer))
	return created, nil
}

func (s *Service) GetServer(ctx context.Context, serverID uuid.UUID) (Server, error) {
	return s.repo.GetServer(ctx, serverID)
}

func (s *Service) ListServers(ctx context.Context) ([]Server, error) {
	return s.repo.ListServers(ctx)
}

// UpdateServer changes addressing or the linked flag. Any cached string
// built from the server may now point at the wrong address.
func (s *Service) UpdateServer(ctx context.Context, server Server) (Server, error) {
	if err := validateServer(server); err != nil {
		return Server{}, err
	}
	updated, err := s.repo.UpdateServer(ctx, server)
	if err != nil {
		return Server{}, err
	}
	s.cache.InvalidateByFragment(ctx, server.ServerID.String())
	return updated, nil
}

func (s *Service) DeleteServer(ctx context.Context, serverID uuid.UUID) error {
	if err := s.repo.DeleteServer(ctx, serverID); err != nil {
		return err
	}
	s.cache.InvalidateByFragment(ctx, serverID.String())
	return nil
}

func (s *Service) CreateType(ctx context.Context, typeID int16, name string) (DatabaseType, error) {
	if strings.TrimSpace(name) == "" {
		return DatabaseType{}, fmt.Errorf("%w: type name is required", ErrInvalidRequest)
	}
	if typeID <= 0 {
		return DatabaseType{}, fmt.Errorf("%w: type id must be positive", ErrInvalidRequest)
	}
	return s.repo.CreateType(ctx, DatabaseType{TypeID: typeID, Name: name})
}

func (s *Service) GetType(ctx context.Context, typeID int16) (DatabaseType, error) {
	return s.repo.GetType(ctx, typeID)
}

func (s *Service) ListTypes(ctx context.Context) ([]DatabaseType, error) {
	return s.repo.ListTypes(ctx)
}

func (s *Service) RenameType(ctx context.Context, typeID int16, name string) (DatabaseType, error) {
	if strings.TrimSpace(name) == "" {
		return DatabaseType{}, fmt.Errorf("%w: type name is required", ErrInvalidRequest)
	}
	renamed, err := s.repo.RenameType(ctx, typeID, name)
	if err != nil {
		return DatabaseType{}, err
	}
	s.cache.InvalidateByFragment(ctx, fmt.Sprintf("type=%d", typeID))
	return renamed, nil
}

func (s *Service) DeleteType(ctx context.Context, typeID int16) error {
	if err := s.repo.DeleteType(ctx, typeID); err != nil {
		return err
	}
	s.cache.InvalidateByFragment(ctx, fmt.Sprintf("type=%d", typeID))
	return nil
}

func validateServer(server Server) error {
	if strings.TrimSpace(server.Name) == "" {
		return fmt.Errorf("%w: server name is required", ErrInvalidRequest)
	}
	if blank(server.HostName) && blank(server.FQDN) && blank(server.IPAddress) {
		return fmt.Errorf("%w: at least one of hostName, fqdn, ipAddress is required", ErrInvalidRequest)
	}
	return nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
