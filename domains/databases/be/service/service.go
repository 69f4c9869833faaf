package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	"github.com/shardgate/dbdirectory/platform/go/cache"
	"github.com/shardgate/dbdirectory/platform/go/sanitize"
)

var (
	ErrInvalidRequest = errors.New("invalid database request")
	ErrNotFound       = errors.New("database not found")
	ErrConflict       = errors.New("database conflict")
	// ErrReferenced indicates connections or users still point at the
	// database.
	ErrReferenced = errors.New("database is referenced")
)

// Database is the domain model of one physical database on a server.
type Database struct {
	DatabaseID           uuid.UUID
	Name                 string
	ServerID             uuid.UUID
	TypeID               int16
	StatusID             int16
	UseTrustedConnection bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ServerInfo is the addressing view of the owning server, needed when a
// physical drop has to reach it.
type ServerInfo struct {
	ServerID       uuid.UUID
	Name           string
	Address        string
	IsLinkedServer bool
}

// Repository is the directory access the service needs.
type Repository interface {
	Create(ctx context.Context, database Database) (Database, error)
	Get(ctx context.Context, databaseID uuid.UUID) (Database, error)
	List(ctx context.Context) ([]Database, error)
	Update(ctx context.Context, database Database) (Database, error)
	Delete(ctx context.Context, databaseID uuid.UUID) error

	// ServerOf resolves the owning server's addressing for physical drops.
	ServerOf(ctx context.Context, databaseID uuid.UUID) (ServerInfo, error)
}

// Dropper issues the physical DROP DATABASE. Satisfied by the credential
// provisioner.
type Dropper interface {
	DropDatabase(ctx context.Context, target provisioning.Target) error
}

// Service manages database records and, on request, their physical removal.
type Service struct {
	repo    Repository
	dropper Dropper
	cache   cache.Cache
	logger  *zap.Logger
}

func New(repo Repository, dropper Dropper, c cache.Cache, logger *zap.Logger) *Service {
	if repo == nil {
		panic("databases repository is required")
	}
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, dropper: dropper, cache: c, logger: logger}
}

// Create registers a database. The name must be a valid SQL identifier since
// it is later concatenated into provisioning DDL.
func (s *Service) Create(ctx context.Context, database Database) (Database, error) {
	if _, err := sanitize.Identifier(database.Name); err != nil {
		return Database{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if database.ServerID == uuid.Nil {
		return Database{}, fmt.Errorf("%w: serverId is required", ErrInvalidRequest)
	}
	if database.TypeID <= 0 {
		return Database{}, fmt.Errorf("%w: typeId is required", ErrInvalidRequest)
	}

	database.DatabaseID = uuid.New()
	created, err := s.repo.Create(ctx, database)
	if err != nil {
		return Database{}, err
	}
	s.logger.Info("database registered",
		zap.String("name", created.Name),
		zap.Int16("type", created.TypeID))
	return created, nil
}

func (s *Service) Get(ctx context.Context, databaseID uuid.UUID) (Database, error) {
	return s.repo.Get(ctx, databaseID)
}

func (s *Service) List(ctx context.Context) ([]Database, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, database Database) (Database, error) {
	if _, err := sanitize.Identifier(database.Name); err != nil {
		return Database{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	updated, err := s.repo.Update(ctx, database)
	if err != nil {
		return Database{}, err
	}
	s.cache.InvalidateByFragment(ctx, database.DatabaseID.String())
	return updated, nil
}

// Delete removes the database record. With physicalDrop set the database is
// dropped on its server first; the record delete still proceeds only when
// the drop succeeded.
func (s *Service) Delete(ctx context.Context, databaseID uuid.UUID, physicalDrop bool) error {
	database, err := s.repo.Get(ctx, databaseID)
	if err != nil {
		return err
	}

	if physicalDrop {
		if s.dropper == nil {
			return fmt.Errorf("%w: physical drop requested but no executor is configured", ErrInvalidRequest)
		}
		server, err := s.repo.ServerOf(ctx, databaseID)
		if err != nil {
			return err
		}
		err = s.dropper.DropDatabase(ctx, provisioning.Target{
			DatabaseID:     database.DatabaseID,
			DatabaseName:   database.Name,
			ServerID:       server.ServerID,
			ServerName:     server.Name,
			ServerAddress:  server.Address,
			IsLinkedServer: server.IsLinkedServer,
		})
		if err != nil {
			return err
		}
		s.logger.Warn("database physically dropped",
			zap.String("name", database.Name),
			zap.String("server", server.Name))
	}

	if err := s.repo.Delete(ctx, databaseID); err != nil {
		return err
	}
	s.cache.InvalidateByFragment(ctx, databaseID.String())
	return nil
}
