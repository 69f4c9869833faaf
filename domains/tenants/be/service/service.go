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
	ErrInvalidRequest = errors.New("invalid tenant request")
	ErrNotFound       = errors.New("tenant not found")
	ErrConflict       = errors.New("tenant conflict")
	// ErrReferenced indicates the tenant still holds connections.
	ErrReferenced = errors.New("tenant is referenced by connections")
)

// Tenant is the domain model of a directory tenant. Code is the optional
// short identifier applications resolve by.
type Tenant struct {
	TenantID  uuid.UUID
	Name      string
	Code      *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is the directory access the service needs.
type Repository interface {
	Create(ctx context.Context, tenant Tenant) (Tenant, error)
	Get(ctx context.Context, tenantID uuid.UUID) (Tenant, error)
	GetByCode(ctx context.Context, code string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	Update(ctx context.Context, tenant Tenant) (Tenant, error)
	Delete(ctx context.Context, tenantID uuid.UUID) error
}

// Service manages tenants. Mutations invalidate cached connection strings
// built from the tenant's id or code.
type Service struct {
	repo   Repository
	cache  cache.Cache
	logger *zap.Logger
}

func New(repo Repository, c cache.Cache, logger *zap.Logger) *Service {
	if repo == nil {
		panic("tenants repository is required")
	}
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, cache: c, logger: logger}
}

func (s *Service) Create(ctx context.Context, name string, code *string, active bool) (Tenant, error) {
	if strings.TrimSpace(name) == "" {
		return Tenant{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if code != nil && strings.TrimSpace(*code) == "" {
		return Tenant{}, fmt.Errorf("%w: code must not be blank when set", ErrInvalidRequest)
	}

	tenant, err := s.repo.Create(ctx, Tenant{
		TenantID: uuid.New(),
		Name:     name,
		Code:     code,
		Active:   active,
	})
	if err != nil {
		return Tenant{}, err
	}
	s.logger.Info("tenant created", zap.String("name", tenant.Name))
	return tenant, nil
}

func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, tenantID)
}

func (s *Service) GetByCode(ctx context.Context, code string) (Tenant, error) {
	return s.repo.GetByCode(ctx, code)
}

func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return s.repo.List(ctx)
}

// Update renames the tenant or changes its code or status. Cached strings
// keyed by the old or new code go stale either way.
func (s *Service) Update(ctx context.Context, tenant Tenant) (Tenant, error) {
	if strings.TrimSpace(tenant.Name) == "" {
		return Tenant{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}

	before, err := s.repo.Get(ctx, tenant.TenantID)
	if err != nil {
		return Tenant{}, err
	}
	updated, err := s.repo.Update(ctx, tenant)
	if err != nil {
		return Tenant{}, err
	}

	s.cache.InvalidateByFragment(ctx, tenant.TenantID.String())
	if before.Code != nil {
		s.cache.InvalidateByFragment(ctx, *before.Code)
	}
	if updated.Code != nil {
		s.cache.InvalidateByFragment(ctx, *updated.Code)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tenantID); err != nil {
		return err
	}

	s.cache.InvalidateByFragment(ctx, tenantID.String())
	if tenant.Code != nil {
		s.cache.InvalidateByFragment(ctx, *tenant.Code)
	}
	return nil
}
