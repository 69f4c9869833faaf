package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/platform/go/mssql"
)

// Handle wraps a fully built connection string. Opening the physical
// connection is the caller's concern; the driver owns pooling.
type Handle struct {
	ConnectionString string
}

// Open returns a database handle for the resolved connection string.
func (h Handle) Open() (*sql.DB, error) {
	return mssql.Open(h.ConnectionString)
}

// Resolve turns a selector plus an optional role constraint into an
// authenticated connection handle.
//
// A cached connection string is the single fast path: on a hit nothing else
// runs, no directory reads, no decryption. On a miss the connection row and
// its database/server/type are loaded, the server address is picked by
// strict precedence (FQDN, else host name, else IP), and the credential is
// chosen per the trusted/SQL-auth branch before the built string is cached
// and registered for invalidation.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (Handle, error) {
	if err := validateSelector(req.Selector); err != nil {
		return Handle{}, err
	}
	for _, r := range req.RequiredRoles {
		if !r.Valid() {
			return Handle{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, r)
		}
	}

	key := cacheKey(req)
	if cached, ok := s.cache.Get(ctx, key); ok {
		return Handle{ConnectionString: cached}, nil
	}

	target, err := s.loadTarget(ctx, req.Selector)
	if err != nil {
		return Handle{}, err
	}

	cs := mssql.ConnString{
		Server:   target.ServerAddress,
		Database: target.DatabaseName,
	}

	deps := targetDeps(target)

	if target.Trusted {
		// Integrated auth carries no directory credential; the role
		// constraint is ignored entirely on this branch.
		cs.Trusted = true
	} else {
		cred, err := s.selectUser(ctx, target.DatabaseID, req)
		if err != nil {
			return Handle{}, err
		}

		password, err := s.cipher.Decrypt(cred.Password)
		if err != nil {
			return Handle{}, fmt.Errorf("decrypt password for user %q: %w", cred.UserName, err)
		}

		cs.UserID = cred.UserName
		cs.Password = password
		deps = append(deps, cred.UserID.String(), cred.UserName)
	}
	for _, r := range req.RequiredRoles {
		deps = append(deps, string(r))
	}

	built := cs.String()
	s.cache.Put(ctx, key, built)
	s.cache.RegisterConnectionKey(ctx, key, deps...)

	s.logger.Debug("resolved connection",
		zap.Stringer("connection_id", target.ConnectionID),
		zap.String("server", target.ServerAddress),
		zap.String("database", target.DatabaseName),
		zap.Bool("trusted", target.Trusted),
	)
	return Handle{ConnectionString: built}, nil
}

func validateSelector(sel Selector) error {
	variants := 0
	if sel.ConnectionID != nil {
		variants++
	}
	if sel.TenantID != nil {
		variants++
	}
	if sel.TenantCode != nil {
		variants++
	}
	if variants != 1 {
		return fmt.Errorf("%w: exactly one of connection id, tenant id, or tenant code must be set", ErrInvalidRequest)
	}
	if sel.ConnectionID == nil && sel.DatabaseTypeID == nil {
		return fmt.Errorf("%w: database type is required with a tenant selector", ErrInvalidRequest)
	}
	if sel.TenantCode != nil && *sel.TenantCode == "" {
		return fmt.Errorf("%w: tenant code must not be empty", ErrInvalidRequest)
	}
	return nil
}

func (s *Service) loadTarget(ctx context.Context, sel Selector) (Target, error) {
	switch {
	case sel.ConnectionID != nil:
		target, err := s.repo.ResolveByConnection(ctx, *sel.ConnectionID)
		if err != nil {
			return Target{}, err
		}
		return target, nil

	case sel.TenantID != nil:
		target, err := s.repo.ResolveByTenantType(ctx, *sel.TenantID, *sel.DatabaseTypeID)
		if err == nil {
			return target, nil
		}
		return Target{}, s.explainTenantMiss(ctx, err, sel, "")

	default:
		target, err := s.repo.ResolveByTenantCodeType(ctx, *sel.TenantCode, *sel.DatabaseTypeID)
		if err == nil {
			return target, nil
		}
		return Target{}, s.explainTenantMiss(ctx, err, sel, *sel.TenantCode)
	}
}

// explainTenantMiss turns a bare not-found from a tenant selector into a
// message naming what is actually absent: the tenant, the type, or just the
// connection.
func (s *Service) explainTenantMiss(ctx context.Context, cause error, sel Selector, code string) error {
	if !errors.Is(cause, ErrNotFound) {
		return cause
	}

	if code != "" {
		exists, err := s.repo.TenantCodeExists(ctx, code)
		if err == nil && !exists {
			return fmt.Errorf("%w: tenant code %q does not exist", ErrNotFound, code)
		}
	} else if sel.TenantID != nil {
		exists, err := s.repo.TenantExists(ctx, *sel.TenantID)
		if err == nil && !exists {
			return fmt.Errorf("%w: tenant %s does not exist", ErrNotFound, *sel.TenantID)
		}
	}

	if exists, err := s.repo.TypeExists(ctx, *sel.DatabaseTypeID); err == nil && !exists {
		return fmt.Errorf("%w: database type %d does not exist", ErrNotFound, *sel.DatabaseTypeID)
	}

	return fmt.Errorf("%w: no connection for the selector", ErrNotFound)
}

// selectUser picks the credential for a SQL-auth target. The repository
// returns candidates in a stable order, so repeated resolutions of the same
// request select the same user.
func (s *Service) selectUser(ctx context.Context, databaseID uuid.UUID, req ResolveRequest) (Credential, error) {
	candidates, err := s.repo.FindEligibleUsers(ctx, databaseID, req.RequiredRoles, req.RoleMatch == MatchAll)
	if err != nil {
		return Credential{}, err
	}
	if len(candidates) == 0 {
		if len(req.RequiredRoles) == 0 {
			return Credential{}, fmt.Errorf("%w: no database user is linked to database %s", ErrNoEligibleUser, databaseID)
		}
		return Credential{}, fmt.Errorf("%w: database %s, roles %v (match %s)", ErrNoEligibleUser, databaseID, req.RequiredRoles, req.RoleMatch)
	}
	return candidates[0], nil
}
