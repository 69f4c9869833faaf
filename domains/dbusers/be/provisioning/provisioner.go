package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/platform/go/cache"
	"github.com/shardgate/dbdirectory/platform/go/roles"
)

// ErrProvisioning marks a failure while executing credential DDL against a
// target server. Errors carrying it always wrap the driver error and name
// the failing target, because a multi-server fan-out is not transactional
// and the caller has to know where it stopped.
var ErrProvisioning = errors.New("provisioning failed")

// AllUsersCacheKey is the well-known entry for the cached user listing.
// Every successful provisioning call removes it.
const AllUsersCacheKey = "dbusers:all"

// Executor runs one T-SQL batch against one server. The production
// implementation lives in platform/go/mssql.
type Executor interface {
	Exec(ctx context.Context, serverAddress, command string) error
}

// Target is one physical database in a logical user's fan-out set. When the
// owning server is a linked server its DDL is indirected through the gateway
// with the server's registered name inside the at [...] clause.
type Target struct {
	DatabaseID     uuid.UUID
	DatabaseName   string
	ServerID       uuid.UUID
	ServerName     string
	ServerAddress  string
	IsLinkedServer bool
}

// User identifies the logical database user a fan-out is about.
type User struct {
	ID   uuid.UUID
	Name string
}

// Markers records which provisioning steps completed so a retry after a
// partial fan-out failure can skip the steps that already took effect.
type Markers interface {
	DatabaseProvisioned(ctx context.Context, userID, databaseID uuid.UUID) error
	RoleProvisioned(ctx context.Context, userID uuid.UUID, role roles.Role) error
}

type noopMarkers struct{}

func (noopMarkers) DatabaseProvisioned(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (noopMarkers) RoleProvisioned(context.Context, uuid.UUID, roles.Role) error { return nil }

// ProvisioningError identifies the operation and target that failed mid
// fan-out. Earlier targets in the same call have already been applied and
// are not rolled back.
type ProvisioningError struct {
	Op       string
	Server   string
	Database string
	Err      error
}

func (e *ProvisioningError) Error() string {
	if e.Database != "" {
		return fmt.Sprintf("%s on server %s database %s: %v", e.Op, e.Server, e.Database, e.Err)
	}
	return fmt.Sprintf("%s on server %s: %v", e.Op, e.Server, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

func (e *ProvisioningError) Is(target error) bool { return target == ErrProvisioning }

// Config tunes a Provisioner. GatewayAddress is the server whose linked
// server definitions are used for exec(...) at [...] indirection; when empty,
// linked commands are sent to the target's own address.
type Config struct {
	GatewayAddress string
}

// Provisioner executes credential DDL across the physical databases of one
// logical user. Execution is sequential and has no cross-server transaction;
// completion markers plus idempotent command guards make a repeat call after
// a partial failure converge instead of erroring.
type Provisioner struct {
	exec    Executor
	markers Markers
	cache   cache.Cache
	logger  *zap.Logger
	gateway string
}

func New(exec Executor, markers Markers, c cache.Cache, logger *zap.Logger, cfg Config) *Provisioner {
	if markers == nil {
		markers = noopMarkers{}
	}
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{exec: exec, markers: markers, cache: c, logger: logger, gateway: cfg.GatewayAddress}
}

// CreateLogin creates the server-level login on every distinct server in the
// fan-out set. Logins are per server, not per database, so targets sharing a
// server are collapsed to one batch.
func (p *Provisioner) CreateLogin(ctx context.Context, user User, password string, targets []Target) error {
	for _, t := range distinctServers(targets) {
		command, err := BuildCreateLogin(user.Name, password)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "create login", t, command); err != nil {
			return err
		}
	}
	p.invalidateUser(ctx, user)
	return nil
}

// AlterLoginPassword rotates the login password on every distinct server.
func (p *Provisioner) AlterLoginPassword(ctx context.Context, user User, password string, targets []Target) error {
	for _, t := range distinctServers(targets) {
		command, err := BuildAlterLoginPassword(user.Name, password)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "alter login password", t, command); err != nil {
			return err
		}
	}
	p.invalidateUser(ctx, user)
	return nil
}

// CreateUser creates the database principal in each target database and
// marks the user-database binding provisioned as each target completes.
func (p *Provisioner) CreateUser(ctx context.Context, user User, targets []Target) error {
	for _, t := range targets {
		command, err := BuildCreateUser(t.DatabaseName, user.Name)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "create user", t, command); err != nil {
			return err
		}
		if err := p.markers.DatabaseProvisioned(ctx, user.ID, t.DatabaseID); err != nil {
			return fmt.Errorf("record provisioned database %s: %w", t.DatabaseName, err)
		}
	}
	p.invalidateUser(ctx, user)
	return nil
}

// GrantRole adds the user to the fixed database role in every target
// database, then marks the user-role binding provisioned.
func (p *Provisioner) GrantRole(ctx context.Context, user User, role roles.Role, targets []Target) error {
	for _, t := range targets {
		command, err := BuildGrantRole(t.DatabaseName, user.Name, role)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "grant role", t, command); err != nil {
			return err
		}
	}
	if err := p.markers.RoleProvisioned(ctx, user.ID, role); err != nil {
		return fmt.Errorf("record provisioned role %s: %w", role, err)
	}
	p.invalidateUser(ctx, user, role)
	return nil
}

// RevokeRole removes the role membership in every target database. Callers
// skip the call entirely when the role was never granted; a membership that
// is absent server-side surfaces as a driver error from sp_droprolemember.
func (p *Provisioner) RevokeRole(ctx context.Context, user User, role roles.Role, targets []Target) error {
	for _, t := range targets {
		command, err := BuildRevokeRole(t.DatabaseName, user.Name, role)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "revoke role", t, command); err != nil {
			return err
		}
	}
	p.invalidateUser(ctx, user, role)
	return nil
}

// DropUser drops the database principal from each target database.
func (p *Provisioner) DropUser(ctx context.Context, user User, targets []Target) error {
	for _, t := range targets {
		command, err := BuildDropUser(t.DatabaseName, user.Name)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "drop user", t, command); err != nil {
			return err
		}
	}
	p.invalidateUser(ctx, user)
	return nil
}

// DropLogin removes the server-level login from every distinct server.
func (p *Provisioner) DropLogin(ctx context.Context, user User, targets []Target) error {
	for _, t := range distinctServers(targets) {
		command, err := BuildDropLogin(user.Name)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "drop login", t, command); err != nil {
			return err
		}
	}
	p.invalidateUser(ctx, user)
	return nil
}

// RenameUser renames the database principal in each target database and the
// login on each distinct server. Cached strings built from either name are
// invalidated.
func (p *Provisioner) RenameUser(ctx context.Context, user User, newName string, targets []Target) error {
	for _, t := range targets {
		command, err := BuildRenameUser(t.DatabaseName, user.Name, newName)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "rename user", t, command); err != nil {
			return err
		}
	}
	for _, t := range distinctServers(targets) {
		command, err := BuildRenameLogin(user.Name, newName)
		if err != nil {
			return err
		}
		if err := p.run(ctx, "rename login", t, command); err != nil {
			return err
		}
	}
	p.invalidateUser(ctx, user)
	p.cache.InvalidateByFragment(ctx, newName)
	return nil
}

// DropDatabase physically drops one database. Used by the databases domain
// when a delete requests physical removal.
func (p *Provisioner) DropDatabase(ctx context.Context, target Target) error {
	command, err := BuildDropDatabase(target.DatabaseName)
	if err != nil {
		return err
	}
	if err := p.run(ctx, "drop database", target, command); err != nil {
		return err
	}
	p.cache.InvalidateByFragment(ctx, target.DatabaseID.String())
	return nil
}

func (p *Provisioner) run(ctx context.Context, op string, t Target, command string) error {
	address := t.ServerAddress
	database := t.DatabaseName
	if t.IsLinkedServer {
		wrapped, err := WrapLinked(command, t.ServerName)
		if err != nil {
			return err
		}
		command = wrapped
		if p.gateway != "" {
			address = p.gateway
		}
	}
	p.logger.Debug("executing credential ddl",
		zap.String("op", op),
		zap.String("server", t.ServerName),
		zap.String("database", database),
		zap.Bool("linked", t.IsLinkedServer))
	if err := p.exec.Exec(ctx, address, command); err != nil {
		return &ProvisioningError{Op: op, Server: t.ServerName, Database: database, Err: err}
	}
	return nil
}

func (p *Provisioner) invalidateUser(ctx context.Context, user User, affected ...roles.Role) {
	p.cache.Remove(ctx, AllUsersCacheKey)
	p.cache.InvalidateByFragment(ctx, user.ID.String())
	p.cache.InvalidateByFragment(ctx, user.Name)
	for _, role := range affected {
		p.cache.InvalidateByFragment(ctx, string(role))
	}
}

// distinctServers collapses a fan-out set to one target per server,
// preserving first-seen order. Server-level DDL runs once per server no
// matter how many of its databases the user owns.
func distinctServers(targets []Target) []Target {
	seen := make(map[uuid.UUID]bool, len(targets))
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if seen[t.ServerID] {
			continue
		}
		seen[t.ServerID] = true
		out = append(out, t)
	}
	return out
}
