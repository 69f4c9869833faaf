package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shardgate/dbdirectory/platform/go/roles"
)

type executedBatch struct {
	address string
	command string
}

type stubExecutor struct {
	batches []executedBatch
	failAt  int // 1-based index of the call that fails, 0 = never
}

func (s *stubExecutor) Exec(_ context.Context, serverAddress, command string) error {
	s.batches = append(s.batches, executedBatch{address: serverAddress, command: command})
	if s.failAt != 0 && len(s.batches) == s.failAt {
		return fmt.Errorf("login exists")
	}
	return nil
}

type recordingMarkers struct {
	databases []uuid.UUID
	roles     []roles.Role
}

func (m *recordingMarkers) DatabaseProvisioned(_ context.Context, _ uuid.UUID, databaseID uuid.UUID) error {
	m.databases = append(m.databases, databaseID)
	return nil
}

func (m *recordingMarkers) RoleProvisioned(_ context.Context, _ uuid.UUID, role roles.Role) error {
	m.roles = append(m.roles, role)
	return nil
}

type recordingCache struct {
	removed   []string
	fragments []string
}

func (c *recordingCache) Get(context.Context, string) (string, bool) { return "", false }

func (c *recordingCache) Put(context.Context, string, string) {}

func (c *recordingCache) Remove(_ context.Context, key string) { c.removed = append(c.removed, key) }

func (c *recordingCache) RegisterConnectionKey(context.Context, string, ...string) {}
func (c *recordingCache) InvalidateByFragment(_ context.Context, fragment string) {
	c.fragments = append(c.fragments, fragment)
}

func testTargets() (Target, Target) {
	serverA := uuid.New()
	serverB := uuid.New()
	billing := Target{
		DatabaseID:    uuid.New(),
		DatabaseName:  "AcmeBilling",
		ServerID:      serverA,
		ServerName:    "sql01",
		ServerAddress: "sql01.internal",
	}
	reporting := Target{
		DatabaseID:     uuid.New(),
		DatabaseName:   "AcmeReporting",
		ServerID:       serverB,
		ServerName:     "sql02",
		ServerAddress:  "sql02.internal",
		IsLinkedServer: true,
	}
	return billing, reporting
}

func TestCreateUserFansOutAndMarksEachDatabase(t *testing.T) {
	billing, reporting := testTargets()
	exec := &stubExecutor{}
	markers := &recordingMarkers{}
	p := New(exec, markers, nil, nil, Config{GatewayAddress: "sql01.internal"})

	user := User{ID: uuid.New(), Name: "acme_writer"}
	err := p.CreateUser(context.Background(), user, []Target{billing, reporting})
	require.NoError(t, err)

	require.Len(t, exec.batches, 2)
	require.Contains(t, exec.batches[0].command, "CREATE USER [acme_writer]")
	require.Equal(t, []uuid.UUID{billing.DatabaseID, reporting.DatabaseID}, markers.databases)
}

func TestLinkedServerCommandsGoThroughGateway(t *testing.T) {
	_, reporting := testTargets()
	exec := &stubExecutor{}
	p := New(exec, nil, nil, nil, Config{GatewayAddress: "sql01.internal"})

	user := User{ID: uuid.New(), Name: "acme_writer"}
	err := p.CreateUser(context.Background(), user, []Target{reporting})
	require.NoError(t, err)

	require.Len(t, exec.batches, 1)
	batch := exec.batches[0]
	require.Equal(t, "sql01.internal", batch.address, "linked DDL must run against the gateway")
	require.True(t, strings.HasPrefix(batch.command, "exec('"), "command: %s", batch.command)
	require.True(t, strings.HasSuffix(batch.command, "') at [sql02];"), "command: %s", batch.command)
	require.Contains(t, batch.command, "N''acme_writer''", "inner quotes must be doubled")
}

func TestCreateLoginRunsOncePerServer(t *testing.T) {
	billing, _ := testTargets()
	second := billing
	second.DatabaseID = uuid.New()
	second.DatabaseName = "AcmeArchive"

	exec := &stubExecutor{}
	p := New(exec, nil, nil, nil, Config{})

	user := User{ID: uuid.New(), Name: "acme_writer"}
	err := p.CreateLogin(context.Background(), user, "P@ssw0rd1", []Target{billing, second})
	require.NoError(t, err)
	require.Len(t, exec.batches, 1, "two databases on one server need one login")
}

func TestPartialFailureNamesTheTarget(t *testing.T) {
	billing, reporting := testTargets()
	exec := &stubExecutor{failAt: 2}
	markers := &recordingMarkers{}
	p := New(exec, markers, nil, nil, Config{GatewayAddress: "sql01.internal"})

	user := User{ID: uuid.New(), Name: "acme_writer"}
	err := p.CreateUser(context.Background(), user, []Target{billing, reporting})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrProvisioning)

	var pErr *ProvisioningError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, "sql02", pErr.Server)
	require.Equal(t, "AcmeReporting", pErr.Database)

	// The first target took effect and stays applied.
	require.Len(t, exec.batches, 2)
	require.Equal(t, []uuid.UUID{billing.DatabaseID}, markers.databases)
}

func TestGrantRoleInvalidatesUserAndRoleFragments(t *testing.T) {
	billing, _ := testTargets()
	exec := &stubExecutor{}
	markers := &recordingMarkers{}
	cache := &recordingCache{}
	p := New(exec, markers, cache, nil, Config{})

	user := User{ID: uuid.New(), Name: "acme_writer"}
	err := p.GrantRole(context.Background(), user, roles.DataWriter, []Target{billing})
	require.NoError(t, err)

	require.Equal(t, []roles.Role{roles.DataWriter}, markers.roles)
	require.Contains(t, cache.removed, AllUsersCacheKey)
	require.Contains(t, cache.fragments, user.ID.String())
	require.Contains(t, cache.fragments, "acme_writer")
	require.Contains(t, cache.fragments, "DataWriter")
}

func TestRenameUserRenamesLoginAndInvalidatesBothNames(t *testing.T) {
	billing, _ := testTargets()
	exec := &stubExecutor{}
	cache := &recordingCache{}
	p := New(exec, nil, cache, nil, Config{})

	user := User{ID: uuid.New(), Name: "acme_writer"}
	err := p.RenameUser(context.Background(), user, "acme_reporting", []Target{billing})
	require.NoError(t, err)

	require.Len(t, exec.batches, 2)
	require.Contains(t, exec.batches[0].command, "ALTER USER [acme_writer] WITH NAME = [acme_reporting];")
	require.Contains(t, exec.batches[1].command, "ALTER LOGIN [acme_writer] WITH NAME = [acme_reporting];")
	require.Contains(t, cache.fragments, "acme_writer")
	require.Contains(t, cache.fragments, "acme_reporting")
}

func TestInvalidIdentifierStopsBeforeExecution(t *testing.T) {
	billing, _ := testTargets()
	exec := &stubExecutor{}
	p := New(exec, nil, nil, nil, Config{})

	user := User{ID: uuid.New(), Name: "x'; DROP TABLE tenants;--"}
	err := p.CreateUser(context.Background(), user, []Target{billing})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrProvisioning))
	require.Empty(t, exec.batches)
}
