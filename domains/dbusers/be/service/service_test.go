package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	"github.com/shardgate/dbdirectory/platform/go/cache"
	"github.com/shardgate/dbdirectory/platform/go/roles"
	"github.com/shardgate/dbdirectory/platform/go/secrets"
)

type stubRepo struct {
	users     map[uuid.UUID]User
	targets   []provisioning.Target
	listCalls int
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[uuid.UUID]User)}
}

func (r *stubRepo) CreateUser(_ context.Context, user User) (User, error) {
	for _, existing := range r.users {
		if existing.UserName == user.UserName {
			return User{}, fmt.Errorf("%w: user name %q is taken", ErrConflict, user.UserName)
		}
	}
	r.users[user.UserID] = user
	return user, nil
}

func (r *stubRepo) GetUser(_ context.Context, userID uuid.UUID) (User, error) {
	user, ok := r.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *stubRepo) GetUserByName(_ context.Context, userName string) (User, error) {
	for _, user := range r.users {
		if user.UserName == userName {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *stubRepo) ListUsers(_ context.Context) ([]User, error) {
	r.listCalls++
	out := make([]User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	return out, nil
}

func (r *stubRepo) UpdatePassword(_ context.Context, userID uuid.UUID, password string) error {
	user, ok := r.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Password = password
	r.users[userID] = user
	return nil
}

func (r *stubRepo) RenameUser(_ context.Context, userID uuid.UUID, userName string) error {
	user, ok := r.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.UserName = userName
	r.users[userID] = user
	return nil
}

func (r *stubRepo) DeleteUser(_ context.Context, userID uuid.UUID) error {
	if _, ok := r.users[userID]; !ok {
		return ErrNotFound
	}
	delete(r.users, userID)
	return nil
}

func (r *stubRepo) GrantRole(_ context.Context, userID uuid.UUID, role roles.Role) error {
	user, ok := r.users[userID]
	if !ok {
		return ErrNotFound
	}
	if user.HasRole(role) {
		return fmt.Errorf("%w: role %s is already granted", ErrConflict, role)
	}
	user.Roles = append(user.Roles, role)
	r.users[userID] = user
	return nil
}

func (r *stubRepo) RevokeRole(_ context.Context, userID uuid.UUID, role roles.Role) (bool, error) {
	user, ok := r.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	for i, held := range user.Roles {
		if held == role {
			user.Roles = append(user.Roles[:i], user.Roles[i+1:]...)
			r.users[userID] = user
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRepo) FanOutTargets(_ context.Context, _ uuid.UUID) ([]provisioning.Target, error) {
	return r.targets, nil
}

type recordingExecutor struct {
	batches []string
}

func (e *recordingExecutor) Exec(_ context.Context, _, command string) error {
	e.batches = append(e.batches, command)
	return nil
}

func newTestService(t *testing.T, repo *stubRepo, exec *recordingExecutor, c cache.Cache) *Service {
	t.Helper()
	prov := provisioning.New(exec, nil, c, nil, provisioning.Config{})
	return New(repo, prov, secrets.New("directory-test-key"), c, nil)
}

func singleTarget() provisioning.Target {
	return provisioning.Target{
		DatabaseID:    uuid.New(),
		DatabaseName:  "AcmeBilling",
		ServerID:      uuid.New(),
		ServerName:    "sql01",
		ServerAddress: "sql01.internal",
	}
}

func TestCreateUserValidatesBeforeAnyIO(t *testing.T) {
	repo := newStubRepo()
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)
	ctx := context.Background()

	cases := []CreateUserRequest{
		{UserName: "bad name!", Password: "pw", Databases: []uuid.UUID{uuid.New()}},
		{UserName: "acme_writer", Password: "", Databases: []uuid.UUID{uuid.New()}},
		{UserName: "acme_writer", Password: "pw", Databases: nil},
		{UserName: "acme_writer", Password: "pw", Databases: []uuid.UUID{uuid.New()}, Roles: []roles.Role{"Superuser"}},
	}
	for _, req := range cases {
		_, err := svc.CreateUser(ctx, req)
		require.ErrorIs(t, err, ErrInvalidRequest, "request %+v", req)
	}
	require.Empty(t, repo.users)
	require.Empty(t, exec.batches)
}

func TestCreateUserEncryptsPasswordAndProvisions(t *testing.T) {
	repo := newStubRepo()
	repo.targets = []provisioning.Target{singleTarget()}
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	user, err := svc.CreateUser(context.Background(), CreateUserRequest{
		UserName:       "acme_writer",
		Password:       "P@ssw0rd1",
		Databases:      []uuid.UUID{repo.targets[0].DatabaseID},
		Roles:          []roles.Role{roles.DataWriter, roles.DataReader},
		AffectDatabase: true,
	})
	require.NoError(t, err)

	stored := repo.users[user.UserID].Password
	require.NotEqual(t, "P@ssw0rd1", stored, "password must not be stored in the clear")
	plain, err := secrets.New("directory-test-key").Decrypt(stored)
	require.NoError(t, err)
	require.Equal(t, "P@ssw0rd1", plain)

	// Login, database user, then one grant per role.
	require.Len(t, exec.batches, 4)
	require.Contains(t, exec.batches[0], "CREATE LOGIN [acme_writer]")
	require.Contains(t, exec.batches[1], "CREATE USER [acme_writer]")
	require.Contains(t, exec.batches[2], "sp_addrolemember N'db_datawriter'")
	require.Contains(t, exec.batches[3], "sp_addrolemember N'db_datareader'")
}

func TestCreateUserWithoutAffectDatabaseStopsAtRecords(t *testing.T) {
	repo := newStubRepo()
	repo.targets = []provisioning.Target{singleTarget()}
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	_, err := svc.CreateUser(context.Background(), CreateUserRequest{
		UserName:  "acme_writer",
		Password:  "P@ssw0rd1",
		Databases: []uuid.UUID{repo.targets[0].DatabaseID},
		Roles:     []roles.Role{roles.DataWriter},
	})
	require.NoError(t, err)
	require.Len(t, repo.users, 1)
	require.Empty(t, exec.batches)
}

func TestRevokeRoleNeverGrantedExecutesNoSQL(t *testing.T) {
	repo := newStubRepo()
	repo.targets = []provisioning.Target{singleTarget()}
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer"}

	err := svc.RevokeRole(context.Background(), userID, roles.DataWriter, true)
	require.NoError(t, err, "revoking a role that was never granted is a no-op")
	require.Empty(t, exec.batches)
}

func TestRevokeRoleUnknownUserIsNotFound(t *testing.T) {
	repo := newStubRepo()
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	err := svc.RevokeRole(context.Background(), uuid.New(), roles.DataWriter, true)
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, exec.batches)
}

func TestRevokeGrantedRoleDropsMembership(t *testing.T) {
	repo := newStubRepo()
	repo.targets = []provisioning.Target{singleTarget()}
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer", Roles: []roles.Role{roles.DataWriter}}

	err := svc.RevokeRole(context.Background(), userID, roles.DataWriter, true)
	require.NoError(t, err)
	require.Len(t, exec.batches, 1)
	require.Contains(t, exec.batches[0], "sp_droprolemember N'db_datawriter'")
	require.Empty(t, repo.users[userID].Roles)
}

func TestDeleteUserBlockedWhileRolesRemain(t *testing.T) {
	repo := newStubRepo()
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer", Roles: []roles.Role{roles.Owner}}

	err := svc.DeleteUser(context.Background(), userID, true)
	require.ErrorIs(t, err, ErrConflict)
	require.Empty(t, exec.batches)
	require.Len(t, repo.users, 1)
}

func TestDeleteUserDropsUserThenLogin(t *testing.T) {
	repo := newStubRepo()
	repo.targets = []provisioning.Target{singleTarget()}
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer"}

	err := svc.DeleteUser(context.Background(), userID, true)
	require.NoError(t, err)
	require.Empty(t, repo.users)

	require.Len(t, exec.batches, 2)
	require.Contains(t, exec.batches[0], "DROP USER [acme_writer]")
	require.Contains(t, exec.batches[1], "DROP LOGIN [acme_writer]")
}

func TestListUsersServesSecondCallFromCache(t *testing.T) {
	repo := newStubRepo()
	exec := &recordingExecutor{}
	mem := cache.NewMemory()
	svc := newTestService(t, repo, exec, mem)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer", Password: "secret", Roles: []roles.Role{roles.DataReader}}

	first, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, repo.listCalls)

	raw, ok := mem.Get(context.Background(), provisioning.AllUsersCacheKey)
	require.True(t, ok)
	require.False(t, strings.Contains(raw, "secret"), "cached listing must not carry passwords")

	second, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, "acme_writer", second[0].UserName)
	require.Equal(t, 1, repo.listCalls, "second listing must not touch the store")
}

func TestRotatePasswordInvalidatesCachedConnectionStrings(t *testing.T) {
	repo := newStubRepo()
	repo.targets = []provisioning.Target{singleTarget()}
	exec := &recordingExecutor{}
	mem := cache.NewMemory()
	svc := newTestService(t, repo, exec, mem)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer"}

	ctx := context.Background()
	key := "connstr:connection=" + uuid.NewString() + ":roles=none:match=any"
	mem.Put(ctx, key, "Server=sql01;...")
	mem.RegisterConnectionKey(ctx, key, userID.String(), "acme_writer")

	err := svc.RotatePassword(ctx, userID, "N3wP@ss", true)
	require.NoError(t, err)

	_, ok := mem.Get(ctx, key)
	require.False(t, ok, "cached string built from the rotated user must be gone")
	require.Len(t, exec.batches, 1)
	require.Contains(t, exec.batches[0], "ALTER LOGIN [acme_writer] WITH PASSWORD")
}

func TestRenameUserRejectsInvalidName(t *testing.T) {
	repo := newStubRepo()
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer"}

	err := svc.RenameUser(context.Background(), userID, "bad name!", true)
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Empty(t, exec.batches)
	require.Equal(t, "acme_writer", repo.users[userID].UserName)
}

func TestGrantDuplicateRoleIsConflict(t *testing.T) {
	repo := newStubRepo()
	repo.targets = []provisioning.Target{singleTarget()}
	exec := &recordingExecutor{}
	svc := newTestService(t, repo, exec, nil)

	userID := uuid.New()
	repo.users[userID] = User{UserID: userID, UserName: "acme_writer", Roles: []roles.Role{roles.DataWriter}}

	err := svc.GrantRole(context.Background(), userID, roles.DataWriter, true)
	require.ErrorIs(t, err, ErrConflict)
	require.Empty(t, exec.batches)
}
