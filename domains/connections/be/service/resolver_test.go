package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shardgate/dbdirectory/platform/go/cache"
	"github.com/shardgate/dbdirectory/platform/go/roles"
	"github.com/shardgate/dbdirectory/platform/go/secrets"
)

// stubRepo is a minimal in-memory Repository for resolver tests. It counts
// directory reads so cache short-circuiting can be asserted.
type stubRepo struct {
	target     Target
	targetErr  error
	users      []Credential
	findErr    error
	tenantOK   bool
	codeOK     bool
	typeOK     bool
	reads      int
	findCalls  int
	lastRoles  []roles.Role
	lastAll    bool
}

func (r *stubRepo) ResolveByConnection(context.Context, uuid.UUID) (Target, error) {
	r.reads++
	return r.target, r.targetErr
}

func (r *stubRepo) ResolveByTenantType(context.Context, uuid.UUID, int16) (Target, error) {
	r.reads++
	return r.target, r.targetErr
}

func (r *stubRepo) ResolveByTenantCodeType(context.Context, string, int16) (Target, error) {
	r.reads++
	return r.target, r.targetErr
}

func (r *stubRepo) FindEligibleUsers(_ context.Context, _ uuid.UUID, required []roles.Role, matchAll bool) ([]Credential, error) {
	r.reads++
	r.findCalls++
	r.lastRoles = required
	r.lastAll = matchAll

	if r.findErr != nil {
		return nil, r.findErr
	}

	var out []Credential
	for _, u := range r.users {
		if matches(u, required, matchAll) {
			out = append(out, u)
		}
	}
	return out, nil
}

func matches(u Credential, required []roles.Role, matchAll bool) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[roles.Role]bool, len(u.Roles))
	for _, r := range u.Roles {
		held[r] = true
	}
	hits := 0
	for _, r := range required {
		if held[r] {
			hits++
		}
	}
	if matchAll {
		return hits == len(required)
	}
	return hits > 0
}

func (r *stubRepo) TenantExists(context.Context, uuid.UUID) (bool, error)  { return r.tenantOK, nil }
func (r *stubRepo) TenantCodeExists(context.Context, string) (bool, error) { return r.codeOK, nil }
func (r *stubRepo) TypeExists(context.Context, int16) (bool, error)        { return r.typeOK, nil }

func (r *stubRepo) CreateConnection(_ context.Context, c Connection) (Connection, error) {
	return c, nil
}
func (r *stubRepo) GetConnection(context.Context, uuid.UUID) (Connection, error) {
	return Connection{}, ErrNotFound
}
func (r *stubRepo) ListConnectionsByTenant(context.Context, uuid.UUID) ([]Connection, error) {
	return nil, nil
}
func (r *stubRepo) CountConnectionsByTenantAndType(context.Context, uuid.UUID, int16) (int, error) {
	return 0, nil
}
func (r *stubRepo) DatabaseTypeID(context.Context, uuid.UUID) (int16, error) { return 0, nil }
func (r *stubRepo) DeleteConnection(context.Context, uuid.UUID) error        { return nil }

func billingTarget() Target {
	return Target{
		ConnectionID:  uuid.New(),
		TenantID:      uuid.New(),
		TenantCode:    "ACME",
		DatabaseID:    uuid.New(),
		DatabaseName:  "AcmeBilling",
		ServerID:      uuid.New(),
		ServerAddress: "sql01",
		TypeID:        3,
	}
}

func int16Ptr(v int16) *int16 { return &v }
func strPtr(v string) *string { return &v }

func TestResolveByTenantCodeScenario(t *testing.T) {
	t.Parallel()

	cipher := secrets.New("directory-secret")
	encrypted, err := cipher.Encrypt("P@ssw0rd1")
	require.NoError(t, err)

	repo := &stubRepo{
		target: billingTarget(),
		users: []Credential{{
			UserID:   uuid.New(),
			UserName: "acme_writer",
			Password: encrypted,
			Roles:    []roles.Role{roles.DataWriter},
		}},
	}
	svc := New(repo, cipher, cache.NewMemory(), nil)

	handle, err := svc.Resolve(context.Background(), ResolveRequest{
		Selector:      Selector{TenantCode: strPtr("ACME"), DatabaseTypeID: int16Ptr(3)},
		RequiredRoles: []roles.Role{roles.DataWriter},
	})
	require.NoError(t, err)
	require.Contains(t, handle.ConnectionString, "Server=sql01;Database=AcmeBilling;")
	require.Contains(t, handle.ConnectionString, "User Id=acme_writer;Password=P@ssw0rd1;")
}

func TestResolveTrustedBypassesCredentials(t *testing.T) {
	t.Parallel()

	target := billingTarget()
	target.Trusted = true
	repo := &stubRepo{target: target}
	svc := New(repo, nil, cache.NewMemory(), nil)

	handle, err := svc.Resolve(context.Background(), ResolveRequest{
		Selector:      Selector{ConnectionID: &target.ConnectionID},
		RequiredRoles: []roles.Role{roles.DataReader, roles.DataWriter},
	})
	require.NoError(t, err)
	require.Contains(t, handle.ConnectionString, "Integrated Security=SSPI;")
	require.NotContains(t, handle.ConnectionString, "User Id=")
	require.NotContains(t, handle.ConnectionString, "Password=")

	// No user lookup happens on the trusted branch.
	require.Zero(t, repo.findCalls)
}

func TestResolveSecondCallHitsCache(t *testing.T) {
	t.Parallel()

	target := billingTarget()
	repo := &stubRepo{
		target: target,
		users: []Credential{{
			UserID:   uuid.New(),
			UserName: "acme_writer",
			Password: "plain",
			Roles:    []roles.Role{roles.DataWriter},
		}},
	}
	svc := New(repo, nil, cache.NewMemory(), nil)

	req := ResolveRequest{
		Selector:      Selector{TenantID: &target.TenantID, DatabaseTypeID: int16Ptr(3)},
		RequiredRoles: []roles.Role{roles.DataWriter},
	}

	first, err := svc.Resolve(context.Background(), req)
	require.NoError(t, err)
	readsAfterFirst := repo.reads

	second, err := svc.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.ConnectionString, second.ConnectionString)
	require.Equal(t, readsAfterFirst, repo.reads, "cache hit must perform zero directory reads")
}

func TestResolveRoleMatchModes(t *testing.T) {
	t.Parallel()

	reader := Credential{UserID: uuid.New(), UserName: "acme_reader", Roles: []roles.Role{roles.DataReader}}
	writer := Credential{UserID: uuid.New(), UserName: "acme_writer", Roles: []roles.Role{roles.DataWriter}}
	both := Credential{UserID: uuid.New(), UserName: "acme_rw", Roles: []roles.Role{roles.DataReader, roles.DataWriter}}

	t.Run("single role selects the holder", func(t *testing.T) {
		t.Parallel()

		repo := &stubRepo{target: billingTarget(), users: []Credential{reader, writer}}
		svc := New(repo, nil, cache.NewMemory(), nil)

		handle, err := svc.Resolve(context.Background(), ResolveRequest{
			Selector:      Selector{ConnectionID: &repo.target.ConnectionID},
			RequiredRoles: []roles.Role{roles.DataReader},
		})
		require.NoError(t, err)
		require.Contains(t, handle.ConnectionString, "User Id=acme_reader;")
	})

	t.Run("any mode accepts a partial holder", func(t *testing.T) {
		t.Parallel()

		repo := &stubRepo{target: billingTarget(), users: []Credential{reader}}
		svc := New(repo, nil, cache.NewMemory(), nil)

		handle, err := svc.Resolve(context.Background(), ResolveRequest{
			Selector:      Selector{ConnectionID: &repo.target.ConnectionID},
			RequiredRoles: []roles.Role{roles.DataReader, roles.DataWriter},
			RoleMatch:     MatchAny,
		})
		require.NoError(t, err)
		require.Contains(t, handle.ConnectionString, "User Id=acme_reader;")
		require.False(t, repo.lastAll)
	})

	t.Run("all mode requires every role", func(t *testing.T) {
		t.Parallel()

		repo := &stubRepo{target: billingTarget(), users: []Credential{reader, both}}
		svc := New(repo, nil, cache.NewMemory(), nil)

		handle, err := svc.Resolve(context.Background(), ResolveRequest{
			Selector:      Selector{ConnectionID: &repo.target.ConnectionID},
			RequiredRoles: []roles.Role{roles.DataReader, roles.DataWriter},
			RoleMatch:     MatchAll,
		})
		require.NoError(t, err)
		require.Contains(t, handle.ConnectionString, "User Id=acme_rw;")
		require.True(t, repo.lastAll)
	})

	t.Run("all mode fails when nobody qualifies", func(t *testing.T) {
		t.Parallel()

		repo := &stubRepo{target: billingTarget(), users: []Credential{reader, writer}}
		svc := New(repo, nil, cache.NewMemory(), nil)

		_, err := svc.Resolve(context.Background(), ResolveRequest{
			Selector:      Selector{ConnectionID: &repo.target.ConnectionID},
			RequiredRoles: []roles.Role{roles.DataReader, roles.DataWriter},
			RoleMatch:     MatchAll,
		})
		require.ErrorIs(t, err, ErrNoEligibleUser)
	})
}

func TestResolveSelectorValidation(t *testing.T) {
	t.Parallel()

	connID := uuid.New()
	tenantID := uuid.New()

	tests := []struct {
		name     string
		selector Selector
	}{
		{name: "empty selector"},
		{
			name:     "two variants",
			selector: Selector{ConnectionID: &connID, TenantID: &tenantID, DatabaseTypeID: int16Ptr(1)},
		},
		{
			name:     "tenant without type",
			selector: Selector{TenantID: &tenantID},
		},
		{
			name:     "code without type",
			selector: Selector{TenantCode: strPtr("ACME")},
		},
		{
			name:     "empty code",
			selector: Selector{TenantCode: strPtr(""), DatabaseTypeID: int16Ptr(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &stubRepo{target: billingTarget()}
			svc := New(repo, nil, cache.NewMemory(), nil)

			_, err := svc.Resolve(context.Background(), ResolveRequest{Selector: tt.selector})
			require.ErrorIs(t, err, ErrInvalidRequest)
			require.Zero(t, repo.reads, "validation failures must precede any directory read")
		})
	}
}

func TestResolveUnknownRoleRejected(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{target: billingTarget()}
	svc := New(repo, nil, cache.NewMemory(), nil)

	connID := repo.target.ConnectionID
	_, err := svc.Resolve(context.Background(), ResolveRequest{
		Selector:      Selector{ConnectionID: &connID},
		RequiredRoles: []roles.Role{"Superuser"},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResolveNotFoundNamesMissingEntity(t *testing.T) {
	t.Parallel()

	t.Run("missing tenant code", func(t *testing.T) {
		t.Parallel()

		repo := &stubRepo{targetErr: ErrNotFound, typeOK: true}
		svc := New(repo, nil, cache.NewMemory(), nil)

		_, err := svc.Resolve(context.Background(), ResolveRequest{
			Selector: Selector{TenantCode: strPtr("GHOST"), DatabaseTypeID: int16Ptr(3)},
		})
		require.ErrorIs(t, err, ErrNotFound)
		require.Contains(t, err.Error(), "GHOST")
	})

	t.Run("missing type", func(t *testing.T) {
		t.Parallel()

		tenantID := uuid.New()
		repo := &stubRepo{targetErr: ErrNotFound, tenantOK: true}
		svc := New(repo, nil, cache.NewMemory(), nil)

		_, err := svc.Resolve(context.Background(), ResolveRequest{
			Selector: Selector{TenantID: &tenantID, DatabaseTypeID: int16Ptr(99)},
		})
		require.ErrorIs(t, err, ErrNotFound)
		require.Contains(t, err.Error(), "database type 99")
	})

	t.Run("missing link only", func(t *testing.T) {
		t.Parallel()

		tenantID := uuid.New()
		repo := &stubRepo{targetErr: ErrNotFound, tenantOK: true, typeOK: true}
		svc := New(repo, nil, cache.NewMemory(), nil)

		_, err := svc.Resolve(context.Background(), ResolveRequest{
			Selector: Selector{TenantID: &tenantID, DatabaseTypeID: int16Ptr(3)},
		})
		require.ErrorIs(t, err, ErrNotFound)
		require.Contains(t, err.Error(), "no connection")
	})
}

func TestResolveInvalidationPropagation(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	target := billingTarget()
	repo := &stubRepo{
		target: target,
		users: []Credential{{
			UserID:   userID,
			UserName: "acme_writer",
			Password: "old-password",
			Roles:    []roles.Role{roles.DataWriter},
		}},
	}
	mem := cache.NewMemory()
	svc := New(repo, nil, mem, nil)

	ctx := context.Background()
	byTenant := ResolveRequest{
		Selector:      Selector{TenantID: &target.TenantID, DatabaseTypeID: int16Ptr(3)},
		RequiredRoles: []roles.Role{roles.DataWriter},
	}
	byCode := ResolveRequest{
		Selector: Selector{TenantCode: strPtr("ACME"), DatabaseTypeID: int16Ptr(3)},
	}

	first, err := svc.Resolve(ctx, byTenant)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, byCode)
	require.NoError(t, err)

	// Rotate the password and invalidate by the user id fragment, the way
	// the provisioner does.
	repo.users[0].Password = "new-password"
	mem.InvalidateByFragment(ctx, userID.String())

	readsBefore := repo.reads
	second, err := svc.Resolve(ctx, byTenant)
	require.NoError(t, err)
	require.Greater(t, repo.reads, readsBefore, "invalidation must force a recompute")
	require.NotEqual(t, first.ConnectionString, second.ConnectionString)
	require.Contains(t, second.ConnectionString, "Password=new-password;")

	// The selector that never mentioned the user is refreshed too.
	refreshed, err := svc.Resolve(ctx, byCode)
	require.NoError(t, err)
	require.Contains(t, refreshed.ConnectionString, "Password=new-password;")
}

func TestResolveNoEligibleUser(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{target: billingTarget()}
	svc := New(repo, nil, cache.NewMemory(), nil)

	connID := repo.target.ConnectionID
	_, err := svc.Resolve(context.Background(), ResolveRequest{
		Selector:      Selector{ConnectionID: &connID},
		RequiredRoles: []roles.Role{roles.Owner},
	})
	require.ErrorIs(t, err, ErrNoEligibleUser)
}

func TestCacheKeyDeterministic(t *testing.T) {
	t.Parallel()

	tenantID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	shuffled := ResolveRequest{
		Selector:      Selector{TenantID: &tenantID, DatabaseTypeID: int16Ptr(3)},
		RequiredRoles: []roles.Role{roles.DataWriter, roles.DataReader},
	}
	ordered := ResolveRequest{
		Selector:      Selector{TenantID: &tenantID, DatabaseTypeID: int16Ptr(3)},
		RequiredRoles: []roles.Role{roles.DataReader, roles.DataWriter},
	}
	require.Equal(t, cacheKey(ordered), cacheKey(shuffled))

	require.Equal(t,
		"connstr:tenant=6ba7b810-9dad-11d1-80b4-00c04fd430c8:type=3:roles=DataWriter+DataReader:match=any",
		cacheKey(ordered))

	none := ResolveRequest{Selector: Selector{TenantCode: strPtr("ACME"), DatabaseTypeID: int16Ptr(3)}}
	require.True(t, strings.HasSuffix(cacheKey(none), ":roles=none:match=any"))

	all := ordered
	all.RoleMatch = MatchAll
	require.NotEqual(t, cacheKey(ordered), cacheKey(all))
}
