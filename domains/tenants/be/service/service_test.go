package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shardgate/dbdirectory/platform/go/cache"
)

type stubRepo struct {
	tenants map[uuid.UUID]Tenant
}

func newStubRepo() *stubRepo {
	return &stubRepo{tenants: make(map[uuid.UUID]Tenant)}
}

func (r *stubRepo) Create(_ context.Context, tenant Tenant) (Tenant, error) {
	r.tenants[tenant.TenantID] = tenant
	return tenant, nil
}

func (r *stubRepo) Get(_ context.Context, tenantID uuid.UUID) (Tenant, error) {
	tenant, ok := r.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return tenant, nil
}

func (r *stubRepo) GetByCode(_ context.Context, code string) (Tenant, error) {
	for _, tenant := range r.tenants {
		if tenant.Code != nil && *tenant.Code == code {
			return tenant, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (r *stubRepo) List(_ context.Context) ([]Tenant, error) {
	out := make([]Tenant, 0, len(r.tenants))
	for _, tenant := range r.tenants {
		out = append(out, tenant)
	}
	return out, nil
}

func (r *stubRepo) Update(_ context.Context, tenant Tenant) (Tenant, error) {
	if _, ok := r.tenants[tenant.TenantID]; !ok {
		return Tenant{}, ErrNotFound
	}
	r.tenants[tenant.TenantID] = tenant
	return tenant, nil
}

func (r *stubRepo) Delete(_ context.Context, tenantID uuid.UUID) error {
	if _, ok := r.tenants[tenantID]; !ok {
		return ErrNotFound
	}
	delete(r.tenants, tenantID)
	return nil
}

func TestCreateRequiresName(t *testing.T) {
	svc := New(newStubRepo(), nil, nil)
	_, err := svc.Create(context.Background(), "  ", nil, true)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestUpdateInvalidatesOldAndNewCode(t *testing.T) {
	repo := newStubRepo()
	mem := cache.NewMemory()
	svc := New(repo, mem, nil)
	ctx := context.Background()

	oldCode := "ACME"
	tenant, err := svc.Create(ctx, "Acme Corp", &oldCode, true)
	require.NoError(t, err)

	oldKey := "connstr:tenantcode=ACME:type=1:roles=none:match=any"
	mem.Put(ctx, oldKey, "Server=sql01;...")
	mem.RegisterConnectionKey(ctx, oldKey, tenant.TenantID.String(), "ACME")

	newCode := "ACM2"
	tenant.Code = &newCode
	_, err = svc.Update(ctx, tenant)
	require.NoError(t, err)

	_, ok := mem.Get(ctx, oldKey)
	require.False(t, ok, "strings cached under the old code must be invalidated")
}

func TestDeleteInvalidatesTenantFragments(t *testing.T) {
	repo := newStubRepo()
	mem := cache.NewMemory()
	svc := New(repo, mem, nil)
	ctx := context.Background()

	tenant, err := svc.Create(ctx, "Acme Corp", nil, true)
	require.NoError(t, err)

	key := "connstr:tenant=" + tenant.TenantID.String() + ":type=1:roles=none:match=any"
	mem.Put(ctx, key, "Server=sql01;...")
	mem.RegisterConnectionKey(ctx, key, tenant.TenantID.String())

	require.NoError(t, svc.Delete(ctx, tenant.TenantID))
	_, ok := mem.Get(ctx, key)
	require.False(t, ok)
}
