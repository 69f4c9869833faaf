package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shardgate/dbdirectory/platform/go/roles"
)

// cacheKey derives a deterministic key from the full selector plus the
// sorted role constraint. Identical requests always hit the same entry.
func cacheKey(req ResolveRequest) string {
	var b strings.Builder
	b.WriteString("connstr:")

	switch {
	case req.Selector.ConnectionID != nil:
		fmt.Fprintf(&b, "connection=%s", req.Selector.ConnectionID)
	case req.Selector.TenantID != nil:
		fmt.Fprintf(&b, "tenant=%s:type=%d", req.Selector.TenantID, *req.Selector.DatabaseTypeID)
	default:
		fmt.Fprintf(&b, "tenantcode=%s:type=%d", *req.Selector.TenantCode, *req.Selector.DatabaseTypeID)
	}

	fmt.Fprintf(&b, ":roles=%s:match=%s", rolesToken(req.RequiredRoles), req.RoleMatch)
	return b.String()
}

// rolesToken serializes a role set in ordinal order, or a sentinel when the
// request carries no role constraint.
func rolesToken(required []roles.Role) string {
	if len(required) == 0 {
		return "none"
	}

	sorted := make([]roles.Role, len(required))
	copy(sorted, required)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal() < sorted[j].Ordinal() })

	names := make([]string, len(sorted))
	for i, r := range sorted {
		names[i] = string(r)
	}
	return strings.Join(names, "+")
}

// targetDeps lists the dependency fragments every cached string registers:
// any mutation touching one of these entities must evict the entry.
func targetDeps(target Target) []string {
	deps := []string{
		target.ConnectionID.String(),
		target.TenantID.String(),
		target.DatabaseID.String(),
		target.ServerID.String(),
		fmt.Sprintf("type=%d", target.TypeID),
	}
	if target.TenantCode != "" {
		deps = append(deps, target.TenantCode)
	}
	return deps
}
