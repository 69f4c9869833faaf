// Package roles defines the closed set of fixed database roles a directory
// user can hold. Each value maps 1:1 onto a SQL Server fixed database role
// and onto a seeded reference row whose ordinal must never change.
package roles

import (
	"fmt"
	"sort"
	"strings"
)

// Role is one of SQL Server's nine fixed database roles, in directory terms.
type Role string

const (
	Owner          Role = "Owner"
	SecurityAdmin  Role = "SecurityAdmin"
	AccessAdmin    Role = "AccessAdmin"
	BackupOperator Role = "BackupOperator"
	DdlAdmin       Role = "DdlAdmin"
	DataWriter     Role = "DataWriter"
	DataReader     Role = "DataReader"
	DenyDataWriter Role = "DenyDataWriter"
	DenyDataReader Role = "DenyDataReader"
)

// ordinals matches the seeded database_roles reference rows.
var ordinals = map[Role]int16{
	Owner:          1,
	SecurityAdmin:  2,
	AccessAdmin:    3,
	BackupOperator: 4,
	DdlAdmin:       5,
	DataWriter:     6,
	DataReader:     7,
	DenyDataWriter: 8,
	DenyDataReader: 9,
}

// All returns every role in ordinal order.
func All() []Role {
	out := make([]Role, 0, len(ordinals))
	for r := range ordinals {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return ordinals[out[i]] < ordinals[out[j]] })
	return out
}

// Parse converts a stored or user-supplied name into a Role.
func Parse(s string) (Role, error) {
	r := Role(s)
	if _, ok := ordinals[r]; !ok {
		return "", fmt.Errorf("unknown database role %q", s)
	}
	return r, nil
}

// Ordinal returns the seeded reference-row id for the role.
func (r Role) Ordinal() int16 {
	return ordinals[r]
}

// Valid reports whether r belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := ordinals[r]
	return ok
}

// SQLName returns the SQL Server fixed database role identifier,
// db_<rolename-lowercased>.
func (r Role) SQLName() string {
	return "db_" + strings.ToLower(string(r))
}

// ByOrdinal resolves a seeded reference-row id back to its Role.
func ByOrdinal(id int16) (Role, error) {
	for r, ord := range ordinals {
		if ord == id {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown database role ordinal %d", id)
}
