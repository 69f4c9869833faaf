package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Identifier validates a name that will be concatenated into a T-SQL batch.
// Identifiers cannot be parameterized in DDL (USE, CREATE LOGIN, CREATE USER,
// sp_addrolemember all take literal names), so rejecting anything outside
// [A-Za-z0-9_]+ is the injection defense for every dynamically built command.
func Identifier(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("identifier is required")
	}
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q: must match ^[A-Za-z0-9_]+$", name)
	}
	return name, nil
}

// QuoteLiteral doubles embedded single quotes so value can be embedded in a
// T-SQL string literal. Used for the exec('...') linked-server wrapper and
// for password literals only, never for bracketed identifiers.
func QuoteLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
