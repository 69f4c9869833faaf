package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/shardgate/dbdirectory/database"
)

// Bootstrap applies the directory schema in a single transaction, in
// dependency order:
//  1. tenants.sql
//  2. servers.sql (servers + types)
//  3. databases.sql (databases + connections)
//  4. users.sql (roles reference rows + users + grants)
//
// SQL is embedded at build time so binaries stay self-contained. Every
// statement is idempotent; the helper is safe to run on each startup and
// is what the CLI bootstrap command and the integration tests call.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap directory schema: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.TenantsSQL)...)
	statements = append(statements, splitStatements(sqlassets.ServersSQL)...)
	statements = append(statements, splitStatements(sqlassets.DatabasesSQL)...)
	statements = append(statements, splitStatements(sqlassets.UsersSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks an embedded asset into individual statements. The
// schema files contain no procedural bodies, so a plain semicolon split is
// sufficient.
func splitStatements(asset string) []string {
	var out []string
	for _, stmt := range strings.Split(asset, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
