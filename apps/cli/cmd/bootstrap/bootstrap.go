package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardgate/dbdirectory/platform/go/persistence"
)

// Command applies the embedded directory schema to an empty database. The
// statements are idempotent, so re-running against an existing directory is
// safe.
func Command() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "bootstrap",
		Short: "Apply the directory schema",
		Long:  "Creates the directory tables (tenants, servers, types, databases, users, connections) and seeds the fixed role rows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.Bootstrap(ctx, pool); err != nil {
				return err
			}
			cmd.Println("directory schema applied")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string for the directory store")
	_ = c.MarkFlagRequired("database-url")
	return c
}
