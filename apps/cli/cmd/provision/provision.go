package provision

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	dbusersrepo "github.com/shardgate/dbdirectory/domains/dbusers/be/repo"
	"github.com/shardgate/dbdirectory/platform/go/mssql"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
	"github.com/shardgate/dbdirectory/platform/go/secrets"
)

// Command re-runs physical provisioning for an existing directory user:
// login, per-database users, and role memberships. The DDL is idempotent, so
// this is the repair path after a partial fan-out failure.
func Command() *cobra.Command {
	var (
		databaseURL   string
		cipherKey     string
		userName      string
		adminUser     string
		adminPassword string
		gateway       string
	)

	c := &cobra.Command{
		Use:   "provision",
		Short: "Provision a directory user's SQL credentials",
		Long:  "Creates the SQL login, database users, and role memberships for an existing directory user across every database it owns. Already-provisioned steps are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			userStore, err := persistence.NewDBUserStore(pool)
			if err != nil {
				return err
			}
			databaseStore, err := persistence.NewDatabaseStore(pool)
			if err != nil {
				return err
			}
			record, err := userStore.GetByName(ctx, userName)
			if err != nil {
				return fmt.Errorf("load user %q: %w", userName, err)
			}

			password, err := secrets.New(cipherKey).Decrypt(record.Password)
			if err != nil {
				return fmt.Errorf("decrypt stored password: %w", err)
			}

			repo := dbusersrepo.NewPostgresRepository(userStore, databaseStore)
			executor := mssql.NewExecutor(mssql.ExecutorConfig{
				AdminUser:     adminUser,
				AdminPassword: adminPassword,
			}, nil)
			prov := provisioning.New(executor, repo, nil, nil, provisioning.Config{GatewayAddress: gateway})

			targets, err := repo.FanOutTargets(ctx, record.UserID)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return fmt.Errorf("user %q owns no databases", userName)
			}

			user := provisioning.User{ID: record.UserID, Name: record.UserName}
			if err := prov.CreateLogin(ctx, user, password, targets); err != nil {
				return err
			}
			if err := prov.CreateUser(ctx, user, targets); err != nil {
				return err
			}
			for _, role := range record.Roles {
				if err := prov.GrantRole(ctx, user, role, targets); err != nil {
					return err
				}
			}

			cmd.Printf("provisioned %s across %d databases (%d roles)\n", record.UserName, len(targets), len(record.Roles))
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string for the directory store")
	c.Flags().StringVar(&cipherKey, "cipher-key", "", "passphrase for stored password decryption")
	c.Flags().StringVar(&userName, "user-name", "", "directory user to provision")
	c.Flags().StringVar(&adminUser, "admin-user", "", "SQL Server admin login (empty = integrated auth)")
	c.Flags().StringVar(&adminPassword, "admin-password", "", "SQL Server admin password")
	c.Flags().StringVar(&gateway, "gateway", "", "server address used for linked server indirection")
	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("user-name")
	return c
}
