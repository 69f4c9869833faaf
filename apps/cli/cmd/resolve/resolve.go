package resolve

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	connectionsrepo "github.com/shardgate/dbdirectory/domains/connections/be/repo"
	"github.com/shardgate/dbdirectory/domains/connections/be/service"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
	"github.com/shardgate/dbdirectory/platform/go/roles"
	"github.com/shardgate/dbdirectory/platform/go/secrets"
)

// Command resolves a connection string from the command line, mirroring the
// /resolve endpoint for scripting and debugging.
func Command() *cobra.Command {
	var (
		databaseURL  string
		cipherKey    string
		connectionID string
		tenantID     string
		tenantCode   string
		typeID       int16
		roleNames    []string
		matchAll     bool
	)

	c := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a connection string",
		Long:  "Resolves a tenant/database-type selector (or a connection id) into the full SQL Server connection string.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			repo, err := buildRepository(pool)
			if err != nil {
				return err
			}
			svc := service.New(repo, secrets.New(cipherKey), nil, nil)

			req := service.ResolveRequest{}
			switch {
			case connectionID != "":
				id, err := uuid.Parse(connectionID)
				if err != nil {
					return fmt.Errorf("invalid connection id: %w", err)
				}
				req.Selector.ConnectionID = &id
			case tenantID != "":
				id, err := uuid.Parse(tenantID)
				if err != nil {
					return fmt.Errorf("invalid tenant id: %w", err)
				}
				req.Selector.TenantID = &id
				req.Selector.DatabaseTypeID = &typeID
			case tenantCode != "":
				req.Selector.TenantCode = &tenantCode
				req.Selector.DatabaseTypeID = &typeID
			default:
				return fmt.Errorf("one of --connection-id, --tenant-id, --tenant-code is required")
			}

			for _, name := range roleNames {
				role, err := roles.Parse(name)
				if err != nil {
					return err
				}
				req.RequiredRoles = append(req.RequiredRoles, role)
			}
			if matchAll {
				req.RoleMatch = service.MatchAll
			}

			handle, err := svc.Resolve(ctx, req)
			if err != nil {
				return err
			}
			cmd.Println(handle.ConnectionString)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string for the directory store")
	c.Flags().StringVar(&cipherKey, "cipher-key", "", "passphrase for stored password decryption")
	c.Flags().StringVar(&connectionID, "connection-id", "", "resolve by connection id")
	c.Flags().StringVar(&tenantID, "tenant-id", "", "resolve by tenant id (requires --type)")
	c.Flags().StringVar(&tenantCode, "tenant-code", "", "resolve by tenant code (requires --type)")
	c.Flags().Int16Var(&typeID, "type", 0, "database type id")
	c.Flags().StringSliceVar(&roleNames, "roles", nil, "required roles, e.g. DataWriter,DataReader")
	c.Flags().BoolVar(&matchAll, "match-all", false, "require every listed role instead of any")
	_ = c.MarkFlagRequired("database-url")
	return c
}

func buildRepository(pool *pgxpool.Pool) (service.Repository, error) {
	connectionStore, err := persistence.NewConnectionStore(pool)
	if err != nil {
		return nil, err
	}
	databaseStore, err := persistence.NewDatabaseStore(pool)
	if err != nil {
		return nil, err
	}
	userStore, err := persistence.NewDBUserStore(pool)
	if err != nil {
		return nil, err
	}
	tenantStore, err := persistence.NewTenantStore(pool)
	if err != nil {
		return nil, err
	}
	typeStore, err := persistence.NewDBTypeStore(pool)
	if err != nil {
		return nil, err
	}
	return connectionsrepo.NewPostgresRepository(connectionStore, databaseStore, userStore, tenantStore, typeStore), nil
}
