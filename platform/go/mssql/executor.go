package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"
)

// ExecutorConfig carries the administrative credentials used for DDL
// execution against managed servers. Empty credentials fall back to
// integrated authentication.
type ExecutorConfig struct {
	AdminUser     string
	AdminPassword string
}

// Executor runs T-SQL batches against a target server over an ad-hoc
// connection scoped to the call. There is deliberately no ambient
// transaction: credential DDL (CREATE LOGIN, sp_addrolemember) cannot be
// coordinated across servers, and each batch is its own unit of work.
type Executor struct {
	cfg    ExecutorConfig
	logger *zap.Logger
}

func NewExecutor(cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Exec connects to the server's master database and runs command as a
// single batch. The target database, if any, is selected inside the command
// itself via USE.
func (e *Executor) Exec(ctx context.Context, serverAddress, command string) error {
	if serverAddress == "" {
		return fmt.Errorf("server address is required")
	}

	cs := ConnString{
		Server:   serverAddress,
		Database: "master",
		UserID:   e.cfg.AdminUser,
		Password: e.cfg.AdminPassword,
		Trusted:  e.cfg.AdminUser == "",
	}

	db, err := sql.Open("sqlserver", cs.String())
	if err != nil {
		return fmt.Errorf("open connection to %s: %w", serverAddress, err)
	}
	defer db.Close()

	e.logger.Debug("executing provisioning batch", zap.String("server", serverAddress))

	if _, err := db.ExecContext(ctx, command); err != nil {
		return fmt.Errorf("execute batch on %s: %w", serverAddress, err)
	}
	return nil
}

// Open returns a database handle for a fully built connection string. The
// driver owns pooling; callers own the handle's lifecycle.
func Open(connString string) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", connString)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	return db, nil
}
