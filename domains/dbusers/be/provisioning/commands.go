package provisioning

import (
	"fmt"

	"github.com/shardgate/dbdirectory/platform/go/roles"
	"github.com/shardgate/dbdirectory/platform/go/sanitize"
)

// Command builders produce the T-SQL batches the provisioner executes.
// They are pure: building is separated from execution so every shape can be
// unit tested without a live server. Identifiers pass through the sanitizer
// before concatenation; passwords are the only values embedded as string
// literals and are quote-doubled.
//
// Every CREATE/DROP is guarded with IF [NOT] EXISTS so a retried fan-out
// can safely re-run steps that already completed on some servers.

func BuildCreateLogin(userName, password string) (string, error) {
	name, err := sanitize.Identifier(userName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.server_principals WHERE name = N'%s') CREATE LOGIN [%s] WITH PASSWORD = N'%s', CHECK_POLICY = OFF;",
		name, name, sanitize.QuoteLiteral(password)), nil
}

func BuildAlterLoginPassword(userName, password string) (string, error) {
	name, err := sanitize.Identifier(userName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER LOGIN [%s] WITH PASSWORD = N'%s';", name, sanitize.QuoteLiteral(password)), nil
}

func BuildDropLogin(userName string) (string, error) {
	name, err := sanitize.Identifier(userName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"IF EXISTS (SELECT 1 FROM sys.server_principals WHERE name = N'%s') DROP LOGIN [%s];",
		name, name), nil
}

func BuildCreateUser(databaseName, userName string) (string, error) {
	db, err := sanitize.Identifier(databaseName)
	if err != nil {
		return "", err
	}
	name, err := sanitize.Identifier(userName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"USE [%s]; IF NOT EXISTS (SELECT 1 FROM sys.database_principals WHERE name = N'%s') CREATE USER [%s] FOR LOGIN [%s];",
		db, name, name, name), nil
}

func BuildDropUser(databaseName, userName string) (string, error) {
	db, err := sanitize.Identifier(databaseName)
	if err != nil {
		return "", err
	}
	name, err := sanitize.Identifier(userName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"USE [%s]; IF EXISTS (SELECT 1 FROM sys.database_principals WHERE name = N'%s') DROP USER [%s];",
		db, name, name), nil
}

func BuildGrantRole(databaseName, userName string, role roles.Role) (string, error) {
	db, err := sanitize.Identifier(databaseName)
	if err != nil {
		return "", err
	}
	name, err := sanitize.Identifier(userName)
	if err != nil {
		return "", err
	}
	roleName, err := sanitize.Identifier(role.SQLName())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("USE [%s]; EXEC sp_addrolemember N'%s', N'%s';", db, roleName, name), nil
}

func BuildRevokeRole(databaseName, userName string, role roles.Role) (string, error) {
	db, err := sanitize.Identifier(databaseName)
	if err != nil {
		return "", err
	}
	name, err := sanitize.Identifier(userName)
	if err != nil {
		return "", err
	}
	roleName, err := sanitize.Identifier(role.SQLName())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("USE [%s]; EXEC sp_droprolemember N'%s', N'%s';", db, roleName, name), nil
}

func BuildRenameUser(databaseName, oldName, newName string) (string, error) {
	db, err := sanitize.Identifier(databaseName)
	if err != nil {
		return "", err
	}
	from, err := sanitize.Identifier(oldName)
	if err != nil {
		return "", err
	}
	to, err := sanitize.Identifier(newName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("USE [%s]; ALTER USER [%s] WITH NAME = [%s];", db, from, to), nil
}

func BuildRenameLogin(oldName, newName string) (string, error) {
	from, err := sanitize.Identifier(oldName)
	if err != nil {
		return "", err
	}
	to, err := sanitize.Identifier(newName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER LOGIN [%s] WITH NAME = [%s];", from, to), nil
}

func BuildDropDatabase(databaseName string) (string, error) {
	db, err := sanitize.Identifier(databaseName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"IF EXISTS (SELECT 1 FROM sys.databases WHERE name = N'%s') DROP DATABASE [%s];",
		db, db), nil
}

// WrapLinked indirects a command through a linked server: the whole batch
// becomes a string literal inside exec('...') at [server]. Embedded single
// quotes are doubled. This is the only mechanism for reaching a server the
// caller cannot connect to directly.
func WrapLinked(command, linkedHost string) (string, error) {
	host, err := sanitize.Identifier(linkedHost)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("exec('%s') at [%s];", sanitize.QuoteLiteral(command), host), nil
}
