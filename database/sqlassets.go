package sqlassets

import _ "embed"

//go:embed schema/directory/tenants.sql
var TenantsSQL string

//go:embed schema/directory/servers.sql
var ServersSQL string

//go:embed schema/directory/databases.sql
var DatabasesSQL string

//go:embed schema/directory/users.sql
var UsersSQL string
