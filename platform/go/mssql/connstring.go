package mssql

import "strings"

// ConnString describes an ADO-style SQL Server connection string. Downstream
// consumers parse the rendered string verbatim, so the field names and their
// order are part of the contract and must not change.
type ConnString struct {
	Server   string
	Database string
	UserID   string
	Password string
	// Trusted switches to integrated authentication; UserID/Password are
	// omitted entirely when set.
	Trusted bool
}

// String renders the connection string. Connections always require
// encryption, trust the server certificate, and use a 30 second connect
// timeout.
func (c ConnString) String() string {
	var b strings.Builder

	b.WriteString("Server=")
	b.WriteString(c.Server)
	b.WriteString(";Database=")
	b.WriteString(c.Database)
	b.WriteString(";")

	if c.Trusted {
		b.WriteString("Integrated Security=SSPI;")
	} else {
		b.WriteString("User Id=")
		b.WriteString(c.UserID)
		b.WriteString(";Password=")
		b.WriteString(c.Password)
		b.WriteString(";")
	}

	b.WriteString("Connect Timeout=30;Encrypt=true;TrustServerCertificate=true;")
	return b.String()
}
