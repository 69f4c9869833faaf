package mssql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnStringSQLAuth(t *testing.T) {
	t.Parallel()

	cs := ConnString{
		Server:   "sql01",
		Database: "AcmeBilling",
		UserID:   "acme_writer",
		Password: "P@ssw0rd1",
	}

	require.Equal(t,
		"Server=sql01;Database=AcmeBilling;User Id=acme_writer;Password=P@ssw0rd1;Connect Timeout=30;Encrypt=true;TrustServerCertificate=true;",
		cs.String())
}

func TestConnStringTrusted(t *testing.T) {
	t.Parallel()

	cs := ConnString{
		Server:   "sql02.corp.example.com",
		Database: "Reporting",
		// Credentials must be ignored once trusted auth is requested.
		UserID:   "ignored",
		Password: "ignored",
		Trusted:  true,
	}

	rendered := cs.String()
	require.Equal(t,
		"Server=sql02.corp.example.com;Database=Reporting;Integrated Security=SSPI;Connect Timeout=30;Encrypt=true;TrustServerCertificate=true;",
		rendered)
	require.NotContains(t, rendered, "User Id=")
	require.NotContains(t, rendered, "Password=")
}
