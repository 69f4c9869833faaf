package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerAddressPrecedence(t *testing.T) {
	t.Parallel()

	ptr := func(v string) *string { return &v }

	tests := []struct {
		name string
		rec  DatabaseServerRecord
		want string
	}{
		{
			name: "fqdn wins over host name and ip",
			rec:  DatabaseServerRecord{FQDN: ptr("sql01.corp.local"), HostName: ptr("sql01"), IPAddress: ptr("10.0.0.5")},
			want: "sql01.corp.local",
		},
		{
			name: "host name wins when fqdn is absent",
			rec:  DatabaseServerRecord{HostName: ptr("sql01"), IPAddress: ptr("10.0.0.5")},
			want: "sql01",
		},
		{
			name: "empty fqdn falls through to host name",
			rec:  DatabaseServerRecord{FQDN: ptr(""), HostName: ptr("sql01"), IPAddress: ptr("10.0.0.5")},
			want: "sql01",
		},
		{
			name: "ip only",
			rec:  DatabaseServerRecord{IPAddress: ptr("10.0.0.5")},
			want: "10.0.0.5",
		},
		{
			name: "empty fqdn and host name fall through to ip",
			rec:  DatabaseServerRecord{FQDN: ptr(""), HostName: ptr(""), IPAddress: ptr("10.0.0.5")},
			want: "10.0.0.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.rec.Address())
		})
	}
}
