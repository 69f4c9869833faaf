package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		expectError bool
	}{
		{
			name:  "plain name",
			input: "Valid_Name123",
		},
		{
			name:  "underscores only",
			input: "_",
		},
		{
			name:  "role identifier",
			input: "db_datareader",
		},
		{
			name:        "empty",
			input:       "",
			expectError: true,
		},
		{
			name:        "embedded space",
			input:       "two words",
			expectError: true,
		},
		{
			name:        "injection attempt",
			input:       "Robert'); DROP TABLE Users;--",
			expectError: true,
		},
		{
			name:        "bracket escape attempt",
			input:       "name]; DROP DATABASE x;--",
			expectError: true,
		},
		{
			name:        "hyphenated",
			input:       "some-host",
			expectError: true,
		},
		{
			name:        "unicode letters",
			input:       "café",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Identifier(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.input, got)
		})
	}
}

func TestQuoteLiteral(t *testing.T) {
	t.Parallel()

	require.Equal(t, "no quotes", QuoteLiteral("no quotes"))
	require.Equal(t, "O''Brien", QuoteLiteral("O'Brien"))
	require.Equal(t, "''''", QuoteLiteral("''"))
	require.Equal(t, "", QuoteLiteral(""))
}
