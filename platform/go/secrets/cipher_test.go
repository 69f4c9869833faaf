package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipherRoundtrip(t *testing.T) {
	t.Parallel()

	c := New("directory-secret")

	for _, plaintext := range []string{"P@ssw0rd1", "", "with 'quotes' inside", "ünicøde"} {
		sealed, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, sealed)

		opened, err := c.Decrypt(sealed)
		require.NoError(t, err)
		require.Equal(t, plaintext, opened)
	}
}

func TestCipherNonceVariesPerEncrypt(t *testing.T) {
	t.Parallel()

	c := New("directory-secret")

	first, err := c.Encrypt("same input")
	require.NoError(t, err)
	second, err := c.Encrypt("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestCipherNoKeyIsPassThrough(t *testing.T) {
	t.Parallel()

	c := New("")
	require.False(t, c.Enabled())

	sealed, err := c.Encrypt("plain")
	require.NoError(t, err)
	require.Equal(t, "plain", sealed)

	opened, err := c.Decrypt("plain")
	require.NoError(t, err)
	require.Equal(t, "plain", opened)
}

func TestCipherKeyLongerThan32Bytes(t *testing.T) {
	t.Parallel()

	long := New("0123456789abcdef0123456789abcdefEXTRA")
	exact := New("0123456789abcdef0123456789abcdef")

	sealed, err := long.Encrypt("secret")
	require.NoError(t, err)

	// Truncation means the first 32 bytes fully determine the key.
	opened, err := exact.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "secret", opened)
}

func TestCipherDecryptRejectsGarbage(t *testing.T) {
	t.Parallel()

	c := New("directory-secret")

	_, err := c.Decrypt("not base64 at all!!!")
	require.Error(t, err)

	_, err = c.Decrypt("c2hvcnQ=")
	require.Error(t, err)

	wrongKey := New("another-passphrase")
	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)
	_, err = wrongKey.Decrypt(sealed)
	require.Error(t, err)
}
