package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const keySize = 32

// Cipher encrypts and decrypts stored database-user passwords. The key is
// derived from a caller-supplied passphrase; an empty passphrase disables
// encryption entirely and both operations become identity functions. That
// plaintext fallback is a supported deployment mode, not an error.
type Cipher struct {
	key []byte
}

// New derives an AES-256 key by right-padding or truncating the passphrase
// to 32 bytes. An empty passphrase returns a pass-through cipher.
func New(passphrase string) *Cipher {
	if passphrase == "" {
		return &Cipher{}
	}

	key := make([]byte, keySize)
	copy(key, passphrase)
	return &Cipher{key: key}
}

// Enabled reports whether a key is configured.
func (c *Cipher) Enabled() bool {
	return len(c.key) > 0
}

// Encrypt seals plaintext with AES-GCM under a fresh random nonce and
// returns base64(nonce || ciphertext). Without a key it returns the input.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Without a key it returns the input unchanged.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if !c.Enabled() {
		return ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt password: %w", err)
	}
	return string(plaintext), nil
}
