package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyFromClusterID(t *testing.T) {
	k1 := DeriveKeyFromClusterID("coordstore-a")
	k2 := DeriveKeyFromClusterID("coordstore-a")
	k3 := DeriveKeyFromClusterID("coordstore-b")

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	require.NoError(t, SetClusterEncryptionKey(DeriveKeyFromClusterID("coordstore-a")))

	plaintext := []byte("root CA private key material")
	ciphertext, err := Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	require.NoError(t, SetClusterEncryptionKey(DeriveKeyFromClusterID("coordstore-a")))
	ciphertext, err := Encrypt([]byte("secret"))
	require.NoError(t, err)

	require.NoError(t, SetClusterEncryptionKey(DeriveKeyFromClusterID("coordstore-b")))
	_, err = Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestSetClusterEncryptionKeyRejectsWrongLength(t *testing.T) {
	err := SetClusterEncryptionKey([]byte("too-short"))
	assert.Error(t, err)
}
