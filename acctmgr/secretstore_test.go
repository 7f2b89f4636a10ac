package acctmgr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretStoreSealUnseal(t *testing.T) {
	t.Parallel()

	store := testUnlockedStore(t)
	cipher := testCipherKey(t)

	keyID := NewAssetID(testAcctID, testSubID, 7)
	plaintext := []byte("private key material")

	sealed, err := store.Encrypt(cipher, keyID, plaintext)
	require.NoError(t, err)
	require.Equal(t, keyID, sealed.KeyID)
	require.NotContains(t, string(sealed.Blob), string(plaintext))

	opened, err := store.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestSecretStoreLockDiscipline(t *testing.T) {
	t.Parallel()

	passphrase := []byte("correct horse")
	store, err := NewSecretStore(passphrase, 16, 8, 1)
	require.NoError(t, err)
	require.False(t, store.IsLocked())

	cipher := testCipherKey(t)
	keyID := NewAssetID(testAcctID, testSubID, 0)
	sealed, err := store.Encrypt(cipher, keyID, []byte("secret"))
	require.NoError(t, err)

	store.Lock()
	require.True(t, store.IsLocked())

	_, err = store.Decrypt(sealed)
	require.True(t, IsError(err, ErrLocked))
	_, err = store.Encrypt(cipher, keyID, []byte("secret"))
	require.True(t, IsError(err, ErrLocked))

	// The wrong passphrase does not unlock.
	err = store.Unlock([]byte("wrong"))
	require.True(t, IsError(err, ErrCrypto))
	require.True(t, store.IsLocked())

	require.NoError(t, store.Unlock(passphrase))
	opened, err := store.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), opened)
}

func TestSecretStoreMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	passphrase := []byte("some passphrase")
	store, err := NewSecretStore(passphrase, 16, 8, 1)
	require.NoError(t, err)

	cipher := testCipherKey(t)
	sealed, err := store.Encrypt(cipher,
		NewAssetID(testAcctID, testSubID, 0), []byte("payload"))
	require.NoError(t, err)

	// A store rebuilt from the marshalled parameters starts locked and
	// opens the same blobs after unlocking.
	rebuilt, err := SecretStoreFromParams(store.Marshal())
	require.NoError(t, err)
	require.True(t, rebuilt.IsLocked())

	require.NoError(t, rebuilt.Unlock(passphrase))
	opened, err := rebuilt.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), opened)
}
