package acctmgr

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

var (
	testAcctID = AccountID{0xde, 0xad, 0xbe, 0xef}
	testSubID  = SubAccountID{0x00, 0x00, 0x00, 0x01}
)

// testChainCode returns a fixed non-degenerate chaincode.
func testChainCode() []byte {
	chainCode := make([]byte, 32)
	for i := range chainCode {
		chainCode[i] = byte(i + 1)
	}
	return chainCode
}

// testKeyPair returns a fixed private key and its public key.
func testKeyPair(t *testing.T) (*secp256k1.PrivateKey, *secp256k1.PublicKey) {
	t.Helper()

	privBytes := bytes.Repeat([]byte{0x2a}, 32)
	privKey := secp256k1.PrivKeyFromBytes(privBytes)
	return privKey, privKey.PubKey()
}

func testUnlockedStore(t *testing.T) *SecretStore {
	t.Helper()

	store, err := NewSecretStore([]byte("test passphrase"), 16, 8, 1)
	require.NoError(t, err)
	return store
}

func TestLegacySchemePublicPrivateConsistency(t *testing.T) {
	t.Parallel()

	scheme, err := NewLegacyScheme(testChainCode())
	require.NoError(t, err)
	require.True(t, scheme.Chained())

	privKey, pubKey := testKeyPair(t)

	pubEntry, err := scheme.ComputeNextPublicEntry(
		pubKey.SerializeUncompressed(), testAcctID, testSubID, 0,
	)
	require.NoError(t, err)
	require.True(t, pubEntry.WatchingOnly())

	store := testUnlockedStore(t)
	cipher := testCipherKey(t)
	privEntry, err := scheme.ComputeNextPrivateEntry(
		store, privKey.Serialize(), cipher, testAcctID, testSubID, 0,
	)
	require.NoError(t, err)
	require.False(t, privEntry.WatchingOnly())

	// Deriving through the public and the private path must land on the
	// same child public key.
	require.Equal(t, pubEntry.PubKey(), privEntry.PubKey())

	// The sealed private key must match the child public key.
	childPriv, err := store.Decrypt(privEntry.EncryptedPriv())
	require.NoError(t, err)
	childKey := secp256k1.PrivKeyFromBytes(childPriv)
	require.Equal(t, privEntry.PubKey(),
		childKey.PubKey().SerializeCompressed())
}

func TestLegacySchemeDeterministic(t *testing.T) {
	t.Parallel()

	scheme, err := NewLegacyScheme(testChainCode())
	require.NoError(t, err)

	_, pubKey := testKeyPair(t)
	parent := pubKey.SerializeUncompressed()

	first, err := scheme.ComputeNextPublicEntry(parent, testAcctID,
		testSubID, 0)
	require.NoError(t, err)
	second, err := scheme.ComputeNextPublicEntry(parent, testAcctID,
		testSubID, 0)
	require.NoError(t, err)

	require.Equal(t, first.PubKey(), second.PubKey())
}

func TestLegacySchemeRejectsShortChainCode(t *testing.T) {
	t.Parallel()

	_, err := NewLegacyScheme(make([]byte, 31))
	require.True(t, IsError(err, ErrInvalidChaincode))
}

func TestBIP32SchemePublicPrivateConsistency(t *testing.T) {
	t.Parallel()

	scheme, err := NewBIP32Scheme(testChainCode(), 3, 7)
	require.NoError(t, err)
	require.False(t, scheme.Chained())

	privKey, pubKey := testKeyPair(t)

	for _, index := range []uint32{0, 1, 17} {
		pubEntry, err := scheme.ComputeNextPublicEntry(
			pubKey.SerializeCompressed(), testAcctID, testSubID,
			index,
		)
		require.NoError(t, err)

		store := testUnlockedStore(t)
		privEntry, err := scheme.ComputeNextPrivateEntry(
			store, privKey.Serialize(), testCipherKey(t),
			testAcctID, testSubID, index,
		)
		require.NoError(t, err)

		require.Equal(t, pubEntry.PubKey(), privEntry.PubKey(),
			"index %d", index)
	}
}

func TestSaltedSchemeDivergesFromUnsalted(t *testing.T) {
	t.Parallel()

	plain, err := NewBIP32Scheme(testChainCode(), 0, 0)
	require.NoError(t, err)

	salt := bytes.Repeat([]byte{0x77}, saltSize)
	salted, err := NewSaltedBIP32Scheme(salt, testChainCode(), 0, 0)
	require.NoError(t, err)

	_, pubKey := testKeyPair(t)
	parent := pubKey.SerializeCompressed()

	plainEntry, err := plain.ComputeNextPublicEntry(parent, testAcctID,
		testSubID, 0)
	require.NoError(t, err)
	saltedEntry, err := salted.ComputeNextPublicEntry(parent, testAcctID,
		testSubID, 0)
	require.NoError(t, err)

	require.NotEqual(t, plainEntry.PubKey(), saltedEntry.PubKey())
}

func TestSaltedSchemePublicPrivateConsistency(t *testing.T) {
	t.Parallel()

	salt := bytes.Repeat([]byte{0x13}, saltSize)
	scheme, err := NewSaltedBIP32Scheme(salt, testChainCode(), 0, 0)
	require.NoError(t, err)

	privKey, pubKey := testKeyPair(t)

	pubEntry, err := scheme.ComputeNextPublicEntry(
		pubKey.SerializeCompressed(), testAcctID, testSubID, 5,
	)
	require.NoError(t, err)

	store := testUnlockedStore(t)
	privEntry, err := scheme.ComputeNextPrivateEntry(
		store, privKey.Serialize(), testCipherKey(t), testAcctID,
		testSubID, 5,
	)
	require.NoError(t, err)

	require.Equal(t, pubEntry.PubKey(), privEntry.PubKey())

	childPriv, err := store.Decrypt(privEntry.EncryptedPriv())
	require.NoError(t, err)
	childKey := secp256k1.PrivKeyFromBytes(childPriv)
	require.Equal(t, privEntry.PubKey(),
		childKey.PubKey().SerializeCompressed())
}

func TestSaltedSchemeRequiresExactSaltSize(t *testing.T) {
	t.Parallel()

	_, err := NewSaltedBIP32Scheme(make([]byte, 31), testChainCode(), 0, 0)
	require.True(t, IsError(err, ErrInvalidSalt))

	_, err = NewSaltedBIP32Scheme(make([]byte, 33), testChainCode(), 0, 0)
	require.True(t, IsError(err, ErrInvalidSalt))
}

func TestECDHSchemeIsIdentity(t *testing.T) {
	t.Parallel()

	scheme := NewECDHScheme()
	_, pubKey := testKeyPair(t)
	parent := pubKey.SerializeCompressed()

	for _, index := range []uint32{0, 1, 100} {
		entry, err := scheme.ComputeNextPublicEntry(parent, testAcctID,
			testSubID, index)
		require.NoError(t, err)
		require.Equal(t, parent, entry.PubKey())
	}
}

func TestSchemeSerializationRoundTrip(t *testing.T) {
	t.Parallel()

	salt := bytes.Repeat([]byte{0x99}, saltSize)
	saltedScheme, err := NewSaltedBIP32Scheme(salt, testChainCode(), 2, 9)
	require.NoError(t, err)
	bip32Scheme, err := NewBIP32Scheme(testChainCode(), 4, 11)
	require.NoError(t, err)
	legacyScheme, err := NewLegacyScheme(testChainCode())
	require.NoError(t, err)

	schemes := []DerivationScheme{
		legacyScheme, bip32Scheme, saltedScheme, NewECDHScheme(),
	}
	for _, scheme := range schemes {
		reloaded, err := DeserializeScheme(scheme.Serialize())
		require.NoError(t, err)
		require.Equal(t, scheme.Serialize(), reloaded.Serialize())
		require.Equal(t, scheme.Chained(), reloaded.Chained())
	}
}

func TestDeserializeSchemeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DeserializeScheme(nil)
	require.True(t, IsError(err, ErrUnknownAccountType))

	_, err = DeserializeScheme([]byte{0xAB, 0x01, 0x02})
	require.True(t, IsError(err, ErrUnknownAccountType))

	_, err = DeserializeScheme([]byte{schemeTagLegacy, 0x01})
	require.True(t, IsError(err, ErrInvalidChaincode))
}
