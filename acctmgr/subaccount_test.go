package acctmgr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testBIP32SubAccount builds a watching-only chain rooted at a fixed key.
func testBIP32SubAccount(t *testing.T) *SubAccount {
	t.Helper()

	_, pubKey := testKeyPair(t)
	scheme, err := NewBIP32Scheme(testChainCode(), 0, 0)
	require.NoError(t, err)

	root := NewSingleKeyAsset(testAcctID, testSubID, -1,
		pubKey.SerializeCompressed(), nil)
	return NewSubAccount(testAcctID, testSubID, SubAccountPlain, root,
		scheme)
}

func TestSubAccountWatermarkInvariant(t *testing.T) {
	t.Parallel()

	sub := testBIP32SubAccount(t)
	require.EqualValues(t, -1, sub.HighestUsedIndex())
	require.EqualValues(t, -1, sub.LastComputedIndex())

	require.NoError(t, sub.ExtendPublicChain(nil, 3))
	require.EqualValues(t, 2, sub.LastComputedIndex())

	// Extension to a lower target is a no-op, not a rollback.
	require.NoError(t, sub.ExtendPublicChainToIndex(nil, 1))
	require.EqualValues(t, 2, sub.LastComputedIndex())

	// Marking an index used beyond the computed watermark drags the
	// computed one along.
	require.NoError(t, sub.MarkUsed(nil, 5))
	require.EqualValues(t, 5, sub.HighestUsedIndex())
	require.GreaterOrEqual(t, sub.LastComputedIndex(),
		sub.HighestUsedIndex())

	// Marking backwards is a no-op.
	require.NoError(t, sub.MarkUsed(nil, 1))
	require.EqualValues(t, 5, sub.HighestUsedIndex())
}

func TestSubAccountNextAndPeek(t *testing.T) {
	t.Parallel()

	sub := testBIP32SubAccount(t)

	peeked, err := sub.PeekNextAsset()
	require.NoError(t, err)
	require.EqualValues(t, -1, sub.HighestUsedIndex())

	next, err := sub.NextAsset(nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, sub.HighestUsedIndex())
	require.Equal(t, peeked.PubKey(), next.PubKey())

	// The lookahead extended the chain past the handed-out index.
	require.Greater(t, sub.LastComputedIndex(), sub.HighestUsedIndex())
}

func TestSubAccountIndexOutOfRange(t *testing.T) {
	t.Parallel()

	sub := testBIP32SubAccount(t)
	require.NoError(t, sub.ExtendPublicChainToIndex(nil, 2))

	_, err := sub.AssetForIndex(2)
	require.NoError(t, err)

	_, err = sub.AssetForIndex(3)
	require.True(t, IsError(err, ErrIndexOutOfRange))
}

func TestSubAccountAssetForID(t *testing.T) {
	t.Parallel()

	sub := testBIP32SubAccount(t)
	require.NoError(t, sub.ExtendPublicChainToIndex(nil, 0))

	entry, err := sub.AssetForID([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.EqualValues(t, 0, entry.Index())

	root, err := sub.AssetForID([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	require.EqualValues(t, -1, root.Index())

	_, err = sub.AssetForID([]byte{0, 0, 0})
	require.True(t, IsError(err, ErrInvalidID))
}

func TestSubAccountSerializationRoundTrip(t *testing.T) {
	t.Parallel()

	sub := testBIP32SubAccount(t)
	require.NoError(t, sub.ExtendPublicChainToIndex(nil, 4))
	require.NoError(t, sub.MarkUsed(nil, 2))

	serialized, err := serializeSubAccount(sub)
	require.NoError(t, err)

	reloaded, err := deserializeSubAccount(testAcctID, testSubID,
		serialized)
	require.NoError(t, err)

	require.Equal(t, sub.HighestUsedIndex(), reloaded.HighestUsedIndex())
	require.Equal(t, sub.LastComputedIndex(),
		reloaded.LastComputedIndex())
	require.Equal(t, sub.Type(), reloaded.Type())
	require.Equal(t, sub.Root().PubKey(), reloaded.Root().PubKey())

	reserialized, err := serializeSubAccount(reloaded)
	require.NoError(t, err)
	require.Equal(t, serialized, reserialized)
}

func TestLegacySubAccountChainsFromPreviousEntry(t *testing.T) {
	t.Parallel()

	_, pubKey := testKeyPair(t)
	scheme, err := NewLegacyScheme(testChainCode())
	require.NoError(t, err)

	// Index 0 is seeded the way legacy account construction does it; the
	// chain then feeds on its own entries.
	sub := NewSubAccount(testAcctID, testSubID, SubAccountPlain, nil,
		scheme)
	entry0, err := scheme.ComputeNextPublicEntry(
		pubKey.SerializeUncompressed(), testAcctID, testSubID, 0)
	require.NoError(t, err)
	sub.assets[0] = entry0
	sub.lastComputedIndex = 0

	require.NoError(t, sub.ExtendPublicChainToIndex(nil, 2))

	// Entry 2 must equal the scheme applied to entry 1.
	entry1, err := sub.AssetForIndex(1)
	require.NoError(t, err)
	want, err := scheme.ComputeNextPublicEntry(entry1.PubKey(),
		testAcctID, testSubID, 2)
	require.NoError(t, err)

	entry2, err := sub.AssetForIndex(2)
	require.NoError(t, err)
	require.Equal(t, want.PubKey(), entry2.PubKey())
}
