package acctmgr

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/halcyonsuite/halwallet/snacl"
	"github.com/halcyonsuite/halwallet/walletdb"
	_ "github.com/halcyonsuite/halwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"
)

var (
	testOuterSubID = SubAccountID{0x00, 0x00, 0x00, 0x00}
	testInnerSubID = SubAccountID{0x00, 0x00, 0x00, 0x01}

	testNamespaceKey = []byte("accounts")
)

func testCipherKey(t *testing.T) *snacl.CryptoKey {
	t.Helper()

	cipher, err := snacl.GenerateCryptoKey()
	require.NoError(t, err)
	return cipher
}

// testDB opens a fresh bolt-backed store with a single namespace bucket.
func testDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(testNamespaceKey)
		return err
	})
	require.NoError(t, err)

	return db
}

func update(t *testing.T, db walletdb.DB, fn func(ns walletdb.ReadWriteBucket) error) {
	t.Helper()

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return fn(tx.ReadWriteBucket(testNamespaceKey))
	})
	require.NoError(t, err)
}

func view(t *testing.T, db walletdb.DB, fn func(ns walletdb.ReadBucket) error) {
	t.Helper()

	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		return fn(tx.ReadBucket(testNamespaceKey))
	})
	require.NoError(t, err)
}

// testBIP32Nodes derives two account nodes from a fixed seed, returning the
// outer and inner descriptor nodes plus the seed fingerprint.
func testBIP32Nodes(t *testing.T, private bool) []BIP32Node {
	t.Helper()

	seed := bytes.Repeat([]byte{0x01}, 32)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	h := uint32(hdkeychain.HardenedKeyStart)
	paths := [][]uint32{
		{h + 44, h + 0, h + 0, 0},
		{h + 44, h + 0, h + 0, 1},
	}
	subIDs := []SubAccountID{testOuterSubID, testInnerSubID}

	nodes := make([]BIP32Node, 0, len(paths))
	for i, path := range paths {
		node := master
		for _, step := range path {
			node, err = node.Derive(step)
			require.NoError(t, err)
		}
		if !private {
			node, err = node.Neuter()
			require.NoError(t, err)
		}
		nodes = append(nodes, BIP32Node{
			SubID:  subIDs[i],
			Base58: node.String(),
			Path:   path,
		})
	}

	return nodes
}

func testBIP32Descriptor(t *testing.T, private bool) BIP32Account {
	t.Helper()

	outer, inner := testOuterSubID, testInnerSubID
	return BIP32Account{
		AccountPolicy: AccountPolicy{
			AddressTypes: []AddressType{
				AddressTypeP2PKH, AddressTypeP2WPKH,
			},
			DefaultType: AddressTypeP2PKH,
			Outer:       &outer,
			Inner:       &inner,
		},
		SeedFingerprint: 0x5eedf00d,
		Nodes:           testBIP32Nodes(t, private),
	}
}

func testFullBIP32Account(t *testing.T) (*Account, *SecretStore) {
	t.Helper()

	store := testUnlockedStore(t)
	a, diag, err := NewAccount(testAcctID, testBIP32Descriptor(t, true),
		store, testCipherKey(t), nil)
	require.NoError(t, err)
	require.Nil(t, diag)

	return a, store
}

func TestLegacyWatchingOnlyAccount(t *testing.T) {
	t.Parallel()

	_, pubKey := testKeyPair(t)

	var chainCode [32]byte
	copy(chainCode[:], testChainCode())

	root := NewLegacyRootAsset(testAcctID, LegacySubAccountID,
		pubKey.SerializeUncompressed(), nil, chainCode)

	desc := LegacyAccount{
		AccountPolicy: AccountPolicy{
			AddressTypes: []AddressType{AddressTypeP2PKH},
		},
	}
	a, diag, err := NewAccount(testAcctID, desc, nil, nil,
		func() (AssetEntry, error) { return root, nil },
	)
	require.NoError(t, err)

	// No outer designator in the descriptor, so the single chain is
	// promoted by fallback and reported through the diagnostic.
	require.NotNil(t, diag)
	require.True(t, diag.FallbackOuter)
	require.Equal(t, LegacySubAccountID, diag.OuterID)

	require.True(t, a.WatchingOnly())

	// Index 0 is derived eagerly at construction and must equal the pure
	// scheme output applied to the root.
	sub, err := a.SubAccount(LegacySubAccountID)
	require.NoError(t, err)
	require.EqualValues(t, 0, sub.LastComputedIndex())

	scheme, err := NewLegacyScheme(chainCode[:])
	require.NoError(t, err)
	want, err := scheme.ComputeNextPublicEntry(
		pubKey.SerializeUncompressed(), testAcctID,
		LegacySubAccountID, 0,
	)
	require.NoError(t, err)

	entry, err := sub.AssetForIndex(0)
	require.NoError(t, err)
	require.Equal(t, want.PubKey(), entry.PubKey())
	require.True(t, entry.WatchingOnly())

	// No private key record exists anywhere.
	_, err = a.FillPrivateKey(testUnlockedStore(t), entry.AssetID())
	require.True(t, IsError(err, ErrWatchingOnly))
}

func TestLegacyAccountRequiresLegacyRoot(t *testing.T) {
	t.Parallel()

	desc := LegacyAccount{
		AccountPolicy: AccountPolicy{
			AddressTypes: []AddressType{AddressTypeP2PKH},
		},
	}

	_, _, err := NewAccount(testAcctID, desc, nil, nil, nil)
	require.True(t, IsError(err, ErrMissingRoot))

	_, pubKey := testKeyPair(t)
	wrongRoot := NewSingleKeyAsset(testAcctID, LegacySubAccountID, -1,
		pubKey.SerializeCompressed(), nil)
	_, _, err = NewAccount(testAcctID, desc, nil, nil,
		func() (AssetEntry, error) { return wrongRoot, nil },
	)
	require.True(t, IsError(err, ErrUnexpectedRootType))
}

func TestBIP32AccountAddressFlow(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)

	// Consecutive addresses are distinct and indexed from 0.
	seen := make(map[string]struct{})
	for i := uint32(0); i < 3; i++ {
		addr, err := a.NewAddress(nil, AddressTypeDefault)
		require.NoError(t, err)
		require.Equal(t, i, addr.AssetID().Index())
		require.Equal(t, AddressTypeP2PKH, addr.Type())

		_, ok := seen[string(addr.PubKey())]
		require.False(t, ok, "duplicate key at index %d", i)
		seen[string(addr.PubKey())] = struct{}{}
	}

	// The computed watermark never trails the used one.
	sub, err := a.SubAccount(testOuterSubID)
	require.NoError(t, err)
	require.EqualValues(t, 2, sub.HighestUsedIndex())
	require.GreaterOrEqual(t, sub.LastComputedIndex(),
		sub.HighestUsedIndex())
}

func TestPeekMatchesCommit(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)

	peeked, err := a.PeekNextChangeAddress(AddressTypeDefault)
	require.NoError(t, err)

	// Peeking moves no watermark.
	sub, err := a.SubAccount(testInnerSubID)
	require.NoError(t, err)
	require.EqualValues(t, -1, sub.HighestUsedIndex())

	committed, err := a.NewChangeAddress(nil, AddressTypeDefault)
	require.NoError(t, err)
	require.Equal(t, peeked.PubKey(), committed.PubKey())
	require.Equal(t, peeked.AssetID(), committed.AssetID())
}

func TestUnrequestedAddressBoundary(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)

	for i := 0; i < 2; i++ {
		_, err := a.NewAddress(nil, AddressTypeDefault)
		require.NoError(t, err)
	}

	// At or below the used watermark resolution succeeds.
	for _, index := range []uint32{0, 1} {
		addr, err := a.AddressEntryByID(
			NewAssetID(testAcctID, testOuterSubID, index))
		require.NoError(t, err)
		require.Equal(t, index, addr.AssetID().Index())
	}

	// Beyond it the unrequested-address condition is raised, even though
	// the entry itself is already computed.
	_, err := a.AddressEntryByID(
		NewAssetID(testAcctID, testOuterSubID, 2))
	require.True(t, IsError(err, ErrUnrequestedAddress))
}

func TestNoInnerChainConfigured(t *testing.T) {
	t.Parallel()

	desc := testBIP32Descriptor(t, false)
	desc.Inner = nil
	desc.Nodes = desc.Nodes[:1]

	a, _, err := NewAccount(testAcctID, desc, nil, nil, nil)
	require.NoError(t, err)

	_, err = a.NewChangeAddress(nil, AddressTypeDefault)
	require.True(t, IsError(err, ErrNoActiveSubAccount))

	_, err = a.PeekNextChangeAddress(AddressTypeDefault)
	require.True(t, IsError(err, ErrNoActiveSubAccount))

	// The failed requests moved nothing.
	sub, err := a.SubAccount(testOuterSubID)
	require.NoError(t, err)
	require.EqualValues(t, -1, sub.HighestUsedIndex())
}

func TestSaltedAccountSaltValidation(t *testing.T) {
	t.Parallel()

	desc := SaltedBIP32Account{
		BIP32Account: testBIP32Descriptor(t, false),
		Salt:         make([]byte, 31),
	}

	_, _, err := NewAccount(testAcctID, desc, nil, nil, nil)
	require.True(t, IsError(err, ErrInvalidSalt))
}

func TestSaltedAccountDerivesDisjointKeys(t *testing.T) {
	t.Parallel()

	plainDesc := testBIP32Descriptor(t, false)
	plain, _, err := NewAccount(testAcctID, plainDesc, nil, nil, nil)
	require.NoError(t, err)

	saltedDesc := SaltedBIP32Account{
		BIP32Account: testBIP32Descriptor(t, false),
		Salt:         bytes.Repeat([]byte{0x55}, saltSize),
	}
	salted, _, err := NewAccount(testAcctID, saltedDesc, nil, nil, nil)
	require.NoError(t, err)

	plainAddr, err := plain.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)
	saltedAddr, err := salted.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)

	require.NotEqual(t, plainAddr.PubKey(), saltedAddr.PubKey())
}

func TestSkippedPathFailsConstruction(t *testing.T) {
	t.Parallel()

	desc := testBIP32Descriptor(t, false)
	desc.Nodes[1].Base58 = ""

	_, _, err := NewAccount(testAcctID, desc, nil, nil, nil)
	require.True(t, IsError(err, ErrSkippedPath))
}

func TestRequestedTypeNotPermitted(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)

	_, err := a.NewAddress(nil, AddressTypeNestedP2WPKH)
	require.True(t, IsError(err, ErrTypeNotPermitted))
}

func TestECDHAccountStaticKey(t *testing.T) {
	t.Parallel()

	privKey, pubKey := testKeyPair(t)
	subID := SubAccountID{0x00, 0x00, 0x00, 0x09}

	// Only the private key is supplied; the public key is computed.
	desc := ECDHAccount{
		AccountPolicy: AccountPolicy{
			AddressTypes: []AddressType{AddressTypeP2PKH},
			Outer:        &subID,
		},
		SubID:   subID,
		PrivKey: privKey.Serialize(),
	}

	store := testUnlockedStore(t)
	a, _, err := NewAccount(testAcctID, desc, store, testCipherKey(t), nil)
	require.NoError(t, err)

	sub, err := a.SubAccount(subID)
	require.NoError(t, err)
	require.Equal(t, SubAccountECDH, sub.Type())
	require.Equal(t, pubKey.SerializeCompressed(), sub.Root().PubKey())

	// Every index presents the same static key.
	first, err := a.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)
	second, err := a.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)
	require.Equal(t, first.PubKey(), second.PubKey())
	require.NotEqual(t, first.AssetID(), second.AssetID())

	// The root private key round-trips through the store.
	rootPriv, err := a.FillPrivateKey(store,
		NewAssetID(testAcctID, subID, RootKeyIndex))
	require.NoError(t, err)
	require.Equal(t, privKey.Serialize(), rootPriv)
}

func TestHasBIP32Path(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)
	h := uint32(hdkeychain.HardenedKeyStart)

	require.True(t, a.HasBIP32Path(BIP32AssetPath{
		SeedFingerprint: 0x5eedf00d,
		Path:            []uint32{h + 44, h + 0, h + 0, 0, 7},
	}))

	// A different seed never matches.
	require.False(t, a.HasBIP32Path(BIP32AssetPath{
		SeedFingerprint: 0x0bad5eed,
		Path:            []uint32{h + 44, h + 0, h + 0, 0, 7},
	}))

	// A diverging branch never matches.
	require.False(t, a.HasBIP32Path(BIP32AssetPath{
		SeedFingerprint: 0x5eedf00d,
		Path:            []uint32{h + 44, h + 0, h + 1, 0},
	}))
}

func TestAddressHashLookup(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)

	addr, err := a.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)

	id, addrType, err := a.AssetIDForHash(addr.PrefixedHash())
	require.NoError(t, err)
	require.Equal(t, addr.AssetID(), id)
	require.Equal(t, addr.Type(), addrType)

	id, _, err = a.AssetIDForUnprefixedHash(addr.Hash())
	require.NoError(t, err)
	require.Equal(t, addr.AssetID(), id)

	_, _, err = a.AssetIDForHash(bytes.Repeat([]byte{0xee}, 21))
	require.True(t, IsError(err, ErrAddressNotFound))
}

func TestAssetLookupsByID(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)

	addr, err := a.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)

	entry, err := a.AssetForID(addr.AssetID())
	require.NoError(t, err)
	require.Equal(t, addr.PubKey(), entry.PubKey())

	// The reserved index resolves to the sub-account root.
	root, err := a.AssetForID(
		NewAssetID(testAcctID, testOuterSubID, RootKeyIndex))
	require.NoError(t, err)
	require.EqualValues(t, -1, root.Index())

	byIndex, err := a.AssetForIndex(0, true)
	require.NoError(t, err)
	require.Equal(t, entry.PubKey(), byIndex.PubKey())

	wrongAcct := NewAssetID(AccountID{9, 9, 9, 9}, testOuterSubID, 0)
	_, err = a.AssetForID(wrongAcct)
	require.True(t, IsError(err, ErrIDMismatch))
}

func TestForeignAssetIDRejected(t *testing.T) {
	t.Parallel()

	a, store := testFullBIP32Account(t)

	_, err := a.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)

	sub, err := a.SubAccount(testOuterSubID)
	require.NoError(t, err)
	usedBefore := sub.HighestUsedIndex()

	// IDs minted under another account never resolve, even when the local
	// sub-account ID and index would.
	foreign := NewAssetID(AccountID{9, 9, 9, 9}, testOuterSubID, 0)

	err = a.MarkUsed(nil, foreign)
	require.True(t, IsError(err, ErrIDMismatch))
	require.Equal(t, usedBefore, sub.HighestUsedIndex())

	_, err = a.FillPrivateKey(store, foreign)
	require.True(t, IsError(err, ErrIDMismatch))
}

func TestPrivateChainExtension(t *testing.T) {
	t.Parallel()

	a, store := testFullBIP32Account(t)

	// Addresses derived publicly carry no private material yet.
	addr, err := a.NewAddress(nil, AddressTypeDefault)
	require.NoError(t, err)
	_, err = a.FillPrivateKey(store, addr.AssetID())
	require.True(t, IsError(err, ErrWatchingOnly))

	// Upgrading the chain in place keeps the public keys and attaches
	// decryptable private material.
	err = a.ExtendPrivateChainToIndex(nil, store, testOuterSubID, 2)
	require.NoError(t, err)

	upgraded, err := a.AssetForID(addr.AssetID())
	require.NoError(t, err)
	require.Equal(t, addr.PubKey(), upgraded.PubKey())

	privBytes, err := a.FillPrivateKey(store, addr.AssetID())
	require.NoError(t, err)
	privKey := secp256k1.PrivKeyFromBytes(privBytes)
	require.Equal(t, addr.PubKey(),
		privKey.PubKey().SerializeCompressed())

	// A locked store refuses to decrypt.
	store.Lock()
	_, err = a.FillPrivateKey(store, addr.AssetID())
	require.True(t, IsError(err, ErrLocked))
}

func TestWatchingOnlyChainCannotExtendPrivately(t *testing.T) {
	t.Parallel()

	a, _, err := NewAccount(testAcctID, testBIP32Descriptor(t, false),
		nil, nil, nil)
	require.NoError(t, err)

	store := testUnlockedStore(t)
	err = a.ExtendPrivateChainToIndex(nil, store, testOuterSubID, 1)
	require.True(t, IsError(err, ErrWatchingOnly))
}

func TestAddressTypeOverridePersistence(t *testing.T) {
	t.Parallel()

	db := testDB(t)
	a, _ := testFullBIP32Account(t)

	var defaultID, overrideID AssetID
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		// A default-typed address leaves no override record.
		addr, err := a.NewAddress(ns, AddressTypeDefault)
		require.NoError(t, err)
		defaultID = addr.AssetID()

		// A non-default type does.
		addr, err = a.NewAddress(ns, AddressTypeP2WPKH)
		require.NoError(t, err)
		overrideID = addr.AssetID()
		return nil
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		require.Nil(t, ns.Get(addressTypeOverrideKey(defaultID)))
		require.Equal(t, []byte{0, 0, 0, 3},
			ns.Get(addressTypeOverrideKey(overrideID)))
		return nil
	})

	require.Equal(t, AddressTypeP2WPKH, a.AddressType(overrideID))

	// Setting the override back to the default removes the record.
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return a.SetAddressType(ns, overrideID, AddressTypeDefault)
	})
	view(t, db, func(ns walletdb.ReadBucket) error {
		require.Nil(t, ns.Get(addressTypeOverrideKey(overrideID)))
		return nil
	})
	require.Equal(t, AddressTypeP2PKH, a.AddressType(overrideID))
}

func TestCommitLoadRoundTrip(t *testing.T) {
	t.Parallel()

	db := testDB(t)
	a, store := testFullBIP32Account(t)

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		for i := 0; i < 3; i++ {
			_, err := a.NewAddress(ns, AddressTypeDefault)
			require.NoError(t, err)
		}
		_, err := a.NewAddress(ns, AddressTypeP2WPKH)
		require.NoError(t, err)

		err = a.ExtendPrivateChainToIndex(ns, store, testOuterSubID, 3)
		require.NoError(t, err)

		return a.Commit(ns)
	})

	var reloaded *Account
	view(t, db, func(ns walletdb.ReadBucket) error {
		var err error
		reloaded, err = LoadAccount(ns, accountHeaderKey(testAcctID))
		require.NoError(t, err)
		return nil
	})

	// Reloading yields byte-identical header and sub-account records.
	wantHeader, err := serializeAccountHeader(a)
	require.NoError(t, err)
	gotHeader, err := serializeAccountHeader(reloaded)
	require.NoError(t, err)
	require.Equal(t, wantHeader, gotHeader)

	for _, subID := range a.SubAccountIDs() {
		origSub, err := a.SubAccount(subID)
		require.NoError(t, err)
		loadedSub, err := reloaded.SubAccount(subID)
		require.NoError(t, err)

		origBytes, err := serializeSubAccount(origSub)
		require.NoError(t, err)
		loadedBytes, err := serializeSubAccount(loadedSub)
		require.NoError(t, err)
		require.Equal(t, origBytes, loadedBytes)
	}

	// The override map survives the reload.
	overrideID := NewAssetID(testAcctID, testOuterSubID, 3)
	require.Equal(t, AddressTypeP2WPKH, reloaded.AddressType(overrideID))

	// The reloaded encrypted blobs decrypt to the same private keys.
	id := NewAssetID(testAcctID, testOuterSubID, 0)
	wantPriv, err := a.FillPrivateKey(store, id)
	require.NoError(t, err)
	gotPriv, err := reloaded.FillPrivateKey(store, id)
	require.NoError(t, err)
	require.Equal(t, wantPriv, gotPriv)
}

func TestLoadAccountRejectsBadKeys(t *testing.T) {
	t.Parallel()

	db := testDB(t)

	view(t, db, func(ns walletdb.ReadBucket) error {
		_, err := LoadAccount(ns, []byte{0x00, 0x01})
		require.True(t, IsError(err, ErrInvalidID))

		_, err = LoadAccount(ns, append([]byte{subAccountKeyPrefix},
			testAcctID[:]...))
		require.True(t, IsError(err, ErrInvalidID))

		_, err = LoadAccount(ns, accountHeaderKey(testAcctID))
		require.True(t, IsError(err, ErrAccountNotFound))
		return nil
	})
}

func TestMalformedOverrideRecordsAreSkipped(t *testing.T) {
	t.Parallel()

	db := testDB(t)
	a, _ := testFullBIP32Account(t)

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := a.Commit(ns); err != nil {
			return err
		}

		// A truncated override record in the scanned range.
		badKey := append([]byte{addrTypeOverrideKeyPrefix},
			testAcctID[:]...)
		badKey = append(badKey, 0x01)
		if err := ns.Put(badKey, []byte{0, 0, 0, 1}); err != nil {
			return err
		}

		// A well-formed one right after it.
		goodID := NewAssetID(testAcctID, testOuterSubID, 0)
		return putAddressTypeOverride(ns, goodID, AddressTypeP2WPKH)
	})

	var reloaded *Account
	view(t, db, func(ns walletdb.ReadBucket) error {
		var err error
		reloaded, err = LoadAccount(ns, accountHeaderKey(testAcctID))
		require.NoError(t, err)
		return nil
	})

	goodID := NewAssetID(testAcctID, testOuterSubID, 0)
	require.Equal(t, AddressTypeP2WPKH, reloaded.AddressType(goodID))
}

func TestDuplicateSubAccount(t *testing.T) {
	t.Parallel()

	a, _ := testFullBIP32Account(t)

	scheme, err := NewBIP32Scheme(testChainCode(), 0, 0)
	require.NoError(t, err)
	dup := NewSubAccount(testAcctID, testOuterSubID, SubAccountPlain, nil,
		scheme)

	err = a.AddSubAccount(dup)
	require.True(t, IsError(err, ErrDuplicateSubAccount))
}
