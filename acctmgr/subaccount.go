package acctmgr

import (
	"encoding/binary"
	"fmt"

	"github.com/halcyonsuite/halwallet/internal/zero"
	"github.com/halcyonsuite/halwallet/snacl"
	"github.com/halcyonsuite/halwallet/walletdb"
)

// SubAccountType tags the variant of a derivation sub-account.  The values
// are stable since they are committed to disk.
type SubAccountType uint8

const (
	// SubAccountPlain is an index-addressed derivation chain.
	SubAccountPlain SubAccountType = 0

	// SubAccountECDH is a chain built around a single static key pair.
	SubAccountECDH SubAccountType = 1
)

// derivationLookahead is how many extra public entries are derived when the
// chain has to grow to serve a new address, so that repeated address
// requests do not each pay for a chain extension.
const derivationLookahead = 10

// SubAccount is one monotonic index-keyed chain of derived assets under a
// single derivation scheme and root.  Indices are contiguous from 0; the
// computed watermark never trails the used watermark and neither ever
// decreases once committed to storage.
type SubAccount struct {
	acctID  AccountID
	id      SubAccountID
	subType SubAccountType

	// root is the chain's root asset.  It is nil for legacy chains,
	// which start directly from index 0.
	root   AssetEntry
	scheme DerivationScheme

	assets map[uint32]*SingleKeyAsset

	// lastUsedIndex is the highest index ever handed out to a caller and
	// lastComputedIndex the highest index ever derived.  -1 means none.
	lastUsedIndex     int64
	lastComputedIndex int64
}

// NewSubAccount returns an empty derivation chain for the given scheme and
// optional root asset.
func NewSubAccount(acct AccountID, id SubAccountID, subType SubAccountType,
	root AssetEntry, scheme DerivationScheme) *SubAccount {

	return &SubAccount{
		acctID:            acct,
		id:                id,
		subType:           subType,
		root:              root,
		scheme:            scheme,
		assets:            make(map[uint32]*SingleKeyAsset),
		lastUsedIndex:     -1,
		lastComputedIndex: -1,
	}
}

// ID returns the sub-account's local identifier.
func (a *SubAccount) ID() SubAccountID {
	return a.id
}

// AccountID returns the parent account's identifier.
func (a *SubAccount) AccountID() AccountID {
	return a.acctID
}

// FullID returns the 8-byte composite identifier: parent account ID followed
// by the local ID.
func (a *SubAccount) FullID() []byte {
	full := make([]byte, 0, AccountIDSize+SubAccountIDSize)
	full = append(full, a.acctID[:]...)
	full = append(full, a.id[:]...)
	return full
}

// Type returns the sub-account variant.
func (a *SubAccount) Type() SubAccountType {
	return a.subType
}

// Root returns the chain's root asset, or nil for legacy chains.
func (a *SubAccount) Root() AssetEntry {
	return a.root
}

// Scheme returns the chain's derivation scheme.
func (a *SubAccount) Scheme() DerivationScheme {
	return a.scheme
}

// HighestUsedIndex returns the highest index ever handed out, or -1 when no
// address has been requested yet.
func (a *SubAccount) HighestUsedIndex() int64 {
	return a.lastUsedIndex
}

// LastComputedIndex returns the highest index ever derived, or -1 when the
// chain is empty.
func (a *SubAccount) LastComputedIndex() int64 {
	return a.lastComputedIndex
}

// WatchingOnly reports whether the chain carries no private key material at
// all.
func (a *SubAccount) WatchingOnly() bool {
	if a.root != nil {
		return a.root.WatchingOnly()
	}
	entry, ok := a.assets[0]
	if !ok {
		return true
	}
	return entry.WatchingOnly()
}

// parentPubForIndex resolves the public key material the scheme derives
// index from.
func (a *SubAccount) parentPubForIndex(index uint32) ([]byte, error) {
	if a.scheme.Chained() {
		if index == 0 {
			if a.root == nil {
				return nil, managerError(ErrMissingRoot,
					"chained derivation has no parent for "+
						"index 0", nil)
			}
			return a.root.PubKey(), nil
		}
		prev, ok := a.assets[index-1]
		if !ok {
			return nil, managerError(ErrIndexOutOfRange, fmt.Sprintf(
				"missing parent entry %d", index-1), nil)
		}
		return prev.PubKey(), nil
	}

	if a.root == nil {
		return nil, managerError(ErrMissingRoot,
			"sub-account has no root asset", nil)
	}
	return a.root.PubKey(), nil
}

// computeToIndex derives and caches the missing public entries up to and
// including target.  The chain watermarks are left untouched.
func (a *SubAccount) computeToIndex(target int64) error {
	for i := int64(0); i <= target; i++ {
		index := uint32(i)
		if _, ok := a.assets[index]; ok {
			continue
		}

		parentPub, err := a.parentPubForIndex(index)
		if err != nil {
			return err
		}

		entry, err := a.scheme.ComputeNextPublicEntry(parentPub,
			a.acctID, a.id, index)
		if err != nil {
			return err
		}
		a.assets[index] = entry
	}

	return nil
}

// ExtendPublicChainToIndex grows the computed watermark to the target index,
// deriving public-only entries.  A nil bucket keeps the extension in memory
// only, which is how snapshot imports synchronize without touching disk.
func (a *SubAccount) ExtendPublicChainToIndex(ns walletdb.ReadWriteBucket,
	index uint32) error {

	target := int64(index)
	if target <= a.lastComputedIndex {
		return nil
	}

	if err := a.computeToIndex(target); err != nil {
		return err
	}
	a.lastComputedIndex = target

	if ns != nil {
		return putSubAccount(ns, a)
	}
	return nil
}

// ExtendPublicChain grows the computed watermark by count more entries.
func (a *SubAccount) ExtendPublicChain(ns walletdb.ReadWriteBucket,
	count uint32) error {

	if count == 0 {
		return nil
	}
	return a.ExtendPublicChainToIndex(ns,
		uint32(a.lastComputedIndex+int64(count)))
}

// privateTop returns the highest contiguous index holding private key
// material, or -1 when there is none.
func (a *SubAccount) privateTop() int64 {
	top := int64(-1)
	for i := int64(0); i <= a.lastComputedIndex; i++ {
		entry, ok := a.assets[uint32(i)]
		if !ok || entry.WatchingOnly() {
			break
		}
		top = i
	}
	return top
}

// chainCipher resolves the cipher freshly derived private keys are sealed
// under.  When the caller supplies none, the cipher sealed with the chain's
// existing private material is reused.
func (a *SubAccount) chainCipher(store *SecretStore,
	cipher *snacl.CryptoKey) (*snacl.CryptoKey, bool, error) {

	if cipher != nil {
		return cipher, false, nil
	}

	var encPriv *EncryptedPrivateKey
	if a.root != nil {
		encPriv = a.root.EncryptedPriv()
	} else if entry, ok := a.assets[0]; ok {
		encPriv = entry.EncryptedPriv()
	}
	if encPriv == nil {
		return nil, false, managerError(ErrWatchingOnly,
			"cannot extend private chain of watching-only "+
				"sub-account", nil)
	}

	recovered, err := store.cipherFor(encPriv)
	if err != nil {
		return nil, false, err
	}
	return recovered, true, nil
}

// parentPrivForIndex resolves and decrypts the private key material the
// scheme derives index from.  The caller owns the returned bytes and must
// zero them.
func (a *SubAccount) parentPrivForIndex(store *SecretStore,
	index uint32) ([]byte, error) {

	var encPriv *EncryptedPrivateKey
	if a.scheme.Chained() && index > 0 {
		prev, ok := a.assets[index-1]
		if !ok || prev.WatchingOnly() {
			return nil, managerError(ErrWatchingOnly, fmt.Sprintf(
				"no private material at parent entry %d",
				index-1), nil)
		}
		encPriv = prev.EncryptedPriv()
	} else {
		if a.root == nil || a.root.WatchingOnly() {
			return nil, managerError(ErrWatchingOnly,
				"sub-account root has no private material",
				nil)
		}
		encPriv = a.root.EncryptedPriv()
	}

	return store.Decrypt(encPriv)
}

// ExtendPrivateChainToIndex ensures every entry up to and including the
// target index carries sealed private key material, deriving through the
// unlocked store.  Public-only entries already cached are upgraded in place;
// their public keys do not change.
func (a *SubAccount) ExtendPrivateChainToIndex(ns walletdb.ReadWriteBucket,
	store *SecretStore, cipher *snacl.CryptoKey, index uint32) error {

	cipher, owned, err := a.chainCipher(store, cipher)
	if err != nil {
		return err
	}
	if owned {
		defer cipher.Zero()
	}

	target := int64(index)
	for i := int64(0); i <= target; i++ {
		idx := uint32(i)
		if entry, ok := a.assets[idx]; ok && !entry.WatchingOnly() {
			continue
		}

		parentPriv, err := a.parentPrivForIndex(store, idx)
		if err != nil {
			return err
		}

		entry, err := a.scheme.ComputeNextPrivateEntry(store,
			parentPriv, cipher, a.acctID, a.id, idx)
		zero.Bytes(parentPriv)
		if err != nil {
			return err
		}
		a.assets[idx] = entry
	}

	if target > a.lastComputedIndex {
		a.lastComputedIndex = target
	}

	if ns != nil {
		return putSubAccount(ns, a)
	}
	return nil
}

// ExtendPrivateChain grows the private chain by count more entries beyond
// the highest entry currently holding private material.
func (a *SubAccount) ExtendPrivateChain(ns walletdb.ReadWriteBucket,
	store *SecretStore, cipher *snacl.CryptoKey, count uint32) error {

	if count == 0 {
		return nil
	}
	return a.ExtendPrivateChainToIndex(ns, store, cipher,
		uint32(a.privateTop()+int64(count)))
}

// MarkUsed records an index as handed out.  The used watermark only ever
// moves up; marking an already-used index is a no-op.
func (a *SubAccount) MarkUsed(ns walletdb.ReadWriteBucket, index uint32) error {
	if int64(index) <= a.lastUsedIndex {
		return nil
	}

	// The computed watermark may never trail the used one.
	if err := a.ExtendPublicChainToIndex(nil, index); err != nil {
		return err
	}
	a.lastUsedIndex = int64(index)

	if ns != nil {
		return putSubAccount(ns, a)
	}
	return nil
}

// NextAsset hands out the asset after the highest used index, extending the
// computed chain with lookahead when needed, and persists the moved
// watermarks.
func (a *SubAccount) NextAsset(ns walletdb.ReadWriteBucket) (*SingleKeyAsset, error) {
	newIndex := a.lastUsedIndex + 1

	if newIndex > a.lastComputedIndex {
		err := a.ExtendPublicChainToIndex(nil,
			uint32(newIndex+derivationLookahead))
		if err != nil {
			return nil, err
		}
	}
	a.lastUsedIndex = newIndex

	if ns != nil {
		if err := putSubAccount(ns, a); err != nil {
			return nil, err
		}
	}

	return a.assets[uint32(newIndex)], nil
}

// PeekNextAsset returns the asset NextAsset would hand out without moving
// the used watermark or touching durable state.  Deriving the same index
// through peek and a later NextAsset yields identical key material.
func (a *SubAccount) PeekNextAsset() (*SingleKeyAsset, error) {
	newIndex := a.lastUsedIndex + 1
	if err := a.computeToIndex(newIndex); err != nil {
		return nil, err
	}
	return a.assets[uint32(newIndex)], nil
}

// AssetForIndex returns the entry at the given index.  Requests beyond the
// computed watermark fail; entries below it are derived and cached on
// demand.
func (a *SubAccount) AssetForIndex(index uint32) (*SingleKeyAsset, error) {
	if int64(index) > a.lastComputedIndex {
		return nil, managerError(ErrIndexOutOfRange, fmt.Sprintf(
			"index %d beyond computed watermark %d", index,
			a.lastComputedIndex), nil)
	}

	if entry, ok := a.assets[index]; ok {
		return entry, nil
	}

	if err := a.computeToIndex(int64(index)); err != nil {
		return nil, err
	}
	return a.assets[index], nil
}

// AssetForID resolves an asset by the 4-byte index suffix of its composite
// identifier.  The reserved root index resolves to the chain root.
func (a *SubAccount) AssetForID(idSuffix []byte) (AssetEntry, error) {
	if len(idSuffix) != 4 {
		return nil, managerError(ErrInvalidID, fmt.Sprintf(
			"invalid asset id suffix length %d", len(idSuffix)),
			nil)
	}

	index := binary.BigEndian.Uint32(idSuffix)
	if index == RootKeyIndex {
		if a.root == nil {
			return nil, managerError(ErrAssetNotFound,
				"sub-account has no root asset", nil)
		}
		return a.root, nil
	}

	return a.AssetForIndex(index)
}

// FillPrivateKey decrypts and returns the private key material of the asset
// with the given fully qualified identifier.  The caller owns the returned
// bytes and must zero them.
func (a *SubAccount) FillPrivateKey(store *SecretStore,
	id AssetID) ([]byte, error) {

	var entry AssetEntry
	if id.Index() == RootKeyIndex {
		if a.root == nil {
			return nil, managerError(ErrAssetNotFound,
				"sub-account has no root asset", nil)
		}
		entry = a.root
	} else {
		leaf, err := a.AssetForIndex(id.Index())
		if err != nil {
			return nil, err
		}
		entry = leaf
	}

	if entry.WatchingOnly() {
		return nil, managerError(ErrWatchingOnly, fmt.Sprintf(
			"asset %x has no private material", id[:]), nil)
	}

	return store.Decrypt(entry.EncryptedPriv())
}
