package acctmgr

import (
	"encoding/binary"
	"fmt"
)

const (
	// AccountIDSize is the byte length of a top-level account identifier.
	AccountIDSize = 4

	// SubAccountIDSize is the byte length of a sub-account identifier,
	// unique within its parent account.
	SubAccountIDSize = 4

	// AssetIDSize is the byte length of a fully qualified asset
	// identifier: account ID, sub-account ID and big-endian index.
	AssetIDSize = AccountIDSize + SubAccountIDSize + 4

	// RootKeyIndex is the reserved index for a sub-account's root-level
	// private key record.
	RootKeyIndex uint32 = 0xFFFFFFFF
)

// AccountID identifies an account aggregate, unique within a wallet.
type AccountID [AccountIDSize]byte

// SubAccountID identifies a derivation sub-account within its parent
// account.
type SubAccountID [SubAccountIDSize]byte

// AssetID is the fully qualified identifier of a single derived asset.
type AssetID [AssetIDSize]byte

// NewAccountID builds an AccountID from a raw byte slice.
func NewAccountID(b []byte) (AccountID, error) {
	var id AccountID
	if len(b) != AccountIDSize {
		return id, managerError(ErrInvalidID, fmt.Sprintf(
			"invalid account id length %d", len(b)), nil)
	}
	copy(id[:], b)
	return id, nil
}

// NewSubAccountID builds a SubAccountID from a raw byte slice.
func NewSubAccountID(b []byte) (SubAccountID, error) {
	var id SubAccountID
	if len(b) != SubAccountIDSize {
		return id, managerError(ErrInvalidID, fmt.Sprintf(
			"invalid sub-account id length %d", len(b)), nil)
	}
	copy(id[:], b)
	return id, nil
}

// SubAccountIDFromIndex builds a SubAccountID from a node index, big-endian.
func SubAccountIDFromIndex(index uint32) SubAccountID {
	var id SubAccountID
	binary.BigEndian.PutUint32(id[:], index)
	return id
}

// NewAssetID builds the fully qualified asset identifier for the given
// account, sub-account and index.
func NewAssetID(acct AccountID, sub SubAccountID, index uint32) AssetID {
	var id AssetID
	copy(id[:AccountIDSize], acct[:])
	copy(id[AccountIDSize:AccountIDSize+SubAccountIDSize], sub[:])
	binary.BigEndian.PutUint32(id[AccountIDSize+SubAccountIDSize:], index)
	return id
}

// AccountID returns the account portion of the asset identifier.
func (id AssetID) AccountID() AccountID {
	var acct AccountID
	copy(acct[:], id[:AccountIDSize])
	return acct
}

// SubAccountID returns the sub-account portion of the asset identifier.
func (id AssetID) SubAccountID() SubAccountID {
	var sub SubAccountID
	copy(sub[:], id[AccountIDSize:AccountIDSize+SubAccountIDSize])
	return sub
}

// Index returns the index portion of the asset identifier.
func (id AssetID) Index() uint32 {
	return binary.BigEndian.Uint32(id[AccountIDSize+SubAccountIDSize:])
}

// EncryptedPrivateKey is a reference to encrypted private key material.  The
// private key bytes are sealed under a per-asset symmetric key which is in
// turn sealed under the secret store's master key, so decryption always goes
// through an unlocked store.
type EncryptedPrivateKey struct {
	// KeyID is the fully qualified asset identifier of the key material.
	// Root-level keys use the reserved RootKeyIndex index.
	KeyID AssetID

	// EncryptedKey is the per-asset symmetric key sealed under the secret
	// store's master key.
	EncryptedKey []byte

	// Blob is the private key material sealed under the per-asset
	// symmetric key.
	Blob []byte
}

// AssetEntry is the common interface of all key material entries held by a
// sub-account: derived leaves as well as chain roots.
type AssetEntry interface {
	// AssetID returns the entry's fully qualified identifier.  Roots use
	// the reserved RootKeyIndex index.
	AssetID() AssetID

	// Index returns the entry's chain index, or -1 for roots.
	Index() int64

	// PubKey returns the entry's serialized public key.
	PubKey() []byte

	// EncryptedPriv returns the entry's encrypted private key reference,
	// or nil for watching-only entries.
	EncryptedPriv() *EncryptedPrivateKey

	// WatchingOnly reports whether the entry carries no private key
	// material.  This property is permanent once set.
	WatchingOnly() bool
}

// SingleKeyAsset is a derived leaf entry: a single public key and, for full
// wallets, a reference to its encrypted private key.
type SingleKeyAsset struct {
	acctID  AccountID
	subID   SubAccountID
	index   int64
	pubKey  []byte
	privKey *EncryptedPrivateKey
}

// NewSingleKeyAsset returns a leaf entry for the given ids and key material.
// privKey may be nil for watching-only entries.
func NewSingleKeyAsset(acct AccountID, sub SubAccountID, index int64,
	pubKey []byte, privKey *EncryptedPrivateKey) *SingleKeyAsset {

	return &SingleKeyAsset{
		acctID:  acct,
		subID:   sub,
		index:   index,
		pubKey:  pubKey,
		privKey: privKey,
	}
}

// AssetID returns the entry's fully qualified identifier.
func (a *SingleKeyAsset) AssetID() AssetID {
	return NewAssetID(a.acctID, a.subID, indexToUint32(a.index))
}

// Index returns the entry's chain index, or -1 for roots.
func (a *SingleKeyAsset) Index() int64 {
	return a.index
}

// PubKey returns the serialized public key.
func (a *SingleKeyAsset) PubKey() []byte {
	return a.pubKey
}

// EncryptedPriv returns the encrypted private key reference, or nil when the
// entry is watching-only.
func (a *SingleKeyAsset) EncryptedPriv() *EncryptedPrivateKey {
	return a.privKey
}

// WatchingOnly reports whether the entry carries no private key material.
func (a *SingleKeyAsset) WatchingOnly() bool {
	return a.privKey == nil
}

// publicCopy returns a copy of the entry with the private key reference
// stripped.
func (a *SingleKeyAsset) publicCopy() *SingleKeyAsset {
	return &SingleKeyAsset{
		acctID: a.acctID,
		subID:  a.subID,
		index:  a.index,
		pubKey: a.pubKey,
	}
}

// BIP32RootAsset is the root entry of a BIP32-derived sub-account.  On top of
// the key material it carries the chaincode and the node metadata needed to
// re-derive children and to answer path membership queries.
type BIP32RootAsset struct {
	SingleKeyAsset

	chainCode [32]byte
	depth     uint8
	leafID    uint32
	parentFP  uint32
	seedFP    uint32
	derPath   []uint32
}

// NewBIP32RootAsset returns a BIP32 root entry.  privKey may be nil for
// watching-only roots.
func NewBIP32RootAsset(acct AccountID, sub SubAccountID, pubKey []byte,
	privKey *EncryptedPrivateKey, chainCode [32]byte, depth uint8,
	leafID, parentFP, seedFP uint32, derPath []uint32) *BIP32RootAsset {

	return &BIP32RootAsset{
		SingleKeyAsset: SingleKeyAsset{
			acctID:  acct,
			subID:   sub,
			index:   -1,
			pubKey:  pubKey,
			privKey: privKey,
		},
		chainCode: chainCode,
		depth:     depth,
		leafID:    leafID,
		parentFP:  parentFP,
		seedFP:    seedFP,
		derPath:   derPath,
	}
}

// ChainCode returns the root's chaincode.
func (a *BIP32RootAsset) ChainCode() [32]byte {
	return a.chainCode
}

// Depth returns the root node's derivation depth.
func (a *BIP32RootAsset) Depth() uint8 {
	return a.depth
}

// LeafID returns the child number of the root node itself.
func (a *BIP32RootAsset) LeafID() uint32 {
	return a.leafID
}

// ParentFingerprint returns the fingerprint of the root node's parent.
func (a *BIP32RootAsset) ParentFingerprint() uint32 {
	return a.parentFP
}

// SeedFingerprint returns the fingerprint of the wallet seed this root was
// derived from.
func (a *BIP32RootAsset) SeedFingerprint() uint32 {
	return a.seedFP
}

// DerivationPath returns the full derivation path from the seed to this
// root.
func (a *BIP32RootAsset) DerivationPath() []uint32 {
	return a.derPath
}

// publicCopy returns a copy of the root with the private key reference
// stripped.
func (a *BIP32RootAsset) publicCopy() *BIP32RootAsset {
	cp := *a
	cp.privKey = nil
	return &cp
}

// LegacyRootAsset is the root key material of a legacy linear chain: an
// uncompressed public key and a chaincode, with no hierarchical path
// semantics.
type LegacyRootAsset struct {
	SingleKeyAsset

	chainCode [32]byte
}

// NewLegacyRootAsset returns a legacy chain root.  pubKey must be the
// uncompressed serialization.  privKey may be nil for watching-only roots.
func NewLegacyRootAsset(acct AccountID, sub SubAccountID, pubKey []byte,
	privKey *EncryptedPrivateKey, chainCode [32]byte) *LegacyRootAsset {

	return &LegacyRootAsset{
		SingleKeyAsset: SingleKeyAsset{
			acctID:  acct,
			subID:   sub,
			index:   -1,
			pubKey:  pubKey,
			privKey: privKey,
		},
		chainCode: chainCode,
	}
}

// ChainCode returns the root's chaincode.
func (a *LegacyRootAsset) ChainCode() [32]byte {
	return a.chainCode
}

// publicCopy returns a copy of the root with the private key reference
// stripped.
func (a *LegacyRootAsset) publicCopy() *LegacyRootAsset {
	cp := *a
	cp.privKey = nil
	return &cp
}

// publicAssetCopy strips the private key reference from any concrete asset
// entry kind.
func publicAssetCopy(entry AssetEntry) (AssetEntry, error) {
	switch e := entry.(type) {
	case *SingleKeyAsset:
		return e.publicCopy(), nil
	case *BIP32RootAsset:
		return e.publicCopy(), nil
	case *LegacyRootAsset:
		return e.publicCopy(), nil
	}
	return nil, managerError(ErrUnexpectedRootType, fmt.Sprintf(
		"unknown asset entry type %T", entry), nil)
}

// indexToUint32 maps the in-memory chain index representation to the on-disk
// one, where -1 (no index / root) becomes the reserved sentinel.
func indexToUint32(index int64) uint32 {
	if index < 0 {
		return RootKeyIndex
	}
	return uint32(index)
}

// uint32ToIndex is the inverse of indexToUint32.
func uint32ToIndex(index uint32) int64 {
	if index == RootKeyIndex {
		return -1
	}
	return int64(index)
}

// assetIDFromSlice parses a fully qualified asset identifier from a raw byte
// slice.
func assetIDFromSlice(b []byte) (AssetID, error) {
	var id AssetID
	if len(b) != AssetIDSize {
		return id, managerError(ErrInvalidID, fmt.Sprintf(
			"invalid asset id length %d", len(b)), nil)
	}
	copy(id[:], b)
	return id, nil
}

// pathIsPrefix reports whether prefix is a strict prefix-match of path,
// element for element.
func pathIsPrefix(prefix, path []uint32) bool {
	if len(prefix) == 0 || len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if prefix[i] != path[i] {
			return false
		}
	}
	return true
}
