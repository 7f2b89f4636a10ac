package acctmgr

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/halcyonsuite/halwallet/internal/zero"
	"github.com/halcyonsuite/halwallet/snacl"
	"github.com/halcyonsuite/halwallet/walletdb"
	"github.com/lightningnetwork/lnd/clock"
)

// ConstructionDiagnostic reports non-fatal conditions encountered while
// constructing an account.  Acting on it, for instance logging the fallback,
// is the caller's concern.
type ConstructionDiagnostic struct {
	// FallbackOuter is set when the descriptor supplied no outer
	// designator and the first registered sub-account was promoted to
	// the receiving chain.
	FallbackOuter bool

	// OuterID is the sub-account promoted by the fallback.
	OuterID SubAccountID
}

// addressRef is an address-hash cache entry: the asset behind a fully-typed
// address hash together with the presentation type that produced the hash.
type addressRef struct {
	id       AssetID
	addrType AddressType
}

// Account is the aggregate owning one or more derivation sub-accounts, the
// address-type policy and the address-to-asset lookup cache.
//
// All exported methods are safe for concurrent access.  Operations touching
// private key material take a *SecretStore parameter; the store must be
// unlocked by the caller beforehand.
type Account struct {
	mtx sync.Mutex

	id AccountID

	subAccounts map[SubAccountID]*SubAccount

	// subOrder preserves registration order, which decides the fallback
	// outer chain and keeps serialization deterministic.
	subOrder []SubAccountID

	addressTypes []AddressType
	defaultType  AddressType

	outerID  SubAccountID
	hasOuter bool
	innerID  SubAccountID
	hasInner bool

	// typeOverrides maps assets to an explicitly chosen non-default
	// presentation type.  Assets using the default type never appear
	// here.
	typeOverrides map[AssetID]AddressType

	// addressHashes maps a fully-typed address hash to its asset.  It is
	// rebuilt incrementally; topHashedIndex tracks, per sub-account, the
	// highest index already folded in so repeat rebuilds only append.
	addressHashes  map[string]addressRef
	topHashedIndex map[SubAccountID]int64

	clk clock.Clock
}

// NewAccount constructs an aggregate from an account-type descriptor.  The
// store and cipher are only required for descriptors carrying private key
// material; watching-only construction passes them as nil.  The root
// provider supplies the wallet root for families that derive from it.
//
// The returned diagnostic, when non-nil, reports a fallback the caller may
// want to surface; it never accompanies an error.
func NewAccount(id AccountID, desc AccountDescriptor, store *SecretStore,
	cipher *snacl.CryptoKey,
	rootProvider RootProvider) (*Account, *ConstructionDiagnostic, error) {

	a := &Account{id: id, clk: clock.NewDefaultClock()}
	a.reset()

	switch d := desc.(type) {
	case LegacyAccount:
		if err := a.buildLegacy(d, store, cipher, rootProvider); err != nil {
			return nil, nil, err
		}

	case BIP32Account:
		if err := a.buildBIP32(d, nil, store, cipher); err != nil {
			return nil, nil, err
		}

	case SaltedBIP32Account:
		// The salt is validated before any sub-account is created so a
		// bad descriptor cannot leave a half-built aggregate.
		if len(d.Salt) != saltSize {
			return nil, nil, managerError(ErrInvalidSalt,
				fmt.Sprintf("invalid salt length %d",
					len(d.Salt)), nil)
		}
		if err := a.buildBIP32(d.BIP32Account, d.Salt, store, cipher); err != nil {
			return nil, nil, err
		}

	case ECDHAccount:
		if err := a.buildECDH(d, store, cipher); err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, managerError(ErrUnknownAccountType,
			fmt.Sprintf("unrecognized account descriptor %T", desc),
			nil)
	}

	if len(a.subOrder) == 0 {
		return nil, nil, managerError(ErrNoActiveSubAccount,
			"account construction yielded no sub-accounts", nil)
	}

	diag, err := a.applyPolicy(desc.Policy())
	if err != nil {
		return nil, nil, err
	}

	return a, diag, nil
}

// buildLegacy creates the single legacy chain.  The chain stores no root of
// its own; index 0 is derived eagerly from the wallet root here.
func (a *Account) buildLegacy(d LegacyAccount, store *SecretStore,
	cipher *snacl.CryptoKey, rootProvider RootProvider) error {

	if rootProvider == nil {
		return managerError(ErrMissingRoot,
			"legacy account requires a wallet root provider", nil)
	}
	root, err := rootProvider()
	if err != nil {
		return err
	}
	if root == nil {
		return managerError(ErrMissingRoot,
			"wallet root provider returned no root", nil)
	}

	legacyRoot, ok := root.(*LegacyRootAsset)
	if !ok {
		return managerError(ErrUnexpectedRootType, fmt.Sprintf(
			"legacy account requires a legacy root, got %T", root),
			nil)
	}

	chainCode := legacyRoot.ChainCode()
	scheme, err := NewLegacyScheme(chainCode[:])
	if err != nil {
		return err
	}

	sub := NewSubAccount(a.id, LegacySubAccountID, SubAccountPlain, nil,
		scheme)

	var entry *SingleKeyAsset
	if legacyRoot.WatchingOnly() || store == nil || cipher == nil {
		entry, err = scheme.ComputeNextPublicEntry(legacyRoot.PubKey(),
			a.id, LegacySubAccountID, 0)
	} else {
		var rootPriv []byte
		rootPriv, err = store.Decrypt(legacyRoot.EncryptedPriv())
		if err != nil {
			return err
		}
		entry, err = scheme.ComputeNextPrivateEntry(store, rootPriv,
			cipher, a.id, LegacySubAccountID, 0)
		zero.Bytes(rootPriv)
	}
	if err != nil {
		return err
	}

	sub.assets[0] = entry
	sub.lastComputedIndex = 0

	return a.addSubAccount(sub)
}

// buildBIP32 creates one sub-account per descriptor node.  A non-nil salt
// selects the salted derivation variant.  Each sub-account with private
// material gets its own copy of the cipher so its keys remain independently
// rotatable.
func (a *Account) buildBIP32(d BIP32Account, salt []byte, store *SecretStore,
	cipher *snacl.CryptoKey) error {

	for _, node := range d.Nodes {
		if node.Base58 == "" {
			return managerError(ErrSkippedPath, fmt.Sprintf(
				"derivation path of sub-account %x resolved to "+
					"an empty node", node.SubID[:]), nil)
		}

		extKey, err := hdkeychain.NewKeyFromString(node.Base58)
		if err != nil {
			return managerError(ErrCrypto, fmt.Sprintf(
				"malformed node for sub-account %x",
				node.SubID[:]), err)
		}

		pubKey, err := extKey.ECPubKey()
		if err != nil {
			return managerError(ErrCrypto,
				"failed to extract node public key", err)
		}

		var chainCode [32]byte
		if copy(chainCode[:], extKey.ChainCode()) != 32 {
			return managerError(ErrInvalidChaincode, fmt.Sprintf(
				"node of sub-account %x carries a short "+
					"chaincode", node.SubID[:]), nil)
		}

		var encPriv *EncryptedPrivateKey
		if extKey.IsPrivate() && store != nil && cipher != nil {
			privKey, err := extKey.ECPrivKey()
			if err != nil {
				return managerError(ErrCrypto,
					"failed to extract node private key",
					err)
			}

			subCipher := cipher.Copy()
			encPriv, err = store.Encrypt(subCipher,
				NewAssetID(a.id, node.SubID, RootKeyIndex),
				privKey.Serialize())
			subCipher.Zero()
			privKey.Zero()
			if err != nil {
				return err
			}
		}

		root := NewBIP32RootAsset(a.id, node.SubID,
			pubKey.SerializeCompressed(), encPriv, chainCode,
			extKey.Depth(), extKey.ChildIndex(),
			extKey.ParentFingerprint(), d.SeedFingerprint,
			node.Path)

		var scheme DerivationScheme
		if salt != nil {
			scheme, err = NewSaltedBIP32Scheme(salt, chainCode[:],
				extKey.Depth(), extKey.ChildIndex())
		} else {
			scheme, err = NewBIP32Scheme(chainCode[:],
				extKey.Depth(), extKey.ChildIndex())
		}
		if err != nil {
			return err
		}

		sub := NewSubAccount(a.id, node.SubID, SubAccountPlain, root,
			scheme)
		if err := a.addSubAccount(sub); err != nil {
			return err
		}
	}

	return nil
}

// buildECDH creates the single static-key sub-account.  When only a private
// key is supplied the public key is computed from it.
func (a *Account) buildECDH(d ECDHAccount, store *SecretStore,
	cipher *snacl.CryptoKey) error {

	pubBytes := d.PubKey
	var encPriv *EncryptedPrivateKey

	if len(d.PrivKey) > 0 {
		if len(d.PrivKey) != 32 {
			return managerError(ErrCrypto, fmt.Sprintf(
				"invalid private key length %d",
				len(d.PrivKey)), nil)
		}
		privKey := secp256k1.PrivKeyFromBytes(d.PrivKey)
		if len(pubBytes) == 0 {
			pubBytes = privKey.PubKey().SerializeCompressed()
		}

		if store != nil && cipher != nil {
			var err error
			encPriv, err = store.Encrypt(cipher,
				NewAssetID(a.id, d.SubID, RootKeyIndex),
				privKey.Serialize())
			privKey.Zero()
			if err != nil {
				return err
			}
		} else {
			privKey.Zero()
		}
	}

	if len(pubBytes) == 0 {
		return managerError(ErrMissingRoot,
			"ecdh account requires a public or private key", nil)
	}
	if _, err := secp256k1.ParsePubKey(pubBytes); err != nil {
		return managerError(ErrCrypto, "invalid ecdh public key", err)
	}

	root := NewSingleKeyAsset(a.id, d.SubID, -1, pubBytes, encPriv)
	sub := NewSubAccount(a.id, d.SubID, SubAccountECDH, root,
		NewECDHScheme())

	return a.addSubAccount(sub)
}

// applyPolicy fixes the address-type policy and the outer/inner designators
// from the descriptor, returning a diagnostic when the outer chain had to be
// picked by fallback.
func (a *Account) applyPolicy(p AccountPolicy) (*ConstructionDiagnostic, error) {
	if len(p.AddressTypes) == 0 {
		return nil, managerError(ErrTypeNotPermitted,
			"account permits no address types", nil)
	}
	for _, t := range p.AddressTypes {
		if !t.valid() {
			return nil, managerError(ErrTypeNotPermitted,
				fmt.Sprintf("invalid permitted address type %v",
					t), nil)
		}
	}
	a.addressTypes = append([]AddressType(nil), p.AddressTypes...)

	a.defaultType = p.DefaultType
	if a.defaultType == AddressTypeDefault {
		a.defaultType = a.addressTypes[0]
	}
	if !a.hasAddressType(a.defaultType) {
		return nil, managerError(ErrTypeNotPermitted, fmt.Sprintf(
			"default address type %v is not permitted",
			a.defaultType), nil)
	}

	var diag *ConstructionDiagnostic
	if p.Outer != nil {
		if _, ok := a.subAccounts[*p.Outer]; !ok {
			return nil, managerError(ErrSubAccountNotFound,
				fmt.Sprintf("outer sub-account %x does not "+
					"exist", (*p.Outer)[:]), nil)
		}
		a.outerID, a.hasOuter = *p.Outer, true
	} else {
		a.outerID, a.hasOuter = a.subOrder[0], true
		diag = &ConstructionDiagnostic{
			FallbackOuter: true,
			OuterID:       a.outerID,
		}
	}

	if p.Inner != nil {
		if _, ok := a.subAccounts[*p.Inner]; !ok {
			return nil, managerError(ErrSubAccountNotFound,
				fmt.Sprintf("inner sub-account %x does not "+
					"exist", (*p.Inner)[:]), nil)
		}
		a.innerID, a.hasInner = *p.Inner, true
	}

	return diag, nil
}

// reset clears every collection back to empty.  Callers must hold the lock
// or own the instance exclusively.
func (a *Account) reset() {
	a.subAccounts = make(map[SubAccountID]*SubAccount)
	a.subOrder = nil
	a.addressTypes = nil
	a.defaultType = AddressTypeDefault
	a.hasOuter, a.hasInner = false, false
	a.typeOverrides = make(map[AssetID]AddressType)
	a.addressHashes = make(map[string]addressRef)
	a.topHashedIndex = make(map[SubAccountID]int64)
}

// Reset discards every sub-account, policy setting and cached lookup so the
// aggregate can be repopulated from scratch.  The account identifier is
// retained.
func (a *Account) Reset() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.reset()
}

// ID returns the account identifier.
func (a *Account) ID() AccountID {
	return a.id
}

// SetClock swaps the source of snapshot timestamps, primarily for tests.
func (a *Account) SetClock(clk clock.Clock) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.clk = clk
}

// AddSubAccount registers a fully-formed sub-account under its local ID.
func (a *Account) AddSubAccount(sub *SubAccount) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.addSubAccount(sub)
}

func (a *Account) addSubAccount(sub *SubAccount) error {
	if sub.AccountID() != a.id {
		return managerError(ErrIDMismatch, fmt.Sprintf(
			"sub-account belongs to account %x, not %x",
			sub.AccountID(), a.id), nil)
	}
	if _, ok := a.subAccounts[sub.ID()]; ok {
		return managerError(ErrDuplicateSubAccount, fmt.Sprintf(
			"sub-account %x already registered", sub.ID()), nil)
	}

	a.subAccounts[sub.ID()] = sub
	a.subOrder = append(a.subOrder, sub.ID())
	a.topHashedIndex[sub.ID()] = -1

	return nil
}

// SubAccount returns the sub-account registered under the given local ID.
func (a *Account) SubAccount(id SubAccountID) (*SubAccount, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.subAccount(id)
}

func (a *Account) subAccount(id SubAccountID) (*SubAccount, error) {
	sub, ok := a.subAccounts[id]
	if !ok {
		return nil, managerError(ErrSubAccountNotFound, fmt.Sprintf(
			"unknown sub-account %x", id[:]), nil)
	}
	return sub, nil
}

// SubAccountIDs returns the local IDs of all sub-accounts in registration
// order.
func (a *Account) SubAccountIDs() []SubAccountID {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return append([]SubAccountID(nil), a.subOrder...)
}

// OuterSubAccountID returns the receiving chain designator.
func (a *Account) OuterSubAccountID() (SubAccountID, bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.outerID, a.hasOuter
}

// InnerSubAccountID returns the change chain designator.
func (a *Account) InnerSubAccountID() (SubAccountID, bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.innerID, a.hasInner
}

// AddressTypes returns the permitted presentation types.
func (a *Account) AddressTypes() []AddressType {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return append([]AddressType(nil), a.addressTypes...)
}

// DefaultAddressType returns the presentation type used when a caller does
// not request one.
func (a *Account) DefaultAddressType() AddressType {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.defaultType
}

// HasAddressType reports whether the presentation type is permitted for this
// account.
func (a *Account) HasAddressType(t AddressType) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.hasAddressType(t)
}

func (a *Account) hasAddressType(t AddressType) bool {
	for _, permitted := range a.addressTypes {
		if permitted == t {
			return true
		}
	}
	return false
}

// WatchingOnly reports whether no sub-account carries private key material.
func (a *Account) WatchingOnly() bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	for _, id := range a.subOrder {
		if !a.subAccounts[id].WatchingOnly() {
			return false
		}
	}
	return true
}

// ExtendPublicChain grows every sub-account's computed chain by count more
// entries.
func (a *Account) ExtendPublicChain(ns walletdb.ReadWriteBucket,
	count uint32) error {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	for _, id := range a.subOrder {
		if err := a.subAccounts[id].ExtendPublicChain(ns, count); err != nil {
			return err
		}
	}
	return nil
}

// ExtendPublicChainToIndex grows one sub-account's computed chain to the
// target index.
func (a *Account) ExtendPublicChainToIndex(ns walletdb.ReadWriteBucket,
	subID SubAccountID, index uint32) error {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	sub, err := a.subAccount(subID)
	if err != nil {
		return err
	}
	return sub.ExtendPublicChainToIndex(ns, index)
}

// ExtendPrivateChain grows every sub-account's private chain by count more
// entries through the unlocked store.
func (a *Account) ExtendPrivateChain(ns walletdb.ReadWriteBucket,
	store *SecretStore, count uint32) error {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	for _, id := range a.subOrder {
		err := a.subAccounts[id].ExtendPrivateChain(ns, store, nil,
			count)
		if err != nil {
			return err
		}
	}
	return nil
}

// ExtendPrivateChainToIndex grows one sub-account's private chain to the
// target index through the unlocked store.
func (a *Account) ExtendPrivateChainToIndex(ns walletdb.ReadWriteBucket,
	store *SecretStore, subID SubAccountID, index uint32) error {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	sub, err := a.subAccount(subID)
	if err != nil {
		return err
	}
	return sub.ExtendPrivateChainToIndex(ns, store, nil, index)
}

// NewAddress derives the next receiving address, presented under the
// requested type or the account default when the sentinel is passed.  An
// explicit type differing from the default is persisted as an override
// record.
func (a *Account) NewAddress(ns walletdb.ReadWriteBucket,
	addrType AddressType) (*Address, error) {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if !a.hasOuter {
		return nil, managerError(ErrNoActiveSubAccount,
			"account has no outer chain configured", nil)
	}
	return a.newAddress(ns, a.outerID, addrType)
}

// NewChangeAddress derives the next change address from the inner chain.
func (a *Account) NewChangeAddress(ns walletdb.ReadWriteBucket,
	addrType AddressType) (*Address, error) {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if !a.hasInner {
		return nil, managerError(ErrNoActiveSubAccount,
			"account has no inner chain configured", nil)
	}
	return a.newAddress(ns, a.innerID, addrType)
}

func (a *Account) newAddress(ns walletdb.ReadWriteBucket, subID SubAccountID,
	addrType AddressType) (*Address, error) {

	if addrType == AddressTypeDefault {
		addrType = a.defaultType
	}
	if !a.hasAddressType(addrType) {
		return nil, managerError(ErrTypeNotPermitted, fmt.Sprintf(
			"address type %v is not permitted for this account",
			addrType), nil)
	}

	sub, err := a.subAccount(subID)
	if err != nil {
		return nil, err
	}

	entry, err := sub.NextAsset(ns)
	if err != nil {
		return nil, err
	}

	addr, err := newAddress(entry, addrType)
	if err != nil {
		return nil, err
	}

	// Only deviations from the default type leave a record; default-typed
	// addresses are inferred by absence.
	if addrType != a.defaultType {
		a.typeOverrides[entry.AssetID()] = addrType
		if ns != nil {
			err := putAddressTypeOverride(ns, entry.AssetID(),
				addrType)
			if err != nil {
				return nil, err
			}
		}
	}

	return addr, nil
}

// PeekNextChangeAddress previews the address NewChangeAddress would return
// without moving watermarks or writing overrides.
func (a *Account) PeekNextChangeAddress(addrType AddressType) (*Address, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if !a.hasInner {
		return nil, managerError(ErrNoActiveSubAccount,
			"account has no inner chain configured", nil)
	}

	if addrType == AddressTypeDefault {
		addrType = a.defaultType
	}
	if !a.hasAddressType(addrType) {
		return nil, managerError(ErrTypeNotPermitted, fmt.Sprintf(
			"address type %v is not permitted for this account",
			addrType), nil)
	}

	sub, err := a.subAccount(a.innerID)
	if err != nil {
		return nil, err
	}
	entry, err := sub.PeekNextAsset()
	if err != nil {
		return nil, err
	}

	return newAddress(entry, addrType)
}

// SetAddressType records an explicit presentation type for an asset.
// Setting the default type, or the sentinel, removes any existing override
// record instead.
func (a *Account) SetAddressType(ns walletdb.ReadWriteBucket, id AssetID,
	addrType AddressType) error {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if addrType == AddressTypeDefault || addrType == a.defaultType {
		delete(a.typeOverrides, id)
		if ns != nil {
			return deleteAddressTypeOverride(ns, id)
		}
		return nil
	}

	if !a.hasAddressType(addrType) {
		return managerError(ErrTypeNotPermitted, fmt.Sprintf(
			"address type %v is not permitted for this account",
			addrType), nil)
	}

	a.typeOverrides[id] = addrType
	if ns != nil {
		return putAddressTypeOverride(ns, id, addrType)
	}
	return nil
}

// AddressType returns the presentation type an asset resolves to: its
// explicit override if one exists, the account default otherwise.
func (a *Account) AddressType(id AssetID) AddressType {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.addressType(id)
}

func (a *Account) addressType(id AssetID) AddressType {
	if t, ok := a.typeOverrides[id]; ok {
		return t
	}
	return a.defaultType
}

// updateAddressHashMap appends to the address-hash cache every entry newer
// than each sub-account's hashed watermark.  Repeat calls only pay for new
// entries.
func (a *Account) updateAddressHashMap() error {
	for _, subID := range a.subOrder {
		sub := a.subAccounts[subID]
		top := a.topHashedIndex[subID]

		for i := top + 1; i <= sub.LastComputedIndex(); i++ {
			entry, err := sub.AssetForIndex(uint32(i))
			if err != nil {
				return err
			}
			for _, t := range a.addressTypes {
				hash := prefixedAddressHash(t, entry.PubKey())
				a.addressHashes[string(hash)] = addressRef{
					id:       entry.AssetID(),
					addrType: t,
				}
			}
		}
		a.topHashedIndex[subID] = sub.LastComputedIndex()
	}
	return nil
}

// AssetIDForHash resolves a fully-typed address hash to the asset behind it
// and the presentation type that produced the hash.
func (a *Account) AssetIDForHash(prefixedHash []byte) (AssetID, AddressType, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.assetIDForHash(prefixedHash)
}

func (a *Account) assetIDForHash(prefixedHash []byte) (AssetID, AddressType, error) {
	if err := a.updateAddressHashMap(); err != nil {
		return AssetID{}, AddressTypeDefault, err
	}

	ref, ok := a.addressHashes[string(prefixedHash)]
	if !ok {
		return AssetID{}, AddressTypeDefault, managerError(
			ErrAddressNotFound, fmt.Sprintf(
				"no asset known for address hash %x",
				prefixedHash), nil)
	}
	return ref.id, ref.addrType, nil
}

// AssetIDForUnprefixedHash resolves an address hash lacking its presentation
// prefix byte by retrying across every distinct prefix implied by the
// permitted type set, in that set's order, returning the first match.
func (a *Account) AssetIDForUnprefixedHash(hash []byte) (AssetID, AddressType, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	tried := make(map[byte]struct{}, len(a.addressTypes))
	candidate := make([]byte, 0, len(hash)+1)
	for _, t := range a.addressTypes {
		prefix := t.PrefixByte()
		if _, ok := tried[prefix]; ok {
			continue
		}
		tried[prefix] = struct{}{}

		candidate = append(candidate[:0], prefix)
		candidate = append(candidate, hash...)
		id, addrType, err := a.assetIDForHash(candidate)
		if err == nil {
			return id, addrType, nil
		}
		if !IsError(err, ErrAddressNotFound) {
			return AssetID{}, AddressTypeDefault, err
		}
	}

	return AssetID{}, AddressTypeDefault, managerError(ErrAddressNotFound,
		fmt.Sprintf("no asset known for unprefixed hash %x", hash),
		nil)
}

// AddressEntryByID resolves a full address composite ID into a typed address
// handle.  Indices beyond the owning sub-account's used watermark fail with
// the unrequested-address condition, since handing them out would permit
// address use outside the sanctioned range.
func (a *Account) AddressEntryByID(id AssetID) (*Address, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if id.AccountID() != a.id {
		return nil, managerError(ErrIDMismatch, fmt.Sprintf(
			"asset %x does not belong to account %x", id[:],
			a.id[:]), nil)
	}

	sub, err := a.subAccount(id.SubAccountID())
	if err != nil {
		return nil, err
	}

	if int64(id.Index()) > sub.HighestUsedIndex() {
		return nil, managerError(ErrUnrequestedAddress, fmt.Sprintf(
			"address index %d exceeds highest used index %d",
			id.Index(), sub.HighestUsedIndex()), nil)
	}

	entry, err := sub.AssetForIndex(id.Index())
	if err != nil {
		return nil, err
	}

	return newAddress(entry, a.addressType(id))
}

// AssetForID resolves an asset by its fully qualified identifier.  The
// reserved root index resolves to the owning sub-account's root.
func (a *Account) AssetForID(id AssetID) (AssetEntry, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if id.AccountID() != a.id {
		return nil, managerError(ErrIDMismatch, fmt.Sprintf(
			"asset %x does not belong to account %x", id[:],
			a.id[:]), nil)
	}

	sub, err := a.subAccount(id.SubAccountID())
	if err != nil {
		return nil, err
	}
	return sub.AssetForID(id[AccountIDSize+SubAccountIDSize:])
}

// AssetForIndex resolves an asset by raw index on the outer or inner chain.
func (a *Account) AssetForIndex(index uint32, outer bool) (AssetEntry, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	var subID SubAccountID
	switch {
	case outer && a.hasOuter:
		subID = a.outerID
	case !outer && a.hasInner:
		subID = a.innerID
	default:
		return nil, managerError(ErrNoActiveSubAccount,
			"requested chain designator is unset", nil)
	}

	sub, err := a.subAccount(subID)
	if err != nil {
		return nil, err
	}
	return sub.AssetForIndex(index)
}

// UsedAddresses returns a typed address handle for every index handed out so
// far, across all sub-accounts, keyed by asset ID.
func (a *Account) UsedAddresses() (map[AssetID]*Address, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	used := make(map[AssetID]*Address)
	for _, subID := range a.subOrder {
		sub := a.subAccounts[subID]
		for i := int64(0); i <= sub.HighestUsedIndex(); i++ {
			entry, err := sub.AssetForIndex(uint32(i))
			if err != nil {
				return nil, err
			}
			addr, err := newAddress(entry,
				a.addressType(entry.AssetID()))
			if err != nil {
				return nil, err
			}
			used[entry.AssetID()] = addr
		}
	}
	return used, nil
}

// MarkUsed records an index as handed out on the owning sub-account,
// monotonically.
func (a *Account) MarkUsed(ns walletdb.ReadWriteBucket, id AssetID) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if id.AccountID() != a.id {
		return managerError(ErrIDMismatch, fmt.Sprintf(
			"asset %x does not belong to account %x", id[:],
			a.id[:]), nil)
	}

	sub, err := a.subAccount(id.SubAccountID())
	if err != nil {
		return err
	}
	return sub.MarkUsed(ns, id.Index())
}

// FillPrivateKey decrypts and returns the private key material of the asset
// with the given identifier.  The caller owns the returned bytes and must
// zero them.
func (a *Account) FillPrivateKey(store *SecretStore, id AssetID) ([]byte, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if id.AccountID() != a.id {
		return nil, managerError(ErrIDMismatch, fmt.Sprintf(
			"asset %x does not belong to account %x", id[:],
			a.id[:]), nil)
	}

	sub, err := a.subAccount(id.SubAccountID())
	if err != nil {
		return nil, err
	}
	return sub.FillPrivateKey(store, id)
}

// HasBIP32Path reports whether any owned sub-account's root derivation path
// is a prefix of the candidate path under the same seed.
func (a *Account) HasBIP32Path(p BIP32AssetPath) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	for _, subID := range a.subOrder {
		root, ok := a.subAccounts[subID].Root().(*BIP32RootAsset)
		if !ok {
			continue
		}

		if root.SeedFingerprint() != p.SeedFingerprint {
			return false
		}
		if pathIsPrefix(root.DerivationPath(), p.Path) {
			return true
		}
	}
	return false
}

// BIP32RootForAssetID returns the BIP32 root of the sub-account owning the
// given asset.
func (a *Account) BIP32RootForAssetID(id AssetID) (*BIP32RootAsset, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	sub, err := a.subAccount(id.SubAccountID())
	if err != nil {
		return nil, err
	}

	root, ok := sub.Root().(*BIP32RootAsset)
	if !ok {
		return nil, managerError(ErrUnexpectedRootType, fmt.Sprintf(
			"sub-account %x root is %T, not a bip32 root",
			id.SubAccountID(), sub.Root()), nil)
	}
	return root, nil
}

// Commit serializes the aggregate header, every sub-account and every
// non-default address-type override into the given namespace.  The caller
// scopes the enclosing transaction.
func (a *Account) Commit(ns walletdb.ReadWriteBucket) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if err := putAccountHeader(ns, a); err != nil {
		return err
	}
	for _, subID := range a.subOrder {
		if err := putSubAccount(ns, a.subAccounts[subID]); err != nil {
			return err
		}
	}
	for id, t := range a.typeOverrides {
		if err := putAddressTypeOverride(ns, id, t); err != nil {
			return err
		}
	}

	return nil
}
