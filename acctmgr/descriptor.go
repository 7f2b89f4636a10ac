package acctmgr

// RootProvider supplies the wallet's top-level root asset during account
// construction.  It is only invoked by account families that derive from the
// wallet root rather than from descriptor-supplied nodes.
type RootProvider func() (AssetEntry, error)

// LegacySubAccountID is the fixed sub-account identifier of the single chain
// a legacy account owns.
var LegacySubAccountID = SubAccountID{0x00, 0x00, 0x00, 0x00}

// AccountPolicy carries the address-presentation policy and the chain
// designators shared by every account descriptor.
type AccountPolicy struct {
	// AddressTypes is the set of permitted presentation types.
	AddressTypes []AddressType

	// DefaultType is the presentation type used when a caller does not
	// request one explicitly.  Left at the sentinel value it resolves to
	// the first permitted type.
	DefaultType AddressType

	// Outer designates the receiving chain.  When nil, the first
	// registered sub-account is used and a construction diagnostic is
	// returned.
	Outer *SubAccountID

	// Inner designates the change chain.  It may be nil, in which case
	// change address requests fail.
	Inner *SubAccountID
}

// AccountDescriptor describes how to construct an account aggregate.  It is
// a closed set; the concrete types below are the only implementations.
type AccountDescriptor interface {
	// Policy returns the descriptor's address-type policy and chain
	// designators.
	Policy() AccountPolicy

	accountDescriptor()
}

// LegacyAccount describes an account with a single linear chain derived from
// the wallet root's chaincode.  The chain stores no root asset of its own;
// index 0 is computed eagerly from the wallet root at construction.
type LegacyAccount struct {
	AccountPolicy
}

// Policy returns the descriptor's address-type policy.
func (d LegacyAccount) Policy() AccountPolicy { return d.AccountPolicy }

func (LegacyAccount) accountDescriptor() {}

// BIP32Node is one resolved derivation path in a BIP32 account descriptor:
// the base58 node that becomes a dedicated sub-account root, the local ID
// the sub-account is registered under, and the path from the seed to the
// node.
type BIP32Node struct {
	SubID  SubAccountID
	Base58 string
	Path   []uint32
}

// BIP32Account describes an account with one sub-account per resolved
// derivation path, each owning its own root node.
type BIP32Account struct {
	AccountPolicy

	// SeedFingerprint identifies the wallet seed the nodes were derived
	// from, used to answer path membership queries.
	SeedFingerprint uint32

	Nodes []BIP32Node
}

// Policy returns the descriptor's address-type policy.
func (d BIP32Account) Policy() AccountPolicy { return d.AccountPolicy }

func (BIP32Account) accountDescriptor() {}

// SaltedBIP32Account is a BIP32 account whose per-index derivation folds a
// 32-byte salt into every derived key.
type SaltedBIP32Account struct {
	BIP32Account

	Salt []byte
}

func (SaltedBIP32Account) accountDescriptor() {}

// ECDHAccount describes an account built around a single static key pair
// rather than an index-addressed chain.  When only the private key is
// supplied the public key is computed from it.
type ECDHAccount struct {
	AccountPolicy

	SubID   SubAccountID
	PubKey  []byte
	PrivKey []byte
}

// Policy returns the descriptor's address-type policy.
func (d ECDHAccount) Policy() AccountPolicy { return d.AccountPolicy }

func (ECDHAccount) accountDescriptor() {}

// BIP32AssetPath is a candidate derivation branch for path membership
// queries: a seed fingerprint together with the path from that seed.
type BIP32AssetPath struct {
	SeedFingerprint uint32
	Path            []uint32
}
