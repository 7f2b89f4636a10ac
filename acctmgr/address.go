package acctmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// AddressType identifies how an asset's public key is presented as an
// address.  The values are stable since they are committed to disk.
type AddressType uint32

const (
	// AddressTypeDefault is a sentinel that resolves to the account's
	// default presentation type.  It is never stored.
	AddressTypeDefault AddressType = 0

	// AddressTypeP2PKH is a pay-to-pubkey-hash presentation.
	AddressTypeP2PKH AddressType = 1

	// AddressTypeNestedP2WPKH is a pay-to-witness-pubkey-hash presentation
	// nested in a script hash.
	AddressTypeNestedP2WPKH AddressType = 2

	// AddressTypeP2WPKH is a native pay-to-witness-pubkey-hash
	// presentation.
	AddressTypeP2WPKH AddressType = 3
)

// PrefixByte returns the byte tagging address hashes of this type in the
// fully-typed hash space.  Distinct types may share a prefix when their hash
// payloads live in the same namespace.
func (t AddressType) PrefixByte() byte {
	switch t {
	case AddressTypeP2PKH:
		return 0x00
	case AddressTypeNestedP2WPKH:
		return 0x05
	case AddressTypeP2WPKH:
		return 0x90
	}
	return 0xff
}

// valid reports whether the type is a concrete, storable presentation type.
func (t AddressType) valid() bool {
	switch t {
	case AddressTypeP2PKH, AddressTypeNestedP2WPKH, AddressTypeP2WPKH:
		return true
	}
	return false
}

// String returns a human-readable presentation type name.
func (t AddressType) String() string {
	switch t {
	case AddressTypeDefault:
		return "default"
	case AddressTypeP2PKH:
		return "p2pkh"
	case AddressTypeNestedP2WPKH:
		return "p2sh-p2wpkh"
	case AddressTypeP2WPKH:
		return "p2wpkh"
	}
	return fmt.Sprintf("unknown (%d)", uint32(t))
}

// addressHash computes the unprefixed address hash of a public key for the
// given presentation type.
func addressHash(t AddressType, pubKey []byte) []byte {
	switch t {
	case AddressTypeNestedP2WPKH:
		witnessProg := btcutil.Hash160(pubKey)
		script := make([]byte, 0, len(witnessProg)+2)
		script = append(script, 0x00, 0x14)
		script = append(script, witnessProg...)
		return btcutil.Hash160(script)

	default:
		return btcutil.Hash160(pubKey)
	}
}

// prefixedAddressHash computes the fully-typed address hash: the type's
// prefix byte followed by the unprefixed hash.
func prefixedAddressHash(t AddressType, pubKey []byte) []byte {
	hash := addressHash(t, pubKey)
	prefixed := make([]byte, 0, len(hash)+1)
	prefixed = append(prefixed, t.PrefixByte())
	prefixed = append(prefixed, hash...)
	return prefixed
}

// Address is the user-facing handle for a derived asset presented under a
// specific address type.
type Address struct {
	entry    AssetEntry
	addrType AddressType
}

// newAddress wraps an asset entry in a presentation-typed handle.  The type
// must be concrete; sentinel resolution is the caller's concern.
func newAddress(entry AssetEntry, addrType AddressType) (*Address, error) {
	if !addrType.valid() {
		return nil, managerError(ErrTypeNotPermitted, fmt.Sprintf(
			"cannot instantiate address with type %v", addrType),
			nil)
	}

	return &Address{entry: entry, addrType: addrType}, nil
}

// AssetID returns the fully qualified identifier of the underlying asset.
func (a *Address) AssetID() AssetID {
	return a.entry.AssetID()
}

// Type returns the presentation type of the address.
func (a *Address) Type() AddressType {
	return a.addrType
}

// PubKey returns the underlying asset's serialized public key.
func (a *Address) PubKey() []byte {
	return a.entry.PubKey()
}

// Hash returns the unprefixed address hash.
func (a *Address) Hash() []byte {
	return addressHash(a.addrType, a.entry.PubKey())
}

// PrefixedHash returns the fully-typed address hash, tagged with the
// presentation type's prefix byte.
func (a *Address) PrefixedHash() []byte {
	return prefixedAddressHash(a.addrType, a.entry.PubKey())
}

// Encode returns the base58-check string presentation of the address.
func (a *Address) Encode() string {
	return base58.CheckEncode(a.Hash(), a.addrType.PrefixByte())
}

// WatchingOnly reports whether the underlying asset carries no private key
// material.
func (a *Address) WatchingOnly() bool {
	return a.entry.WatchingOnly()
}

// Entry returns the underlying asset entry.
func (a *Address) Entry() AssetEntry {
	return a.entry
}
