package acctmgr

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/halcyonsuite/halwallet/internal/zero"
	"github.com/halcyonsuite/halwallet/snacl"
)

// Scheme type tags as committed to disk.
const (
	schemeTagLegacy byte = 0x01
	schemeTagBIP32  byte = 0x02
	schemeTagSalted byte = 0x03
	schemeTagECDH   byte = 0x04
)

// saltSize is the exact byte length required of the salt mixed into salted
// BIP32 derivation.
const saltSize = 32

// DerivationScheme deterministically produces a sub-account's Nth asset from
// the chain's root or previous entry.  Implementations are stateless between
// calls; all chain bookkeeping lives in the sub-account.
type DerivationScheme interface {
	// ComputeNextPublicEntry derives the public-only entry at the given
	// index from parent public key material.
	ComputeNextPublicEntry(parentPub []byte, acct AccountID,
		sub SubAccountID, index uint32) (*SingleKeyAsset, error)

	// ComputeNextPrivateEntry derives the entry at the given index from
	// parent private key material, sealing the resulting private key
	// through the store under the supplied cipher.
	ComputeNextPrivateEntry(store *SecretStore, parentPriv []byte,
		cipher *snacl.CryptoKey, acct AccountID, sub SubAccountID,
		index uint32) (*SingleKeyAsset, error)

	// Chained reports whether derivation feeds on the previous entry's
	// key material rather than the chain root's.
	Chained() bool

	// Serialize returns the scheme in its on-disk form.
	Serialize() []byte
}

// sealPrivateEntry builds a leaf entry holding both the public key and the
// sealed private key, wiping the plaintext private bytes.
func sealPrivateEntry(store *SecretStore, cipher *snacl.CryptoKey,
	acct AccountID, sub SubAccountID, index uint32, privBytes,
	pubBytes []byte) (*SingleKeyAsset, error) {

	keyID := NewAssetID(acct, sub, index)
	encPriv, err := store.Encrypt(cipher, keyID, privBytes)
	zero.Bytes(privBytes)
	if err != nil {
		return nil, err
	}

	return NewSingleKeyAsset(acct, sub, int64(index), pubBytes,
		encPriv), nil
}

// LegacyScheme implements the linear, non-hierarchical chaincode derivation
// used by legacy chains.  Each entry is derived from the previous one by
// multiplying the key with a tweak computed from the chaincode and the
// parent public key; there are no BIP32 path semantics.
type LegacyScheme struct {
	chainCode [32]byte
}

// NewLegacyScheme returns a legacy linear derivation scheme for the given
// chaincode.
func NewLegacyScheme(chainCode []byte) (*LegacyScheme, error) {
	var scheme LegacyScheme
	if len(chainCode) != 32 {
		return nil, managerError(ErrInvalidChaincode, fmt.Sprintf(
			"invalid chaincode length %d", len(chainCode)), nil)
	}
	copy(scheme.chainCode[:], chainCode)
	return &scheme, nil
}

// legacyTweak computes the scalar folding the chaincode into the parent
// public key: chaincode XOR double-SHA256 of the uncompressed parent key.
func (s *LegacyScheme) legacyTweak(parentPub []byte) (*secp256k1.ModNScalar, error) {
	pubKey, err := secp256k1.ParsePubKey(parentPub)
	if err != nil {
		return nil, managerError(ErrCrypto, "invalid parent public key",
			err)
	}

	first := sha256.Sum256(pubKey.SerializeUncompressed())
	second := sha256.Sum256(first[:])

	var tweakBytes [32]byte
	for i := range tweakBytes {
		tweakBytes[i] = s.chainCode[i] ^ second[i]
	}

	var tweak secp256k1.ModNScalar
	tweak.SetBytes(&tweakBytes)
	zero.Bytea32(&tweakBytes)
	if tweak.IsZero() {
		return nil, managerError(ErrCrypto,
			"degenerate legacy derivation tweak", nil)
	}

	return &tweak, nil
}

// ComputeNextPublicEntry multiplies the parent public point by the chain
// tweak.  The index only labels the resulting entry; the chain position is
// implied by the parent.
func (s *LegacyScheme) ComputeNextPublicEntry(parentPub []byte,
	acct AccountID, sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	tweak, err := s.legacyTweak(parentPub)
	if err != nil {
		return nil, err
	}

	pubKey, err := secp256k1.ParsePubKey(parentPub)
	if err != nil {
		return nil, managerError(ErrCrypto, "invalid parent public key",
			err)
	}

	var parentPoint, childPoint secp256k1.JacobianPoint
	pubKey.AsJacobian(&parentPoint)
	secp256k1.ScalarMultNonConst(tweak, &parentPoint, &childPoint)
	if childPoint.Z.IsZero() {
		return nil, managerError(ErrCrypto,
			"legacy derivation produced point at infinity", nil)
	}
	childPoint.ToAffine()

	childPub := secp256k1.NewPublicKey(&childPoint.X, &childPoint.Y)
	return NewSingleKeyAsset(acct, sub, int64(index),
		childPub.SerializeCompressed(), nil), nil
}

// ComputeNextPrivateEntry multiplies the parent private scalar by the chain
// tweak and seals the result.
func (s *LegacyScheme) ComputeNextPrivateEntry(store *SecretStore,
	parentPriv []byte, cipher *snacl.CryptoKey, acct AccountID,
	sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	if len(parentPriv) != 32 {
		return nil, managerError(ErrCrypto, fmt.Sprintf(
			"invalid parent private key length %d",
			len(parentPriv)), nil)
	}

	parentKey := secp256k1.PrivKeyFromBytes(parentPriv)
	defer parentKey.Zero()

	tweak, err := s.legacyTweak(parentKey.PubKey().SerializeCompressed())
	if err != nil {
		return nil, err
	}

	var childScalar secp256k1.ModNScalar
	childScalar.Set(&parentKey.Key)
	childScalar.Mul(tweak)
	if childScalar.IsZero() {
		return nil, managerError(ErrCrypto,
			"legacy derivation produced zero private key", nil)
	}

	childKey := secp256k1.NewPrivateKey(&childScalar)
	defer childKey.Zero()
	childScalar.Zero()

	return sealPrivateEntry(store, cipher, acct, sub, index,
		childKey.Serialize(), childKey.PubKey().SerializeCompressed())
}

// Chained reports that legacy derivation feeds on the previous entry.
func (s *LegacyScheme) Chained() bool { return true }

// Serialize returns the scheme in its on-disk form.
func (s *LegacyScheme) Serialize() []byte {
	out := make([]byte, 0, 1+32)
	out = append(out, schemeTagLegacy)
	out = append(out, s.chainCode[:]...)
	return out
}

// BIP32Scheme implements standard hierarchical child derivation from a
// chaincode plus the root node's depth and leaf metadata.
type BIP32Scheme struct {
	chainCode [32]byte
	depth     uint8
	leafID    uint32
}

// NewBIP32Scheme returns a hierarchical derivation scheme for a root node
// with the given chaincode, depth and child number.
func NewBIP32Scheme(chainCode []byte, depth uint8, leafID uint32) (*BIP32Scheme, error) {
	var scheme BIP32Scheme
	if len(chainCode) != 32 {
		return nil, managerError(ErrInvalidChaincode, fmt.Sprintf(
			"invalid chaincode length %d", len(chainCode)), nil)
	}
	copy(scheme.chainCode[:], chainCode)
	scheme.depth = depth
	scheme.leafID = leafID
	return &scheme, nil
}

// node rebuilds the root extended key from the scheme metadata and the
// parent key material.
func (s *BIP32Scheme) node(key []byte, private bool) *hdkeychain.ExtendedKey {
	version := chaincfg.MainNetParams.HDPublicKeyID[:]
	if private {
		version = chaincfg.MainNetParams.HDPrivateKeyID[:]
	}

	// The parent fingerprint only matters for rendering the node in its
	// base58 form, not for child derivation.
	return hdkeychain.NewExtendedKey(version, key, s.chainCode[:],
		[]byte{0, 0, 0, 0}, s.depth, s.leafID, private)
}

// deriveChild derives the child at index from the rebuilt root node.
func (s *BIP32Scheme) deriveChild(key []byte, private bool,
	index uint32) (*hdkeychain.ExtendedKey, error) {

	childKey, err := s.node(key, private).Derive(index)
	if err != nil {
		return nil, managerError(ErrCrypto, fmt.Sprintf(
			"failed to derive child %d", index), err)
	}
	return childKey, nil
}

// ComputeNextPublicEntry derives the child public key at the given index
// from the chain root's public key.
func (s *BIP32Scheme) ComputeNextPublicEntry(parentPub []byte,
	acct AccountID, sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	childKey, err := s.deriveChild(parentPub, false, index)
	if err != nil {
		return nil, err
	}

	childPub, err := childKey.ECPubKey()
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to extract child public key", err)
	}

	return NewSingleKeyAsset(acct, sub, int64(index),
		childPub.SerializeCompressed(), nil), nil
}

// ComputeNextPrivateEntry derives the child key pair at the given index from
// the chain root's private key and seals the private half.
func (s *BIP32Scheme) ComputeNextPrivateEntry(store *SecretStore,
	parentPriv []byte, cipher *snacl.CryptoKey, acct AccountID,
	sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	childKey, err := s.deriveChild(parentPriv, true, index)
	if err != nil {
		return nil, err
	}
	defer childKey.Zero()

	childPriv, err := childKey.ECPrivKey()
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to extract child private key", err)
	}
	defer childPriv.Zero()

	return sealPrivateEntry(store, cipher, acct, sub, index,
		childPriv.Serialize(),
		childPriv.PubKey().SerializeCompressed())
}

// Chained reports that hierarchical derivation feeds on the chain root.
func (s *BIP32Scheme) Chained() bool { return false }

// Serialize returns the scheme in its on-disk form.
func (s *BIP32Scheme) Serialize() []byte {
	out := make([]byte, 0, 1+32+1+4)
	out = append(out, schemeTagBIP32)
	out = append(out, s.chainCode[:]...)
	out = append(out, s.depth)
	var leaf [4]byte
	binary.BigEndian.PutUint32(leaf[:], s.leafID)
	out = append(out, leaf[:]...)
	return out
}

// SaltedBIP32Scheme is hierarchical derivation with an additional 32-byte
// salt folded into each per-index key as a mod-N tweak, so two accounts
// sharing a root still derive disjoint key spaces.
type SaltedBIP32Scheme struct {
	BIP32Scheme

	salt [saltSize]byte
}

// NewSaltedBIP32Scheme returns a salted hierarchical derivation scheme.  The
// salt must be exactly 32 bytes.
func NewSaltedBIP32Scheme(salt, chainCode []byte, depth uint8,
	leafID uint32) (*SaltedBIP32Scheme, error) {

	if len(salt) != saltSize {
		return nil, managerError(ErrInvalidSalt, fmt.Sprintf(
			"invalid salt length %d", len(salt)), nil)
	}

	inner, err := NewBIP32Scheme(chainCode, depth, leafID)
	if err != nil {
		return nil, err
	}

	scheme := &SaltedBIP32Scheme{BIP32Scheme: *inner}
	copy(scheme.salt[:], salt)
	return scheme, nil
}

// saltTweak computes the per-index salting tweak: HMAC-SHA512 keyed by the
// salt over the compressed child public key and the big-endian index,
// truncated and reduced mod N.
func (s *SaltedBIP32Scheme) saltTweak(childPub []byte,
	index uint32) (*secp256k1.ModNScalar, error) {

	mac := hmac.New(sha512.New, s.salt[:])
	mac.Write(childPub)
	var indexBytes [4]byte
	binary.BigEndian.PutUint32(indexBytes[:], index)
	mac.Write(indexBytes[:])
	digest := mac.Sum(nil)

	var tweak secp256k1.ModNScalar
	tweak.SetByteSlice(digest[:32])
	zero.Bytes(digest)
	if tweak.IsZero() {
		return nil, managerError(ErrCrypto,
			"degenerate salt tweak", nil)
	}

	return &tweak, nil
}

// ComputeNextPublicEntry derives the child public key and folds the salt
// tweak into the resulting point.
func (s *SaltedBIP32Scheme) ComputeNextPublicEntry(parentPub []byte,
	acct AccountID, sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	childEntry, err := s.BIP32Scheme.ComputeNextPublicEntry(parentPub,
		acct, sub, index)
	if err != nil {
		return nil, err
	}

	tweak, err := s.saltTweak(childEntry.PubKey(), index)
	if err != nil {
		return nil, err
	}

	childPub, err := secp256k1.ParsePubKey(childEntry.PubKey())
	if err != nil {
		return nil, managerError(ErrCrypto, "invalid child public key",
			err)
	}

	var childPoint, tweakPoint, saltedPoint secp256k1.JacobianPoint
	childPub.AsJacobian(&childPoint)
	secp256k1.ScalarBaseMultNonConst(tweak, &tweakPoint)
	secp256k1.AddNonConst(&childPoint, &tweakPoint, &saltedPoint)
	if saltedPoint.Z.IsZero() {
		return nil, managerError(ErrCrypto,
			"salted derivation produced point at infinity", nil)
	}
	saltedPoint.ToAffine()

	saltedPub := secp256k1.NewPublicKey(&saltedPoint.X, &saltedPoint.Y)
	return NewSingleKeyAsset(acct, sub, int64(index),
		saltedPub.SerializeCompressed(), nil), nil
}

// ComputeNextPrivateEntry derives the child key pair and folds the salt
// tweak into both halves.
func (s *SaltedBIP32Scheme) ComputeNextPrivateEntry(store *SecretStore,
	parentPriv []byte, cipher *snacl.CryptoKey, acct AccountID,
	sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	childKey, err := s.deriveChild(parentPriv, true, index)
	if err != nil {
		return nil, err
	}
	defer childKey.Zero()

	childPriv, err := childKey.ECPrivKey()
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to extract child private key", err)
	}
	defer childPriv.Zero()

	tweak, err := s.saltTweak(childPriv.PubKey().SerializeCompressed(),
		index)
	if err != nil {
		return nil, err
	}

	var saltedScalar secp256k1.ModNScalar
	saltedScalar.Set(&childPriv.Key)
	saltedScalar.Add(tweak)
	if saltedScalar.IsZero() {
		return nil, managerError(ErrCrypto,
			"salted derivation produced zero private key", nil)
	}

	saltedKey := secp256k1.NewPrivateKey(&saltedScalar)
	defer saltedKey.Zero()
	saltedScalar.Zero()

	return sealPrivateEntry(store, cipher, acct, sub, index,
		saltedKey.Serialize(),
		saltedKey.PubKey().SerializeCompressed())
}

// Serialize returns the scheme in its on-disk form.
func (s *SaltedBIP32Scheme) Serialize() []byte {
	out := make([]byte, 0, 1+32+1+4+saltSize)
	out = append(out, schemeTagSalted)
	out = append(out, s.chainCode[:]...)
	out = append(out, s.depth)
	var leaf [4]byte
	binary.BigEndian.PutUint32(leaf[:], s.leafID)
	out = append(out, leaf[:]...)
	out = append(out, s.salt[:]...)
	return out
}

// ECDHScheme is the degenerate passthrough scheme for accounts built around
// a single static key pair: "derivation" is the identity, regardless of
// index.
type ECDHScheme struct{}

// NewECDHScheme returns the passthrough scheme.
func NewECDHScheme() *ECDHScheme {
	return &ECDHScheme{}
}

// ComputeNextPublicEntry returns an entry carrying the parent public key
// unchanged.
func (s *ECDHScheme) ComputeNextPublicEntry(parentPub []byte,
	acct AccountID, sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	pubKey, err := secp256k1.ParsePubKey(parentPub)
	if err != nil {
		return nil, managerError(ErrCrypto, "invalid parent public key",
			err)
	}

	return NewSingleKeyAsset(acct, sub, int64(index),
		pubKey.SerializeCompressed(), nil), nil
}

// ComputeNextPrivateEntry seals the parent private key unchanged.
func (s *ECDHScheme) ComputeNextPrivateEntry(store *SecretStore,
	parentPriv []byte, cipher *snacl.CryptoKey, acct AccountID,
	sub SubAccountID, index uint32) (*SingleKeyAsset, error) {

	if len(parentPriv) != 32 {
		return nil, managerError(ErrCrypto, fmt.Sprintf(
			"invalid parent private key length %d",
			len(parentPriv)), nil)
	}

	privKey := secp256k1.PrivKeyFromBytes(parentPriv)
	defer privKey.Zero()

	return sealPrivateEntry(store, cipher, acct, sub, index,
		privKey.Serialize(), privKey.PubKey().SerializeCompressed())
}

// Chained reports that the passthrough scheme feeds on the chain root.
func (s *ECDHScheme) Chained() bool { return false }

// Serialize returns the scheme in its on-disk form.
func (s *ECDHScheme) Serialize() []byte {
	return []byte{schemeTagECDH}
}

// DeserializeScheme rebuilds a derivation scheme from its on-disk form.
func DeserializeScheme(serialized []byte) (DerivationScheme, error) {
	if len(serialized) == 0 {
		return nil, managerError(ErrUnknownAccountType,
			"empty serialized derivation scheme", nil)
	}

	tag, payload := serialized[0], serialized[1:]
	switch tag {
	case schemeTagLegacy:
		if len(payload) != 32 {
			return nil, managerError(ErrInvalidChaincode,
				"malformed legacy derivation scheme", nil)
		}
		return NewLegacyScheme(payload)

	case schemeTagBIP32:
		if len(payload) != 32+1+4 {
			return nil, managerError(ErrInvalidChaincode,
				"malformed bip32 derivation scheme", nil)
		}
		return NewBIP32Scheme(payload[:32], payload[32],
			binary.BigEndian.Uint32(payload[33:37]))

	case schemeTagSalted:
		if len(payload) != 32+1+4+saltSize {
			return nil, managerError(ErrInvalidChaincode,
				"malformed salted derivation scheme", nil)
		}
		return NewSaltedBIP32Scheme(payload[37:37+saltSize],
			payload[:32], payload[32],
			binary.BigEndian.Uint32(payload[33:37]))

	case schemeTagECDH:
		return NewECDHScheme(), nil
	}

	return nil, managerError(ErrUnknownAccountType, fmt.Sprintf(
		"unknown derivation scheme tag %#x", tag), nil)
}
