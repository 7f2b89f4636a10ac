package acctmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/halcyonsuite/halwallet/walletdb"
	"github.com/lightningnetwork/lnd/clock"
)

// Storage key prefixes.  Every record the engine writes is tagged by one of
// these so a key range scan can tell record kinds apart.
const (
	// accountHeaderKeyPrefix tags the account header record.  Key layout:
	// prefix + 4-byte account ID.
	accountHeaderKeyPrefix byte = 0xE1

	// subAccountKeyPrefix tags a sub-account body.  Key layout: prefix +
	// 8-byte composite sub-account ID.
	subAccountKeyPrefix byte = 0xE2

	// addrTypeOverrideKeyPrefix tags an address-type override.  Key
	// layout: prefix + 12-byte asset ID, 13 bytes total.  The value is
	// the 4-byte big-endian presentation type.
	addrTypeOverrideKeyPrefix byte = 0xE3
)

// Asset entry tags as committed to disk.
const (
	assetTagSingle     byte = 0x01
	assetTagBIP32Root  byte = 0x02
	assetTagLegacyRoot byte = 0x03
)

// serialization protocol version for the varint codec.
const serVersion uint32 = 0

// maybeConvertDbError converts the passed error to an AccountError with an
// error code of ErrDatabase if it is not already an AccountError.  This is
// useful for converting errors which happen due to database operations such
// as namespace and bucket errors.
func maybeConvertDbError(err error) error {
	// When the error is already an AccountError, just return it.
	if _, ok := err.(AccountError); ok {
		return err
	}

	return managerError(ErrDatabase, err.Error(), err)
}

// accountHeaderKey returns the storage key of an account's header record.
func accountHeaderKey(id AccountID) []byte {
	key := make([]byte, 0, 1+AccountIDSize)
	key = append(key, accountHeaderKeyPrefix)
	key = append(key, id[:]...)
	return key
}

// subAccountKey returns the storage key of a sub-account's body record.
func subAccountKey(acct AccountID, sub SubAccountID) []byte {
	key := make([]byte, 0, 1+AccountIDSize+SubAccountIDSize)
	key = append(key, subAccountKeyPrefix)
	key = append(key, acct[:]...)
	key = append(key, sub[:]...)
	return key
}

// addressTypeOverrideKey returns the storage key of an asset's presentation
// type override record.
func addressTypeOverrideKey(id AssetID) []byte {
	key := make([]byte, 0, 1+AssetIDSize)
	key = append(key, addrTypeOverrideKeyPrefix)
	key = append(key, id[:]...)
	return key
}

// writeVarBytes appends a varint-prefixed byte string.
func writeVarBytes(w io.Writer, b []byte) error {
	if err := wire.WriteVarInt(w, serVersion, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readVarBytes reads a varint-prefixed byte string, refusing lengths beyond
// what remains in the reader.
func readVarBytes(r *bytes.Reader) ([]byte, error) {
	count, err := wire.ReadVarInt(r, serVersion)
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Len()) {
		return nil, managerError(ErrDatabase, fmt.Sprintf(
			"corrupt record: %d byte field with %d bytes left",
			count, r.Len()), nil)
	}

	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// serializeEncryptedPrivKey appends the encrypted private key reference.
func serializeEncryptedPrivKey(w io.Writer, privKey *EncryptedPrivateKey) error {
	if _, err := w.Write(privKey.KeyID[:]); err != nil {
		return err
	}
	if err := writeVarBytes(w, privKey.EncryptedKey); err != nil {
		return err
	}
	return writeVarBytes(w, privKey.Blob)
}

// deserializeEncryptedPrivKey reads an encrypted private key reference.
func deserializeEncryptedPrivKey(r *bytes.Reader) (*EncryptedPrivateKey, error) {
	var idBytes [AssetIDSize]byte
	if _, err := io.ReadFull(r, idBytes[:]); err != nil {
		return nil, err
	}

	encKey, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	blob, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}

	return &EncryptedPrivateKey{
		KeyID:        AssetID(idBytes),
		EncryptedKey: encKey,
		Blob:         blob,
	}, nil
}

// serializeAssetEntry returns an asset entry in its on-disk form.  The entry
// is self-describing: it carries its own identifiers so it can also travel
// inside public snapshots.
func serializeAssetEntry(entry AssetEntry) ([]byte, error) {
	var buf bytes.Buffer

	id := entry.AssetID()
	writeCommon := func(tag byte) error {
		if err := buf.WriteByte(tag); err != nil {
			return err
		}
		_, err := buf.Write(id[:])
		return err
	}

	var err error
	switch e := entry.(type) {
	case *SingleKeyAsset:
		err = writeCommon(assetTagSingle)

	case *BIP32RootAsset:
		if err = writeCommon(assetTagBIP32Root); err != nil {
			break
		}
		chainCode := e.ChainCode()
		if _, err = buf.Write(chainCode[:]); err != nil {
			break
		}
		if err = buf.WriteByte(e.Depth()); err != nil {
			break
		}
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], e.LeafID())
		if _, err = buf.Write(u32[:]); err != nil {
			break
		}
		binary.BigEndian.PutUint32(u32[:], e.ParentFingerprint())
		if _, err = buf.Write(u32[:]); err != nil {
			break
		}
		binary.BigEndian.PutUint32(u32[:], e.SeedFingerprint())
		if _, err = buf.Write(u32[:]); err != nil {
			break
		}
		path := e.DerivationPath()
		if err = wire.WriteVarInt(&buf, serVersion,
			uint64(len(path))); err != nil {

			break
		}
		for _, step := range path {
			binary.BigEndian.PutUint32(u32[:], step)
			if _, err = buf.Write(u32[:]); err != nil {
				break
			}
		}

	case *LegacyRootAsset:
		if err = writeCommon(assetTagLegacyRoot); err != nil {
			break
		}
		chainCode := e.ChainCode()
		_, err = buf.Write(chainCode[:])

	default:
		return nil, managerError(ErrUnexpectedRootType, fmt.Sprintf(
			"cannot serialize asset entry of type %T", entry), nil)
	}
	if err != nil {
		return nil, maybeConvertDbError(err)
	}

	if err := writeVarBytes(&buf, entry.PubKey()); err != nil {
		return nil, maybeConvertDbError(err)
	}

	privKey := entry.EncryptedPriv()
	if privKey == nil {
		if err := buf.WriteByte(0); err != nil {
			return nil, maybeConvertDbError(err)
		}
		return buf.Bytes(), nil
	}
	if err := buf.WriteByte(1); err != nil {
		return nil, maybeConvertDbError(err)
	}
	if err := serializeEncryptedPrivKey(&buf, privKey); err != nil {
		return nil, maybeConvertDbError(err)
	}

	return buf.Bytes(), nil
}

// deserializeAssetEntry rebuilds an asset entry from its on-disk form.
func deserializeAssetEntry(serialized []byte) (AssetEntry, error) {
	r := bytes.NewReader(serialized)

	tag, err := r.ReadByte()
	if err != nil {
		return nil, maybeConvertDbError(err)
	}

	var idBytes [AssetIDSize]byte
	if _, err := io.ReadFull(r, idBytes[:]); err != nil {
		return nil, maybeConvertDbError(err)
	}
	id := AssetID(idBytes)
	acct, sub := id.AccountID(), id.SubAccountID()

	var (
		chainCode [32]byte
		depth     uint8
		leafID    uint32
		parentFP  uint32
		seedFP    uint32
		derPath   []uint32
	)

	switch tag {
	case assetTagSingle:

	case assetTagBIP32Root:
		if _, err := io.ReadFull(r, chainCode[:]); err != nil {
			return nil, maybeConvertDbError(err)
		}
		var meta [13]byte
		if _, err := io.ReadFull(r, meta[:]); err != nil {
			return nil, maybeConvertDbError(err)
		}
		depth = meta[0]
		leafID = binary.BigEndian.Uint32(meta[1:5])
		parentFP = binary.BigEndian.Uint32(meta[5:9])
		seedFP = binary.BigEndian.Uint32(meta[9:13])

		pathLen, err := wire.ReadVarInt(r, serVersion)
		if err != nil {
			return nil, maybeConvertDbError(err)
		}
		if pathLen > uint64(r.Len())/4 {
			return nil, managerError(ErrDatabase,
				"corrupt derivation path", nil)
		}
		derPath = make([]uint32, pathLen)
		var step [4]byte
		for i := range derPath {
			if _, err := io.ReadFull(r, step[:]); err != nil {
				return nil, maybeConvertDbError(err)
			}
			derPath[i] = binary.BigEndian.Uint32(step[:])
		}

	case assetTagLegacyRoot:
		if _, err := io.ReadFull(r, chainCode[:]); err != nil {
			return nil, maybeConvertDbError(err)
		}

	default:
		return nil, managerError(ErrInvalidID, fmt.Sprintf(
			"unknown asset entry tag %#x", tag), nil)
	}

	pubKey, err := readVarBytes(r)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}

	hasPriv, err := r.ReadByte()
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	var privKey *EncryptedPrivateKey
	if hasPriv != 0 {
		privKey, err = deserializeEncryptedPrivKey(r)
		if err != nil {
			return nil, maybeConvertDbError(err)
		}
	}

	switch tag {
	case assetTagSingle:
		return NewSingleKeyAsset(acct, sub, uint32ToIndex(id.Index()),
			pubKey, privKey), nil
	case assetTagBIP32Root:
		return NewBIP32RootAsset(acct, sub, pubKey, privKey, chainCode,
			depth, leafID, parentFP, seedFP, derPath), nil
	default:
		return NewLegacyRootAsset(acct, sub, pubKey, privKey,
			chainCode), nil
	}
}

// serializeSubAccount returns a sub-account body in its on-disk form.
// Cached assets are written in ascending index order so the bytes are
// deterministic for a given chain state.
func serializeSubAccount(sub *SubAccount) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(byte(sub.subType))

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], indexToUint32(sub.lastUsedIndex))
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], indexToUint32(sub.lastComputedIndex))
	buf.Write(u32[:])

	if err := writeVarBytes(&buf, sub.scheme.Serialize()); err != nil {
		return nil, maybeConvertDbError(err)
	}

	if sub.root == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		rootBytes, err := serializeAssetEntry(sub.root)
		if err != nil {
			return nil, err
		}
		if err := writeVarBytes(&buf, rootBytes); err != nil {
			return nil, maybeConvertDbError(err)
		}
	}

	count := sub.lastComputedIndex + 1
	err := wire.WriteVarInt(&buf, serVersion, uint64(count))
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	for i := int64(0); i < count; i++ {
		entry, ok := sub.assets[uint32(i)]
		if !ok {
			return nil, managerError(ErrIndexOutOfRange,
				fmt.Sprintf("chain gap at index %d", i), nil)
		}
		entryBytes, err := serializeAssetEntry(entry)
		if err != nil {
			return nil, err
		}
		if err := writeVarBytes(&buf, entryBytes); err != nil {
			return nil, maybeConvertDbError(err)
		}
	}

	return buf.Bytes(), nil
}

// deserializeSubAccount rebuilds a sub-account from its on-disk form.
func deserializeSubAccount(acct AccountID, subID SubAccountID,
	serialized []byte) (*SubAccount, error) {

	r := bytes.NewReader(serialized)

	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	subType := SubAccountType(typeByte)
	if subType != SubAccountPlain && subType != SubAccountECDH {
		return nil, managerError(ErrUnknownAccountType, fmt.Sprintf(
			"unknown sub-account variant %#x", typeByte), nil)
	}

	var watermarks [8]byte
	if _, err := io.ReadFull(r, watermarks[:]); err != nil {
		return nil, maybeConvertDbError(err)
	}
	used := uint32ToIndex(binary.BigEndian.Uint32(watermarks[:4]))
	computed := uint32ToIndex(binary.BigEndian.Uint32(watermarks[4:]))

	schemeBytes, err := readVarBytes(r)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	scheme, err := DeserializeScheme(schemeBytes)
	if err != nil {
		return nil, err
	}

	hasRoot, err := r.ReadByte()
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	var root AssetEntry
	if hasRoot != 0 {
		rootBytes, err := readVarBytes(r)
		if err != nil {
			return nil, maybeConvertDbError(err)
		}
		root, err = deserializeAssetEntry(rootBytes)
		if err != nil {
			return nil, err
		}
	}

	sub := NewSubAccount(acct, subID, subType, root, scheme)
	sub.lastUsedIndex = used
	sub.lastComputedIndex = computed

	count, err := wire.ReadVarInt(r, serVersion)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	for i := uint64(0); i < count; i++ {
		entryBytes, err := readVarBytes(r)
		if err != nil {
			return nil, maybeConvertDbError(err)
		}
		entry, err := deserializeAssetEntry(entryBytes)
		if err != nil {
			return nil, err
		}
		leaf, ok := entry.(*SingleKeyAsset)
		if !ok || leaf.Index() < 0 {
			return nil, managerError(ErrUnexpectedRootType,
				"chain entry is not a derived leaf", nil)
		}
		sub.assets[uint32(leaf.Index())] = leaf
	}

	return sub, nil
}

// putSubAccount stores a sub-account body under its composite key.
func putSubAccount(ns walletdb.ReadWriteBucket, sub *SubAccount) error {
	serialized, err := serializeSubAccount(sub)
	if err != nil {
		return err
	}

	err = ns.Put(subAccountKey(sub.AccountID(), sub.ID()), serialized)
	if err != nil {
		return maybeConvertDbError(err)
	}
	return nil
}

// fetchSubAccount loads a sub-account body by its composite key.
func fetchSubAccount(ns walletdb.ReadBucket, acct AccountID,
	subID SubAccountID) (*SubAccount, error) {

	serialized := ns.Get(subAccountKey(acct, subID))
	if serialized == nil {
		return nil, managerError(ErrSubAccountNotFound, fmt.Sprintf(
			"no sub-account record for %x%x", acct[:], subID[:]),
			nil)
	}
	return deserializeSubAccount(acct, subID, serialized)
}

// serializeAccountHeader returns the account header in its on-disk form.
func serializeAccountHeader(a *Account) ([]byte, error) {
	var buf bytes.Buffer

	outer, inner := []byte(nil), []byte(nil)
	if a.hasOuter {
		outer = a.outerID[:]
	}
	if a.hasInner {
		inner = a.innerID[:]
	}
	if err := writeVarBytes(&buf, outer); err != nil {
		return nil, maybeConvertDbError(err)
	}
	if err := writeVarBytes(&buf, inner); err != nil {
		return nil, maybeConvertDbError(err)
	}

	err := wire.WriteVarInt(&buf, serVersion, uint64(len(a.addressTypes)))
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	var u32 [4]byte
	for _, t := range a.addressTypes {
		binary.BigEndian.PutUint32(u32[:], uint32(t))
		buf.Write(u32[:])
	}
	binary.BigEndian.PutUint32(u32[:], uint32(a.defaultType))
	buf.Write(u32[:])

	err = wire.WriteVarInt(&buf, serVersion, uint64(len(a.subOrder)))
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	for _, subID := range a.subOrder {
		fullID := a.subAccounts[subID].FullID()
		if err := writeVarBytes(&buf, fullID); err != nil {
			return nil, maybeConvertDbError(err)
		}
	}

	return buf.Bytes(), nil
}

// accountHeader is the decoded form of the header record.
type accountHeader struct {
	outerID  SubAccountID
	hasOuter bool
	innerID  SubAccountID
	hasInner bool

	addressTypes []AddressType
	defaultType  AddressType

	subIDs []SubAccountID
}

// deserializeAccountHeader parses the header record, validating that every
// referenced composite ID belongs to the given account.
func deserializeAccountHeader(acct AccountID, serialized []byte) (*accountHeader, error) {
	r := bytes.NewReader(serialized)
	header := &accountHeader{}

	readDesignator := func() (SubAccountID, bool, error) {
		raw, err := readVarBytes(r)
		if err != nil {
			return SubAccountID{}, false, maybeConvertDbError(err)
		}
		if len(raw) == 0 {
			return SubAccountID{}, false, nil
		}
		id, err := NewSubAccountID(raw)
		if err != nil {
			return SubAccountID{}, false, err
		}
		return id, true, nil
	}

	var err error
	if header.outerID, header.hasOuter, err = readDesignator(); err != nil {
		return nil, err
	}
	if header.innerID, header.hasInner, err = readDesignator(); err != nil {
		return nil, err
	}

	typeCount, err := wire.ReadVarInt(r, serVersion)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	if typeCount > uint64(r.Len())/4 {
		return nil, managerError(ErrDatabase,
			"corrupt address type set", nil)
	}
	var u32 [4]byte
	header.addressTypes = make([]AddressType, typeCount)
	for i := range header.addressTypes {
		if _, err := io.ReadFull(r, u32[:]); err != nil {
			return nil, maybeConvertDbError(err)
		}
		header.addressTypes[i] = AddressType(
			binary.BigEndian.Uint32(u32[:]))
	}
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, maybeConvertDbError(err)
	}
	header.defaultType = AddressType(binary.BigEndian.Uint32(u32[:]))

	subCount, err := wire.ReadVarInt(r, serVersion)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	if subCount > uint64(r.Len()) {
		return nil, managerError(ErrDatabase,
			"corrupt sub-account list", nil)
	}
	header.subIDs = make([]SubAccountID, 0, subCount)
	for i := uint64(0); i < subCount; i++ {
		fullID, err := readVarBytes(r)
		if err != nil {
			return nil, maybeConvertDbError(err)
		}
		if len(fullID) != AccountIDSize+SubAccountIDSize {
			return nil, managerError(ErrInvalidID, fmt.Sprintf(
				"invalid composite sub-account id length %d",
				len(fullID)), nil)
		}
		if !bytes.Equal(fullID[:AccountIDSize], acct[:]) {
			return nil, managerError(ErrIDMismatch, fmt.Sprintf(
				"header of account %x references sub-account "+
					"of account %x", acct[:],
				fullID[:AccountIDSize]), nil)
		}
		subID, err := NewSubAccountID(fullID[AccountIDSize:])
		if err != nil {
			return nil, err
		}
		header.subIDs = append(header.subIDs, subID)
	}

	return header, nil
}

// putAccountHeader stores the account header record.
func putAccountHeader(ns walletdb.ReadWriteBucket, a *Account) error {
	serialized, err := serializeAccountHeader(a)
	if err != nil {
		return err
	}

	if err := ns.Put(accountHeaderKey(a.id), serialized); err != nil {
		return maybeConvertDbError(err)
	}
	return nil
}

// putAddressTypeOverride stores an asset's explicit presentation type.
func putAddressTypeOverride(ns walletdb.ReadWriteBucket, id AssetID,
	addrType AddressType) error {

	var value [4]byte
	binary.BigEndian.PutUint32(value[:], uint32(addrType))

	err := ns.Put(addressTypeOverrideKey(id), value[:])
	if err != nil {
		return maybeConvertDbError(err)
	}
	return nil
}

// deleteAddressTypeOverride removes an asset's override record, if present.
func deleteAddressTypeOverride(ns walletdb.ReadWriteBucket, id AssetID) error {
	if err := ns.Delete(addressTypeOverrideKey(id)); err != nil {
		return maybeConvertDbError(err)
	}
	return nil
}

// forEachAddressTypeOverride scans the override key range of an account.
// Records of the wrong fixed size are warned about and skipped rather than
// failing the scan; the override map is derived state and one bad record
// should not block a load.
func forEachAddressTypeOverride(ns walletdb.ReadBucket, acct AccountID,
	fn func(id AssetID, addrType AddressType)) {

	prefix := make([]byte, 0, 1+AccountIDSize)
	prefix = append(prefix, addrTypeOverrideKeyPrefix)
	prefix = append(prefix, acct[:]...)

	c := ns.ReadCursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if len(k) != 1+AssetIDSize || len(v) != 4 {
			log.Warnf("Skipping malformed address type override "+
				"record %x (%d byte key, %d byte value)", k,
				len(k), len(v))
			continue
		}

		id, err := assetIDFromSlice(k[1:])
		if err != nil {
			log.Warnf("Skipping address type override with bad "+
				"asset id %x: %v", k[1:], err)
			continue
		}
		fn(id, AddressType(binary.BigEndian.Uint32(v)))
	}
}

// LoadAccount rebuilds an account aggregate from storage given its header
// key.  The header is deserialized first, then each referenced sub-account,
// and finally the address-type override range is scanned.
func LoadAccount(ns walletdb.ReadBucket, key []byte) (*Account, error) {
	if len(key) != 1+AccountIDSize || key[0] != accountHeaderKeyPrefix {
		return nil, managerError(ErrInvalidID, fmt.Sprintf(
			"invalid account header key %x", key), nil)
	}
	acct, err := NewAccountID(key[1:])
	if err != nil {
		return nil, err
	}

	serialized := ns.Get(key)
	if serialized == nil {
		return nil, managerError(ErrAccountNotFound, fmt.Sprintf(
			"no account record under key %x", key), nil)
	}

	header, err := deserializeAccountHeader(acct, serialized)
	if err != nil {
		return nil, err
	}

	a := &Account{id: acct, clk: clock.NewDefaultClock()}
	a.reset()

	for _, subID := range header.subIDs {
		sub, err := fetchSubAccount(ns, acct, subID)
		if err != nil {
			return nil, err
		}
		if err := a.addSubAccount(sub); err != nil {
			return nil, err
		}
	}

	a.addressTypes = header.addressTypes
	a.defaultType = header.defaultType
	a.outerID, a.hasOuter = header.outerID, header.hasOuter
	a.innerID, a.hasInner = header.innerID, header.hasInner

	forEachAddressTypeOverride(ns, acct, func(id AssetID, t AddressType) {
		a.typeOverrides[id] = t
	})

	return a, nil
}
