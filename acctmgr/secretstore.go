package acctmgr

import (
	"sync"

	"github.com/halcyonsuite/halwallet/internal/zero"
	"github.com/halcyonsuite/halwallet/snacl"
)

// SecretStore guards access to decrypted private key material.  Every
// operation that needs plaintext secrets takes the store explicitly as a
// parameter, so the requirement for decryption access is visible in the
// function signature rather than implied by a re-entrant lock.
//
// The store's master key is derived from a passphrase via scrypt and is only
// present in memory while the store is unlocked.  Per-asset symmetric keys
// are sealed under the master key; see EncryptedPrivateKey.
type SecretStore struct {
	mtx sync.Mutex

	masterKey *snacl.SecretKey
	locked    bool
}

// NewSecretStore derives a fresh master key from the passphrase using the
// given scrypt parameters and returns an unlocked store.
func NewSecretStore(passphrase []byte, n, r, p int) (*SecretStore, error) {
	masterKey, err := snacl.NewSecretKey(&passphrase, n, r, p)
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to derive master key", err)
	}

	return &SecretStore{masterKey: masterKey}, nil
}

// SecretStoreFromParams rebuilds a store from previously marshalled master
// key parameters.  The returned store is locked until Unlock is called with
// the correct passphrase.
func SecretStoreFromParams(params []byte) (*SecretStore, error) {
	masterKey := &snacl.SecretKey{}
	if err := masterKey.Unmarshal(params); err != nil {
		return nil, managerError(ErrCrypto,
			"malformed master key parameters", err)
	}

	return &SecretStore{masterKey: masterKey, locked: true}, nil
}

// Marshal returns the master key derivation parameters in a form suitable
// for plaintext storage.  The key itself is never part of the result.
func (s *SecretStore) Marshal() []byte {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.masterKey.Marshal()
}

// Unlock derives the master key from the passphrase, making private key
// material accessible until Lock is called.
func (s *SecretStore) Unlock(passphrase []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.masterKey.DeriveKey(&passphrase); err != nil {
		if err == snacl.ErrInvalidPassword {
			return managerError(ErrCrypto,
				"invalid passphrase", err)
		}
		return managerError(ErrCrypto, "failed to derive master key",
			err)
	}
	s.locked = false

	return nil
}

// Lock zeroes the in-memory master key.  The derivation parameters are kept
// so the store can be unlocked again.
func (s *SecretStore) Lock() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.masterKey.Zero()
	s.locked = true
}

// IsLocked reports whether private key material is currently inaccessible.
func (s *SecretStore) IsLocked() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.locked
}

// Encrypt seals plaintext private key material for the given asset.  The
// plaintext is sealed under the supplied cipher and the cipher key is in
// turn sealed under the store's master key, so the result can only be opened
// through an unlocked store.
func (s *SecretStore) Encrypt(cipher *snacl.CryptoKey, keyID AssetID,
	plaintext []byte) (*EncryptedPrivateKey, error) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.locked {
		return nil, managerError(ErrLocked, "secret store is locked",
			nil)
	}

	encryptedKey, err := s.masterKey.Encrypt(cipher[:])
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to seal cipher key", err)
	}

	blob, err := cipher.Encrypt(plaintext)
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to seal private key", err)
	}

	return &EncryptedPrivateKey{
		KeyID:        keyID,
		EncryptedKey: encryptedKey,
		Blob:         blob,
	}, nil
}

// Decrypt opens an encrypted private key reference and returns the plaintext
// key material.  The caller is responsible for zeroing the result once done
// with it.
func (s *SecretStore) Decrypt(privKey *EncryptedPrivateKey) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.locked {
		return nil, managerError(ErrLocked, "secret store is locked",
			nil)
	}

	keyBytes, err := s.masterKey.Decrypt(privKey.EncryptedKey)
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to unseal cipher key", err)
	}

	var cipher snacl.CryptoKey
	copy(cipher[:], keyBytes)
	zero.Bytes(keyBytes)

	plaintext, err := cipher.Decrypt(privKey.Blob)
	cipher.Zero()
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to unseal private key", err)
	}

	return plaintext, nil
}

// cipherFor recovers the per-asset cipher sealed in an encrypted private key
// reference.  Used when extending a private chain so freshly derived keys are
// sealed under the same sub-account cipher.
func (s *SecretStore) cipherFor(privKey *EncryptedPrivateKey) (*snacl.CryptoKey, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.locked {
		return nil, managerError(ErrLocked, "secret store is locked",
			nil)
	}

	keyBytes, err := s.masterKey.Decrypt(privKey.EncryptedKey)
	if err != nil {
		return nil, managerError(ErrCrypto,
			"failed to unseal cipher key", err)
	}

	var cipher snacl.CryptoKey
	copy(cipher[:], keyBytes)
	zero.Bytes(keyBytes)

	return &cipher, nil
}
