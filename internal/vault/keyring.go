package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/dogwalking/auth-service/internal/models"
)

// KeyRing holds every symmetric key the vault has ever encrypted under,
// indexed by version. Historical keys stay in the ring until rotation has
// moved every item off them; new writes always use the active version.
type KeyRing struct {
	aeads  map[int]cipher.AEAD
	active int
}

// NewKeyRing builds AES-256-GCM ciphers for each configured key.
// Keys must be exactly 32 bytes and the active version must be present;
// violations are startup-fatal configuration errors.
func NewKeyRing(keys map[int][]byte, activeVersion int) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("key ring requires at least one key: %w", models.ErrKeyNotFound)
	}

	aeads := make(map[int]cipher.AEAD, len(keys))
	for version, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key version %d must be exactly 32 bytes, got %d", version, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher for key version %d: %w", version, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM for key version %d: %w", version, err)
		}
		aeads[version] = gcm
	}

	if _, ok := aeads[activeVersion]; !ok {
		return nil, fmt.Errorf("active key version %d is not in the ring: %w", activeVersion, models.ErrKeyNotFound)
	}

	return &KeyRing{aeads: aeads, active: activeVersion}, nil
}

// ActiveVersion returns the version new writes are encrypted under.
func (r *KeyRing) ActiveVersion() int {
	return r.active
}

// HasVersion reports whether the ring still holds the given key.
func (r *KeyRing) HasVersion(version int) bool {
	_, ok := r.aeads[version]
	return ok
}

// Encrypt seals plaintext under the active key with a fresh random nonce.
// Returns (ciphertext, nonce, keyVersion).
func (r *KeyRing) Encrypt(plaintext []byte) ([]byte, []byte, int, error) {
	gcm := r.aeads[r.active]

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, r.active, nil
}

// Decrypt opens ciphertext under the key identified by version.
// A missing key yields ErrKeyNotFound; an authentication failure (tampered
// or mis-keyed ciphertext) yields ErrDecryptFailure.
func (r *KeyRing) Decrypt(version int, ciphertext, nonce []byte) ([]byte, error) {
	gcm, ok := r.aeads[version]
	if !ok {
		return nil, fmt.Errorf("no key for version %d: %w", version, models.ErrKeyNotFound)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("aead open failed for version %d: %w", version, models.ErrDecryptFailure)
	}

	return plaintext, nil
}
