package hipaa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// searchHashInfo labels the HKDF derivation for the search-hash MAC key so
// it can never collide with the file-encryption subkeys.
const searchHashInfo = "careshield/search-hash/v1"

// SearchHasher produces deterministic, one-way digests over plaintext values
// so that equality lookups can be answered against an indexed hash column
// without decrypting the table. The digest is an HMAC-SHA256 keyed with a
// subkey derived from the master encryption key: deterministic for a given
// deployment, non-invertible, and useless to an attacker without the key.
//
// Search hashes support exact-value lookups only; prefix or partial matching
// is out of scope.
type SearchHasher struct {
	macKey []byte
}

// NewSearchHasher derives the MAC subkey from the 32-byte master key.
func NewSearchHasher(masterKey []byte) (*SearchHasher, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("%w: master key must be 32 bytes, got %d", ErrInvalidKey, len(masterKey))
	}

	macKey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(searchHashInfo))
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, fmt.Errorf("%w: derive search-hash key: %v", ErrInvalidKey, err)
	}

	return &SearchHasher{macKey: macKey}, nil
}

// Hash returns the hex-encoded HMAC-SHA256 of the plaintext. The same input
// always yields the same output under the same deployment key.
func (h *SearchHasher) Hash(plaintext string) string {
	mac := hmac.New(sha256.New, h.macKey)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
