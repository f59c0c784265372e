package hipaa

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// EncryptionService owns the application's PHI encryption key and hands out
// the primitives derived from it: the field encryptor, the search-hash
// generator, and the streaming file encryptor.
//
// The key is supplied as a 64-character hex string (32 bytes). A missing or
// malformed key is a configuration error detected here, at first use: the
// caller must treat it as fatal and refuse to serve PHI-bearing routes. There
// is deliberately no disabled mode that silently skips encryption.
type EncryptionService struct {
	key       []byte
	encryptor *PHIEncryptor
	hasher    *SearchHasher
}

// NewEncryptionService validates the hex key and builds the derived
// primitives.
func NewEncryptionService(hexKey string, logger zerolog.Logger) (*EncryptionService, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("%w: PHI_ENCRYPTION_KEY is not set", ErrInvalidKey)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: PHI_ENCRYPTION_KEY is not valid hex: %v", ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", ErrInvalidKey, len(key))
	}

	enc, err := NewPHIEncryptor(key)
	if err != nil {
		return nil, err
	}

	hasher, err := NewSearchHasher(key)
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("PHI field-level encryption enabled")
	return &EncryptionService{
		key:       key,
		encryptor: enc,
		hasher:    hasher,
	}, nil
}

// Encryptor returns the field encryptor for single-value encryption.
func (s *EncryptionService) Encryptor() FieldEncryptor {
	return s.encryptor
}

// Hasher returns the deterministic search-hash generator.
func (s *EncryptionService) Hasher() *SearchHasher {
	return s.hasher
}

// FileEncryptor returns a streaming encryptor for file payloads, using
// subkeys derived from the master key.
func (s *EncryptionService) FileEncryptor() (*FileEncryptor, error) {
	return NewFileEncryptor(s.key)
}

// EncryptField encrypts a single PHI field value.
func (s *EncryptionService) EncryptField(value string) (string, error) {
	return s.encryptor.Encrypt(value)
}

// DecryptField decrypts a single PHI field value.
func (s *EncryptionService) DecryptField(value string) (string, error) {
	return s.encryptor.Decrypt(value)
}
