package hipaa

import "errors"

// Sentinel errors for the PHI security pipeline. Callers distinguish the
// classes with errors.Is; the concrete wrapped error carries field/context
// detail that must never reach an API response body.
var (
	// ErrInvalidKey indicates a missing or malformed encryption key. This is
	// a configuration error: the process must refuse to serve PHI-bearing
	// routes rather than fall back to weaker behavior.
	ErrInvalidKey = errors.New("invalid PHI encryption key")

	// ErrEncryptionFailed indicates a field failed to encrypt during a write.
	// The whole write must be aborted; partially-encrypted records are never
	// persisted.
	ErrEncryptionFailed = errors.New("PHI encryption failed")

	// ErrDecryptionFailed indicates auth-tag validation failed or the blob is
	// malformed. Decryption fails closed; no partial plaintext is returned.
	ErrDecryptionFailed = errors.New("PHI decryption failed")

	// ErrUnknownResourceType indicates a field-mapping lookup for a resource
	// type that has no registry entry.
	ErrUnknownResourceType = errors.New("unknown resource type")
)
