package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

const (
	fileEncInfo = "careshield/file-enc/v1"
	fileMacInfo = "careshield/file-mac/v1"

	fileBufSize = 64 * 1024
)

// FileEncryptor encrypts and decrypts whole files with the same fixed blob
// layout as field encryption: IV(16) || ciphertext || authTag(16).
//
// GCM cannot authenticate a stream incrementally, so files use AES-256-CTR
// with an encrypt-then-MAC HMAC-SHA256 tag truncated to 16 bytes. Both
// subkeys are derived from the master key with HKDF, so file blobs and field
// blobs never share key material.
type FileEncryptor struct {
	encKey []byte
	macKey []byte
}

// NewFileEncryptor derives the streaming subkeys from the 32-byte master key.
func NewFileEncryptor(masterKey []byte) (*FileEncryptor, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("%w: master key must be 32 bytes, got %d", ErrInvalidKey, len(masterKey))
	}

	encKey, err := deriveKey(masterKey, fileEncInfo)
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(masterKey, fileMacInfo)
	if err != nil {
		return nil, err
	}

	return &FileEncryptor{encKey: encKey, macKey: macKey}, nil
}

func deriveKey(masterKey []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: derive %s: %v", ErrInvalidKey, info, err)
	}
	return key, nil
}

// EncryptFile encrypts srcPath into dstPath and deletes the plaintext source
// only after the encrypted file has been fully written and synced. On any
// error the source file is left untouched.
func (f *FileEncryptor) EncryptFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: open source: %v", ErrEncryptionFailed, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create destination: %v", ErrEncryptionFailed, err)
	}
	defer dst.Close()

	if err := f.encryptStream(src, dst); err != nil {
		os.Remove(dstPath)
		return err
	}

	if err := dst.Sync(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("%w: sync destination: %v", ErrEncryptionFailed, err)
	}

	src.Close()
	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("%w: remove plaintext source: %v", ErrEncryptionFailed, err)
	}
	return nil
}

func (f *FileEncryptor) encryptStream(src io.Reader, dst io.Writer) error {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fmt.Errorf("%w: generate IV: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(f.encKey)
	if err != nil {
		return fmt.Errorf("%w: create cipher: %v", ErrEncryptionFailed, err)
	}
	stream := cipher.NewCTR(block, iv)

	mac := hmac.New(sha256.New, f.macKey)
	mac.Write(iv)

	if _, err := dst.Write(iv); err != nil {
		return fmt.Errorf("%w: write IV: %v", ErrEncryptionFailed, err)
	}

	buf := make([]byte, fileBufSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			stream.XORKeyStream(buf[:n], buf[:n])
			mac.Write(buf[:n])
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: write ciphertext: %v", ErrEncryptionFailed, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("%w: read plaintext: %v", ErrEncryptionFailed, readErr)
		}
	}

	tag := mac.Sum(nil)[:TagSize]
	if _, err := dst.Write(tag); err != nil {
		return fmt.Errorf("%w: write auth tag: %v", ErrEncryptionFailed, err)
	}
	return nil
}

// DecryptFile verifies and decrypts srcPath into dstPath. The authentication
// tag is validated over the full ciphertext before a single plaintext byte is
// written, so a tampered or wrong-key file fails closed with nothing on disk.
// The second pass recomputes the tag over the bytes it actually decrypts, so
// a source file rewritten between the two passes also fails closed.
func (f *FileEncryptor) DecryptFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: open source: %v", ErrDecryptionFailed, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat source: %v", ErrDecryptionFailed, err)
	}
	if info.Size() < minBlobSize {
		return fmt.Errorf("%w: file too short (%d bytes)", ErrDecryptionFailed, info.Size())
	}
	ctSize := info.Size() - IVSize - TagSize

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return fmt.Errorf("%w: read IV: %v", ErrDecryptionFailed, err)
	}

	// First pass: authenticate IV and ciphertext against the trailing tag.
	mac := hmac.New(sha256.New, f.macKey)
	mac.Write(iv)
	if _, err := io.CopyN(mac, src, ctSize); err != nil {
		return fmt.Errorf("%w: read ciphertext: %v", ErrDecryptionFailed, err)
	}

	tag := make([]byte, TagSize)
	if _, err := io.ReadFull(src, tag); err != nil {
		return fmt.Errorf("%w: read auth tag: %v", ErrDecryptionFailed, err)
	}
	if !hmac.Equal(tag, mac.Sum(nil)[:TagSize]) {
		return fmt.Errorf("%w: authentication tag mismatch", ErrDecryptionFailed)
	}

	// Second pass: decrypt the now-authenticated ciphertext.
	if _, err := src.Seek(IVSize, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %v", ErrDecryptionFailed, err)
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create destination: %v", ErrDecryptionFailed, err)
	}
	defer dst.Close()

	if err := f.decryptVerified(src, dst, iv, tag, ctSize); err != nil {
		os.Remove(dstPath)
		return err
	}

	if err := dst.Sync(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("%w: sync destination: %v", ErrDecryptionFailed, err)
	}
	return nil
}

// decryptVerified decrypts ctSize ciphertext bytes from src into dst while
// recomputing the authentication tag over the exact bytes read. A mismatch
// against tag means the ciphertext changed since it was verified.
func (f *FileEncryptor) decryptVerified(src io.Reader, dst io.Writer, iv, tag []byte, ctSize int64) error {
	block, err := aes.NewCipher(f.encKey)
	if err != nil {
		return fmt.Errorf("%w: create cipher: %v", ErrDecryptionFailed, err)
	}
	stream := cipher.NewCTR(block, iv)

	mac := hmac.New(sha256.New, f.macKey)
	mac.Write(iv)

	buf := make([]byte, fileBufSize)
	remaining := ctSize
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		read, err := io.ReadFull(src, buf[:n])
		if err != nil {
			return fmt.Errorf("%w: read ciphertext: %v", ErrDecryptionFailed, err)
		}
		mac.Write(buf[:read])
		stream.XORKeyStream(buf[:read], buf[:read])
		if _, err := dst.Write(buf[:read]); err != nil {
			return fmt.Errorf("%w: write plaintext: %v", ErrDecryptionFailed, err)
		}
		remaining -= int64(read)
	}

	if !hmac.Equal(tag, mac.Sum(nil)[:TagSize]) {
		return fmt.Errorf("%w: ciphertext changed during decryption", ErrDecryptionFailed)
	}
	return nil
}
