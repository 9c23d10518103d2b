package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

// ErrDecrypt is returned when a sealed blob cannot be opened, either
// because the passphrase is wrong or the blob was tampered with.
var ErrDecrypt = errors.New("secrets: cannot decrypt")

// Seal encrypts plaintext under a key derived from passphrase. The
// returned blob is salt || nonce || ciphertext; salt and nonce are
// fresh per call, so sealing the same plaintext twice yields different
// blobs.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := deriveKey(passphrase, salt)
	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key), nil
}

// Open decrypts a blob produced by Seal.
func Open(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	salt := blob[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], blob[saltSize:saltSize+nonceSize])

	key := deriveKey(passphrase, salt)
	plain, ok := secretbox.Open(nil, blob[saltSize+nonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func deriveKey(passphrase string, salt []byte) [keySize]byte {
	var key [keySize]byte
	copy(key[:], argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, keySize))
	return key
}
