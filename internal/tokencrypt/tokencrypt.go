// Package tokencrypt encrypts and decrypts the OAuth access/refresh tokens
// stored on an Account (§6's access_token_enc/refresh_token_enc columns),
// so a database leak alone never exposes usable platform credentials.
package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sealer derives a 256-bit AES-GCM key from a master secret via HKDF, so
// the master secret itself is never used directly as a cipher key.
type Sealer struct {
	key [32]byte
}

func NewSealer(masterSecret string) (*Sealer, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("tokencrypt: master secret must not be empty")
	}
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("relaypost:account-token"))
	var key [32]byte
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext, prefixing the nonce to the returned ciphertext.
func (s *Sealer) Seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts ciphertext produced by Seal.
func (s *Sealer) Open(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("tokencrypt: ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting token: %w", err)
	}
	return string(plaintext), nil
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
