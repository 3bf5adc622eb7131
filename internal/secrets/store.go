// Package secrets stores guest credentials encrypted at rest. Values are
// sealed with AES-256-GCM under a master key at a configurable path
// (default ~/.winbox/master.key), auto-generated on first use, and the
// ciphertext lives in the registry database.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xfeldman/winbox/internal/registry"
)

const masterKeyLen = 32 // AES-256

// Well-known secret names for the RDP credential handoff.
const (
	NameGuestUsername = "guest-username"
	NameGuestPassword = "guest-password"
)

// Store seals and unseals secret values with a persisted master key and
// keeps the ciphertext in the registry.
type Store struct {
	masterKey []byte
	keyPath   string
	db        *registry.DB
}

// NewStore loads the master key from keyPath, generating one if absent,
// and binds the store to the registry database.
func NewStore(keyPath string, db *registry.DB) (*Store, error) {
	s := &Store{keyPath: keyPath, db: db}

	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != masterKeyLen {
			return nil, fmt.Errorf("master key at %s has invalid length %d (expected %d)", keyPath, len(data), masterKeyLen)
		}
		s.masterKey = data
		return s, nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	key := make([]byte, masterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}

	s.masterKey = key
	return s, nil
}

// Set encrypts value and persists it under name.
func (s *Store) Set(name, value string) error {
	ciphertext, err := s.encrypt([]byte(value))
	if err != nil {
		return err
	}
	return s.db.SaveSecret(&registry.Secret{
		Name:           name,
		EncryptedValue: ciphertext,
		CreatedAt:      time.Now(),
	})
}

// Get decrypts the secret stored under name. Absent secrets return
// found=false, never an error.
func (s *Store) Get(name string) (string, bool, error) {
	sec, err := s.db.GetSecret(name)
	if err != nil {
		return "", false, err
	}
	if sec == nil {
		return "", false, nil
	}
	plaintext, err := s.decrypt(sec.EncryptedValue)
	if err != nil {
		return "", false, fmt.Errorf("secret %q: %w", name, err)
	}
	return string(plaintext), true, nil
}

// Names lists the stored secret names. Values are never listed.
func (s *Store) Names() ([]string, error) {
	return s.db.ListSecretNames()
}

// Delete removes the secret stored under name.
func (s *Store) Delete(name string) error {
	return s.db.DeleteSecret(name)
}

// encrypt seals plaintext with AES-256-GCM. Returns nonce || ciphertext.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens data produced by encrypt (nonce || ciphertext).
func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}
