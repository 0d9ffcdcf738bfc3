// Package credstore persists agent credentials encrypted at rest, so the
// device key never sits on disk in the clear.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

//nolint:gochecknoglobals // sentinel error
var ErrNoCredentials = errors.New("credstore: no credentials stored")

//nolint:gochecknoglobals // sentinel error
var ErrInvalidKey = errors.New("credstore: invalid encryption key")

// Credentials is what the agent needs to talk to the server.
type Credentials struct {
	ServerURL string `json:"server_url"`
	DeviceKey string `json:"device_key"`
	DeviceID  string `json:"device_id"`
}

// Store encrypts credentials with AES-256-GCM under a device-held key and
// writes them as a single file: nonce || ciphertext.
type Store struct {
	aead cipher.AEAD
	path string
}

// Open creates a Store over the given file path with a 32-byte key.
func Open(path string, key []byte) (*Store, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credstore.Open: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credstore.Open: %w", err)
	}

	return &Store{aead: aead, path: path}, nil
}

// Save encrypts and writes the credentials, replacing any previous set.
func (s *Store) Save(creds *Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore.Save: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("credstore.Save: generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	if err := os.WriteFile(s.path, sealed, 0o600); err != nil {
		return fmt.Errorf("credstore.Save: %w", err)
	}

	return nil
}

// Load reads and decrypts the stored credentials. Returns ErrNoCredentials
// if nothing has been saved yet.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("credstore.Load: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("credstore.Load: file too short")
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("credstore.Load: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("credstore.Load: %w", err)
	}

	return &creds, nil
}
