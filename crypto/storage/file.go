package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sagecrypto "github.com/sage-x-project/securestream/crypto"
)

// fileKeyStorage persists identity key material as 0600-mode PEM files
// under a directory, one file per key ID.
//
// Grounded on config/config.go's SaveToFile (format-by-extension) tightened
// to 0600 permissions: key material is otherwise never written to disk
// except the optional group_key file — the one exception this module
// needs is the long-term identity key itself, which this storage exists
// to persist across restarts.
type fileKeyStorage struct {
	dir string
	mu  sync.RWMutex
}

// pemEncoder is satisfied by rsaKeyPair and keys.ECDHP256KeyPair.
type pemEncoder interface {
	EncodePEM() ([]byte, error)
}

// NewFileKeyStorage creates (if needed) dir with owner-only permissions
// and returns a KeyStorage backed by it.
func NewFileKeyStorage(dir string) (sagecrypto.KeyStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create key dir: %w", err)
	}
	return &fileKeyStorage{dir: dir}, nil
}

func (s *fileKeyStorage) path(id string) string {
	return filepath.Join(s.dir, id+".pem")
}

// Store persists keyPair's private key material as a 0600 PEM file.
// keyPair must implement pemEncoder (rsaKeyPair and ECDHP256KeyPair both do).
func (s *fileKeyStorage) Store(id string, keyPair sagecrypto.KeyPair) error {
	enc, ok := keyPair.(pemEncoder)
	if !ok {
		return fmt.Errorf("storage: key pair of type %s cannot be PEM-encoded", keyPair.Type())
	}
	data, err := enc.EncodePEM()
	if err != nil {
		return fmt.Errorf("storage: encode key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path(id), data, 0600); err != nil {
		return fmt.Errorf("storage: write key file: %w", err)
	}
	return nil
}

// Load is unsupported here: decoding a PEM file back into a concrete
// KeyPair requires knowing which key type it holds, which this generic
// KeyStorage interface does not carry. Callers that need to reload an
// identity key from disk call keys.DecodeRSAPrivatePEM or
// keys.DecodeECDHP256PrivatePEM directly against the file this storage
// wrote, once they already know which one it is (RSA for a key-transport
// listener, ECDH for an ECDH P-256 identity key).
func (s *fileKeyStorage) Load(id string) (sagecrypto.KeyPair, error) {
	return nil, fmt.Errorf("storage: Load not supported by file storage; decode %s directly", s.path(id))
}

// Delete removes a key's PEM file.
func (s *fileKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return sagecrypto.ErrKeyNotFound
		}
		return fmt.Errorf("storage: delete key file: %w", err)
	}
	return nil
}

// List returns all stored key IDs in sorted order.
func (s *fileKeyStorage) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: read key dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".pem"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether id has a PEM file on disk.
func (s *fileKeyStorage) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.path(id))
	return err == nil
}

// ReadFile returns the raw bytes of the PEM file for id, used by callers
// that need to decode it with a type-specific decoder.
func (s *fileKeyStorage) ReadFile(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return os.ReadFile(s.path(id))
}
