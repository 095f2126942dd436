package repository

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/secrethound/secrethound/internal/config"
)

// Encrypted credential file names inside the settings directory.
const (
	LoginFile    = "login.dat"
	PasswordFile = "password.dat"
	PATFile      = "pat_token.dat"
)

const nonceSize = 24

// CredentialStore reads and writes the encrypted credential files. Each file
// is a 24-byte random nonce followed by the secretbox ciphertext; each
// credential has its own 32-byte key supplied base64-encoded via the
// environment.
type CredentialStore struct {
	dir         string
	loginKey    *[32]byte
	passwordKey *[32]byte
	patKey      *[32]byte
}

// NewCredentialStore decodes the three keys from cfg. A missing key disables
// that credential; reading or writing it then fails with a clear error.
func NewCredentialStore(cfg *config.Config) (*CredentialStore, error) {
	s := &CredentialStore{dir: cfg.SettingsDir}
	var err error
	if s.loginKey, err = decodeKey(cfg.LoginKey); err != nil {
		return nil, fmt.Errorf("LOGIN_KEY: %w", err)
	}
	if s.passwordKey, err = decodeKey(cfg.PasswordKey); err != nil {
		return nil, fmt.Errorf("PASSWORD_KEY: %w", err)
	}
	if s.patKey, err = decodeKey(cfg.PATKey); err != nil {
		return nil, fmt.Errorf("PAT_KEY: %w", err)
	}
	return s, nil
}

func decodeKey(b64 string) (*[32]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Login returns the decrypted login, or "" when unset.
func (s *CredentialStore) Login() (string, error) { return s.read(LoginFile, s.loginKey) }

// Password returns the decrypted password, or "" when unset.
func (s *CredentialStore) Password() (string, error) { return s.read(PasswordFile, s.passwordKey) }

// PAT returns the decrypted personal access token, or "" when unset.
func (s *CredentialStore) PAT() (string, error) { return s.read(PATFile, s.patKey) }

// SetLogin encrypts and stores the login.
func (s *CredentialStore) SetLogin(v string) error { return s.write(LoginFile, s.loginKey, v) }

// SetPassword encrypts and stores the password.
func (s *CredentialStore) SetPassword(v string) error { return s.write(PasswordFile, s.passwordKey, v) }

// SetPAT encrypts and stores the personal access token.
func (s *CredentialStore) SetPAT(v string) error { return s.write(PATFile, s.patKey, v) }

func (s *CredentialStore) read(name string, key *[32]byte) (string, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", fmt.Errorf("no key configured for %s", name)
	}
	if len(data) < nonceSize {
		return "", fmt.Errorf("%s is truncated", name)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("decrypting %s failed (wrong key?)", name)
	}
	return string(plain), nil
}

func (s *CredentialStore) write(name string, key *[32]byte, value string) error {
	if key == nil {
		return fmt.Errorf("no key configured for %s", name)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	data := secretbox.Seal(nonce[:], []byte(value), &nonce, key)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o600)
}
