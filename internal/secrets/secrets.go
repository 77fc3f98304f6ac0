// Package secrets keeps the API key encrypted at rest with age.
//
// Install writes an X25519 identity and the key encrypted to it; Load reads
// them back. Both files are readable only by the owner.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

const (
	keyFile    = "key.txt"
	secretFile = "secret.age"
)

// ErrNotInstalled means Install has not been run for the directory.
var ErrNotInstalled = errors.New("api key not installed")

// Install encrypts apiKey under a freshly generated identity and stores both
// in dir, replacing any previous installation.
func Install(dir, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("api key is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating age identity: %w", err)
	}

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, apiKey); err != nil {
		return fmt.Errorf("encrypting api key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finalizing armor: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, keyFile), []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretFile), buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}
	return nil
}

// Load decrypts the API key stored in dir.
func Load(dir string) (string, error) {
	keyData, err := os.ReadFile(filepath.Join(dir, keyFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotInstalled
	}
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	secretData, err := os.ReadFile(filepath.Join(dir, secretFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotInstalled
	}
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(keyData)))
	if err != nil {
		return "", fmt.Errorf("parsing key file: %w", err)
	}
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(secretData)), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting api key: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted api key: %w", err)
	}
	return string(plaintext), nil
}

// Installed reports whether dir holds an installed key.
func Installed(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, secretFile))
	return err == nil
}
