// Package secret encrypts the site credentials at rest so the config
// file never has to hold the password in clear. AES-256-GCM with a
// key derived from a passphrase via scrypt; the file format is
// base64(salt || nonce || ciphertext).
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/example/pitchbook/internal/site"
)

const saltSize = 16

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals the credentials under the passphrase.
func Encrypt(creds site.Credentials, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("empty passphrase")
	}
	plaintext, err := json.Marshal(struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}{creds.Login, creds.Password})
	if err != nil {
		return "", err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	buf := append(salt, nonce...)
	buf = aead.Seal(buf, nonce, plaintext, nil)
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(encoded, passphrase string) (site.Credentials, error) {
	buf, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return site.Credentials{}, fmt.Errorf("credentials file is not base64: %w", err)
	}
	if len(buf) < saltSize {
		return site.Credentials{}, fmt.Errorf("credentials file too short")
	}
	salt, rest := buf[:saltSize], buf[saltSize:]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return site.Credentials{}, err
	}
	ns := aead.NonceSize()
	if len(rest) < ns {
		return site.Credentials{}, fmt.Errorf("credentials file too short")
	}
	plaintext, err := aead.Open(nil, rest[:ns], rest[ns:], nil)
	if err != nil {
		return site.Credentials{}, fmt.Errorf("decrypt credentials: %w", err)
	}

	var c struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return site.Credentials{}, err
	}
	return site.Credentials{Login: c.Login, Password: c.Password}, nil
}
