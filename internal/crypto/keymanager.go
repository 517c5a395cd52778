// Package crypto handles the operator key: encrypted storage on disk and
// request signing with Ethereum personal-message signatures.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk format of an encrypted operator key.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the operator key comes from. Key wins over KeyFile.
type KeySource struct {
	Key      string
	KeyFile  string
	Password string
}

// EncryptKey seals a hex private key with a password (PBKDF2-SHA256 then
// AES-256-GCM) and returns the key file JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/keys: empty password")
	}
	raw, err := decodeKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keys: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keys: nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    signer.Address().Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the hex
// private key without prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto/keys: empty password")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto/keys: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto/keys: unsupported key file version %d", kf.Version)
	}

	var salt, nonce, ct []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", kf.Salt, &salt}, {"nonce", kf.Nonce, &nonce}, {"ciphertext", kf.Ciphertext, &ct}} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto/keys: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto/keys: decrypt (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadSigner resolves src into a Signer.
func LoadSigner(src KeySource) (*Signer, error) {
	switch {
	case src.Key != "":
		return NewSigner(src.Key)
	case src.KeyFile != "":
		data, err := os.ReadFile(src.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("crypto/keys: read key file: %w", err)
		}
		key, err := DecryptKey(data, src.Password)
		if err != nil {
			return nil, err
		}
		return NewSigner(key)
	}
	return nil, errors.New("crypto/keys: no operator key configured")
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: gcm: %w", err)
	}
	return gcm, nil
}

func decodeKey(privateKeyHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto/keys: key is %d bytes, want 32", len(raw))
	}
	return raw, nil
}
