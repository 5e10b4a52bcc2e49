package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	saltSize         = 16
	nonceSize        = 12
	secretsVersion   = 1
)

// EncryptedSecrets is the on-disk envelope for exchange credentials,
// matching §6's secrets.enc shape: version/salt/iv/authTag/encryptedData,
// all Base64, AES-256-GCM authenticated ciphertext with a PBKDF2-derived
// key (>=100k iterations, SHA-256).
type EncryptedSecrets struct {
	Version       int    `json:"version"`
	Salt          string `json:"salt"`
	IV            string `json:"iv"`
	AuthTag       string `json:"authTag"`
	EncryptedData string `json:"encryptedData"`
}

// Credentials is the plaintext shape encrypted at rest.
type Credentials struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

// EncryptCredentials seals credentials with a passphrase-derived key and
// returns the on-disk envelope.
func EncryptCredentials(creds Credentials, passphrase string) (*EncryptedSecrets, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("credentials: marshal: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("credentials: generate salt: %w", err)
	}
	key := deriveKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("credentials: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// Go's GCM appends the auth tag to the ciphertext; split it back out so
	// the on-disk envelope matches the spec's explicit authTag field.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return &EncryptedSecrets{
		Version:       secretsVersion,
		Salt:          base64.StdEncoding.EncodeToString(salt),
		IV:            base64.StdEncoding.EncodeToString(nonce),
		AuthTag:       base64.StdEncoding.EncodeToString(tag),
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecryptCredentials opens a sealed envelope with the given passphrase.
func DecryptCredentials(env *EncryptedSecrets, passphrase string) (*Credentials, error) {
	if env.Version != secretsVersion {
		return nil, fmt.Errorf("credentials: unsupported envelope version %d", env.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode authTag: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode encryptedData: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: new gcm: %w", err)
	}

	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("credentials: authentication failed (wrong passphrase or tampered data): %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("credentials: unmarshal: %w", err)
	}
	return &creds, nil
}

// LoadSecretsFile reads and decrypts a secrets.enc file from disk.
func LoadSecretsFile(path, passphrase string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	var env EncryptedSecrets
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("credentials: parse %s: %w", path, err)
	}
	return DecryptCredentials(&env, passphrase)
}

// SaveSecretsFile encrypts and writes credentials to disk with owner-only
// permissions.
func SaveSecretsFile(path string, creds Credentials, passphrase string) error {
	env, err := EncryptCredentials(creds, passphrase)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: marshal envelope: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("credentials: write %s: %w", path, err)
	}
	return nil
}
