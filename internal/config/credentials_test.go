package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptCredentials_RoundTrips(t *testing.T) {
	creds := Credentials{APIKey: "key-123", APISecret: "secret-456"}

	env, err := EncryptCredentials(creds, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, secretsVersion, env.Version)
	assert.NotEmpty(t, env.Salt)
	assert.NotEmpty(t, env.IV)
	assert.NotEmpty(t, env.AuthTag)
	assert.NotEmpty(t, env.EncryptedData)

	got, err := DecryptCredentials(env, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, creds, *got)
}

func TestDecryptCredentials_WrongPassphraseFails(t *testing.T) {
	env, err := EncryptCredentials(Credentials{APIKey: "k", APISecret: "s"}, "right-pass")
	require.NoError(t, err)

	_, err = DecryptCredentials(env, "wrong-pass")
	assert.Error(t, err)
}

func TestDecryptCredentials_RejectsUnsupportedVersion(t *testing.T) {
	env, err := EncryptCredentials(Credentials{APIKey: "k", APISecret: "s"}, "pass")
	require.NoError(t, err)
	env.Version = 99

	_, err = DecryptCredentials(env, "pass")
	assert.Error(t, err)
}

func TestDecryptCredentials_RejectsTamperedCiphertext(t *testing.T) {
	env, err := EncryptCredentials(Credentials{APIKey: "k", APISecret: "s"}, "pass")
	require.NoError(t, err)
	env.EncryptedData = env.EncryptedData[:len(env.EncryptedData)-4] + "abcd"

	_, err = DecryptCredentials(env, "pass")
	assert.Error(t, err)
}

func TestSaveAndLoadSecretsFile_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.enc")
	creds := Credentials{APIKey: "file-key", APISecret: "file-secret"}

	require.NoError(t, SaveSecretsFile(path, creds, "pw"))

	got, err := LoadSecretsFile(path, "pw")
	require.NoError(t, err)
	assert.Equal(t, creds, *got)
}

func TestLoadSecretsFile_MissingFileErrors(t *testing.T) {
	_, err := LoadSecretsFile(filepath.Join(t.TempDir(), "nope.enc"), "pw")
	assert.Error(t, err)
}
