// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package secrets_test

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bronzelake/datapipeline/private/secrets"
)

func deriveKey(t *testing.T, processSecret string) *fernet.Key {
	digest := sha256.Sum256([]byte(processSecret))
	key, err := fernet.DecodeKey(base64.URLEncoding.EncodeToString(digest[:]))
	require.NoError(t, err)
	return key
}

func TestResolveFileReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("  hunter2\n"), 0600))

	resolver := secrets.NewResolver(zaptest.NewLogger(t), "process-secret")
	secret, ok := resolver.Resolve(path, nil)
	require.True(t, ok)
	require.Equal(t, "hunter2", secret)
}

func TestResolveFileReferenceFallsThrough(t *testing.T) {
	// An unreadable reference falls back to the stored ciphertext.
	resolver := secrets.NewResolver(zaptest.NewLogger(t), "")
	secret, ok := resolver.Resolve(filepath.Join(t.TempDir(), "missing"), []byte("stored"))
	require.True(t, ok)
	require.Equal(t, "stored", secret)
}

func TestResolveCiphertext(t *testing.T) {
	key := deriveKey(t, "process-secret")
	token, err := fernet.EncryptAndSign([]byte("swordfish"), key)
	require.NoError(t, err)

	resolver := secrets.NewResolver(zaptest.NewLogger(t), "process-secret")
	secret, ok := resolver.Resolve("", token)
	require.True(t, ok)
	require.Equal(t, "swordfish", secret)
}

func TestResolveWrongKeyFallsBackToPlaintext(t *testing.T) {
	key := deriveKey(t, "other-secret")
	token, err := fernet.EncryptAndSign([]byte("swordfish"), key)
	require.NoError(t, err)

	// The token does not authenticate under the derived key, but it is
	// valid UTF-8 so it is interpreted as stored plaintext.
	resolver := secrets.NewResolver(zaptest.NewLogger(t), "process-secret")
	secret, ok := resolver.Resolve("", token)
	require.True(t, ok)
	require.Equal(t, string(token), secret)
}

func TestResolvePlaintextWithoutProcessSecret(t *testing.T) {
	resolver := secrets.NewResolver(zaptest.NewLogger(t), "")
	secret, ok := resolver.Resolve("", []byte("plain"))
	require.True(t, ok)
	require.Equal(t, "plain", secret)
}

func TestResolveNothing(t *testing.T) {
	resolver := secrets.NewResolver(zaptest.NewLogger(t), "process-secret")
	_, ok := resolver.Resolve("", nil)
	require.False(t, ok)

	_, ok = resolver.Resolve("", []byte{0xff, 0xfe, 0xfd})
	require.False(t, ok)
}
