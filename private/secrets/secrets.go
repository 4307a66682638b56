// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package secrets resolves source credentials. A credential is stored
// either as a reference to a file on disk or as a Fernet ciphertext in
// the metadata store; the ciphertext key is derived from the process
// secret. Ciphertexts written before encryption was enabled are plain
// UTF-8 and are returned as-is.
package secrets

import (
	"os"
	"strings"
	"unicode/utf8"

	"crypto/sha256"
	"encoding/base64"

	"github.com/fernet/fernet-go"
	"go.uber.org/zap"
)

// Resolver turns stored credential material into plaintext secrets.
type Resolver struct {
	log *zap.Logger
	key *fernet.Key
}

// NewResolver creates a resolver. The Fernet key is
// base64url(SHA-256(processSecret)); an empty process secret disables
// decryption and leaves only the plaintext interpretation.
func NewResolver(log *zap.Logger, processSecret string) *Resolver {
	resolver := &Resolver{log: log}
	if processSecret != "" {
		digest := sha256.Sum256([]byte(processSecret))
		encoded := base64.URLEncoding.EncodeToString(digest[:])
		key, err := fernet.DecodeKey(encoded)
		if err == nil {
			resolver.key = key
		}
	}
	return resolver
}

// Resolve returns the plaintext secret for a source. A file reference
// wins over stored ciphertext; an unreadable reference falls through to
// the ciphertext. The second return reports whether a secret was found.
func (resolver *Resolver) Resolve(secretRef string, secretEnc []byte) (string, bool) {
	if secretRef != "" {
		data, err := os.ReadFile(secretRef)
		if err == nil {
			return strings.TrimSpace(string(data)), true
		}
		resolver.log.Warn("unable to read secret reference",
			zap.String("secret_ref", secretRef),
			zap.Error(err))
	}
	return resolver.decrypt(secretEnc)
}

func (resolver *Resolver) decrypt(secretEnc []byte) (string, bool) {
	if len(secretEnc) == 0 {
		return "", false
	}
	if resolver.key != nil {
		plaintext := fernet.VerifyAndDecrypt(secretEnc, 0, []*fernet.Key{resolver.key})
		if plaintext != nil {
			return string(plaintext), true
		}
	}
	if utf8.Valid(secretEnc) {
		return string(secretEnc), true
	}
	return "", false
}
