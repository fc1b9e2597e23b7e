package mounts

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tabsdata/tdworker/internal/secrets"
)

// Seal encrypts a resolved TDS_* environment map with the local-secret
// cipher. Used to produce the ciphertext a mounts document embeds behind
// a !direct-secret! reference, and, by any caller that wants a whole
// resolved environment sealed at rest rather than one value at a time.
func Seal(cipher *secrets.Cipher, resolved map[string]string) (string, error) {
	plaintext, err := json.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("mounts: marshal resolved env: %w", err)
	}
	ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("mounts: seal resolved env: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Unseal reverses Seal.
func Unseal(cipher *secrets.Cipher, sealed string) (map[string]string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("mounts: decode sealed env: %w", err)
	}
	plaintext, err := cipher.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("mounts: unseal resolved env: %w", err)
	}
	var resolved map[string]string
	if err := json.Unmarshal(plaintext, &resolved); err != nil {
		return nil, fmt.Errorf("mounts: unmarshal sealed env: %w", err)
	}
	return resolved, nil
}

// SealValue and UnsealValue apply the same envelope to a single string,
// for !direct-secret! mount option values rather than a whole resolved
// environment map.
func SealValue(cipher *secrets.Cipher, value string) (string, error) {
	return Seal(cipher, map[string]string{"v": value})
}

func UnsealValue(cipher *secrets.Cipher, sealed string) (string, error) {
	m, err := Unseal(cipher, sealed)
	if err != nil {
		return "", err
	}
	return m["v"], nil
}
