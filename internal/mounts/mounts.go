// Package mounts resolves a "mounts" document — storage credentials and
// options keyed by mount id — into the flat TDS_<ID>_<KEY> environment
// mapping the worker and its subprocess consume (spec.md §4.6).
package mounts

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tabsdata/tdworker/internal/secrets"
)

// ErrMissingEnv is returned when a mandatory ${env:NAME} placeholder or
// a !secret-env: reference has no matching environment variable.
var ErrMissingEnv = fmt.Errorf("mounts: missing required environment variable")

// Secret reference sentinels. A direct value is prefixed so the resolver
// can tell "this literal string is a secret" apart from plaintext that
// happens to look like one of the other two forms. The direct form holds
// ciphertext (base64, sealed with internal/secrets.Cipher via
// SealValue) when a Resolver has a Cipher configured; with no cipher
// configured, the value after the prefix is read as plaintext.
const (
	secretDirectPrefix = "!direct-secret!"
	secretEnvPrefix    = "!secret-env:"
	secretVaultPrefix  = "!secret-vault:"
)

// MountSpec is one entry of the "storage.mounts" list.
type MountSpec struct {
	ID      string            `yaml:"id"`
	Options map[string]string `yaml:"options"`
}

// Document is the top-level mounts document shape.
type Document struct {
	Storage struct {
		Mounts []MountSpec `yaml:"mounts"`
	} `yaml:"storage"`
}

var envPlaceholder = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)(\?)?\}`)

// ExpandEnvTemplates scans raw document bytes for ${env:NAME} and
// ${env:NAME?} placeholders and substitutes them before YAML parsing.
// The optional ("?") form collapses to empty string when the variable is
// unset; the mandatory form fails with ErrMissingEnv.
func ExpandEnvTemplates(doc []byte, lookup func(string) (string, bool)) ([]byte, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var firstErr error
	out := envPlaceholder.ReplaceAllFunc(doc, func(m []byte) []byte {
		sub := envPlaceholder.FindSubmatch(m)
		name := string(sub[1])
		optional := len(sub[2]) > 0
		val, ok := lookup(name)
		if !ok {
			if optional {
				return nil
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrMissingEnv, name)
			}
			return m
		}
		return []byte(val)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// ParseDocument expands env templates then parses the mounts document.
func ParseDocument(raw []byte, lookup func(string) (string, bool)) (*Document, error) {
	expanded, err := ExpandEnvTemplates(raw, lookup)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("mounts: parse document: %w", err)
	}
	return &doc, nil
}

// VaultClient resolves a (path; name) secret reference to its value.
type VaultClient interface {
	Read(ctx context.Context, path, name string) (string, error)
}

// Resolver turns mount option values — literal, $ENV, or vault
// references — into their final string values.
type Resolver struct {
	Vault  VaultClient
	Cipher *secrets.Cipher             // decrypts !direct-secret! values; nil disables sealing
	Lookup func(string) (string, bool) // defaults to os.LookupEnv
}

// NewResolver creates a Resolver backed by the given vault client (may be
// nil if no mount in this deployment uses vault references) and cipher
// (may be nil if local-secret sealing is disabled, in which case a
// !direct-secret! value is read as plaintext rather than ciphertext).
func NewResolver(vault VaultClient, cipher *secrets.Cipher) *Resolver {
	return &Resolver{Vault: vault, Cipher: cipher}
}

func (r *Resolver) lookup() func(string) (string, bool) {
	if r.Lookup != nil {
		return r.Lookup
	}
	return os.LookupEnv
}

// ResolveValue resolves a single option value.
func (r *Resolver) ResolveValue(ctx context.Context, raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, secretDirectPrefix):
		trimmed := strings.TrimPrefix(raw, secretDirectPrefix)
		if r.Cipher == nil {
			return trimmed, nil
		}
		return UnsealValue(r.Cipher, trimmed)
	case strings.HasPrefix(raw, secretEnvPrefix):
		name := strings.TrimPrefix(raw, secretEnvPrefix)
		v, ok := r.lookup()(name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingEnv, name)
		}
		return v, nil
	case strings.HasPrefix(raw, secretVaultPrefix):
		path, name, err := parseVaultRef(strings.TrimPrefix(raw, secretVaultPrefix))
		if err != nil {
			return "", err
		}
		if r.Vault == nil {
			return "", fmt.Errorf("mounts: vault secret %q referenced but no vault client is configured", raw)
		}
		return r.Vault.Read(ctx, path, name)
	default:
		return raw, nil
	}
}

// parseVaultRef parses the "(path; name)" reference form.
func parseVaultRef(s string) (path, name string, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	parts := strings.SplitN(s, ";", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("mounts: malformed vault reference %q", s)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// Resolve flattens every mount's resolved options into TDS_<ID>_<KEY>
// environment variable names (uppercased).
func (r *Resolver) Resolve(ctx context.Context, doc *Document) (map[string]string, error) {
	out := make(map[string]string)
	for _, m := range doc.Storage.Mounts {
		for k, v := range m.Options {
			resolved, err := r.ResolveValue(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("mounts: mount %q option %q: %w", m.ID, k, err)
			}
			key := fmt.Sprintf("TDS_%s_%s", strings.ToUpper(m.ID), strings.ToUpper(k))
			out[key] = resolved
		}
	}
	return out, nil
}
