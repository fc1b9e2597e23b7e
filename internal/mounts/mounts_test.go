package mounts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tabsdata/tdworker/internal/secrets"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestExpandEnvTemplatesMandatory(t *testing.T) {
	doc := []byte("key: ${env:HOST}")
	out, err := ExpandEnvTemplates(doc, lookupFrom(map[string]string{"HOST": "db.internal"}))
	if err != nil {
		t.Fatalf("ExpandEnvTemplates: %v", err)
	}
	if string(out) != "key: db.internal" {
		t.Fatalf("got %q", out)
	}
}

func TestExpandEnvTemplatesMandatoryMissing(t *testing.T) {
	doc := []byte("key: ${env:MISSING}")
	_, err := ExpandEnvTemplates(doc, lookupFrom(nil))
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("expected ErrMissingEnv, got %v", err)
	}
}

func TestExpandEnvTemplatesOptionalMissing(t *testing.T) {
	doc := []byte("key: ${env:MISSING?}")
	out, err := ExpandEnvTemplates(doc, lookupFrom(nil))
	if err != nil {
		t.Fatalf("ExpandEnvTemplates: %v", err)
	}
	if string(out) != "key: " {
		t.Fatalf("got %q", out)
	}
}

func TestResolveDirectAndEnv(t *testing.T) {
	doc := []byte(`
storage:
  mounts:
    - id: s3main
      options:
        access_key: !direct-secret!AKIAFAKE
        region: us-east-1
        secret_key: !secret-env:S3_SECRET
`)
	parsed, err := ParseDocument(doc, lookupFrom(nil))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	r := NewResolver(nil, nil)
	r.Lookup = lookupFrom(map[string]string{"S3_SECRET": "shh"})
	out, err := r.Resolve(context.Background(), parsed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if out["TDS_S3MAIN_ACCESS_KEY"] != "AKIAFAKE" {
		t.Fatalf("access_key: got %q", out["TDS_S3MAIN_ACCESS_KEY"])
	}
	if out["TDS_S3MAIN_REGION"] != "us-east-1" {
		t.Fatalf("region: got %q", out["TDS_S3MAIN_REGION"])
	}
	if out["TDS_S3MAIN_SECRET_KEY"] != "shh" {
		t.Fatalf("secret_key: got %q", out["TDS_S3MAIN_SECRET_KEY"])
	}
}

func TestResolveDirectSecretSealed(t *testing.T) {
	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cipher, err := secrets.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	sealed, err := SealValue(cipher, "AKIAFAKE")
	if err != nil {
		t.Fatalf("SealValue: %v", err)
	}

	doc := []byte(`
storage:
  mounts:
    - id: s3main
      options:
        access_key: "!direct-secret!` + sealed + `"
`)
	parsed, err := ParseDocument(doc, lookupFrom(nil))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	r := NewResolver(nil, cipher)
	out, err := r.Resolve(context.Background(), parsed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out["TDS_S3MAIN_ACCESS_KEY"] != "AKIAFAKE" {
		t.Fatalf("access_key: got %q", out["TDS_S3MAIN_ACCESS_KEY"])
	}
}

func TestResolveEnvMissing(t *testing.T) {
	doc := []byte(`
storage:
  mounts:
    - id: m
      options:
        k: !secret-env:NOPE
`)
	parsed, err := ParseDocument(doc, lookupFrom(nil))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	r := NewResolver(nil, nil)
	r.Lookup = lookupFrom(nil)
	_, err = r.Resolve(context.Background(), parsed)
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("expected ErrMissingEnv, got %v", err)
	}
}

func TestResolveVault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/v1/secret/data/db" {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		if got := req.Header.Get("X-Vault-Token"); got != "tok" {
			t.Fatalf("unexpected token %q", got)
		}
		w.Write([]byte(`{"data":{"data":{"password":"hunter2"}}}`))
	}))
	defer srv.Close()

	doc := []byte(`
storage:
  mounts:
    - id: pg
      options:
        password: "!secret-vault:(secret/data/db; password)"
`)
	parsed, err := ParseDocument(doc, lookupFrom(nil))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	client := NewHTTPVaultClient(srv.URL, "tok")
	r := NewResolver(client, nil)
	out, err := r.Resolve(context.Background(), parsed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out["TDS_PG_PASSWORD"] != "hunter2" {
		t.Fatalf("got %q", out["TDS_PG_PASSWORD"])
	}
}

func TestResolveVaultWithoutClient(t *testing.T) {
	doc := []byte(`
storage:
  mounts:
    - id: pg
      options:
        password: "!secret-vault:(secret/data/db; password)"
`)
	parsed, err := ParseDocument(doc, lookupFrom(nil))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	r := NewResolver(nil, nil)
	if _, err = r.Resolve(context.Background(), parsed); err == nil {
		t.Fatal("expected error resolving vault secret without a client")
	}
}
