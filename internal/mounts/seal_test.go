package mounts

import (
	"testing"

	"github.com/tabsdata/tdworker/internal/secrets"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cipher, err := secrets.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	resolved := map[string]string{"TDS_MYMOUNT_ACCESS_KEY": "abc", "TDS_MYMOUNT_SECRET_KEY": "xyz"}
	sealed, err := Seal(cipher, resolved)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	out, err := Unseal(cipher, sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if out["TDS_MYMOUNT_ACCESS_KEY"] != "abc" || out["TDS_MYMOUNT_SECRET_KEY"] != "xyz" {
		t.Fatalf("unexpected unsealed map: %+v", out)
	}
}

func TestUnsealRejectsGarbage(t *testing.T) {
	key, _ := secrets.GenerateKey()
	cipher, _ := secrets.NewCipher(key)
	if _, err := Unseal(cipher, "not-valid-base64!!"); err == nil {
		t.Fatalf("expected invalid base64 to fail")
	}
}
