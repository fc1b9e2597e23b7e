package mounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPVaultClient resolves secrets against a KV v2 vault endpoint over
// plain net/http — the corpus carries no vault SDK, and a single
// GET-and-JSON-decode doesn't warrant pulling one in (see DESIGN.md).
// Grounded on the teacher's hand-rolled REST clients over HTTP/unix
// sockets (internal/firecracker/firecracker_api.go, internal/kata/client.go).
type HTTPVaultClient struct {
	Addr       string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPVaultClient creates a client with a sane default timeout.
func NewHTTPVaultClient(addr, token string) *HTTPVaultClient {
	return &HTTPVaultClient{
		Addr:       strings.TrimRight(addr, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type vaultKV2Response struct {
	Data struct {
		Data map[string]any `json:"data"`
	} `json:"data"`
}

// Read fetches kv.data.data[name] from the secret stored at path.
func (c *HTTPVaultClient) Read(ctx context.Context, path, name string) (string, error) {
	url := fmt.Sprintf("%s/v1/%s", c.Addr, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("mounts: build vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", c.Token)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mounts: vault request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mounts: vault GET %s: status %d", path, resp.StatusCode)
	}

	var body vaultKV2Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("mounts: decode vault response for %s: %w", path, err)
	}

	raw, ok := body.Data.Data[name]
	if !ok {
		return "", fmt.Errorf("mounts: vault secret %s has no key %q", path, name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("mounts: vault secret %s key %q is not a string", path, name)
	}
	return s, nil
}
