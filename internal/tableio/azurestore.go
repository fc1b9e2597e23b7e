package tableio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/tabsdata/tdworker/internal/turi"
)

// azureStore backs az:// locations via the Azure Blob SDK. Out-of-pack:
// no Azure SDK appears in the retrieved corpus, named in DESIGN.md.
type azureStore struct {
	client *azblob.Client
}

func newAzureStore(loc turi.Location) (*azureStore, error) {
	account, _ := mountEnv(loc, "account")
	key, ok := mountEnv(loc, "key")
	if !ok || account == "" {
		return nil, fmt.Errorf("tableio: az:// location requires an account/key mount")
	}
	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("tableio: azure shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	if endpoint, ok := mountEnv(loc, "endpoint"); ok {
		serviceURL = endpoint
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("tableio: azure client: %w", err)
	}
	return &azureStore{client: client}, nil
}

func parseAzureURI(uri string) (container, blobName string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "az" {
		return "", "", fmt.Errorf("tableio: %q is not an az:// uri", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func (a *azureStore) get(ctx context.Context, uri string) ([]byte, error) {
	container, blobName, err := parseAzureURI(uri)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.DownloadStream(ctx, container, blobName, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a *azureStore) put(ctx context.Context, uri string, data []byte) error {
	container, blobName, err := parseAzureURI(uri)
	if err != nil {
		return err
	}
	_, err = a.client.UploadBuffer(ctx, container, blobName, data, nil)
	return err
}
