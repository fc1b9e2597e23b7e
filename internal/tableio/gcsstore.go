package tableio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/tabsdata/tdworker/internal/turi"
)

// gcsStore backs gs:// locations via cloud.google.com/go/storage.
// Out-of-pack: no GCS SDK appears in the retrieved corpus, named in
// DESIGN.md.
type gcsStore struct {
	client *storage.Client
}

func newGCSStore(loc turi.Location) (*gcsStore, error) {
	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("tableio: gcs client: %w", err)
	}
	return &gcsStore{client: client}, nil
}

func parseGCSURI(uri string) (bucket, object string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("tableio: %q is not a gs:// uri", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func (g *gcsStore) get(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *gcsStore) put(ctx context.Context, uri string, data []byte) error {
	bucket, object, err := parseGCSURI(uri)
	if err != nil {
		return err
	}
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
