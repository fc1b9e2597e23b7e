package supervisor

import (
	"bytes"
	"context"
	"io"

	"github.com/tabsdata/tdworker/internal/tableio"
	"github.com/tabsdata/tdworker/internal/turi"
)

// ObjectFetcher adapts tableio's object-store dispatch into a
// bundle.Fetcher, so a bundle URI on s3://, az://, or gs:// resolves the
// same mount credentials a table reference would.
type ObjectFetcher struct {
	EnvPrefix *string
}

// Fetch implements bundle.Fetcher.
func (f ObjectFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	data, err := tableio.FetchObject(ctx, turi.Location{URI: uri, EnvPrefix: f.EnvPrefix})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
