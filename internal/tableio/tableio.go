// Package tableio resolves a turi.Location to a *syscol.Frame (Scan) and
// the reverse (Sink), dispatching on the location's URI scheme to one of
// four backing clients: local filesystem, S3, Azure Blob, GCS, plus a
// pgx-backed SQL path for dialect:// locations.
package tableio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/syscol"
	"github.com/tabsdata/tdworker/internal/turi"
)

// ErrNoData is returned by Scan when loc has no data and the caller did
// not set Options.AllowEmpty.
var ErrNoData = errors.New("tableio: no data at location")

// Options configures a Scan or Sink call.
type Options struct {
	// AllowEmpty makes Scan return (nil, nil) for an empty/absent
	// location instead of ErrNoData.
	AllowEmpty bool
}

// Scan resolves loc to a *syscol.Frame. An empty URI with
// opts.AllowEmpty returns (nil, nil); with AllowEmpty false it returns
// ErrNoData.
func Scan(ctx context.Context, loc turi.Location, opts Options) (*syscol.Frame, error) {
	if loc.URI == "" {
		if opts.AllowEmpty {
			return nil, nil
		}
		return nil, ErrNoData
	}

	scheme, dialect, err := turi.Classify(loc.URI)
	if err != nil {
		return nil, fmt.Errorf("tableio: classify %s: %w", loc.URI, err)
	}

	if scheme == turi.Sql {
		return scanSQL(ctx, loc, dialect)
	}

	store, err := objectStoreFor(scheme, loc)
	if err != nil {
		return nil, err
	}

	data, err := store.get(ctx, loc.URI)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if opts.AllowEmpty {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrNoData, loc.URI)
		}
		return nil, fmt.Errorf("tableio: fetch %s: %w", loc.URI, err)
	}

	frame, err := DecodeFrame(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tableio: decode %s: %w", loc.URI, err)
	}
	return frame, nil
}

// Sink persists frame to loc. For file:// locations parent directories
// are created as needed. Any column name that collides with an earlier
// one in frame is dropped before writing (the $td.* reserved set is
// regenerated by syscol.Apply before Sink is ever called, so a
// collision here means the caller passed an already-duplicated schema);
// columns are written in schema order so output is deterministic.
func Sink(ctx context.Context, loc turi.Location, frame *syscol.Frame) error {
	if loc.URI == "" {
		return fmt.Errorf("tableio: sink location has no URI")
	}
	scheme, dialect, err := turi.Classify(loc.URI)
	if err != nil {
		return fmt.Errorf("tableio: classify %s: %w", loc.URI, err)
	}
	frame = dropDuplicateColumns(frame)

	if scheme == turi.Sql {
		return sinkSQL(ctx, loc, dialect, frame)
	}

	store, err := objectStoreFor(scheme, loc)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, frame); err != nil {
		return fmt.Errorf("tableio: encode %s: %w", loc.URI, err)
	}
	if err := store.put(ctx, loc.URI, buf.Bytes()); err != nil {
		return fmt.Errorf("tableio: write %s: %w", loc.URI, err)
	}
	logging.Op().Info("table sunk", "uri", loc.URI, "rows", frame.RowCount, "columns", len(frame.Columns))
	return nil
}

// FetchObject returns the raw bytes at loc without decoding them as a
// tdcolumns frame, for callers that need the object store dispatch (S3,
// Azure, GCS, local) but not the table codec — e.g. fetching a bundle
// tar.gz rather than a table.
func FetchObject(ctx context.Context, loc turi.Location) ([]byte, error) {
	scheme, _, err := turi.Classify(loc.URI)
	if err != nil {
		return nil, fmt.Errorf("tableio: classify %s: %w", loc.URI, err)
	}
	if scheme == turi.Sql {
		return nil, fmt.Errorf("tableio: FetchObject does not support sql:// locations")
	}
	store, err := objectStoreFor(scheme, loc)
	if err != nil {
		return nil, err
	}
	return store.get(ctx, loc.URI)
}

// blobStore is the minimal interface every backend implements: fetch
// the bytes at a URI, or write bytes to one.
type blobStore interface {
	get(ctx context.Context, uri string) ([]byte, error)
	put(ctx context.Context, uri string, data []byte) error
}

func objectStoreFor(scheme turi.Scheme, loc turi.Location) (blobStore, error) {
	switch scheme {
	case turi.Local:
		return localStore{}, nil
	case turi.S3:
		return newS3Store(loc)
	case turi.Azure:
		return newAzureStore(loc)
	case turi.Gcs:
		return newGCSStore(loc)
	default:
		return nil, fmt.Errorf("tableio: unsupported scheme %s", scheme)
	}
}

// mountEnv reads a credential/option value for loc's mount prefix,
// looking up TDS_<PREFIX>_<KEY>. Returns ("", false) if loc has no
// EnvPrefix or the variable is unset, in which case callers fall back to
// the backing SDK's own default credential chain.
func mountEnv(loc turi.Location, key string) (string, bool) {
	if loc.EnvPrefix == nil {
		return "", false
	}
	name := fmt.Sprintf("TDS_%s_%s", strings.ToUpper(*loc.EnvPrefix), strings.ToUpper(key))
	return os.LookupEnv(name)
}

type localStore struct{}

func (localStore) get(ctx context.Context, uri string) ([]byte, error) {
	path, err := turi.ToPath(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (localStore) put(ctx context.Context, uri string, data []byte) error {
	path, err := turi.ToPath(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("tableio: create parent dir for %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}
