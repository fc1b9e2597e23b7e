// Package bundle resolves a function_bundle.uri to a local path and
// extracts the tar.gz bundle into a working directory.
package bundle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/turi"
)

// ErrUnsafeEntry is returned when a tar entry has an absolute name, would
// escape destDir, or is of a kind the default filter rejects (symlink,
// hardlink, device, FIFO).
var ErrUnsafeEntry = fmt.Errorf("bundle: unsafe archive entry")

// permissiveExtractEnv switches the tar filter to allow symlinks and
// hardlinks, for tests that need to exercise bundles built with them.
const permissiveExtractEnv = "TDS_PERMISSIVE_EXTRACT_TEST"

// Fetcher resolves a (possibly remote) bundle URI to local bytes.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Extract resolves bundleURI to a local path (via turi.Classify and, for
// non-local schemes, fetcher), then extracts the tar.gz archive into
// destDir. Returns destDir on success.
func Extract(ctx context.Context, bundleURI, destDir string, fetcher Fetcher) (string, error) {
	scheme, _, err := turi.Classify(bundleURI)
	if err != nil {
		return "", fmt.Errorf("bundle: classify %s: %w", bundleURI, err)
	}

	var r io.ReadCloser
	if scheme == turi.Local {
		path, err := turi.ToPath(bundleURI)
		if err != nil {
			return "", fmt.Errorf("bundle: resolve local path: %w", err)
		}
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("bundle: open %s: %w", path, err)
		}
		r = f
	} else {
		if fetcher == nil {
			return "", fmt.Errorf("bundle: %s requires an object-store fetcher", scheme)
		}
		rc, err := fetcher.Fetch(ctx, bundleURI)
		if err != nil {
			return "", fmt.Errorf("bundle: fetch %s: %w", bundleURI, err)
		}
		r = rc
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("bundle: create dest dir: %w", err)
	}

	permissive := os.Getenv(permissiveExtractEnv) != ""
	if err := extractTarGz(r, destDir, permissive); err != nil {
		return "", err
	}
	logging.Op().Info("bundle extracted", "uri", bundleURI, "dest", destDir)
	return destDir, nil
}

func extractTarGz(r io.Reader, destDir string, permissive bool) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("bundle: open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bundle: read tar entry: %w", err)
		}

		if filepath.IsAbs(hdr.Name) || strings.HasPrefix(hdr.Name, "/") {
			return fmt.Errorf("%w: %q is an absolute path", ErrUnsafeEntry, hdr.Name)
		}
		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return fmt.Errorf("%w: %q escapes destination", ErrUnsafeEntry, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("bundle: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeRegularFile(tr, target, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			if !permissive {
				return fmt.Errorf("%w: %q is a link entry", ErrUnsafeEntry, hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("bundle: mkdir parent of %s: %w", target, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("bundle: symlink %s: %w", target, err)
			}
		default:
			return fmt.Errorf("%w: %q has unsupported type %d", ErrUnsafeEntry, hdr.Name, hdr.Typeflag)
		}
	}
}

func writeRegularFile(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("bundle: mkdir parent of %s: %w", target, err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("bundle: create %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("bundle: write %s: %w", target, err)
	}
	return nil
}
