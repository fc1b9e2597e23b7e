package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tabsdata/tdworker/internal/turi"
)

type tarEntry struct {
	name     string
	typeflag byte
	data     []byte
	linkname string
}

func buildTarGz(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.typeflag, Mode: 0644, Size: int64(len(e.data))}
		if e.typeflag == tar.TypeSymlink || e.typeflag == tar.TypeLink {
			hdr.Linkname = e.linkname
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(e.data); err != nil {
				t.Fatalf("write data %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	archive := buildTarGz(t, []tarEntry{
		{name: "../escape.txt", typeflag: tar.TypeReg, data: []byte("x")},
	})
	dest := t.TempDir()
	if err := extractTarGz(bytes.NewReader(archive), dest, false); !errors.Is(err, ErrUnsafeEntry) {
		t.Fatalf("expected ErrUnsafeEntry, got %v", err)
	}
}

func TestExtractRejectsSymlinkByDefault(t *testing.T) {
	archive := buildTarGz(t, []tarEntry{
		{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
	})
	dest := t.TempDir()
	if err := extractTarGz(bytes.NewReader(archive), dest, false); !errors.Is(err, ErrUnsafeEntry) {
		t.Fatalf("expected ErrUnsafeEntry, got %v", err)
	}
}

func TestExtractAllowsSymlinkWhenPermissive(t *testing.T) {
	archive := buildTarGz(t, []tarEntry{
		{name: "file.txt", typeflag: tar.TypeReg, data: []byte("hello")},
		{name: "link", typeflag: tar.TypeSymlink, linkname: "file.txt"},
	})
	dest := t.TempDir()
	if err := extractTarGz(bytes.NewReader(archive), dest, true); err != nil {
		t.Fatalf("expected permissive extraction to succeed, got %v", err)
	}
	if _, err := os.Lstat(filepath.Join(dest, "link")); err != nil {
		t.Fatalf("expected symlink to be created: %v", err)
	}
}

func TestExtractWritesRegularFiles(t *testing.T) {
	archive := buildTarGz(t, []tarEntry{
		{name: "dir/", typeflag: tar.TypeDir},
		{name: "dir/file.txt", typeflag: tar.TypeReg, data: []byte("contents")},
	})
	dest := t.TempDir()
	if err := extractTarGz(bytes.NewReader(archive), dest, false); err != nil {
		t.Fatalf("extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "dir", "file.txt"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "contents" {
		t.Fatalf("got %q", data)
	}
}

func TestExtractHonorsPermissiveExtractEnvVar(t *testing.T) {
	archive := buildTarGz(t, []tarEntry{
		{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
	})
	srcDir := t.TempDir()
	archivePath := filepath.Join(srcDir, "bundle.tar.gz")
	if err := os.WriteFile(archivePath, archive, 0644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	dest := t.TempDir()
	if _, err := Extract(context.Background(), turi.ToURI(archivePath), dest, nil); !errors.Is(err, ErrUnsafeEntry) {
		t.Fatalf("expected default extraction to reject the symlink, got %v", err)
	}

	t.Setenv(permissiveExtractEnv, "1")
	dest2 := t.TempDir()
	if _, err := Extract(context.Background(), turi.ToURI(archivePath), dest2, nil); err != nil {
		t.Fatalf("expected permissive extraction to succeed, got %v", err)
	}
}

func TestExtractFromLocalURI(t *testing.T) {
	archive := buildTarGz(t, []tarEntry{
		{name: "config.json", typeflag: tar.TypeReg, data: []byte(`{}`)},
	})
	srcDir := t.TempDir()
	archivePath := filepath.Join(srcDir, "bundle.tar.gz")
	if err := os.WriteFile(archivePath, archive, 0644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	dest := t.TempDir()
	if _, err := Extract(context.Background(), turi.ToURI(archivePath), dest, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "config.json")); err != nil {
		t.Fatalf("expected config.json to be extracted: %v", err)
	}
}
