package tableio

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tabsdata/tdworker/internal/syscol"
	"github.com/tabsdata/tdworker/internal/turi"
)

func sampleFrame() *syscol.Frame {
	return &syscol.Frame{
		RowCount: 3,
		Columns: []syscol.Column{
			{Name: "name", Type: syscol.TypeString, Values: []any{"a", "b", "c"}},
			{Name: "count", Type: syscol.TypeInt32, Values: []any{int32(1), int32(2), int32(3)}},
			{Name: "amount", Type: syscol.TypeFloat64, Values: []any{1.5, 2.5, 3.5}},
			{Name: "active", Type: syscol.TypeBool, Values: []any{true, false, true}},
			{Name: "$td.triggered_on", Type: syscol.TypeTimestamp, Values: []any{
				time.Unix(1000, 0).UTC(), time.Unix(2000, 0).UTC(), time.Unix(3000, 0).UTC(),
			}},
		},
	}
}

func TestTdcolumnsRoundTrip(t *testing.T) {
	frame := sampleFrame()
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, frame); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	decoded, err := DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded.RowCount != frame.RowCount {
		t.Fatalf("row count = %d, want %d", decoded.RowCount, frame.RowCount)
	}
	if len(decoded.Columns) != len(frame.Columns) {
		t.Fatalf("column count = %d, want %d", len(decoded.Columns), len(frame.Columns))
	}
	for i, col := range frame.Columns {
		got := decoded.Columns[i]
		if got.Name != col.Name || got.Type != col.Type {
			t.Fatalf("column %d = %+v, want name/type %s/%d", i, got, col.Name, col.Type)
		}
		for j := range col.Values {
			if got.Values[j] != col.Values[j] {
				t.Fatalf("column %s row %d = %v, want %v", col.Name, j, got.Values[j], col.Values[j])
			}
		}
	}
}

func TestTdcolumnsEmptyFrame(t *testing.T) {
	frame := syscol.NewEmptyFrame()
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, frame); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	decoded, err := DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded.RowCount != 0 || len(decoded.Columns) != 0 {
		t.Fatalf("expected empty frame, got rows=%d cols=%d", decoded.RowCount, len(decoded.Columns))
	}
}

func TestScanSinkLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	uri := turi.ToURI(filepath.Join(dir, "out.tdc"))
	loc := turi.Location{URI: uri}

	frame := sampleFrame()
	if err := Sink(context.Background(), loc, frame); err != nil {
		t.Fatalf("Sink: %v", err)
	}

	got, err := Scan(context.Background(), loc, Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got.RowCount != frame.RowCount {
		t.Fatalf("row count = %d, want %d", got.RowCount, frame.RowCount)
	}
}

func TestScanEmptyURIAllowEmpty(t *testing.T) {
	frame, err := Scan(context.Background(), turi.Location{}, Options{AllowEmpty: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if frame != nil {
		t.Fatalf("expected nil frame, got %+v", frame)
	}
}

func TestScanEmptyURINotAllowed(t *testing.T) {
	_, err := Scan(context.Background(), turi.Location{}, Options{})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestScanMissingFileNotAllowed(t *testing.T) {
	dir := t.TempDir()
	uri := turi.ToURI(filepath.Join(dir, "missing.tdc"))
	_, err := Scan(context.Background(), turi.Location{URI: uri}, Options{})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestScanMissingFileAllowEmpty(t *testing.T) {
	dir := t.TempDir()
	uri := turi.ToURI(filepath.Join(dir, "missing.tdc"))
	frame, err := Scan(context.Background(), turi.Location{URI: uri}, Options{AllowEmpty: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if frame != nil {
		t.Fatalf("expected nil frame, got %+v", frame)
	}
}

func TestSinkCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	uri := turi.ToURI(filepath.Join(dir, "nested", "deep", "out.tdc"))
	if err := Sink(context.Background(), turi.Location{URI: uri}, sampleFrame()); err != nil {
		t.Fatalf("Sink: %v", err)
	}
	if _, err := Scan(context.Background(), turi.Location{URI: uri}, Options{}); err != nil {
		t.Fatalf("Scan after Sink: %v", err)
	}
}

func TestMountEnvFallsBackWithoutPrefix(t *testing.T) {
	_, ok := mountEnv(turi.Location{}, "access_key")
	if ok {
		t.Fatalf("expected mountEnv to report false with no EnvPrefix")
	}
}

func TestMountEnvReadsPrefixedVariable(t *testing.T) {
	prefix := "testmount"
	t.Setenv("TDS_TESTMOUNT_ACCESS_KEY", "abc123")
	v, ok := mountEnv(turi.Location{EnvPrefix: &prefix}, "access_key")
	if !ok {
		t.Fatalf("expected mountEnv to find variable")
	}
	if v != "abc123" {
		t.Fatalf("mountEnv = %q, want %q", v, "abc123")
	}
}
