package turi

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		uri     string
		scheme  Scheme
		dialect string
	}{
		{"file:///tmp/data/users.parquet", Local, ""},
		{"s3://bucket/path/to/table", S3, ""},
		{"az://container/path", Azure, ""},
		{"gs://bucket/path", Gcs, ""},
		{"postgresql://host:5432/db", Sql, "postgresql"},
		{"postgres://host:5432/db", Sql, "postgres"},
		{"mariadb://host:3306/db", Sql, "mariadb"},
	}
	for _, c := range cases {
		scheme, dialect, err := Classify(c.uri)
		if err != nil {
			t.Fatalf("Classify(%s): %v", c.uri, err)
		}
		if scheme != c.scheme {
			t.Fatalf("Classify(%s): scheme got %v want %v", c.uri, scheme, c.scheme)
		}
		if dialect != c.dialect {
			t.Fatalf("Classify(%s): dialect got %q want %q", c.uri, dialect, c.dialect)
		}
	}
}

func TestClassifyUnsupported(t *testing.T) {
	if _, _, err := Classify("ftp://host/path"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	if _, _, err := Classify("no-scheme-here"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestToPathAndBack(t *testing.T) {
	p, err := ToPath("file:///tmp/data/users.parquet")
	if err != nil {
		t.Fatalf("ToPath: %v", err)
	}
	if p != "/tmp/data/users.parquet" {
		t.Fatalf("got %q", p)
	}
	if got := ToURI(p); got != "file:///tmp/data/users.parquet" {
		t.Fatalf("ToURI round-trip: got %q", got)
	}
}

func TestToPathPreservesTrailingSlash(t *testing.T) {
	p, err := ToPath("file:///tmp/data/")
	if err != nil {
		t.Fatalf("ToPath: %v", err)
	}
	if p != "/tmp/data/" {
		t.Fatalf("got %q", p)
	}
	if got := ToURI(p); got != "file:///tmp/data/" {
		t.Fatalf("ToURI round-trip: got %q", got)
	}
}

func TestToPathPercentDecoding(t *testing.T) {
	p, err := ToPath("file:///tmp/my%20data/file.parquet")
	if err != nil {
		t.Fatalf("ToPath: %v", err)
	}
	if p != "/tmp/my data/file.parquet" {
		t.Fatalf("got %q", p)
	}
}

func TestNormalizeSQLMariaDB(t *testing.T) {
	out, err := NormalizeSQL("mariadb://h:3306/db")
	if err != nil {
		t.Fatalf("NormalizeSQL: %v", err)
	}
	if out != "mysql://h:3306/db?collation=utf8mb4_unicode_520_ci" {
		t.Fatalf("got %q", out)
	}
}

func TestNormalizeSQLMariaDBPreservesExistingCollation(t *testing.T) {
	out, err := NormalizeSQL("mariadb://h:3306/db?collation=latin1_swedish_ci")
	if err != nil {
		t.Fatalf("NormalizeSQL: %v", err)
	}
	if out != "mysql://h:3306/db?collation=latin1_swedish_ci" {
		t.Fatalf("got %q", out)
	}
}

func TestNormalizeSQLPostgresAlias(t *testing.T) {
	out, err := NormalizeSQL("postgres://h:5432/db")
	if err != nil {
		t.Fatalf("NormalizeSQL: %v", err)
	}
	if out != "postgresql://h:5432/db" {
		t.Fatalf("got %q", out)
	}
}
