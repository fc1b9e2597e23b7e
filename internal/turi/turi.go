// Package turi classifies and converts between the URI forms the worker
// accepts (file, s3, az, gs, SQL dialects) and platform paths.
package turi

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Scheme identifies the storage family a URI belongs to.
type Scheme int

const (
	Unknown Scheme = iota
	Local
	S3
	Azure
	Gcs
	Sql
)

func (s Scheme) String() string {
	switch s {
	case Local:
		return "local"
	case S3:
		return "s3"
	case Azure:
		return "azure"
	case Gcs:
		return "gcs"
	case Sql:
		return "sql"
	default:
		return "unknown"
	}
}

// ErrUnsupportedScheme is returned by Classify for a URI whose scheme we
// don't recognize.
var ErrUnsupportedScheme = fmt.Errorf("turi: unsupported scheme")

// Location is a URI plus the name of the mount whose resolved options
// furnish credentials to access it. EnvPrefix is nil for URIs that need
// no credentials (e.g. a local file:// path under the run's own
// instance directory).
type Location struct {
	URI       string
	EnvPrefix *string
}

var sqlDialects = map[string]bool{
	"postgresql": true,
	"postgres":   true,
	"mysql":      true,
	"mariadb":    true,
	"sqlite":     true,
	"mssql":      true,
	"oracle":     true,
}

// Classify inspects a URI's scheme and returns the storage family it
// belongs to, along with the SQL dialect name when Scheme == Sql.
func Classify(uri string) (Scheme, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Unknown, "", fmt.Errorf("turi: parse %q: %w", uri, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return Local, "", nil
	case "s3":
		return S3, "", nil
	case "az":
		return Azure, "", nil
	case "gs":
		return Gcs, "", nil
	case "":
		return Unknown, "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, uri)
	default:
		if sqlDialects[strings.ToLower(u.Scheme)] {
			return Sql, strings.ToLower(u.Scheme), nil
		}
		return Unknown, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// ToPath converts a file:// URI to an OS path, percent-decoding the path
// component and preserving a trailing separator if present.
func ToPath(fileURI string) (string, error) {
	u, err := url.Parse(fileURI)
	if err != nil {
		return "", fmt.Errorf("turi: parse %q: %w", fileURI, err)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", fmt.Errorf("turi: %q is not a file:// uri", fileURI)
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		// Windows-style file://host/share/path or file://C:/... edge cases:
		// any host other than localhost becomes the path's first segment.
		p = "/" + u.Host + p
	}
	trailingSlash := strings.HasSuffix(p, "/") && len(p) > 1
	clean := filepath.FromSlash(p)
	if trailingSlash && !strings.HasSuffix(clean, string(filepath.Separator)) {
		clean += string(filepath.Separator)
	}
	return clean, nil
}

// ToURI converts an OS path to its file:// form, the inverse of ToPath
// modulo trailing-slash normalization (a trailing separator on the input
// path is preserved as a trailing slash on the URI).
func ToURI(path string) string {
	slashed := filepath.ToSlash(path)
	trailingSlash := strings.HasSuffix(slashed, "/") && len(slashed) > 1
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed}
	out := u.String()
	if trailingSlash && !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out
}

// NormalizeSQL rewrites postgres->postgresql and mariadb->mysql dialect
// aliases, and for a URI that came from a mariadb alias, injects
// collation=utf8mb4_unicode_520_ci when the query string doesn't already
// carry a collation parameter.
func NormalizeSQL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("turi: parse %q: %w", uri, err)
	}
	original := strings.ToLower(u.Scheme)
	switch original {
	case "postgres":
		u.Scheme = "postgresql"
	case "mariadb":
		u.Scheme = "mysql"
	}

	if original == "mariadb" {
		q := u.Query()
		if q.Get("collation") == "" {
			q.Set("collation", "utf8mb4_unicode_520_ci")
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}
