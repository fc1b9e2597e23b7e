package tableio

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tabsdata/tdworker/internal/syscol"
	"github.com/tabsdata/tdworker/internal/turi"
)

// scanSQL reads a whole table into a Frame via a pgx connection. Only
// the postgres/postgresql dialect is implemented end to end, mirroring
// the teacher's exclusive use of pgx for its own store (a mysql driver
// is named as a gap in DESIGN.md rather than fabricated).
func scanSQL(ctx context.Context, loc turi.Location, dialect string) (*syscol.Frame, error) {
	if dialect != "postgres" && dialect != "postgresql" {
		return nil, fmt.Errorf("tableio: sql dialect %q is not implemented", dialect)
	}
	dsn, table, err := sqlDSNAndTable(loc)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("tableio: connect %s: %w", dialect, err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, fmt.Sprintf("SELECT * FROM %s", pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("tableio: query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	frame := &syscol.Frame{}
	columns := make([]syscol.Column, len(fields))
	for i, f := range fields {
		columns[i] = syscol.Column{Name: f.Name}
	}

	rowCount := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("tableio: scan row: %w", err)
		}
		for i, v := range values {
			if rowCount == 0 {
				columns[i].Type = inferDType(v)
			}
			columns[i].Values = append(columns[i].Values, v)
		}
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tableio: read rows: %w", err)
	}

	frame.RowCount = rowCount
	frame.Columns = columns
	return frame, nil
}

// sinkSQL writes frame into table, replacing its contents, via a
// transactional delete+COPY FROM (pgx's bulk-load path).
func sinkSQL(ctx context.Context, loc turi.Location, dialect string, frame *syscol.Frame) error {
	if dialect != "postgres" && dialect != "postgresql" {
		return fmt.Errorf("tableio: sql dialect %q is not implemented", dialect)
	}
	dsn, table, err := sqlDSNAndTable(loc)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("tableio: connect %s: %w", dialect, err)
	}
	defer pool.Close()

	frame = dropDuplicateColumns(frame)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tableio: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ident := pgx.Identifier{table}.Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", ident)); err != nil {
		return fmt.Errorf("tableio: clear %s: %w", table, err)
	}

	colNames := make([]string, len(frame.Columns))
	for i, c := range frame.Columns {
		colNames[i] = c.Name
	}

	rowSrc := pgx.CopyFromSlice(frame.RowCount, func(i int) ([]any, error) {
		row := make([]any, len(frame.Columns))
		for j, c := range frame.Columns {
			if i < len(c.Values) {
				row[j] = c.Values[i]
			}
		}
		return row, nil
	})
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, colNames, rowSrc); err != nil {
		return fmt.Errorf("tableio: copy into %s: %w", table, err)
	}

	return tx.Commit(ctx)
}

// sqlDSNAndTable resolves loc's mounted DSN (or the URI itself if the
// mount has none) and the table name from the URI path.
func sqlDSNAndTable(loc turi.Location) (dsn, table string, err error) {
	normalized, err := turi.NormalizeSQL(loc.URI)
	if err != nil {
		return "", "", fmt.Errorf("tableio: normalize sql uri: %w", err)
	}
	if d, ok := mountEnv(loc, "dsn"); ok {
		dsn = d
	} else {
		dsn = normalized
	}
	table, err = sqlTableFromURI(loc.URI)
	return dsn, table, err
}

func sqlTableFromURI(uri string) (string, error) {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			return uri[i+1:], nil
		}
	}
	return "", fmt.Errorf("tableio: %q has no table path component", uri)
}

func dropDuplicateColumns(frame *syscol.Frame) *syscol.Frame {
	out := &syscol.Frame{RowCount: frame.RowCount}
	seen := make(map[string]bool, len(frame.Columns))
	for _, c := range frame.Columns {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out.Columns = append(out.Columns, c)
	}
	return out
}

func inferDType(v any) syscol.DType {
	switch v.(type) {
	case int32:
		return syscol.TypeInt32
	case int64, int:
		return syscol.TypeInt64
	case float32, float64:
		return syscol.TypeFloat64
	case bool:
		return syscol.TypeBool
	case time.Time:
		return syscol.TypeTimestamp
	default:
		return syscol.TypeString
	}
}
