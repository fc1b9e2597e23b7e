// Package syscol owns the reserved $td.* column contract: the closed set
// of system columns, how they're applied to a frame under the raw/tab/sys
// modes, and the required-columns check every output must pass before
// persistence (spec.md §3, §4.8).
package syscol

import "strings"

// DType is the column element type. Kept small and closed since this
// engine only needs to express the system-column contract, not a general
// tabular type system.
type DType int

const (
	TypeString DType = iota
	TypeInt32
	TypeInt64
	TypeFloat64
	TypeBool
	TypeTimestamp
)

// ReservedPrefix is the namespace reserved for system columns. User code
// may not create columns in this namespace (spec.md §3).
const ReservedPrefix = "$td."

// IsReserved reports whether name is in the reserved $td. namespace.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// Column is a named, typed, ordered set of values.
type Column struct {
	Name   string
	Type   DType
	Values []any
}

// Frame is this port's stand-in for the source's lazy TableFrame: an
// ordered set of named columns plus a row count, materialized eagerly
// since the worker only ever needs to scan, transform, and sink once per
// run — there is no query planner to defer work for.
type Frame struct {
	Columns  []Column
	RowCount int
}

// NewEmptyFrame returns a zero-column, zero-row frame — the input used
// for the empty-frame corner case in spec.md §4.8.
func NewEmptyFrame() *Frame {
	return &Frame{}
}

// ColumnNames returns the frame's column names in order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (f *Frame) Column(name string) (*Column, bool) {
	for i := range f.Columns {
		if f.Columns[i].Name == name {
			return &f.Columns[i], true
		}
	}
	return nil, false
}

// HasColumn reports whether name is present.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.Column(name)
	return ok
}

// Without returns a copy of f with the named columns removed.
func (f *Frame) Without(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := &Frame{RowCount: f.RowCount}
	for _, c := range f.Columns {
		if !drop[c.Name] {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// WithoutReserved returns a copy of f with every $td.*-prefixed column
// removed, regardless of whether it's in the current Spec.
func (f *Frame) WithoutReserved() *Frame {
	out := &Frame{RowCount: f.RowCount}
	for _, c := range f.Columns {
		if !IsReserved(c.Name) {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// Clone returns a shallow copy of f (columns/values slices are reused;
// callers that mutate values in place should deep-copy first).
func (f *Frame) Clone() *Frame {
	out := &Frame{RowCount: f.RowCount, Columns: make([]Column, len(f.Columns))}
	copy(out.Columns, f.Columns)
	return out
}

// Set adds or replaces a column by name, preserving its original position
// if it already existed, else appending.
func (f *Frame) Set(col Column) {
	for i := range f.Columns {
		if f.Columns[i].Name == col.Name {
			f.Columns[i] = col
			return
		}
	}
	f.Columns = append(f.Columns, col)
}
