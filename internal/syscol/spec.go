package syscol

import (
	"fmt"
	"time"

	"github.com/tabsdata/tdworker/internal/tdid"
)

// Inception says what happens to a reserved column during a Sys-mode
// apply: REGENERATE columns are always recomputed fresh; PROPAGATE
// columns are kept as-is when already present and only given a default
// when missing.
type Inception int

const (
	Propagate Inception = iota
	Regenerate
)

// Properties is the immutable provenance tuple attached to every
// materialized frame (spec.md §3). The empty sentinel for every field is
// the empty string, used when a value is unknown (e.g. a publisher's
// first run has no prior transaction).
type Properties struct {
	Transaction string
	Execution   string
	Version     string
	Timestamp   time.Time
}

// GenContext is what a column Generator sees: the frame's Properties and
// the row index being generated.
type GenContext struct {
	Props Properties
	Row   int
}

// Generator computes the value for one row of a reserved column.
type Generator func(ctx GenContext) (any, error)

// ColumnSpec describes one reserved column: its type, default
// inception policy, and how to generate a value for it.
type ColumnSpec struct {
	Name      string
	Type      DType
	Inception Inception
	Generate  Generator
}

// idGen produces strictly increasing $td.id values within a batch by
// drawing successive tdid.ID values (tdid.New is monotonic per process).
func idGen(ctx GenContext) (any, error) {
	id, err := tdid.New()
	if err != nil {
		return nil, fmt.Errorf("syscol: generate $td.id: %w", err)
	}
	return id.String(), nil
}

// Spec is the closed reserved-column set S (spec.md §4.8). The original
// implementation's tableframe/_constants.py (StandardSystemColumns)
// names exactly two reserved columns, $td.id and $td.offset; of those,
// only $td.id is a per-row, per-materialize generated column — $td.offset
// names the persisted initial-values/offset slot threaded through
// request/response input[0]/output[0] (internal/funcexec.Offset), not a
// column applied to every data frame. Spec therefore contains only the
// column Apply actually generates.
var Spec = []ColumnSpec{
	{Name: "$td.id", Type: TypeString, Inception: Regenerate, Generate: idGen},
}

// ReservedOffsetName is $td.offset, StandardSystemColumns' other entry.
// It is reserved vocabulary, not a materialized column: see Spec's doc
// comment. Exported so callers that need to recognize the name (e.g. to
// reject it as a user-supplied column) don't have to duplicate the
// string literal.
const ReservedOffsetName = "$td.offset"

// ReservedNames returns every column name in Spec, in order.
func ReservedNames() []string {
	names := make([]string, len(Spec))
	for i, s := range Spec {
		names[i] = s.Name
	}
	return names
}

// Mode governs how Apply materializes reserved columns.
type Mode int

const (
	// ModeRaw drops every $td.* column then regenerates the full Spec.
	ModeRaw Mode = iota
	// ModeTab adds only reserved columns missing from the schema — an
	// idempotent load of an already-prepared table.
	ModeTab
	// ModeSys regenerates REGENERATE columns and fills in any missing
	// PROPAGATE columns, leaving present PROPAGATE columns untouched.
	ModeSys
)

// Apply materializes the reserved-column contract against frame under
// mode, returning a new Frame (the input is not mutated).
func Apply(frame *Frame, mode Mode, props Properties) (*Frame, error) {
	out := frame.Clone()
	if mode == ModeRaw {
		out = out.WithoutReserved()
	}

	for _, spec := range Spec {
		existing, present := out.Column(spec.Name)

		switch mode {
		case ModeTab:
			if present {
				continue
			}
		case ModeSys:
			if present && spec.Inception == Propagate {
				continue
			}
		case ModeRaw:
			// always (re)generate; present is always false post-strip.
		}
		_ = existing

		values := make([]any, out.RowCount)
		for i := 0; i < out.RowCount; i++ {
			v, err := spec.Generate(GenContext{Props: props, Row: i})
			if err != nil {
				return nil, fmt.Errorf("syscol: generate %s: %w", spec.Name, err)
			}
			values[i] = v
		}
		out.Set(Column{Name: spec.Name, Type: spec.Type, Values: values})
	}
	return out, nil
}

// ErrMissingRequiredColumn is returned by CheckRequired.
type ErrMissingRequiredColumn struct {
	Column string
}

func (e *ErrMissingRequiredColumn) Error() string {
	return fmt.Sprintf("syscol: missing required column %q", e.Column)
}

// CheckRequired fails with ErrMissingRequiredColumn naming the first gap
// if frame is missing any column in required.
func CheckRequired(frame *Frame, required []string) error {
	for _, name := range required {
		if !frame.HasColumn(name) {
			return &ErrMissingRequiredColumn{Column: name}
		}
	}
	return nil
}

// DefaultRequired is the required subset enforced on every persisted
// output when a caller doesn't supply its own: the full reserved set,
// i.e. $td.id — the only column Apply generates on every frame.
func DefaultRequired() []string {
	return ReservedNames()
}
