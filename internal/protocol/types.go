package protocol

import "time"

// FunctionBundle names the tar.gz bundle to extract and, optionally, the
// mount whose credentials are needed to fetch it.
type FunctionBundle struct {
	URI       string  `yaml:"uri"`
	EnvPrefix *string `yaml:"env_prefix,omitempty"`
}

// Info carries the run-level metadata accompanying a request.
type Info struct {
	FunctionBundle           FunctionBundle `yaml:"function_bundle"`
	DatasetDataVersion       string         `yaml:"dataset_data_version,omitempty"`
	TriggeredOn              *time.Time     `yaml:"triggered_on,omitempty"`
	ExecutionPlanTriggeredOn *time.Time     `yaml:"execution_plan_triggered_on,omitempty"`
}

// Table is a physical table reference. A Table with URI == nil denotes
// "no data for this slot in this run".
type Table struct {
	Name               string     `yaml:"name"`
	URI                *string    `yaml:"uri"`
	EnvPrefix          *string    `yaml:"env_prefix,omitempty"`
	ExecutionID        string     `yaml:"execution_id,omitempty"`
	TransactionID      string     `yaml:"transaction_id,omitempty"`
	TableDataVersionID string     `yaml:"table_data_version_id,omitempty"`
	InputIdx           int        `yaml:"input_idx,omitempty"`
	TriggeredOn        *time.Time `yaml:"triggered_on,omitempty"`
}

// HasData reports whether this Table names real data to scan.
func (t Table) HasData() bool { return t.URI != nil && *t.URI != "" }

// TableVersions is an ordered historical slice of a table, e.g. the
// resolution of a `@A..B` range or a `@v1,v2,v3` comma-list.
type TableVersions struct {
	Tables []Table `yaml:"list_of_table_objects"`
}

// InputSlotKind distinguishes the two shapes an input slot can take.
type InputSlotKind int

const (
	InputSlotTable InputSlotKind = iota
	InputSlotVersions
)

// InputSlot holds either a single Table or a TableVersions group, mirroring
// the (Table | TableVersions) union in spec.md's input list.
type InputSlot struct {
	Kind     InputSlotKind
	Table    Table
	Versions TableVersions
}

// InitialValuesSlotName is the reserved name of input slot zero, which
// carries the function's prior offset/status rather than user data.
const InitialValuesSlotName = "$td.initial_values"

// Request is the V1 request document: bundle location, resolved inputs,
// and declared output slots.
type Request struct {
	Info   Info        `yaml:"info"`
	Input  []InputSlot `yaml:"input"`
	Output []Table     `yaml:"output"`
}

// OutputKind distinguishes a populated output from an explicitly empty one.
type OutputKind int

const (
	OutputData OutputKind = iota
	OutputNoData
)

// OutputItem is one element of a Response's output sequence.
type OutputItem struct {
	Kind  OutputKind
	Table Table
}

// Response is the V2 response document: one OutputItem per requested
// output, same order as Request.Output.
type Response struct {
	Output []OutputItem `yaml:"output"`
}

// Exception lengths, per spec.md §3.
const (
	MaxKindLen      = 64
	MaxMessageLen   = 128
	MaxErrorCodeLen = 16
)

// Exception is the V1 exception document written in place of a response
// when a run fails.
type Exception struct {
	Kind       string `yaml:"kind"`
	Message    string `yaml:"message"`
	ErrorCode  string `yaml:"error_code,omitempty"`
	ExitStatus int    `yaml:"exit_status"`
}

// Truncate clamps field lengths to the spec.md §3 bounds.
func (e *Exception) Truncate() {
	e.Kind = truncate(e.Kind, MaxKindLen)
	e.Message = truncate(e.Message, MaxMessageLen)
	e.ErrorCode = truncate(e.ErrorCode, MaxErrorCodeLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Exit statuses for the two exception categories spec.md §4.9 defines.
const (
	ExitGeneralError = 201
	ExitUserError    = 202
)
