package protocol

// Category partitions a status code into one of three buckets: a run
// that failed for good, a run that finished successfully for good, or a
// run still in flight.
type Category int

const (
	CategoryInFlight Category = iota
	CategoryFinalFailed
	CategoryFinalSuccessful
)

// Code is one of the short status codes shared across the Execution,
// Transaction, FunctionRun, and DataVersion status families (spec.md §3).
// The meaning of a bare code is family-dependent for two overloaded
// letters: F means "Failed" for Execution/Transaction but "Finished"
// (successfully) for FunctionRun/DataVersion, and the families otherwise
// share one code table. Each Status-family type below carries its own
// category table for this reason rather than a single shared one.
type Code string

const (
	Committed    Code = "C"
	Done         Code = "D"
	ErrorCode    Code = "E"
	Failed       Code = "F" // Execution/Transaction: failed
	Finished     Code = "F" // FunctionRun/DataVersion: finished successfully
	OnHold       Code = "H"
	Running      Code = "R"
	RunRequested Code = "RR"
	Rescheduled  Code = "RS"
	Scheduled    Code = "S"
	Stalled      Code = "L"
	Canceled     Code = "X"
	Yanked       Code = "Y"
	Unexpected   Code = "U"
)

// Status is the generic status type used where the caller doesn't
// distinguish which status family a code belongs to (the worker only
// ever reports its own outcome, never drives these transitions).
type Status Code

var statusCategory = map[Code]Category{
	Committed:    CategoryFinalSuccessful,
	Done:         CategoryFinalSuccessful,
	ErrorCode:    CategoryFinalFailed,
	Failed:       CategoryFinalFailed,
	OnHold:       CategoryInFlight,
	Running:      CategoryInFlight,
	RunRequested: CategoryInFlight,
	Rescheduled:  CategoryInFlight,
	Scheduled:    CategoryInFlight,
	Stalled:      CategoryInFlight,
	Canceled:     CategoryFinalFailed,
	Yanked:       CategoryFinalFailed,
	Unexpected:   CategoryFinalFailed,
}

func (s Status) Category() Category      { return statusCategory[Code(s)] }
func (s Status) IsFinalFailed() bool     { return s.Category() == CategoryFinalFailed }
func (s Status) IsFinalSuccessful() bool { return s.Category() == CategoryFinalSuccessful }
func (s Status) IsInFlight() bool        { return s.Category() == CategoryInFlight }

// ExecutionStatus tracks an end-to-end execution plan run.
type ExecutionStatus Code

func (s ExecutionStatus) IsFinalFailed() bool     { return Status(s).IsFinalFailed() }
func (s ExecutionStatus) IsFinalSuccessful() bool { return Status(s).IsFinalSuccessful() }
func (s ExecutionStatus) IsInFlight() bool        { return Status(s).IsInFlight() }

// TransactionStatus tracks a single transaction within an execution.
type TransactionStatus Code

func (s TransactionStatus) IsFinalFailed() bool     { return Status(s).IsFinalFailed() }
func (s TransactionStatus) IsFinalSuccessful() bool { return Status(s).IsFinalSuccessful() }
func (s TransactionStatus) IsInFlight() bool        { return Status(s).IsInFlight() }

// FunctionRunStatus tracks one function invocation. F here means
// "Finished" (successful), overriding the generic table's Failed mapping.
type FunctionRunStatus Code

var functionRunCategory = map[Code]Category{
	Committed:    CategoryFinalSuccessful,
	Done:         CategoryFinalSuccessful,
	Finished:     CategoryFinalSuccessful,
	ErrorCode:    CategoryFinalFailed,
	OnHold:       CategoryInFlight,
	Running:      CategoryInFlight,
	RunRequested: CategoryInFlight,
	Rescheduled:  CategoryInFlight,
	Scheduled:    CategoryInFlight,
	Stalled:      CategoryInFlight,
	Canceled:     CategoryFinalFailed,
	Yanked:       CategoryFinalFailed,
	Unexpected:   CategoryFinalFailed,
}

func (s FunctionRunStatus) Category() Category      { return functionRunCategory[Code(s)] }
func (s FunctionRunStatus) IsFinalFailed() bool     { return s.Category() == CategoryFinalFailed }
func (s FunctionRunStatus) IsFinalSuccessful() bool { return s.Category() == CategoryFinalSuccessful }
func (s FunctionRunStatus) IsInFlight() bool        { return s.Category() == CategoryInFlight }

// DataVersionStatus tracks a materialized table-data version. Shares
// FunctionRunStatus's table since Finished means the version is usable.
type DataVersionStatus Code

func (s DataVersionStatus) Category() Category { return functionRunCategory[Code(s)] }
func (s DataVersionStatus) IsFinalFailed() bool {
	return s.Category() == CategoryFinalFailed
}
func (s DataVersionStatus) IsFinalSuccessful() bool {
	return s.Category() == CategoryFinalSuccessful
}
func (s DataVersionStatus) IsInFlight() bool { return s.Category() == CategoryInFlight }
