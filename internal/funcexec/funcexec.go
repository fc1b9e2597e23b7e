// Package funcexec implements the function executor pipeline: resolve a
// bundle's declared contract and request inputs, invoke user code, and
// persist its outputs with the reserved system-column contract applied.
//
// The pipeline shape (parallel pre-fetch via errgroup, then a sequential
// integrity-gated body) is adapted from the teacher's
// executor.Executor.Invoke, trading VM/vsock semantics for bundle/table
// semantics.
package funcexec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tabsdata/tdworker/internal/bundle"
	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/metrics"
	"github.com/tabsdata/tdworker/internal/observability"
	"github.com/tabsdata/tdworker/internal/protocol"
	"github.com/tabsdata/tdworker/internal/syscol"
	"github.com/tabsdata/tdworker/internal/tableio"
	"github.com/tabsdata/tdworker/internal/turi"
)

// UserError is returned by a UserFunc to signal a function-level failure
// (the Go analogue of the source language's CustomException) as opposed
// to an infrastructure failure. It maps to protocol.ExitUserError rather
// than protocol.ExitGeneralError.
type UserError struct {
	Kind    string
	Message string
	Code    string
}

func (e *UserError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// UserFunc is the function contract this port exposes to user code: the
// Go analogue of "positional arguments mirroring the declared input
// order", since there is no dynamic-language tuple/list return here.
// inputs[i] is either a *syscol.Frame, a []*syscol.Frame (for a
// TableVersions slot), or nil ("no data" for that slot).
type UserFunc func(ctx context.Context, offset Offset, inputs ...any) (any, error)

// Run executes the eight contractual steps of the function executor
// against req using fn, writing a response or exception into
// responseFolder. Every failure is recorded in the written
// exception.yaml and also returned as a non-nil error: a *UserError from
// fn comes back wrapped (so errors.As finds it and the caller can exit
// with protocol.ExitUserError); any other failure is returned wrapped
// with the failing step's kind.
func Run(ctx context.Context, cfg *bundle.Config, req *protocol.Request, fn UserFunc, responseFolder string) error {
	ctx, span := observability.StartSpan(ctx, "funcexec.Run",
		attribute.String("tdworker.function", cfg.FunctionName))
	defer span.End()

	start := time.Now()
	runID := uuid.New().String()
	sc := span.SpanContext()
	entry := &logging.RequestLog{
		RunID:       runID,
		Function:    cfg.FunctionName,
		Execution:   req.Info.DatasetDataVersion,
		Transaction: req.Info.DatasetDataVersion,
	}
	if sc.HasTraceID() {
		entry.TraceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		entry.SpanID = sc.SpanID().String()
	}

	logRun := func(success bool, runErr error, bytesSunk int64, offsetSize int) {
		entry.DurationMs = time.Since(start).Milliseconds()
		entry.Success = success
		entry.BytesSunk = bytesSunk
		entry.OffsetSize = offsetSize
		if runErr != nil {
			entry.Error = runErr.Error()
		}
		logging.Default().Log(entry)
	}

	// Output slot zero mirrors input slot zero: reserved for the
	// function's persisted offset, not part of the declared output arity.
	if err := cfg.CheckArity(len(req.Input)-1, len(req.Output)-1); err != nil {
		logRun(false, err, 0, 0)
		return writeFailure(responseFolder, "ArityMismatch", err, protocol.ExitGeneralError)
	}

	seenOutputs := make(map[string]bool, len(req.Output))
	for _, out := range req.Output {
		if out.URI == nil || *out.URI == "" {
			continue
		}
		if seenOutputs[*out.URI] {
			err := fmt.Errorf("duplicate output location %q", *out.URI)
			logRun(false, err, 0, 0)
			return writeFailure(responseFolder, "ConfigurationError", err, protocol.ExitGeneralError)
		}
		seenOutputs[*out.URI] = true
	}

	offset, err := LoadOffset(ctx, req.Input[0])
	if err != nil {
		logRun(false, err, 0, 0)
		return writeFailure(responseFolder, "OffsetError", err, protocol.ExitGeneralError)
	}

	inputs, err := resolveInputs(ctx, req.Input[1:])
	if err != nil {
		logRun(false, err, 0, len(offset))
		return writeFailure(responseFolder, "InputResolutionError", err, protocol.ExitGeneralError)
	}

	result, err := fn(ctx, offset, inputs...)
	if err != nil {
		metrics.Global().RecordRun(time.Since(start).Milliseconds(), 0, 0, false)
		observability.SetSpanError(span, err)
		if ue, ok := err.(*UserError); ok {
			logRun(false, ue, 0, len(offset))
			exc := &protocol.Exception{Kind: ue.Kind, Message: ue.Message, ErrorCode: ue.Code, ExitStatus: protocol.ExitUserError}
			exc.Truncate()
			if werr := protocol.WriteException(responseFolder, exc); werr != nil {
				return fmt.Errorf("funcexec: write exception after user error: %w", werr)
			}
			return fmt.Errorf("funcexec: %w", ue)
		}
		logRun(false, err, 0, len(offset))
		return writeFailure(responseFolder, "ExecutionError", err, protocol.ExitGeneralError)
	}

	declaredOutputs := req.Output[1:]
	results, err := Normalize(result, len(declaredOutputs))
	if err != nil {
		logRun(false, err, 0, len(offset))
		return writeFailure(responseFolder, "ResultArityError", err, protocol.ExitGeneralError)
	}

	props := frameProperties(req)
	outputItems, bytesSunk, err := sinkOutputs(ctx, declaredOutputs, results, props)
	if err != nil {
		logRun(false, err, bytesSunk, len(offset))
		return writeFailure(responseFolder, "SinkError", err, protocol.ExitGeneralError)
	}

	if err := SaveOffset(ctx, req.Output[0], offset); err != nil {
		logRun(false, err, bytesSunk, len(offset))
		return writeFailure(responseFolder, "OffsetPersistError", err, protocol.ExitGeneralError)
	}
	resp := &protocol.Response{Output: append([]protocol.OutputItem{{Kind: protocol.OutputData, Table: req.Output[0]}}, outputItems...)}

	metrics.Global().RecordRun(time.Since(start).Milliseconds(), 0, bytesSunk, true)
	observability.SetSpanOK(span)

	if err := protocol.WriteResponse(responseFolder, resp); err != nil {
		logRun(false, err, bytesSunk, len(offset))
		return fmt.Errorf("funcexec: write response: %w", err)
	}
	logRun(true, nil, bytesSunk, len(offset))
	logging.Op().Info("run complete", "run_id", runID, "function", cfg.FunctionName, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// resolveInputs fetches every non-initial-values input slot concurrently
// via errgroup, mirroring the teacher's parallel pre-fetch shape.
func resolveInputs(ctx context.Context, slots []protocol.InputSlot) ([]any, error) {
	inputs := make([]any, len(slots))
	g, gctx := errgroup.WithContext(ctx)

	for i, slot := range slots {
		i, slot := i, slot
		g.Go(func() error {
			switch slot.Kind {
			case protocol.InputSlotTable:
				frame, err := scanTable(gctx, slot.Table)
				if err != nil {
					return fmt.Errorf("input %d (%s): %w", i, slot.Table.Name, err)
				}
				inputs[i] = frame
			case protocol.InputSlotVersions:
				frames := make([]*syscol.Frame, len(slot.Versions.Tables))
				for j, t := range slot.Versions.Tables {
					frame, err := scanTable(gctx, t)
					if err != nil {
						return fmt.Errorf("input %d version %d: %w", i, j, err)
					}
					frames[j] = frame
				}
				inputs[i] = frames
			default:
				return fmt.Errorf("input %d: unknown slot kind", i)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func scanTable(ctx context.Context, t protocol.Table) (*syscol.Frame, error) {
	if !t.HasData() {
		return nil, nil
	}
	loc := turi.Location{URI: *t.URI, EnvPrefix: t.EnvPrefix}
	frame, err := tableio.Scan(ctx, loc, tableio.Options{AllowEmpty: true})
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	return syscol.Apply(frame, syscol.ModeTab, syscol.Properties{})
}

func frameProperties(req *protocol.Request) syscol.Properties {
	props := syscol.Properties{
		Execution:   req.Info.DatasetDataVersion,
		Transaction: req.Info.DatasetDataVersion,
	}
	if req.Info.TriggeredOn != nil {
		props.Timestamp = *req.Info.TriggeredOn
	}
	return props
}

// sinkOutputs applies the reserved system-column contract to every
// non-nil result and writes it to its declared output slot, building the
// matching Response. A nil result sinks nothing and is reported as
// OutputNoData.
func sinkOutputs(ctx context.Context, outputs []protocol.Table, results ResultsCollection, props syscol.Properties) ([]protocol.OutputItem, int64, error) {
	items := make([]protocol.OutputItem, len(outputs))
	var bytesSunk int64

	for i, out := range outputs {
		frame := results[i]
		if frame == nil {
			items[i] = protocol.OutputItem{Kind: protocol.OutputNoData, Table: out}
			continue
		}

		materialized, err := syscol.Apply(frame, syscol.ModeSys, props)
		if err != nil {
			return nil, 0, fmt.Errorf("apply system columns to output %d: %w", i, err)
		}
		if err := syscol.CheckRequired(materialized, syscol.DefaultRequired()); err != nil {
			return nil, 0, fmt.Errorf("output %d: %w", i, err)
		}

		loc := turi.Location{URI: derefOrEmpty(out.URI), EnvPrefix: out.EnvPrefix}
		if err := tableio.Sink(ctx, loc, materialized); err != nil {
			return nil, 0, fmt.Errorf("sink output %d: %w", i, err)
		}
		bytesSunk += estimateSize(materialized)
		items[i] = protocol.OutputItem{Kind: protocol.OutputData, Table: out}
	}
	return items, bytesSunk, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// estimateSize gives a coarse byte count for metrics, not an exact wire size.
func estimateSize(frame *syscol.Frame) int64 {
	return int64(frame.RowCount * len(frame.Columns) * 8)
}

func writeFailure(responseFolder, kind string, err error, exitStatus int) error {
	exc := &protocol.Exception{Kind: kind, Message: err.Error(), ExitStatus: exitStatus}
	exc.Truncate()
	if werr := protocol.WriteException(responseFolder, exc); werr != nil {
		return fmt.Errorf("funcexec: write exception after %q: %w", kind, werr)
	}
	return fmt.Errorf("funcexec: %s: %w", kind, err)
}
