package plugin

import (
	"context"
	"testing"

	"github.com/tabsdata/tdworker/internal/funcexec"
)

func TestNormalizeChunkResultString(t *testing.T) {
	r, err := NormalizeChunkResult("path/a.csv")
	if err != nil {
		t.Fatalf("NormalizeChunkResult: %v", err)
	}
	if len(r) != 1 || r[0] != "path/a.csv" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestNormalizeChunkResultStringSlice(t *testing.T) {
	r, err := NormalizeChunkResult([]string{"a.csv", "b.csv"})
	if err != nil {
		t.Fatalf("NormalizeChunkResult: %v", err)
	}
	if len(r) != 2 || r[0] != "a.csv" || r[1] != "b.csv" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestNormalizeChunkResultStruct(t *testing.T) {
	type pair struct {
		First  string
		Second string
	}
	r, err := NormalizeChunkResult(pair{First: "a.csv", Second: "b.csv"})
	if err != nil {
		t.Fatalf("NormalizeChunkResult: %v", err)
	}
	if len(r) != 2 || r[0] != "a.csv" || r[1] != "b.csv" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestNormalizeChunkResultStructNonStringField(t *testing.T) {
	type bad struct {
		First string
		Count int
	}
	if _, err := NormalizeChunkResult(bad{First: "a.csv", Count: 3}); err == nil {
		t.Fatalf("expected error for non-string field")
	}
}

func TestNormalizeChunkResultUnsupportedType(t *testing.T) {
	if _, err := NormalizeChunkResult(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	b := Binding{Kind: BindingTransformer, FunctionName: "double", Inputs: []string{"in0"}, Outputs: []string{"out0"}}
	if err := r.Register(b); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := r.Lookup("double")
	if !ok {
		t.Fatalf("expected binding to be found")
	}
	if got.FunctionName != "double" || got.Kind != BindingTransformer {
		t.Fatalf("unexpected binding: %+v", got)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("expected missing lookup to fail")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	b := Binding{Kind: BindingPublisher, FunctionName: "ingest"}
	if err := r.Register(b); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestBaseInitialValuesRoundTrip(t *testing.T) {
	var b baseInitialValues
	if v := b.GetInitialValues(); v == nil || len(v) != 0 {
		t.Fatalf("expected empty initial values by default, got %+v", v)
	}
	b.SetInitialValues(funcexec.Offset{"cursor": "abc"})
	if v := b.GetInitialValues(); v["cursor"] != "abc" {
		t.Fatalf("expected round-tripped value, got %+v", v)
	}
}

func TestFuncSourcePluginChunk(t *testing.T) {
	p := NewFuncSourcePlugin(func(ctx context.Context, workingDir string, initialValues funcexec.Offset) (any, error) {
		if initialValues == nil {
			t.Fatalf("expected non-nil initial values")
		}
		return []string{workingDir + "/a.csv", workingDir + "/b.csv"}, nil
	})
	p.SetInitialValues(funcexec.Offset{"cursor": "1"})

	result, err := p.Chunk(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(result) != 2 || result[0] != "/work/a.csv" {
		t.Fatalf("unexpected chunk result: %+v", result)
	}
}

func TestFuncSourcePluginChunkError(t *testing.T) {
	p := NewFuncSourcePlugin(func(ctx context.Context, workingDir string, initialValues funcexec.Offset) (any, error) {
		return nil, context.DeadlineExceeded
	})
	if _, err := p.Chunk(context.Background(), "/work"); err == nil {
		t.Fatalf("expected Chunk to propagate fn error")
	}
}
