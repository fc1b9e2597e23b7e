// Package plugin defines the public surface user bundles bind to: a
// source that materializes chunks of data, a destination that streams
// frames to a sink, and the declaration (Binding) that wires a function
// name to its input table-version strings and output names.
package plugin

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/tabsdata/tdworker/internal/funcexec"
	"github.com/tabsdata/tdworker/internal/syscol"
)

// ChunkResult normalizes a SourcePlugin.Chunk return value: a single
// path, a fixed-arity tuple of paths, or a variable-length list of
// paths, matching whatever arity the binding declares.
type ChunkResult []string

// NormalizeChunkResult accepts a string, []string, or a struct of string
// fields and flattens it to a ChunkResult, the Go equivalent of the
// source's tuple/list return reflection (see funcexec.Normalize for the
// table-valued analogue).
func NormalizeChunkResult(v any) (ChunkResult, error) {
	switch t := v.(type) {
	case string:
		return ChunkResult{t}, nil
	case []string:
		return ChunkResult(t), nil
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Struct:
			out := make(ChunkResult, rv.NumField())
			for i := 0; i < rv.NumField(); i++ {
				s, ok := rv.Field(i).Interface().(string)
				if !ok {
					return nil, fmt.Errorf("plugin: chunk result field %d is %s, not string", i, rv.Field(i).Type())
				}
				out[i] = s
			}
			return out, nil
		default:
			return nil, fmt.Errorf("plugin: unsupported chunk result type %T", v)
		}
	}
}

// SourcePlugin materializes data under a working directory and returns
// the path(s) it wrote, while exposing a mutable initial-values mapping
// the platform persists across runs.
type SourcePlugin interface {
	Chunk(ctx context.Context, workingDir string) (ChunkResult, error)
	GetInitialValues() funcexec.Offset
	SetInitialValues(funcexec.Offset)
}

// DestinationPlugin streams frames to its sink. A nil frame denotes an
// empty input slot.
type DestinationPlugin interface {
	Stream(ctx context.Context, workingDir string, frames ...*syscol.Frame) error
}

// BindingKind distinguishes the three ways a function can be declared.
type BindingKind int

const (
	BindingPublisher BindingKind = iota
	BindingTransformer
	BindingSubscriber
)

// Binding is the Publisher/Transformer/Subscriber declaration: a
// function name, its input table-version strings
// (`collection/table@ref`), and its declared output names.
type Binding struct {
	Kind         BindingKind
	FunctionName string
	Inputs       []string
	Outputs      []string
}

// Registry collects Bindings a bundle declares, by function name.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register adds a Binding, erroring on a duplicate function name.
func (r *Registry) Register(b Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[b.FunctionName]; exists {
		return fmt.Errorf("plugin: function %q already registered", b.FunctionName)
	}
	r.bindings[b.FunctionName] = b
	return nil
}

// Lookup returns the Binding for name, if registered.
func (r *Registry) Lookup(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// baseInitialValues is an embeddable helper implementing the
// Get/SetInitialValues half of SourcePlugin for concrete plugins that
// don't need custom storage.
type baseInitialValues struct {
	mu     sync.Mutex
	values funcexec.Offset
}

func (b *baseInitialValues) GetInitialValues() funcexec.Offset {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = funcexec.Offset{}
	}
	return b.values
}

func (b *baseInitialValues) SetInitialValues(v funcexec.Offset) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = v
}

// ChunkFunc is the function a FuncSourcePlugin delegates Chunk to.
type ChunkFunc func(ctx context.Context, workingDir string, initialValues funcexec.Offset) (any, error)

// FuncSourcePlugin adapts a plain ChunkFunc (and the embedded
// initial-values storage) into a SourcePlugin, for bundles that don't
// need a hand-written struct.
type FuncSourcePlugin struct {
	baseInitialValues
	fn ChunkFunc
}

// NewFuncSourcePlugin wraps fn as a SourcePlugin.
func NewFuncSourcePlugin(fn ChunkFunc) *FuncSourcePlugin {
	return &FuncSourcePlugin{fn: fn}
}

func (p *FuncSourcePlugin) Chunk(ctx context.Context, workingDir string) (ChunkResult, error) {
	result, err := p.fn(ctx, workingDir, p.GetInitialValues())
	if err != nil {
		return nil, err
	}
	return NormalizeChunkResult(result)
}
