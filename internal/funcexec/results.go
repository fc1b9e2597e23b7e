package funcexec

import (
	"fmt"
	"reflect"

	"github.com/tabsdata/tdworker/internal/syscol"
)

// ResultsCollection is a user function's return value normalized to a
// fixed-length sequence matching the declared output arity. A nil
// element means "no data for this output slot" (spec.md's Option<T>).
type ResultsCollection []*syscol.Frame

// Normalize accepts nil, a single *syscol.Frame, a []*syscol.Frame, or a
// struct/array of *syscol.Frame fields (the Go analogue of the source
// language's tuple/list return), and flattens it into a ResultsCollection
// of length arity. Returns an error if the normalized length disagrees
// with arity.
func Normalize(result any, arity int) (ResultsCollection, error) {
	var frames []*syscol.Frame

	switch v := result.(type) {
	case nil:
		frames = make([]*syscol.Frame, arity)
	case *syscol.Frame:
		frames = []*syscol.Frame{v}
	case []*syscol.Frame:
		frames = v
	default:
		rv := reflect.ValueOf(result)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			frames = make([]*syscol.Frame, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				f, err := frameElem(rv.Index(i))
				if err != nil {
					return nil, fmt.Errorf("funcexec: normalize result[%d]: %w", i, err)
				}
				frames[i] = f
			}
		case reflect.Struct:
			frames = make([]*syscol.Frame, rv.NumField())
			for i := 0; i < rv.NumField(); i++ {
				f, err := frameElem(rv.Field(i))
				if err != nil {
					return nil, fmt.Errorf("funcexec: normalize result field %d: %w", i, err)
				}
				frames[i] = f
			}
		default:
			return nil, fmt.Errorf("funcexec: unsupported result type %T", result)
		}
	}

	if len(frames) != arity {
		return nil, fmt.Errorf("funcexec: function returned %d result(s), declared output arity is %d", len(frames), arity)
	}
	return ResultsCollection(frames), nil
}

// frameElem extracts a *syscol.Frame from a reflect.Value that may be a
// *syscol.Frame directly or a nil interface/pointer (-> nil frame,
// meaning no data).
func frameElem(rv reflect.Value) (*syscol.Frame, error) {
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
		return nil, nil
	}
	f, ok := rv.Interface().(*syscol.Frame)
	if !ok {
		return nil, fmt.Errorf("element is %s, not *syscol.Frame", rv.Type())
	}
	return f, nil
}
