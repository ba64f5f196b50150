package host

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Callbacks is the native callback surface of the host.
type Callbacks interface {
	// Has returns whether the host exposes the named operation.
	Has(op string) bool

	// Invoke calls the named operation. Hosts return ErrNotImplemented for
	// operations that are declared but not implemented in the running
	// version.
	Invoke(op string, args ...any) (any, error)
}

// ErrNotImplemented is returned by hosts for operations they declare but do
// not implement.
var ErrNotImplemented = errors.New("not implemented")

// Func is a single host operation.
type Func func(args ...any) (any, error)

// Funcs is a Callbacks implementation backed by a map of operations.
type Funcs map[string]Func

// Has implements Callbacks.
func (f Funcs) Has(op string) bool {
	_, ok := f[op]
	return ok
}

// Invoke implements Callbacks.
func (f Funcs) Invoke(op string, args ...any) (any, error) {
	fn, ok := f[op]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, op)
	}
	return fn(args...)
}

// reflectCallbacks exposes the exported methods of a Go value as host
// operations. Operation names are matched case-insensitively, so the method
// MakeHTTPRequest serves the operation makeHttpRequest.
type reflectCallbacks struct {
	methods map[string]reflect.Value
}

var errorType = reflect.TypeFor[error]()

// Reflect returns Callbacks that call the exported methods of v.
func Reflect(v any) Callbacks {
	rc := &reflectCallbacks{
		methods: make(map[string]reflect.Value),
	}
	if v == nil {
		return rc
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := range rt.NumMethod() {
		rc.methods[strings.ToLower(rt.Method(i).Name)] = rv.Method(i)
	}
	return rc
}

// Has implements Callbacks.
func (rc *reflectCallbacks) Has(op string) bool {
	_, ok := rc.methods[strings.ToLower(op)]
	return ok
}

// Invoke implements Callbacks.
func (rc *reflectCallbacks) Invoke(op string, args ...any) (any, error) {
	method, ok := rc.methods[strings.ToLower(op)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, op)
	}

	in, err := callArgs(method.Type(), args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return callResults(method.Call(in))
}

func callArgs(fnType reflect.Type, args []any) ([]reflect.Value, error) {
	numIn := fnType.NumIn()
	switch {
	case fnType.IsVariadic() && len(args) < numIn-1:
		return nil, fmt.Errorf("%w: need at least %d, got %d", ErrInvalidArguments, numIn-1, len(args))
	case !fnType.IsVariadic() && len(args) != numIn:
		return nil, fmt.Errorf("%w: need %d, got %d", ErrInvalidArguments, numIn, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var paramType reflect.Type
		if fnType.IsVariadic() && i >= numIn-1 {
			paramType = fnType.In(numIn - 1).Elem()
		} else {
			paramType = fnType.In(i)
		}

		if arg == nil {
			in[i] = reflect.Zero(paramType)
			continue
		}

		argValue := reflect.ValueOf(arg)
		switch {
		case argValue.Type().AssignableTo(paramType):
			in[i] = argValue
		case isNumeric(argValue.Kind()) && isNumeric(paramType.Kind()):
			in[i] = argValue.Convert(paramType)
		default:
			return nil, fmt.Errorf(
				"%w: argument %d is %s, need %s",
				ErrInvalidArguments, i, argValue.Type(), paramType,
			)
		}
	}
	return in, nil
}

func callResults(out []reflect.Value) (any, error) {
	var err error
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if !out[n-1].IsNil() {
			err, _ = out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}

	switch len(out) {
	case 0:
		return nil, err
	case 1:
		return out[0].Interface(), err
	default:
		results := make([]any, len(out))
		for i, v := range out {
			results[i] = v.Interface()
		}
		return results, err
	}
}

func isNumeric(kind reflect.Kind) bool {
	switch kind { //nolint:exhaustive
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
