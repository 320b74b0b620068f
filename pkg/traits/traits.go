// Package traits derives calling conventions of Go callables: arity, argument and result types
// and whether an execution context is expected, for funcs, function objects and methods.
package traits

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// MaxArity is the largest argument count the engine accepts for a function.
const MaxArity = 127

// CallMethod is the method name making a type a function object.
const CallMethod = "Call"

var (
	// ErrInvalidArgument reports a signature the engine can't bind, e.g. too many arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAmbiguous reports a value with more than one callable shape.
	ErrAmbiguous = errors.New("ambiguous callable")
	// ErrNotCallable reports a value with no callable shape at all.
	ErrNotCallable = errors.New("not callable")
	// ErrNoResult reports a callable producing no value and unable to set one through the context.
	ErrNoResult = errors.New("callable without result must take the context")
	// ErrUnsupportedType reports an argument or result type the marshaling layer can't convert.
	ErrUnsupportedType = errors.New("unsupported type")
)

var errorType = reflect.TypeFor[error]()

// Signature describes how a callable is invoked.
type Signature struct {
	Type         reflect.Type   // the introspected func type, receiver included for methods
	Receiver     bool           // a receiver precedes the context and the arguments
	NeedsContext bool           // the first argument after the receiver is the execution context
	Arity        int            // number of SQL-level arguments, -1 for variadic callables
	MinArgs      int            // fixed arguments preceding the variadic tail
	Variadic     bool           // the last entry of Args is the element type of the variadic tail
	Args         []reflect.Type // SQL-level argument types
	Result       reflect.Type   // nil when the callable produces no value
	ReturnsError bool           // the last result is an error
}

type cacheKey struct {
	fn, ctx  reflect.Type
	receiver bool
}

var cache sync.Map // cacheKey -> Signature

// Func introspects a func type. ctx is the execution context type, nil if contexts are not supported.
func Func(fn, ctx reflect.Type) (Signature, error) {
	return inspect(fn, ctx, false)
}

// Method introspects the named method of t. Value and pointer receivers are treated alike,
// t may be either the type or a pointer to it. The returned bool is false if there is no such method.
func Method(t reflect.Type, name string, ctx reflect.Type) (Signature, bool, error) {
	if t.Kind() != reflect.Pointer {
		t = reflect.PointerTo(t)
	}
	m, ok := t.MethodByName(name)
	if !ok {
		return Signature{}, false, nil
	}
	sig, err := inspect(m.Type, ctx, true)
	if err != nil {
		return Signature{}, true, fmt.Errorf("method %s.%s: %w", t.Elem().Name(), name, err)
	}
	return sig, true, nil
}

// Callable introspects v, a func value or a function object with a single Call method.
// For function objects the signature describes the Call method with its receiver.
func Callable(v any, ctx reflect.Type) (Signature, error) {
	if v == nil {
		return Signature{}, ErrNotCallable
	}
	t := reflect.TypeOf(v)
	pt := t
	if t.Kind() != reflect.Pointer {
		pt = reflect.PointerTo(t)
	}
	_, hasCall := pt.MethodByName(CallMethod)
	isFunc := t.Kind() == reflect.Func

	switch {
	case isFunc && hasCall:
		return Signature{}, fmt.Errorf("%w: %s is a func with a %s method", ErrAmbiguous, t, CallMethod)
	case isFunc:
		return Func(t, ctx)
	case hasCall:
		sig, _, err := Method(t, CallMethod, ctx)
		return sig, err
	}
	return Signature{}, fmt.Errorf("%w: %s", ErrNotCallable, t)
}

func inspect(fn, ctx reflect.Type, receiver bool) (Signature, error) {
	key := cacheKey{fn: fn, ctx: ctx, receiver: receiver}
	if sig, ok := cache.Load(key); ok {
		return sig.(Signature), nil
	}

	sig, err := build(fn, ctx, receiver)
	if err != nil {
		return Signature{}, err
	}
	cache.Store(key, sig)
	return sig, nil
}

func build(fn, ctx reflect.Type, receiver bool) (Signature, error) {
	if fn.Kind() != reflect.Func {
		return Signature{}, fmt.Errorf("%w: %s", ErrNotCallable, fn)
	}
	sig := Signature{Type: fn, Receiver: receiver, Variadic: fn.IsVariadic()}

	in := 0
	if receiver {
		in++
	}
	if ctx != nil && fn.NumIn() > in && fn.In(in) == ctx {
		sig.NeedsContext = true
		in++
	}
	for i := in; i < fn.NumIn(); i++ {
		at := fn.In(i)
		if sig.Variadic && i == fn.NumIn()-1 {
			at = at.Elem()
		}
		if ctx != nil && at == ctx {
			return Signature{}, fmt.Errorf("%w: context must be the first argument of %s", ErrInvalidArgument, fn)
		}
		sig.Args = append(sig.Args, at)
	}

	sig.Arity = len(sig.Args)
	if sig.Variadic {
		sig.MinArgs = len(sig.Args) - 1
		sig.Arity = -1
	}
	if len(sig.Args) > MaxArity {
		return Signature{}, fmt.Errorf("%w: %d arguments, at most %d allowed", ErrInvalidArgument, len(sig.Args), MaxArity)
	}

	switch fn.NumOut() {
	case 0:
	case 1:
		if fn.Out(0) == errorType {
			sig.ReturnsError = true
		} else {
			sig.Result = fn.Out(0)
		}
	case 2:
		if fn.Out(1) != errorType || fn.Out(0) == errorType {
			return Signature{}, fmt.Errorf("%w: %s must return (value, error)", ErrInvalidArgument, fn)
		}
		sig.Result, sig.ReturnsError = fn.Out(0), true
	default:
		return Signature{}, fmt.Errorf("%w: %s returns %d values", ErrInvalidArgument, fn, fn.NumOut())
	}
	return sig, nil
}

// CheckResult rejects a callable that neither produces a value nor can set one through the context.
func (s Signature) CheckResult() error {
	if s.Result == nil && !s.NeedsContext {
		return fmt.Errorf("%w: %s", ErrNoResult, s.Type)
	}
	return nil
}

// CheckArgs verifies every argument type with decodable, and the result type with encodable if set.
func (s Signature) CheckArgs(decodable, encodable func(reflect.Type) bool) error {
	for i, at := range s.Args {
		if !decodable(at) {
			return fmt.Errorf("%w: argument %d of type %s", ErrUnsupportedType, i, at)
		}
	}
	if s.Result != nil && encodable != nil && !encodable(s.Result) {
		return fmt.Errorf("%w: result of type %s", ErrUnsupportedType, s.Result)
	}
	return nil
}

// Accepts reports whether argc arguments can be passed.
func (s Signature) Accepts(argc int) bool {
	if s.Variadic {
		return argc >= s.MinArgs
	}
	return argc == s.Arity
}

// ArgType returns the type of the i-th SQL-level argument, expanding the variadic tail.
func (s Signature) ArgType(i int) reflect.Type {
	if s.Variadic && i >= s.MinArgs {
		return s.Args[len(s.Args)-1]
	}
	return s.Args[i]
}

// Inputs assembles the full argument list: receiver, context, then the SQL-level arguments.
// recv and ctx are ignored when the signature doesn't take them.
func (s Signature) Inputs(recv, ctx reflect.Value, args []reflect.Value) []reflect.Value {
	res := make([]reflect.Value, 0, len(args)+2)
	if s.Receiver {
		res = append(res, recv)
	}
	if s.NeedsContext {
		res = append(res, ctx)
	}
	return append(res, args...)
}

// Outputs splits call results into the value, if any, and the error.
func (s Signature) Outputs(out []reflect.Value) (reflect.Value, error) {
	var res reflect.Value
	if s.Result != nil {
		res = out[0]
	}
	if s.ReturnsError {
		if e := out[len(out)-1]; !e.IsNil() {
			return res, e.Interface().(error)
		}
	}
	return res, nil
}
