package sqlite

import (
	"fmt"
	"log"
	"reflect"
	"sync"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
	"github.com/umputun/sqlbind/pkg/traits"
)

// retirer is a registration record the engine drops through destroyShim.
type retirer interface {
	retire()
}

// function is the registration record of a scalar function.
type function struct {
	name      string
	sig       traits.Signature
	fn        reflect.Value // func value, or the Call method expression for function objects
	recv      reflect.Value // function object, invalid for plain funcs
	stateless reflect.Type  // set for stateless function objects, a fresh value is made per call
	owned     bool
	once      sync.Once
}

func (f *function) retire() {
	f.once.Do(func() {
		if f.owned {
			if err := closeValue(f.recv); err != nil {
				log.Printf("[WARN] can't close function %s: %v", f.name, err)
			}
		}
		log.Printf("[DEBUG] function %s dropped", f.name)
	})
}

func (f *function) call(c *Context, recv reflect.Value, argc int32, argv uintptr) {
	defer c.recoverPanic(f.name)

	args, err := decodeArgs(c.tls, f.sig, argc, argv)
	if err != nil {
		c.ResultError(fmt.Errorf("%s: %w", f.name, err))
		return
	}
	res, err := f.sig.Outputs(f.fn.Call(f.sig.Inputs(recv, reflect.ValueOf(c), args)))
	if err != nil {
		c.ResultError(err)
		return
	}
	if f.sig.Result == nil {
		return
	}
	if err := c.Result(res.Interface()); err != nil {
		c.ResultError(err)
	}
}

// decodeArgs converts engine arguments to the types the signature expects.
func decodeArgs(tls *libc.TLS, sig traits.Signature, argc int32, argv uintptr) ([]reflect.Value, error) {
	if !sig.Accepts(int(argc)) {
		return nil, errcode.New(errcode.Mismatch, "called with %d arguments", argc)
	}
	args := make([]reflect.Value, argc)
	for i := range args {
		v := *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*ptrSize))
		arg, err := decode(valueSource{tls: tls, v: v}, sig.ArgType(i))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = arg
	}
	return args, nil
}

// closeValue calls Close on v if it has one.
func closeValue(v reflect.Value) error {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	switch c := v.Interface().(type) {
	case interface{ Close() error }:
		return c.Close()
	case interface{ Close() }:
		c.Close()
	}
	return nil
}

func hasClose(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	_, ok := pt.MethodByName("Close")
	return ok
}

func scalarShim(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	f, ok := memory.Lookup[*function](memory.Handles, sqlite3.Xsqlite3_user_data(tls, ctx))
	if !ok {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx)
		return
	}
	f.call(&Context{tls: tls, ctx: ctx, argc: int(argc)}, f.recv, argc, argv)
}

func statelessShim(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	f, ok := memory.Lookup[*function](memory.Handles, sqlite3.Xsqlite3_user_data(tls, ctx))
	if !ok || f.stateless == nil {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx)
		return
	}
	f.call(&Context{tls: tls, ctx: ctx, argc: int(argc)}, reflect.New(f.stateless), argc, argv)
}

func stepShim(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	if a, ok := lookupAggregate(tls, ctx); ok {
		a.step(&Context{tls: tls, ctx: ctx, argc: int(argc)}, a.stepM, argc, argv)
	}
}

func inverseShim(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	if a, ok := lookupAggregate(tls, ctx); ok {
		a.step(&Context{tls: tls, ctx: ctx, argc: int(argc)}, a.inverseM, argc, argv)
	}
}

func valueShim(tls *libc.TLS, ctx uintptr) {
	if a, ok := lookupAggregate(tls, ctx); ok {
		a.current(&Context{tls: tls, ctx: ctx})
	}
}

func finalShim(tls *libc.TLS, ctx uintptr) {
	if a, ok := lookupAggregate(tls, ctx); ok {
		a.final(&Context{tls: tls, ctx: ctx})
	}
}

func lookupAggregate(tls *libc.TLS, ctx uintptr) (*aggregate, bool) {
	a, ok := memory.Lookup[*aggregate](memory.Handles, sqlite3.Xsqlite3_user_data(tls, ctx))
	if !ok {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx)
	}
	return a, ok
}

func collationShim(_ *libc.TLS, pApp uintptr, nLeft int32, zLeft uintptr, nRight int32, zRight uintptr) int32 {
	coll, ok := memory.Lookup[*collation](memory.Handles, pApp)
	if !ok {
		return 0
	}
	return coll.compare(goString(zLeft, int(nLeft)), goString(zRight, int(nRight)))
}

func destroyShim(_ *libc.TLS, pApp uintptr) {
	v, ok := memory.Handles.Release(pApp)
	if !ok {
		return
	}
	if r, ok := v.(retirer); ok {
		r.retire()
	}
}
