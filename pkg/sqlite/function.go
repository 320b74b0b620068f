package sqlite

import (
	"fmt"
	"log"
	"reflect"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
	"github.com/umputun/sqlbind/pkg/traits"
)

// FuncOption sets function flags at registration.
type FuncOption func(flags *int32)

// Deterministic marks a function returning the same result for the same arguments,
// so the planner may factor calls out.
func Deterministic() FuncOption {
	return func(flags *int32) { *flags |= sqlite3.SQLITE_DETERMINISTIC }
}

// DirectOnly forbids calling the function from triggers, views and schema structures.
func DirectOnly() FuncOption {
	return func(flags *int32) { *flags |= sqlite3.SQLITE_DIRECTONLY }
}

// Innocuous marks a function without side effects, safe to use from schema structures.
func Innocuous() FuncOption {
	return func(flags *int32) { *flags |= sqlite3.SQLITE_INNOCUOUS }
}

// RegisterFunction makes fn callable from SQL as name. fn is a func or a function object with a Call
// method, and may take *Context as its first argument. It returns a value, an error, both or nothing,
// in the last case the result is set through the context.
//
// The connection borrows fn, nothing is closed when the function is dropped. fn is called without
// locking, so a stateful fn must not be shared by connections used concurrently.
func RegisterFunction(c *Conn, name string, fn any, opts ...FuncOption) error {
	return registerFunction(c, name, fn, false, opts)
}

// CreateFunction is RegisterFunction with the connection owning fn: a function object with a Close
// method is closed once the engine drops the function, on Close of the connection, on replacement or
// when the registration fails.
func CreateFunction(c *Conn, name string, fn any, opts ...FuncOption) error {
	return registerFunction(c, name, fn, true, opts)
}

func registerFunction(c *Conn, name string, fn any, owned bool, opts []FuncOption) error {
	sig, err := traits.Callable(fn, contextType)
	if err != nil {
		return registrationError(name, err)
	}
	if err = checkFunction(sig); err != nil {
		return registrationError(name, err)
	}

	f := &function{name: name, sig: sig, owned: owned}
	if sig.Receiver {
		rv := reflect.ValueOf(fn)
		if rv.Kind() != reflect.Pointer {
			p := reflect.New(rv.Type())
			p.Elem().Set(rv)
			rv = p
		}
		if rv.IsNil() {
			return registrationError(name, fmt.Errorf("%w: nil %s", traits.ErrNotCallable, rv.Type()))
		}
		m, _ := rv.Type().MethodByName(traits.CallMethod)
		f.fn, f.recv = m.Func, rv
	} else {
		f.fn = reflect.ValueOf(fn)
	}
	return c.createFunction(name, sig.Arity, opts, f, memory.FuncPointer(scalarShim), 0, 0, 0, 0)
}

// CreateStatelessFunction registers the function object type F without an instance. F must be
// zero-sized, a fresh F is made for every call.
func CreateStatelessFunction[F any](c *Conn, name string, opts ...FuncOption) error {
	t := reflect.TypeFor[F]()
	if t.Kind() == reflect.Pointer || t.Size() != 0 {
		return registrationError(name, fmt.Errorf("%w: stateless %s must be a zero-sized type", traits.ErrInvalidArgument, t))
	}
	sig, ok, err := traits.Method(t, traits.CallMethod, contextType)
	if err != nil {
		return registrationError(name, err)
	}
	if !ok {
		return registrationError(name, fmt.Errorf("%w: %s has no %s method", traits.ErrNotCallable, t, traits.CallMethod))
	}
	if err = checkFunction(sig); err != nil {
		return registrationError(name, err)
	}

	m, _ := reflect.PointerTo(t).MethodByName(traits.CallMethod)
	f := &function{name: name, sig: sig, fn: m.Func, stateless: t}
	return c.createFunction(name, sig.Arity, opts, f, memory.FuncPointer(statelessShim), 0, 0, 0, 0)
}

func checkFunction(sig traits.Signature) error {
	if err := sig.CheckResult(); err != nil {
		return err
	}
	return sig.CheckArgs(decodable, encodable)
}

// registrationError reports a callable the binding layer can't register as misuse, keeping the cause.
func registrationError(name string, err error) error {
	return fmt.Errorf("can't register %s: %w", name, errcode.Wrap(errcode.Misuse, err))
}

// createFunction hands rec to the engine as user data. A zero xStep registers a scalar function,
// otherwise an aggregate, usable as a window function when xValue and xInverse are set.
func (c *Conn) createFunction(name string, nArg int, opts []FuncOption, rec retirer,
	xFunc, xStep, xFinal, xValue, xInverse uintptr) error {
	if c.db == 0 {
		rec.retire()
		return errcode.New(errcode.Misuse, "can't register %s: connection is closed", name)
	}

	flags := int32(sqlite3.SQLITE_UTF8)
	for _, opt := range opts {
		opt(&flags)
	}

	zName, err := c.cstring(name)
	if err != nil {
		rec.retire()
		return err
	}
	defer c.free(zName)

	pApp := memory.Handles.Put(rec)
	var rc int32
	if xStep == 0 {
		rc = sqlite3.Xsqlite3_create_function_v2(c.tls, c.db, zName, int32(nArg), flags, pApp,
			xFunc, 0, 0, memory.FuncPointer(destroyShim))
	} else {
		rc = sqlite3.Xsqlite3_create_window_function(c.tls, c.db, zName, int32(nArg), flags, pApp,
			xStep, xFinal, xValue, xInverse, memory.FuncPointer(destroyShim))
	}
	if rc != sqlite3.SQLITE_OK {
		err := c.errorf(rc)
		// the engine runs the destructor itself on some failures
		if memory.Handles.ReleaseIf(pApp, rec) {
			rec.retire()
		}
		return fmt.Errorf("can't register %s: %w", name, err)
	}
	log.Printf("[DEBUG] registered function %s/%d on %s", name, nArg, c.name)
	return nil
}
