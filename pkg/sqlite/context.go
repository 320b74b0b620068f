package sqlite

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"runtime/debug"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
)

// Context is the call context handed to functions and aggregates taking *Context as the first argument.
// It is valid only for the duration of the call.
type Context struct {
	tls  *libc.TLS
	ctx  uintptr
	argc int
}

var contextType = reflect.TypeFor[*Context]()

// ArgCount returns the number of arguments of the current call.
func (c *Context) ArgCount() int { return c.argc }

// Result encodes v as the result. Errors are reported through ResultError.
func (c *Context) Result(v any) error {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		c.ResultNull()
		return nil
	}
	if err, ok := v.(error); ok {
		c.ResultError(err)
		return nil
	}
	return encode(c.tls, resultSink{tls: c.tls, ctx: c.ctx}, v)
}

// ResultNull sets NULL.
func (c *Context) ResultNull() { sqlite3.Xsqlite3_result_null(c.tls, c.ctx) }

// ResultInt64 sets an integer.
func (c *Context) ResultInt64(v int64) { sqlite3.Xsqlite3_result_int64(c.tls, c.ctx, v) }

// ResultFloat sets a floating point value.
func (c *Context) ResultFloat(v float64) { sqlite3.Xsqlite3_result_double(c.tls, c.ctx, v) }

// ResultText sets a copy of s.
func (c *Context) ResultText(s string) {
	if err := encodeText(c.tls, resultSink{tls: c.tls, ctx: c.ctx}, s); err != nil {
		sqlite3.Xsqlite3_result_error_nomem(c.tls, c.ctx)
	}
}

// ResultBlob sets a copy of b, an empty b gives a zero-length blob.
func (c *Context) ResultBlob(b []byte) {
	if err := encodeBlob(c.tls, resultSink{tls: c.tls, ctx: c.ctx}, b); err != nil {
		sqlite3.Xsqlite3_result_error_nomem(c.tls, c.ctx)
	}
}

// ResultZeroBlob sets a blob of n zero bytes.
func (c *Context) ResultZeroBlob(n int) { sqlite3.Xsqlite3_result_zeroblob(c.tls, c.ctx, int32(n)) }

// ResultError fails the call. An *errcode.Error sets its message and code, a bare errcode.Code
// sets the code with the engine's text for it, any other error sets its message with SQLITE_ERROR.
func (c *Context) ResultError(err error) {
	if err == nil {
		return
	}

	var e *errcode.Error
	if errors.As(err, &e) && e != nil {
		c.resultErrorMsg(err.Error())
		sqlite3.Xsqlite3_result_error_code(c.tls, c.ctx, int32(e.Code))
		return
	}

	var code errcode.Code
	if errors.As(err, &code) {
		if code.Primary() == errcode.NoMem {
			sqlite3.Xsqlite3_result_error_nomem(c.tls, c.ctx)
			return
		}
		if _, bare := err.(errcode.Code); !bare {
			c.resultErrorMsg(err.Error())
		}
		sqlite3.Xsqlite3_result_error_code(c.tls, c.ctx, int32(code))
		return
	}

	c.resultErrorMsg(err.Error())
}

func (c *Context) resultErrorMsg(msg string) {
	z, err := libc.CString(msg)
	if err != nil {
		sqlite3.Xsqlite3_result_error_nomem(c.tls, c.ctx)
		return
	}
	defer libc.Xfree(c.tls, z)
	sqlite3.Xsqlite3_result_error(c.tls, c.ctx, z, -1)
}

// AuxData returns the value attached to the i-th argument by SetAuxData in an earlier call,
// nil if there is none or the engine dropped it.
func (c *Context) AuxData(i int) any {
	id := sqlite3.Xsqlite3_get_auxdata(c.tls, c.ctx, int32(i))
	v, _ := memory.Handles.Get(id)
	return v
}

// SetAuxData attaches v to the i-th argument. The engine keeps it while the argument stays constant,
// e.g. to reuse a compiled pattern across rows.
func (c *Context) SetAuxData(i int, v any) {
	sqlite3.Xsqlite3_set_auxdata(c.tls, c.ctx, int32(i), memory.Handles.Put(v), memory.ReleaseFunc())
}

// recoverPanic turns a panic in user code into an error result. It must be deferred directly.
func (c *Context) recoverPanic(name string) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("[WARN] %s panicked: %v\n%s", name, r, debug.Stack())
	if err, ok := r.(error); ok {
		c.ResultError(fmt.Errorf("panic: %w", err))
		return
	}
	c.ResultError(errcode.New(errcode.Generic, "panic: %v", r))
}
