package sqlite

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
	"github.com/umputun/sqlbind/pkg/traits"
)

type addTwo struct{}

func (addTwo) Call(x int64) int64 { return x + 2 }

type adder struct{ n int64 }

func (a *adder) Call(x int64) int64 { return x + a.n }

// counter returns its argument plus the number of calls so far.
type counter struct {
	calls  int64
	closed *int
}

func (c *counter) Call(x int64) int64 {
	c.calls++
	return x + c.calls
}

func (c *counter) Close() error {
	*c.closed++
	return nil
}

func TestRegisterFunction(t *testing.T) {
	c := openMem(t)

	t.Run("plain func", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "inc", func(x int64) int64 { return x + 1 }, Deterministic()))
		assert.Equal(t, int64(43), queryValue[int64](t, c, "SELECT inc(42)"))
		assert.Equal(t, int64(8), queryValue[int64](t, c, "SELECT inc(?)", 7))
	})

	t.Run("closure", func(t *testing.T) {
		delta := int64(3)
		require.NoError(t, RegisterFunction(c, "add3", func(x int64) int64 { return x + delta }))
		assert.Equal(t, int64(45), queryValue[int64](t, c, "SELECT add3(42)"))
	})

	t.Run("function object by value", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "add5", adder{n: 5}))
		assert.Equal(t, int64(47), queryValue[int64](t, c, "SELECT add5(42)"))
	})

	t.Run("context result", func(t *testing.T) {
		err := RegisterFunction(c, "ctx_add5", func(ctx *Context, x int64) {
			assert.Equal(t, 1, ctx.ArgCount())
			ctx.ResultInt64(x + 5)
		})
		require.NoError(t, err)
		assert.Equal(t, int64(47), queryValue[int64](t, c, "SELECT ctx_add5(42)"))
	})

	t.Run("text and blob", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "greet", func(s string) string { return "hello " + s }))
		require.NoError(t, RegisterFunction(c, "rev", func(b []byte) []byte {
			res := make([]byte, len(b))
			for i, v := range b {
				res[len(b)-1-i] = v
			}
			return res
		}))
		assert.Equal(t, "hello world", queryValue[string](t, c, "SELECT greet('world')"))
		assert.Equal(t, []byte{3, 2, 1}, queryValue[[]byte](t, c, "SELECT rev(?)", []byte{1, 2, 3}))
	})

	t.Run("variadic", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "sum_all", func(xs ...int64) int64 {
			var res int64
			for _, x := range xs {
				res += x
			}
			return res
		}))
		assert.Equal(t, int64(0), queryValue[int64](t, c, "SELECT sum_all()"))
		assert.Equal(t, int64(6), queryValue[int64](t, c, "SELECT sum_all(1, 2, 3)"))
	})

	t.Run("nullable argument", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "or_zero", func(x *int64) int64 {
			if x == nil {
				return 0
			}
			return *x
		}))
		assert.Equal(t, int64(0), queryValue[int64](t, c, "SELECT or_zero(NULL)"))
		assert.Equal(t, int64(9), queryValue[int64](t, c, "SELECT or_zero(9)"))
	})

	t.Run("argument out of range", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "small", func(x uint8) int64 { return int64(x) }))
		assert.Equal(t, int64(200), queryValue[int64](t, c, "SELECT small(200)"))
		err := queryErr(t, c, "SELECT small(300)")
		require.Error(t, err)
		assert.Equal(t, errcode.Range, errcode.Of(err))
		assert.Contains(t, err.Error(), "small: argument 0")
	})
}

func TestCreateStatelessFunction(t *testing.T) {
	c := openMem(t)
	require.NoError(t, CreateStatelessFunction[addTwo](c, "add_two", Deterministic()))
	assert.Equal(t, int64(44), queryValue[int64](t, c, "SELECT add_two(42)"))

	err := CreateStatelessFunction[adder](c, "add_n")
	require.Error(t, err)
	assert.ErrorIs(t, err, traits.ErrInvalidArgument)
	assert.Equal(t, errcode.Misuse, errcode.Of(err))

	err = CreateStatelessFunction[*addTwo](c, "add_two_ptr")
	assert.ErrorIs(t, err, traits.ErrInvalidArgument)

	err = CreateStatelessFunction[struct{}](c, "nothing")
	assert.ErrorIs(t, err, traits.ErrNotCallable)
}

func TestCreateFunction_Owned(t *testing.T) {
	before := memory.Handles.Len()
	c, err := Open(":memory:")
	require.NoError(t, err)

	closed := 0
	require.NoError(t, CreateFunction(c, "count_up", &counter{closed: &closed}))
	assert.Equal(t, int64(43), queryValue[int64](t, c, "SELECT count_up(42)"))
	assert.Equal(t, int64(44), queryValue[int64](t, c, "SELECT count_up(42)"))
	assert.Equal(t, 0, closed, "kept while registered")

	t.Run("replacement closes the old one", func(t *testing.T) {
		replacedClosed := 0
		require.NoError(t, CreateFunction(c, "count_up", &counter{closed: &replacedClosed}))
		assert.Equal(t, 1, closed)
		assert.Equal(t, int64(43), queryValue[int64](t, c, "SELECT count_up(42)"))
		require.NoError(t, c.Close())
		assert.Equal(t, 1, replacedClosed)
	})

	t.Run("borrowed is never closed", func(t *testing.T) {
		cc, err := Open(":memory:")
		require.NoError(t, err)
		borrowedClosed := 0
		require.NoError(t, RegisterFunction(cc, "count_up", &counter{closed: &borrowedClosed}))
		require.NoError(t, cc.Close())
		assert.Equal(t, 0, borrowedClosed)
	})

	assert.Equal(t, before, memory.Handles.Len(), "all registration records released")
}

func TestFunction_Errors(t *testing.T) {
	c := openMem(t)

	t.Run("coded error", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "fail_coded", func() (int64, error) {
			return 0, errcode.New(errcode.Constraint, "custom constraint")
		}))
		err := queryErr(t, c, "SELECT fail_coded()")
		require.Error(t, err)
		assert.Equal(t, errcode.Constraint, errcode.Of(err))
		assert.Contains(t, err.Error(), "custom constraint")
	})

	t.Run("bare code", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "fail_perm", func() (int64, error) { return 0, errcode.Perm }))
		err := queryErr(t, c, "SELECT fail_perm()")
		require.Error(t, err)
		assert.Equal(t, errcode.Perm, errcode.Of(err))
		assert.ErrorIs(t, err, errcode.Perm)
		assert.Equal(t, errcode.Perm.Description(), err.Error(), "the engine's text for the code")
	})

	t.Run("plain error", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "fail_plain", func(x int64) (int64, error) {
			return 0, errors.New("something went wrong")
		}))
		err := queryErr(t, c, "SELECT fail_plain(1)")
		require.Error(t, err)
		assert.Equal(t, errcode.Generic, errcode.Of(err))
		assert.Contains(t, err.Error(), "something went wrong")
	})

	t.Run("panic", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "kaboom", func() int64 { panic("kaboom") }))
		err := queryErr(t, c, "SELECT kaboom()")
		require.Error(t, err)
		assert.Equal(t, errcode.Generic, errcode.Of(err))
		assert.Contains(t, err.Error(), "panic: kaboom")

		// the connection survives
		assert.Equal(t, int64(1), queryValue[int64](t, c, "SELECT 1"))
	})

	t.Run("error result through context", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "fail_ctx", func(ctx *Context) {
			ctx.ResultError(errcode.New(errcode.Mismatch, "bad input"))
		}))
		err := queryErr(t, c, "SELECT fail_ctx()")
		require.Error(t, err)
		assert.Equal(t, errcode.Mismatch, errcode.Of(err))
	})
}

func TestRegisterFunction_Rejects(t *testing.T) {
	c := openMem(t)

	// reflect.FuncOf allows at most 128 inputs and outputs together, so the too wide func has no result
	makeFunc := func(n int, out ...reflect.Type) any {
		in := make([]reflect.Type, n)
		for i := range in {
			in[i] = reflect.TypeFor[int64]()
		}
		ft := reflect.FuncOf(in, out, false)
		return reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
			if len(out) == 0 {
				return nil
			}
			return []reflect.Value{args[0]}
		}).Interface()
	}

	t.Run("max arity", func(t *testing.T) {
		require.NoError(t, RegisterFunction(c, "wide", makeFunc(traits.MaxArity, reflect.TypeFor[int64]())))
		args := strings.TrimSuffix(strings.Repeat("7,", traits.MaxArity), ",")
		assert.Equal(t, int64(7), queryValue[int64](t, c, "SELECT wide("+args+")"))
	})

	t.Run("too many arguments", func(t *testing.T) {
		err := RegisterFunction(c, "too_wide", makeFunc(traits.MaxArity+1))
		require.Error(t, err)
		assert.ErrorIs(t, err, traits.ErrInvalidArgument)
		assert.ErrorIs(t, err, errcode.Misuse)
	})

	t.Run("no result", func(t *testing.T) {
		err := RegisterFunction(c, "noop", func(x int64) {})
		assert.ErrorIs(t, err, traits.ErrNoResult)
		assert.Equal(t, errcode.Misuse, errcode.Of(err))
	})

	t.Run("unsupported argument", func(t *testing.T) {
		err := RegisterFunction(c, "chan_arg", func(ch chan int) int64 { return 0 })
		assert.ErrorIs(t, err, traits.ErrUnsupportedType)
	})

	t.Run("not callable", func(t *testing.T) {
		err := RegisterFunction(c, "num", 42)
		assert.ErrorIs(t, err, traits.ErrNotCallable)
		err = RegisterFunction(c, "nil_obj", (*adder)(nil))
		assert.ErrorIs(t, err, traits.ErrNotCallable)
	})
}

func TestContext_AuxData(t *testing.T) {
	c := openMem(t)

	compiles := 0
	err := RegisterFunction(c, "re_match", func(ctx *Context, pattern, s string) (bool, error) {
		re, ok := ctx.AuxData(0).(*regexp.Regexp)
		if !ok {
			compiles++
			var err error
			if re, err = regexp.Compile(pattern); err != nil {
				return false, err
			}
			ctx.SetAuxData(0, re)
		}
		return re.MatchString(s), nil
	})
	require.NoError(t, err)

	n := queryValue[int64](t, c, `WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i+1 FROM n WHERE i < 5)
		SELECT count(*) FROM n WHERE re_match('^[0-9]+$', i)`)
	assert.Equal(t, int64(5), n)
	assert.Less(t, compiles, 5, "pattern reused across rows")

	err = queryErr(t, c, "SELECT re_match('(', 'x')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing closing )")
}
