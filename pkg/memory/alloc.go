package memory

import (
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
)

// FuncPointer converts a function defined by a top-level declaration to an engine callback address.
// The function value is stored in read-only data and never moves; the result for closures is undefined.
func FuncPointer[T any](f T) uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct{ f T }{f}))
}

// Alloc requests n bytes from the engine allocator.
func Alloc(tls *libc.TLS, n uintptr) (uintptr, error) {
	if n > 1<<31-1 {
		return 0, errcode.New(errcode.TooBig, "can't allocate %d bytes", n)
	}
	p := sqlite3.Xsqlite3_malloc(tls, int32(n))
	if p == 0 && n != 0 {
		return 0, errcode.New(errcode.NoMem, "can't allocate %d bytes", n)
	}
	if p != 0 {
		clear(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	}
	return p, nil
}

// Free returns p to the engine allocator, nil is ignored.
func Free(tls *libc.TLS, p uintptr) {
	if p != 0 {
		sqlite3.Xsqlite3_free(tls, p)
	}
}

// FreeFunc returns the engine address of a destructor releasing engine-allocated memory.
func FreeFunc() uintptr { return FuncPointer(freeTrampoline) }

func freeTrampoline(tls *libc.TLS, p uintptr) { Free(tls, p) }

// Managed is a T placed into engine-allocated memory. T must be pointer-free.
type Managed[T any] struct {
	tls   *libc.TLS
	raw   uintptr
	ptr   *T
	owned bool
}

// MakeManaged allocates storage for T from the engine allocator and constructs it in place with init.
// If init fails or panics the raw allocation is freed before the error is returned.
func MakeManaged[T any](tls *libc.TLS, init func(*T) error) (m *Managed[T], err error) {
	t := reflect.TypeFor[T]()
	if !PointerFree(t) {
		return nil, errcode.New(errcode.Misuse, "type %s holds Go pointers and can't live in engine memory", t)
	}

	raw, err := Alloc(tls, StorageSize[T]())
	if err != nil {
		return nil, err
	}
	if raw == 0 { // zero-sized T, keep a valid address around
		if raw, err = Alloc(tls, 1); err != nil {
			return nil, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			Free(tls, raw)
			m, err = nil, fmt.Errorf("can't construct %s: %v", t, r)
		}
	}()

	ptr := PointerCast[T](raw)
	if init != nil {
		if err := init(ptr); err != nil {
			Free(tls, raw)
			return nil, fmt.Errorf("can't construct %s: %w", t, err)
		}
	}
	return &Managed[T]{tls: tls, raw: raw, ptr: ptr, owned: true}, nil
}

// Value returns the constructed object, nil after Free.
func (m *Managed[T]) Value() *T { return m.ptr }

// Addr returns the raw engine address of the allocation.
func (m *Managed[T]) Addr() uintptr { return m.raw }

// Owned reports whether Free will release the memory.
func (m *Managed[T]) Owned() bool { return m.owned }

// Free releases the allocation, repeated calls are no-ops.
func (m *Managed[T]) Free() {
	if !m.owned || m.raw == 0 {
		return
	}
	Free(m.tls, m.raw)
	m.raw, m.ptr, m.owned = 0, nil, false
}

// Detach passes ownership of the allocation to the caller, typically the engine, and returns the raw address.
// Returns 0 if the memory is not owned anymore.
func (m *Managed[T]) Detach() uintptr {
	if !m.owned {
		return 0
	}
	m.owned = false
	return m.raw
}

// Borrow wraps an engine address produced by PointerCast-compatible storage without taking ownership.
func Borrow[T any](raw uintptr) *Managed[T] {
	return &Managed[T]{raw: raw, ptr: PointerCast[T](raw)}
}

// ManagedTag is the pointer tag used for Managed[T] passed through the engine.
func ManagedTag[T any]() string { return "$ptr$" + reflect.TypeFor[T]().String() }
