// Package memory provides placement of Go values into engine-allocated buffers, the engine allocator
// itself, a handle registry for Go values addressed from engine memory and tagged opaque pointers.
package memory

import (
	"reflect"
	"unsafe"
)

// MallocAlign is the alignment the engine allocator guarantees for every returned buffer.
const MallocAlign = 8

// SizeFor returns the byte count to request from the engine allocator so that a value of the given
// size and alignment can be carved out of the returned buffer.
func SizeFor(size, align uintptr) uintptr {
	if align <= MallocAlign {
		return size
	}
	return size + align - 1
}

// AlignFor moves raw forward to the next multiple of align. Must be paired with SizeFor.
func AlignFor(raw, align uintptr) uintptr {
	if raw == 0 || align <= MallocAlign {
		return raw
	}
	return (raw + align - 1) &^ (align - 1)
}

// StorageSize returns the allocation size needed to hold a correctly aligned T.
func StorageSize[T any]() uintptr {
	var v T
	return SizeFor(unsafe.Sizeof(v), unsafe.Alignof(v))
}

// PointerCast recovers an aligned *T from a buffer sized by StorageSize[T].
// Returns nil for a nil buffer.
func PointerCast[T any](raw uintptr) *T {
	var v T
	p := AlignFor(raw, unsafe.Alignof(v))
	if p == 0 {
		return nil
	}
	return (*T)(unsafe.Pointer(p))
}

// TypeStorageSize is StorageSize for a type known only at run time.
func TypeStorageSize(t reflect.Type) uintptr {
	return SizeFor(t.Size(), uintptr(t.Align()))
}

// TypePointerCast is PointerCast for a type known only at run time, returns an addressable value.
func TypePointerCast(t reflect.Type, raw uintptr) (reflect.Value, bool) {
	p := AlignFor(raw, uintptr(t.Align()))
	if p == 0 {
		return reflect.Value{}, false
	}
	return reflect.NewAt(t, unsafe.Pointer(p)).Elem(), true
}

// PointerFree reports whether values of t hold no Go pointers and can live in memory
// the garbage collector does not scan. Zeroed memory is a valid zero value for such types.
func PointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || PointerFree(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if !PointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
