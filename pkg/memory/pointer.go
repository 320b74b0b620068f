package memory

import (
	"reflect"
	"sync"

	"modernc.org/libc"
)

// Tagger lets a type choose the tag its pointers travel under.
type Tagger interface {
	PointerTag() string
}

// Pointer is a typed opaque pointer to a Go value. The engine sees a registry handle and a tag string,
// and refuses to hand the pointer to a consumer expecting a different tag.
type Pointer[T any] struct {
	v *T
}

// NewPointer wraps v for passing through the engine.
func NewPointer[T any](v *T) Pointer[T] { return Pointer[T]{v: v} }

// Value returns the wrapped value, nil if the engine delivered no pointer or a pointer with another tag.
func (p Pointer[T]) Value() *T { return p.v }

// IsNil reports whether nothing is wrapped.
func (p Pointer[T]) IsNil() bool { return p.v == nil }

// Tag returns the tag for pointers of this type.
func (p Pointer[T]) Tag() string { return PointerTag[T]() }

// PointerTag returns the tag of T: its PointerTag method if *T or T implements Tagger, the Go type name otherwise.
func PointerTag[T any]() string {
	var v T
	if tg, ok := any(&v).(Tagger); ok {
		return tg.PointerTag()
	}
	if tg, ok := any(v).(Tagger); ok {
		return tg.PointerTag()
	}
	return "go:" + reflect.TypeFor[T]().String()
}

// Handle registers the wrapped value and returns the id to pass as the engine pointer,
// paired with ReleaseFunc as its destructor. Returns 0 for a nil pointer.
func (p Pointer[T]) Handle() uintptr {
	if p.v == nil {
		return 0
	}
	return Handles.Put(p.v)
}

// PointerFromHandle resolves an engine pointer produced by Handle. Returns a nil Pointer when the
// handle is unknown or holds another type.
func PointerFromHandle[T any](id uintptr) Pointer[T] {
	v, ok := Lookup[*T](Handles, id)
	if !ok {
		return Pointer[T]{}
	}
	return Pointer[T]{v: v}
}

// ReleaseFunc returns the engine address of a destructor releasing a handle.
func ReleaseFunc() uintptr { return FuncPointer(releaseTrampoline) }

func releaseTrampoline(_ *libc.TLS, id uintptr) { Handles.Release(id) }

var tags = struct {
	mu sync.Mutex
	m  map[string]uintptr
}{m: make(map[string]uintptr)}

// TagPtr returns a C string for tag. The engine compares tags by content and keeps referencing the
// string while the pointer lives, so tag strings are interned and never freed.
func TagPtr(tag string) (uintptr, error) {
	tags.mu.Lock()
	defer tags.mu.Unlock()
	if p, ok := tags.m[tag]; ok {
		return p, nil
	}
	p, err := libc.CString(tag)
	if err != nil {
		return 0, err
	}
	tags.m[tag] = p
	return p, nil
}

// opaque is implemented by every Pointer[T], letting reflection-driven marshaling handle them.
type opaque interface {
	Tag() string
	Handle() uintptr
	fromHandle(id uintptr) any
}

func (p Pointer[T]) fromHandle(id uintptr) any { return PointerFromHandle[T](id) }

var opaqueType = reflect.TypeFor[opaque]()

// OpaqueTag reports whether t is a Pointer type and returns its tag.
func OpaqueTag(t reflect.Type) (string, bool) {
	if !t.Implements(opaqueType) {
		return "", false
	}
	return reflect.Zero(t).Interface().(opaque).Tag(), true
}

// OpaqueFromHandle resolves id into a value of the Pointer type t.
func OpaqueFromHandle(t reflect.Type, id uintptr) reflect.Value {
	return reflect.ValueOf(reflect.Zero(t).Interface().(opaque).fromHandle(id))
}

// OpaqueHandle registers the value wrapped by v if v is a Pointer, returning the handle and the tag.
func OpaqueHandle(v any) (id uintptr, tag string, ok bool) {
	o, ok := v.(opaque)
	if !ok {
		return 0, "", false
	}
	return o.Handle(), o.Tag(), true
}

// managed is implemented by every *Managed[T].
type managed interface {
	Detach() uintptr
	managedTag() string
	borrow(raw uintptr) any
}

func (m *Managed[T]) managedTag() string     { return ManagedTag[T]() }
func (m *Managed[T]) borrow(raw uintptr) any { return Borrow[T](raw) }

var managedType = reflect.TypeFor[managed]()

// ManagedTypeTag reports whether t is a *Managed type and returns its tag.
func ManagedTypeTag(t reflect.Type) (string, bool) {
	if !t.Implements(managedType) {
		return "", false
	}
	return reflect.Zero(t).Interface().(managed).managedTag(), true
}

// BorrowManaged wraps raw into a non-owning value of the *Managed type t.
func BorrowManaged(t reflect.Type, raw uintptr) reflect.Value {
	return reflect.ValueOf(reflect.Zero(t).Interface().(managed).borrow(raw))
}

// DetachManaged takes the allocation out of v if v is a *Managed, returning the raw address and the tag.
// raw is 0 if v doesn't own its memory anymore.
func DetachManaged(v any) (raw uintptr, tag string, ok bool) {
	m, ok := v.(managed)
	if !ok {
		return 0, "", false
	}
	if reflect.ValueOf(v).IsNil() {
		return 0, m.managedTag(), true
	}
	return m.Detach(), m.managedTag(), true
}
