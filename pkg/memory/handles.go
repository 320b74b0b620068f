package memory

import (
	"math/bits"
	"sync"
)

// Handles is the process-wide registry for Go values referenced from engine memory.
// Ids are passed to the engine as opaque pointers, 0 is never issued.
var Handles = NewRegistry()

// Registry maps small non-zero ids to Go values. Ids are recycled after release.
// Safe for concurrent use; the lock guards the map only, never the values.
type Registry struct {
	mu  sync.RWMutex
	m   map[uintptr]any
	ids idGen
}

// NewRegistry makes an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[uintptr]any)}
}

// Put stores v and returns its id.
func (r *Registry) Put(v any) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.ids.next()
	r.m[id] = v
	return id
}

// Get returns the value stored under id.
func (r *Registry) Get(id uintptr) (any, bool) {
	if id == 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[id]
	return v, ok
}

// Release removes id and returns the value it held. Releasing an unknown id is a no-op.
func (r *Registry) Release(id uintptr) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.m[id]
	if !ok {
		return nil, false
	}
	delete(r.m, id)
	r.ids.reclaim(id)
	return v, true
}

// ReleaseIf removes id only while it still holds v. Protects against releasing a recycled id.
func (r *Registry) ReleaseIf(id uintptr, v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[id]
	if !ok || cur != v {
		return false
	}
	delete(r.m, id)
	r.ids.reclaim(id)
	return true
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Lookup returns the value stored under id if it has type T.
func Lookup[T any](r *Registry, id uintptr) (T, bool) {
	var zero T
	v, ok := r.Get(id)
	if !ok {
		return zero, false
	}
	res, ok := v.(T)
	return res, ok
}

// idGen hands out the lowest free id, tracked in a bitset
type idGen struct {
	bitset []uint64
}

func (gen *idGen) next() uintptr {
	base := uintptr(1)
	for i := 0; i < len(gen.bitset); i, base = i+1, base+64 {
		b := gen.bitset[i]
		if b != 1<<64-1 {
			n := uintptr(bits.TrailingZeros64(^b))
			gen.bitset[i] |= 1 << n
			return base + n
		}
	}
	gen.bitset = append(gen.bitset, 1)
	return base
}

func (gen *idGen) reclaim(id uintptr) {
	bit := id - 1
	if int(bit/64) >= len(gen.bitset) {
		return
	}
	gen.bitset[bit/64] &^= 1 << (bit % 64)
}
