package sqlite

import (
	"fmt"
	"log"
	"reflect"
	"unsafe"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
	"github.com/umputun/sqlbind/pkg/traits"
)

// aggregate method names
const (
	StepMethod    = "Step"
	InverseMethod = "Inverse"
	ValueMethod   = "Value"
)

// groupSlot is placed in the engine's per-group buffer for aggregates whose state can't live there.
// The state itself is kept in the handle registry.
type groupSlot struct {
	id          uintptr
	initialized uint32
}

type method struct {
	sig traits.Signature
	fn  reflect.Value // method expression on *A
}

func (m method) valid() bool { return m.fn.IsValid() }

// aggregate is the registration record of an aggregate type, the control block every group of a
// query is constructed from.
type aggregate struct {
	name   string
	typ    reflect.Type
	simple bool    // state lives directly in the engine buffer, no constructor, no Close
	size   uintptr // engine buffer size per group

	ctor     reflect.Value
	ctorSig  traits.Signature
	ctorArgs []reflect.Value

	stepM, inverseM, valueM method
}

// CreateAggregate registers the aggregate type A as name. *A must have
//
//	Step([*Context,] args...) [error]
//	Value([*Context]) [R] [error]
//
// and may have Inverse with the same arguments as Step, making the aggregate usable as a window
// function, and Close, called once when a group is done. Every group starts from the zero A.
func CreateAggregate[A any](c *Conn, name string, opts ...FuncOption) error {
	a, err := newAggregate(name, reflect.TypeFor[A]())
	if err != nil {
		return registrationError(name, err)
	}
	return c.registerAggregate(a, opts)
}

// CreateAggregateFunc is CreateAggregate with groups made by ctor(args...). ctor returns A or *A,
// optionally with an error, and is called lazily, once per group.
func CreateAggregateFunc[A any](c *Conn, name string, ctor any, args ...any) error {
	a, err := newAggregate(name, reflect.TypeFor[A]())
	if err != nil {
		return registrationError(name, err)
	}
	if err = a.bindConstructor(ctor, args); err != nil {
		return registrationError(name, err)
	}
	return c.registerAggregate(a, nil)
}

func newAggregate(name string, t reflect.Type) (*aggregate, error) {
	if t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface {
		return nil, fmt.Errorf("%w: aggregate state %s must be a concrete non-pointer type", traits.ErrInvalidArgument, t)
	}
	a := &aggregate{name: name, typ: t}

	var err error
	if a.stepM, err = lookupMethod(t, StepMethod, true); err != nil {
		return nil, err
	}
	if a.valueM, err = lookupMethod(t, ValueMethod, true); err != nil {
		return nil, err
	}
	if a.inverseM, err = lookupMethod(t, InverseMethod, false); err != nil {
		return nil, err
	}

	if err = a.stepM.sig.CheckArgs(decodable, nil); err != nil {
		return nil, err
	}
	if a.valueM.sig.Arity != 0 {
		return nil, fmt.Errorf("%w: %s.%s takes no arguments", traits.ErrInvalidArgument, t, ValueMethod)
	}
	if err = a.valueM.sig.CheckResult(); err != nil {
		return nil, err
	}
	if err = a.valueM.sig.CheckArgs(decodable, encodable); err != nil {
		return nil, err
	}
	if a.inverseM.valid() {
		if a.inverseM.sig.Arity != a.stepM.sig.Arity || a.inverseM.sig.MinArgs != a.stepM.sig.MinArgs {
			return nil, fmt.Errorf("%w: %s.%s and %s.%s take different arguments", traits.ErrInvalidArgument,
				t, StepMethod, t, InverseMethod)
		}
		if err = a.inverseM.sig.CheckArgs(decodable, nil); err != nil {
			return nil, err
		}
	}

	a.simple = memory.PointerFree(t) && !hasClose(t)
	a.size = unsafe.Sizeof(groupSlot{})
	if a.simple {
		a.size = max(memory.TypeStorageSize(t), 1)
	}
	return a, nil
}

func lookupMethod(t reflect.Type, name string, required bool) (method, error) {
	sig, ok, err := traits.Method(t, name, contextType)
	if err != nil {
		return method{}, err
	}
	if !ok {
		if required {
			return method{}, fmt.Errorf("%w: %s has no %s method", traits.ErrNotCallable, t, name)
		}
		return method{}, nil
	}
	m, _ := reflect.PointerTo(t).MethodByName(name)
	return method{sig: sig, fn: m.Func}, nil
}

// bindConstructor validates ctor against args and keeps both for lazy construction.
func (a *aggregate) bindConstructor(ctor any, args []any) error {
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor", traits.ErrNotCallable)
	}
	sig, err := traits.Func(reflect.TypeOf(ctor), nil)
	if err != nil {
		return err
	}
	if sig.Result != a.typ && sig.Result != reflect.PointerTo(a.typ) {
		return fmt.Errorf("%w: constructor must return %s or *%s", traits.ErrInvalidArgument, a.typ, a.typ)
	}
	if !sig.Accepts(len(args)) {
		return fmt.Errorf("%w: constructor takes %d arguments, %d bound", traits.ErrInvalidArgument, len(sig.Args), len(args))
	}

	bound := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := sig.ArgType(i)
		if arg == nil {
			bound[i] = reflect.Zero(want)
			continue
		}
		v := reflect.ValueOf(arg)
		switch {
		case v.Type().AssignableTo(want):
		case v.Type().ConvertibleTo(want):
			v = v.Convert(want)
		default:
			return fmt.Errorf("%w: constructor argument %d is %s, not %s", traits.ErrInvalidArgument, i, v.Type(), want)
		}
		bound[i] = v
	}

	a.simple = false
	a.size = unsafe.Sizeof(groupSlot{})
	a.ctor, a.ctorSig, a.ctorArgs = reflect.ValueOf(ctor), sig, bound
	return nil
}

func (c *Conn) registerAggregate(a *aggregate, opts []FuncOption) error {
	var xValue, xInverse uintptr
	if a.inverseM.valid() {
		xValue, xInverse = memory.FuncPointer(valueShim), memory.FuncPointer(inverseShim)
	}
	return c.createFunction(a.name, a.stepM.sig.Arity, opts, a, 0,
		memory.FuncPointer(stepShim), memory.FuncPointer(finalShim), xValue, xInverse)
}

func (a *aggregate) retire() { log.Printf("[DEBUG] aggregate %s dropped", a.name) }

// group returns the state of the current group, constructing it on first use.
// slot is nil for simple aggregates.
func (a *aggregate) group(c *Context) (recv reflect.Value, slot *groupSlot, err error) {
	buf := sqlite3.Xsqlite3_aggregate_context(c.tls, c.ctx, int32(a.size))
	if buf == 0 {
		return reflect.Value{}, nil, errcode.NoMem
	}
	if a.simple {
		v, _ := memory.TypePointerCast(a.typ, buf)
		return v.Addr(), nil, nil
	}

	slot = (*groupSlot)(unsafe.Pointer(buf))
	if slot.initialized != 0 {
		v, ok := memory.Handles.Get(slot.id)
		if !ok {
			return reflect.Value{}, nil, errcode.NoMem
		}
		return reflect.ValueOf(v), slot, nil
	}

	if recv, err = a.construct(c); err != nil {
		return reflect.Value{}, nil, err
	}
	slot.id = memory.Handles.Put(recv.Interface())
	slot.initialized = 1
	return recv, slot, nil
}

// construct makes the state of a new group as *A.
func (a *aggregate) construct(c *Context) (reflect.Value, error) {
	if !a.ctor.IsValid() {
		return reflect.New(a.typ), nil
	}
	v, err := a.ctorSig.Outputs(a.ctor.Call(a.ctorSig.Inputs(reflect.Value{}, reflect.ValueOf(c), a.ctorArgs)))
	if err != nil {
		return reflect.Value{}, fmt.Errorf("can't construct %s: %w", a.name, err)
	}
	if v.Type() == a.typ {
		p := reflect.New(a.typ)
		p.Elem().Set(v)
		return p, nil
	}
	if v.IsNil() {
		return reflect.Value{}, errcode.New(errcode.Generic, "constructor of %s returned nil", a.name)
	}
	return v, nil
}

// destroy closes and drops the state of a finished group. It runs once, from final only.
func (a *aggregate) destroy(recv reflect.Value, slot *groupSlot) {
	if slot == nil {
		return
	}
	id := slot.id
	slot.id, slot.initialized = 0, 0
	memory.Handles.ReleaseIf(id, recv.Interface())
	if err := closeValue(recv); err != nil {
		log.Printf("[WARN] can't close %s group: %v", a.name, err)
	}
}

func (a *aggregate) step(c *Context, m method, argc int32, argv uintptr) {
	defer c.recoverPanic(a.name)

	recv, _, err := a.group(c)
	if err != nil {
		c.ResultError(err)
		return
	}
	args, err := decodeArgs(c.tls, m.sig, argc, argv)
	if err != nil {
		c.ResultError(fmt.Errorf("%s: %w", a.name, err))
		return
	}
	if _, err = m.sig.Outputs(m.fn.Call(m.sig.Inputs(recv, reflect.ValueOf(c), args))); err != nil {
		c.ResultError(err)
	}
}

// current reports the value of the window without finishing the group.
func (a *aggregate) current(c *Context) {
	defer c.recoverPanic(a.name)

	recv, _, err := a.group(c)
	if err != nil {
		c.ResultError(err)
		return
	}
	a.emit(c, recv)
}

// final reports the value and destroys the group. An empty group is constructed here,
// so it still gets the value of a fresh state.
func (a *aggregate) final(c *Context) {
	defer c.recoverPanic(a.name)

	recv, slot, err := a.group(c)
	if err != nil {
		c.ResultError(err)
		return
	}
	defer a.destroy(recv, slot)
	a.emit(c, recv)
}

func (a *aggregate) emit(c *Context, recv reflect.Value) {
	res, err := a.valueM.sig.Outputs(a.valueM.fn.Call(a.valueM.sig.Inputs(recv, reflect.ValueOf(c), nil)))
	if err != nil {
		c.ResultError(err)
		return
	}
	if a.valueM.sig.Result == nil {
		return
	}
	if err := c.Result(res.Interface()); err != nil {
		c.ResultError(err)
	}
}
