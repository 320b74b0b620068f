package sqlite

import (
	"math"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
)

// destructorStatic tells the engine the bytes outlive its use of them and must not be copied.
const destructorStatic uintptr = 0

// Datatype is the fundamental type of a value or column.
type Datatype int32

// fundamental types
const (
	TypeInteger Datatype = sqlite3.SQLITE_INTEGER
	TypeFloat   Datatype = sqlite3.SQLITE_FLOAT
	TypeText    Datatype = sqlite3.SQLITE_TEXT
	TypeBlob    Datatype = sqlite3.SQLITE_BLOB
	TypeNull    Datatype = sqlite3.SQLITE_NULL
)

func (d Datatype) String() string {
	switch d {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	case TypeNull:
		return "NULL"
	}
	return "UNKNOWN"
}

// NullType is the type of Null.
type NullType struct{}

// Null encodes as SQL NULL.
var Null NullType

// TextView is a non-owning view of text in engine memory. It is valid only while its source lives,
// i.e. for the duration of a callback or until the next step of a statement.
// Encoding a view passes the bytes without a copy.
type TextView struct {
	p uintptr
	n int
}

// MakeTextView wraps n bytes at p. The caller keeps p alive while the view is in use.
func MakeTextView(p uintptr, n int) TextView { return TextView{p: p, n: n} }

// Len returns the length in bytes.
func (v TextView) Len() int { return v.n }

// Data returns the address of the first byte.
func (v TextView) Data() uintptr { return v.p }

// String copies the text out of engine memory.
func (v TextView) String() string { return goString(v.p, v.n) }

// BlobView is a non-owning view of a blob in engine memory, see TextView.
type BlobView struct {
	p uintptr
	n int
}

// MakeBlobView wraps n bytes at p. The caller keeps p alive while the view is in use.
func MakeBlobView(p uintptr, n int) BlobView { return BlobView{p: p, n: n} }

// Len returns the length in bytes.
func (v BlobView) Len() int { return v.n }

// Data returns the address of the first byte.
func (v BlobView) Data() uintptr { return v.p }

// Bytes returns a slice aliasing engine memory, nil for an empty blob.
func (v BlobView) Bytes() []byte {
	if v.n == 0 || v.p == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(v.p)), v.n)
}

// Clone copies the blob out of engine memory.
func (v BlobView) Clone() []byte { return append([]byte{}, v.Bytes()...) }

func goString(p uintptr, n int) string {
	if p == 0 || n <= 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

func goBytes(p uintptr, n int) []byte {
	res := make([]byte, n)
	if p != 0 && n > 0 {
		copy(res, unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	}
	return res
}

// source is something a Go value can be decoded from: a function argument or a result column.
type source interface {
	datatype() Datatype
	asInt64() int64
	asFloat() float64
	text() (uintptr, int)
	blob() (uintptr, int)
	pointer(tag uintptr) uintptr
}

type valueSource struct {
	tls *libc.TLS
	v   uintptr
}

func (s valueSource) datatype() Datatype { return Datatype(sqlite3.Xsqlite3_value_type(s.tls, s.v)) }
func (s valueSource) asInt64() int64     { return sqlite3.Xsqlite3_value_int64(s.tls, s.v) }
func (s valueSource) asFloat() float64   { return sqlite3.Xsqlite3_value_double(s.tls, s.v) }

func (s valueSource) text() (uintptr, int) {
	p := sqlite3.Xsqlite3_value_text(s.tls, s.v)
	return p, int(sqlite3.Xsqlite3_value_bytes(s.tls, s.v))
}

func (s valueSource) blob() (uintptr, int) {
	p := sqlite3.Xsqlite3_value_blob(s.tls, s.v)
	return p, int(sqlite3.Xsqlite3_value_bytes(s.tls, s.v))
}

func (s valueSource) pointer(tag uintptr) uintptr { return sqlite3.Xsqlite3_value_pointer(s.tls, s.v, tag) }

type columnSource struct {
	tls  *libc.TLS
	stmt uintptr
	col  int32
}

func (s columnSource) datatype() Datatype {
	return Datatype(sqlite3.Xsqlite3_column_type(s.tls, s.stmt, s.col))
}
func (s columnSource) asInt64() int64   { return sqlite3.Xsqlite3_column_int64(s.tls, s.stmt, s.col) }
func (s columnSource) asFloat() float64 { return sqlite3.Xsqlite3_column_double(s.tls, s.stmt, s.col) }

func (s columnSource) text() (uintptr, int) {
	p := sqlite3.Xsqlite3_column_text(s.tls, s.stmt, s.col)
	return p, int(sqlite3.Xsqlite3_column_bytes(s.tls, s.stmt, s.col))
}

func (s columnSource) blob() (uintptr, int) {
	p := sqlite3.Xsqlite3_column_blob(s.tls, s.stmt, s.col)
	return p, int(sqlite3.Xsqlite3_column_bytes(s.tls, s.stmt, s.col))
}

// columns never carry pointers
func (s columnSource) pointer(uintptr) uintptr { return 0 }

var (
	textViewType = reflect.TypeFor[TextView]()
	blobViewType = reflect.TypeFor[BlobView]()
	nullType     = reflect.TypeFor[NullType]()
	anyType      = reflect.TypeFor[any]()
	errorType    = reflect.TypeFor[error]()
)

// decodable reports whether decode supports t.
func decodable(t reflect.Type) bool {
	switch t {
	case textViewType, blobViewType, anyType:
		return true
	}
	if _, ok := memory.OpaqueTag(t); ok {
		return true
	}
	if _, ok := memory.ManagedTypeTag(t); ok {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	case reflect.Slice, reflect.Array:
		return t.Elem().Kind() == reflect.Uint8
	case reflect.Pointer:
		return decodable(t.Elem())
	}
	return false
}

// encodable reports whether a value of static type t can be encoded. Interfaces are checked at run time.
func encodable(t reflect.Type) bool {
	if t == nullType || t.Kind() == reflect.Interface || t.Implements(errorType) {
		return true
	}
	if _, ok := memory.ManagedTypeTag(t); ok {
		return true
	}
	return decodable(t)
}

// decode converts the value held by src to a Go value of type t.
func decode(src source, t reflect.Type) (reflect.Value, error) {
	switch t {
	case textViewType:
		p, n := src.text()
		return reflect.ValueOf(TextView{p: p, n: n}), nil
	case blobViewType:
		p, n := src.blob()
		return reflect.ValueOf(BlobView{p: p, n: n}), nil
	case anyType:
		res := reflect.New(anyType).Elem()
		if v := dynamic(src); v != nil {
			res.Set(reflect.ValueOf(v))
		}
		return res, nil
	}

	if tag, ok := memory.OpaqueTag(t); ok {
		zTag, err := memory.TagPtr(tag)
		if err != nil {
			return reflect.Value{}, errcode.Wrap(errcode.NoMem, err)
		}
		return memory.OpaqueFromHandle(t, src.pointer(zTag)), nil
	}
	if tag, ok := memory.ManagedTypeTag(t); ok {
		zTag, err := memory.TagPtr(tag)
		if err != nil {
			return reflect.Value{}, errcode.Wrap(errcode.NoMem, err)
		}
		raw := src.pointer(zTag)
		if raw == 0 {
			return reflect.Zero(t), nil
		}
		return memory.BorrowManaged(t, raw), nil
	}

	res := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		res.SetBool(src.asInt64() != 0)
	case reflect.Int8, reflect.Int16, reflect.Int32:
		n := src.asInt64()
		if res.OverflowInt(n) {
			return reflect.Value{}, errcode.New(errcode.Range, "%d overflows %s", n, t)
		}
		res.SetInt(n)
	case reflect.Int, reflect.Int64:
		res.SetInt(src.asInt64())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := src.asInt64()
		if n < 0 || res.OverflowUint(uint64(n)) {
			return reflect.Value{}, errcode.New(errcode.Range, "%d overflows %s", n, t)
		}
		res.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		res.SetFloat(src.asFloat())
	case reflect.String:
		p, n := src.text()
		res.SetString(goString(p, n))
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Uint8 {
			return reflect.Value{}, errcode.New(errcode.Mismatch, "can't decode into %s", t)
		}
		if src.datatype() == TypeNull {
			return res, nil
		}
		p, n := src.blob()
		res.SetBytes(goBytes(p, n))
	case reflect.Array:
		if t.Elem().Kind() != reflect.Uint8 {
			return reflect.Value{}, errcode.New(errcode.Mismatch, "can't decode into %s", t)
		}
		p, n := src.blob()
		if n != t.Len() {
			return reflect.Value{}, errcode.New(errcode.Mismatch, "blob of %d bytes doesn't fit %s", n, t)
		}
		if n > 0 {
			copy(unsafe.Slice((*byte)(res.Addr().UnsafePointer()), n), unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
		}
	case reflect.Pointer:
		if src.datatype() == TypeNull {
			return res, nil
		}
		v, err := decode(src, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(v)
		return ptr, nil
	default:
		return reflect.Value{}, errcode.New(errcode.Mismatch, "can't decode into %s", t)
	}
	return res, nil
}

// dynamic decodes src into the Go type matching its datatype, nil for NULL.
func dynamic(src source) any {
	switch src.datatype() {
	case TypeInteger:
		return src.asInt64()
	case TypeFloat:
		return src.asFloat()
	case TypeText:
		return goString(src.text())
	case TypeBlob:
		return goBytes(src.blob())
	}
	return nil
}

// sink is something a Go value can be encoded into: a function result or a statement parameter.
type sink interface {
	null() error
	integer(v int64) error
	real(v float64) error
	text(p uintptr, n int, destructor uintptr) error
	blob(p uintptr, n int, destructor uintptr) error
	zeroBlob(n int) error
	pointer(p, tag, destructor uintptr) error
}

type resultSink struct {
	tls *libc.TLS
	ctx uintptr
}

func (s resultSink) null() error {
	sqlite3.Xsqlite3_result_null(s.tls, s.ctx)
	return nil
}

func (s resultSink) integer(v int64) error {
	sqlite3.Xsqlite3_result_int64(s.tls, s.ctx, v)
	return nil
}

func (s resultSink) real(v float64) error {
	sqlite3.Xsqlite3_result_double(s.tls, s.ctx, v)
	return nil
}

func (s resultSink) text(p uintptr, n int, destructor uintptr) error {
	sqlite3.Xsqlite3_result_text(s.tls, s.ctx, p, int32(n), destructor)
	return nil
}

func (s resultSink) blob(p uintptr, n int, destructor uintptr) error {
	sqlite3.Xsqlite3_result_blob(s.tls, s.ctx, p, int32(n), destructor)
	return nil
}

func (s resultSink) zeroBlob(n int) error {
	sqlite3.Xsqlite3_result_zeroblob(s.tls, s.ctx, int32(n))
	return nil
}

func (s resultSink) pointer(p, tag, destructor uintptr) error {
	sqlite3.Xsqlite3_result_pointer(s.tls, s.ctx, p, tag, destructor)
	return nil
}

type bindSink struct {
	st  *Stmt
	pos int32
}

func (s bindSink) check(rc int32) error {
	if rc != sqlite3.SQLITE_OK {
		return s.st.c.errorf(rc)
	}
	return nil
}

func (s bindSink) null() error {
	return s.check(sqlite3.Xsqlite3_bind_null(s.st.c.tls, s.st.pstmt, s.pos))
}

func (s bindSink) integer(v int64) error {
	return s.check(sqlite3.Xsqlite3_bind_int64(s.st.c.tls, s.st.pstmt, s.pos, v))
}

func (s bindSink) real(v float64) error {
	return s.check(sqlite3.Xsqlite3_bind_double(s.st.c.tls, s.st.pstmt, s.pos, v))
}

func (s bindSink) text(p uintptr, n int, destructor uintptr) error {
	return s.check(sqlite3.Xsqlite3_bind_text(s.st.c.tls, s.st.pstmt, s.pos, p, int32(n), destructor))
}

func (s bindSink) blob(p uintptr, n int, destructor uintptr) error {
	return s.check(sqlite3.Xsqlite3_bind_blob(s.st.c.tls, s.st.pstmt, s.pos, p, int32(n), destructor))
}

func (s bindSink) zeroBlob(n int) error {
	return s.check(sqlite3.Xsqlite3_bind_zeroblob(s.st.c.tls, s.st.pstmt, s.pos, int32(n)))
}

func (s bindSink) pointer(p, tag, destructor uintptr) error {
	return s.check(sqlite3.Xsqlite3_bind_pointer(s.st.c.tls, s.st.pstmt, s.pos, p, tag, destructor))
}

// encode writes v into dst. Owned strings and slices are copied by the engine, views are not.
// Pointer values are registered as handles and released by the engine when it drops them.
func encode(tls *libc.TLS, dst sink, v any) error {
	switch x := v.(type) {
	case nil, NullType:
		return dst.null()
	case TextView:
		return dst.text(x.p, x.n, destructorStatic)
	case BlobView:
		if x.n == 0 {
			return dst.zeroBlob(0)
		}
		return dst.blob(x.p, x.n, destructorStatic)
	case error:
		return errcode.New(errcode.Mismatch, "error %q is not a value", x.Error())
	}

	if id, tag, ok := memory.OpaqueHandle(v); ok {
		if id == 0 {
			return dst.null()
		}
		zTag, err := memory.TagPtr(tag)
		if err != nil {
			memory.Handles.Release(id)
			return errcode.Wrap(errcode.NoMem, err)
		}
		return dst.pointer(id, zTag, memory.ReleaseFunc())
	}
	if raw, tag, ok := memory.DetachManaged(v); ok {
		if raw == 0 {
			return dst.null()
		}
		zTag, err := memory.TagPtr(tag)
		if err != nil {
			memory.Free(tls, raw)
			return errcode.Wrap(errcode.NoMem, err)
		}
		return dst.pointer(raw, zTag, memory.FreeFunc())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return dst.integer(1)
		}
		return dst.integer(0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return dst.integer(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return errcode.New(errcode.Range, "%d overflows a 64-bit integer", u)
		}
		return dst.integer(int64(u))
	case reflect.Float32, reflect.Float64:
		return dst.real(rv.Float())
	case reflect.String:
		return encodeText(tls, dst, rv.String())
	case reflect.Slice:
		if rv.Type().Elem().Kind() != reflect.Uint8 {
			break
		}
		if rv.IsNil() {
			return dst.null()
		}
		return encodeBlob(tls, dst, rv.Bytes())
	case reflect.Array:
		if rv.Type().Elem().Kind() != reflect.Uint8 {
			break
		}
		tmp := reflect.New(rv.Type()).Elem()
		tmp.Set(rv)
		if rv.Len() == 0 {
			return dst.zeroBlob(0)
		}
		return encodeBlob(tls, dst, unsafe.Slice((*byte)(tmp.Addr().UnsafePointer()), rv.Len()))
	case reflect.Pointer:
		if rv.IsNil() {
			return dst.null()
		}
		return encode(tls, dst, rv.Elem().Interface())
	}
	return errcode.New(errcode.Mismatch, "can't encode %T", v)
}

func encodeText(tls *libc.TLS, dst sink, s string) error {
	p, err := libc.CString(s)
	if err != nil {
		return errcode.Wrap(errcode.NoMem, err)
	}
	defer libc.Xfree(tls, p)
	return dst.text(p, len(s), sqlite3.SQLITE_TRANSIENT)
}

func encodeBlob(tls *libc.TLS, dst sink, b []byte) error {
	if len(b) == 0 {
		return dst.zeroBlob(0)
	}
	p := libc.Xmalloc(tls, types.Size_t(len(b)))
	if p == 0 {
		return errcode.New(errcode.NoMem, "can't allocate %d bytes for blob", len(b))
	}
	defer libc.Xfree(tls, p)
	copy((*libc.RawMem)(unsafe.Pointer(p))[:len(b):len(b)], b)
	return dst.blob(p, len(b), sqlite3.SQLITE_TRANSIENT)
}
