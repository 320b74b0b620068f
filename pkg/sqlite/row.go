package sqlite

import (
	"fmt"
	"reflect"

	"github.com/umputun/sqlbind/pkg/errcode"
)

// Row is the current row of a statement.
type Row struct {
	st *Stmt
}

func (r Row) column(col int) (columnSource, error) {
	if col < 0 || col >= r.st.ColumnCount() {
		return columnSource{}, errcode.New(errcode.Range, "column %d out of range", col)
	}
	return columnSource{tls: r.st.c.tls, stmt: r.st.pstmt, col: int32(col)}, nil
}

// IsNull reports whether the column holds NULL.
func (r Row) IsNull(col int) bool { return r.st.ColumnType(col) == TypeNull }

// Get returns the column as int64, float64, string, []byte or nil.
func (r Row) Get(col int) (any, error) {
	src, err := r.column(col)
	if err != nil {
		return nil, err
	}
	return dynamic(src), nil
}

// Values returns all columns as Get does.
func (r Row) Values() []any {
	res := make([]any, r.st.ColumnCount())
	for i := range res {
		res[i], _ = r.Get(i)
	}
	return res
}

// Scan decodes the leading columns into dest, pointers to any type a function argument can take.
func (r Row) Scan(dest ...any) error {
	for i, d := range dest {
		rv := reflect.ValueOf(d)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return errcode.New(errcode.Misuse, "scan destination %d is %T, not a pointer", i, d)
		}
		src, err := r.column(i)
		if err != nil {
			return err
		}
		v, err := decode(src, rv.Type().Elem())
		if err != nil {
			return fmt.Errorf("can't scan column %d: %w", i, err)
		}
		rv.Elem().Set(v)
	}
	return nil
}

// Get decodes a column of the current row as T.
func Get[T any](r Row, col int) (T, error) {
	var zero T
	src, err := r.column(col)
	if err != nil {
		return zero, err
	}
	v, err := decode(src, reflect.TypeFor[T]())
	if err != nil {
		return zero, fmt.Errorf("can't get column %d: %w", col, err)
	}
	res, _ := v.Interface().(T) // nil for a NULL into an interface type
	return res, nil
}
