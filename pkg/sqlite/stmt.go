package sqlite

import (
	"fmt"
	"strings"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
)

// Stmt is a prepared statement. It is finalized by Close or by Close of its connection.
type Stmt struct {
	c     *Conn
	pstmt uintptr
	sql   string
}

// Prepare compiles the first statement of sql.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, errcode.New(errcode.Misuse, "empty statement")
	}
	st, _, err := c.PrepareTail(sql)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errcode.New(errcode.Misuse, "no statement in %q", sql)
	}
	return st, nil
}

// PrepareTail compiles the first statement of sql and returns the text after it. The statement is nil
// if sql holds only whitespace and comments, so a script is run by calling it until the tail is empty.
func (c *Conn) PrepareTail(sql string) (st *Stmt, tail string, err error) {
	if c.db == 0 {
		return nil, "", errcode.New(errcode.Misuse, "connection is closed")
	}

	zSQL, err := c.cstring(sql)
	if err != nil {
		return nil, "", err
	}
	defer c.free(zSQL)
	pp, err := memory.Alloc(c.tls, 2*ptrSize) // statement and tail pointers
	if err != nil {
		return nil, "", err
	}
	defer memory.Free(c.tls, pp)
	ppStmt, pzTail := pp, pp+ptrSize

	if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, zSQL, -1, ppStmt, pzTail); rc != sqlite3.SQLITE_OK {
		return nil, "", fmt.Errorf("can't prepare %q: %w", sql, c.errorf(rc))
	}
	pstmt := *(*uintptr)(unsafe.Pointer(ppStmt))
	if zTail := *(*uintptr)(unsafe.Pointer(pzTail)); zTail > zSQL && int(zTail-zSQL) <= len(sql) {
		tail = sql[zTail-zSQL:]
	}
	if pstmt == 0 {
		return nil, "", nil
	}

	head := strings.TrimSpace(strings.TrimLeft(sql[:len(sql)-len(tail)], "; \t\r\n"))
	st = &Stmt{c: c, pstmt: pstmt, sql: head}
	c.stmts[st] = struct{}{}
	return st, tail, nil
}

// SQL returns the text the statement was prepared from.
func (s *Stmt) SQL() string { return s.sql }

// Handle returns the raw engine statement, 0 after Close.
func (s *Stmt) Handle() uintptr { return s.pstmt }

// Close finalizes the statement, repeated calls are no-ops.
func (s *Stmt) Close() error {
	if s.pstmt == 0 {
		return nil
	}
	delete(s.c.stmts, s)
	rc := sqlite3.Xsqlite3_finalize(s.c.tls, s.pstmt)
	s.pstmt = 0
	if rc != sqlite3.SQLITE_OK {
		return s.c.errorf(rc)
	}
	return nil
}

// ParamCount returns the number of parameters.
func (s *Stmt) ParamCount() int { return int(sqlite3.Xsqlite3_bind_parameter_count(s.c.tls, s.pstmt)) }

// ParamNames returns parameter names with their prefix, e.g. ":id", empty for positional parameters.
func (s *Stmt) ParamNames() []string {
	res := make([]string, s.ParamCount())
	for i := range res {
		res[i] = libc.GoString(sqlite3.Xsqlite3_bind_parameter_name(s.c.tls, s.pstmt, int32(i+1)))
	}
	return res
}

// BindAt binds v to the parameter at 1-based pos. Out of range positions fail with errcode.Range.
func (s *Stmt) BindAt(pos int, v any) error {
	if s.pstmt == 0 {
		return errcode.New(errcode.Misuse, "statement is closed")
	}
	if err := encode(s.c.tls, bindSink{st: s, pos: int32(pos)}, v); err != nil {
		return fmt.Errorf("can't bind parameter %d: %w", pos, err)
	}
	return nil
}

// BindAll binds args to parameters 1..len(args).
func (s *Stmt) BindAll(args ...any) error {
	if n := s.ParamCount(); len(args) > n {
		return errcode.New(errcode.Range, "%d arguments for %d parameters", len(args), n)
	}
	for i, arg := range args {
		if err := s.BindAt(i+1, arg); err != nil {
			return err
		}
	}
	return nil
}

// BindName binds v to a named parameter. The prefix may be omitted, then ":", "@" and "$" are tried.
// An unknown name fails with errcode.Range.
func (s *Stmt) BindName(name string, v any) error {
	pos := s.paramIndex(name)
	if pos == 0 && name != "" && !strings.ContainsAny(name[:1], ":@$?") {
		for _, prefix := range []string{":", "@", "$"} {
			if pos = s.paramIndex(prefix + name); pos != 0 {
				break
			}
		}
	}
	if pos == 0 {
		return errcode.New(errcode.Range, "no parameter named %s", name)
	}
	return s.BindAt(pos, v)
}

func (s *Stmt) paramIndex(name string) int {
	z, err := s.c.cstring(name)
	if err != nil {
		return 0
	}
	defer s.c.free(z)
	return int(sqlite3.Xsqlite3_bind_parameter_index(s.c.tls, s.pstmt, z))
}

// BindNamed binds every entry of params by name.
func (s *Stmt) BindNamed(params map[string]any) error {
	for k, v := range params {
		if err := s.BindName(k, v); err != nil {
			return err
		}
	}
	return nil
}

// ClearBindings sets all parameters to NULL.
func (s *Stmt) ClearBindings() error {
	if rc := sqlite3.Xsqlite3_clear_bindings(s.c.tls, s.pstmt); rc != sqlite3.SQLITE_OK {
		return s.c.errorf(rc)
	}
	return nil
}

// Step advances to the next row. It returns true while a row is available and false when done.
func (s *Stmt) Step() (bool, error) {
	if s.pstmt == 0 {
		return false, errcode.New(errcode.Misuse, "statement is closed")
	}
	switch rc := sqlite3.Xsqlite3_step(s.c.tls, s.pstmt); rc {
	case sqlite3.SQLITE_ROW:
		return true, nil
	case sqlite3.SQLITE_DONE:
		return false, nil
	default:
		return false, s.c.errorf(rc)
	}
}

// Reset rewinds the statement to be stepped again, clearing the bindings if clear is set.
func (s *Stmt) Reset(clear bool) error {
	rc := sqlite3.Xsqlite3_reset(s.c.tls, s.pstmt)
	if clear {
		sqlite3.Xsqlite3_clear_bindings(s.c.tls, s.pstmt)
	}
	if rc != sqlite3.SQLITE_OK {
		return s.c.errorf(rc)
	}
	return nil
}

// Exec steps until the statement is done, discarding rows, and resets it if reset is set.
func (s *Stmt) Exec(reset, clear bool) error {
	var err error
	for {
		row, serr := s.Step()
		if serr != nil {
			err = serr
			break
		}
		if !row {
			break
		}
	}
	if reset {
		if rerr := s.Reset(clear); err == nil {
			err = rerr
		}
	}
	return err
}

// BindExec binds args, runs the statement to completion and resets it with bindings cleared.
// Bindings are cleared on a bind failure too.
func (s *Stmt) BindExec(args ...any) error {
	if err := s.BindAll(args...); err != nil {
		_ = s.ClearBindings()
		return err
	}
	return s.Exec(true, true)
}

// ForEach steps through all rows calling fn for each. The statement is reset afterwards, bindings kept.
func (s *Stmt) ForEach(fn func(r Row) error) (err error) {
	defer func() {
		if rerr := s.Reset(false); err == nil {
			err = rerr
		}
	}()
	for {
		row, err := s.Step()
		if err != nil {
			return err
		}
		if !row {
			return nil
		}
		if err := fn(s.Row()); err != nil {
			return err
		}
	}
}

// ColumnCount returns the number of result columns.
func (s *Stmt) ColumnCount() int { return int(sqlite3.Xsqlite3_column_count(s.c.tls, s.pstmt)) }

// ColumnName returns the name of a result column.
func (s *Stmt) ColumnName(col int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_name(s.c.tls, s.pstmt, int32(col)))
}

// ColumnNames returns the names of all result columns.
func (s *Stmt) ColumnNames() []string {
	res := make([]string, s.ColumnCount())
	for i := range res {
		res[i] = s.ColumnName(i)
	}
	return res
}

// ColumnType returns the datatype of a column in the current row.
func (s *Stmt) ColumnType(col int) Datatype {
	return Datatype(sqlite3.Xsqlite3_column_type(s.c.tls, s.pstmt, int32(col)))
}

// ColumnDeclType returns the declared type of a column, empty for expressions.
func (s *Stmt) ColumnDeclType(col int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_decltype(s.c.tls, s.pstmt, int32(col)))
}

// Row returns the current row. It is valid until the next Step or Reset.
func (s *Stmt) Row() Row { return Row{st: s} }
