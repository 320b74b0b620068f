// Package sqlite wraps engine connections, statements, transactions and backups, and binds Go
// functions, aggregates and collations so SQL can call them.
//
// A Conn and everything derived from it must be used from one goroutine at a time.
package sqlite

import (
	"fmt"
	"log"
	"time"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// DefaultFlags are the open flags used unless WithFlags or ReadOnly is given.
const DefaultFlags = sqlite3.SQLITE_OPEN_READWRITE | sqlite3.SQLITE_OPEN_CREATE |
	sqlite3.SQLITE_OPEN_FULLMUTEX | sqlite3.SQLITE_OPEN_URI

// Conn is an open database connection.
type Conn struct {
	tls   *libc.TLS
	db    uintptr
	name  string
	stmts map[*Stmt]struct{}
}

type options struct {
	flags       int32
	vfs         string
	busyTimeout time.Duration
}

// Option customizes Open.
type Option func(o *options)

// WithFlags sets raw open flags.
func WithFlags(flags int32) Option { return func(o *options) { o.flags = flags } }

// ReadOnly opens the database without write access.
func ReadOnly() Option {
	return func(o *options) {
		o.flags = sqlite3.SQLITE_OPEN_READONLY | sqlite3.SQLITE_OPEN_FULLMUTEX | sqlite3.SQLITE_OPEN_URI
	}
}

// WithVFS selects a registered VFS by name.
func WithVFS(name string) Option { return func(o *options) { o.vfs = name } }

// WithBusyTimeout makes the connection wait up to d for locks held by others.
func WithBusyTimeout(d time.Duration) Option { return func(o *options) { o.busyTimeout = d } }

// Open opens the database at name, a file path, ":memory:" or a file: URI.
// Extended result codes are always enabled.
func Open(name string, opts ...Option) (*Conn, error) {
	o := options{flags: DefaultFlags}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Conn{tls: libc.NewTLS(), name: name, stmts: make(map[*Stmt]struct{})}
	if err := c.openV2(name, o.vfs, o.flags); err != nil {
		c.tls.Close()
		return nil, fmt.Errorf("can't open %s: %w", name, err)
	}

	if rc := sqlite3.Xsqlite3_extended_result_codes(c.tls, c.db, 1); rc != sqlite3.SQLITE_OK {
		err := c.errorf(rc)
		_ = c.Close()
		return nil, fmt.Errorf("can't enable extended codes for %s: %w", name, err)
	}
	if o.busyTimeout > 0 {
		sqlite3.Xsqlite3_busy_timeout(c.tls, c.db, int32(o.busyTimeout/time.Millisecond))
	}
	log.Printf("[DEBUG] opened database %s", name)
	return c, nil
}

func (c *Conn) openV2(name, vfsName string, flags int32) error {
	var pdb, zName, zVfs uintptr
	defer func() {
		memory.Free(c.tls, pdb)
		libc.Xfree(c.tls, zName)
		if zVfs != 0 {
			libc.Xfree(c.tls, zVfs)
		}
	}()

	pdb, err := memory.Alloc(c.tls, ptrSize)
	if err != nil {
		return err
	}
	if zName, err = libc.CString(name); err != nil {
		return err
	}
	if vfsName != "" {
		if zVfs, err = libc.CString(vfsName); err != nil {
			return err
		}
	}

	rc := sqlite3.Xsqlite3_open_v2(c.tls, zName, pdb, flags, zVfs)
	c.db = *(*uintptr)(unsafe.Pointer(pdb))
	if rc != sqlite3.SQLITE_OK {
		err := c.errorf(rc)
		if c.db != 0 {
			sqlite3.Xsqlite3_close_v2(c.tls, c.db)
			c.db = 0
		}
		return err
	}
	return nil
}

// Name returns the name the connection was opened with.
func (c *Conn) Name() string { return c.name }

// Handle returns the raw engine connection, 0 after Close.
func (c *Conn) Handle() uintptr { return c.db }

// TLS returns the thread context bound to the connection.
func (c *Conn) TLS() *libc.TLS { return c.tls }

// Close finalizes statements still open, closes the connection and releases the thread context.
// Registered functions and collations are destroyed by the engine. Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.db == 0 {
		return nil
	}
	for st := range c.stmts {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] can't finalize %q: %v", st.sql, err)
		}
	}
	if rc := sqlite3.Xsqlite3_close_v2(c.tls, c.db); rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("can't close %s: %w", c.name, c.errorf(rc))
	}
	c.db = 0
	c.tls.Close()
	log.Printf("[DEBUG] closed database %s", c.name)
	return nil
}

// Exec runs one or more SQL statements without arguments, discarding rows.
func (c *Conn) Exec(sql string) error {
	if c.db == 0 {
		return errcode.New(errcode.Misuse, "connection is closed")
	}
	zSQL, err := libc.CString(sql)
	if err != nil {
		return err
	}
	defer libc.Xfree(c.tls, zSQL)

	if rc := sqlite3.Xsqlite3_exec(c.tls, c.db, zSQL, 0, 0, 0); rc != sqlite3.SQLITE_OK {
		return c.errorf(rc)
	}
	return nil
}

// ExecArgs prepares a single statement, binds args positionally and runs it to completion.
func (c *Conn) ExecArgs(sql string, args ...any) error {
	st, err := c.Prepare(sql)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.BindExec(args...)
}

// LastInsertRowID returns the rowid of the most recent successful insert.
func (c *Conn) LastInsertRowID() int64 { return sqlite3.Xsqlite3_last_insert_rowid(c.tls, c.db) }

// Changes returns the number of rows modified by the most recent statement.
func (c *Conn) Changes() int { return int(sqlite3.Xsqlite3_changes(c.tls, c.db)) }

// TotalChanges returns the number of rows modified since the connection was opened.
func (c *Conn) TotalChanges() int { return int(sqlite3.Xsqlite3_total_changes(c.tls, c.db)) }

// AutoCommit reports whether the connection is outside of an explicit transaction.
func (c *Conn) AutoCommit() bool { return sqlite3.Xsqlite3_get_autocommit(c.tls, c.db) != 0 }

// ErrCode returns the primary code of the most recent failure.
func (c *Conn) ErrCode() errcode.Code {
	return errcode.Code(sqlite3.Xsqlite3_errcode(c.tls, c.db)).Primary()
}

// ExtendedErrCode returns the extended code of the most recent failure.
func (c *Conn) ExtendedErrCode() errcode.Code {
	return errcode.Code(sqlite3.Xsqlite3_extended_errcode(c.tls, c.db))
}

// ErrMsg returns the message of the most recent failure.
func (c *Conn) ErrMsg() string { return libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db)) }

// errorf makes an error for rc with the connection's current message, the generic text for rc
// if there is none. The extended code is used when it refines rc.
func (c *Conn) errorf(rc int32) error {
	code := errcode.Code(rc)
	str := libc.GoString(sqlite3.Xsqlite3_errstr(c.tls, rc))
	if c.db == 0 {
		return &errcode.Error{Code: code, Msg: str}
	}
	if ext := errcode.Code(sqlite3.Xsqlite3_extended_errcode(c.tls, c.db)); ext.Primary() == code.Primary() {
		code = ext
	}
	msg := libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db))
	if msg == "" {
		msg = str
	}
	return &errcode.Error{Code: code, Msg: msg}
}

func (c *Conn) free(p uintptr) {
	if p != 0 {
		libc.Xfree(c.tls, p)
	}
}

// cstring copies s to engine memory for the duration of a call, the caller frees it.
func (c *Conn) cstring(s string) (uintptr, error) {
	p, err := libc.CString(s)
	if err != nil {
		return 0, errcode.New(errcode.NoMem, "can't copy string: %v", err)
	}
	return p, nil
}
