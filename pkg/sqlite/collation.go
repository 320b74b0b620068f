package sqlite

import (
	"fmt"
	"log"
	"reflect"
	"sync"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
)

// Comparer is a collation object.
type Comparer interface {
	Compare(a, b string) int
}

type collation struct {
	name  string
	cmp   func(a, b string) int
	obj   reflect.Value
	owned bool
	once  sync.Once
}

// RegisterCollation makes cmp usable as COLLATE name. cmp is a func(a, b string) int or a Comparer,
// returning a negative number, zero or a positive number. The connection borrows cmp.
func RegisterCollation(c *Conn, name string, cmp any) error {
	return registerCollation(c, name, cmp, false)
}

// CreateCollation is RegisterCollation with the connection owning cmp, a Comparer with a Close method
// is closed when the engine drops the collation.
func CreateCollation(c *Conn, name string, cmp any) error {
	return registerCollation(c, name, cmp, true)
}

func registerCollation(c *Conn, name string, cmp any, owned bool) error {
	coll := &collation{name: name, owned: owned}
	switch x := cmp.(type) {
	case func(a, b string) int:
		coll.cmp = x
	case Comparer:
		coll.cmp, coll.obj = x.Compare, reflect.ValueOf(x)
	default:
		return errcode.New(errcode.Misuse, "can't register collation %s: %T is not a comparison", name, cmp)
	}
	if c.db == 0 {
		coll.retire()
		return errcode.New(errcode.Misuse, "can't register collation %s: connection is closed", name)
	}

	zName, err := c.cstring(name)
	if err != nil {
		coll.retire()
		return err
	}
	defer c.free(zName)

	pApp := memory.Handles.Put(coll)
	rc := sqlite3.Xsqlite3_create_collation_v2(c.tls, c.db, zName, sqlite3.SQLITE_UTF8, pApp,
		memory.FuncPointer(collationShim), memory.FuncPointer(destroyShim))
	if rc != sqlite3.SQLITE_OK {
		err := c.errorf(rc)
		if memory.Handles.ReleaseIf(pApp, coll) {
			coll.retire()
		}
		return fmt.Errorf("can't register collation %s: %w", name, err)
	}
	log.Printf("[DEBUG] registered collation %s on %s", name, c.name)
	return nil
}

func (coll *collation) retire() {
	coll.once.Do(func() {
		if coll.owned {
			if err := closeValue(coll.obj); err != nil {
				log.Printf("[WARN] can't close collation %s: %v", coll.name, err)
			}
		}
		log.Printf("[DEBUG] collation %s dropped", coll.name)
	})
}

// compare clamps the result to -1, 0 or 1. A panicking comparison orders as equal.
func (coll *collation) compare(a, b string) (res int32) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] collation %s panicked: %v", coll.name, r)
			res = 0
		}
	}()
	switch n := coll.cmp(a, b); {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
