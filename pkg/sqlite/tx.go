package sqlite

import (
	"fmt"
	"log"
	"strings"

	"github.com/umputun/sqlbind/pkg/errcode"
)

// TxMode is the locking mode of BEGIN.
type TxMode int

// transaction modes
const (
	Deferred TxMode = iota
	Immediate
	Exclusive
)

func (m TxMode) String() string {
	switch m {
	case Immediate:
		return "IMMEDIATE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return "DEFERRED"
	}
}

// Tx is a transaction or a savepoint. Calls on a finished Tx fail with errcode.Misuse.
type Tx struct {
	c         *Conn
	savepoint string // empty for a top-level transaction
	active    bool
}

// Begin starts a transaction.
func (c *Conn) Begin(mode TxMode) (*Tx, error) {
	if err := c.Exec("BEGIN " + mode.String() + " TRANSACTION"); err != nil {
		return nil, fmt.Errorf("can't begin transaction: %w", err)
	}
	return &Tx{c: c, active: true}, nil
}

// Savepoint starts a named savepoint, nested in a running transaction or acting as one.
// Commit releases it, Rollback rolls back to it and releases it.
func (c *Conn) Savepoint(name string) (*Tx, error) {
	if err := c.Exec("SAVEPOINT " + quoteIdent(name)); err != nil {
		return nil, fmt.Errorf("can't start savepoint %s: %w", name, err)
	}
	return &Tx{c: c, savepoint: name, active: true}, nil
}

// WithTx runs fn in a transaction, committing if fn succeeds and rolling back if it fails or panics.
func (c *Conn) WithTx(mode TxMode, fn func(tx *Tx) error) (err error) {
	tx, err := c.Begin(mode)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Printf("[WARN] can't rollback: %v", rerr)
		}
		return err
	}
	if !tx.Active() { // finished by fn
		return nil
	}
	return tx.Commit()
}

// Active reports whether the transaction can still be committed or rolled back.
func (t *Tx) Active() bool { return t.active }

// Savepoint sets a named savepoint inside the transaction.
func (t *Tx) Savepoint(name string) error {
	return t.exec("SAVEPOINT " + quoteIdent(name))
}

// Release releases a savepoint set by Savepoint, keeping its changes.
func (t *Tx) Release(name string) error {
	return t.exec("RELEASE SAVEPOINT " + quoteIdent(name))
}

// RollbackTo undoes the changes made after a savepoint, the savepoint stays.
func (t *Tx) RollbackTo(name string) error {
	return t.exec("ROLLBACK TO SAVEPOINT " + quoteIdent(name))
}

// Commit makes the changes permanent. The transaction stays active if commit fails, e.g. when busy.
func (t *Tx) Commit() error {
	sql := "COMMIT TRANSACTION"
	if t.savepoint != "" {
		sql = "RELEASE SAVEPOINT " + quoteIdent(t.savepoint)
	}
	if err := t.exec(sql); err != nil {
		return err
	}
	t.active = false
	return nil
}

// Rollback undoes the changes. The transaction is finished whatever the result.
func (t *Tx) Rollback() error {
	if !t.active {
		return errcode.New(errcode.Misuse, "transaction is not active")
	}
	defer func() { t.active = false }()
	if t.savepoint == "" {
		return t.exec("ROLLBACK TRANSACTION")
	}
	if err := t.exec("ROLLBACK TO SAVEPOINT " + quoteIdent(t.savepoint)); err != nil {
		return err
	}
	return t.exec("RELEASE SAVEPOINT " + quoteIdent(t.savepoint))
}

func (t *Tx) exec(sql string) error {
	if !t.active {
		return errcode.New(errcode.Misuse, "transaction is not active")
	}
	if err := t.c.Exec(sql); err != nil {
		return fmt.Errorf("can't %s: %w", strings.ToLower(sql), err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
