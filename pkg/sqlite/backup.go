package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/sqlbind/pkg/errcode"
)

// Backup copies a database between connections page by page.
type Backup struct {
	dst, src *Conn
	p        uintptr
}

// NewBackup prepares a copy of database srcName of src into database dstName of dst,
// "main" being the primary database of a connection.
func NewBackup(dst *Conn, dstName string, src *Conn, srcName string) (*Backup, error) {
	if dst.db == 0 || src.db == 0 {
		return nil, errcode.New(errcode.Misuse, "connection is closed")
	}
	zDst, err := dst.cstring(dstName)
	if err != nil {
		return nil, err
	}
	defer dst.free(zDst)
	zSrc, err := dst.cstring(srcName)
	if err != nil {
		return nil, err
	}
	defer dst.free(zSrc)

	p := sqlite3.Xsqlite3_backup_init(dst.tls, dst.db, zDst, src.db, zSrc)
	if p == 0 {
		return nil, fmt.Errorf("can't start backup: %w", dst.errorf(sqlite3.Xsqlite3_errcode(dst.tls, dst.db)))
	}
	return &Backup{dst: dst, src: src, p: p}, nil
}

// Step copies up to pages pages, all remaining if pages is negative. done is set once everything is copied.
// Busy and locked failures are temporary, Step may be retried.
func (b *Backup) Step(pages int) (done bool, err error) {
	if b.p == 0 {
		return false, errcode.New(errcode.Misuse, "backup is finished")
	}
	switch rc := sqlite3.Xsqlite3_backup_step(b.dst.tls, b.p, int32(pages)); rc {
	case sqlite3.SQLITE_OK:
		return false, nil
	case sqlite3.SQLITE_DONE:
		return true, nil
	default:
		return false, fmt.Errorf("can't copy pages: %w", b.dst.errorf(rc))
	}
}

// Remaining returns the number of pages still to copy as of the last Step.
func (b *Backup) Remaining() int { return int(sqlite3.Xsqlite3_backup_remaining(b.dst.tls, b.p)) }

// PageCount returns the number of pages in the source as of the last Step.
func (b *Backup) PageCount() int { return int(sqlite3.Xsqlite3_backup_pagecount(b.dst.tls, b.p)) }

// Finish releases the backup. Finishing twice fails with errcode.Misuse.
func (b *Backup) Finish() error {
	if b.p == 0 {
		return errcode.New(errcode.Misuse, "backup is already finished")
	}
	rc := sqlite3.Xsqlite3_backup_finish(b.dst.tls, b.p)
	b.p = 0
	if rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("can't finish backup: %w", b.dst.errorf(rc))
	}
	return nil
}

// BackupTo copies the main database into the main database of dst, pagesPerStep pages at a time,
// checking ctx between steps. The backup is always finished.
func (c *Conn) BackupTo(ctx context.Context, dst *Conn, pagesPerStep int) (err error) {
	b, err := NewBackup(dst, "main", c, "main")
	if err != nil {
		return err
	}
	defer func() {
		if ferr := b.Finish(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := b.Step(pagesPerStep)
		if err != nil {
			if !errors.Is(err, errcode.Busy) && !errors.Is(err, errcode.Locked) {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		if done {
			log.Printf("[DEBUG] backup of %s to %s done, %d pages", c.name, dst.name, b.PageCount())
			return nil
		}
		log.Printf("[DEBUG] backup of %s to %s, %d of %d pages left", c.name, dst.name, b.Remaining(), b.PageCount())
	}
}
