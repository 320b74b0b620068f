// Package runner executes workbook scripts, each on its own connection, with limited concurrency.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/stringutils"
	"github.com/go-pkgz/syncs"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/sqlbind/pkg/config"
	"github.com/umputun/sqlbind/pkg/extension"
	"github.com/umputun/sqlbind/pkg/report"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

// Process holds the information needed to run workbook scripts against a database.
type Process struct {
	Concurrency int
	DB          string // database path, workbook's db used if empty
	Workbook    *config.Workbook
	Secrets     SecretsProvider // optional, makes secret(key) available to scripts
	Writer      *report.Writer
	BusyTimeout time.Duration

	Only []string // scripts to run, all if empty
}

// SecretsProvider resolves workbook secrets and registers secret(key) on a connection.
type SecretsProvider interface {
	Get(key string) (string, error)
	Register(c *sqlite.Conn) error
}

// ScriptResult holds the outcome of a single script
type ScriptResult struct {
	Name       string
	Statements int
	Changes    int
	Results    []report.ResultSet
	Duration   time.Duration
}

// ProcResp holds the information about processed scripts, in the workbook order.
type ProcResp struct {
	Scripts []ScriptResult
}

// Statements returns the number of statements executed by all scripts
func (r ProcResp) Statements() (res int) {
	for _, s := range r.Scripts {
		res += s.Statements
	}
	return res
}

// Run runs the selected scripts in parallel with limited concurrency, each one on a separate
// connection. A failed script doesn't stop the others, all the errors are returned together.
func (p *Process) Run(ctx context.Context) (ProcResp, error) {
	scripts, err := p.Workbook.Select(p.Only...)
	if err != nil {
		return ProcResp{}, err
	}
	packs, err := p.Workbook.Packs()
	if err != nil {
		return ProcResp{}, err
	}
	dbPath := p.DB
	if dbPath == "" {
		dbPath = p.Workbook.DB
	}
	if dbPath == "" {
		return ProcResp{}, errors.New("no database set")
	}
	wr, err := p.writer()
	if err != nil {
		return ProcResp{}, err
	}
	log.Printf("[DEBUG] run %d scripts on %s, concurrency %d", len(scripts), dbPath, p.Concurrency)

	results := make([]ScriptResult, len(scripts))
	errs := new(multierror.Error)
	lock := sync.Mutex{}

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	wg := syncs.NewErrSizedGroup(concurrency, syncs.Context(ctx), syncs.Preemptive)
	for i, s := range scripts {
		i, s := i, s
		wg.Go(func() error {
			res, e := p.runScript(ctx, wr.WithScript(s.Name), dbPath, packs, s)
			results[i] = res
			if e != nil {
				wr.WithScript(s.Name).Printf("failed: %v", e)
				lock.Lock()
				errs = multierror.Append(errs, fmt.Errorf("script %q: %w", s.Name, e))
				lock.Unlock()
			}
			return nil
		})
	}
	if err = wg.Wait(); err != nil {
		// scripts never fail the group, so it can only report the context, in a multi-error without unwrap
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		errs = multierror.Append(errs, err)
	}
	return ProcResp{Scripts: results}, errs.ErrorOrNil()
}

// runScript opens a connection, registers extensions and secrets on it and executes all the
// statements of the script, printing the result sets.
func (p *Process) runScript(ctx context.Context, wr *report.Writer, dbPath string, packs []extension.Pack,
	s config.Script) (res ScriptResult, err error) {
	st := time.Now()
	res.Name = s.Name

	conn, err := sqlite.Open(dbPath, sqlite.WithBusyTimeout(p.busyTimeout()))
	if err != nil {
		return res, err
	}
	defer func() {
		if e := conn.Close(); e != nil {
			err = multierror.Append(err, fmt.Errorf("can't close connection: %w", e)).ErrorOrNil()
		}
	}()

	if len(packs) > 0 {
		if err = extension.Register(conn, packs...); err != nil {
			return res, err
		}
	}
	if p.Secrets != nil {
		if err = p.Secrets.Register(conn); err != nil {
			return res, fmt.Errorf("can't register secrets: %w", err)
		}
	}

	log.Printf("[INFO] run script %q", s.Name)
	used := map[string]bool{}
	for rest := s.SQL; rest != ""; {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		prev := rest
		var stmt *sqlite.Stmt
		if stmt, rest, err = conn.PrepareTail(rest); err != nil {
			return res, err
		}
		if stmt == nil {
			if len(rest) < len(prev) {
				continue // empty statement
			}
			break
		}
		rs, e := p.execStmt(stmt, s.Params, used)
		if e != nil {
			return res, e
		}
		res.Statements++
		if len(rs.Columns) > 0 {
			res.Results = append(res.Results, rs)
			if err = wr.Table(rs); err != nil {
				return res, err
			}
		}
	}

	res.Changes = conn.TotalChanges()
	for k := range s.Params {
		if !used[k] {
			log.Printf("[WARN] param %q is not used by script %q", k, s.Name)
		}
	}

	res.Duration = time.Since(st).Truncate(time.Millisecond)
	wr.Printf("completed, statements: %d (%v)", res.Statements, res.Duration)
	return res, nil
}

// execStmt binds the params the statement refers to, steps it through and closes it.
func (p *Process) execStmt(stmt *sqlite.Stmt, params map[string]any, used map[string]bool) (rs report.ResultSet, err error) {
	defer func() {
		if e := stmt.Close(); e != nil && err == nil {
			err = e
		}
	}()

	names := stmt.ParamNames()
	for k, v := range params {
		if !hasParam(names, k) {
			continue
		}
		if err = stmt.BindName(k, v); err != nil {
			return rs, fmt.Errorf("can't bind %s: %w", k, err)
		}
		used[k] = true
	}

	log.Printf("[DEBUG] exec %s", stringutils.Truncate(stringutils.NormalizeWhitespace(stmt.SQL()), 80))
	rs.Columns = stmt.ColumnNames()
	err = stmt.ForEach(func(r sqlite.Row) error {
		rs.Rows = append(rs.Rows, r.Values())
		return nil
	})
	if err != nil {
		return rs, fmt.Errorf("failed %q: %w", stmt.SQL(), err)
	}
	return rs, nil
}

// writer resolves the workbook secrets and returns the writer masking their values
func (p *Process) writer() (*report.Writer, error) {
	if len(p.Workbook.Secrets) == 0 {
		return p.Writer, nil
	}
	if p.Secrets == nil {
		return nil, fmt.Errorf("secrets are defined in workbook (%d secrets), but provider is not set", len(p.Workbook.Secrets))
	}
	values := make([]string, 0, len(p.Workbook.Secrets))
	for _, key := range p.Workbook.Secrets {
		v, err := p.Secrets.Get(key)
		if err != nil {
			return nil, fmt.Errorf("can't get secret %q: %w", key, err)
		}
		values = append(values, v)
	}
	return p.Writer.WithSecrets(values), nil
}

func (p *Process) busyTimeout() time.Duration {
	if p.BusyTimeout > 0 {
		return p.BusyTimeout
	}
	return 5 * time.Second
}

// hasParam checks if key names one of the statement parameters, the prefix may be omitted
func hasParam(names []string, key string) bool {
	if key == "" {
		return false
	}
	if strings.ContainsAny(key[:1], ":@$") {
		return stringutils.Contains(key, names)
	}
	for _, prefix := range []string{":", "@", "$"} {
		if stringutils.Contains(prefix+key, names) {
			return true
		}
	}
	return false
}
