package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/fileutils"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/sqlbind/pkg/config"
	"github.com/umputun/sqlbind/pkg/report"
	"github.com/umputun/sqlbind/pkg/runner"
	"github.com/umputun/sqlbind/pkg/secrets"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

type options struct {
	DB         string            `short:"d" long:"db" env:"SQLBIND_DB" description:"database file, required unless set by the workbook"`
	SecretsKey string            `short:"k" long:"secrets-key" env:"SQLBIND_SECRETS_KEY" description:"key for the encrypted secrets store"`
	SecretsDB  string            `long:"secrets-db" env:"SQLBIND_SECRETS_DB" description:"secrets database, the main one if not set"`
	Secrets    map[string]string `long:"secret" description:"inline secret as key:value, used if no secrets key set"`
	NoColor    bool              `long:"no-color" description:"disable colorized output"`
	Dbg        bool              `long:"dbg" description:"debug mode"`

	ExecCmd struct {
		Extensions []string `short:"e" long:"ext" default:"all" description:"extension packs to load"`
		Positional struct {
			SQL []string `positional-arg-name:"sql" required:"1" description:"sql statements"`
		} `positional-args:"yes" required:"yes"`
	} `command:"exec" description:"run sql statements and print the results"`

	RunCmd struct {
		Workbook   string   `short:"f" long:"file" env:"SQLBIND_WORKBOOK" default:"sqlbind.yml" description:"workbook file"`
		Scripts    []string `short:"s" long:"script" description:"scripts to run, all if not set"`
		Concurrent int      `short:"c" long:"concurrent" default:"1" description:"concurrent scripts"`
		Watch      bool     `short:"w" long:"watch" description:"run again on workbook changes"`
	} `command:"run" description:"run workbook scripts"`

	BackupCmd struct {
		Pages      int `long:"pages" default:"100" description:"pages copied per step"`
		Positional struct {
			Dst string `positional-arg-name:"dst" description:"destination database file"`
		} `positional-args:"yes" required:"yes"`
	} `command:"backup" description:"copy the database with the online backup api"`

	SecretsCmd struct {
		SetCmd struct {
			Positional struct {
				Key   string `positional-arg-name:"key" description:"key to add"`
				Value string `positional-arg-name:"value" description:"value to add"`
			} `positional-args:"yes" required:"yes"`
		} `command:"set" description:"add a new secret"`

		GetCmd struct {
			Positional struct {
				Key string `positional-arg-name:"key" description:"key to retrieve"`
			} `positional-args:"yes" required:"yes"`
		} `command:"get" description:"retrieve a secret"`

		DeleteCmd struct {
			Positional struct {
				Key string `positional-arg-name:"key" description:"key to delete"`
			} `positional-args:"yes" required:"yes"`
		} `command:"del" description:"delete a secret"`

		ListCmd struct {
			Positional struct {
				KeyPrefix string `positional-arg-name:"key-prefix" description:"key prefix to list, all keys if empty or *"`
			} `positional-args:"yes"`
		} `command:"list" description:"list secrets keys"`
	} `command:"secrets" description:"manage encrypted secrets"`
}

var revision = "latest"

var exitFunc = os.Exit

func main() {
	fmt.Printf("sqlbind %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		exitFunc(1) // can be redefined in tests
		return
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, p, opts); err != nil {
		if opts.Dbg {
			log.Printf("[ERROR] %v", err)
		}
		fmt.Printf("failed, %v\n", err)
		exitFunc(1)
	}
}

func run(ctx context.Context, p *flags.Parser, opts options) error {
	switch cmd := activeCommand(p); cmd {
	case "exec":
		return execCmd(ctx, opts)
	case "run":
		return runCmd(ctx, opts)
	case "backup":
		return backupCmd(ctx, opts)
	case "secrets set", "secrets get", "secrets del", "secrets list":
		return secretsCmd(strings.TrimPrefix(cmd, "secrets "), opts)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// activeCommand returns the names of active command and subcommands joined with a space
func activeCommand(p *flags.Parser) string {
	var names []string
	for c := p.Active; c != nil; c = c.Active {
		names = append(names, c.Name)
	}
	return strings.Join(names, " ")
}

// execCmd runs ad-hoc sql as a single-script workbook
func execCmd(ctx context.Context, opts options) error {
	if opts.DB == "" {
		return errors.New("database is not set")
	}
	store, err := openSecrets(opts, false)
	if err != nil {
		return err
	}
	defer closeSecrets(store)

	wb := &config.Workbook{
		Extensions: opts.ExecCmd.Extensions,
		Scripts:    []config.Script{{Name: "exec", SQL: strings.Join(opts.ExecCmd.Positional.SQL, ";\n")}},
	}
	proc := runner.Process{DB: opts.DB, Workbook: wb, Writer: makeWriter(opts), Secrets: secretsProvider(opts, store)}
	_, err = proc.Run(ctx)
	return err
}

// runCmd runs workbook scripts, and with --watch keeps running them on each workbook change until ctx is done
func runCmd(ctx context.Context, opts options) error {
	store, err := openSecrets(opts, false)
	if err != nil {
		return err
	}
	defer closeSecrets(store)

	runOnce := func() error {
		st := time.Now()
		wb, err := config.Load(opts.RunCmd.Workbook)
		if err != nil {
			return fmt.Errorf("can't load workbook: %w", err)
		}
		proc := runner.Process{Concurrency: opts.RunCmd.Concurrent, DB: opts.DB, Workbook: wb,
			Writer: makeWriter(opts), Only: opts.RunCmd.Scripts, Secrets: secretsProvider(opts, store)}
		res, err := proc.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("completed scripts: %d, statements: %d (%v)\n", len(res.Scripts), res.Statements(),
			time.Since(st).Truncate(time.Millisecond))
		return nil
	}

	if err = runOnce(); err != nil {
		if !opts.RunCmd.Watch {
			return err
		}
		log.Printf("[WARN] %v", err)
	}
	if !opts.RunCmd.Watch {
		return nil
	}

	fmt.Printf("watching %s for changes\n", opts.RunCmd.Workbook)
	return watch(ctx, opts.RunCmd.Workbook, func() {
		if err := runOnce(); err != nil {
			log.Printf("[WARN] %v", err)
		}
	})
}

// watch calls fn on each change of the workbook or sql files next to it, until ctx is done.
// The directory is watched, so files replaced by rename are caught.
func watch(ctx context.Context, workbook string, fn func()) error {
	abs, err := filepath.Abs(workbook)
	if err != nil {
		return err
	}
	changes := make(chan struct{}, 1)
	fw, err := fileutils.NewFileWatcher(filepath.Dir(abs), func(ev fileutils.FileEvent) {
		if ev.Path != abs && !strings.HasSuffix(ev.Path, ".sql") {
			return
		}
		log.Printf("[DEBUG] file event %v on %s", ev.Type, ev.Path)
		select {
		case changes <- struct{}{}:
		default: // already pending
		}
	})
	if err != nil {
		return fmt.Errorf("can't watch %s: %w", workbook, err)
	}
	defer fw.Close() // nolint

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			time.Sleep(100 * time.Millisecond) // let the editor finish writing
			select {
			case <-changes:
			default:
			}
			fn()
		}
	}
}

func backupCmd(ctx context.Context, opts options) error {
	if opts.DB == "" {
		return errors.New("database is not set")
	}
	dstName := opts.BackupCmd.Positional.Dst
	if fileutils.IsDir(dstName) {
		dstName = filepath.Join(dstName, filepath.Base(opts.DB))
	}

	src, err := sqlite.Open(opts.DB, sqlite.ReadOnly())
	if err != nil {
		return err
	}
	defer src.Close() // nolint
	dst, err := sqlite.Open(dstName)
	if err != nil {
		return err
	}
	defer dst.Close() // nolint

	st := time.Now()
	log.Printf("[INFO] backup %s to %s", opts.DB, dstName)
	if err = src.BackupTo(ctx, dst, opts.BackupCmd.Pages); err != nil {
		return fmt.Errorf("can't backup %s: %w", opts.DB, err)
	}
	fmt.Printf("backup of %s completed to %s (%v)\n", opts.DB, dstName, time.Since(st).Truncate(time.Millisecond))
	return nil
}

func secretsCmd(cmd string, opts options) error {
	store, err := openSecrets(opts, true)
	if err != nil {
		return err
	}
	defer closeSecrets(store)
	sc := opts.SecretsCmd

	switch cmd {
	case "set":
		log.Printf("[INFO] set command, key=%s", sc.SetCmd.Positional.Key)
		if sc.SetCmd.Positional.Value == "" {
			return fmt.Errorf("can't set empty secret for key %q", sc.SetCmd.Positional.Key)
		}
		return store.Set(sc.SetCmd.Positional.Key, sc.SetCmd.Positional.Value)
	case "get":
		log.Printf("[INFO] get command, key=%s", sc.GetCmd.Positional.Key)
		val, err := store.Get(sc.GetCmd.Positional.Key)
		if err != nil {
			return err
		}
		fmt.Println(val)
	case "del":
		log.Printf("[INFO] del command, key=%s", sc.DeleteCmd.Positional.Key)
		if err := store.Delete(sc.DeleteCmd.Positional.Key); err != nil {
			return err
		}
		log.Printf("[INFO] key=%s deleted", sc.DeleteCmd.Positional.Key)
	case "list":
		log.Printf("[INFO] list command, key-prefix=%q", sc.ListCmd.Positional.KeyPrefix)
		keys, err := store.List(sc.ListCmd.Positional.KeyPrefix)
		if err != nil {
			return err
		}
		for i, k := range keys {
			if i%4 == 0 && i != 0 {
				fmt.Println()
			}
			fmt.Printf("%s\t", k)
		}
		fmt.Println()
	}
	return nil
}

// openSecrets opens the secrets store if the key is set. It is an error to have no key
// only if the store is required.
func openSecrets(opts options, required bool) (*secrets.Store, error) {
	if opts.SecretsKey == "" {
		if required {
			return nil, errors.New("secrets key is not set")
		}
		return nil, nil
	}
	dbName := opts.SecretsDB
	if dbName == "" {
		dbName = opts.DB
	}
	if dbName == "" {
		return nil, errors.New("secrets database is not set")
	}
	store, err := secrets.Open(dbName, []byte(opts.SecretsKey))
	if err != nil {
		return nil, fmt.Errorf("can't open secrets store: %w", err)
	}
	return store, nil
}

// secretsProvider returns the store if opened, inline secrets otherwise, nil if there are none
func secretsProvider(opts options, store *secrets.Store) runner.SecretsProvider {
	if store != nil {
		return store
	}
	if len(opts.Secrets) > 0 {
		return secrets.NewMemoryProvider(opts.Secrets)
	}
	return nil
}

func closeSecrets(store *secrets.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Printf("[WARN] can't close secrets store: %v", err)
	}
}

// makeWriter makes the output writer, monochrome if asked to or if stdout is not a terminal
func makeWriter(opts options) *report.Writer {
	return report.New(os.Stdout, opts.NoColor || !report.IsTerminal(os.Stdout), nil)
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
