// Command biostore inspects and maintains biostore databases: it creates
// databases, lists their folder trees, encodes and decodes database urls,
// keeps the list of known databases and archives database files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"

	"biostore/internal/config"
	"biostore/internal/core"
	"biostore/internal/dburl"
	"biostore/internal/infra/persistence/sqldbi"
	"biostore/internal/infra/persistence/sqlite"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

const usage = `Usage: biostore [global options] <command> [args]

Commands:
  create <db>                     create a database
  info <db>                       print database properties
  folders <db>                    print the folder tree
  mkdir <db> <path>               create a folder
  url db <db>                     print the database url
  url folder <db> <path>          print a folder url
  url object <db> <row> <type> <name>
                                  print an object url
  url decode <url>                decode any url
  known list|add <name> <url>|remove <name>
                                  manage known databases
  archive <db> <key>              copy a database file to the archive store

<db> is a sqlite file path or a database url such as postgres>dsn.

Global options:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Getenv); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "biostore: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
	dbis   *dbi.Registry
}

func run(ctx context.Context, args []string, out io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("biostore", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML configuration file")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	settingsPath := fs.String("settings", "", "settings file holding known databases")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath, getenv)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *settingsPath != "" {
		cfg.SettingsPath = *settingsPath
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	a := &app{
		cfg:    cfg,
		logger: logger,
		out:    out,
		dbis:   core.NewRegistry(sqldbi.WithLogger(logger)),
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, rest := rest[0], rest[1:]
	switch cmd {
	case "create":
		return a.create(ctx, rest)
	case "info":
		return a.info(ctx, rest)
	case "folders":
		return a.folders(ctx, rest)
	case "mkdir":
		return a.mkdir(ctx, rest)
	case "url":
		return a.url(rest)
	case "known":
		return a.known(rest)
	case "archive":
		return a.archive(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func wantArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: want %d arguments, got %d", cmd, n, len(args))
	}
	return nil
}

// dbiRef resolves a <db> argument: a database url or a sqlite file path.
func dbiRef(arg string) (domain.DbiRef, error) {
	if strings.Contains(arg, dburl.ProviderSep) {
		return dburl.DbRefFromEntityURL(arg)
	}
	return domain.DbiRef{FactoryID: sqlite.FactoryID, DbiID: arg}, nil
}

// open opens the database named by arg and returns it with a release func.
func (a *app) open(ctx context.Context, arg string, create bool) (dbi.Dbi, func(), error) {
	ref, err := dbiRef(arg)
	if err != nil {
		return nil, nil, err
	}
	var props map[string]string
	if create {
		props = core.InitProps(a.cfg)
	}
	d, err := a.dbis.Open(ctx, ref, create, props)
	if err != nil {
		return nil, nil, err
	}
	return d, func() {
		if err := d.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("shutdown failed", slog.String("dbi", ref.DbiID), slog.Any("err", err))
		}
	}, nil
}
