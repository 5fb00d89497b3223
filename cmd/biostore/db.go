package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"biostore/internal/config"
	"biostore/internal/core"
	"biostore/internal/dburl"
	"biostore/internal/folders"
	"biostore/internal/infra/persistence/sqlite"
	"biostore/internal/tmpdbi"
	"biostore/pkg/domain"
)

func (a *app) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	method := fs.String("assembly-method", a.cfg.Assembly.Method, "assembly read storage strategy")
	compression := fs.String("compression", a.cfg.Assembly.Compression, "assembly read compression")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs("create", fs.Args(), 1); err != nil {
		return err
	}
	a.cfg.Assembly = config.Assembly{Method: *method, Compression: *compression}
	d, release, err := a.open(ctx, fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer release()
	u, err := dburl.CreateDbURL(d.DbiRef())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, u)
	return err
}

func (a *app) info(ctx context.Context, args []string) error {
	if err := wantArgs("info", args, 1); err != nil {
		return err
	}
	d, release, err := a.open(ctx, args[0], false)
	if err != nil {
		return err
	}
	defer release()
	count, err := d.ObjectDbi().CountObjects(ctx)
	if err != nil {
		return err
	}
	meta, err := d.MetaInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "factory:  %s\n", d.FactoryID())
	fmt.Fprintf(a.out, "dbi:      %s\n", d.DbiID())
	if d.FactoryID() == sqlite.FactoryID && d.DbiID() != sqlite.MemoryURL {
		if st, err := os.Stat(d.DbiID()); err == nil {
			fmt.Fprintf(a.out, "size:     %s\n", humanize.Bytes(uint64(st.Size())))
		}
	}
	fmt.Fprintf(a.out, "objects:  %d\n", count)
	fmt.Fprintf(a.out, "readonly: %t\n", d.IsReadOnly())
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		fmt.Fprintf(a.out, "meta %s = %s\n", k, meta[k])
	}
	return nil
}

func (a *app) folders(ctx context.Context, args []string) error {
	if err := wantArgs("folders", args, 1); err != nil {
		return err
	}
	d, release, err := a.open(ctx, args[0], false)
	if err != nil {
		return err
	}
	defer release()
	m, err := folders.Load(ctx, d.ObjectDbi(), folders.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.printTree(m, domain.RootFolder, 0)
	return nil
}

func (a *app) printTree(m *folders.Model, path string, depth int) {
	indent := strings.Repeat("  ", depth)
	if path == domain.RootFolder {
		fmt.Fprintln(a.out, domain.RootFolder)
	} else {
		fmt.Fprintf(a.out, "%s%s/\n", indent, domain.FolderName(path))
	}
	for _, sub := range m.SubFoldersNatural(path) {
		a.printTree(m, sub, depth+1)
	}
	for _, o := range m.ObjectsNatural(path) {
		fmt.Fprintf(a.out, "%s  %s [%s]\n", indent, o.Name, o.ID.Type())
	}
}

func (a *app) mkdir(ctx context.Context, args []string) error {
	if err := wantArgs("mkdir", args, 2); err != nil {
		return err
	}
	d, release, err := a.open(ctx, args[0], false)
	if err != nil {
		return err
	}
	defer release()
	m, err := folders.Load(ctx, d.ObjectDbi(), folders.WithLogger(a.logger))
	if err != nil {
		return err
	}
	if err := m.AddFolder(ctx, args[1]); err != nil {
		return err
	}
	a.logger.Info("folder created", slog.String("path", args[1]))
	return nil
}

func (a *app) archive(ctx context.Context, args []string) (err error) {
	if err := wantArgs("archive", args, 2); err != nil {
		return err
	}
	ref, err := dbiRef(args[0])
	if err != nil {
		return err
	}
	store, err := core.OpenArchive(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("archive: no archive driver configured")
	}
	reg := tmpdbi.New(a.dbis, tmpdbi.WithTmpDir(a.cfg.TmpDir), tmpdbi.WithArchive(store), tmpdbi.WithLogger(a.logger))
	defer func() { err = errors.Join(err, reg.Close(context.WithoutCancel(ctx))) }()
	if err := reg.OpenDbi(ctx, ref); err != nil {
		return err
	}
	info, err := reg.Archive(ctx, ref, args[1])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%s %s\n", info.Key, humanize.Bytes(uint64(info.Size)))
	return err
}
