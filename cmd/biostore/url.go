package main

import (
	"fmt"
	"strconv"

	flag "github.com/spf13/pflag"

	"biostore/internal/dburl"
	"biostore/internal/settings"
	"biostore/pkg/domain"
)

func (a *app) url(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("url: want db, folder, object or decode")
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "db":
		if err := wantArgs("url db", args, 1); err != nil {
			return err
		}
		ref, err := dbiRef(args[0])
		if err != nil {
			return err
		}
		u, err := dburl.CreateDbURL(ref)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, u)
		return err
	case "folder":
		fs := flag.NewFlagSet("url folder", flag.ContinueOnError)
		kind := fs.String("type", domain.TypeUnknown.String(), "kind of object the folder holds")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := wantArgs("url folder", fs.Args(), 2); err != nil {
			return err
		}
		t, ok := domain.ParseDataType(*kind)
		if !ok {
			return fmt.Errorf("url folder: unknown type %q", *kind)
		}
		ref, err := dbiRef(fs.Arg(0))
		if err != nil {
			return err
		}
		u, err := dburl.CreateDbFolderURL(ref, fs.Arg(1), t)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, u)
		return err
	case "object":
		if err := wantArgs("url object", args, 4); err != nil {
			return err
		}
		ref, err := dbiRef(args[0])
		if err != nil {
			return err
		}
		row, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("url object: row id %q: %w", args[1], err)
		}
		dbURL, err := dburl.CreateDbURL(ref)
		if err != nil {
			return err
		}
		u, err := dburl.CreateDbObjectURLFromDbURL(dbURL, row, args[2], args[3])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, u)
		return err
	case "decode":
		if err := wantArgs("url decode", args, 1); err != nil {
			return err
		}
		return a.decode(args[0])
	default:
		return fmt.Errorf("url: unknown subcommand %q", sub)
	}
}

func (a *app) decode(u string) error {
	ref, err := dburl.DbRefFromEntityURL(u)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "factory: %s\ndbi:     %s\n", ref.FactoryID, ref.DbiID)
	switch {
	case dburl.IsDbFolderURL(u):
		path, err := dburl.DbFolderPathByURL(u)
		if err != nil {
			return err
		}
		t, err := dburl.DbFolderDataTypeByURL(u)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "folder:  %s\ntype:    %s\n", path, t)
	case dburl.IsDbObjectURL(u):
		er, err := dburl.ObjEntityRefByURL(u)
		if err != nil {
			return err
		}
		name, err := dburl.DbObjectNameByURL(u)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "object:  %s\nrow:     %d\ntype:    %s\nname:    %s\n",
			er.EntityID, er.EntityID.RowID(), er.EntityID.Type(), name)
	}
	return nil
}

func (a *app) known(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("known: want list, add or remove")
	}
	store, err := settings.OpenFile(a.cfg.SettingsPath)
	if err != nil {
		return err
	}
	k := dburl.NewKnownDatabases(store)
	sub, args := args[0], args[1:]
	switch sub {
	case "list":
		all := k.All()
		for _, name := range k.Names() {
			fmt.Fprintf(a.out, "%s\t%s\n", name, all[name])
		}
		return nil
	case "add":
		if err := wantArgs("known add", args, 2); err != nil {
			return err
		}
		return k.Save(args[0], args[1])
	case "remove":
		if err := wantArgs("known remove", args, 1); err != nil {
			return err
		}
		return k.Remove(args[0])
	default:
		return fmt.Errorf("known: unknown subcommand %q", sub)
	}
}
