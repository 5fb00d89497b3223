package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"biostore/internal/config"
)

func runCLI(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	getenv := func(k string) string { return env[k] }
	err := run(context.Background(), append([]string{"--log-level", "error"}, args...), &out, getenv)
	return out.String(), err
}

func mustRun(t *testing.T, env map[string]string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, env, args...)
	if err != nil {
		if strings.Contains(err.Error(), "no such module") {
			t.Skipf("sqlite unavailable: %v", err)
		}
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func testEnv(t *testing.T) map[string]string {
	dir := t.TempDir()
	return map[string]string{
		config.EnvSettingsPath:  filepath.Join(dir, "settings.yaml"),
		config.EnvTmpDir:        filepath.Join(dir, "tmp"),
		config.EnvArchiveDriver: "fs",
		config.EnvArchiveFSRoot: filepath.Join(dir, "archive"),
	}
}

func TestCreateMkdirFolders(t *testing.T) {
	env := testEnv(t)
	db := filepath.Join(t.TempDir(), "lab.biodb")
	if got := mustRun(t, env, "create", db); strings.TrimSpace(got) != "sqlite>"+db {
		t.Fatalf("create printed %q", got)
	}
	mustRun(t, env, "mkdir", db, "/proj/reads")
	tree := mustRun(t, env, "folders", db)
	if !strings.Contains(tree, "  proj/\n    reads/\n") {
		t.Fatalf("tree:\n%s", tree)
	}
	if _, err := runCLI(t, env, "mkdir", db, "/proj"); err == nil {
		t.Fatalf("duplicate mkdir succeeded")
	}
	info := mustRun(t, env, "info", db)
	if !strings.Contains(info, "objects:  0") {
		t.Fatalf("info:\n%s", info)
	}
}

func TestCreateStrategyFlags(t *testing.T) {
	env := testEnv(t)
	db := filepath.Join(t.TempDir(), "reads.biodb")
	mustRun(t, env, "create", "--assembly-method", "single-table", db)
	info := mustRun(t, env, "info", db)
	if !strings.Contains(info, "meta sqlite-assembly-reads-elen-method = single-table") {
		t.Fatalf("info:\n%s", info)
	}
}

func TestURLCommands(t *testing.T) {
	env := testEnv(t)
	if got := mustRun(t, env, "url", "folder", "--type", "sequence", "lab.biodb", "/reads"); strings.TrimSpace(got) != "sqlite>lab.biodb,1:/reads" {
		t.Fatalf("folder url = %q", got)
	}
	obj := strings.TrimSpace(mustRun(t, env, "url", "object", "lab.biodb", "7", "msa", "aln"))
	if obj != "sqlite>lab.biodb,7:2:aln" {
		t.Fatalf("object url = %q", obj)
	}
	decoded := mustRun(t, env, "url", "decode", obj)
	for _, want := range []string{"dbi:     lab.biodb", "row:     7", "type:    msa", "name:    aln"} {
		if !strings.Contains(decoded, want) {
			t.Fatalf("decode missing %q:\n%s", want, decoded)
		}
	}
	if _, err := runCLI(t, env, "url", "decode", "garbage"); err == nil {
		t.Fatalf("decode of garbage succeeded")
	}
}

func TestKnownCommands(t *testing.T) {
	env := testEnv(t)
	mustRun(t, env, "known", "add", "lab", "sqlite>/data/lab.biodb")
	if got := mustRun(t, env, "known", "list"); got != "lab\tsqlite>/data/lab.biodb\n" {
		t.Fatalf("list = %q", got)
	}
	if _, err := os.Stat(env[config.EnvSettingsPath]); err != nil {
		t.Fatalf("settings file: %v", err)
	}
	mustRun(t, env, "known", "remove", "lab")
	if got := mustRun(t, env, "known", "list"); got != "" {
		t.Fatalf("list after remove = %q", got)
	}
}

func TestArchiveCommand(t *testing.T) {
	env := testEnv(t)
	db := filepath.Join(t.TempDir(), "lab.biodb")
	mustRun(t, env, "create", db)
	out := mustRun(t, env, "archive", db, "snapshots/lab.biodb")
	if !strings.HasPrefix(out, "snapshots/lab.biodb ") {
		t.Fatalf("archive printed %q", out)
	}
	if _, err := os.Stat(db); err != nil {
		t.Fatalf("archived database removed: %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := runCLI(t, testEnv(t), "frobnicate"); err == nil {
		t.Fatalf("unknown command succeeded")
	}
}
