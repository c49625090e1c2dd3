package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"stockwatch/migrations"
)

type command struct {
	help string
	run  func(db *sql.DB) error
}

var commands = map[string]command{
	"up":      {"migrate to the latest version", func(db *sql.DB) error { return goose.Up(db, ".") }},
	"up-one":  {"migrate one version up", func(db *sql.DB) error { return goose.UpByOne(db, ".") }},
	"down":    {"roll back one version", func(db *sql.DB) error { return goose.Down(db, ".") }},
	"redo":    {"roll back and reapply the latest version", func(db *sql.DB) error { return goose.Redo(db, ".") }},
	"status":  {"show migration status", func(db *sql.DB) error { return goose.Status(db, ".") }},
	"version": {"show current version", func(db *sql.DB) error { return goose.Version(db, ".") }},
	"reset":   {"roll back all migrations", func(db *sql.DB) error { return goose.Reset(db, ".") }},
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/stockwatch.db"), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		log.Error("unknown command", "command", name)
		usage()
		os.Exit(2)
	}

	if dir := filepath.Dir(*dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Error("open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(migrations.Dialect); err != nil {
		log.Error("set dialect", "error", err)
		os.Exit(1)
	}

	if err := cmd.run(db); err != nil {
		log.Error("migration failed", "command", name, "path", *dbPath, "error", err)
		_ = db.Close()
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")

	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(out, "  %-8s %s\n", n, commands[n].help)
	}
	fmt.Fprintln(out)
	flag.PrintDefaults()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
