// Command marker-import seeds the configured store from a YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marker/internal/bookmark"
	"marker/internal/config"
	"marker/internal/db"
	"marker/internal/importer"
	"marker/internal/logger"
)

func main() {
	file := flag.String("f", "", "YAML seed file")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: marker-import -f seed.yaml")
		os.Exit(2)
	}
	if err := run(*file); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.PrettyLog)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := bookmark.NewService(store, log)
	res, err := importer.New(svc, log).ImportFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d tags and %d bookmarks\n", res.Tags, res.Bookmarks)
	return nil
}
