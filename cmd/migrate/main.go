package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/magnetoid/nisam-video-sub001/migrations"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the scraper database schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "./data/scraper.db"), "path to sqlite database")

	for _, c := range []struct {
		use   string
		short string
		run   func(*sql.DB, string, ...goose.OptionsFunc) error
	}{
		{"up", "Migrate to the latest version", goose.Up},
		{"up-one", "Migrate one version up", goose.UpByOne},
		{"down", "Roll back one version", goose.Down},
		{"status", "Show migration status", goose.Status},
		{"version", "Show current version", goose.Version},
		{"reset", "Roll back all migrations", goose.Reset},
	} {
		rootCmd.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(func(db *sql.DB) error {
					if err := c.run(db, "."); err != nil {
						return fmt.Errorf("%s: %w", cmd.Name(), err)
					}
					return nil
				})
			},
		})
	}
}

func withDB(fn func(*sql.DB) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}
	return fn(db)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
