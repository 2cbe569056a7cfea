// Package main provides a CLI tool for copying detection events from a
// SQLite event store into MySQL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-relay/internal/datastore"
)

// Version information (can be set via ldflags during build)
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbexport",
	Short: "Export birdnet-relay detection events from SQLite to MySQL",
	Long: `A tool for moving a relay's detection log from SQLite to MySQL.

Rows keep their original IDs, so running the export again skips rows
already present in the target.`,
	RunE: runExport,
}

var cfg Config

func init() {
	rootCmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite database file")

	rootCmd.Flags().StringVar(&cfg.MySQL.Host, "mysql-host", "", "MySQL host")
	rootCmd.Flags().StringVar(&cfg.MySQL.Port, "mysql-port", "", "MySQL port")
	rootCmd.Flags().StringVar(&cfg.MySQL.Username, "mysql-user", "birdnet", "MySQL username")
	rootCmd.Flags().StringVar(&cfg.MySQL.Password, "mysql-pass", "", "MySQL password")
	rootCmd.Flags().StringVar(&cfg.MySQL.Database, "mysql-database", "birdnet_relay", "MySQL database name")

	rootCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", 1000, "Number of records per batch")
	rootCmd.Flags().BoolVar(&cfg.Clean, "clean", false, "Delete target rows before exporting")
	rootCmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-export verification")
	rootCmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")

	rootCmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "Path to config.yaml (for connection fallback)")

	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

func runExport(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if v, _ := cmd.Flags().GetBool("version"); v {
		_, err := fmt.Fprintf(out, "dbexport version %s\n", version)
		return err
	}

	if err := cfg.Load(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintf(out, "Source: %s\n", cfg.SQLitePath)
		fmt.Fprintf(out, "Target: %s\n", cfg.SanitizedTarget())
		fmt.Fprintf(out, "Batch size: %d\n", cfg.BatchSize)
	}

	source := &datastore.SQLiteStore{Settings: cfg.SourceSettings()}
	if err := source.Open(); err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	target := &datastore.MySQLStore{Settings: cfg.TargetSettings()}
	if err := target.Open(); err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}
	defer target.Close()

	migrator := NewMigrator(&cfg, source.DB, target.DB, out)
	stats, err := migrator.Run()
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	stats.Print(out)

	if !cfg.SkipVerify {
		fmt.Fprintln(out, "\n--- Verification ---")
		verifier := NewVerifier(source, target, out)
		if err := verifier.Verify(cmd.Context()); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Fprintln(out, "Verification passed!")
	}
	return nil
}
