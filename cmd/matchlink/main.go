// Package main provides the matchlink CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/matchlink/pkg/catalog"
	"github.com/orneryd/matchlink/pkg/config"
	"github.com/orneryd/matchlink/pkg/logging"
	"github.com/orneryd/matchlink/pkg/matchlink"
	"github.com/orneryd/matchlink/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "matchlink",
		Short: "matchlink - event relationship engine for match annotation",
		Long: `matchlink is the local data layer of a sports-match annotation app:
it stores timestamped match events and automatically links events that
belong together (a goal and its assist, a shot and the save that followed).

Commands cover the administrative paths:
  • import     bulk-ingest events from a JSON file
  • reconcile  retroactively re-derive links after out-of-order ingestion
  • stats      print a match's linking statistics
  • catalog    validate a relationship catalog file`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("matchlink v%s (%s)\n", version, commit)
		},
	})

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Bulk-ingest events from a JSON file",
		Long: `Reads a JSON array of events and inserts them through the bulk ingest
coordinator. Items that fail to persist are reported individually; the
rest of the batch is still processed.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	rootCmd.AddCommand(importCmd)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile [matchID]",
		Short: "Retroactively link a match's events",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconcile,
	}
	rootCmd.AddCommand(reconcileCmd)

	statsCmd := &cobra.Command{
		Use:   "stats [matchID]",
		Short: "Print a match's linking statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Relationship catalog operations",
	}
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a YAML relationship catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  runCatalogValidate,
	})
	rootCmd.AddCommand(catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDB wires a DB from the environment configuration.
func openDB() (*matchlink.DB, error) {
	cfg := config.LoadFromEnv()
	logger, err := logging.New(cfg.Environment)
	if err != nil {
		return nil, err
	}
	return matchlink.Open(cfg, logger)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var events []*storage.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	res := db.Ingest.BulkInsert(context.Background(), events)
	fmt.Printf("Imported %d of %d events (%d failed)\n",
		res.Processed, len(events), res.Failed)
	for _, itemErr := range res.Errors {
		fmt.Printf("  item %d (%s): %s\n", itemErr.Index, itemErr.EventID, itemErr.Error)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	created, err := db.Linker.RetroactivelyLink(context.Background(), storage.MatchID(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("Created %d new links for match %s\n", created, args[0])
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats := db.Query.MatchLinkingStats(storage.MatchID(args[0]))
	fmt.Printf("Match %s\n", args[0])
	fmt.Printf("  events:   %d\n", stats.TotalEvents)
	fmt.Printf("  linked:   %d (%.1f%%)\n", stats.LinkedEvents, stats.LinkingPercentage)
	fmt.Printf("  pairs:    %d\n", stats.TotalLinks)
	for kind, ks := range stats.ByKind {
		fmt.Printf("  %-16s %d total, %d linked\n", kind, ks.Total, ks.Linked)
	}
	return nil
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load(args[0])
	if err != nil {
		return err
	}
	ok, problems := cat.Validate()
	if ok {
		fmt.Println("Catalog is valid.")
		return nil
	}
	fmt.Printf("Catalog has %d problem(s):\n", len(problems))
	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
	os.Exit(1)
	return nil
}
