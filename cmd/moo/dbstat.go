package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cuemby/moo/internal/config"
)

var dbstatCmd = &cobra.Command{
	Use:   "dbstat",
	Short: "Print per-relation tuple counts",
	Long: `dbstat opens storage read-write (the box has no read-only
mode today), reports each base relation's live tuple count, and exits
without committing anything. Page images in the backing file are not
loaded, so the counts describe the freshly built in-memory box.`,
	RunE: runDbstat,
}

func runDbstat(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	srv, err := buildServer(cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	stats := srv.box.Stats()
	ids := make([]int, 0, len(stats))
	byID := make(map[int]int, len(stats))
	for rid, n := range stats {
		byID[int(rid)] = n
		ids = append(ids, int(rid))
	}
	sort.Ints(ids)

	fmt.Printf("%-8s %s\n", "relation", "tuples")
	for _, rid := range ids {
		fmt.Printf("%-8d %d\n", rid, byID[rid])
	}
	return nil
}
