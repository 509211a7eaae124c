package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/lsmredis/lsmredis/lsm"
	"github.com/lsmredis/lsmredis/metrics"
	"github.com/lsmredis/lsmredis/vfs"
)

var statsCmd = &cobra.Command{
	Use:   "stats [dbdir]",
	Short: "open a data directory, force a compaction pass, and print its Prometheus metrics",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	dbdir, err := resolveDBDir(args)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, nil)

	opts := (&lsm.Options{}).EnsureDefaults()
	opts.EventListener = collector.EventListener()

	db, err := lsm.Open(dbdir, vfs.Default, opts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbdir, err)
	}
	defer db.Close()
	collector.SetCache(db.BlockCache())

	if err := db.CompactAll(context.Background()); err != nil {
		return fmt.Errorf("compacting %s: %w", dbdir, err)
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	enc := expfmt.NewEncoder(os.Stdout, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return nil
}
