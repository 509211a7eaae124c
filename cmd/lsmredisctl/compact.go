package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsmredis/lsmredis/lsm"
	"github.com/lsmredis/lsmredis/vfs"
)

var compactCmd = &cobra.Command{
	Use:   "compact [dbdir]",
	Short: "force every pending flush and compaction to run, then exit",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCompact,
}

func runCompact(cmd *cobra.Command, args []string) error {
	dbdir, err := resolveDBDir(args)
	if err != nil {
		return err
	}
	db, err := lsm.Open(dbdir, vfs.Default, &lsm.Options{})
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbdir, err)
	}
	defer db.Close()

	if err := db.CompactAll(context.Background()); err != nil {
		return fmt.Errorf("compacting %s: %w", dbdir, err)
	}
	fmt.Println("compaction complete")
	return nil
}
