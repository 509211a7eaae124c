package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/internal/manifest"
	"github.com/lsmredis/lsmredis/vfs"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "inspect a database's MANIFEST",
}

var manifestDumpCmd = &cobra.Command{
	Use:   "dump [dbdir]",
	Short: "print the live table files per level, as recorded in the MANIFEST",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestDump,
}

func init() {
	manifestCmd.AddCommand(manifestDumpCmd)
}

func runManifestDump(cmd *cobra.Command, args []string) error {
	dbdir, err := resolveDBDir(args)
	if err != nil {
		return err
	}
	cmp := base.DefaultComparer
	vs, err := manifest.Recover(dbdir, vfs.Default, cmp.Compare, cmp.Name)
	if err != nil {
		return fmt.Errorf("recovering manifest in %s: %w", dbdir, err)
	}

	v := vs.Current()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tFILE\tSIZE\tSMALLEST\tLARGEST")
	for level, files := range v.Files {
		for _, f := range files {
			fmt.Fprintf(w, "%d\t%06d\t%d\t%s\t%s\n",
				level, f.FileNum, f.FileSize,
				string(f.Smallest.UserKey), string(f.Largest.UserKey))
		}
	}
	fmt.Fprintf(w, "\nlast sequence\t%d\nlog number\t%d\n", vs.LastSequence(), vs.LogNumber())
	return w.Flush()
}
