// Command lsmredisctl is an offline admin tool for an lsmredis data
// directory: it inspects the MANIFEST, forces a manual compaction, reads
// back an individual Redis key, and reports Prometheus metrics, all
// without going through a running server. The data directory can be
// passed positionally or, via --config, as a "dbdir" key so repeated
// invocations against the same directory don't have to repeat it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "lsmredisctl",
	Short: "lsmredisctl inspects and administers an lsmredis data directory",
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none)")
	rootCmd.AddCommand(manifestCmd, compactCmd, getCmd, statsCmd)
}

// initConfig loads an optional config file through viper, alongside plain
// cobra flags.
func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "lsmredisctl: reading config %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

// resolveDBDir returns the data directory a subcommand should operate on:
// the positional argument if the caller gave one, otherwise the "dbdir"
// key from a --config file, so a fleet of lsmredisctl invocations against
// the same directory doesn't have to repeat it on every call.
func resolveDBDir(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if dir := viper.GetString("dbdir"); dir != "" {
		return dir, nil
	}
	return "", fmt.Errorf("no data directory given: pass <dbdir> or set \"dbdir\" in --config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
