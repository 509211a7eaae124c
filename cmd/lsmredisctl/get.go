package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsmredis/lsmredis/lsm"
	"github.com/lsmredis/lsmredis/redis"
)

var getCmd = &cobra.Command{
	Use:   "get [dbdir] <redis-key>",
	Short: "read a single Redis string key's value out of a data directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	var dirArgs []string
	key := args[len(args)-1]
	if len(args) == 2 {
		dirArgs = args[:1]
	}
	dbdir, err := resolveDBDir(dirArgs)
	if err != nil {
		return err
	}
	store, err := redis.Open(dbdir, &lsm.Options{})
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbdir, err)
	}
	defer store.Close()

	value, err := store.Get([]byte(key))
	if err != nil {
		return fmt.Errorf("getting %q: %w", key, err)
	}
	if value == nil {
		fmt.Println("(nil)")
		return nil
	}
	fmt.Println(string(value))
	return nil
}
