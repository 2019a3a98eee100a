package kv

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dORM/cmd/util"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// exactly one of them is set, depending on the volatile flag
	persistentStore store.IPersistentStore
	volatileStore   store.IVolatileStore
	closeClient     func() error

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform raw key-value operations on a shard",
		Long: `Perform raw key-value operations on a persistent shard, or on a volatile
shard if --volatile is set. The keys written by the data access layer can be
inspected with scan (e.g. dorm kv scan ovs_data_disk_).`,
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(KeyValueCommands)

	KeyValueCommands.PersistentFlags().Uint64("shard", 100, util.WrapString("ID of the shard to connect to"))
	KeyValueCommands.PersistentFlags().Bool("volatile", false, util.WrapString("The shard is a volatile cache shard"))

	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(addCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient connects to the shard selected by the flags
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	var err error
	if viper.GetBool("volatile") {
		volatileStore, closeClient, err = util.OpenVolatileShard(util.GetShardID())
	} else {
		persistentStore, closeClient, err = util.OpenPersistentShard(util.GetShardID())
	}
	return err
}

func closeKVClient(_ *cobra.Command, _ []string) error {
	if closeClient == nil {
		return nil
	}
	return closeClient()
}

// requestContext bounds a single command by the client timeout
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), util.Timeout())
}

func requirePersistent(name string) error {
	if persistentStore == nil {
		return fmt.Errorf("%s is only supported on persistent shards", name)
	}
	return nil
}

func requireVolatile(name string) error {
	if volatileStore == nil {
		return fmt.Errorf("%s is only supported on volatile shards (use --volatile)", name)
	}
	return nil
}
