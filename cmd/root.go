package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dORM/cmd/check"
	"github.com/ValentinKolb/dORM/cmd/kv"
	"github.com/ValentinKolb/dORM/cmd/object"
	"github.com/ValentinKolb/dORM/cmd/query"
	"github.com/ValentinKolb/dORM/cmd/serve"
	"github.com/ValentinKolb/dORM/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dorm",
		Short: "object data access layer on key-value stores",
		Long: fmt.Sprintf(`dORM (v%s)

A data access layer for typed objects and relations on top of a persistent
key-value store and a volatile cache, with coherent cached queries.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dORM",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dORM v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(object.ObjectCommands)
	RootCmd.AddCommand(query.QueryCmd)
	RootCmd.AddCommand(check.CheckCmd)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
