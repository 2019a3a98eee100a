package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			key := args[0]
			var (
				value []byte
				found = true
				err   error
			)
			if volatileStore != nil {
				value, found, err = volatileStore.Get(ctx, key)
			} else {
				value, err = persistentStore.Get(ctx, key)
				if errors.Is(err, store.ErrNotFound) {
					found, err = false, nil
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t, value=%s\n", key, found, value)
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key (with --ttl on volatile shards)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			var err error
			if volatileStore != nil {
				ttl, _ := cmd.Flags().GetDuration("ttl")
				err = volatileStore.Set(ctx, args[0], []byte(args[1]), ttl)
			} else {
				err = persistentStore.Set(ctx, args[0], []byte(args[1]))
			}
			if err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [key] [value]",
		Short: "Sets the value for a key if the key is not set (persistent: in a transaction)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			key, value := args[0], []byte(args[1])
			added := true
			if volatileStore != nil {
				ttl, _ := cmd.Flags().GetDuration("ttl")
				var err error
				if added, err = volatileStore.Add(ctx, key, value, ttl); err != nil {
					return err
				}
			} else {
				txn := persistentStore.Begin().AssertAbsent(key).Set(key, value)
				if err := persistentStore.Apply(ctx, txn); err != nil {
					if !errors.Is(err, store.ErrRaceCondition) {
						return err
					}
					added = false
				}
			}
			fmt.Printf("key=%s, added=%t\n", key, added)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			var err error
			if volatileStore != nil {
				err = volatileStore.Delete(ctx, args[0])
			} else {
				err = persistentStore.Delete(ctx, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key] [delta]",
		Short: "Adds delta to a counter on a volatile shard",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireVolatile("incr"); err != nil {
				return err
			}
			delta := int64(1)
			if len(args) == 2 {
				var err error
				if delta, err = strconv.ParseInt(args[1], 10, 64); err != nil {
					return fmt.Errorf("delta must be a number: %w", err)
				}
			}

			ctx, cancel := requestContext(cmd)
			defer cancel()
			value, err := volatileStore.Incr(ctx, args[0], delta)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, value=%d\n", args[0], value)
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [prefix]",
		Short: "Lists the entries of a persistent shard whose key starts with prefix",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePersistent("scan"); err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			keysOnly, _ := cmd.Flags().GetBool("keys-only")
			limit, _ := cmd.Flags().GetInt("limit")

			// a scan may need many pages, it is bounded by the command context only
			ctx := cmd.Context()
			var it store.EntryIterator
			if keysOnly {
				it = persistentStore.Prefix(ctx, prefix)
			} else {
				it = persistentStore.PrefixEntries(ctx, prefix)
			}
			defer it.Close()

			count := 0
			for it.Next() {
				if limit > 0 && count >= limit {
					break
				}
				if keysOnly {
					fmt.Println(it.Key())
				} else {
					fmt.Printf("%s = %s\n", it.Key(), it.Value())
				}
				count++
			}
			if err := it.Err(); err != nil {
				return err
			}
			fmt.Printf("(%d entries)\n", count)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the database of the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			var provider interface{} = persistentStore
			if volatileStore != nil {
				provider = volatileStore
			}
			p, ok := provider.(store.IDBInfoProvider)
			if !ok {
				return fmt.Errorf("the store does not provide database information")
			}
			info, err := p.GetDBInfo(ctx)
			if err != nil {
				return err
			}
			return printInfo(info)
		},
	}
)

func init() {
	setCmd.Flags().Duration("ttl", time.Hour, "Lifetime of the key (volatile shards)")
	addCmd.Flags().Duration("ttl", time.Hour, "Lifetime of the key (volatile shards)")
	scanCmd.Flags().Bool("keys-only", false, "Print keys only")
	scanCmd.Flags().Int("limit", 0, "Maximum number of entries to print (0 = all)")
}

func printInfo(info db.DatabaseInfo) error {
	fmt.Printf("type=%s, entries=%d, size=%d bytes\n", info.DbType, info.Entries, info.SizeBytes)
	if info.Metadata != nil {
		meta, err := json.MarshalIndent(info.Metadata, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(meta))
	}
	return nil
}
