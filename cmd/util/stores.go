package util

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/db/engines/maple"
	"github.com/ValentinKolb/dORM/lib/hdal"
	"github.com/ValentinKolb/dORM/lib/schema"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/lib/store/bstore"
	"github.com/ValentinKolb/dORM/lib/store/lstore"
	"github.com/ValentinKolb/dORM/lib/store/mstore"
	"github.com/ValentinKolb/dORM/rpc/client"
	"github.com/ValentinKolb/dORM/rpc/transport"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Stores bundles the stores a command works on
type Stores struct {
	Persistent store.IPersistentStore
	Volatile   store.IVolatileStore
	// Metrics holds the operation timers if the metrics flag is set, nil otherwise
	Metrics metrics.Registry

	closers []func() error
}

// Close releases connections and local databases
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// SetupStoreFlags adds the flags selecting the persistent and volatile store
func SetupStoreFlags(cmd *cobra.Command) {
	SetupRPCClientFlags(cmd)

	key := "backend"
	cmd.PersistentFlags().String(key, "rpc", WrapString("Where the stores live: rpc (shards of a dORM server), memory (in this process, lost on exit) or badger (persistent store in badger-dir, cache in this process)"))

	key = "badger-dir"
	cmd.PersistentFlags().String(key, "data/badger", WrapString("Directory of the badger database (backend badger)"))

	key = "persistent-shard"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("ID of the persistent shard (backend rpc)"))

	key = "volatile-shard"
	cmd.PersistentFlags().Uint64(key, 200, WrapString("ID of the volatile shard (backend rpc)"))

	key = "metrics"
	cmd.PersistentFlags().Bool(key, false, WrapString("Measure every store operation and print a report when the command finishes"))
}

// OpenStores opens the stores selected by the flags of SetupStoreFlags
func OpenStores() (*Stores, error) {
	s := &Stores{}

	switch backend := viper.GetString("backend"); backend {
	case "rpc":
		p, pt, err := openRPCPersistent(viper.GetUint64("persistent-shard"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pt.Close)
		s.Persistent = p
		v, vt, err := openRPCVolatile(viper.GetUint64("volatile-shard"))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, vt.Close)
		s.Volatile = v

	case "memory":
		s.Persistent = lstore.NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) })
		s.Volatile = lstore.NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) })

	case "badger":
		b, err := bstore.Open(bstore.DefaultOptions(viper.GetString("badger-dir")))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, b.Close)
		s.Persistent = b
		s.Volatile = lstore.NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) })

	default:
		return nil, fmt.Errorf("invalid backend %s (expected one of: rpc, memory, badger)", backend)
	}

	if viper.GetBool("metrics") {
		s.Metrics = metrics.NewRegistry()
		s.Persistent = mstore.NewMeteredStore(s.Persistent, s.Metrics, "persistent")
		s.Volatile = mstore.NewMeteredVolatileStore(s.Volatile, s.Metrics, "volatile")
	}
	return s, nil
}

// OpenPersistentShard connects to a single persistent shard of a server.
// The returned function closes the connection.
func OpenPersistentShard(shardId uint64) (store.IPersistentStore, func() error, error) {
	s, t, err := openRPCPersistent(shardId)
	if err != nil {
		return nil, nil, err
	}
	return s, t.Close, nil
}

// OpenVolatileShard connects to a single volatile shard of a server.
// The returned function closes the connection.
func OpenVolatileShard(shardId uint64) (store.IVolatileStore, func() error, error) {
	s, t, err := openRPCVolatile(shardId)
	if err != nil {
		return nil, nil, err
	}
	return s, t.Close, nil
}

func openRPCPersistent(shardId uint64) (store.IPersistentStore, transport.IRPCClientTransport, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, nil, err
	}
	st, err := client.NewRPCPersistentStore(shardId, *GetClientConfig(), t, s)
	if err != nil {
		return nil, nil, err
	}
	return st, t, nil
}

func openRPCVolatile(shardId uint64) (store.IVolatileStore, transport.IRPCClientTransport, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, nil, err
	}
	st, err := client.NewRPCVolatileStore(shardId, *GetClientConfig(), t, s)
	if err != nil {
		return nil, nil, err
	}
	return st, t, nil
}

// --------------------------------------------------------------------------
// Data access layer
// --------------------------------------------------------------------------

// SetupDALFlags adds the store flags and the flags of the data access layer
func SetupDALFlags(cmd *cobra.Command) {
	SetupStoreFlags(cmd)

	defaults := hdal.DefaultConfig()

	key := "schema"
	cmd.PersistentFlags().StringSlice(key, nil, WrapString("YAML files with the type definitions (comma-separated or repeated)"))

	key = "object-cache-ttl"
	cmd.PersistentFlags().Duration(key, defaults.ObjectCacheTTL, WrapString("Lifetime of cached object copies (0 disables them)"))

	key = "list-cache-ttl-min"
	cmd.PersistentFlags().Duration(key, defaults.ListCacheTTLMin, WrapString("Minimum lifetime of a cached query result"))

	key = "list-cache-ttl-max"
	cmd.PersistentFlags().Duration(key, defaults.ListCacheTTLMax, WrapString("Maximum lifetime of a cached query result"))

	key = "save-retries"
	cmd.PersistentFlags().Int(key, defaults.SaveRetries, WrapString("Retries of a save that raced with another writer"))
}

// GetDALConfig reads the configuration of the data access layer from viper
func GetDALConfig() hdal.Config {
	config := hdal.DefaultConfig()
	config.ObjectCacheTTL = viper.GetDuration("object-cache-ttl")
	config.ListCacheTTLMin = viper.GetDuration("list-cache-ttl-min")
	config.ListCacheTTLMax = viper.GetDuration("list-cache-ttl-max")
	config.SaveRetries = viper.GetInt("save-retries")
	return config
}

// OpenDAL loads the schema files and opens a data access layer on the configured stores
func OpenDAL() (*hdal.DAL, *Stores, error) {
	paths := viper.GetStringSlice("schema")
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no schema given (use --schema)")
	}
	registry, err := schema.NewRegistry(paths)
	if err != nil {
		return nil, nil, err
	}

	stores, err := OpenStores()
	if err != nil {
		return nil, nil, err
	}

	config := GetDALConfig()
	d, err := hdal.New(registry, stores.Persistent, stores.Volatile, hdal.WithConfig(config))
	if err != nil {
		_ = stores.Close()
		return nil, nil, err
	}
	Logger.Debugf("opened data access layer with %d types%s", len(registry.Types()), config.String())
	return d, stores, nil
}

// Timeout returns the configured client timeout
func Timeout() time.Duration {
	return time.Duration(max(1, viper.GetInt("timeout"))) * time.Second
}
