package kv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/cmd/util"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/lib/store/mstore"
	"github.com/ValentinKolb/dORM/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dORM shards",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// perfTest is one benchmark. Keys are set before the run if prefill is set and deleted afterwards.
type perfTest struct {
	name    string
	prefill bool
	op      func(ctx context.Context, key string, counter int) error
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = max(1, viper.GetInt("threads"))
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dORM shards")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// every operation is timed by the metered stores as well
	registry := metrics.NewRegistry()
	var tests []perfTest
	var cleanup func(ctx context.Context, key string) error
	if volatileStore != nil {
		s := mstore.NewMeteredVolatileStore(volatileStore, registry, "volatile")
		tests = volatilePerfTests(s)
		cleanup = s.Delete
	} else {
		s := mstore.NewMeteredStore(persistentStore, registry, "persistent")
		tests = persistentPerfTests(s)
		cleanup = s.Delete
	}

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range tests {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test.name) {
				return
			}
			ctx := context.Background()

			getKey, iter := getKeys(test.name)
			if test.prefill {
				iter(func(k string) {
					if err := test.op(ctx, k, -1); err != nil {
						log.Printf("(%s) - error preparing key: %v\n", test.name, err)
					}
				})
			}
			b.Cleanup(func() {
				iter(func(k string) {
					if err := cleanup(ctx, k); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", test.name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := test.op(ctx, getKey(counter), counter); err != nil {
						log.Printf("(%s) - error: %v\n", test.name, err)
					}
					counter++
				}
			})
		})
		results[test.name] = result
		printResult(test.name, result)
	}

	fmt.Println()
	mstore.WriteReport(os.Stdout, registry)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// persistentPerfTests returns the benchmarks of a persistent shard.
// A negative counter means the op runs to prepare the key.
func persistentPerfTests(s store.IPersistentStore) []perfTest {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	set := func(ctx context.Context, key string, _ int) error {
		return s.Set(ctx, key, value)
	}
	return []perfTest{
		{name: "set", op: set},
		{name: "set-large", op: func(ctx context.Context, key string, _ int) error {
			return s.Set(ctx, key, largeValue)
		}},
		{name: "get", prefill: true, op: func(ctx context.Context, key string, counter int) error {
			if counter < 0 {
				return set(ctx, key, counter)
			}
			_, err := s.Get(ctx, key)
			return err
		}},
		{name: "get-multi", prefill: true, op: func(ctx context.Context, key string, counter int) error {
			if counter < 0 {
				return set(ctx, key, counter)
			}
			_, err := s.GetMulti(ctx, []string{key, key, key})
			return err
		}},
		{name: "txn-assert", prefill: true, op: func(ctx context.Context, key string, counter int) error {
			if counter < 0 {
				return set(ctx, key, counter)
			}
			// asserts the value it writes, so concurrent runs never conflict
			return s.Apply(ctx, s.Begin().Assert(key, value).Set(key, value))
		}},
		{name: "scan", prefill: true, op: func(ctx context.Context, key string, counter int) error {
			if counter < 0 {
				return set(ctx, key, counter)
			}
			_, err := store.CollectKeys(s.Prefix(ctx, perfKeyPrefix+"-scan-"))
			return err
		}},
		{name: "mixed", op: func(ctx context.Context, key string, counter int) error {
			var err error
			switch counter % 4 {
			case 0:
				err = s.Set(ctx, key, value)
			case 1:
				_, err = s.Get(ctx, key)
			case 2:
				err = s.Delete(ctx, key)
			case 3:
				err = s.Apply(ctx, s.Begin().Set(key, value))
			}
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}},
	}
}

// volatilePerfTests returns the benchmarks of a volatile shard
func volatilePerfTests(s store.IVolatileStore) []perfTest {
	value := []byte("test")
	ttl := time.Minute
	set := func(ctx context.Context, key string, _ int) error {
		return s.Set(ctx, key, value, ttl)
	}
	return []perfTest{
		{name: "set", op: set},
		{name: "get", prefill: true, op: func(ctx context.Context, key string, counter int) error {
			if counter < 0 {
				return set(ctx, key, counter)
			}
			_, _, err := s.Get(ctx, key)
			return err
		}},
		{name: "get-miss", op: func(ctx context.Context, key string, _ int) error {
			_, _, err := s.Get(ctx, key)
			return err
		}},
		{name: "add", op: func(ctx context.Context, key string, _ int) error {
			_, err := s.Add(ctx, key, value, ttl)
			return err
		}},
		{name: "incr", op: func(ctx context.Context, key string, _ int) error {
			_, err := s.Incr(ctx, key, 1)
			return err
		}},
		{name: "delete", prefill: true, op: func(ctx context.Context, key string, counter int) error {
			if counter < 0 {
				return set(ctx, key, counter)
			}
			return s.Delete(ctx, key)
		}},
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Volatile", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			strconv.FormatBool(volatileStore != nil),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
