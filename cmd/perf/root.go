package perf

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/store"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	rpcStore store.IStore

	// PerfCmd runs a small load test against a server
	PerfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for dDoc servers",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			rpcStore, err = util.NewStore(cmd)
			if err != nil {
				return err
			}
			return processPerfConfig()
		},
		RunE: run,
	}

	perfCollectionPrefix = "__perf"
	perfNumThreads       = 10
	perfOps              = 1000
	perfDocs             = 100
	perfSkip             = make([]string, 0)

	registry = gometrics.NewRegistry()
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupRPCClientFlags(PerfCmd, 100)

	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,mixed)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent clients"))
	key = "ops"
	PerfCmd.Flags().Int(key, 1000, util.WrapString("Number of operations per benchmark"))
	key = "docs"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many documents the read benchmarks query"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig() error {
	perfNumThreads = viper.GetInt("threads")
	perfOps = viper.GetInt("ops")
	perfDocs = viper.GetInt("docs")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	if perfNumThreads < 1 || perfOps < 1 || perfDocs < 1 {
		return fmt.Errorf("threads, ops and docs must be positive")
	}
	return nil
}

// benchmark is one load test. prepare runs untimed on a fresh collection.
type benchmark struct {
	name    string
	prepare func(coll string) error
	op      func(coll string, i int) error
}

func benchmarks() []benchmark {
	covered := query.Query{
		Projection: map[string]any{"_id": 1},
		Sort:       catalog.KeySpec{{Field: "_id", Direction: -1}},
		Hint:       "_id_",
	}
	return []benchmark{
		{
			name: "insert",
			op: func(coll string, i int) error {
				_, err := rpcStore.Insert(coll, map[string]any{"_id": i, "x": i % 10})
				return err
			},
		},
		{
			name:    "find-covered",
			prepare: fill,
			op: func(coll string, _ int) error {
				q := covered
				q.Collection = coll
				_, _, err := rpcStore.Find(q)
				return err
			},
		},
		{
			name:    "find-fetch",
			prepare: fill,
			op: func(coll string, i int) error {
				_, _, err := rpcStore.Find(query.Query{Collection: coll, Filter: map[string]any{"x": i % 10}})
				return err
			},
		},
		{
			name: "remove",
			prepare: func(coll string) error {
				for i := 0; i < perfOps; i++ {
					if _, err := rpcStore.Insert(coll, map[string]any{"_id": i}); err != nil {
						return err
					}
				}
				return nil
			},
			op: func(coll string, i int) error {
				return rpcStore.Remove(coll, i)
			},
		},
		{
			name:    "mixed",
			prepare: fill,
			op: func(coll string, i int) error {
				var err error
				switch i % 4 {
				case 0:
					_, err = rpcStore.Insert(coll, map[string]any{"_id": perfDocs + i, "x": i % 10})
				case 1:
					q := covered
					q.Collection = coll
					_, _, err = rpcStore.Find(q)
				case 2:
					_, _, err = rpcStore.Find(query.Query{Collection: coll, Filter: map[string]any{"_id": i % perfDocs}})
				case 3:
					_, err = rpcStore.ListNamespaces(catalog.IndexesOf(coll))
				}
				return err
			},
		},
	}
}

// fill creates perfDocs documents with an index on x.
func fill(coll string) error {
	if err := rpcStore.EnsureIndex(coll, catalog.KeySpec{{Field: "x", Direction: 1}}); err != nil {
		return err
	}
	for i := 0; i < perfDocs; i++ {
		if _, err := rpcStore.Insert(coll, map[string]any{"_id": i, "x": i % 10}); err != nil {
			return err
		}
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dDoc servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Ops: %d, Docs: %d\n", perfNumThreads, perfOps, perfDocs)
	fmt.Println()

	var ran []string
	for _, b := range benchmarks() {
		if shouldSkip(b.name) {
			fmt.Printf("%-16sskipped\n", b.name)
			continue
		}
		if err := runBenchmark(b); err != nil {
			return fmt.Errorf("benchmark %s: %w", b.name, err)
		}
		printResult(b.name)
		ran = append(ran, b.name)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, ran); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// runBenchmark spreads perfOps operations over perfNumThreads clients and
// records the latency of each operation.
func runBenchmark(b benchmark) error {
	coll := fmt.Sprintf("%s_%s", perfCollectionPrefix, strings.ReplaceAll(b.name, "-", "_"))
	if err := rpcStore.Drop(coll); err != nil {
		return err
	}
	defer func() {
		if err := rpcStore.Drop(coll); err != nil {
			log.Printf("(%s) - error dropping %s: %v\n", b.name, coll, err)
		}
	}()
	if b.prepare != nil {
		if err := b.prepare(coll); err != nil {
			return err
		}
	}

	timer := gometrics.GetOrRegisterTimer(b.name, registry)
	errs := gometrics.GetOrRegisterCounter(b.name+".errors", registry)

	var next atomic.Int64
	var g errgroup.Group
	for t := 0; t < perfNumThreads; t++ {
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= perfOps {
					return nil
				}
				start := time.Now()
				err := b.op(coll, i)
				timer.UpdateSince(start)
				if err != nil {
					errs.Inc(1)
					log.Printf("(%s) - error: %v\n", b.name, err)
				}
			}
		})
	}
	return g.Wait()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark in a formatted way
func printResult(test string) {
	t := gometrics.GetOrRegisterTimer(test, registry)
	errs := gometrics.GetOrRegisterCounter(test+".errors", registry).Count()
	fmt.Printf("%-16s%8d ops  mean %-12s p99 %-12s %8.0f ops/sec  %d errors\n",
		test, t.Count(), time.Duration(t.Mean()), time.Duration(t.Percentile(0.99)), t.RateMean(), errs)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, tests []string) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetClientConfig()
	header := []string{
		"Test", "Ops", "Errors", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"Endpoints", "TimeoutSec", "RetryCount", "ShardID", "Serializer", "Threads", "Docs",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range tests {
		t := gometrics.GetOrRegisterTimer(test, registry)
		errs := gometrics.GetOrRegisterCounter(test+".errors", registry).Count()
		row := []string{
			test,
			strconv.FormatInt(t.Count(), 10),
			strconv.FormatInt(errs, 10),
			fmt.Sprintf("%.0f", t.Mean()),
			fmt.Sprintf("%.0f", t.Percentile(0.5)),
			fmt.Sprintf("%.0f", t.Percentile(0.99)),
			strconv.FormatInt(t.Max(), 10),
			fmt.Sprintf("%.0f", t.RateMean()),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfDocs),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
