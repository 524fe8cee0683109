// Command rellybench is a thin demonstration binary for the txcache
// store: it exercises create/lock/commit through a handful of
// goroutines so the store can be driven without embedding it in a real
// application. It is not a scheduler: worker count is a fixed value
// read from config, with no scheduling policy of its own.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/johniel/relly-txcache/backing"
	"github.com/johniel/relly-txcache/internal/config"
	"github.com/johniel/relly-txcache/internal/logging"
	"github.com/johniel/relly-txcache/objid"
	"github.com/johniel/relly-txcache/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "rellybench",
	Short: "Drive the transactional object-store cache with a fixed worker pool",
	RunE:  runBench,
}

func init() {
	config.BindFlags(rootCmd, v)
	rootCmd.PersistentFlags().Int("workers", 4, "fixed number of goroutines driving transactions")
	rootCmd.PersistentFlags().Int("objects", 16, "number of shared Object IDs contended over")
	rootCmd.PersistentFlags().Int("ops-per-worker", 50, "transactions attempted by each worker")
	v.BindPFlag("bench.workers", rootCmd.PersistentFlags().Lookup("workers"))
	v.BindPFlag("bench.objects", rootCmd.PersistentFlags().Lookup("objects"))
	v.BindPFlag("bench.ops_per_worker", rootCmd.PersistentFlags().Lookup("ops-per-worker"))
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := config.Resolve(v)
	logging.Init(logging.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSONOutput})
	log := logging.WithComponent("rellybench")

	workers := v.GetInt("bench.workers")
	objects := v.GetInt("bench.objects")
	opsPerWorker := v.GetInt("bench.ops_per_worker")

	global := backing.NewGlobal()
	s := store.New(cfg, func(txnID uint64) backing.Store { return global.NewHandle(txnID) })

	ids := seedObjects(s, objects)

	var wg sync.WaitGroup
	var committed, aborted int
	var mu sync.Mutex

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + 1))
			for op := 0; op < opsPerWorker; op++ {
				id := ids[rng.Intn(len(ids))]
				txn := s.Begin()

				_, _, err := txn.Lock(context.Background(), id)
				if err != nil {
					_ = txn.Abort()
					mu.Lock()
					aborted++
					mu.Unlock()
					continue
				}
				if err := txn.Commit(); err != nil {
					mu.Lock()
					aborted++
					mu.Unlock()
					continue
				}
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	log.Info().
		Int("workers", workers).
		Int("objects", objects).
		Int("committed", committed).
		Int("aborted", aborted).
		Msg("bench complete")
	fmt.Printf("committed=%d aborted=%d\n", committed, aborted)
	return nil
}

// seedObjects creates the fixed pool of Object IDs the workers contend
// over, each committed by a setup transaction before the benchmark
// proper begins.
func seedObjects(s *store.Store, n int) []objid.ID {
	ids := make([]objid.ID, n)
	for i := 0; i < n; i++ {
		txn := s.Begin()
		id, err := txn.Create(0, nil, fmt.Sprintf("bench-object-%d", i))
		if err != nil {
			panic(err)
		}
		if err := txn.Commit(); err != nil {
			panic(err)
		}
		ids[i] = id
	}
	return ids
}
