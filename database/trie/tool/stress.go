// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/0xsoniclabs/statetrie/database/trie"
	"github.com/pbnjay/memory"
	"github.com/urfave/cli/v2"
)

var StressTestCmd = cli.Command{
	Action: withDiagnostics(runStressTest),
	Name:   "stress-test",
	Usage:  "inserts, updates, deletes and iterates random keys while monitoring resource usage",
	Flags: []cli.Flag{
		&backendFlag,
		&tmpDirFlag,
		&numBlocksFlag,
		&opsPerBlockFlag,
		&reportPeriodFlag,
		&flushPeriodFlag,
		&seedFlag,
	},
}

var (
	tmpDirFlag = cli.StringFlag{
		Name:  "tmp-dir",
		Usage: "the directory to place the working store in",
		Value: "",
	}
	numBlocksFlag = cli.IntFlag{
		Name:  "num-blocks",
		Usage: "the number of freeze/store cycles to run, defaults to 1000 if zero",
		Value: 1000,
	}
	opsPerBlockFlag = cli.IntFlag{
		Name:  "ops-per-block",
		Usage: "the number of trie operations per cycle, defaults to 100 if zero",
		Value: 100,
	}
	reportPeriodFlag = cli.DurationFlag{
		Name:  "report-period",
		Usage: "the time between resource usage reports",
		Value: 5 * time.Second,
	}
	flushPeriodFlag = cli.DurationFlag{
		Name:  "flush-period",
		Usage: "the time between store flushes, where the backend supports flushing",
		Value: time.Second,
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "the seed of the operation stream, time based if zero",
		Value: 0,
	}
)

func runStressTest(context *cli.Context) error {
	numBlocks := context.Int(numBlocksFlag.Name)
	if numBlocks <= 0 {
		numBlocks = 1000
	}
	opsPerBlock := context.Int(opsPerBlockFlag.Name)
	if opsPerBlock <= 0 {
		opsPerBlock = 100
	}
	seed := context.Int64(seedFlag.Name)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	tmpDir := context.String(tmpDirFlag.Name)
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(tmpDir, "statetrie-stress-*")
	if err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	defer os.RemoveAll(dir)

	store, err := openStore(context.String(backendFlag.Name), filepath.Join(dir, "store"))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("running %d blocks of %d operations with seed %d in %s", numBlocks, opsPerBlock, seed, dir)
	rng := rand.New(rand.NewSource(seed))
	model := map[string][]byte{}
	var keys [][]byte
	current := trie.NewMutableTrie[[]byte]()

	reportPeriod := context.Duration(reportPeriodFlag.Name)
	flushPeriod := context.Duration(flushPeriodFlag.Name)
	start := time.Now()
	lastReport := start
	lastFlush := start
	totalOps := 0
	for block := 0; block < numBlocks; block++ {
		if ctx.Err() != nil {
			log.Printf("interrupted after %d blocks", block)
			break
		}
		for op := 0; op < opsPerBlock; op++ {
			if err := randomOperation(rng, current, store, model, &keys); err != nil {
				return fmt.Errorf("operation failed in block %d: %w", block, err)
			}
		}
		totalOps += opsPerBlock

		// end of block: freeze the state, persist it, and continue on a
		// thawed view of the stored tree
		root, err := current.Freeze(store, trie.EmptyCollector[[]byte]{})
		if err != nil {
			return fmt.Errorf("freeze failed in block %d: %w", block, err)
		}
		if root == nil {
			current = trie.NewMutableTrie[[]byte]()
		} else {
			if _, err := root.StoreUpdate(store); err != nil {
				return fmt.Errorf("store update failed in block %d: %w", block, err)
			}
			if current, err = root.MakeMutable(store); err != nil {
				return err
			}
		}

		if time.Since(lastFlush) >= flushPeriod {
			if flusher, ok := store.(interface{ Flush() error }); ok {
				if err := flusher.Flush(); err != nil {
					return fmt.Errorf("flush failed: %w", err)
				}
			}
			lastFlush = time.Now()
		}
		if time.Since(lastReport) >= reportPeriod {
			report(block, len(keys), totalOps, start, dir)
			lastReport = time.Now()
		}
	}
	report(numBlocks, len(keys), totalOps, start, dir)
	return verifySample(current, store, model)
}

// randomOperation applies one random operation to the trie and mirrors it
// in the model.
func randomOperation(rng *rand.Rand, current *trie.MutableTrie[[]byte], store trieStore, model map[string][]byte, keys *[][]byte) error {
	switch p := rng.Intn(100); {
	case p < 60 || len(*keys) == 0:
		key := randomKey(rng)
		value := randomValue(rng)
		if _, _, err := current.Insert(store, key, value); err != nil {
			return err
		}
		if _, exists := model[string(key)]; !exists {
			*keys = append(*keys, key)
		}
		model[string(key)] = value
	case p < 85:
		i := rng.Intn(len(*keys))
		key := (*keys)[i]
		removed, err := current.Delete(store, key)
		if err != nil {
			return err
		}
		if removed == trie.NoEntry {
			return fmt.Errorf("key %x disappeared", key)
		}
		delete(model, string(key))
		(*keys)[i] = (*keys)[len(*keys)-1]
		*keys = (*keys)[:len(*keys)-1]
	case p < 95:
		key := (*keys)[rng.Intn(len(*keys))]
		id, err := current.GetEntry(store, key)
		if err != nil {
			return err
		}
		if id == trie.NoEntry {
			return fmt.Errorf("key %x disappeared", key)
		}
		value := randomValue(rng)
		if current.Set(id, value) == nil {
			return fmt.Errorf("entry of key %x is dead", key)
		}
		model[string(key)] = value
	default:
		key := (*keys)[rng.Intn(len(*keys))]
		it, err := current.Iter(store, key[:rng.Intn(len(key)+1)])
		if err != nil {
			return err
		}
		if it == nil {
			return nil
		}
		defer current.DeleteIter(it)
		for {
			id, err := current.Next(store, it)
			if err != nil {
				return err
			}
			if id == trie.NoEntry {
				return nil
			}
		}
	}
	return nil
}

// verifySample checks a sample of live keys against the model.
func verifySample(current *trie.MutableTrie[[]byte], store trieStore, model map[string][]byte) error {
	checked := 0
	for key, value := range model {
		if checked == 100 {
			break
		}
		id, err := current.GetEntry(store, []byte(key))
		if err != nil {
			return err
		}
		if id == trie.NoEntry {
			return fmt.Errorf("key %x was lost", key)
		}
		var mismatch bool
		live, err := current.WithEntry(id, store, func(got []byte) {
			mismatch = string(got) != string(value)
		})
		if err != nil {
			return err
		}
		if !live || mismatch {
			return fmt.Errorf("key %x holds an unexpected value", key)
		}
		checked++
	}
	log.Printf("verified %d keys", checked)
	return nil
}

func randomKey(rng *rand.Rand) []byte {
	key := make([]byte, 1+rng.Intn(8))
	for i := range key {
		key[i] = byte(rng.Intn(16))
	}
	return key
}

func randomValue(rng *rand.Rand) []byte {
	value := make([]byte, 1+rng.Intn(64))
	rng.Read(value)
	return value
}

func report(block, numKeys, totalOps int, start time.Time, dir string) {
	throughput := float64(totalOps) / time.Since(start).Seconds()
	free, err := getFreeSpace(dir)
	if err != nil {
		free = 0
	}
	log.Printf("block %d: %d live keys, %.0f ops/s, heap %d MiB, free system memory %d MiB, store %d MiB, free disk %d MiB",
		block, numKeys, throughput,
		getMemoryUsage()>>20, memory.FreeMemory()>>20,
		uint64(getDirectorySize(dir))>>20, uint64(free)>>20)
}

// getMemoryUsage returns the current heap usage of the process.
func getMemoryUsage() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// getDirectorySize returns the accumulated size of all files under the
// given path, or the size of the file the path names.
func getDirectorySize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// getFreeSpace returns the free disk space of the filesystem holding the
// given path.
func getFreeSpace(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * stat.Bsize, nil
}
