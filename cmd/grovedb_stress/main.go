// Command grovedb_stress hammers a tree with concurrent writers, then
// checks every inserted key and prints a fingerprint of the full scan.
// Each worker owns a disjoint key range, so the final state is exactly
// reproducible: key i*perWorker+j maps to value j.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"grovedb/pkg/btree"
	"grovedb/pkg/config"
	"grovedb/pkg/pager"
)

// Listens for SIGINT or SIGTERM and flushes the cache before exiting.
func setupCloseHandler(cache pager.PageCache) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		if err := cache.FlushAllPages(); err != nil {
			log.Println("flush:", err)
		}
		os.Exit(0)
	}()
}

// fingerprint folds the scan stream into an order-insensitive multiset
// digest: wrapping sum of per-entry hashes. Two runs over the same
// contents agree regardless of batch boundaries.
func fingerprint(tree *btree.BTree[uint64, uint64]) (uint64, int, error) {
	var sum uint64
	count := 0
	var buf [16]byte
	it := tree.Scan()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		binary.NativeEndian.PutUint64(buf[0:], e.Key)
		binary.NativeEndian.PutUint64(buf[8:], e.Value)
		sum += xxhash.Sum64(buf[:])
		count++
	}
	return sum, count, it.Err()
}

func main() {
	var cacheFlag = flag.String("cache", "mem", "page cache backend: [mem,disk]")
	var fileFlag = flag.String("file", "", "heap file path (disk cache; default: fresh temp file)")
	var orderFlag = flag.Int("order", config.DefaultOrder, "tree fan-out")
	var workersFlag = flag.Int("workers", 10, "number of concurrent writers")
	var insertsFlag = flag.Int("inserts", 1000, "insertions per worker")
	var verifyFlag = flag.Bool("verify", true, "check structure and point-read every key at the end")
	flag.Parse()

	runID := uuid.New()

	var cache pager.PageCache
	switch *cacheFlag {
	case "mem":
		cache = pager.NewMemPageCache(config.DefaultPageSize)
	case "disk":
		path := *fileFlag
		if path == "" {
			path = filepath.Join(os.TempDir(), fmt.Sprintf("grovedb-stress-%s.db", runID))
			defer os.Remove(path)
		}
		heapCache, err := pager.OpenHeapPageCache(path, true, config.DefaultMaxPagesInBuffer, config.DefaultPageSize)
		if err != nil {
			log.Fatalln("open heap cache:", err)
		}
		defer heapCache.Close()
		cache = heapCache
	default:
		log.Fatalln("must specify -cache [mem,disk]")
	}
	setupCloseHandler(cache)

	tree, err := btree.Open[uint64, uint64](cache, *orderFlag,
		btree.Uint64Codec{}, btree.Uint64Codec{},
		btree.OrderedLess[uint64], btree.OrderedEq[uint64])
	if err != nil {
		log.Fatalln("open tree:", err)
	}

	workers := *workersFlag
	perWorker := *insertsFlag
	start := time.Now()

	var group errgroup.Group
	for w := 0; w < workers; w++ {
		base := uint64(w) * uint64(perWorker)
		group.Go(func() error {
			for j := 0; j < perWorker; j++ {
				if err := tree.Insert(base+uint64(j), uint64(j)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		log.Fatalln("insert:", err)
	}
	insertElapsed := time.Since(start)

	start = time.Now()
	sum, count, err := fingerprint(tree)
	if err != nil {
		log.Fatalln("scan:", err)
	}
	scanElapsed := time.Since(start)

	fmt.Printf("run %s: %d workers x %d inserts, order %d, cache %s\n",
		runID, workers, perWorker, *orderFlag, *cacheFlag)
	fmt.Printf("insert: %v, scan: %v, entries: %d, fingerprint: %016x\n",
		insertElapsed, scanElapsed, count, sum)

	if count != workers*perWorker {
		log.Fatalf("scan returned %d entries, want %d", count, workers*perWorker)
	}

	if *verifyFlag {
		if err := tree.Verify(); err != nil {
			log.Fatalln("structure check:", err)
		}
		for k := uint64(0); k < uint64(workers*perWorker); k++ {
			values, err := tree.Get(k)
			if err != nil {
				log.Fatalln("get:", err)
			}
			if len(values) != 1 || values[0] != k%uint64(perWorker) {
				log.Fatalf("get(%d) = %v, want [%d]", k, values, k%uint64(perWorker))
			}
		}
		fmt.Println("verify: ok")
	}

	if err := cache.FlushAllPages(); err != nil {
		log.Fatalln("flush:", err)
	}
}
