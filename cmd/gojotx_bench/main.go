package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojotx/config"
	"github.com/sushant-115/gojotx/core/engine"
	"github.com/sushant-115/gojotx/core/indexing/btree"
	"github.com/sushant-115/gojotx/core/transaction"
	"github.com/sushant-115/gojotx/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	dir     = flag.String("dir", "", "Directory for the bench database (default: a temp dir, removed afterwards)")
	rows    = flag.Int("rows", 20000, "Rows to insert and read back")
	writers = flag.Int("writers", 20, "Concurrent writers")
	readers = flag.Int("readers", 10, "Concurrent readers")
	memory  = flag.String("mem", config.DefaultMemory, "Page cache size")
)

func main() {
	flag.Parse()
	zlogger, closeLog, err := logger.New(logger.Config{Level: "info", Format: "console", OutputFile: "stderr"})
	if err != nil {
		log.Fatalf("CRITICAL: Can't initialize zap logger: %v", err)
	}
	defer closeLog()

	if err := run(zlogger); err != nil {
		zlogger.Error("bench failed", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func run(zlogger *zap.Logger) error {
	mem, err := config.ParseMemory(*memory)
	if err != nil {
		return err
	}
	base := *dir
	if base == "" {
		if base, err = os.MkdirTemp("", "gojotx-bench"); err != nil {
			return err
		}
		defer os.RemoveAll(base)
	}

	e, err := engine.Create(filepath.Join(base, "bench"), mem, engine.WithLogger(zlogger.Named("engine")))
	if err != nil {
		return err
	}
	defer e.Close()

	boot, err := e.CreateIndex()
	if err != nil {
		return err
	}
	idx, err := e.LoadIndex(boot)
	if err != nil {
		return err
	}
	defer idx.Close()

	start := time.Now()
	if err := write(e, idx); err != nil {
		return err
	}
	report(zlogger, "write", start)

	start = time.Now()
	if err := read(e, idx); err != nil {
		return err
	}
	report(zlogger, "read", start)

	st := e.Stats()
	zlogger.Info("database size",
		zap.String("pages", humanize.IBytes(uint64(st.Pages)*8192)),
		zap.String("log", humanize.IBytes(uint64(st.LogSize))),
		zap.Int64("cache_hits", st.PageCacheHits),
		zap.Int64("cache_misses", st.PageCacheMiss),
	)
	return nil
}

func report(zlogger *zap.Logger, phase string, start time.Time) {
	elapsed := time.Since(start)
	zlogger.Info("phase done",
		zap.String("phase", phase),
		zap.Int("rows", *rows),
		zap.Duration("elapsed", elapsed),
		zap.String("rows_per_sec", humanize.Commaf(float64(*rows)/elapsed.Seconds())),
	)
}

func value(i int) []byte {
	return []byte("value-" + strconv.Itoa(i))
}

// write inserts every row in its own transaction and indexes it.
func write(e *engine.Engine, idx *btree.BPlusTree) error {
	var g errgroup.Group
	g.SetLimit(*writers)
	for i := 0; i < *rows; i++ {
		g.Go(func() error {
			xid, err := e.Begin(transaction.ReadCommitted)
			if err != nil {
				return err
			}
			uid, err := e.Insert(xid, value(i))
			if err != nil {
				e.Abort(xid)
				return fmt.Errorf("insert %d: %w", i, err)
			}
			if err := idx.Insert(int64(i), uid); err != nil {
				e.Abort(xid)
				return fmt.Errorf("index %d: %w", i, err)
			}
			return e.Commit(xid)
		})
	}
	return g.Wait()
}

// read looks every row up through the index and checks its value.
func read(e *engine.Engine, idx *btree.BPlusTree) error {
	var g errgroup.Group
	g.SetLimit(*readers)
	for i := 0; i < *rows; i++ {
		g.Go(func() error {
			uids, err := idx.Search(int64(i))
			if err != nil {
				return err
			}
			if len(uids) != 1 {
				return fmt.Errorf("key %d: %d index entries", i, len(uids))
			}
			xid, err := e.Begin(transaction.RepeatableRead)
			if err != nil {
				return err
			}
			defer e.Commit(xid)
			data, err := e.Read(xid, uids[0])
			if err != nil {
				return err
			}
			if !bytes.Equal(data, value(i)) {
				return fmt.Errorf("key %d: got %q", i, data)
			}
			return nil
		})
	}
	return g.Wait()
}
