package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojotx/config"
	"github.com/sushant-115/gojotx/core/engine"
	"github.com/sushant-115/gojotx/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojotx/internal/telemetry"
	"github.com/sushant-115/gojotx/pkg/logger"
	"github.com/sushant-115/gojotx/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	createPath   = flag.String("create", "", "Create a new database at this path")
	openPath     = flag.String("open", "", "Open the database at this path")
	dumpLogPath  = flag.String("dump-log", "", "Print every record of the log of the database at this path")
	backupPath   = flag.String("backup", "", "Copy the closed database at this path (see -to)")
	backupTo     = flag.String("to", "", "Destination path for -backup")
	configFile   = flag.String("config", "", "YAML configuration file")
	memory       = flag.String("mem", "", "Page cache size, e.g. 64MB (overrides the config)")
	serveMetrics = flag.Bool("serve-metrics", false, "Keep the database open and serve /metrics until interrupted")
)

func main() {
	flag.Parse()

	cfg, err := buildConfig()
	if err != nil {
		log.Fatalf("CRITICAL: invalid configuration: %v", err)
	}
	zlogger, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("CRITICAL: Can't initialize zap logger: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *dumpLogPath != "":
		err = dumpLog(os.Stdout, *dumpLogPath, zlogger)
	case *backupPath != "":
		err = backup(ctx, cfg, zlogger)
	default:
		err = runEngine(ctx, cfg, zlogger)
	}
	if err != nil {
		zlogger.Error("gojotx failed", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

// buildConfig reads -config and applies the command line on top of it.
func buildConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Read(*configFile); err != nil {
			return cfg, err
		}
	}
	if *memory != "" {
		cfg.Engine.Memory = *memory
	}
	if *serveMetrics {
		cfg.Telemetry.Enabled = true
	}
	switch {
	case *createPath != "":
		cfg.Engine.Path, cfg.Engine.Create = *createPath, true
	case *openPath != "":
		cfg.Engine.Path, cfg.Engine.Create = *openPath, false
	case *dumpLogPath != "":
		cfg.Engine.Path = *dumpLogPath
	case *backupPath != "":
		cfg.Engine.Path = *backupPath
		if *backupTo == "" {
			return cfg, errors.New("-backup needs -to")
		}
	}
	return cfg, cfg.Validate()
}

func runEngine(ctx context.Context, cfg config.Config, zlogger *zap.Logger) error {
	mem, err := cfg.MemoryBytes()
	if err != nil {
		return err
	}
	tel, err := telemetry.New(cfg.Telemetry, zlogger.Named("telemetry"))
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())
	metrics, err := internaltelemetry.NewEngineMetrics(tel.Meter)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLogger(zlogger),
		engine.WithMetrics(metrics),
		engine.WithTracer(tel.Tracer),
	}
	var e *engine.Engine
	if cfg.Engine.Create {
		e, err = engine.Create(cfg.Engine.Path, mem, opts...)
	} else {
		e, err = engine.Open(cfg.Engine.Path, mem, opts...)
	}
	if err != nil {
		return err
	}
	printStats(os.Stdout, e.Stats(), mem)

	if *serveMetrics {
		zlogger.Info("database open, waiting for interrupt", zap.String("metrics", tel.Addr()))
		<-ctx.Done()
	}
	return e.Close()
}

func printStats(w io.Writer, st engine.Stats, mem int64) {
	fmt.Fprintf(w, "path:        %s\n", st.Path)
	fmt.Fprintf(w, "pages:       %d (%s)\n", st.Pages, humanize.IBytes(uint64(st.Pages)*8192))
	fmt.Fprintf(w, "log:         %s\n", humanize.IBytes(uint64(st.LogSize)))
	fmt.Fprintf(w, "xids:        %s\n", humanize.Comma(int64(st.XIDs)))
	fmt.Fprintf(w, "page cache:  %s, %d hits, %d misses\n", humanize.IBytes(uint64(mem)), st.PageCacheHits, st.PageCacheMiss)
}

// dumpLog prints one line per record of path's log. A torn tail is
// truncated the same way opening the database would.
func dumpLog(w io.Writer, path string, zlogger *zap.Logger) error {
	lm, err := wal.Open(path, zlogger)
	if err != nil {
		return err
	}
	defer lm.Close()

	n := 0
	for {
		data, err := lm.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rec, err := wal.DecodeLogRecord(data)
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		switch rec.Type {
		case wal.LogRecordTypeInsert:
			fmt.Fprintf(w, "%6d %-6s xid=%d page=%d offset=%d len=%d\n",
				n, rec.Type, rec.TxnID, rec.PageNo, rec.Offset, len(rec.NewData))
		default:
			fmt.Fprintf(w, "%6d %-6s xid=%d uid=%#x len=%d\n",
				n, rec.Type, rec.TxnID, rec.UID(), len(rec.NewData))
		}
		n++
	}
	fmt.Fprintf(w, "%d records, %s\n", n, humanize.IBytes(uint64(lm.Size())))
	return nil
}

func backup(ctx context.Context, cfg config.Config, zlogger *zap.Logger) error {
	rate, err := cfg.BackupRate()
	if err != nil {
		return err
	}
	sums, err := engine.Backup(ctx, cfg.Engine.Path, *backupTo, rate, zlogger)
	if err != nil {
		return err
	}
	suffixes := make([]string, 0, len(sums))
	for s := range sums {
		suffixes = append(suffixes, s)
	}
	sort.Strings(suffixes)
	for _, s := range suffixes {
		fmt.Printf("%s  %s%s\n", sums[s], *backupTo, s)
	}
	return nil
}
