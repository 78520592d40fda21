// Package engine ties the transaction, data and version managers together
// behind the API the table layer consumes.
package engine

import (
	"github.com/sushant-115/gojotx/core/indexing/btree"
	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/storage_engine/datamanager"
	"github.com/sushant-115/gojotx/core/transaction"
	"github.com/sushant-115/gojotx/core/versionmanager"
	internaltelemetry "github.com/sushant-115/gojotx/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultMemory is the page cache budget used when none is configured.
const DefaultMemory = 64 << 20

type options struct {
	lg      *zap.Logger
	metrics *internaltelemetry.EngineMetrics
	tracer  trace.Tracer
}

// Option customizes an Engine.
type Option func(*options)

func WithLogger(lg *zap.Logger) Option {
	return func(o *options) { o.lg = lg }
}

func WithMetrics(m *internaltelemetry.EngineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lg == nil {
		o.lg = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = internaltelemetry.NoopEngineMetrics()
	}
	if o.tracer == nil {
		o.tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	return o
}

// Engine is an open database.
type Engine struct {
	path   string
	tm     *transaction.Manager
	dm     *datamanager.DataManager
	vm     *versionmanager.VersionManager
	booter *Booter
	reg    metric.Registration
	lg     *zap.Logger
}

// Create creates a new database at path (files path.xid, path.db, path.log
// and path.bt) and opens it.
func Create(path string, memory int64, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)
	tm, err := transaction.CreateManager(path, o.lg)
	if err != nil {
		return nil, err
	}
	dm, err := datamanager.Create(path, o.dmOptions(memory))
	if err != nil {
		return nil, multierr.Append(err, tm.Close())
	}
	booter, err := CreateBooter(path, o.lg)
	if err != nil {
		return nil, multierr.Combine(err, dm.Close(), tm.Close())
	}
	o.lg.Info("created database", zap.String("path", path))
	return newEngine(path, tm, dm, booter, o)
}

// Open opens the database at path, recovering it first if it was not closed
// cleanly.
func Open(path string, memory int64, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)
	tm, err := transaction.OpenManager(path, o.lg)
	if err != nil {
		return nil, err
	}
	dm, err := datamanager.Open(path, tm, o.dmOptions(memory))
	if err != nil {
		return nil, multierr.Append(err, tm.Close())
	}
	booter, err := OpenBooter(path, o.lg)
	if err != nil {
		return nil, multierr.Combine(err, dm.Close(), tm.Close())
	}
	o.lg.Info("opened database", zap.String("path", path), zap.Uint64("xids", tm.XIDCount()))
	return newEngine(path, tm, dm, booter, o)
}

func (o options) dmOptions(memory int64) datamanager.Options {
	return datamanager.Options{Memory: memory, Logger: o.lg, Metrics: o.metrics, Tracer: o.tracer}
}

func newEngine(path string, tm *transaction.Manager, dm *datamanager.DataManager, booter *Booter, o options) (*Engine, error) {
	reg, err := o.metrics.RegisterCacheStats("pagecache", dm.PageCacheStats)
	if err != nil {
		return nil, multierr.Combine(err, dm.Close(), tm.Close())
	}
	return &Engine{
		path:   path,
		tm:     tm,
		dm:     dm,
		vm:     versionmanager.New(tm, dm, o.lg, o.metrics),
		booter: booter,
		reg:    reg,
		lg:     o.lg.Named("engine"),
	}, nil
}

func (e *Engine) Begin(level transaction.IsolationLevel) (uint64, error) {
	return e.vm.Begin(level)
}

func (e *Engine) Commit(xid uint64) error { return e.vm.Commit(xid) }
func (e *Engine) Abort(xid uint64) error  { return e.vm.Abort(xid) }

// Read returns the row at uid as seen by xid, or nil if it is not visible.
func (e *Engine) Read(xid uint64, uid common.UID) ([]byte, error) {
	return e.vm.Read(xid, uid)
}

func (e *Engine) Insert(xid uint64, data []byte) (common.UID, error) {
	return e.vm.Insert(xid, data)
}

// Delete reports whether the row at uid was deleted by this call.
func (e *Engine) Delete(xid uint64, uid common.UID) (bool, error) {
	return e.vm.Delete(xid, uid)
}

// CreateIndex creates an empty B+Tree and returns its boot uid.
func (e *Engine) CreateIndex() (common.UID, error) {
	return btree.Create(e.dm)
}

// LoadIndex opens the B+Tree created under bootUID. Close it when done.
func (e *Engine) LoadIndex(bootUID common.UID) (*btree.BPlusTree, error) {
	return btree.Load(bootUID, e.dm)
}

func (e *Engine) Booter() *Booter { return e.booter }

// Stats is a point-in-time view of the database files.
type Stats struct {
	Path string
	XIDs uint64
	datamanager.Stats
}

func (e *Engine) Stats() Stats {
	return Stats{Path: e.path, XIDs: e.tm.XIDCount(), Stats: e.dm.Stats()}
}

// Close flushes all cached state, marks the database cleanly closed and
// releases its files.
func (e *Engine) Close() error {
	e.vm.Close()
	err := multierr.Combine(e.reg.Unregister(), e.dm.Close(), e.tm.Close())
	if err == nil {
		e.lg.Info("closed database", zap.String("path", e.path))
	}
	return err
}
