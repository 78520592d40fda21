// Package datamanager stores byte payloads as data items on pages, logging
// every change ahead of the page write and recovering after a crash.
package datamanager

import (
	"context"
	"fmt"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/write_engine/cache"
	pagemanager "github.com/sushant-115/gojotx/core/write_engine/page_manager"
	"github.com/sushant-115/gojotx/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojotx/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	pageOneNo      common.PageNo = 1
	maxInsertTries               = 5
)

// TxnStatus is the part of the transaction manager recovery depends on.
type TxnStatus interface {
	IsActive(xid uint64) bool
	Abort(xid uint64) error
}

// Options configures a DataManager.
type Options struct {
	// Memory is the page cache budget in bytes.
	Memory  int64
	Logger  *zap.Logger
	Metrics *internaltelemetry.EngineMetrics
	Tracer  trace.Tracer
}

func (o *Options) fill() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = internaltelemetry.NoopEngineMetrics()
	}
	if o.Tracer == nil {
		o.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}
}

// DataManager hands out data items and owns the page cache, the log and the
// free-space index.
type DataManager struct {
	cache   *cache.RefCache[*DataItem]
	pc      *pagemanager.PageCache
	logger  *wal.LogManager
	pIndex  *pagemanager.PageIndex
	pageOne *pagemanager.Page

	metrics *internaltelemetry.EngineMetrics
	lg      *zap.Logger
}

func newDataManager(pc *pagemanager.PageCache, lm *wal.LogManager, opts Options) *DataManager {
	dm := &DataManager{
		pc:      pc,
		logger:  lm,
		pIndex:  pagemanager.NewPageIndex(),
		metrics: opts.Metrics,
		lg:      opts.Logger.Named("datamanager"),
	}
	dm.cache = cache.New[*DataItem](0, dm.load, dm.evict)
	return dm
}

// Create creates the page and log files for path and initializes page one.
func Create(path string, opts Options) (*DataManager, error) {
	opts.fill()
	pc, err := pagemanager.Create(path, opts.Memory, opts.Logger)
	if err != nil {
		return nil, err
	}
	lm, err := wal.Create(path, opts.Logger)
	if err != nil {
		return nil, multierr.Append(err, pc.Close())
	}

	dm := newDataManager(pc, lm, opts)
	if err := dm.initPageOne(); err != nil {
		return nil, multierr.Append(err, dm.closeFiles())
	}
	return dm, nil
}

// Open opens the files for path, running recovery first if the database was
// not closed cleanly.
func Open(path string, tm TxnStatus, opts Options) (*DataManager, error) {
	opts.fill()
	pc, err := pagemanager.Open(path, opts.Memory, opts.Logger)
	if err != nil {
		return nil, err
	}
	lm, err := wal.Open(path, opts.Logger)
	if err != nil {
		return nil, multierr.Append(err, pc.Close())
	}

	dm := newDataManager(pc, lm, opts)
	clean, err := dm.loadCheckPageOne()
	if err != nil {
		return nil, multierr.Append(err, dm.closeFiles())
	}
	if !clean {
		ctx, span := opts.Tracer.Start(context.Background(), "gojotx.recovery")
		_, err := Recover(tm, lm, pc, dm.lg)
		span.End()
		if err != nil {
			return nil, multierr.Append(err, dm.closeFiles())
		}
		dm.metrics.RecoveriesCounter.Add(ctx, 1)
	}
	if err := dm.fillPageIndex(); err != nil {
		return nil, multierr.Append(err, dm.closeFiles())
	}

	pagemanager.SetMarkerOpen(dm.pageOne)
	if err := pc.FlushPage(dm.pageOne); err != nil {
		return nil, multierr.Append(err, dm.closeFiles())
	}
	return dm, nil
}

func (dm *DataManager) initPageOne() error {
	pgno, err := dm.pc.NewPage(pagemanager.InitPageOneRaw())
	if err != nil {
		return err
	}
	if pgno != pageOneNo {
		return fmt.Errorf("page one allocated as page %d", pgno)
	}
	dm.pageOne, err = dm.pc.GetPage(pageOneNo)
	return err
}

func (dm *DataManager) loadCheckPageOne() (bool, error) {
	var err error
	dm.pageOne, err = dm.pc.GetPage(pageOneNo)
	if err != nil {
		return false, err
	}
	return pagemanager.CheckMarker(dm.pageOne), nil
}

// fillPageIndex registers the free space of every page but page one.
func (dm *DataManager) fillPageIndex() error {
	n := dm.pc.PageNumber()
	for pgno := pageOneNo + 1; pgno <= n; pgno++ {
		pg, err := dm.pc.GetPage(pgno)
		if err != nil {
			return err
		}
		dm.pIndex.Add(pgno, pagemanager.FreeSpace(pg))
		pg.Release()
	}
	return nil
}

func (dm *DataManager) load(uid uint64) (*DataItem, error) {
	pgno, offset := common.UIDToAddress(uid)
	// page one holds no items, and pages past the end must not be cached
	// as zero pages
	if pgno <= pageOneNo || pgno > dm.pc.PageNumber() {
		return nil, fmt.Errorf("%w: uid %d is on no data page", common.ErrNullEntry, uid)
	}
	pg, err := dm.pc.GetPage(pgno)
	if err != nil {
		return nil, err
	}
	di, err := parseDataItem(pg, offset, dm)
	if err != nil {
		pg.Release()
		return nil, err
	}
	return di, nil
}

func (dm *DataManager) evict(di *DataItem) {
	di.page.Release()
}

// Read returns the data item at uid, or nil if it was invalidated. A uid that
// addresses no data item yields common.ErrNullEntry. A non-nil item must be
// released.
func (dm *DataManager) Read(uid common.UID) (*DataItem, error) {
	di, err := dm.cache.Get(uid)
	if err != nil {
		return nil, err
	}
	if !di.IsValid() {
		di.Release()
		return nil, nil
	}
	return di, nil
}

// Insert stores data on behalf of xid and returns its uid.
func (dm *DataManager) Insert(xid uint64, data []byte) (common.UID, error) {
	raw := WrapDataItemRaw(data)
	if len(raw) > pagemanager.MaxFreeSpace {
		return 0, fmt.Errorf("%w: %d bytes", common.ErrDataTooLarge, len(raw))
	}

	var (
		info pagemanager.PageInfo
		ok   bool
	)
	for i := 0; i < maxInsertTries; i++ {
		if info, ok = dm.pIndex.Select(len(raw)); ok {
			break
		}
		pgno, err := dm.pc.NewPage(pagemanager.InitNormalRaw())
		if err != nil {
			return 0, err
		}
		dm.pIndex.Add(pgno, pagemanager.MaxFreeSpace)
	}
	if !ok {
		return 0, common.ErrDatabaseBusy
	}

	pg, err := dm.pc.GetPage(info.Pgno)
	if err != nil {
		dm.pIndex.Add(info.Pgno, info.FreeSpace)
		return 0, err
	}
	defer func() {
		dm.pIndex.Add(info.Pgno, pagemanager.FreeSpace(pg))
		pg.Release()
	}()

	rec := wal.NewInsertRecord(xid, info.Pgno, pagemanager.FSO(pg), raw)
	if err := dm.log(rec); err != nil {
		return 0, err
	}
	offset := pagemanager.Insert(pg, raw)
	return common.AddressToUID(info.Pgno, offset), nil
}

// LogDataItem appends an update record for the change made to di since its
// Before call.
func (dm *DataManager) LogDataItem(xid uint64, di *DataItem) error {
	return dm.log(wal.NewUpdateRecord(xid, di.uid, di.oldRaw, di.raw))
}

func (dm *DataManager) log(rec *wal.LogRecord) error {
	data := rec.Serialize()
	if err := dm.logger.Log(data); err != nil {
		return err
	}
	dm.metrics.LogBytesCounter.Add(context.Background(), int64(len(data)))
	return nil
}

// ReleaseDataItem drops one reference to di.
func (dm *DataManager) ReleaseDataItem(di *DataItem) {
	dm.cache.Release(di.uid)
}

// Stats is a point-in-time view of the data manager's files and caches.
type Stats struct {
	Pages         common.PageNo
	LogSize       int64
	PageCacheHits int64
	PageCacheMiss int64
}

func (dm *DataManager) Stats() Stats {
	hits, misses := dm.pc.Stats()
	return Stats{
		Pages:         dm.pc.PageNumber(),
		LogSize:       dm.logger.Size(),
		PageCacheHits: hits,
		PageCacheMiss: misses,
	}
}

// PageCacheStats exposes the page cache counters for metrics.
func (dm *DataManager) PageCacheStats() (hits, misses int64) {
	return dm.pc.Stats()
}

// Close flushes every cached item and page, writes the clean-shutdown marker
// and closes the files.
func (dm *DataManager) Close() error {
	dm.cache.Close()
	pagemanager.SetMarkerClose(dm.pageOne)
	dm.pageOne.Release()
	return dm.closeFiles()
}

func (dm *DataManager) closeFiles() error {
	return multierr.Combine(dm.logger.Close(), dm.pc.Close())
}
