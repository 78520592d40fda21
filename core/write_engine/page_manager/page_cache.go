package pagemanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/write_engine/cache"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/zap"
)

const (
	// DBSuffix is appended to the database path to name the page file.
	DBSuffix = ".db"

	minResources = 10
)

// PageCache serves fixed-size pages of a single growable file through a
// reference-counted cache. Dirty pages are written back when their last
// reference is released.
type PageCache struct {
	cache *cache.RefCache[*Page]

	// fileMu serializes all reads and writes against file.
	fileMu sync.Mutex
	file   *fileutil.LockedFile

	pageNumbers atomic.Uint32
	lg          *zap.Logger
}

// Create creates a new page file at path+DBSuffix sized for memory bytes of
// cached pages.
func Create(path string, memory int64, lg *zap.Logger) (*PageCache, error) {
	name := path + DBSuffix
	if fileutil.Exist(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrFileExists, name)
	}
	f, err := fileutil.TryLockFile(name, os.O_RDWR|os.O_CREATE, fileutil.PrivateFileMode)
	if err != nil {
		return nil, lockError(name, err)
	}
	return newPageCache(f, memory, lg)
}

// Open opens an existing page file.
func Open(path string, memory int64, lg *zap.Logger) (*PageCache, error) {
	name := path + DBSuffix
	if !fileutil.Exist(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrFileNotExists, name)
	}
	f, err := fileutil.TryLockFile(name, os.O_RDWR, fileutil.PrivateFileMode)
	if err != nil {
		return nil, lockError(name, err)
	}
	return newPageCache(f, memory, lg)
}

func lockError(name string, err error) error {
	if errors.Is(err, fileutil.ErrLocked) {
		return fmt.Errorf("%w: %s", common.ErrLocked, name)
	}
	return fmt.Errorf("%w: %s: %v", common.ErrFileCannotRW, name, err)
}

func newPageCache(f *fileutil.LockedFile, memory int64, lg *zap.Logger) (*PageCache, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	maxResource := memory / PageSize
	if maxResource < minResources {
		f.Close()
		return nil, fmt.Errorf("%w: %s holds %d pages, need %d", common.ErrMemTooSmall,
			humanize.IBytes(uint64(max(memory, 0))), maxResource, minResources)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	pc := &PageCache{file: f, lg: lg.Named("pagecache")}
	pc.pageNumbers.Store(uint32(info.Size() / PageSize))
	pc.cache = cache.New[*Page](int(maxResource), pc.load, pc.evict)

	pc.lg.Info("page cache opened",
		zap.String("file", f.Name()),
		zap.String("size", humanize.IBytes(uint64(info.Size()))),
		zap.Uint32("pages", pc.pageNumbers.Load()),
		zap.Int64("max-resource", maxResource),
	)
	return pc, nil
}

func pageOffset(pgno common.PageNo) int64 {
	return int64(pgno-1) * PageSize
}

// load reads a page from disk. Pages beyond the end of the file read as zeros.
func (pc *PageCache) load(key uint64) (*Page, error) {
	pgno := common.PageNo(key)
	buf := make([]byte, PageSize)

	pc.fileMu.Lock()
	_, err := pc.file.ReadAt(buf, pageOffset(pgno))
	pc.fileMu.Unlock()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read page %d: %w", pgno, err)
	}
	return newPage(pgno, buf, pc), nil
}

func (pc *PageCache) evict(p *Page) {
	if !p.IsDirty() {
		return
	}
	if err := pc.flush(p); err != nil {
		pc.lg.Panic("failed to write back page", zap.Uint32("pgno", p.pgno), zap.Error(err))
	}
	p.SetDirty(false)
}

func (pc *PageCache) flush(p *Page) error {
	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()
	if _, err := pc.file.WriteAt(p.Data(), pageOffset(p.pgno)); err != nil {
		return err
	}
	return fileutil.Fdatasync(pc.file.File)
}

// NewPage allocates the next page number, writes initData as its contents
// and extends the file immediately.
func (pc *PageCache) NewPage(initData []byte) (common.PageNo, error) {
	pgno := pc.pageNumbers.Add(1)
	if err := pc.flush(newPage(pgno, initData, nil)); err != nil {
		return 0, fmt.Errorf("new page %d: %w", pgno, err)
	}
	return pgno, nil
}

// GetPage acquires a reference to page pgno. The caller must Release it.
func (pc *PageCache) GetPage(pgno common.PageNo) (*Page, error) {
	return pc.cache.Get(uint64(pgno))
}

// Release drops a reference obtained from GetPage.
func (pc *PageCache) Release(p *Page) {
	pc.cache.Release(uint64(p.pgno))
}

// FlushPage forces p to disk without releasing it.
func (pc *PageCache) FlushPage(p *Page) error {
	return pc.flush(p)
}

// TruncateTo shrinks the file to maxPgno pages. Used by recovery only.
func (pc *PageCache) TruncateTo(maxPgno common.PageNo) error {
	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()
	if err := pc.file.Truncate(pageOffset(maxPgno + 1)); err != nil {
		return fmt.Errorf("truncate to %d pages: %w", maxPgno, err)
	}
	pc.pageNumbers.Store(maxPgno)
	return nil
}

// PageNumber returns the number of pages in the file.
func (pc *PageCache) PageNumber() common.PageNo {
	return pc.pageNumbers.Load()
}

// Stats returns page cache hits and misses.
func (pc *PageCache) Stats() (hits, misses int64) {
	return pc.cache.Stats()
}

// Close writes back every cached page and closes the file.
func (pc *PageCache) Close() error {
	pc.cache.Close()
	return pc.file.Close()
}
