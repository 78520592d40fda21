package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/zap"
)

const (
	BootSuffix    = ".bt"
	BootTmpSuffix = ".bt_tmp"
)

// Booter stores a small blob (typically B+Tree boot uids) that is replaced
// atomically on every update.
type Booter struct {
	path string
	mu   sync.Mutex
	lg   *zap.Logger
}

func CreateBooter(path string, lg *zap.Logger) (*Booter, error) {
	b := newBooter(path, lg)
	b.removeBadTmp()
	name := path + BootSuffix
	if fileutil.Exist(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrFileExists, name)
	}
	if err := writeSynced(name, nil); err != nil {
		return nil, err
	}
	return b, nil
}

func OpenBooter(path string, lg *zap.Logger) (*Booter, error) {
	b := newBooter(path, lg)
	b.removeBadTmp()
	name := path + BootSuffix
	if !fileutil.Exist(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrFileNotExists, name)
	}
	return b, nil
}

func newBooter(path string, lg *zap.Logger) *Booter {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Booter{path: path, lg: lg.Named("booter")}
}

// removeBadTmp drops a temporary file left by an update that never renamed.
func (b *Booter) removeBadTmp() {
	tmp := b.path + BootTmpSuffix
	if err := os.Remove(tmp); err == nil {
		b.lg.Warn("removed unfinished boot update", zap.String("file", tmp))
	}
}

// Load returns the current boot contents.
func (b *Booter) Load() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return os.ReadFile(b.path + BootSuffix)
}

// Update replaces the boot contents with data.
func (b *Booter) Update(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := b.path + BootTmpSuffix
	if err := writeSynced(tmp, data); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path+BootSuffix); err != nil {
		return fmt.Errorf("install boot file: %w", err)
	}
	dir, err := os.Open(filepath.Dir(b.path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return fileutil.Fsync(dir)
}

func writeSynced(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileutil.PrivateFileMode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrFileCannotRW, name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return fileutil.Fdatasync(f)
}
