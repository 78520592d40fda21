package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/transaction"
	pagemanager "github.com/sushant-115/gojotx/core/write_engine/page_manager"
	"github.com/sushant-115/gojotx/core/write_engine/wal"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var backupSuffixes = []string{
	transaction.XIDSuffix,
	pagemanager.DBSuffix,
	wal.LogSuffix,
	BootSuffix,
}

// Backup copies the database at path to dst while it is closed. Each file is
// copied at no more than bytesPerSec (unlimited when <= 0). The result maps
// every file suffix to the hex sha256 of the copy.
func Backup(ctx context.Context, path, dst string, bytesPerSec int64, lg *zap.Logger) (map[string]string, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	for _, suffix := range backupSuffixes {
		if !fileutil.Exist(path + suffix) {
			return nil, fmt.Errorf("%w: %s", common.ErrFileNotExists, path+suffix)
		}
		if fileutil.Exist(dst + suffix) {
			return nil, fmt.Errorf("%w: %s", common.ErrFileExists, dst+suffix)
		}
	}

	// holding the page file lock keeps the database from being opened
	// while it is copied
	lock, err := fileutil.TryLockFile(path+pagemanager.DBSuffix, os.O_RDONLY, fileutil.PrivateFileMode)
	if err != nil {
		if errors.Is(err, fileutil.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", common.ErrLocked, path+pagemanager.DBSuffix)
		}
		return nil, err
	}
	defer lock.Close()

	var (
		mu   sync.Mutex
		sums = make(map[string]string, len(backupSuffixes))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, suffix := range backupSuffixes {
		g.Go(func() error {
			sum, err := common.CopyFileThrottled(gctx, path+suffix, dst+suffix, bytesPerSec)
			if err != nil {
				return fmt.Errorf("backup %s: %w", path+suffix, err)
			}
			mu.Lock()
			sums[suffix] = hex.EncodeToString(sum)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, suffix := range backupSuffixes {
			os.Remove(dst + suffix)
		}
		return nil, err
	}
	lg.Info("backed up database", zap.String("from", path), zap.String("to", dst))
	return sums, nil
}
