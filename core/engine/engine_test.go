package engine

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/transaction"
	internaltelemetry "github.com/sushant-115/gojotx/internal/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

const testMemory = 1 << 20

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")
	e, err := Create(path, testMemory, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return e, path
}

// crashCopy copies the files of a live database, which is what a crash at
// this point would leave behind.
func crashCopy(t *testing.T, src string) string {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "crashed")
	for _, suffix := range backupSuffixes {
		data, err := os.ReadFile(src + suffix)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(dst+suffix, data, 0o600))
	}
	return dst
}

func TestEngine_CommitSurvivesReopen(t *testing.T) {
	e, path := newTestEngine(t)

	xid, err := e.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	uid, err := e.Insert(xid, []byte("alice"))
	require.NoError(t, err)
	require.NoError(t, e.Commit(xid))
	require.NoError(t, e.Close())

	e, err = Open(path, testMemory)
	require.NoError(t, err)
	defer e.Close()

	xid, err = e.Begin(transaction.RepeatableRead)
	require.NoError(t, err)
	data, err := e.Read(xid, uid)
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), data)
	require.NoError(t, e.Commit(xid))
}

func TestEngine_RecoversAfterCrash(t *testing.T) {
	e, path := newTestEngine(t)
	defer e.Close()

	committed, err := e.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	kept, err := e.Insert(committed, []byte("kept"))
	require.NoError(t, err)
	require.NoError(t, e.Commit(committed))

	open, err := e.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	lost, err := e.Insert(open, []byte("lost"))
	require.NoError(t, err)
	deleted, err := e.Delete(open, kept)
	require.NoError(t, err)
	require.True(t, deleted)

	crashed := crashCopy(t, path)
	r, err := Open(crashed, testMemory, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer r.Close()

	xid, err := r.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	data, err := r.Read(xid, kept)
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), data)

	data, err = r.Read(xid, lost)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestEngine_OpenTwiceIsLocked(t *testing.T) {
	e, path := newTestEngine(t)
	defer e.Close()

	_, err := Open(path, testMemory)
	require.ErrorIs(t, err, common.ErrLocked)
}

func TestEngine_CreateOverExisting(t *testing.T) {
	e, path := newTestEngine(t)
	require.NoError(t, e.Close())

	_, err := Create(path, testMemory)
	require.ErrorIs(t, err, common.ErrFileExists)
}

func TestEngine_OpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), testMemory)
	require.ErrorIs(t, err, common.ErrFileNotExists)
}

func TestEngine_IndexAndBoot(t *testing.T) {
	e, path := newTestEngine(t)

	boot, err := e.CreateIndex()
	require.NoError(t, err)
	idx, err := e.LoadIndex(boot)
	require.NoError(t, err)

	xid, err := e.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	rows := map[int64]common.UID{}
	for k := int64(1); k <= 100; k++ {
		uid, err := e.Insert(xid, []byte{byte(k)})
		require.NoError(t, err)
		require.NoError(t, idx.Insert(k, uid))
		rows[k] = uid
	}
	require.NoError(t, e.Commit(xid))
	idx.Close()

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, boot)
	require.NoError(t, e.Booter().Update(raw))
	require.NoError(t, e.Close())

	e, err = Open(path, testMemory)
	require.NoError(t, err)
	defer e.Close()

	raw, err = e.Booter().Load()
	require.NoError(t, err)
	idx, err = e.LoadIndex(binary.LittleEndian.Uint64(raw))
	require.NoError(t, err)
	defer idx.Close()

	uids, err := idx.SearchRange(10, 19)
	require.NoError(t, err)
	require.Len(t, uids, 10)

	xid, err = e.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	for i, uid := range uids {
		assert.Equal(t, rows[int64(10+i)], uid)
		data, err := e.Read(xid, uid)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(10 + i)}, data)
	}
	require.NoError(t, e.Commit(xid))
}

func TestEngine_StatsAndMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())
	metrics, err := internaltelemetry.NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "db")
	e, err := Create(path, testMemory, WithMetrics(metrics))
	require.NoError(t, err)

	xid, err := e.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	_, err = e.Insert(xid, []byte("row"))
	require.NoError(t, err)
	require.NoError(t, e.Commit(xid))

	st := e.Stats()
	require.Equal(t, path, st.Path)
	require.Equal(t, uint64(1), st.XIDs)
	require.GreaterOrEqual(t, st.Pages, common.PageNo(2))
	require.Positive(t, st.LogSize)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	require.True(t, names["gojotx.txn.committed_total"])
	require.True(t, names["gojotx.pagecache.hits_total"])

	require.NoError(t, e.Close())
}

func TestBackup(t *testing.T) {
	e, path := newTestEngine(t)
	xid, err := e.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	uid, err := e.Insert(xid, []byte("saved"))
	require.NoError(t, err)
	require.NoError(t, e.Commit(xid))

	dst := filepath.Join(t.TempDir(), "copy")
	_, err = Backup(context.Background(), path, dst, 0, nil)
	require.ErrorIs(t, err, common.ErrLocked)
	require.NoError(t, e.Close())

	sums, err := Backup(context.Background(), path, dst, 1<<20, nil)
	require.NoError(t, err)
	require.Len(t, sums, len(backupSuffixes))

	_, err = Backup(context.Background(), path, dst, 0, nil)
	require.ErrorIs(t, err, common.ErrFileExists)

	b, err := Open(dst, testMemory)
	require.NoError(t, err)
	defer b.Close()
	xid, err = b.Begin(transaction.ReadCommitted)
	require.NoError(t, err)
	data, err := b.Read(xid, uid)
	require.NoError(t, err)
	require.Equal(t, []byte("saved"), data)
}
