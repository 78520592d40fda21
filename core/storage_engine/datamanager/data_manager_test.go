package datamanager

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/transaction"
	pagemanager "github.com/sushant-115/gojotx/core/write_engine/page_manager"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

const testMem = pagemanager.PageSize * 128

type testDB struct {
	path string
	tm   *transaction.Manager
	dm   *DataManager
	opts Options
}

func setupDataManager(t *testing.T) *testDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dm")
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	tm, err := transaction.CreateManager(path, logger)
	require.NoError(t, err)
	opts := Options{Memory: testMem, Logger: logger}
	dm, err := Create(path, opts)
	require.NoError(t, err)
	return &testDB{path: path, tm: tm, dm: dm, opts: opts}
}

// reopen closes both managers and opens them again.
func (db *testDB) reopen(t *testing.T, crash bool) {
	t.Helper()
	require.NoError(t, db.dm.Close())
	require.NoError(t, db.tm.Close())
	if crash {
		breakMarker(t, db.path)
	}

	var err error
	db.tm, err = transaction.OpenManager(db.path, db.opts.Logger)
	require.NoError(t, err)
	db.dm, err = Open(db.path, db.tm, db.opts)
	require.NoError(t, err)
}

func (db *testDB) close(t *testing.T) {
	require.NoError(t, db.dm.Close())
	require.NoError(t, db.tm.Close())
}

// breakMarker makes page one look like the process died without a clean close.
func breakMarker(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path+pagemanager.DBSuffix, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte("crashed!"), 108)
	require.NoError(t, err)
}

func overwritePage(t *testing.T, path string, pgno common.PageNo, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path+pagemanager.DBSuffix, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(data, int64(pgno-1)*pagemanager.PageSize)
	require.NoError(t, err)
}

func readBytes(t *testing.T, dm *DataManager, uid common.UID) []byte {
	t.Helper()
	di, err := dm.Read(uid)
	require.NoError(t, err)
	if di == nil {
		return nil
	}
	defer di.Release()
	return append([]byte(nil), di.Data()...)
}

func TestDataManager_InsertRead(t *testing.T) {
	db := setupDataManager(t)
	defer db.close(t)

	rng := rand.New(rand.NewSource(3))
	want := map[common.UID][]byte{}
	for i := 0; i < 300; i++ {
		data := make([]byte, 1+rng.Intn(2000))
		rng.Read(data)
		uid, err := db.dm.Insert(transaction.SuperXID, data)
		require.NoError(t, err)
		want[uid] = data
	}
	for uid, data := range want {
		require.Equal(t, data, readBytes(t, db.dm, uid))
	}
}

func TestDataManager_ReadBadAddress(t *testing.T) {
	db := setupDataManager(t)
	defer db.close(t)

	// payload bytes 00 ff ff look like a live item claiming 65535 bytes
	uid, err := db.dm.Insert(0, []byte("\x00\xff\xff"))
	require.NoError(t, err)
	pgno, offset := common.UIDToAddress(uid)
	pages := db.dm.Stats().Pages

	cases := map[string]common.UID{
		"page zero":            common.AddressToUID(0, 2),
		"page one":             common.AddressToUID(1, 2),
		"past last page":       common.AddressToUID(999, 2),
		"inside page header":   common.AddressToUID(pgno, 0),
		"past free space":      common.AddressToUID(pgno, 4000),
		"size overruns page":   common.AddressToUID(pgno, offset+offsetData),
		"header straddles fso": common.AddressToUID(pgno, offset+offsetData+1),
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				di, err := db.dm.Read(bad)
				require.ErrorIs(t, err, common.ErrNullEntry)
				require.Nil(t, di)
			}
		})
	}

	require.Equal(t, pages, db.dm.Stats().Pages)
	require.Equal(t, 0, db.dm.cache.Len())
	require.Equal(t, []byte("\x00\xff\xff"), readBytes(t, db.dm, uid))
}

func TestDataManager_TooLarge(t *testing.T) {
	db := setupDataManager(t)
	defer db.close(t)

	_, err := db.dm.Insert(0, make([]byte, pagemanager.MaxFreeSpace))
	require.ErrorIs(t, err, common.ErrDataTooLarge)

	// the largest payload that fits a page
	uid, err := db.dm.Insert(0, make([]byte, pagemanager.MaxFreeSpace-offsetData))
	require.NoError(t, err)
	require.Len(t, readBytes(t, db.dm, uid), pagemanager.MaxFreeSpace-offsetData)
}

func TestDataManager_CleanReopen(t *testing.T) {
	db := setupDataManager(t)
	uid, err := db.dm.Insert(0, []byte("persisted"))
	require.NoError(t, err)

	db.reopen(t, false)
	defer db.close(t)
	require.Equal(t, []byte("persisted"), readBytes(t, db.dm, uid))

	// free space of the reopened page is reused
	uid2, err := db.dm.Insert(0, []byte("next"))
	require.NoError(t, err)
	pg1, _ := common.UIDToAddress(uid)
	pg2, _ := common.UIDToAddress(uid2)
	require.Equal(t, pg1, pg2)
}

func TestDataManager_UpdateBeforeAfter(t *testing.T) {
	db := setupDataManager(t)
	defer db.close(t)

	uid, err := db.dm.Insert(0, []byte("aaaa"))
	require.NoError(t, err)

	di, err := db.dm.Read(uid)
	require.NoError(t, err)
	di.Before()
	copy(di.Data(), "bbbb")
	require.NoError(t, di.After(0))

	di.Before()
	copy(di.Data(), "cccc")
	di.UnBefore()
	di.Unlock()
	di.Release()

	require.Equal(t, []byte("bbbb"), readBytes(t, db.dm, uid))
}

func TestRecovery_UndoActiveRedoCommitted(t *testing.T) {
	db := setupDataManager(t)

	committed, err := db.tm.Begin()
	require.NoError(t, err)
	keep, err := db.dm.Insert(committed, []byte("committed row"))
	require.NoError(t, err)
	require.NoError(t, db.tm.Commit(committed))

	active, err := db.tm.Begin()
	require.NoError(t, err)
	lost, err := db.dm.Insert(active, []byte("uncommitted row"))
	require.NoError(t, err)

	// the active transaction also rewrote the committed row
	di, err := db.dm.Read(keep)
	require.NoError(t, err)
	di.Before()
	copy(di.Data(), "COMMITTED ROW")
	require.NoError(t, di.After(active))
	di.Release()

	db.reopen(t, true)
	defer db.close(t)

	require.True(t, db.tm.IsAborted(active))
	require.Nil(t, readBytes(t, db.dm, lost))
	require.Equal(t, []byte("committed row"), readBytes(t, db.dm, keep))
}

func TestRecovery_RedoRestoresLostPage(t *testing.T) {
	db := setupDataManager(t)
	xid, err := db.tm.Begin()
	require.NoError(t, err)
	var uids []common.UID
	for i := 0; i < 10; i++ {
		uid, err := db.dm.Insert(xid, bytes.Repeat([]byte{byte('a' + i)}, 50))
		require.NoError(t, err)
		uids = append(uids, uid)
	}
	require.NoError(t, db.tm.Commit(xid))
	require.NoError(t, db.dm.Close())
	require.NoError(t, db.tm.Close())

	// the page write never reached the disk
	pgno, _ := common.UIDToAddress(uids[0])
	overwritePage(t, db.path, pgno, make([]byte, pagemanager.PageSize))
	breakMarker(t, db.path)

	db.tm, err = transaction.OpenManager(db.path, nil)
	require.NoError(t, err)
	db.dm, err = Open(db.path, db.tm, db.opts)
	require.NoError(t, err)
	defer db.close(t)

	for i, uid := range uids {
		require.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, 50), readBytes(t, db.dm, uid))
	}
}

func TestRecovery_TruncatesUnloggedPages(t *testing.T) {
	db := setupDataManager(t)
	_, err := db.dm.Insert(0, []byte("row"))
	require.NoError(t, err)
	require.NoError(t, db.dm.Close())
	require.NoError(t, db.tm.Close())

	// pages allocated after the last log record
	overwritePage(t, db.path, 5, pagemanager.InitNormalRaw())
	breakMarker(t, db.path)

	db.tm, err = transaction.OpenManager(db.path, nil)
	require.NoError(t, err)
	db.dm, err = Open(db.path, db.tm, db.opts)
	require.NoError(t, err)
	defer db.close(t)
	require.Equal(t, common.PageNo(2), db.dm.Stats().Pages)
}

func TestRecovery_EmptyLogKeepsPageOne(t *testing.T) {
	db := setupDataManager(t)
	db.reopen(t, true)
	defer db.close(t)
	require.Equal(t, common.PageNo(1), db.dm.Stats().Pages)
}

func TestRecovery_TracedOnlyWhenNeeded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	db := setupDataManager(t)
	db.opts.Tracer = tp.Tracer("test")
	_, err := db.dm.Insert(0, []byte("row"))
	require.NoError(t, err)

	db.reopen(t, false)
	require.Empty(t, rec.Ended())

	db.reopen(t, true)
	defer db.close(t)
	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "gojotx.recovery", spans[0].Name())
}
