package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotx/core/storage_engine/common"
)

func TestLogRecord_Insert(t *testing.T) {
	rec := NewInsertRecord(42, 9, 1234, []byte{0, 3, 0, 'a', 'b', 'c'})
	got, err := DecodeLogRecord(rec.Serialize())
	require.NoError(t, err)
	require.Equal(t, LogRecordTypeInsert, got.Type)
	require.Equal(t, uint64(42), got.TxnID)
	require.Equal(t, common.PageNo(9), got.PageNo)
	require.Equal(t, uint16(1234), got.Offset)
	require.Equal(t, rec.NewData, got.NewData)
	require.Len(t, rec.Serialize(), insertHeaderSize+6)
}

func TestLogRecord_Update(t *testing.T) {
	uid := common.AddressToUID(5, 77)
	rec := NewUpdateRecord(3, uid, []byte("old!"), []byte("new!"))
	got, err := DecodeLogRecord(rec.Serialize())
	require.NoError(t, err)
	require.Equal(t, LogRecordTypeUpdate, got.Type)
	require.Equal(t, uid, got.UID())
	require.Equal(t, []byte("old!"), got.OldData)
	require.Equal(t, []byte("new!"), got.NewData)
}

func TestLogRecord_DecodeRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{9, 1, 2},
		{byte(LogRecordTypeInsert), 1, 2},
		append([]byte{byte(LogRecordTypeUpdate)}, make([]byte, 17)...), // odd image length
	} {
		_, err := DecodeLogRecord(data)
		require.ErrorIs(t, err, common.ErrBadLogFile)
	}
}
