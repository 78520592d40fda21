package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
)

// LogRecordType defines the type of operation logged.
type LogRecordType byte

const (
	LogRecordTypeInsert LogRecordType = iota // data item appended to a page
	LogRecordTypeUpdate                      // data item overwritten in place
)

func (t LogRecordType) String() string {
	switch t {
	case LogRecordTypeInsert:
		return "INSERT"
	case LogRecordTypeUpdate:
		return "UPDATE"
	}
	return fmt.Sprintf("LogRecordType(%d)", byte(t))
}

// LogRecord is the decoded payload of one log entry.
//
//	insert: [Type][TxnID uint64][PageNo uint32][Offset uint16][NewData]
//	update: [Type][TxnID uint64][UID uint64][OldData][NewData]
//
// Update images are always the same length.
type LogRecord struct {
	Type    LogRecordType
	TxnID   uint64
	PageNo  common.PageNo
	Offset  uint16
	OldData []byte // update only
	NewData []byte
}

// NewInsertRecord builds the record for raw being placed at (pgno, offset).
func NewInsertRecord(xid uint64, pgno common.PageNo, offset uint16, raw []byte) *LogRecord {
	return &LogRecord{Type: LogRecordTypeInsert, TxnID: xid, PageNo: pgno, Offset: offset, NewData: raw}
}

// NewUpdateRecord builds the record for the data item at uid changing from
// oldRaw to newRaw.
func NewUpdateRecord(xid uint64, uid common.UID, oldRaw, newRaw []byte) *LogRecord {
	pgno, offset := common.UIDToAddress(uid)
	return &LogRecord{Type: LogRecordTypeUpdate, TxnID: xid, PageNo: pgno, Offset: offset, OldData: oldRaw, NewData: newRaw}
}

// UID returns the address of the data item the record touches.
func (lr *LogRecord) UID() common.UID {
	return common.AddressToUID(lr.PageNo, lr.Offset)
}

// Serialize converts a LogRecord into a byte slice.
func (lr *LogRecord) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(lr.Type))
	binary.Write(buf, binary.LittleEndian, lr.TxnID)
	switch lr.Type {
	case LogRecordTypeInsert:
		binary.Write(buf, binary.LittleEndian, lr.PageNo)
		binary.Write(buf, binary.LittleEndian, lr.Offset)
	default:
		binary.Write(buf, binary.LittleEndian, lr.UID())
		buf.Write(lr.OldData)
	}
	buf.Write(lr.NewData)
	return buf.Bytes()
}

const (
	insertHeaderSize = 1 + 8 + 4 + 2
	updateHeaderSize = 1 + 8 + 8
)

// DecodeLogRecord parses the output of Serialize.
func DecodeLogRecord(data []byte) (*LogRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty log record", common.ErrBadLogFile)
	}
	lr := &LogRecord{Type: LogRecordType(data[0])}
	switch lr.Type {
	case LogRecordTypeInsert:
		if len(data) < insertHeaderSize {
			return nil, fmt.Errorf("%w: short insert record (%d bytes)", common.ErrBadLogFile, len(data))
		}
		lr.TxnID = binary.LittleEndian.Uint64(data[1:9])
		lr.PageNo = binary.LittleEndian.Uint32(data[9:13])
		lr.Offset = binary.LittleEndian.Uint16(data[13:15])
		lr.NewData = data[insertHeaderSize:]
	case LogRecordTypeUpdate:
		if len(data) < updateHeaderSize || (len(data)-updateHeaderSize)%2 != 0 {
			return nil, fmt.Errorf("%w: malformed update record (%d bytes)", common.ErrBadLogFile, len(data))
		}
		lr.TxnID = binary.LittleEndian.Uint64(data[1:9])
		lr.PageNo, lr.Offset = common.UIDToAddress(binary.LittleEndian.Uint64(data[9:17]))
		n := (len(data) - updateHeaderSize) / 2
		lr.OldData = data[updateHeaderSize : updateHeaderSize+n]
		lr.NewData = data[updateHeaderSize+n:]
	default:
		return nil, fmt.Errorf("%w: unknown record type %d", common.ErrBadLogFile, data[0])
	}
	return lr, nil
}
