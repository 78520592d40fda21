package datamanager

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	pagemanager "github.com/sushant-115/gojotx/core/write_engine/page_manager"
)

// Data item layout: [ValidFlag byte][DataSize uint16][Data]
// ValidFlag 0 is live, 1 is invalid.
const (
	offsetValid = 0
	offsetSize  = 1
	offsetData  = 3

	flagValid   byte = 0
	flagInvalid byte = 1
)

// DataItem is a byte range inside a cached page. Data returns a slice that
// aliases the page; mutations must be bracketed by Before and After.
type DataItem struct {
	raw    []byte
	oldRaw []byte
	rw     sync.RWMutex

	uid  common.UID
	page *pagemanager.Page
	dm   *DataManager
}

// WrapDataItemRaw builds the on-page representation of data.
func WrapDataItemRaw(data []byte) []byte {
	raw := make([]byte, offsetData+len(data))
	raw[offsetValid] = flagValid
	binary.LittleEndian.PutUint16(raw[offsetSize:offsetData], uint16(len(data)))
	copy(raw[offsetData:], data)
	return raw
}

// SetDataItemRawInvalid marks a raw data item as deleted.
func SetDataItemRawInvalid(raw []byte) {
	raw[offsetValid] = flagInvalid
}

// parseDataItem wraps the item at offset. The item must lie entirely below
// the page's free space offset.
func parseDataItem(pg *pagemanager.Page, offset uint16, dm *DataManager) (*DataItem, error) {
	pg.Lock()
	fso := int(pagemanager.FSO(pg))
	pg.Unlock()

	start := int(offset)
	if fso > pagemanager.PageSize || start < pagemanager.OffsetData || start+offsetData > fso {
		return nil, fmt.Errorf("%w: no data item at page %d offset %d", common.ErrNullEntry, pg.PageNumber(), offset)
	}
	data := pg.Data()
	size := binary.LittleEndian.Uint16(data[start+offsetSize : start+offsetData])
	length := offsetData + int(size)
	if start+length > fso {
		return nil, fmt.Errorf("%w: data item at page %d offset %d overruns free space", common.ErrNullEntry, pg.PageNumber(), offset)
	}
	return &DataItem{
		raw:    data[start : start+length],
		oldRaw: make([]byte, length),
		uid:    common.AddressToUID(pg.PageNumber(), offset),
		page:   pg,
		dm:     dm,
	}, nil
}

func (di *DataItem) IsValid() bool           { return di.raw[offsetValid] == flagValid }
func (di *DataItem) Data() []byte            { return di.raw[offsetData:] }
func (di *DataItem) UID() common.UID         { return di.uid }
func (di *DataItem) Page() *pagemanager.Page { return di.page }

// Before takes the write lock and snapshots the current bytes.
func (di *DataItem) Before() {
	di.rw.Lock()
	di.page.SetDirty(true)
	copy(di.oldRaw, di.raw)
}

// UnBefore restores the snapshot taken by Before. The write lock stays held
// until the caller calls Unlock.
func (di *DataItem) UnBefore() {
	copy(di.raw, di.oldRaw)
}

// After logs the change made since Before under xid and drops the write lock.
func (di *DataItem) After(xid uint64) error {
	defer di.rw.Unlock()
	return di.dm.LogDataItem(xid, di)
}

// Release returns the item to the data manager's cache.
func (di *DataItem) Release() {
	di.dm.ReleaseDataItem(di)
}

func (di *DataItem) Lock()    { di.rw.Lock() }
func (di *DataItem) Unlock()  { di.rw.Unlock() }
func (di *DataItem) RLock()   { di.rw.RLock() }
func (di *DataItem) RUnlock() { di.rw.RUnlock() }
