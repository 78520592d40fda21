package versionmanager

import (
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/storage_engine/datamanager"
)

// Entry layout: [XMIN uint64][XMAX uint64][data]
const (
	offsetXMin = 0
	offsetXMax = offsetXMin + 8
	offsetData = offsetXMax + 8
)

// Entry is one version of a row: a data item stamped with the transaction
// that created it and, once deleted, the transaction that deleted it.
type Entry struct {
	uid common.UID
	di  *datamanager.DataItem
	vm  *VersionManager
}

// WrapEntryRaw builds the payload of a new version created by xid.
func WrapEntryRaw(xid uint64, data []byte) []byte {
	raw := make([]byte, offsetData+len(data))
	binary.LittleEndian.PutUint64(raw[offsetXMin:], xid)
	copy(raw[offsetData:], data)
	return raw
}

func loadEntry(vm *VersionManager, uid common.UID) (*Entry, error) {
	di, err := vm.dm.Read(uid)
	if err != nil {
		return nil, err
	}
	if di == nil {
		return nil, fmt.Errorf("%w: uid %d", common.ErrNullEntry, uid)
	}
	if n := len(di.Data()); n < offsetData {
		di.Release()
		return nil, fmt.Errorf("%w: uid %d is %d bytes, not a row version", common.ErrNullEntry, uid, n)
	}
	return &Entry{uid: uid, di: di, vm: vm}, nil
}

// remove drops the entry's data item once the entry leaves the cache.
func (e *Entry) remove() {
	e.di.Release()
}

// Release returns the entry to the version manager's cache.
func (e *Entry) Release() {
	e.vm.releaseEntry(e)
}

// Data returns a copy of the row payload.
func (e *Entry) Data() []byte {
	e.di.RLock()
	defer e.di.RUnlock()
	src := e.di.Data()[offsetData:]
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

func (e *Entry) XMin() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()
	return binary.LittleEndian.Uint64(e.di.Data()[offsetXMin:])
}

func (e *Entry) XMax() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()
	return binary.LittleEndian.Uint64(e.di.Data()[offsetXMax:])
}

// stamps returns xmin and xmax read together.
func (e *Entry) stamps() (xmin, xmax uint64) {
	e.di.RLock()
	defer e.di.RUnlock()
	raw := e.di.Data()
	return binary.LittleEndian.Uint64(raw[offsetXMin:]), binary.LittleEndian.Uint64(raw[offsetXMax:])
}

// SetXMax marks the entry deleted by xid through a logged update.
func (e *Entry) SetXMax(xid uint64) error {
	e.di.Before()
	binary.LittleEndian.PutUint64(e.di.Data()[offsetXMax:], xid)
	return e.di.After(xid)
}

func (e *Entry) UID() common.UID { return e.uid }
