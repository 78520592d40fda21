package transaction

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/zap"
)

// XID file layout: [XIDCounter uint64][status byte of xid 1][status of xid 2]...
const (
	XIDSuffix = ".xid"

	lenXIDHeader = 8
	xidFieldSize = 1

	// SuperXID is the implicit, always committed transaction.
	SuperXID uint64 = 0
)

// Persisted transaction status.
const (
	fieldActive    byte = 0
	fieldCommitted byte = 1
	fieldAborted   byte = 2
)

// Manager records the outcome of every transaction in a flat status file.
type Manager struct {
	file *os.File

	counterMu  sync.Mutex
	xidCounter uint64

	lg *zap.Logger
}

// CreateManager creates a status file at path+XIDSuffix with a zero counter.
func CreateManager(path string, lg *zap.Logger) (*Manager, error) {
	name := path + XIDSuffix
	if fileutil.Exist(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrFileExists, name)
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, fileutil.PrivateFileMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrFileCannotRW, name, err)
	}
	if _, err := f.WriteAt(make([]byte, lenXIDHeader), 0); err != nil {
		f.Close()
		return nil, err
	}
	if err := fileutil.Fdatasync(f); err != nil {
		f.Close()
		return nil, err
	}
	return newManager(f, 0, lg), nil
}

// OpenManager opens an existing status file and validates its length against
// the stored counter.
func OpenManager(path string, lg *zap.Logger) (*Manager, error) {
	name := path + XIDSuffix
	if !fileutil.Exist(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrFileNotExists, name)
	}
	f, err := os.OpenFile(name, os.O_RDWR, fileutil.PrivateFileMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrFileCannotRW, name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < lenXIDHeader {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", common.ErrBadXIDFile, name, info.Size())
	}
	var header [lenXIDHeader]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		f.Close()
		return nil, err
	}
	counter := binary.LittleEndian.Uint64(header[:])
	if end := xidPosition(counter + 1); end != info.Size() {
		f.Close()
		return nil, fmt.Errorf("%w: counter %d needs %d bytes, file has %d", common.ErrBadXIDFile, counter, end, info.Size())
	}
	return newManager(f, counter, lg), nil
}

func newManager(f *os.File, counter uint64, lg *zap.Logger) *Manager {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Manager{file: f, xidCounter: counter, lg: lg.Named("txn-manager")}
}

// xidPosition returns the file offset of xid's status byte.
func xidPosition(xid uint64) int64 {
	return lenXIDHeader + int64(xid-1)*xidFieldSize
}

func (m *Manager) updateXID(xid uint64, status byte) error {
	if _, err := m.file.WriteAt([]byte{status}, xidPosition(xid)); err != nil {
		return fmt.Errorf("write status of xid %d: %w", xid, err)
	}
	return fileutil.Fdatasync(m.file)
}

func (m *Manager) incrXIDCounter() error {
	m.xidCounter++
	var header [lenXIDHeader]byte
	binary.LittleEndian.PutUint64(header[:], m.xidCounter)
	if _, err := m.file.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("write xid counter: %w", err)
	}
	return fileutil.Fdatasync(m.file)
}

// Begin allocates a new xid and records it as active.
func (m *Manager) Begin() (uint64, error) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()
	xid := m.xidCounter + 1
	if err := m.updateXID(xid, fieldActive); err != nil {
		return 0, err
	}
	if err := m.incrXIDCounter(); err != nil {
		return 0, err
	}
	return xid, nil
}

func (m *Manager) Commit(xid uint64) error {
	if xid == SuperXID {
		return nil
	}
	return m.updateXID(xid, fieldCommitted)
}

func (m *Manager) Abort(xid uint64) error {
	if xid == SuperXID {
		return nil
	}
	return m.updateXID(xid, fieldAborted)
}

func (m *Manager) checkXID(xid uint64, status byte) bool {
	var b [xidFieldSize]byte
	if _, err := m.file.ReadAt(b[:], xidPosition(xid)); err != nil {
		m.lg.Panic("failed to read xid status", zap.Uint64("xid", xid), zap.Error(err))
	}
	return b[0] == status
}

func (m *Manager) IsActive(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	return m.checkXID(xid, fieldActive)
}

// IsCommitted reports false for SuperXID; it is never stored and callers
// treat it as committed on their own.
func (m *Manager) IsCommitted(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	return m.checkXID(xid, fieldCommitted)
}

func (m *Manager) IsAborted(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	return m.checkXID(xid, fieldAborted)
}

// XIDCount returns the number of transactions ever begun.
func (m *Manager) XIDCount() uint64 {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()
	return m.xidCounter
}

func (m *Manager) Close() error {
	return m.file.Close()
}
