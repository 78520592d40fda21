package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/zap"
)

// --- Write-Ahead Logging (WAL) Constants and Types ---

// Log file layout:
//
//	[XChecksum uint32][Log1][Log2]...[LogN][BadTail]
//
// and each log:
//
//	[Size uint32][Checksum uint32][Data]
//
// XChecksum folds the checksums of every log's data. BadTail is whatever an
// interrupted write left behind and is truncated on open.
const (
	LogSuffix = ".log"

	seed = 13331

	offsetSize     = 0
	offsetChecksum = offsetSize + 4
	offsetData     = offsetChecksum + 4

	headerSize = 4
)

// LogManager appends checksummed records to a single log file and offers a
// restartable forward cursor over them.
type LogManager struct {
	mu        sync.Mutex // protects everything below
	file      *os.File
	position  int64 // cursor used by Next
	fileSize  int64
	xChecksum uint32

	lg *zap.Logger
}

// Create creates an empty log file at path+LogSuffix.
func Create(path string, lg *zap.Logger) (*LogManager, error) {
	name := path + LogSuffix
	if fileutil.Exist(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrFileExists, name)
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, fileutil.PrivateFileMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrFileCannotRW, name, err)
	}
	if _, err := f.WriteAt(make([]byte, headerSize), 0); err != nil {
		f.Close()
		return nil, err
	}
	if err := fileutil.Fdatasync(f); err != nil {
		f.Close()
		return nil, err
	}
	return newLogManager(f, headerSize, 0, lg), nil
}

// Open opens an existing log file, verifies its checksum and truncates any
// bad tail. A checksum mismatch yields common.ErrBadLogFile.
func Open(path string, lg *zap.Logger) (*LogManager, error) {
	name := path + LogSuffix
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
	if info.Size() < headerSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", common.ErrBadLogFile, name, info.Size())
	}
	var header [headerSize]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		f.Close()
		return nil, err
	}

	lm := newLogManager(f, info.Size(), binary.LittleEndian.Uint32(header[:]), lg)
	if err := lm.checkAndRemoveTail(); err != nil {
		f.Close()
		return nil, err
	}
	lm.lg.Info("opened log file",
		zap.String("file", name),
		zap.String("size", humanize.IBytes(uint64(lm.fileSize))),
	)
	return lm, nil
}

func newLogManager(f *os.File, fileSize int64, xChecksum uint32, lg *zap.Logger) *LogManager {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &LogManager{
		file:      f,
		position:  headerSize,
		fileSize:  fileSize,
		xChecksum: xChecksum,
		lg:        lg.Named("wal"),
	}
}

func calChecksum(acc uint32, data []byte) uint32 {
	for _, b := range data {
		acc = acc*seed + uint32(b)
	}
	return acc
}

// checkAndRemoveTail verifies the file checksum over every well-formed record
// and truncates whatever follows the last one.
func (lm *LogManager) checkAndRemoveTail() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.position = headerSize
	var xCheck uint32
	for {
		data, err := lm.internalNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		xCheck = calChecksum(xCheck, data)
	}
	if xCheck != lm.xChecksum {
		return fmt.Errorf("%w: checksum %d, header says %d", common.ErrBadLogFile, xCheck, lm.xChecksum)
	}

	if lm.position < lm.fileSize {
		lm.lg.Warn("truncating bad tail",
			zap.Int64("position", lm.position),
			zap.Int64("dropped-bytes", lm.fileSize-lm.position),
		)
		if err := lm.file.Truncate(lm.position); err != nil {
			return fmt.Errorf("truncate bad tail: %w", err)
		}
		if err := fileutil.Fdatasync(lm.file); err != nil {
			return err
		}
		lm.fileSize = lm.position
	}
	lm.position = headerSize
	return nil
}

// internalNext reads the record at the cursor and advances past it. It
// returns io.EOF at the end of the file or at the first malformed record.
func (lm *LogManager) internalNext() ([]byte, error) {
	if lm.position+offsetData > lm.fileSize {
		return nil, io.EOF
	}
	var head [offsetData]byte
	if _, err := lm.file.ReadAt(head[:], lm.position); err != nil {
		return nil, err
	}
	size := int64(binary.LittleEndian.Uint32(head[offsetSize:offsetChecksum]))
	if lm.position+offsetData+size > lm.fileSize {
		return nil, io.EOF
	}
	data := make([]byte, size)
	if _, err := lm.file.ReadAt(data, lm.position+offsetData); err != nil {
		return nil, err
	}
	if calChecksum(0, data) != binary.LittleEndian.Uint32(head[offsetChecksum:offsetData]) {
		return nil, io.EOF
	}
	lm.position += offsetData + size
	return data, nil
}

// Log appends data as a new record and forces it and the updated header to
// disk.
func (lm *LogManager) Log(data []byte) error {
	record := wrapLog(data)

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, err := lm.file.WriteAt(record, lm.fileSize); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := fileutil.Fdatasync(lm.file); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	lm.fileSize += int64(len(record))
	return lm.updateXChecksum(data)
}

func (lm *LogManager) updateXChecksum(data []byte) error {
	lm.xChecksum = calChecksum(lm.xChecksum, data)
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:], lm.xChecksum)
	if _, err := lm.file.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	return fileutil.Fdatasync(lm.file)
}

func wrapLog(data []byte) []byte {
	record := make([]byte, offsetData+len(data))
	binary.LittleEndian.PutUint32(record[offsetSize:], uint32(len(data)))
	binary.LittleEndian.PutUint32(record[offsetChecksum:], calChecksum(0, data))
	copy(record[offsetData:], data)
	return record
}

// Next returns the data of the next record, or io.EOF when none remain.
func (lm *LogManager) Next() ([]byte, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.internalNext()
}

// Rewind moves the cursor back to the first record.
func (lm *LogManager) Rewind() {
	lm.mu.Lock()
	lm.position = headerSize
	lm.mu.Unlock()
}

// Size returns the current size of the log file in bytes.
func (lm *LogManager) Size() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.fileSize
}

func (lm *LogManager) Close() error {
	return lm.file.Close()
}
