package common

import "errors"

// --- Error Definitions ---

var (
	// Corruption
	ErrBadLogFile  = errors.New("bad log file")
	ErrBadXIDFile  = errors.New("bad xid file")
	ErrCorruptNode = errors.New("corrupt b+tree node")

	// Exhaustion
	ErrCacheFull     = errors.New("cache is full")
	ErrDatabaseBusy  = errors.New("database is busy, no free page could be selected")
	ErrDataTooLarge  = errors.New("data too large to fit in a page")
	ErrMemTooSmall   = errors.New("memory too small for page cache")
	ErrInvalidMemory = errors.New("invalid memory size")

	// Concurrency
	ErrDeadlock         = errors.New("deadlock detected")
	ErrConcurrentUpdate = errors.New("concurrent update issue")

	// Logical
	ErrNullEntry      = errors.New("null entry")
	ErrTxnNotFound    = errors.New("transaction not found")
	ErrReleaseUnheld  = errors.New("release of unreferenced resource")
	ErrInvalidCommand = errors.New("invalid command")

	// Lifecycle
	ErrFileExists    = errors.New("file already exists")
	ErrFileNotExists = errors.New("file does not exist")
	ErrFileCannotRW  = errors.New("file cannot be read or written")
	ErrLocked        = errors.New("database file is locked by another process")
	ErrClosed        = errors.New("database is closed")
)
