// Package versionmanager layers multi-version concurrency control and row
// locking over the data manager.
package versionmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/storage_engine/datamanager"
	"github.com/sushant-115/gojotx/core/transaction"
	"github.com/sushant-115/gojotx/core/write_engine/cache"
	internaltelemetry "github.com/sushant-115/gojotx/internal/telemetry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// VersionManager runs transactions over versioned entries.
type VersionManager struct {
	tm    *transaction.Manager
	dm    *datamanager.DataManager
	cache *cache.RefCache[*Entry]
	lt    *LockTable

	mu     sync.Mutex
	active map[uint64]*transaction.Transaction

	metrics *internaltelemetry.EngineMetrics
	lg      *zap.Logger
}

func New(tm *transaction.Manager, dm *datamanager.DataManager, lg *zap.Logger, metrics *internaltelemetry.EngineMetrics) *VersionManager {
	if lg == nil {
		lg = zap.NewNop()
	}
	if metrics == nil {
		metrics = internaltelemetry.NoopEngineMetrics()
	}
	vm := &VersionManager{
		tm:      tm,
		dm:      dm,
		lt:      NewLockTable(),
		active:  make(map[uint64]*transaction.Transaction),
		metrics: metrics,
		lg:      lg.Named("versionmanager"),
	}
	vm.active[transaction.SuperXID] = transaction.NewTransaction(transaction.SuperXID, transaction.ReadCommitted, nil)
	vm.cache = cache.New[*Entry](0,
		func(uid uint64) (*Entry, error) { return loadEntry(vm, uid) },
		func(e *Entry) { e.remove() },
	)
	return vm
}

func (vm *VersionManager) releaseEntry(e *Entry) {
	vm.cache.Release(e.uid)
}

func (vm *VersionManager) txn(xid uint64) (*transaction.Transaction, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	t, ok := vm.active[xid]
	if !ok {
		return nil, fmt.Errorf("%w: xid %d", common.ErrTxnNotFound, xid)
	}
	return t, nil
}

// getEntry returns nil without error when uid holds no live data item.
func (vm *VersionManager) getEntry(uid common.UID) (*Entry, error) {
	e, err := vm.cache.Get(uid)
	if errors.Is(err, common.ErrNullEntry) {
		return nil, nil
	}
	return e, err
}

// Begin starts a transaction at the given isolation level.
func (vm *VersionManager) Begin(level transaction.IsolationLevel) (uint64, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	xid, err := vm.tm.Begin()
	if err != nil {
		return 0, err
	}
	vm.active[xid] = transaction.NewTransaction(xid, level, vm.active)

	ctx := context.Background()
	vm.metrics.TxnsBegunCounter.Add(ctx, 1)
	vm.metrics.ActiveTxnsUpDown.Add(ctx, 1)
	return xid, nil
}

// Read returns the row at uid if it is visible to xid, nil otherwise.
func (vm *VersionManager) Read(xid uint64, uid common.UID) ([]byte, error) {
	t, err := vm.txn(xid)
	if err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}

	e, err := vm.getEntry(uid)
	if err != nil || e == nil {
		return nil, err
	}
	defer e.Release()
	if !IsVisible(vm.tm, t, e) {
		return nil, nil
	}
	return e.Data(), nil
}

// Insert stores a new row created by xid.
func (vm *VersionManager) Insert(xid uint64, data []byte) (common.UID, error) {
	t, err := vm.txn(xid)
	if err != nil {
		return 0, err
	}
	if t.Err != nil {
		return 0, t.Err
	}
	return vm.dm.Insert(xid, WrapEntryRaw(xid, data))
}

// Delete marks the row at uid deleted by xid. It reports false when the row
// is not visible to xid or was already deleted. A deadlock or version skip
// aborts xid and is returned as an error.
func (vm *VersionManager) Delete(xid uint64, uid common.UID) (bool, error) {
	t, err := vm.txn(xid)
	if err != nil {
		return false, err
	}
	if t.Err != nil {
		return false, t.Err
	}

	e, err := vm.getEntry(uid)
	if err != nil || e == nil {
		return false, err
	}
	defer e.Release()
	if !IsVisible(vm.tm, t, e) {
		return false, nil
	}

	granted, err := vm.lt.Add(xid, uid)
	if err != nil {
		vm.metrics.DeadlocksCounter.Add(context.Background(), 1)
		vm.lg.Warn("deadlock, aborting transaction", zap.Uint64("xid", xid), zap.Uint64("uid", uid))
		return false, vm.autoAbort(t, common.ErrDeadlock)
	}
	if granted != nil {
		<-granted
		if !vm.lt.Holds(xid, uid) {
			// xid was aborted while waiting
			return false, fmt.Errorf("%w: xid %d", common.ErrTxnNotFound, xid)
		}
	}

	if e.XMax() == xid {
		return false, nil
	}
	if IsVersionSkip(vm.tm, t, e) {
		vm.metrics.VersionSkipsCounter.Add(context.Background(), 1)
		return false, vm.autoAbort(t, common.ErrConcurrentUpdate)
	}
	// the previous holder may have committed its delete while xid waited
	if !IsVisible(vm.tm, t, e) {
		return false, nil
	}
	if err := e.SetXMax(xid); err != nil {
		return false, err
	}
	return true, nil
}

func (vm *VersionManager) autoAbort(t *transaction.Transaction, cause error) error {
	t.Err = fmt.Errorf("%w: xid %d", cause, t.ID)
	if err := vm.internAbort(t.ID, true); err != nil {
		return multierr.Append(t.Err, err)
	}
	t.AutoAborted = true
	return t.Err
}

// Commit finishes xid. A transaction doomed by an earlier error cannot
// commit; its error is returned and it must be aborted.
func (vm *VersionManager) Commit(xid uint64) error {
	t, err := vm.txn(xid)
	if err != nil {
		return err
	}
	if t.Err != nil {
		return t.Err
	}

	vm.mu.Lock()
	delete(vm.active, xid)
	vm.mu.Unlock()

	// publish the outcome before waiters on xid's rows wake up
	err = vm.tm.Commit(xid)
	vm.lt.Remove(xid)
	if err != nil {
		return err
	}
	ctx := context.Background()
	vm.metrics.TxnsCommittedCounter.Add(ctx, 1)
	vm.metrics.ActiveTxnsUpDown.Add(ctx, -1)
	return nil
}

// Abort rolls xid back. Aborting a transaction the engine already aborted
// only forgets it.
func (vm *VersionManager) Abort(xid uint64) error {
	return vm.internAbort(xid, false)
}

func (vm *VersionManager) internAbort(xid uint64, auto bool) error {
	vm.mu.Lock()
	t, ok := vm.active[xid]
	if ok && !auto {
		delete(vm.active, xid)
	}
	vm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: xid %d", common.ErrTxnNotFound, xid)
	}
	if t.AutoAborted {
		return nil
	}

	err := vm.tm.Abort(xid)
	vm.lt.Remove(xid)
	if err != nil {
		return err
	}
	ctx := context.Background()
	vm.metrics.TxnsAbortedCounter.Add(ctx, 1)
	vm.metrics.ActiveTxnsUpDown.Add(ctx, -1)
	return nil
}

// Close drops every cached entry.
func (vm *VersionManager) Close() {
	vm.cache.Close()
}
