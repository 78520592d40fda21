package datamanager

import (
	"errors"
	"fmt"
	"io"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	pagemanager "github.com/sushant-115/gojotx/core/write_engine/page_manager"
	"github.com/sushant-115/gojotx/core/write_engine/wal"
	"go.uber.org/zap"
)

// RecoveryStats summarizes one recovery run.
type RecoveryStats struct {
	MaxPgno    common.PageNo
	Redone     int
	Undone     int
	AbortedTxn []uint64
}

// Recover brings the page file back to the state described by the log:
// records of finished transactions are redone, records of transactions still
// active at the crash are undone in reverse order and the transactions are
// marked aborted. Pages are patched directly, bypassing the data item layer.
func Recover(tm TxnStatus, lm *wal.LogManager, pc *pagemanager.PageCache, lg *zap.Logger) (RecoveryStats, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	lg.Info("recovery started")
	var stats RecoveryStats

	// Analysis: find how far the page file is known to the log.
	err := scanLog(lm, func(rec *wal.LogRecord) error {
		if rec.PageNo > stats.MaxPgno {
			stats.MaxPgno = rec.PageNo
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	if stats.MaxPgno == 0 {
		stats.MaxPgno = pageOneNo
	}
	if err := pc.TruncateTo(stats.MaxPgno); err != nil {
		return stats, err
	}
	lg.Info("truncated page file", zap.Uint32("max-pgno", stats.MaxPgno))

	// Redo
	err = scanLog(lm, func(rec *wal.LogRecord) error {
		if tm.IsActive(rec.TxnID) {
			return nil
		}
		stats.Redone++
		return applyRecord(pc, rec, false)
	})
	if err != nil {
		return stats, err
	}
	lg.Info("redo finished", zap.Int("records", stats.Redone))

	// Undo
	activeLogs := make(map[uint64][]*wal.LogRecord)
	var order []uint64
	err = scanLog(lm, func(rec *wal.LogRecord) error {
		if !tm.IsActive(rec.TxnID) {
			return nil
		}
		if _, seen := activeLogs[rec.TxnID]; !seen {
			order = append(order, rec.TxnID)
		}
		activeLogs[rec.TxnID] = append(activeLogs[rec.TxnID], rec)
		return nil
	})
	if err != nil {
		return stats, err
	}
	for _, xid := range order {
		logs := activeLogs[xid]
		for i := len(logs) - 1; i >= 0; i-- {
			if err := applyRecord(pc, logs[i], true); err != nil {
				return stats, err
			}
		}
		if err := tm.Abort(xid); err != nil {
			return stats, err
		}
		stats.Undone += len(logs)
		stats.AbortedTxn = append(stats.AbortedTxn, xid)
		lg.Info("undid transaction", zap.Uint64("xid", xid), zap.Int("records", len(logs)))
	}

	lg.Info("recovery finished",
		zap.Int("redone", stats.Redone),
		zap.Int("undone", stats.Undone),
		zap.Int("aborted-txns", len(stats.AbortedTxn)),
	)
	return stats, nil
}

func scanLog(lm *wal.LogManager, fn func(*wal.LogRecord) error) error {
	lm.Rewind()
	for {
		data, err := lm.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := wal.DecodeLogRecord(data)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func applyRecord(pc *pagemanager.PageCache, rec *wal.LogRecord, undo bool) error {
	pg, err := pc.GetPage(rec.PageNo)
	if err != nil {
		return fmt.Errorf("recover %s of xid %d: %w", rec.Type, rec.TxnID, err)
	}
	defer pg.Release()

	switch rec.Type {
	case wal.LogRecordTypeInsert:
		raw := rec.NewData
		if undo {
			raw = append([]byte(nil), raw...)
			SetDataItemRawInvalid(raw)
		}
		pagemanager.RecoverInsert(pg, raw, rec.Offset)
	case wal.LogRecordTypeUpdate:
		raw := rec.NewData
		if undo {
			raw = rec.OldData
		}
		pagemanager.RecoverUpdate(pg, raw, rec.Offset)
	}
	return nil
}
