package versionmanager

import "github.com/sushant-115/gojotx/core/transaction"

// TxnStatus answers commit state questions for visibility checks.
type TxnStatus interface {
	IsCommitted(xid uint64) bool
}

// IsVisible reports whether e is visible to t under t's isolation level.
func IsVisible(tm TxnStatus, t *transaction.Transaction, e *Entry) bool {
	xmin, xmax := e.stamps()
	if t.Level == transaction.ReadCommitted {
		return readCommitted(tm, t, xmin, xmax)
	}
	return repeatableRead(tm, t, xmin, xmax)
}

func readCommitted(tm TxnStatus, t *transaction.Transaction, xmin, xmax uint64) bool {
	xid := t.ID
	if xmin == xid && xmax == 0 {
		return true
	}
	if !tm.IsCommitted(xmin) {
		return false
	}
	if xmax == 0 {
		return true
	}
	// deleted by a transaction that has not committed yet
	return xmax != xid && !tm.IsCommitted(xmax)
}

func repeatableRead(tm TxnStatus, t *transaction.Transaction, xmin, xmax uint64) bool {
	xid := t.ID
	if xmin == xid && xmax == 0 {
		return true
	}
	if !tm.IsCommitted(xmin) || xmin >= xid || t.InSnapshot(xmin) {
		return false
	}
	if xmax == 0 {
		return true
	}
	if xmax == xid {
		return false
	}
	// the deletion is not part of this transaction's view
	return !tm.IsCommitted(xmax) || xmax > xid || t.InSnapshot(xmax)
}

// IsVersionSkip reports whether deleting e would overwrite a deletion t
// could not have seen.
func IsVersionSkip(tm TxnStatus, t *transaction.Transaction, e *Entry) bool {
	if t.Level == transaction.ReadCommitted {
		return false
	}
	xmax := e.XMax()
	return tm.IsCommitted(xmax) && (xmax > t.ID || t.InSnapshot(xmax))
}
