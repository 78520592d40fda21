package transaction

// IsolationLevel selects the visibility rules a transaction reads with.
type IsolationLevel int

const (
	ReadCommitted  IsolationLevel = iota // sees every committed version
	RepeatableRead                       // sees the versions committed before it began
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "read-committed"
	case RepeatableRead:
		return "repeatable-read"
	}
	return "unknown"
}

// Transaction represents the in-memory record of an active transaction.
type Transaction struct {
	ID    uint64
	Level IsolationLevel
	// snapshot holds the transactions active when a repeatable-read
	// transaction began.
	snapshot map[uint64]struct{}

	// Err is set when the transaction has been doomed (deadlock, version
	// skip). Every later operation returns it.
	Err error
	// AutoAborted marks a transaction already aborted by the engine.
	AutoAborted bool
}

// NewTransaction creates the in-memory state for xid. active is consulted
// only for repeatable-read.
func NewTransaction(xid uint64, level IsolationLevel, active map[uint64]*Transaction) *Transaction {
	t := &Transaction{ID: xid, Level: level}
	if level != ReadCommitted {
		t.snapshot = make(map[uint64]struct{}, len(active))
		for id := range active {
			t.snapshot[id] = struct{}{}
		}
	}
	return t
}

// InSnapshot reports whether xid was active when t began.
func (t *Transaction) InSnapshot(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	_, ok := t.snapshot[xid]
	return ok
}
