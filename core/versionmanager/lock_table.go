package versionmanager

import (
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
)

// LockTable grants exclusive row locks and detects deadlocks in the
// transaction wait-for graph.
type LockTable struct {
	mu sync.Mutex

	x2u    map[uint64][]common.UID  // resources held by a transaction
	u2x    map[common.UID]uint64    // holder of a resource
	wait   map[common.UID][]uint64  // FIFO of transactions waiting for a resource
	waitCh map[uint64]chan struct{} // closed when a waiting transaction is granted
	waitU  map[uint64]common.UID    // resource a transaction waits for
}

func NewLockTable() *LockTable {
	return &LockTable{
		x2u:    make(map[uint64][]common.UID),
		u2x:    make(map[common.UID]uint64),
		wait:   make(map[common.UID][]uint64),
		waitCh: make(map[uint64]chan struct{}),
		waitU:  make(map[uint64]common.UID),
	}
}

// Add requests uid for xid. A nil channel means the lock is held now;
// otherwise the caller waits on the channel. If waiting would close a cycle
// the request is withdrawn and common.ErrDeadlock returned.
func (lt *LockTable) Add(xid uint64, uid common.UID) (<-chan struct{}, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if lt.holds(xid, uid) {
		return nil, nil
	}
	if _, held := lt.u2x[uid]; !held {
		lt.u2x[uid] = xid
		lt.x2u[xid] = append(lt.x2u[xid], uid)
		return nil, nil
	}

	lt.waitU[xid] = uid
	lt.wait[uid] = append(lt.wait[uid], xid)
	if lt.hasDeadlock() {
		delete(lt.waitU, xid)
		lt.wait[uid] = removeXID(lt.wait[uid], xid)
		if len(lt.wait[uid]) == 0 {
			delete(lt.wait, uid)
		}
		return nil, common.ErrDeadlock
	}
	ch := make(chan struct{})
	lt.waitCh[xid] = ch
	return ch, nil
}

// Remove releases everything xid holds, hands each resource to its next
// waiter and withdraws xid from any wait.
func (lt *LockTable) Remove(xid uint64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for _, uid := range lt.x2u[xid] {
		lt.selectNewXID(uid)
	}
	delete(lt.x2u, xid)

	if uid, waiting := lt.waitU[xid]; waiting {
		delete(lt.waitU, xid)
		lt.wait[uid] = removeXID(lt.wait[uid], xid)
		if len(lt.wait[uid]) == 0 {
			delete(lt.wait, uid)
		}
	}
	if ch, ok := lt.waitCh[xid]; ok {
		delete(lt.waitCh, xid)
		close(ch)
	}
}

// Holds reports whether xid currently holds uid.
func (lt *LockTable) Holds(xid uint64, uid common.UID) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.holds(xid, uid)
}

func (lt *LockTable) holds(xid uint64, uid common.UID) bool {
	holder, ok := lt.u2x[uid]
	return ok && holder == xid
}

// selectNewXID passes uid to the first waiter still waiting for it.
func (lt *LockTable) selectNewXID(uid common.UID) {
	delete(lt.u2x, uid)
	queue := lt.wait[uid]
	for len(queue) > 0 {
		xid := queue[0]
		queue = queue[1:]
		ch, waiting := lt.waitCh[xid]
		if !waiting {
			continue
		}
		lt.u2x[uid] = xid
		lt.x2u[xid] = append(lt.x2u[xid], uid)
		delete(lt.waitU, xid)
		delete(lt.waitCh, xid)
		close(ch)
		break
	}
	if len(queue) == 0 {
		delete(lt.wait, uid)
	} else {
		lt.wait[uid] = queue
	}
}

// hasDeadlock walks the wait-for graph built from the current tables. Each
// transaction waits for at most one resource, so every walk is a chain.
// Nodes reached from an earlier root carry an older stamp and are known to
// lead nowhere; reaching a node with the current stamp closes a cycle.
func (lt *LockTable) hasDeadlock() bool {
	waitsFor := make(map[uint64]uint64, len(lt.waitU))
	for xid, uid := range lt.waitU {
		if holder, ok := lt.u2x[uid]; ok {
			waitsFor[xid] = holder
		}
	}

	stamps := make(map[uint64]int, len(waitsFor))
	stamp := 0
	for root := range waitsFor {
		if stamps[root] > 0 {
			continue
		}
		stamp++
		for xid := root; ; {
			if s, seen := stamps[xid]; seen {
				if s == stamp {
					return true
				}
				break
			}
			stamps[xid] = stamp
			next, ok := waitsFor[xid]
			if !ok {
				break
			}
			xid = next
		}
	}
	return false
}

func removeXID(list []uint64, xid uint64) []uint64 {
	for i, x := range list {
		if x == xid {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
