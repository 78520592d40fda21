// Package btree implements a B+Tree index over int64 keys whose nodes are
// data items, so index changes are logged and recovered like any other data.
package btree

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/storage_engine/datamanager"
	"github.com/sushant-115/gojotx/core/transaction"
)

// maxDepth bounds descent; a tree of balance 32 never gets near it.
const maxDepth = 64

// BPlusTree is a handle on a tree identified by its boot uid. Searches run
// concurrently with each other and with inserts; inserts are serialized.
type BPlusTree struct {
	dm      *datamanager.DataManager
	bootUID common.UID

	bootMu sync.Mutex
	bootDI *datamanager.DataItem

	insertMu sync.Mutex
}

// Create writes an empty tree and returns its boot uid.
func Create(dm *datamanager.DataManager) (common.UID, error) {
	rootUID, err := dm.Insert(transaction.SuperXID, newNilRootRaw())
	if err != nil {
		return 0, err
	}
	var boot [8]byte
	binary.LittleEndian.PutUint64(boot[:], rootUID)
	return dm.Insert(transaction.SuperXID, boot[:])
}

// Load opens the tree whose boot item lives at bootUID.
func Load(bootUID common.UID, dm *datamanager.DataManager) (*BPlusTree, error) {
	bootDI, err := dm.Read(bootUID)
	if err != nil {
		return nil, err
	}
	if bootDI == nil || len(bootDI.Data()) != 8 {
		if bootDI != nil {
			bootDI.Release()
		}
		return nil, fmt.Errorf("%w: bad boot item %d", common.ErrCorruptNode, bootUID)
	}
	return &BPlusTree{dm: dm, bootUID: bootUID, bootDI: bootDI}, nil
}

// BootUID returns the stable handle of the tree.
func (t *BPlusTree) BootUID() common.UID { return t.bootUID }

func (t *BPlusTree) rootUID() common.UID {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()
	t.bootDI.RLock()
	defer t.bootDI.RUnlock()
	return binary.LittleEndian.Uint64(t.bootDI.Data())
}

// updateRootUID installs a new root above left and right.
func (t *BPlusTree) updateRootUID(left, right common.UID, rightKey int64) error {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()
	newRoot, err := t.dm.Insert(transaction.SuperXID, newRootRaw(left, right, rightKey))
	if err != nil {
		return err
	}
	t.bootDI.Before()
	binary.LittleEndian.PutUint64(t.bootDI.Data(), newRoot)
	return t.bootDI.After(transaction.SuperXID)
}

// descend returns the child of the node at nodeUID (or of one of its right
// siblings) covering key, along with the node the child was found in.
func (t *BPlusTree) descend(nodeUID common.UID, key int64) (holder, child common.UID, err error) {
	for hops := 0; ; hops++ {
		if hops > maxDepth*balance {
			return 0, 0, fmt.Errorf("%w: sibling chain too long at %d", common.ErrCorruptNode, nodeUID)
		}
		n, err := loadNode(t, nodeUID)
		if err != nil {
			return 0, 0, err
		}
		child, sibling := n.searchNext(key)
		n.release()
		if child != 0 {
			return nodeUID, child, nil
		}
		if sibling == 0 {
			return 0, 0, fmt.Errorf("%w: no child for key %d in rightmost node %d", common.ErrCorruptNode, key, nodeUID)
		}
		nodeUID = sibling
	}
}

func (t *BPlusTree) searchLeaf(key int64) (common.UID, error) {
	nodeUID := t.rootUID()
	for depth := 0; depth < maxDepth; depth++ {
		n, err := loadNode(t, nodeUID)
		if err != nil {
			return 0, err
		}
		leaf := n.isLeaf()
		n.release()
		if leaf {
			return nodeUID, nil
		}
		if _, nodeUID, err = t.descend(nodeUID, key); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: tree deeper than %d", common.ErrCorruptNode, maxDepth)
}

// Search returns the uids indexed under key.
func (t *BPlusTree) Search(key int64) ([]common.UID, error) {
	return t.SearchRange(key, key)
}

// SearchRange returns the uids of every key in [left, right] in key order.
func (t *BPlusTree) SearchRange(left, right int64) ([]common.UID, error) {
	leafUID, err := t.searchLeaf(left)
	if err != nil {
		return nil, err
	}
	var uids []common.UID
	for leafUID != 0 {
		n, err := loadNode(t, leafUID)
		if err != nil {
			return nil, err
		}
		found, next := n.leafSearchRange(left, right)
		n.release()
		uids = append(uids, found...)
		leafUID = next
	}
	return uids, nil
}

// Insert indexes uid under key. Duplicate keys are kept.
func (t *BPlusTree) Insert(key int64, uid common.UID) error {
	t.insertMu.Lock()
	defer t.insertMu.Unlock()

	rootUID := t.rootUID()
	res, err := t.insert(rootUID, uid, key, 0)
	if err != nil {
		return err
	}
	if res.newSon != 0 {
		return t.updateRootUID(res.split, res.newSon, res.newKey)
	}
	return nil
}

// insert adds (uid, key) below nodeUID and reports a split of nodeUID (or of
// the sibling the entry ended up in) to the caller.
func (t *BPlusTree) insert(nodeUID, uid common.UID, key int64, depth int) (insertResult, error) {
	if depth >= maxDepth {
		return insertResult{}, fmt.Errorf("%w: tree deeper than %d", common.ErrCorruptNode, maxDepth)
	}
	n, err := loadNode(t, nodeUID)
	if err != nil {
		return insertResult{}, err
	}
	leaf := n.isLeaf()
	n.release()

	if leaf {
		return t.insertAndSplit(nodeUID, uid, key, 0)
	}

	holder, child, err := t.descend(nodeUID, key)
	if err != nil {
		return insertResult{}, err
	}
	res, err := t.insert(child, uid, key, depth+1)
	if err != nil || res.newSon == 0 {
		return insertResult{}, err
	}
	return t.insertAndSplit(holder, res.newSon, res.newKey, res.split)
}

// insertAndSplit inserts into nodeUID, following its sibling chain when the
// entry belongs further right.
func (t *BPlusTree) insertAndSplit(nodeUID, uid common.UID, key int64, child common.UID) (insertResult, error) {
	for {
		n, err := loadNode(t, nodeUID)
		if err != nil {
			return insertResult{}, err
		}
		res, err := n.insertAndSplit(uid, key, child)
		n.release()
		if err != nil {
			return insertResult{}, err
		}
		if res.sibling == 0 {
			if res.newSon != 0 {
				res.split = nodeUID
			}
			return res, nil
		}
		nodeUID = res.sibling
	}
}

// Close releases the boot item.
func (t *BPlusTree) Close() {
	t.bootDI.Release()
}
