package btree

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
	"github.com/sushant-115/gojotx/core/storage_engine/datamanager"
	"github.com/sushant-115/gojotx/core/transaction"
)

// --- BTree Node Layout ---

// Node layout:
//
//	[LeafFlag byte][KeyNumber uint16][SiblingUID uint64]
//	[Son0 uint64][Key0 int64][Son1][Key1]...[SonN][KeyN]
//
// In a leaf, Son is the indexed row uid. In an internal node, SonI holds the
// keys up to KeyI; the rightmost node of every level ends with MaxKey.
const (
	offsetLeaf     = 0
	offsetKeys     = offsetLeaf + 1
	offsetSibling  = offsetKeys + 2
	nodeHeaderSize = offsetSibling + 8

	balance   = 32
	entrySize = 8 + 8
	nodeSize  = nodeHeaderSize + entrySize*(balance*2+2)

	// MaxKey is the sentinel upper bound of the rightmost subtree.
	MaxKey int64 = math.MaxInt64
)

func setRawIsLeaf(raw []byte, leaf bool) {
	if leaf {
		raw[offsetLeaf] = 1
	} else {
		raw[offsetLeaf] = 0
	}
}

func getRawIsLeaf(raw []byte) bool { return raw[offsetLeaf] == 1 }

func setRawNoKeys(raw []byte, n int) {
	binary.LittleEndian.PutUint16(raw[offsetKeys:], uint16(n))
}

func getRawNoKeys(raw []byte) int {
	return int(binary.LittleEndian.Uint16(raw[offsetKeys:]))
}

func setRawSibling(raw []byte, sibling common.UID) {
	binary.LittleEndian.PutUint64(raw[offsetSibling:], sibling)
}

func getRawSibling(raw []byte) common.UID {
	return binary.LittleEndian.Uint64(raw[offsetSibling:])
}

func entryOffset(kth int) int { return nodeHeaderSize + kth*entrySize }

func setRawKthSon(raw []byte, uid common.UID, kth int) {
	binary.LittleEndian.PutUint64(raw[entryOffset(kth):], uid)
}

func getRawKthSon(raw []byte, kth int) common.UID {
	return binary.LittleEndian.Uint64(raw[entryOffset(kth):])
}

func setRawKthKey(raw []byte, key int64, kth int) {
	binary.LittleEndian.PutUint64(raw[entryOffset(kth)+8:], uint64(key))
}

func getRawKthKey(raw []byte, kth int) int64 {
	return int64(binary.LittleEndian.Uint64(raw[entryOffset(kth)+8:]))
}

// copyRawFromKth copies entries [kth, end of node) of from to the start of to.
func copyRawFromKth(from, to []byte, kth int) {
	copy(to[nodeHeaderSize:], from[entryOffset(kth):])
}

// shiftRawKth moves entries [kth, n) one slot to the right.
func shiftRawKth(raw []byte, kth, n int) {
	copy(raw[entryOffset(kth+1):entryOffset(n+1)], raw[entryOffset(kth):entryOffset(n)])
}

// newRootRaw builds an internal root over left (keys below key) and right.
func newRootRaw(left, right common.UID, key int64) []byte {
	raw := make([]byte, nodeSize)
	setRawIsLeaf(raw, false)
	setRawNoKeys(raw, 2)
	setRawSibling(raw, 0)
	setRawKthSon(raw, left, 0)
	setRawKthKey(raw, key, 0)
	setRawKthSon(raw, right, 1)
	setRawKthKey(raw, MaxKey, 1)
	return raw
}

func newNilRootRaw() []byte {
	raw := make([]byte, nodeSize)
	setRawIsLeaf(raw, true)
	setRawNoKeys(raw, 0)
	setRawSibling(raw, 0)
	return raw
}

// node is a B+Tree node backed by a data item. It must be released.
type node struct {
	tree *BPlusTree
	di   *datamanager.DataItem
	uid  common.UID
}

func loadNode(tree *BPlusTree, uid common.UID) (*node, error) {
	di, err := tree.dm.Read(uid)
	if err != nil {
		return nil, err
	}
	if di == nil {
		return nil, fmt.Errorf("%w: node %d is not a live data item", common.ErrCorruptNode, uid)
	}
	if len(di.Data()) != nodeSize {
		di.Release()
		return nil, fmt.Errorf("%w: node %d is %d bytes", common.ErrCorruptNode, uid, len(di.Data()))
	}
	return &node{tree: tree, di: di, uid: uid}, nil
}

func (n *node) release() { n.di.Release() }

func (n *node) isLeaf() bool {
	n.di.RLock()
	defer n.di.RUnlock()
	return getRawIsLeaf(n.di.Data())
}

// searchNext returns the child to descend into for key, or the sibling to
// continue at when key lies beyond this node.
func (n *node) searchNext(key int64) (child, sibling common.UID) {
	n.di.RLock()
	defer n.di.RUnlock()
	raw := n.di.Data()
	noKeys := getRawNoKeys(raw)
	for i := 0; i < noKeys; i++ {
		if key <= getRawKthKey(raw, i) {
			return getRawKthSon(raw, i), 0
		}
	}
	return 0, getRawSibling(raw)
}

// leafSearchRange collects the uids of keys in [left, right]. sibling is
// non-zero when the range may continue in the next leaf.
func (n *node) leafSearchRange(left, right int64) (uids []common.UID, sibling common.UID) {
	n.di.RLock()
	defer n.di.RUnlock()
	raw := n.di.Data()
	noKeys := getRawNoKeys(raw)
	kth := 0
	for kth < noKeys && getRawKthKey(raw, kth) < left {
		kth++
	}
	for kth < noKeys {
		ik := getRawKthKey(raw, kth)
		if ik > right {
			return uids, 0
		}
		uids = append(uids, getRawKthSon(raw, kth))
		kth++
	}
	return uids, getRawSibling(raw)
}

// insertResult reports what insertAndSplit did.
type insertResult struct {
	sibling common.UID // retry on this node; nothing was changed
	split   common.UID // the node that split
	newSon  common.UID // set when the node split
	newKey  int64
}

// insertAndSplit inserts (uid, key) into a leaf, or, in an internal node,
// records that child split off uid with first key key. It splits the node
// once it holds 2*balance keys.
func (n *node) insertAndSplit(uid common.UID, key int64, child common.UID) (res insertResult, err error) {
	n.di.Before()
	defer func() {
		if err != nil || res.sibling != 0 {
			n.di.UnBefore()
			n.di.Unlock()
			return
		}
		err = n.di.After(transaction.SuperXID)
	}()

	raw := n.di.Data()
	var inserted bool
	if getRawIsLeaf(raw) {
		inserted = insertLeaf(raw, uid, key)
	} else {
		inserted, err = insertInternal(raw, uid, key, child)
		if err != nil {
			return res, fmt.Errorf("node %d: %w", n.uid, err)
		}
	}
	if !inserted {
		res.sibling = getRawSibling(raw)
		return res, nil
	}

	if getRawNoKeys(raw) == balance*2 {
		res.newSon, res.newKey, err = n.split(raw)
	}
	return res, err
}

// insertLeaf places (uid, key) before the first key not less than key. It
// declines when key belongs past the end of the node and a sibling exists.
func insertLeaf(raw []byte, uid common.UID, key int64) bool {
	noKeys := getRawNoKeys(raw)
	kth := 0
	for kth < noKeys && getRawKthKey(raw, kth) < key {
		kth++
	}
	if kth == noKeys && getRawSibling(raw) != 0 {
		return false
	}
	shiftRawKth(raw, kth, noKeys)
	setRawKthSon(raw, uid, kth)
	setRawKthKey(raw, key, kth)
	setRawNoKeys(raw, noKeys+1)
	return true
}

// insertInternal adds newSon right after child. child keeps the keys below
// splitKey, newSon inherits child's old upper bound.
func insertInternal(raw []byte, newSon common.UID, splitKey int64, child common.UID) (bool, error) {
	noKeys := getRawNoKeys(raw)
	kth := -1
	for i := 0; i < noKeys; i++ {
		if getRawKthSon(raw, i) == child {
			kth = i
			break
		}
	}
	if kth < 0 {
		if getRawSibling(raw) != 0 {
			return false, nil
		}
		return false, fmt.Errorf("%w: child %d not found", common.ErrCorruptNode, child)
	}
	shiftRawKth(raw, kth+1, noKeys)
	setRawKthSon(raw, newSon, kth+1)
	setRawKthKey(raw, getRawKthKey(raw, kth), kth+1)
	setRawKthKey(raw, splitKey, kth)
	setRawNoKeys(raw, noKeys+1)
	return true, nil
}

// split moves the upper half of raw into a new node linked as raw's sibling.
func (n *node) split(raw []byte) (common.UID, int64, error) {
	nodeRaw := make([]byte, nodeSize)
	setRawIsLeaf(nodeRaw, getRawIsLeaf(raw))
	setRawNoKeys(nodeRaw, balance)
	setRawSibling(nodeRaw, getRawSibling(raw))
	copyRawFromKth(raw, nodeRaw, balance)

	son, err := n.tree.dm.Insert(transaction.SuperXID, nodeRaw)
	if err != nil {
		return 0, 0, err
	}
	setRawNoKeys(raw, balance)
	setRawSibling(raw, son)
	return son, getRawKthKey(nodeRaw, 0), nil
}
