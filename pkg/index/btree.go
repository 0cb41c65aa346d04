// Package index implements a disk-resident B+-tree over fixed-capacity
// pages: KeysPerNode keys per node, a doubly-linked leaf chain for
// ordered scans, and split-on-insert with propagation to the root.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mnohosten/laura-db/pkg/storage"
	"github.com/mnohosten/laura-db/pkg/txn"
)

// splitResult carries the key promoted to the parent and the id of the
// freshly allocated right-hand sibling, once a node has been split
// during insertion.
type splitResult struct {
	Key       uint32
	NewPageID storage.PageID
}

// BPlusTree is a page-based B+-tree index mapping uint32 keys to
// tuple-ids, rooted at rootPageID within a shared buffer pool.
type BPlusTree struct {
	mu         sync.Mutex
	bufferPool *storage.BufferPool
	txnManager *txn.Manager
	rootPageID storage.PageID
}

// NewBPlusTree allocates a fresh root leaf page and returns an empty
// tree. txnManager may be nil, in which case Insert/Search/iteration
// always operate on base pages regardless of the txnID passed to them.
func NewBPlusTree(bufferPool *storage.BufferPool, txnManager *txn.Manager) (*BPlusTree, error) {
	frame, err := bufferPool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("index: allocate root page: %w", err)
	}
	storage.NewBTreePage(frame.Page(), storage.BTreePageLeaf)
	rootID := frame.Page().ID
	if err := bufferPool.Unpin(rootID, nil); err != nil {
		return nil, fmt.Errorf("index: unpin root page: %w", err)
	}
	return &BPlusTree{bufferPool: bufferPool, txnManager: txnManager, rootPageID: rootID}, nil
}

// LoadBPlusTree resumes a tree whose root already exists on disk.
func LoadBPlusTree(bufferPool *storage.BufferPool, txnManager *txn.Manager, rootPageID storage.PageID) *BPlusTree {
	return &BPlusTree{bufferPool: bufferPool, txnManager: txnManager, rootPageID: rootPageID}
}

// readLatch takes the page's shared latch for a non-transactional
// read, returning it for the caller to RUnlock. Transactional reads
// return nil: the transaction already holds the page's
// upgradable-shared latch from its first touch, which keeps a
// concurrent commit (the only exclusive holder) off the page.
func (t *BPlusTree) readLatch(pageID storage.PageID, txnID *storage.TxnID) *storage.Latch {
	if txnID != nil {
		return nil
	}
	l := t.bufferPool.Latch(pageID)
	l.RLock()
	return l
}

// touch enlists pageID under txnID's transaction, if the tree was given
// a txn.Manager, so the subsequent FetchFrame sees (and creates, on
// first touch) that transaction's shadow rather than the base page.
func (t *BPlusTree) touch(pageID storage.PageID, txnID *storage.TxnID) error {
	if t.txnManager == nil || txnID == nil {
		return nil
	}
	if err := t.txnManager.TouchPage(*txnID, pageID); err != nil {
		return fmt.Errorf("index: touch page %d: %w", pageID, err)
	}
	return nil
}

// RootPageID returns the tree's current root page, which changes every
// time a split propagates past the old root.
func (t *BPlusTree) RootPageID() storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootPageID
}

// searchPos returns the position of key in a sorted key array, and
// whether it was found exactly. When not found, pos is the index key
// would need to be inserted at to keep the array sorted.
func searchPos(keys []uint32, key uint32) (pos int, found bool) {
	pos = sort.Search(len(keys), func(i int) bool { return keys[i] >= key })
	found = pos < len(keys) && keys[pos] == key
	return pos, found
}

// childIndex returns the values-index to descend into for key, given an
// inner node's keys: pos+1 on an exact match (key equals a separator),
// pos otherwise.
func childIndex(keys []uint32, key uint32) int {
	pos, found := searchPos(keys, key)
	if found {
		return pos + 1
	}
	return pos
}

// insertIntoNode inserts (key, value) into bp's key/value arrays at the
// sorted position, shifting later entries up by one. For inner nodes the
// value lands one slot to the right of the key, since an inner node with
// n keys holds n+1 values. Returns ErrDuplicateKey if key is already
// present.
func insertIntoNode(bp *storage.BTreePage, key uint32, value storage.BTreeValue) error {
	keys := bp.Keys()
	pos, found := searchPos(keys, key)
	if found {
		return ErrDuplicateKey
	}

	newKeys := make([]uint32, len(keys)+1)
	copy(newKeys, keys[:pos])
	newKeys[pos] = key
	copy(newKeys[pos+1:], keys[pos:])
	if err := bp.SetKeys(newKeys); err != nil {
		return err
	}

	valPos := pos
	if bp.PageType() == storage.BTreePageInner {
		valPos = pos + 1
	}
	values := bp.Values()
	newValues := make([]storage.BTreeValue, len(values)+1)
	copy(newValues, values[:valPos])
	newValues[valPos] = value
	copy(newValues[valPos+1:], values[valPos:])
	return bp.SetValues(newValues)
}

// splitLeaf divides bp's entries between bp and the freshly allocated
// newBP: the median key and its value stay in the new right-hand leaf,
// and the leaf chain is relinked so ordered scans keep working.
func (t *BPlusTree) splitLeaf(bp, newBP *storage.BTreePage, txnID *storage.TxnID) (uint32, error) {
	keys := bp.Keys()
	values := bp.Values()
	mid := len(keys) / 2
	median := keys[mid]

	if err := newBP.SetKeys(keys[mid:]); err != nil {
		return 0, err
	}
	if err := newBP.SetValues(values[mid:]); err != nil {
		return 0, err
	}
	if err := bp.SetKeys(keys[:mid]); err != nil {
		return 0, err
	}
	if err := bp.SetValues(values[:mid]); err != nil {
		return 0, err
	}

	oldNext := bp.Next()
	newBP.SetNext(oldNext)
	newBP.SetPrev(bp.Page().ID)
	bp.SetNext(newBP.Page().ID)

	if oldNext != storage.InvalidPageID {
		if err := t.touch(oldNext, txnID); err != nil {
			return 0, err
		}
		neighborFrame, err := t.bufferPool.FetchFrame(oldNext, txnID)
		if err != nil {
			return 0, fmt.Errorf("index: relink leaf neighbor %d: %w", oldNext, err)
		}
		neighbor := storage.LoadBTreePage(neighborFrame.Page())
		neighbor.SetPrev(newBP.Page().ID)
		if err := t.bufferPool.Unpin(oldNext, txnID); err != nil {
			return 0, err
		}
	}

	return median, nil
}

// splitInner divides bp's entries between bp and the freshly allocated
// newBP: the median key is promoted to the parent and kept in neither
// half, while its matching child pointer moves to the new node.
func (t *BPlusTree) splitInner(bp, newBP *storage.BTreePage) (uint32, error) {
	keys := bp.Keys()
	values := bp.Values()
	mid := len(keys) / 2
	median := keys[mid]

	if err := newBP.SetKeys(keys[mid+1:]); err != nil {
		return 0, err
	}
	if err := newBP.SetValues(values[mid+1:]); err != nil {
		return 0, err
	}
	if err := bp.SetKeys(keys[:mid]); err != nil {
		return 0, err
	}
	if err := bp.SetValues(values[:mid+1]); err != nil {
		return 0, err
	}

	return median, nil
}

// insertIntoPage recursively descends to the leaf that should hold key,
// inserting it and splitting nodes (propagating a promoted key upward)
// as needed. A nil *splitResult means the insert completed without the
// caller's child changing shape.
func (t *BPlusTree) insertIntoPage(pageID storage.PageID, key uint32, value storage.BTreeValue, txnID *storage.TxnID) (*splitResult, error) {
	if err := t.touch(pageID, txnID); err != nil {
		return nil, err
	}
	frame, err := t.bufferPool.FetchFrame(pageID, txnID)
	if err != nil {
		return nil, fmt.Errorf("index: fetch page %d: %w", pageID, err)
	}
	bp := storage.LoadBTreePage(frame.Page())

	if bp.PageType() == storage.BTreePageLeaf {
		if !bp.IsFull() {
			insErr := insertIntoNode(bp, key, value)
			if uerr := t.bufferPool.Unpin(pageID, txnID); uerr != nil {
				return nil, uerr
			}
			return nil, insErr
		}

		newFrame, err := t.bufferPool.NewPage()
		if err != nil {
			_ = t.bufferPool.Unpin(pageID, txnID)
			return nil, fmt.Errorf("index: allocate split leaf: %w", err)
		}
		newBP := storage.NewBTreePage(newFrame.Page(), storage.BTreePageLeaf)
		newID := newBP.Page().ID

		median, err := t.splitLeaf(bp, newBP, txnID)
		if err != nil {
			_ = t.bufferPool.Unpin(pageID, txnID)
			_ = t.bufferPool.Unpin(newID, txnID)
			return nil, err
		}

		target := bp
		if key >= median {
			target = newBP
		}
		if err := insertIntoNode(target, key, value); err != nil {
			_ = t.bufferPool.Unpin(pageID, txnID)
			_ = t.bufferPool.Unpin(newID, txnID)
			return nil, err
		}

		if err := t.bufferPool.Unpin(pageID, txnID); err != nil {
			return nil, err
		}
		if err := t.bufferPool.Unpin(newID, txnID); err != nil {
			return nil, err
		}
		return &splitResult{Key: median, NewPageID: newID}, nil
	}

	idx := childIndex(bp.Keys(), key)
	childID := storage.DecodeInnerValue(bp.Values()[idx])

	childSplit, err := t.insertIntoPage(childID, key, value, txnID)
	if err != nil {
		_ = t.bufferPool.Unpin(pageID, txnID)
		return nil, err
	}
	if childSplit == nil {
		if err := t.bufferPool.Unpin(pageID, txnID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	promotedValue := storage.EncodeInnerValue(childSplit.NewPageID)

	if !bp.IsFull() {
		if err := insertIntoNode(bp, childSplit.Key, promotedValue); err != nil {
			_ = t.bufferPool.Unpin(pageID, txnID)
			return nil, err
		}
		if err := t.bufferPool.Unpin(pageID, txnID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	newFrame, err := t.bufferPool.NewPage()
	if err != nil {
		_ = t.bufferPool.Unpin(pageID, txnID)
		return nil, fmt.Errorf("index: allocate split inner: %w", err)
	}
	newBP := storage.NewBTreePage(newFrame.Page(), storage.BTreePageInner)
	newID := newBP.Page().ID

	median, err := t.splitInner(bp, newBP)
	if err != nil {
		_ = t.bufferPool.Unpin(pageID, txnID)
		_ = t.bufferPool.Unpin(newID, txnID)
		return nil, err
	}

	target := bp
	if childSplit.Key >= median {
		target = newBP
	}
	if err := insertIntoNode(target, childSplit.Key, promotedValue); err != nil {
		_ = t.bufferPool.Unpin(pageID, txnID)
		_ = t.bufferPool.Unpin(newID, txnID)
		return nil, err
	}

	if err := t.bufferPool.Unpin(pageID, txnID); err != nil {
		return nil, err
	}
	if err := t.bufferPool.Unpin(newID, txnID); err != nil {
		return nil, err
	}
	return &splitResult{Key: median, NewPageID: newID}, nil
}

// Insert adds key -> (pageID, slot) to the index. If the root splits,
// a fresh inner root is created above the two halves.
func (t *BPlusTree) Insert(key uint32, pageID storage.PageID, slot storage.SlotID, txnID *storage.TxnID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	value := storage.EncodeLeafValue(pageID, slot)
	split, err := t.insertIntoPage(t.rootPageID, key, value, txnID)
	if err != nil {
		return err
	}
	if split == nil {
		return nil
	}

	newRootFrame, err := t.bufferPool.NewPage()
	if err != nil {
		return fmt.Errorf("index: allocate new root: %w", err)
	}
	newRoot := storage.NewBTreePage(newRootFrame.Page(), storage.BTreePageInner)
	if err := newRoot.SetKeys([]uint32{split.Key}); err != nil {
		return err
	}
	if err := newRoot.SetValues([]storage.BTreeValue{
		storage.EncodeInnerValue(t.rootPageID),
		storage.EncodeInnerValue(split.NewPageID),
	}); err != nil {
		return err
	}
	newRootID := newRoot.Page().ID
	if err := t.bufferPool.Unpin(newRootID, txnID); err != nil {
		return err
	}
	t.rootPageID = newRootID
	return nil
}

// Search returns the tuple-id stored under key, or ErrKeyNotFound.
func (t *BPlusTree) Search(key uint32, txnID *storage.TxnID) (storage.PageID, storage.SlotID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pageID := t.rootPageID
	for {
		if err := t.touch(pageID, txnID); err != nil {
			return storage.InvalidPageID, 0, err
		}
		latch := t.readLatch(pageID, txnID)
		frame, err := t.bufferPool.FetchFrame(pageID, txnID)
		if err != nil {
			if latch != nil {
				latch.RUnlock()
			}
			return storage.InvalidPageID, 0, fmt.Errorf("index: fetch page %d: %w", pageID, err)
		}
		bp := storage.LoadBTreePage(frame.Page())

		if bp.PageType() == storage.BTreePageLeaf {
			pos, found := searchPos(bp.Keys(), key)
			err := t.bufferPool.Unpin(pageID, txnID)
			if latch != nil {
				latch.RUnlock()
			}
			if err != nil {
				return storage.InvalidPageID, 0, err
			}
			if !found {
				return storage.InvalidPageID, 0, ErrKeyNotFound
			}
			pid, slot := storage.DecodeLeafValue(bp.Values()[pos])
			return pid, slot, nil
		}

		idx := childIndex(bp.Keys(), key)
		childID := storage.DecodeInnerValue(bp.Values()[idx])
		err = t.bufferPool.Unpin(pageID, txnID)
		if latch != nil {
			latch.RUnlock()
		}
		if err != nil {
			return storage.InvalidPageID, 0, err
		}
		pageID = childID
	}
}
