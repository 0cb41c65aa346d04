// Package txn implements shadow-page transaction isolation on top of a
// storage.BufferPool: every page a transaction touches is copied into a
// private shadow frame, and that shadow atomically replaces the base
// page in the buffer pool's page table at commit.
package txn

import (
	"fmt"
	"sync"

	"github.com/mnohosten/laura-db/pkg/storage"
)

// TxnID identifies a transaction. It is storage.TxnID under the hood so
// the buffer pool's shadow-frame bookkeeping and the manager here agree
// on one id space without pkg/storage importing this package.
type TxnID = storage.TxnID

// Manager hands out transaction ids and tracks, for each active
// transaction, the pages it has touched and the latches it holds on
// them. At most one transaction may hold a page (via touch_page) at a
// time; a second transaction touching the same page is rejected with
// ErrPageLocked rather than blocking, matching the original engine's
// page-level locking model.
type Manager struct {
	mu          sync.Mutex
	nextTxnID   TxnID
	bufferPool  *storage.BufferPool
	lockedPages map[TxnID][]storage.PageID
}

// NewManager creates a transaction manager backed by pool.
func NewManager(pool *storage.BufferPool) *Manager {
	return &Manager{
		bufferPool:  pool,
		lockedPages: make(map[TxnID][]storage.PageID),
	}
}

// Start begins a new transaction and returns its id.
func (m *Manager) Start() TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextTxnID
	m.nextTxnID++
	m.lockedPages[id] = nil
	return id
}

// isLockedByOther reports whether some transaction other than txnID has
// already touched pageID. Must be called with mu held.
func (m *Manager) isLockedByOther(txnID TxnID, pageID storage.PageID) bool {
	for id, pages := range m.lockedPages {
		if id == txnID {
			continue
		}
		for _, p := range pages {
			if p == pageID {
				return true
			}
		}
	}
	return false
}

// TouchPage records that txnID intends to read or write pageID, creating
// a private shadow copy of the page for the transaction on first touch.
// The page's latch is acquired in upgradable-shared mode and held until
// Commit or Abort. A second touch of the same page by the same
// transaction is a no-op; a touch by a different transaction while the
// page is already locked fails with ErrPageLocked.
func (m *Manager) TouchPage(txnID TxnID, pageID storage.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages, ok := m.lockedPages[txnID]
	if !ok {
		return fmt.Errorf("touch page %d: %w", pageID, ErrInvalidTxn)
	}

	for _, p := range pages {
		if p == pageID {
			return nil
		}
	}
	if m.isLockedByOther(txnID, pageID) {
		return fmt.Errorf("touch page %d: %w", pageID, ErrPageLocked)
	}

	latch := m.bufferPool.Latch(pageID)
	latch.UpgradableRLock()

	if _, err := m.bufferPool.CreateShadow(pageID, txnID); err != nil {
		latch.ReleaseUpgradable()
		return fmt.Errorf("touch page %d: %w", pageID, err)
	}

	m.lockedPages[txnID] = append(pages, pageID)
	return nil
}

// Commit publishes every page txnID has shadowed, upgrading each page's
// latch to exclusive for the page-table swap and releasing it once
// published.
func (m *Manager) Commit(txnID TxnID) error {
	m.mu.Lock()
	pages, ok := m.lockedPages[txnID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("commit: %w", ErrInvalidTxn)
	}
	delete(m.lockedPages, txnID)
	m.mu.Unlock()

	for _, pageID := range pages {
		latch := m.bufferPool.Latch(pageID)
		latch.UpgradeToExclusive()

		if err := m.bufferPool.PublishShadow(pageID, txnID); err != nil {
			latch.WUnlock()
			return fmt.Errorf("commit page %d: %w", pageID, err)
		}
		latch.WUnlock()
	}

	return nil
}

// Abort discards every shadow txnID has created and releases its
// latches without upgrading them.
func (m *Manager) Abort(txnID TxnID) error {
	m.mu.Lock()
	pages, ok := m.lockedPages[txnID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("abort: %w", ErrInvalidTxn)
	}
	delete(m.lockedPages, txnID)
	m.mu.Unlock()

	var firstErr error
	for _, pageID := range pages {
		latch := m.bufferPool.Latch(pageID)
		if err := m.bufferPool.DiscardShadow(pageID, txnID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("abort page %d: %w", pageID, err)
		}
		latch.ReleaseUpgradable()
	}

	return firstErr
}

// TouchedPages returns the pages txnID currently holds, for use by
// callers (e.g. the table/index layers) that need to know which shadow
// to address. The returned slice is a copy.
func (m *Manager) TouchedPages(txnID TxnID) []storage.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := m.lockedPages[txnID]
	out := make([]storage.PageID, len(pages))
	copy(out, pages)
	return out
}
