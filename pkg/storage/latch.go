package storage

import "sync"

// Latch is a per-page read-write lock supporting four modes: shared,
// exclusive, upgradable-shared, and upgrade-to-exclusive. At most one
// holder may be upgradable at a time; upgradable coexists with shared
// readers but not with an exclusive holder. Go's sync.RWMutex has no
// upgrade primitive, so this is hand-rolled on a mutex and condition
// variable, grounded in the upgradable-lock discipline the transaction
// manager requires.
type Latch struct {
	mu         sync.Mutex
	cond       *sync.Cond
	readers    int
	upgradable bool
	upgrading  bool
	exclusive  bool
}

// NewLatch returns an unlocked latch.
func NewLatch() *Latch {
	l := &Latch{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// RLock acquires a shared latch, blocking while the latch is held
// exclusively or an upgrade is draining readers. Blocking new readers
// during a drain is what makes the upgrade's progress guaranteed.
func (l *Latch) RLock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.exclusive || l.upgrading {
		l.cond.Wait()
	}
	l.readers++
}

// RUnlock releases a shared latch.
func (l *Latch) RUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readers > 0 {
		l.readers--
	}
	l.cond.Broadcast()
}

// TryWLock attempts to acquire the latch exclusively without blocking.
// It fails if any reader, upgradable holder, or exclusive holder is
// present.
func (l *Latch) TryWLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exclusive || l.upgradable || l.readers > 0 {
		return false
	}
	l.exclusive = true
	return true
}

// WLock acquires the latch exclusively, blocking until no reader,
// upgradable holder, or exclusive holder remains.
func (l *Latch) WLock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.exclusive || l.upgradable || l.readers > 0 {
		l.cond.Wait()
	}
	l.exclusive = true
}

// WUnlock releases an exclusive latch.
func (l *Latch) WUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exclusive = false
	l.cond.Broadcast()
}

// UpgradableRLock acquires the upgradable-shared latch, blocking while
// another holder is upgradable or exclusive. Shared readers may still
// come and go while this is held.
func (l *Latch) UpgradableRLock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.upgradable || l.exclusive {
		l.cond.Wait()
	}
	l.upgradable = true
}

// UpgradeToExclusive converts the caller's upgradable hold into an
// exclusive one, blocking until all shared readers have drained. The
// caller must currently hold the upgradable latch; on return it holds
// the exclusive latch instead and must release it with WUnlock.
func (l *Latch) UpgradeToExclusive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.upgrading = true
	for l.readers > 0 {
		l.cond.Wait()
	}
	l.upgrading = false
	l.upgradable = false
	l.exclusive = true
}

// ReleaseUpgradable releases the upgradable latch without upgrading it
// (the abort path).
func (l *Latch) ReleaseUpgradable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.upgradable = false
	l.cond.Broadcast()
}

// IsLocked reports whether any reader, upgradable holder, or exclusive
// holder currently holds the latch.
func (l *Latch) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exclusive || l.upgradable || l.readers > 0
}
