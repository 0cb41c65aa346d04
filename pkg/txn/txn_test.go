package txn

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnohosten/laura-db/pkg/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.BufferPool) {
	t.Helper()
	dir := t.TempDir()
	dm, err := storage.NewDiskManager(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDiskManager() error = %v", err)
	}
	t.Cleanup(func() { dm.Close() })

	pool := storage.NewBufferPool(16, dm)
	return NewManager(pool), pool
}

func TestManagerStartAssignsDistinctIDs(t *testing.T) {
	mgr, _ := newTestManager(t)

	t1 := mgr.Start()
	t2 := mgr.Start()
	if t1 == t2 {
		t.Errorf("Start() returned duplicate ids: %d, %d", t1, t2)
	}
}

func TestTouchPageCreatesShadowAndCommitPublishes(t *testing.T) {
	mgr, pool := newTestManager(t)

	frame, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}
	pageID := frame.Page().ID
	pool.Unpin(pageID, nil)

	txnID := mgr.Start()
	if err := mgr.TouchPage(txnID, pageID); err != nil {
		t.Fatalf("TouchPage() error = %v", err)
	}

	shadow, err := pool.FetchFrame(pageID, &txnID)
	if err != nil {
		t.Fatalf("FetchFrame(shadow) error = %v", err)
	}
	copy(shadow.Page().Data, []byte("committed value"))
	shadow.Page().MarkDirty()
	pool.Unpin(pageID, &txnID)

	if err := mgr.Commit(txnID); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	base, err := pool.FetchFrame(pageID, nil)
	if err != nil {
		t.Fatalf("FetchFrame(base) error = %v", err)
	}
	defer pool.Unpin(pageID, nil)
	if string(base.Page().Data[:len("committed value")]) != "committed value" {
		t.Errorf("committed page does not reflect the shadow's writes")
	}
}

func TestTouchPageRejectsConcurrentTransaction(t *testing.T) {
	mgr, pool := newTestManager(t)

	frame, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}
	pageID := frame.Page().ID
	pool.Unpin(pageID, nil)

	t1 := mgr.Start()
	t2 := mgr.Start()

	if err := mgr.TouchPage(t1, pageID); err != nil {
		t.Fatalf("TouchPage(t1) error = %v", err)
	}

	err = mgr.TouchPage(t2, pageID)
	if !errors.Is(err, ErrPageLocked) {
		t.Fatalf("TouchPage(t2) error = %v, want ErrPageLocked", err)
	}

	if err := mgr.Abort(t1); err != nil {
		t.Fatalf("Abort(t1) error = %v", err)
	}

	if err := mgr.TouchPage(t2, pageID); err != nil {
		t.Errorf("TouchPage(t2) after abort error = %v", err)
	}
}

func TestAbortDiscardsShadow(t *testing.T) {
	mgr, pool := newTestManager(t)

	frame, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}
	pageID := frame.Page().ID
	pool.Unpin(pageID, nil)

	txnID := mgr.Start()
	if err := mgr.TouchPage(txnID, pageID); err != nil {
		t.Fatalf("TouchPage() error = %v", err)
	}

	shadow, err := pool.FetchFrame(pageID, &txnID)
	if err != nil {
		t.Fatalf("FetchFrame(shadow) error = %v", err)
	}
	copy(shadow.Page().Data, []byte("should not persist"))
	shadow.Page().MarkDirty()
	pool.Unpin(pageID, &txnID)

	if err := mgr.Abort(txnID); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	base, err := pool.FetchFrame(pageID, nil)
	if err != nil {
		t.Fatalf("FetchFrame(base) error = %v", err)
	}
	defer pool.Unpin(pageID, nil)
	if string(base.Page().Data[:len("should not persist")]) == "should not persist" {
		t.Errorf("aborted transaction's writes leaked into the base page")
	}
}

func TestCommitUnknownTxnFails(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.Commit(TxnID(999))
	if !errors.Is(err, ErrInvalidTxn) {
		t.Fatalf("Commit() error = %v, want ErrInvalidTxn", err)
	}
}

func TestTouchPageUnknownTxnFails(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.TouchPage(TxnID(999), storage.PageID(0))
	if !errors.Is(err, ErrInvalidTxn) {
		t.Fatalf("TouchPage() error = %v, want ErrInvalidTxn", err)
	}
}

func TestCommitWaitsForBaseReaders(t *testing.T) {
	mgr, pool := newTestManager(t)

	frame, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}
	pageID := frame.Page().ID
	pool.Unpin(pageID, nil)

	txnID := mgr.Start()
	if err := mgr.TouchPage(txnID, pageID); err != nil {
		t.Fatalf("TouchPage() error = %v", err)
	}

	// A non-transactional reader holds the page's shared latch, the way
	// every base-page read path does while it holds a pin.
	latch := pool.Latch(pageID)
	latch.RLock()

	done := make(chan error, 1)
	go func() { done <- mgr.Commit(txnID) }()

	select {
	case <-done:
		t.Fatal("Commit() returned while a reader still held the shared latch")
	case <-time.After(50 * time.Millisecond):
	}

	latch.RUnlock()
	if err := <-done; err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	base, err := pool.FetchFrame(pageID, nil)
	if err != nil {
		t.Fatalf("FetchFrame() after commit: error = %v", err)
	}
	defer pool.Unpin(pageID, nil)
	if base.Page() == nil {
		t.Fatal("base frame has no page after commit")
	}
}
