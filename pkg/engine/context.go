package engine

import (
	"fmt"

	"github.com/mnohosten/laura-db/pkg/storage"
)

// Context is the thin wrapper by which execution enlists the engine's
// transaction manager: it holds at most one active transaction id at a
// time and hands it to table/index operations that accept a *TxnID.
type Context struct {
	engine *StorageEngine
	txnID  *storage.TxnID
}

// StartTxn begins a new transaction on the context's engine. Calling it
// again before Commit or Rollback replaces the active transaction id
// without affecting the still-open one; callers are expected to commit
// or roll back before starting another.
func (c *Context) StartTxn() error {
	if c.engine.closed() {
		return ErrEngineClosed
	}
	id := c.engine.txnManager.Start()
	c.txnID = &id
	return nil
}

// TxnID returns the id of the context's active transaction, or nil if
// none has been started. Pass this directly to table/index operations
// that take a *storage.TxnID.
func (c *Context) TxnID() *storage.TxnID {
	return c.txnID
}

// CommitTxn publishes every page the active transaction has touched and
// clears it from the context.
func (c *Context) CommitTxn() error {
	if c.engine.closed() {
		return ErrEngineClosed
	}
	if c.txnID == nil {
		return fmt.Errorf("engine: commit: no active transaction")
	}
	if err := c.engine.txnManager.Commit(*c.txnID); err != nil {
		return fmt.Errorf("engine: commit transaction: %w", err)
	}
	c.txnID = nil
	return nil
}

// RollbackTxn discards every shadow the active transaction has created
// and clears it from the context.
func (c *Context) RollbackTxn() error {
	if c.engine.closed() {
		return ErrEngineClosed
	}
	if c.txnID == nil {
		return fmt.Errorf("engine: rollback: no active transaction")
	}
	if err := c.engine.txnManager.Abort(*c.txnID); err != nil {
		return fmt.Errorf("engine: rollback transaction: %w", err)
	}
	c.txnID = nil
	return nil
}
