// Package engine wires the storage core's pieces (disk manager, buffer
// pool, transaction manager, catalog) into one constructible handle,
// with an optional page-encryption and blob-compression layer underneath.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mnohosten/laura-db/pkg/catalog"
	"github.com/mnohosten/laura-db/pkg/compression"
	"github.com/mnohosten/laura-db/pkg/encryption"
	"github.com/mnohosten/laura-db/pkg/index"
	"github.com/mnohosten/laura-db/pkg/storage"
	"github.com/mnohosten/laura-db/pkg/table"
	"github.com/mnohosten/laura-db/pkg/txn"
)

// pageStore is the subset of *storage.DiskManager's and
// *encryption.EncryptedDiskManager's methods StorageEngine needs beyond
// storage.PageStore, so either can back it interchangeably.
type pageStore interface {
	storage.PageStore
	Sync() error
	Close() error
	Stats() map[string]interface{}
}

// Config controls how a StorageEngine is constructed.
type Config struct {
	DataDir        string
	BufferPoolSize int

	// Encryption, if non-nil and not encryption.AlgorithmNone, wraps the
	// disk manager with transparent page-level encryption.
	Encryption *encryption.Config

	// Compression, if non-nil, compresses blob payloads (externalized
	// strings) before they are chained into a table's blob pages.
	Compression *compression.Config
}

// DefaultConfig returns a configuration with a 1000-page buffer pool and
// no encryption or compression.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		BufferPoolSize: 1000,
	}
}

// StorageEngine owns the full storage stack for one data directory: a
// page store (plain or encrypted), a buffer pool over it, a shadow-page
// transaction manager, and the catalog of user tables.
type StorageEngine struct {
	mu      sync.RWMutex
	dataDir string
	isOpen  bool

	store      pageStore
	bufferPool *storage.BufferPool
	txnManager *txn.Manager
	catalog    *catalog.Catalog
}

// NewStorageEngine opens (creating if necessary) the data file at
// config.DataDir and assembles the storage stack above it.
func NewStorageEngine(config *Config) (*StorageEngine, error) {
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create data directory: %w", err)
	}
	dataPath := filepath.Join(config.DataDir, "data.db")

	var store pageStore
	if config.Encryption != nil && config.Encryption.Algorithm != encryption.AlgorithmNone {
		edm, err := encryption.NewEncryptedDiskManager(dataPath, config.Encryption)
		if err != nil {
			return nil, fmt.Errorf("engine: open encrypted disk manager: %w", err)
		}
		store = edm
	} else {
		dm, err := storage.NewDiskManager(dataPath)
		if err != nil {
			return nil, fmt.Errorf("engine: open disk manager: %w", err)
		}
		store = dm
	}

	bufferPoolSize := config.BufferPoolSize
	if bufferPoolSize <= 0 {
		bufferPoolSize = 1000
	}
	bufferPool := storage.NewBufferPool(bufferPoolSize, store)
	txnManager := txn.NewManager(bufferPool)

	tableCfg := &table.Config{TxnManager: txnManager}
	if config.Compression != nil {
		compressor, err := compression.NewBlobCompressor(config.Compression)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("engine: create blob compressor: %w", err)
		}
		tableCfg.Compressor = compressor
	}

	cat, err := catalog.Open(bufferPool, tableCfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: open catalog: %w", err)
	}

	return &StorageEngine{
		dataDir:    config.DataDir,
		isOpen:     true,
		store:      store,
		bufferPool: bufferPool,
		txnManager: txnManager,
		catalog:    cat,
	}, nil
}

// BufferPool returns the engine's buffer pool.
func (se *StorageEngine) BufferPool() *storage.BufferPool {
	return se.bufferPool
}

// TxnManager returns the engine's transaction manager.
func (se *StorageEngine) TxnManager() *txn.Manager {
	return se.txnManager
}

// Catalog returns the engine's table catalog.
func (se *StorageEngine) Catalog() *catalog.Catalog {
	return se.catalog
}

// NewContext returns a fresh execution context enlisting this engine's
// transaction manager.
func (se *StorageEngine) NewContext() *Context {
	return &Context{engine: se}
}

// closed reports whether Close has already run.
func (se *StorageEngine) closed() bool {
	se.mu.RLock()
	defer se.mu.RUnlock()
	return !se.isOpen
}

// NewIndex allocates a fresh B+-tree index over the engine's buffer pool
// and transaction manager.
func (se *StorageEngine) NewIndex() (*index.BPlusTree, error) {
	if se.closed() {
		return nil, ErrEngineClosed
	}
	return index.NewBPlusTree(se.bufferPool, se.txnManager)
}

// LoadIndex resumes a B+-tree index whose root already exists on disk,
// e.g. one whose root page id was itself stored as a catalog entry.
func (se *StorageEngine) LoadIndex(rootPageID storage.PageID) *index.BPlusTree {
	return index.LoadBPlusTree(se.bufferPool, se.txnManager, rootPageID)
}

// Close flushes all dirty pages and closes the backing store. Further
// NewIndex calls and transaction operations on any Context return
// ErrEngineClosed.
func (se *StorageEngine) Close() error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if !se.isOpen {
		return nil
	}
	if err := se.bufferPool.FlushAll(); err != nil {
		return fmt.Errorf("engine: flush pages on close: %w", err)
	}
	if err := se.store.Close(); err != nil {
		return fmt.Errorf("engine: close disk manager: %w", err)
	}
	se.isOpen = false
	return nil
}

// Stats returns buffer pool and disk manager diagnostics.
func (se *StorageEngine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"buffer_pool": se.bufferPool.Stats(),
		"disk":        se.store.Stats(),
	}
}
