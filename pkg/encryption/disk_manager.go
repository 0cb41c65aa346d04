package encryption

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/mnohosten/laura-db/pkg/storage"
)

// EncryptedDiskManager wraps a storage.DiskManager with transparent
// page-level encryption. Pages are a fixed 4096 bytes with no spare
// header room for an authentication tag, so page-level encryption uses
// AES-256-CTR (a stream cipher: ciphertext is exactly as long as
// plaintext) rather than AES-256-GCM, which NewEncryptedDiskManager rejects.
// The IV is derived deterministically from the page id and a
// configured salt rather than stored per page, since there is no room
// to store one.
type EncryptedDiskManager struct {
	diskMgr   *storage.DiskManager
	encryptor *Encryptor
}

// NewEncryptedDiskManager opens path through a plain DiskManager and
// wraps it with the given encryption configuration.
//
// A brand-new data file is bootstrapped by the plain disk manager, so
// its catalog root starts out in plaintext; the constructor rewrites
// that page through the encrypting path before returning. The
// next-page-id counter page is exempt: it is only ever accessed
// through the plain AllocateNextPageID path and holds an allocation
// counter, not user data, so it stays unencrypted.
func NewEncryptedDiskManager(path string, config *Config) (*EncryptedDiskManager, error) {
	fresh := false
	if info, err := os.Stat(path); os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		fresh = true
	}

	diskMgr, err := storage.NewDiskManager(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk manager: %w", err)
	}

	encryptor, err := NewEncryptor(config)
	if err != nil {
		diskMgr.Close()
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	if encryptor.config.Algorithm == AlgorithmAES256GCM {
		diskMgr.Close()
		return nil, fmt.Errorf("AES-256-GCM has no room for its auth tag at fixed page size; use AES-256-CTR for page encryption")
	}

	edm := &EncryptedDiskManager{
		diskMgr:   diskMgr,
		encryptor: encryptor,
	}

	if fresh && encryptor.config.Algorithm != AlgorithmNone {
		root, err := diskMgr.ReadPage(storage.CatalogRootPageID)
		if err != nil {
			diskMgr.Close()
			return nil, fmt.Errorf("failed to read bootstrapped catalog root: %w", err)
		}
		if err := edm.WritePage(root); err != nil {
			diskMgr.Close()
			return nil, fmt.Errorf("failed to encrypt bootstrapped catalog root: %w", err)
		}
	}

	return edm, nil
}

// pageIV derives a per-page CTR initialization vector from the page id
// and the encryptor's salt, so no IV needs to be stored alongside the
// ciphertext.
func (edm *EncryptedDiskManager) pageIV(pageID storage.PageID) []byte {
	h := sha256.New()
	h.Write(edm.encryptor.config.Salt)
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(int32(pageID)))
	h.Write(idBuf[:])
	sum := h.Sum(nil)
	return sum[:16]
}

// ReadPage reads and, if encryption is enabled, decrypts a page.
func (edm *EncryptedDiskManager) ReadPage(pageID storage.PageID) (*storage.Page, error) {
	page, err := edm.diskMgr.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	if edm.encryptor.config.Algorithm == AlgorithmNone {
		return page, nil
	}

	plaintext, err := edm.encryptor.decryptCTRWithIV(page.Data, edm.pageIV(pageID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt page %d: %w", pageID, err)
	}
	page.Data = plaintext
	return page, nil
}

// WritePage encrypts, if enabled, and writes a page to disk. The
// original page's Data is left untouched; a ciphertext copy is what
// reaches the disk manager.
func (edm *EncryptedDiskManager) WritePage(page *storage.Page) error {
	if edm.encryptor.config.Algorithm == AlgorithmNone {
		return edm.diskMgr.WritePage(page)
	}

	ciphertext, err := edm.encryptor.encryptCTRWithIV(page.Data, edm.pageIV(page.ID))
	if err != nil {
		return fmt.Errorf("failed to encrypt page %d: %w", page.ID, err)
	}

	encrypted := &storage.Page{ID: page.ID, Data: ciphertext, IsDirty: page.IsDirty}
	return edm.diskMgr.WritePage(encrypted)
}

// AllocateNextPageID allocates a new page id via the underlying disk
// manager's persistent counter.
func (edm *EncryptedDiskManager) AllocateNextPageID() (storage.PageID, error) {
	return edm.diskMgr.AllocateNextPageID()
}

// Sync flushes the backing file.
func (edm *EncryptedDiskManager) Sync() error {
	return edm.diskMgr.Sync()
}

// Close flushes and closes the backing file.
func (edm *EncryptedDiskManager) Close() error {
	return edm.diskMgr.Close()
}

// Stats returns disk manager diagnostics annotated with encryption state.
func (edm *EncryptedDiskManager) Stats() map[string]interface{} {
	stats := edm.diskMgr.Stats()
	stats["encryption_algorithm"] = edm.encryptor.config.Algorithm.String()
	stats["encryption_enabled"] = edm.encryptor.config.Algorithm != AlgorithmNone
	return stats
}

// GetEncryptor returns the underlying encryptor.
func (edm *EncryptedDiskManager) GetEncryptor() *Encryptor {
	return edm.encryptor
}
