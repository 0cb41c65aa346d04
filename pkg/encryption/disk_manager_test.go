package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mnohosten/laura-db/pkg/storage"
)

func newTestDBPath(t *testing.T, name string) string {
	t.Helper()
	dataDir := filepath.Join(os.TempDir(), name)
	os.RemoveAll(dataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("failed to create test dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dataDir) })
	return filepath.Join(dataDir, "test.db")
}

func TestEncryptedDiskManager_RoundTrip(t *testing.T) {
	dataPath := newTestDBPath(t, "test-encrypted-roundtrip")

	config, err := NewConfigFromPassword("test-password", AlgorithmAES256CTR)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	edm, err := NewEncryptedDiskManager(dataPath, config)
	if err != nil {
		t.Fatalf("failed to create encrypted disk manager: %v", err)
	}
	defer edm.Close()

	pageID, err := edm.AllocateNextPageID()
	if err != nil {
		t.Fatalf("failed to allocate page id: %v", err)
	}

	page := storage.NewPage(pageID)
	copy(page.Data, []byte("secret tuple payload"))

	if err := edm.WritePage(page); err != nil {
		t.Fatalf("WritePage() error = %v", err)
	}

	readBack, err := edm.ReadPage(pageID)
	if err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if !bytes.Equal(readBack.Data, page.Data) {
		t.Errorf("round-tripped page data mismatch")
	}
}

func TestEncryptedDiskManager_CiphertextDiffersOnDisk(t *testing.T) {
	dataPath := newTestDBPath(t, "test-encrypted-ciphertext")

	config, err := NewConfigFromPassword("test-password", AlgorithmAES256CTR)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	edm, err := NewEncryptedDiskManager(dataPath, config)
	if err != nil {
		t.Fatalf("failed to create encrypted disk manager: %v", err)
	}

	pageID, err := edm.AllocateNextPageID()
	if err != nil {
		t.Fatalf("failed to allocate page id: %v", err)
	}
	page := storage.NewPage(pageID)
	copy(page.Data, []byte("plaintext marker"))
	if err := edm.WritePage(page); err != nil {
		t.Fatalf("WritePage() error = %v", err)
	}
	edm.Close()

	plainMgr, err := storage.NewDiskManager(dataPath)
	if err != nil {
		t.Fatalf("failed to reopen plain disk manager: %v", err)
	}
	defer plainMgr.Close()

	raw, err := plainMgr.ReadPage(pageID)
	if err != nil {
		t.Fatalf("failed to read raw page: %v", err)
	}
	if bytes.Equal(raw.Data[:len("plaintext marker")], []byte("plaintext marker")) {
		t.Errorf("on-disk page should not contain the plaintext marker")
	}
}

func TestEncryptedDiskManager_Stats(t *testing.T) {
	tests := []struct {
		name                string
		algorithm           Algorithm
		wantEnabled         bool
		wantAlgorithmString string
	}{
		{"CTR encryption", AlgorithmAES256CTR, true, "AES-256-CTR"},
		{"no encryption", AlgorithmNone, false, "None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataPath := newTestDBPath(t, "test-stats-"+tt.name)

			config, err := NewConfigFromPassword("test-password", tt.algorithm)
			if err != nil {
				t.Fatalf("failed to create config: %v", err)
			}

			edm, err := NewEncryptedDiskManager(dataPath, config)
			if err != nil {
				t.Fatalf("failed to create encrypted disk manager: %v", err)
			}
			defer edm.Close()

			stats := edm.Stats()
			if stats == nil {
				t.Fatal("Stats() returned nil")
			}

			algorithmStr, ok := stats["encryption_algorithm"].(string)
			if !ok || algorithmStr != tt.wantAlgorithmString {
				t.Errorf("Stats() encryption_algorithm = %v, want %v", algorithmStr, tt.wantAlgorithmString)
			}

			enabled, ok := stats["encryption_enabled"].(bool)
			if !ok || enabled != tt.wantEnabled {
				t.Errorf("Stats() encryption_enabled = %v, want %v", enabled, tt.wantEnabled)
			}
		})
	}
}

func TestEncryptedDiskManager_GetEncryptor(t *testing.T) {
	dataPath := newTestDBPath(t, "test-get-encryptor")

	config, err := NewConfigFromPassword("test-password", AlgorithmAES256CTR)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	edm, err := NewEncryptedDiskManager(dataPath, config)
	if err != nil {
		t.Fatalf("failed to create encrypted disk manager: %v", err)
	}
	defer edm.Close()

	encryptor := edm.GetEncryptor()
	if encryptor == nil {
		t.Fatal("GetEncryptor() returned nil")
	}
	if encryptor.GetConfig().Algorithm != config.Algorithm {
		t.Errorf("GetEncryptor() algorithm = %v, want %v", encryptor.GetConfig().Algorithm, config.Algorithm)
	}
}

func TestEncryptedDiskManager_RejectsGCM(t *testing.T) {
	dataPath := newTestDBPath(t, "test-reject-gcm")

	config, err := NewConfigFromPassword("test-password", AlgorithmAES256GCM)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	_, err = NewEncryptedDiskManager(dataPath, config)
	if err == nil {
		t.Error("NewEncryptedDiskManager() expected error for GCM at fixed page size, got nil")
	}
}

func TestEncryptedDiskManager_InvalidConfig(t *testing.T) {
	dataPath := newTestDBPath(t, "test-invalid-config")

	config := &Config{
		Algorithm: AlgorithmAES256CTR,
		Key:       []byte("short"),
	}

	_, err := NewEncryptedDiskManager(dataPath, config)
	if err == nil {
		t.Error("NewEncryptedDiskManager() expected error with invalid key length, got nil")
	}
}
