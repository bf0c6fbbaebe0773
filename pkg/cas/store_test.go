package cas

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

func setupTestDB(t *testing.T) *pebble.DB {
	t.Helper()

	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustPut(tb testing.TB, store *CASStore, data []byte) string {
	tb.Helper()
	cid, err := store.Put(data)
	if err != nil {
		tb.Fatalf("store.Put error: %v", err)
	}
	return cid
}

func TestNewCASStore(t *testing.T) {
	db := setupTestDB(t)

	store, err := NewCASStore(db, "sha256")
	if err != nil {
		t.Fatalf("NewCASStore() error = %v", err)
	}
	if store.hashAlgo != "sha256" {
		t.Errorf("Expected hash algo 'sha256', got '%s'", store.hashAlgo)
	}

	if _, err := NewCASStore(db, "md5"); err == nil {
		t.Error("Expected error for unsupported hash algorithm")
	}
	if _, err := NewCASStore(nil, "sha256"); err == nil {
		t.Error("Expected error for nil database")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, algo := range []string{"sha256", "blake3"} {
		t.Run(algo, func(t *testing.T) {
			store, err := NewCASStore(setupTestDB(t), algo)
			if err != nil {
				t.Fatalf("NewCASStore() error = %v", err)
			}

			data := []byte("Player[0] score is 1000\nAll_points : 30000\n")
			cid := mustPut(t, store, data)
			if cid == "" {
				t.Fatal("Put returned empty CID")
			}

			got, err := store.Get(cid)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Get() = %q, want %q", got, data)
			}
		})
	}
}

func TestPutDeduplicates(t *testing.T) {
	store, err := NewCASStore(setupTestDB(t), "sha256")
	if err != nil {
		t.Fatalf("NewCASStore() error = %v", err)
	}

	cid1, written1, err := store.PutWithSize([]byte("OK"))
	if err != nil {
		t.Fatalf("PutWithSize() error = %v", err)
	}
	cid2, written2, err := store.PutWithSize([]byte("OK"))
	if err != nil {
		t.Fatalf("PutWithSize() error = %v", err)
	}

	if cid1 != cid2 {
		t.Errorf("identical data produced different CIDs: %s vs %s", cid1, cid2)
	}
	if written1 == 0 {
		t.Error("first Put should write bytes")
	}
	if written2 != 0 {
		t.Errorf("second Put should be deduplicated, wrote %d bytes", written2)
	}

	mustPut(t, store, []byte("different"))
	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalObjects != 2 {
		t.Errorf("expected 2 objects, got %d", stats.TotalObjects)
	}
	if stats.TotalSize <= 0 {
		t.Errorf("expected positive stored size, got %d", stats.TotalSize)
	}
}

func TestEmptyOutputIsStorable(t *testing.T) {
	store, err := NewCASStore(setupTestDB(t), "sha256")
	if err != nil {
		t.Fatalf("NewCASStore() error = %v", err)
	}

	cid := mustPut(t, store, nil)
	got, err := store.Get(cid)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty data, got %q", got)
	}
}

func TestGetMissing(t *testing.T) {
	store, err := NewCASStore(setupTestDB(t), "sha256")
	if err != nil {
		t.Fatalf("NewCASStore() error = %v", err)
	}

	if _, err := store.Get("QmMissing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	exists, err := store.Has("QmMissing")
	if err != nil {
		t.Fatalf("Has() error = %v", err)
	}
	if exists {
		t.Error("Has() reported a missing CID as present")
	}
}

func TestDecompressPassesThroughRawData(t *testing.T) {
	raw := []byte("not compressed")
	got, err := decompressFromStorage(raw)
	if err != nil {
		t.Fatalf("decompressFromStorage() error = %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("expected raw passthrough, got %q", got)
	}
}
