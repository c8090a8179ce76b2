package storage

import (
	"bytes"
	"testing"

	"fieldmv/internal/logging"
)

func openTestCache(t *testing.T, maxBlob int) *ContentCache {
	t.Helper()
	db, err := Open(t.TempDir(), logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cache, err := NewContentCache(db, maxBlob)
	if err != nil {
		t.Fatalf("cache init failed: %v", err)
	}
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t, 0)
	content := []byte("quotations_count = fields.Integer()\n")

	if err := cache.Put("abc123", "crm/models/crm_team.py", content); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, hit, err := cache.Get("abc123", "crm/models/crm_team.py")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !hit {
		t.Fatal("expected a cache hit")
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mangled: %q", got)
	}
}

func TestCacheMiss(t *testing.T) {
	cache := openTestCache(t, 0)
	if _, hit, _ := cache.Get("abc123", "nope.py"); hit {
		t.Error("expected a miss for an unknown key")
	}
}

func TestCacheKeysByRevision(t *testing.T) {
	cache := openTestCache(t, 0)
	if err := cache.Put("rev1", "a.py", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put("rev2", "a.py", []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, hit, _ := cache.Get("rev1", "a.py")
	if !hit || string(got) != "one" {
		t.Errorf("rev1 content wrong: %q (hit=%v)", got, hit)
	}
	got, hit, _ = cache.Get("rev2", "a.py")
	if !hit || string(got) != "two" {
		t.Errorf("rev2 content wrong: %q (hit=%v)", got, hit)
	}
}

func TestOversizedBlobNotCached(t *testing.T) {
	cache := openTestCache(t, 8)
	if err := cache.Put("rev", "big.py", []byte("well over eight bytes")); err != nil {
		t.Fatalf("oversized put must be a silent no-op: %v", err)
	}
	if _, hit, _ := cache.Get("rev", "big.py"); hit {
		t.Error("oversized blob must not be cached")
	}
}

func TestClear(t *testing.T) {
	cache := openTestCache(t, 0)
	cache.Put("rev", "a.py", []byte("x"))
	if err := cache.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, hit, _ := cache.Get("rev", "a.py"); hit {
		t.Error("clear must drop everything")
	}
}
