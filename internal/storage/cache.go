package storage

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// ContentCache stores snapshot file contents keyed by (revision, path).
// Blobs are zstd-compressed and carry a blake2b digest so corruption is
// detected on the way out rather than silently fed to the parser.
type ContentCache struct {
	db           *DB
	encoder      *zstd.Encoder
	decoder      *zstd.Decoder
	maxBlobBytes int
}

// NewContentCache creates a cache over an open database. maxBlobBytes
// bounds what gets cached; larger files are simply re-fetched every run.
func NewContentCache(db *DB, maxBlobBytes int) (*ContentCache, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ContentCache{db: db, encoder: enc, decoder: dec, maxBlobBytes: maxBlobBytes}, nil
}

// Put stores one file's content for a revision. Oversized blobs are
// silently not cached.
func (c *ContentCache) Put(rev, path string, content []byte) error {
	if c.maxBlobBytes > 0 && len(content) > c.maxBlobBytes {
		return nil
	}

	digest := blake2b.Sum256(content)
	compressed := c.encoder.EncodeAll(content, nil)

	_, err := c.db.conn.Exec(`
INSERT INTO content_cache (rev, path, content_hash, compressed, raw_size, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(rev, path) DO UPDATE SET
	content_hash = excluded.content_hash,
	compressed   = excluded.compressed,
	raw_size     = excluded.raw_size,
	created_at   = excluded.created_at`,
		rev, path, hex.EncodeToString(digest[:]), compressed, len(content),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to cache %s@%s: %w", path, rev, err)
	}
	return nil
}

// Get returns a cached file's content. The second return is false on a
// cache miss; a digest mismatch is treated as a miss too, after evicting
// the bad row.
func (c *ContentCache) Get(rev, path string) ([]byte, bool, error) {
	var storedHash string
	var compressed []byte
	err := c.db.conn.QueryRow(
		`SELECT content_hash, compressed FROM content_cache WHERE rev = ? AND path = ?`,
		rev, path).Scan(&storedHash, &compressed)
	if err != nil {
		return nil, false, nil
	}

	content, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		c.evict(rev, path)
		return nil, false, nil
	}
	digest := blake2b.Sum256(content)
	if hex.EncodeToString(digest[:]) != storedHash {
		c.evict(rev, path)
		return nil, false, nil
	}
	return content, true, nil
}

func (c *ContentCache) evict(rev, path string) {
	c.db.conn.Exec(`DELETE FROM content_cache WHERE rev = ? AND path = ?`, rev, path)
}

// Clear drops every cached blob.
func (c *ContentCache) Clear() error {
	_, err := c.db.conn.Exec(`DELETE FROM content_cache`)
	return err
}
