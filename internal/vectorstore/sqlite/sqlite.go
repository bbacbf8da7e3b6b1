// Package sqlite is the durable vector store backend. Each collection is a
// directory under the data root holding a single SQLite database with the
// entry content, metadata and embedding vectors.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

const dbFileName = "index.db"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	source    TEXT NOT NULL,
	page      INTEGER NOT NULL,
	sequence  INTEGER NOT NULL,
	length    INTEGER NOT NULL,
	embedding BLOB NOT NULL
);
`

// Provider manages collection directories under a data root.
type Provider struct {
	dataDir string
}

// NewProvider creates a provider rooted at dataDir. If dataDir is empty it
// defaults to "data" in the working directory.
func NewProvider(dataDir string) *Provider {
	if dataDir == "" {
		dataDir = "data"
	}
	return &Provider{dataDir: dataDir}
}

func (p *Provider) dbPath(collection string) string {
	return filepath.Join(p.dataDir, collection, dbFileName)
}

func (p *Provider) Exists(collection string) (bool, error) {
	_, err := os.Stat(p.dbPath(collection))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Open opens an existing collection; it never creates one. Missing and
// malformed collections both surface as domain.ErrNotFound immediately, so
// the caller's recovery is the same: run ingestion.
func (p *Provider) Open(collection string) (vectorstore.Store, error) {
	ok, err := p.Exists(collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: collection %q at %s", domain.ErrNotFound,
			collection, p.dbPath(collection))
	}
	s, err := p.open(collection)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %q is unreadable: %v", domain.ErrNotFound,
			collection, err)
	}
	return s, nil
}

func (p *Provider) Create(collection string) (vectorstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(p.dbPath(collection)), 0o755); err != nil {
		return nil, fmt.Errorf("creating collection directory: %w", err)
	}
	return p.open(collection)
}

func (p *Provider) Drop(collection string) error {
	return os.RemoveAll(filepath.Join(p.dataDir, collection))
}

func (p *Provider) open(collection string) (*Store, error) {
	// WAL mode lets concurrent readers share the collection at query time
	db, err := sql.Open("sqlite", p.dbPath(collection)+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening collection database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing collection schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Store is one open sqlite-backed collection.
type Store struct {
	db *sql.DB
}

func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('dimension', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, dimension)
	return err
}

// Insert writes all entries in one transaction so a failed build commits
// nothing.
func (s *Store) Insert(ctx context.Context, entries []domain.IndexEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (id, content, source, page, sequence, length, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Content, e.Source, e.Page,
			e.Sequence, e.Length, float32SliceToBytes(e.Embedding)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Search scans all entries and scores them by dot product (vectors are
// L2-normalized, so this is cosine similarity), best first.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = 4
	}
	rows, err := s.db.QueryContext(ctx, `SELECT content, source, page, embedding FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			content, source string
			page            int
			blob            []byte
		)
		if err := rows.Scan(&content, &source, &page, &blob); err != nil {
			return nil, err
		}
		results = append(results, domain.SearchResult{
			Content: content,
			Source:  source,
			Page:    page,
			Score:   dot(bytesToFloat32Slice(blob), vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

func (s *Store) Close() error { return s.db.Close() }

// float32SliceToBytes converts a []float32 to a little-endian byte slice
// for BLOB storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a stored BLOB back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
