// Package knowledge indexes rulebook text in SQLite FTS5 and retrieves
// excerpts for rules questions.
package knowledge

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DefaultTopK is how many chunks Retrieve joins.
const DefaultTopK = 4

// Chunk is one indexed excerpt.
type Chunk struct {
	ID     int64   `json:"id"`
	Source string  `json:"source"`
	Seq    int     `json:"seq"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// Source summarizes one indexed document.
type Source struct {
	Name      string    `json:"name"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Index is a full-text index of document chunks.
type Index struct {
	db      *sql.DB
	chunker Chunker
	topK    int
}

// Option configures an Index.
type Option func(*Index)

// WithChunker sets how documents are split.
func WithChunker(c Chunker) Option {
	return func(i *Index) { i.chunker = NewChunker(c.Size, c.Overlap) }
}

// WithTopK sets how many chunks Retrieve returns.
func WithTopK(k int) Option {
	return func(i *Index) {
		if k > 0 {
			i.topK = k
		}
	}
}

// Open opens or creates the index database at path.
func Open(path string, opts ...Option) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("index path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	idx := &Index{
		db:      db,
		chunker: NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		topK:    DefaultTopK,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Close closes the database handle.
func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Close()
}

// Add chunks text and indexes it under source, replacing any earlier
// version of the same source. It returns the number of chunks stored.
func (i *Index) Add(ctx context.Context, source, text string) (int, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return 0, fmt.Errorf("source is required")
	}
	chunks, err := i.chunker.Split(text)
	if err != nil {
		return 0, err
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("clear %s: %w", source, err)
	}
	for seq, body := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (source, seq, body) VALUES (?, ?, ?)`,
			source, seq, body,
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d of %s: %w", seq, source, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (source, chunks, indexed_at) VALUES (?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET chunks = excluded.chunks, indexed_at = excluded.indexed_at`,
		source, len(chunks), time.Now().UTC().UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("record %s: %w", source, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(chunks), nil
}

// Remove drops a source and its chunks.
func (i *Index) Remove(ctx context.Context, source string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE source = ?`, source); err != nil {
		return err
	}
	return tx.Commit()
}

// Sources lists indexed documents by name.
func (i *Index) Sources(ctx context.Context) ([]Source, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT source, chunks, indexed_at FROM documents ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var s Source
		var millis int64
		if err := rows.Scan(&s.Name, &s.Chunks, &millis); err != nil {
			return nil, err
		}
		s.IndexedAt = time.UnixMilli(millis).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Search returns up to limit chunks ranked by BM25, best first.
// A query without searchable terms returns no chunks.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Chunk, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = i.topK
	}

	rows, err := i.db.QueryContext(ctx,
		`SELECT rowid, source, seq, body, bm25(chunks) AS rank
		 FROM chunks WHERE chunks MATCH ?
		 ORDER BY rank LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Seq, &c.Text, &c.Score); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better; flip it so callers see higher-is-better
		c.Score = -c.Score
		out = append(out, c)
	}
	return out, rows.Err()
}

// Retrieve joins the top chunks for query into one context block.
func (i *Index) Retrieve(ctx context.Context, query string) (string, error) {
	chunks, err := i.Search(ctx, query, i.topK)
	if err != nil {
		return "", err
	}
	return FormatExcerpts(chunks), nil
}

// FormatExcerpts renders chunks with their source for a prompt.
func FormatExcerpts(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, len(chunks))
	for n, c := range chunks {
		parts[n] = fmt.Sprintf("[%s #%d]\n%s", c.Source, c.Seq+1, c.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

var (
	termRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

	stopWords = map[string]bool{
		"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
		"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
		"how": true, "i": true, "if": true, "in": true, "is": true, "it": true,
		"my": true, "of": true, "on": true, "or": true, "the": true, "to": true,
		"what": true, "when": true, "who": true, "with": true, "work": true,
	}
)

// matchExpression turns free text into an FTS5 OR query of quoted terms.
func matchExpression(query string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range termRe.FindAllString(strings.ToLower(query), -1) {
		if stopWords[t] || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, `"`+t+`"`)
	}
	return strings.Join(terms, " OR ")
}
