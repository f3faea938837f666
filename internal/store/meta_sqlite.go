package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jmswen/knowledge/internal/model"
)

const metaSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	filename    TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	file_type   TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	content     TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'pending',
	message     TEXT NOT NULL DEFAULT '',
	progress    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	start_char  INTEGER NOT NULL DEFAULT 0,
	end_char    INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
`

// SQLiteMetaStore is a pure-Go (modernc.org/sqlite, no cgo) MetaStore
// implementation with WAL journaling and busy-timeout pragmas applied
// at open.
type SQLiteMetaStore struct {
	db *sql.DB
}

// NewSQLiteMetaStore opens (creating if absent) the metadata database at
// path. An empty path opens an in-memory database, used by tests.
func NewSQLiteMetaStore(path string) (*SQLiteMetaStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer model; modernc.org/sqlite serializes writes anyway

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(metaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteMetaStore{db: db}, nil
}

func (s *SQLiteMetaStore) CreateDocument(ctx context.Context, doc *model.Document) (int64, error) {
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (filename, title, file_type, path, size, content, metadata, status, message, progress)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Filename, doc.Title, doc.FileType, doc.Path, doc.Size, doc.Content, meta,
		string(model.StatusPending), "", 0.0,
	)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read document id: %w", err)
	}
	return id, nil
}

func (s *SQLiteMetaStore) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, title, file_type, path, size, content, metadata, status, message, progress
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *SQLiteMetaStore) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, title, file_type, path, size, content, metadata, status, message, progress FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteMetaStore) UpdateStatus(ctx context.Context, docID int64, status model.Status, message string, progress float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, message = ?, progress = ? WHERE id = ?`,
		string(status), message, progress, docID,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// UpdateContent persists the parser's output for a document ahead of
// chunking: content, title, size, and any parser-supplied metadata
// merged into what's already stored.
func (s *SQLiteMetaStore) UpdateContent(ctx context.Context, docID int64, content, title string, size int64, metadata map[string]string) error {
	existing, err := s.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document for content update: %w", err)
	}
	merged := existing.Metadata
	if merged == nil {
		merged = make(map[string]string)
	}
	for k, v := range metadata {
		merged[k] = v
	}
	encoded, err := encodeMetadata(merged)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, title = ?, size = ?, metadata = ? WHERE id = ?`,
		content, title, size, encoded, docID,
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return nil
}

// ReplaceChunks atomically deletes the document's prior chunks and
// inserts the new sequence.
func (s *SQLiteMetaStore) ReplaceChunks(ctx context.Context, docID int64, chunks []*model.Chunk) ([]*model.Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return nil, fmt.Errorf("delete prior chunks: %w", err)
	}

	result := make([]*model.Chunk, len(chunks))
	for i, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, chunk_index, content, start_char, end_char, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
			docID, c.ChunkIndex, c.Content, c.StartChar, c.EndChar, meta,
		)
		if err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read chunk id: %w", err)
		}
		copied := *c
		copied.ID = id
		copied.DocumentID = docID
		result[i] = &copied
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace chunks: %w", err)
	}
	return result, nil
}

// InsertChunks appends new chunk rows to docID, returning them with
// assigned ids. Existing rows are untouched.
func (s *SQLiteMetaStore) InsertChunks(ctx context.Context, docID int64, chunks []*model.Chunk) ([]*model.Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := make([]*model.Chunk, len(chunks))
	for i, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, chunk_index, content, start_char, end_char, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
			docID, c.ChunkIndex, c.Content, c.StartChar, c.EndChar, meta,
		)
		if err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read chunk id: %w", err)
		}
		copied := *c
		copied.ID = id
		copied.DocumentID = docID
		result[i] = &copied
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert chunks: %w", err)
	}
	return result, nil
}

// DeleteChunks removes specific chunk rows by id.
func (s *SQLiteMetaStore) DeleteChunks(ctx context.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete chunk: %w", err)
	}
	defer stmt.Close()

	for _, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete chunk %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// UpdateChunkIndex rewrites a single chunk's position, leaving its id,
// content, and derived index entries untouched.
func (s *SQLiteMetaStore) UpdateChunkIndex(ctx context.Context, chunkID int64, newIndex int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chunks SET chunk_index = ? WHERE id = ?`, newIndex, chunkID)
	if err != nil {
		return fmt.Errorf("update chunk index: %w", err)
	}
	return nil
}

func (s *SQLiteMetaStore) GetChunksByDocument(ctx context.Context, docID int64) ([]*model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, start_char, end_char, metadata FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		c, err := scanChunkRow(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteMetaStore) GetChunk(ctx context.Context, chunkID int64) (*model.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, chunk_index, content, start_char, end_char, metadata FROM chunks WHERE id = ?`, chunkID)
	return scanChunk(row)
}

// DeleteDocument cascades to chunks via the foreign key.
func (s *SQLiteMetaStore) DeleteDocument(ctx context.Context, docID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *SQLiteMetaStore) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE status = ?`, string(model.StatusCompleted)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *SQLiteMetaStore) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteMetaStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for callers that need to attach
// auxiliary schemas (e.g. telemetry) to the same SQLite file.
func (s *SQLiteMetaStore) DB() *sql.DB {
	return s.db
}

var _ MetaStore = (*SQLiteMetaStore)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*model.Document, error) {
	return scanDocumentRow(row)
}

func scanDocumentRow(row scanner) (*model.Document, error) {
	var d model.Document
	var metaJSON, status string
	if err := row.Scan(&d.ID, &d.Filename, &d.Title, &d.FileType, &d.Path, &d.Size, &d.Content, &metaJSON, &status, &d.Message, &d.Progress); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document not found: %w", err)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Status = model.Status(status)
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	d.Metadata = meta
	return &d, nil
}

func scanChunk(row scanner) (*model.Chunk, error) {
	return scanChunkRow(row)
}

func scanChunkRow(row scanner) (*model.Chunk, error) {
	var c model.Chunk
	var metaJSON string
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.StartChar, &c.EndChar, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chunk not found: %w", err)
		}
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	c.Metadata = meta
	return &c, nil
}
