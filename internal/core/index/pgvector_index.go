package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

// PgVectorIndex keeps one Postgres table per knowledge base with a pgvector column.
type PgVectorIndex struct {
	db *sql.DB

	mu      sync.Mutex
	ensured map[string]int
}

var _ core.IndexStore = (*PgVectorIndex)(nil)

func NewPgVectorIndex(db *sql.DB) *PgVectorIndex {
	return &PgVectorIndex{db: db, ensured: make(map[string]int)}
}

var chunkColumns = []string{
	"id", "doc_id", "kb_id", "docnm_kwd", "title_tks", "title_sm_tks",
	"content_with_weight", "content_ltks", "content_sm_ltks",
	"page_num_int", "position_int", "top_int",
	"create_time", "create_timestamp_flt", "img_id",
}

const (
	maxIdentLen  = 63 // NAMEDATALEN - 1
	docIdxSuffix = "_doc_id_idx"
	maxTableLen  = maxIdentLen - len(docIdxSuffix)
	hashSuffix   = 17 // "_" + 16 hex digits
)

// pgTableName fits an index table name into a Postgres identifier. Names
// that would be truncated keep a prefix and gain a hash of the full name,
// so the table and its doc_id index stay distinct per knowledge base.
func pgTableName(name string) string {
	if len(name) <= maxTableLen {
		return name
	}
	return fmt.Sprintf("%s_%016x", name[:maxTableLen-hashSuffix], xxhash.Sum64String(name))
}

func createTableSQL(name string, dim int) string {
	short := pgTableName(name)
	table := pgx.Identifier{short}.Sanitize()
	docIdx := pgx.Identifier{short + docIdxSuffix}.Sanitize()
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %s (
    id                   VARCHAR(64) PRIMARY KEY,
    doc_id               VARCHAR(64) NOT NULL,
    kb_id                VARCHAR(64) NOT NULL,
    docnm_kwd            TEXT NOT NULL DEFAULT '',
    title_tks            TEXT NOT NULL DEFAULT '',
    title_sm_tks         TEXT NOT NULL DEFAULT '',
    content_with_weight  TEXT NOT NULL DEFAULT '',
    content_ltks         TEXT NOT NULL DEFAULT '',
    content_sm_ltks      TEXT NOT NULL DEFAULT '',
    page_num_int         INTEGER[],
    position_int         JSONB,
    top_int              INTEGER[],
    create_time          VARCHAR(32),
    create_timestamp_flt DOUBLE PRECISION,
    img_id               TEXT NOT NULL DEFAULT '',
    %s vector(%d)
);
CREATE INDEX IF NOT EXISTS %s ON %s (doc_id);`, table, VectorColumn(dim), dim, docIdx, table)
}

func upsertSQL(name string, dim int) string {
	cols := append(append([]string{}, chunkColumns...), VectorColumn(dim))
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, col := range cols {
		ph := fmt.Sprintf("$%d", i+1)
		switch col {
		case "page_num_int", "top_int":
			ph += "::integer[]"
		case "position_int":
			ph += "::jsonb"
		}
		placeholders[i] = ph
		if col != "id" {
			updates = append(updates, col+" = EXCLUDED."+col)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		pgx.Identifier{pgTableName(name)}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "))
}

func (p *PgVectorIndex) EnsureTable(ctx context.Context, name string, dim int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured[name] == dim {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, createTableSQL(name, dim)); err != nil {
		return fmt.Errorf("create index table %s: %w", name, err)
	}
	p.ensured[name] = dim
	return nil
}

// UpsertBatch writes all chunks in one transaction, keyed by chunk id.
func (p *PgVectorIndex) UpsertBatch(ctx context.Context, name string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	dim := len(chunks[0].Vector)

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL(name, dim))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare upsert into %s: %w", name, err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if len(ch.Vector) != dim {
			_ = tx.Rollback()
			return fmt.Errorf("chunk %s has %d dims, batch has %d: %w", ch.ID, len(ch.Vector), dim, core.ErrDimensionMismatch)
		}
		position, err := sonic.MarshalString(ch.Position)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode position of chunk %s: %w", ch.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocID, ch.KbID, ch.DocName, ch.TitleTks, ch.TitleSmTks,
			ch.Content, ch.ContentLtks, ch.ContentSmLtks,
			intArrayLiteral(ch.PageNum), position, intArrayLiteral(ch.Top),
			ch.CreateTime, ch.CreateTimestampFlt, ch.ImgID,
			pgvector.NewVector(ch.Vector),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert chunk %s into %s: %w", ch.ID, name, err)
		}
	}
	return tx.Commit()
}

// Close is a no-op; the pool belongs to the relational store.
func (p *PgVectorIndex) Close() error { return nil }
