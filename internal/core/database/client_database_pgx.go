package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

// Open connects to Postgres through the pgx stdlib driver and pings it.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// NewDatabaseClient wraps an open pool and makes sure the schema exists.
func NewDatabaseClient(ctx context.Context, db *sql.DB) (*DatabaseClient, error) {
	if err := EnsureBootstrapped(ctx, db); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, kb_id, name, location, type, parser_id, parser_config, created_by,
		       COALESCE(progress, 0), COALESCE(progress_msg, ''), COALESCE(status, '0'), COALESCE(run, '0'),
		       chunk_num, process_duation, create_date, update_date
		FROM document
		WHERE id = $1
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.KbID, &d.Name, &d.Location, &d.Type, &d.ParserID, &d.ParserConfig, &d.CreatedBy,
		&d.Progress, &d.ProgressMsg, &d.Status, &d.Run,
		&d.ChunkNum, &d.ProcessDuration, &d.CreateDate, &d.UpdateDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetFileForDocument follows file2document to the file row. A missing mapping
// or file row is reported as core.ErrNotFound naming the missing link.
func (c *DatabaseClient) GetFileForDocument(ctx context.Context, docID string) (*models.File, error) {
	var fileID string
	err := c.db.QueryRowContext(ctx,
		`SELECT file_id FROM file2document WHERE document_id = $1 LIMIT 1`, docID).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file2document mapping for document %s: %w", docID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT id, parent_id, name, location, size, type
		FROM file
		WHERE id = $1
	`
	var f models.File
	err = c.db.QueryRowContext(ctx, q, fileID).Scan(&f.ID, &f.ParentID, &f.Name, &f.Location, &f.Size, &f.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", fileID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *DatabaseClient) GetKnowledgebaseByID(ctx context.Context, id string) (*models.Knowledgebase, error) {
	const q = `
		SELECT id, tenant_id, name, created_by, doc_num, chunk_num
		FROM knowledgebase
		WHERE id = $1
	`
	var kb models.Knowledgebase
	err := c.db.QueryRowContext(ctx, q, id).Scan(&kb.ID, &kb.TenantID, &kb.Name, &kb.CreatedBy, &kb.DocNum, &kb.ChunkNum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

// buildProgressUpdate renders the SET list for the non-nil fields of upd.
func buildProgressUpdate(id string, upd models.ProgressUpdate) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.Message != nil {
		add("progress_msg", *upd.Message)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Run != nil {
		add("run", *upd.Run)
	}
	if upd.ChunkNum != nil {
		add("chunk_num", *upd.ChunkNum)
	}
	if upd.ProcessDuration != nil {
		add("process_duation", *upd.ProcessDuration)
	}
	sets = append(sets, "update_date = now()")
	args = append(args, id)

	q := fmt.Sprintf("UPDATE document SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return q, args
}

func (c *DatabaseClient) UpdateDocumentProgress(ctx context.Context, id string, upd models.ProgressUpdate) error {
	if upd.Empty() {
		return nil
	}
	q, args := buildProgressUpdate(id, upd)
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update document %s progress: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// CompleteParse finalises a successful parse in a single transaction.
func (c *DatabaseClient) CompleteParse(ctx context.Context, done models.ParseCompletion) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const docQ = `
		UPDATE document
		SET progress = 1, progress_msg = $2, status = $3, run = $4,
		    chunk_num = $5, process_duation = $6, update_date = now()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, docQ,
		done.DocID, done.Message, models.StatusDone, models.RunDone, done.ChunkCount, done.ProcessDuration,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("finalise document %s: %w", done.DocID, err)
	}

	const kbQ = `
		UPDATE knowledgebase
		SET chunk_num = chunk_num + $2, update_date = now()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, kbQ, done.KbID, done.ChunkCount); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("increment knowledgebase %s chunk_num: %w", done.KbID, err)
	}

	t := done.Task
	createdMs := t.CreatedAt.UnixMilli()
	const taskQ = `
		INSERT INTO task
			(id, create_time, create_date, update_time, update_date, doc_id, from_page, to_page,
			 process_duation, progress, progress_msg, retry_count, digest, chunk_ids, task_type)
		VALUES ($1, $2, $3, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if _, err := tx.ExecContext(ctx, taskQ,
		t.ID, createdMs, t.CreatedAt, t.DocID, t.FromPage, t.ToPage,
		done.ProcessDuration, t.Progress, t.ProgressMsg, t.RetryCount, t.Digest, t.ChunkIDs, t.TaskType,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert parse task for %s: %w", done.DocID, err)
	}

	return tx.Commit()
}

// ListUnparsedDocuments returns the documents of a knowledge base whose run is not done.
func (c *DatabaseClient) ListUnparsedDocuments(ctx context.Context, kbID string) ([]models.Document, error) {
	const q = `
		SELECT id, name
		FROM document
		WHERE kb_id = $1 AND COALESCE(run, '0') <> $2
		ORDER BY create_date ASC
	`
	rows, err := c.db.QueryContext(ctx, q, kbID, models.RunDone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d := models.Document{KbID: kbID}
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListKnowledgebaseDocuments(ctx context.Context, kbID string) ([]models.Document, error) {
	const q = `
		SELECT id, name, COALESCE(progress, 0), COALESCE(progress_msg, ''), COALESCE(status, '0'), COALESCE(run, '0')
		FROM document
		WHERE kb_id = $1
		ORDER BY create_date DESC
	`
	rows, err := c.db.QueryContext(ctx, q, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d := models.Document{KbID: kbID}
		if err := rows.Scan(&d.ID, &d.Name, &d.Progress, &d.ProgressMsg, &d.Status, &d.Run); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Embedding configuration

func (c *DatabaseClient) GetEarliestUser(ctx context.Context) (*models.User, error) {
	const q = `
		SELECT id, nickname, email, create_time, create_date
		FROM users
		ORDER BY create_time ASC
		LIMIT 1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q).Scan(&u.ID, &u.Nickname, &u.Email, &u.CreateTime, &u.CreateDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *DatabaseClient) GetEmbeddingConfig(ctx context.Context, tenantID string) (*models.EmbeddingConfig, error) {
	const q = `
		SELECT llm_name, api_key, api_base
		FROM tenant_llm
		WHERE tenant_id = $1 AND model_type = 'embedding'
		ORDER BY create_time DESC
		LIMIT 1
	`
	var ec models.EmbeddingConfig
	err := c.db.QueryRowContext(ctx, q, tenantID).Scan(&ec.LLMName, &ec.APIKey, &ec.APIBase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ec, nil
}

func (c *DatabaseClient) SaveEmbeddingConfig(ctx context.Context, tenantID string, ec models.EmbeddingConfig) error {
	const q = `
		INSERT INTO tenant_llm (tenant_id, model_type, llm_name, api_key, api_base, update_time)
		VALUES ($1, 'embedding', $2, $3, $4, $5)
		ON CONFLICT (tenant_id, model_type) DO UPDATE
		SET llm_name = EXCLUDED.llm_name,
		    api_key = EXCLUDED.api_key,
		    api_base = EXCLUDED.api_base,
		    update_time = EXCLUDED.update_time
	`
	_, err := c.db.ExecContext(ctx, q, tenantID, ec.LLMName, ec.APIKey, ec.APIBase, time.Now().UnixMilli())
	return err
}
