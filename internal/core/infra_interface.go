package core

import (
	"context"

	"github.com/markdave123-py/kbparse/internal/models"
)

// DbClient defines the relational persistence the parse pipeline needs.
// Single-row getters return (nil, nil) when the row does not exist.
type DbClient interface {
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	GetFileForDocument(ctx context.Context, docID string) (*models.File, error)
	GetKnowledgebaseByID(ctx context.Context, id string) (*models.Knowledgebase, error)

	UpdateDocumentProgress(ctx context.Context, id string, upd models.ProgressUpdate) error
	// CompleteParse writes the document row, the knowledge base chunk delta and
	// the audit task row in one transaction.
	CompleteParse(ctx context.Context, c models.ParseCompletion) error

	ListUnparsedDocuments(ctx context.Context, kbID string) ([]models.Document, error)
	ListKnowledgebaseDocuments(ctx context.Context, kbID string) ([]models.Document, error)

	GetEarliestUser(ctx context.Context) (*models.User, error)
	GetEmbeddingConfig(ctx context.Context, tenantID string) (*models.EmbeddingConfig, error)
	SaveEmbeddingConfig(ctx context.Context, tenantID string, cfg models.EmbeddingConfig) error

	Close() error
}

// ObjectClient defines interactions with S3 compatible object storage.
type ObjectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string) error
	SetBucketPolicy(ctx context.Context, bucket, policy string) error

	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	// ObjectURL is the address an uploaded object is served from.
	ObjectURL(bucket, key string) string
}

// IndexStore is the search index the chunk records land in.
type IndexStore interface {
	EnsureTable(ctx context.Context, name string, dim int) error
	UpsertBatch(ctx context.Context, name string, chunks []models.Chunk) error
	Close() error
}
