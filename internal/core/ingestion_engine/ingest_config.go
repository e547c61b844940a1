package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/core/llm"
	"github.com/markdave123-py/kbparse/internal/models"
)

// IngestConfig tunes a parse run.
//
// EmbedDim:           required vector length; any other length fails the parse.
// IndexPrefix:        index names are <IndexPrefix>_<tenant>, tables <index>_<kb>.
// TempDir:            parent for per-parse scratch dirs ("" means os.TempDir).
// PersistConcurrency: parallel object-store writes per parse.
type IngestConfig struct {
	EmbedDim           int
	IndexPrefix        string
	TempDir            string
	PersistConcurrency int
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.EmbedDim <= 0 {
		c.EmbedDim = 1024
	}
	if c.IndexPrefix == "" {
		c.IndexPrefix = "ragflow"
	}
	if c.PersistConcurrency <= 0 {
		c.PersistConcurrency = 8
	}
	return c
}

// EmbedderFactory builds an embedding client for resolved settings.
type EmbedderFactory func(ctx context.Context, s llm.Settings) (core.EmbeddingProvider, error)

// ParseRequest carries the rows a parse needs, already looked up.
// The knowledge base creator is the tenant.
type ParseRequest struct {
	Document      *models.Document
	File          *models.File
	Knowledgebase *models.Knowledgebase
	Embedding     llm.Settings
}

// pendingChunk is a kept content block waiting for its vector.
type pendingChunk struct {
	Content string
	Geo     Geometry
}

// pendingImage is an extracted figure and the chunk count when it was seen.
type pendingImage struct {
	Path     string
	Ext      string
	Position int
	Key      string // object key inside the kb bucket
}
