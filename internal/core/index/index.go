package index

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/core"
)

// TableName is the per knowledge base index table: <indexName>_<kbID>.
func TableName(indexName, kbID string) string {
	return indexName + "_" + kbID
}

// IndexName is the tenant scoped prefix tables are grouped under.
func IndexName(prefix, tenantID string) string {
	return prefix + "_" + tenantID
}

// VectorColumn names the vector field for a dimensionality.
func VectorColumn(dim int) string {
	return "q_" + strconv.Itoa(dim) + "_vec"
}

// New builds the index store selected by INDEX_STORE. db is only used by pgvector.
func New(ctx context.Context, cfg *config.Config, db *sql.DB) (core.IndexStore, error) {
	switch cfg.IndexStore {
	case "pgvector":
		return NewPgVectorIndex(db), nil
	case "qdrant":
		return NewQdrantIndex(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown index store %q", cfg.IndexStore)
	}
}

func intArrayLiteral(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
