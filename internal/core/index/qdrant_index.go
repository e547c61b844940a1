package index

import (
	"context"
	"fmt"
	"slices"

	"github.com/qdrant/go-client/qdrant"

	"github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

// QdrantIndex keeps one collection per knowledge base.
type QdrantIndex struct {
	client *qdrant.Client
}

var _ core.IndexStore = (*QdrantIndex)(nil)

func NewQdrantIndex(ctx context.Context, cfg *config.Config) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &QdrantIndex{client: client}, nil
}

func (q *QdrantIndex) EnsureTable(ctx context.Context, name string, dim int) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list qdrant collections: %w", err)
	}
	if slices.Contains(collections, name) {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection %s: %w", name, err)
	}
	return nil
}

func (q *QdrantIndex) UpsertBatch(ctx context.Context, name string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i := range chunks {
		ch := &chunks[i]
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ch.ID),
			Vectors: qdrant.NewVectors(ch.Vector...),
			Payload: qdrant.NewValueMap(chunkPayload(ch)),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// chunkPayload flattens a chunk into the value types qdrant payloads accept.
func chunkPayload(ch *models.Chunk) map[string]any {
	positions := make([]any, len(ch.Position))
	for i, pos := range ch.Position {
		positions[i] = intsToAny(pos)
	}
	return map[string]any{
		"doc_id":               ch.DocID,
		"kb_id":                ch.KbID,
		"docnm_kwd":            ch.DocName,
		"title_tks":            ch.TitleTks,
		"title_sm_tks":         ch.TitleSmTks,
		"content_with_weight":  ch.Content,
		"content_ltks":         ch.ContentLtks,
		"content_sm_ltks":      ch.ContentSmLtks,
		"page_num_int":         intsToAny(ch.PageNum),
		"position_int":         positions,
		"top_int":              intsToAny(ch.Top),
		"create_time":          ch.CreateTime,
		"create_timestamp_flt": ch.CreateTimestampFlt,
		"img_id":               ch.ImgID,
	}
}

func intsToAny(vals []int) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}
