package services

import (
	"context"
	"fmt"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbparse/internal/models"
)

// BatchTracker runs knowledge base wide parses.
type BatchTracker interface {
	Start(ctx context.Context, kbID string) models.BatchStartResult
	Progress(ctx context.Context, kbID string) (models.BatchTask, error)
}

// IngestService is the background side of parsing: the async queue and
// sequential batch runs.
type IngestService struct {
	db      core.DbClient
	queue   ingestion_engine.Ingestor
	batches BatchTracker
}

func NewIngestService(db core.DbClient, queue ingestion_engine.Ingestor, batches BatchTracker) *IngestService {
	return &IngestService{db: db, queue: queue, batches: batches}
}

func (s *IngestService) AsyncParseDocument(ctx context.Context, docID string) (models.AsyncParseResult, error) {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return models.AsyncParseResult{}, err
	}
	if doc == nil {
		return models.AsyncParseResult{}, fmt.Errorf("document %s: %w", docID, core.ErrNotFound)
	}
	st, err := s.queue.Enqueue(docID)
	if err != nil {
		return models.AsyncParseResult{}, err
	}
	return models.AsyncParseResult{
		TaskID:  st.TaskID,
		Status:  "processing",
		Message: "parse task submitted, running in background",
	}, nil
}

func (s *IngestService) Task(taskID string) (models.TaskState, error) {
	st, ok := s.queue.Task(taskID)
	if !ok {
		return models.TaskState{}, fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}
	return st, nil
}

func (s *IngestService) StartBatchParse(ctx context.Context, kbID string) (models.BatchStartResult, error) {
	kb, err := s.db.GetKnowledgebaseByID(ctx, kbID)
	if err != nil {
		return models.BatchStartResult{}, err
	}
	if kb == nil {
		return models.BatchStartResult{}, fmt.Errorf("knowledge base %s: %w", kbID, core.ErrNotFound)
	}
	return s.batches.Start(ctx, kbID), nil
}

func (s *IngestService) BatchParseProgress(ctx context.Context, kbID string) (models.BatchTask, error) {
	return s.batches.Progress(ctx, kbID)
}
