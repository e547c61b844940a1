package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbparse/internal/models"
)

// DocumentParser is the parse orchestrator.
type DocumentParser interface {
	Parse(ctx context.Context, req ingestion_engine.ParseRequest) models.ParseResult
}

type DocumentService struct {
	db         core.DbClient
	parser     DocumentParser
	embeddings *EmbeddingService
	log        *zap.Logger
}

func NewDocumentService(db core.DbClient, parser DocumentParser, embeddings *EmbeddingService, log *zap.Logger) *DocumentService {
	return &DocumentService{db: db, parser: parser, embeddings: embeddings, log: log}
}

func isNotFound(err error) bool { return errors.Is(err, core.ErrNotFound) }

// ParseDocument looks up the document's file, knowledge base and embedding
// settings, then parses it synchronously. The error is only set when the
// document itself is missing or unreadable; every later failure is recorded
// on the document and returned in the result.
func (s *DocumentService) ParseDocument(ctx context.Context, docID string) (models.ParseResult, error) {
	// Parses are not cancellable: a dropped client or shutdown must not abort one midway.
	ctx = context.WithoutCancel(ctx)
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return models.ParseResult{}, fmt.Errorf("load document %s: %w", docID, err)
	}
	if doc == nil {
		return models.ParseResult{}, fmt.Errorf("document %s: %w", docID, core.ErrNotFound)
	}
	log := s.log.With(zap.String("doc_id", docID))

	file, err := s.db.GetFileForDocument(ctx, docID)
	if err != nil {
		return s.lookupFailed(ctx, docID, err, log), nil
	}
	kb, err := s.db.GetKnowledgebaseByID(ctx, doc.KbID)
	if err != nil {
		return s.lookupFailed(ctx, docID, err, log), nil
	}
	if kb == nil {
		return s.lookupFailed(ctx, docID, fmt.Errorf("knowledge base %s: %w", doc.KbID, core.ErrNotFound), log), nil
	}

	progress, msg := 0.0, "start parsing"
	status, run := models.StatusParsing, models.RunRunning
	if err := s.db.UpdateDocumentProgress(ctx, docID, models.ProgressUpdate{
		Progress: &progress,
		Message:  &msg,
		Status:   &status,
		Run:      &run,
	}); err != nil {
		return models.ParseResult{}, fmt.Errorf("mark document %s running: %w", docID, err)
	}

	settings, err := s.embeddings.Settings(ctx)
	if err != nil {
		log.Warn("system embedding config unavailable, using defaults", zap.Error(err))
	}

	return s.parser.Parse(ctx, ingestion_engine.ParseRequest{
		Document:      doc,
		File:          file,
		Knowledgebase: kb,
		Embedding:     settings,
	}), nil
}

func (s *DocumentService) lookupFailed(ctx context.Context, docID string, cause error, log *zap.Logger) models.ParseResult {
	log.Warn("parse lookup failed", zap.Error(cause))
	msg := "parse failed: " + cause.Error()
	status, run := models.StatusDone, models.RunFailed
	if err := s.db.UpdateDocumentProgress(ctx, docID, models.ProgressUpdate{
		Message: &msg,
		Status:  &status,
		Run:     &run,
	}); err != nil {
		log.Error("could not record lookup failure", zap.Error(err))
	}
	return models.ParseResult{Success: false, Error: cause.Error()}
}

func (s *DocumentService) GetDocumentParseProgress(ctx context.Context, docID string) (models.DocumentProgress, error) {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return models.DocumentProgress{}, err
	}
	if doc == nil {
		return models.DocumentProgress{}, fmt.Errorf("document %s: %w", docID, core.ErrNotFound)
	}
	return models.DocumentProgress{
		Progress: doc.Progress,
		Message:  doc.ProgressMsg,
		Status:   doc.Status,
		Running:  doc.Run,
	}, nil
}

// GetKnowledgebaseParseProgress lists every document of kbID, newest first.
func (s *DocumentService) GetKnowledgebaseParseProgress(ctx context.Context, kbID string) ([]models.DocumentProgressRow, error) {
	docs, err := s.db.ListKnowledgebaseDocuments(ctx, kbID)
	if err != nil {
		return nil, err
	}
	rows := make([]models.DocumentProgressRow, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, models.DocumentProgressRow{
			ID:          d.ID,
			Name:        d.Name,
			Progress:    d.Progress,
			ProgressMsg: d.ProgressMsg,
			Status:      orDefault(d.Status, models.StatusCreated),
			Running:     orDefault(d.Run, models.RunNotStarted),
		})
	}
	return rows, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
