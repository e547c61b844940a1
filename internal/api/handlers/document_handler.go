package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/models"
)

// DocumentParsing is the synchronous side of parsing.
type DocumentParsing interface {
	ParseDocument(ctx context.Context, docID string) (models.ParseResult, error)
	GetDocumentParseProgress(ctx context.Context, docID string) (models.DocumentProgress, error)
	GetKnowledgebaseParseProgress(ctx context.Context, kbID string) ([]models.DocumentProgressRow, error)
}

// BackgroundParsing is the queued and batch side of parsing.
type BackgroundParsing interface {
	AsyncParseDocument(ctx context.Context, docID string) (models.AsyncParseResult, error)
	Task(taskID string) (models.TaskState, error)
	StartBatchParse(ctx context.Context, kbID string) (models.BatchStartResult, error)
	BatchParseProgress(ctx context.Context, kbID string) (models.BatchTask, error)
}

type DocumentHandler struct {
	docs   DocumentParsing
	ingest BackgroundParsing
	log    *zap.Logger
}

func NewDocumentHandler(docs DocumentParsing, ingest BackgroundParsing, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, ingest: ingest, log: log}
}

// Parse runs a parse in the request and returns its result. A failed parse
// is still a 200: the failure is in the body and on the document row.
func (h *DocumentHandler) Parse(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")
	res, err := h.docs.ParseDocument(r.Context(), docID)
	if err != nil {
		h.log.Warn("parse request failed", zap.String("doc_id", docID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) ParseAsync(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")
	res, err := h.ingest.AsyncParseDocument(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *DocumentHandler) Progress(w http.ResponseWriter, r *http.Request) {
	res, err := h.docs.GetDocumentParseProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) Task(w http.ResponseWriter, r *http.Request) {
	st, err := h.ingest.Task(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
