package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/models"
)

type kbProgressResponse struct {
	Documents []models.DocumentProgressRow `json:"documents"`
}

type KnowledgebaseHandler struct {
	docs   DocumentParsing
	ingest BackgroundParsing
	log    *zap.Logger
}

func NewKnowledgebaseHandler(docs DocumentParsing, ingest BackgroundParsing, log *zap.Logger) *KnowledgebaseHandler {
	return &KnowledgebaseHandler{docs: docs, ingest: ingest, log: log}
}

// StartBatch answers 202 when a batch was started and 409 when one is
// already active for the knowledge base.
func (h *KnowledgebaseHandler) StartBatch(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "id")
	res, err := h.ingest.StartBatchParse(r.Context(), kbID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if !res.Success {
		status = http.StatusConflict
		h.log.Info("batch start rejected", zap.String("kb_id", kbID), zap.String("reason", res.Message))
	}
	writeJSON(w, status, res)
}

func (h *KnowledgebaseHandler) BatchProgress(w http.ResponseWriter, r *http.Request) {
	task, err := h.ingest.BatchParseProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *KnowledgebaseHandler) Progress(w http.ResponseWriter, r *http.Request) {
	rows, err := h.docs.GetKnowledgebaseParseProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kbProgressResponse{Documents: rows})
}
