package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

// EmbeddingConfigurator manages the system embedding configuration.
type EmbeddingConfigurator interface {
	SystemConfig(ctx context.Context) (*models.EmbeddingConfig, error)
	SetSystemConfig(ctx context.Context, cfg models.EmbeddingConfig) (models.ActionResult, error)
	TestConnection(ctx context.Context, cfg *models.EmbeddingConfig) (models.ActionResult, error)
}

type EmbeddingHandler struct {
	embeddings EmbeddingConfigurator
}

func NewEmbeddingHandler(embeddings EmbeddingConfigurator) *EmbeddingHandler {
	return &EmbeddingHandler{embeddings: embeddings}
}

type embeddingConfigResponse struct {
	Configured bool   `json:"configured"`
	LLMName    string `json:"llm_name"`
	APIBase    string `json:"api_base"`
	HasAPIKey  bool   `json:"has_api_key"`
}

// Get never echoes the stored api key.
func (h *EmbeddingHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.embeddings.SystemConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, embeddingConfigResponse{})
		return
	}
	writeJSON(w, http.StatusOK, embeddingConfigResponse{
		Configured: true,
		LLMName:    cfg.LLMName,
		APIBase:    cfg.APIBase,
		HasAPIKey:  cfg.APIKey != "",
	})
}

func (h *EmbeddingHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req models.EmbeddingConfig
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("decode body: %v: %w", err, core.ErrInvalidInput))
		return
	}
	res, err := h.embeddings.SetSystemConfig(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

// Test checks the posted config, or the stored one when the body is empty.
func (h *EmbeddingHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req models.EmbeddingConfig
	present, err := decodeBody(r, &req)
	if err != nil {
		writeError(w, fmt.Errorf("decode body: %v: %w", err, core.ErrInvalidInput))
		return
	}
	var cfg *models.EmbeddingConfig
	if present && req.LLMName != "" {
		cfg = &req
	}
	res, err := h.embeddings.TestConnection(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
