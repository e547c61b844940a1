package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbparse/internal/core/llm"
	"github.com/markdave123-py/kbparse/internal/models"
)

// EmbeddingService owns the system embedding configuration: the newest
// embedding row of the earliest registered user, with env values as fallback.
type EmbeddingService struct {
	db          core.DbClient
	env         llm.Settings
	newEmbedder ingestion_engine.EmbedderFactory
	log         *zap.Logger
}

func NewEmbeddingService(db core.DbClient, env llm.Settings, newEmbedder ingestion_engine.EmbedderFactory, log *zap.Logger) *EmbeddingService {
	return &EmbeddingService{db: db, env: env, newEmbedder: newEmbedder, log: log}
}

func (s *EmbeddingService) systemTenant(ctx context.Context) (string, error) {
	u, err := s.db.GetEarliestUser(ctx)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", fmt.Errorf("system user: %w", core.ErrNotFound)
	}
	return u.ID, nil
}

// SystemConfig returns the stored row, or nil when none exists.
func (s *EmbeddingService) SystemConfig(ctx context.Context) (*models.EmbeddingConfig, error) {
	tenant, err := s.systemTenant(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s.db.GetEmbeddingConfig(ctx, tenant)
}

// Settings resolves the settings a parse should embed with.
func (s *EmbeddingService) Settings(ctx context.Context) (llm.Settings, error) {
	row, err := s.SystemConfig(ctx)
	if err != nil {
		return llm.ResolveSettings(nil, s.env), err
	}
	return llm.ResolveSettings(row, s.env), nil
}

// SetSystemConfig saves cfg for the system tenant after a successful
// connection test. A failed test is reported in the result, not as an error.
func (s *EmbeddingService) SetSystemConfig(ctx context.Context, cfg models.EmbeddingConfig) (models.ActionResult, error) {
	cfg.LLMName = strings.TrimSpace(cfg.LLMName)
	cfg.APIBase = strings.TrimSpace(cfg.APIBase)
	if cfg.LLMName == "" {
		return models.ActionResult{}, fmt.Errorf("llm_name is required: %w", core.ErrInvalidInput)
	}

	if err := s.check(ctx, llm.ResolveSettings(&cfg, s.env)); err != nil {
		return models.ActionResult{Success: false, Message: err.Error()}, nil
	}

	tenant, err := s.systemTenant(ctx)
	if err != nil {
		return models.ActionResult{}, err
	}
	if err := s.db.SaveEmbeddingConfig(ctx, tenant, cfg); err != nil {
		return models.ActionResult{}, fmt.Errorf("save embedding config: %w", err)
	}
	s.log.Info("system embedding config saved", zap.String("model", cfg.LLMName), zap.String("api_base", cfg.APIBase))
	return models.ActionResult{Success: true, Message: "embedding config saved, connection test passed"}, nil
}

// TestConnection checks cfg, or the current system settings when cfg is nil.
func (s *EmbeddingService) TestConnection(ctx context.Context, cfg *models.EmbeddingConfig) (models.ActionResult, error) {
	var settings llm.Settings
	if cfg != nil {
		settings = llm.ResolveSettings(cfg, s.env)
	} else {
		var err error
		if settings, err = s.Settings(ctx); err != nil {
			return models.ActionResult{}, err
		}
	}
	if err := s.check(ctx, settings); err != nil {
		return models.ActionResult{Success: false, Message: err.Error()}, nil
	}
	return models.ActionResult{Success: true, Message: "connection test passed: " + settings.Model}, nil
}

func (s *EmbeddingService) check(ctx context.Context, settings llm.Settings) error {
	emb, err := s.newEmbedder(ctx, settings)
	if err != nil {
		return err
	}
	if c, ok := emb.(io.Closer); ok {
		defer c.Close()
	}
	return llm.CheckConnection(ctx, emb)
}
