package analyzer

import (
	"fmt"

	"github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/core"
)

// New returns the layout backend selected by DECODER.
func New(cfg *config.Config) (core.Analyzer, error) {
	switch cfg.Decoder {
	case "mineru":
		if cfg.MineruURL == "" {
			return nil, fmt.Errorf("decoder mineru needs MINERU_URL: %w", core.ErrInvalidInput)
		}
		return NewMineruAnalyzer(cfg.MineruURL, cfg.MineruTimeout), nil
	case "docconv":
		return NewDocconvAnalyzer(false), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q: %w", cfg.Decoder, core.ErrInvalidInput)
	}
}
