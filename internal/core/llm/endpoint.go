package llm

import (
	"strings"
	"time"

	"github.com/markdave123-py/kbparse/internal/models"
)

const (
	DefaultModel     = "bge-m3"
	DefaultLocalBase = "http://localhost:8000"
	DefaultCloudBase = "https://api.siliconflow.cn/v1/embeddings"
	DefaultTimeout   = 15 * time.Second

	ollamaPortMarker = "11434"
	geminiHostMarker = "generativelanguage.googleapis.com"
	modelSeparator   = "___"
)

var modelAliases = map[string]string{
	"netease-youdao/bce-embedding-base_v1": "BAAI/bge-m3",
}

// Provider tags an embedding protocol dialect.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
)

// Settings is everything needed to build an embedder.
type Settings struct {
	Provider Provider
	Model    string
	APIBase  string
	APIKey   string
	Timeout  time.Duration
}

// NormalizeBase adds a missing http scheme and drops trailing slashes.
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/")
}

// IsOllama reports whether base points at a local Ollama server.
func IsOllama(base string) bool {
	return strings.Contains(NormalizeBase(base), ollamaPortMarker)
}

// EmbeddingURL completes base into the embeddings endpoint of the dialect.
// Applying it to its own output returns the same URL.
func EmbeddingURL(base string, isOllama bool) string {
	u := NormalizeBase(base)
	switch {
	case isOllama:
		if strings.HasSuffix(u, "/api/embeddings") {
			return u
		}
		return u + "/api/embeddings"
	case strings.HasSuffix(u, "/v1"):
		return u + "/embeddings"
	case strings.HasSuffix(u, "/embeddings"):
		return u
	default:
		return u + "/v1/embeddings"
	}
}

// DetectProvider picks the dialect from markers in the base URL.
func DetectProvider(base string) Provider {
	switch {
	case IsOllama(base):
		return ProviderOllama
	case strings.Contains(base, geminiHostMarker):
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

// NormalizeModelName strips composite suffixes and applies legacy aliases.
func NormalizeModelName(name string) string {
	if i := strings.Index(name, modelSeparator); i >= 0 {
		name = name[:i]
	}
	if alias, ok := modelAliases[name]; ok {
		name = alias
	}
	if name == "" {
		name = DefaultModel
	}
	return name
}

// ResolveSettings merges a stored tenant embedding row over env defaults.
// A nil row means no system configuration exists and env values are used as is.
func ResolveSettings(row *models.EmbeddingConfig, env Settings) Settings {
	out := env
	if row != nil {
		if row.LLMName != "" {
			out.Model = row.LLMName
		}
		out.APIBase = row.APIBase
		if out.APIBase == "" {
			out.APIBase = DefaultCloudBase
		}
		out.APIKey = row.APIKey
	}
	if out.APIBase == "" {
		out.APIBase = DefaultLocalBase
	}
	out.Model = NormalizeModelName(out.Model)
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Provider == "" {
		out.Provider = DetectProvider(out.APIBase)
	}
	return out
}
