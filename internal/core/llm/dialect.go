package llm

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// dialect is one embedding wire protocol spoken over HTTP.
type dialect interface {
	endpoint(base string) string
	buildRequest(model, text string) any
	parseResponse(body []byte) ([]float32, error)
}

var dialects = map[Provider]dialect{
	ProviderOpenAI: openaiDialect{},
	ProviderOllama: ollamaDialect{},
}

var errEmptyEmbedding = errors.New("response carries no embedding")

// openaiDialect is the batch-input protocol shared by OpenAI compatible servers.
type openaiDialect struct{}

type openaiRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (openaiDialect) endpoint(base string) string { return EmbeddingURL(base, false) }

func (openaiDialect) buildRequest(model, text string) any {
	return openaiRequest{Model: model, Input: text}
}

func (openaiDialect) parseResponse(body []byte) ([]float32, error) {
	var resp openaiResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// ollamaDialect is the single-prompt protocol of Ollama's /api/embeddings.
type ollamaDialect struct{}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (ollamaDialect) endpoint(base string) string { return EmbeddingURL(base, true) }

func (ollamaDialect) buildRequest(model, text string) any {
	return ollamaRequest{Model: model, Prompt: text}
}

func (ollamaDialect) parseResponse(body []byte) ([]float32, error) {
	var resp ollamaResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errEmptyEmbedding
	}
	return resp.Embedding, nil
}
