package llm

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/kbparse/internal/core"
)

// HTTPEmbedder embeds text through one of the HTTP dialects.
type HTTPEmbedder struct {
	client   *resty.Client
	dialect  dialect
	provider Provider
	url      string
	model    string
	apiKey   string
}

var _ core.EmbeddingProvider = (*HTTPEmbedder)(nil)

func NewHTTPEmbedder(s Settings) (*HTTPEmbedder, error) {
	d, ok := dialects[s.Provider]
	if !ok {
		return nil, fmt.Errorf("no http dialect for provider %q", s.Provider)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	return &HTTPEmbedder{
		client:   client,
		dialect:  d,
		provider: s.Provider,
		url:      d.endpoint(s.APIBase),
		model:    NormalizeModelName(s.Model),
		apiKey:   s.APIKey,
	}, nil
}

func (e *HTTPEmbedder) Name() string { return string(e.provider) + ":" + e.model }

// URL is the resolved endpoint requests are posted to.
func (e *HTTPEmbedder) URL() string { return e.url }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(e.dialect.buildRequest(e.model, text))
	if e.apiKey != "" {
		req.SetAuthToken(e.apiKey)
	}

	resp, err := req.Post(e.url)
	if err != nil {
		return nil, fmt.Errorf("embedding request to %s: %w", e.url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("embedding request to %s: status %d: %s", e.url, resp.StatusCode(), snippet(resp.String()))
	}

	vec, err := e.dialect.parseResponse(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("embedding response from %s: %w", e.url, err)
	}
	return vec, nil
}

func snippet(s string) string {
	const max = 256
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
