package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/kbparse/internal/core"
)

// MineruAnalyzer talks to a MinerU style layout service over HTTP.
type MineruAnalyzer struct {
	client  *resty.Client
	baseURL string
}

var _ core.Analyzer = (*MineruAnalyzer)(nil)

func NewMineruAnalyzer(baseURL string, timeout time.Duration) *MineruAnalyzer {
	client := resty.New().
		SetTimeout(timeout).
		SetJSONUnmarshaler(sonic.Unmarshal)
	return &MineruAnalyzer{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type mineruResponse struct {
	Results map[string]mineruResult `json:"results"`
}

type mineruResult struct {
	ContentList string            `json:"content_list"`
	MiddleJSON  string            `json:"middle_json"`
	Images      map[string]string `json:"images"`
}

// Classify picks text mode for PDFs that embed fonts, OCR for scans and images.
func (m *MineruAnalyzer) Classify(_ context.Context, doc *core.SourceDocument) (core.ParseMethod, error) {
	switch doc.Kind {
	case core.KindImage:
		return core.MethodOCR, nil
	case core.KindOffice:
		return core.MethodText, nil
	}
	if bytes.Contains(doc.Data, []byte("/Font")) {
		return core.MethodText, nil
	}
	return core.MethodOCR, nil
}

func (m *MineruAnalyzer) Analyze(ctx context.Context, doc *core.SourceDocument, method core.ParseMethod) (*core.Analysis, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetFileReader("files", doc.Name, bytes.NewReader(doc.Data)).
		SetFormData(map[string]string{
			"parse_method":        string(method),
			"return_content_list": "true",
			"return_middle_json":  "true",
			"return_images":       "true",
		}).
		Post(m.baseURL + "/file_parse")
	if err != nil {
		return nil, fmt.Errorf("layout service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("layout service: status %d: %s", resp.StatusCode(), resp.String())
	}

	var out mineruResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode layout response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("layout service returned no results for %s", doc.Name)
	}

	// One file per request, so the single entry is ours regardless of key.
	var res mineruResult
	for _, r := range out.Results {
		res = r
		break
	}

	analysis := &core.Analysis{}
	if res.ContentList != "" {
		if err := sonic.UnmarshalString(res.ContentList, &analysis.Content); err != nil {
			return nil, fmt.Errorf("decode content list: %w", err)
		}
	}
	if res.MiddleJSON != "" {
		var middle core.MiddleDocument
		if err := sonic.UnmarshalString(res.MiddleJSON, &middle); err != nil {
			return nil, fmt.Errorf("decode middle json: %w", err)
		}
		analysis.Middle = &middle
	}
	if doc.ImageDir != "" {
		if err := writeImages(doc.ImageDir, res.Images); err != nil {
			return nil, err
		}
	}
	return analysis, nil
}

// writeImages stores data-URI or bare base64 images under dir by base name.
func writeImages(dir string, images map[string]string) error {
	for name, payload := range images {
		if i := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && i >= 0 {
			payload = payload[i+1:]
		}
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return fmt.Errorf("decode image %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(name)), raw, 0o644); err != nil {
			return fmt.Errorf("write image %s: %w", name, err)
		}
	}
	return nil
}
