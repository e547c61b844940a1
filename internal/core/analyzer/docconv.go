package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/kbparse/internal/core"
)

// DocconvAnalyzer extracts plain text locally. It has no page geometry.
type DocconvAnalyzer struct {
	useReadability bool
}

var _ core.Analyzer = (*DocconvAnalyzer)(nil)

func NewDocconvAnalyzer(useReadability bool) *DocconvAnalyzer {
	return &DocconvAnalyzer{useReadability: useReadability}
}

func (d *DocconvAnalyzer) Classify(_ context.Context, doc *core.SourceDocument) (core.ParseMethod, error) {
	if doc.Kind == core.KindImage {
		return core.MethodOCR, nil
	}
	return core.MethodText, nil
}

func (d *DocconvAnalyzer) Analyze(ctx context.Context, doc *core.SourceDocument, _ core.ParseMethod) (*core.Analysis, error) {
	var body string
	switch strings.ToLower(filepath.Ext(doc.Name)) {
	case ".txt", ".md", ".markdown":
		body = string(doc.Data)
	default:
		mime := docconv.MimeTypeByExtension(doc.Name)
		res, err := docconv.Convert(bytes.NewReader(doc.Data), mime, d.useReadability)
		if err != nil {
			return nil, fmt.Errorf("docconv %s (%s): %w", doc.Name, mime, err)
		}
		body = res.Body
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &core.Analysis{Content: paragraphs(body)}, nil
}

// paragraphs splits text on blank lines into text blocks on page 0.
func paragraphs(text string) []core.ContentBlock {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []core.ContentBlock
	var cur []string
	flush := func() {
		if len(cur) == 0 {
			return
		}
		blocks = append(blocks, core.ContentBlock{Type: core.BlockText, Text: strings.Join(cur, "\n")})
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}
