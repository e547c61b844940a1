package core

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
)

// ParseMethod is the decoding mode a backend picks for a document.
type ParseMethod string

const (
	MethodOCR  ParseMethod = "ocr"
	MethodText ParseMethod = "txt"
)

// SourceKind tells a backend what family of file it is looking at.
type SourceKind string

const (
	KindPDF    SourceKind = "pdf"
	KindOffice SourceKind = "office"
	KindImage  SourceKind = "image"
)

// SourceDocument is a fetched blob handed to a decoding backend.
// ImageDir is where the backend writes extracted figures.
type SourceDocument struct {
	Name     string
	Kind     SourceKind
	Data     []byte
	ImageDir string
}

// Analysis is the decoded form of a document: the ordered content list and
// the page geometry. Middle is nil when the backend has no layout information.
type Analysis struct {
	Content []ContentBlock
	Middle  *MiddleDocument
}

// Analyzer is a layout/OCR decoding backend.
type Analyzer interface {
	Classify(ctx context.Context, doc *SourceDocument) (ParseMethod, error)
	Analyze(ctx context.Context, doc *SourceDocument, method ParseMethod) (*Analysis, error)
}

const (
	BlockText     = "text"
	BlockTable    = "table"
	BlockEquation = "equation"
	BlockImage    = "image"
)

// ContentBlock is one entry of a decoded content list.
type ContentBlock struct {
	Type         string  `json:"type"`
	Text         string  `json:"text,omitempty"`
	TextLevel    int     `json:"text_level,omitempty"`
	ImgPath      string  `json:"img_path,omitempty"`
	TableBody    string  `json:"table_body,omitempty"`
	TableCaption Caption `json:"table_caption,omitempty"`
	PageIdx      int     `json:"page_idx"`
}

// Caption accepts a list of strings (joined with a space) or a plain string.
// Anything else decodes to the empty caption.
type Caption string

func (c *Caption) UnmarshalJSON(b []byte) error {
	var parts []string
	if err := sonic.Unmarshal(b, &parts); err == nil {
		*c = Caption(strings.Join(parts, " "))
		return nil
	}
	var s string
	if err := sonic.Unmarshal(b, &s); err == nil {
		*c = Caption(s)
		return nil
	}
	*c = ""
	return nil
}

// MiddleDocument is the per-page layout produced next to the content list.
type MiddleDocument struct {
	PdfInfo []MiddlePage `json:"pdf_info"`
}

type MiddlePage struct {
	PageIdx       int           `json:"page_idx"`
	PreprocBlocks []MiddleBlock `json:"preproc_blocks"`
}

type MiddleBlock struct {
	Type string `json:"type"`
	BBox BBox   `json:"bbox"`
}

// BBox is x1, y1, x2, y2. A malformed value decodes to the zero box.
type BBox [4]float64

func (b *BBox) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := sonic.Unmarshal(data, &raw); err != nil || len(raw) != 4 {
		*b = BBox{}
		return nil
	}
	var out BBox
	for i, v := range raw {
		n, ok := v.(float64)
		if !ok {
			*b = BBox{}
			return nil
		}
		out[i] = n
	}
	*b = out
	return nil
}

// IsZero reports the box carries no position.
func (b BBox) IsZero() bool {
	return b == BBox{}
}
