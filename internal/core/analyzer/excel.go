package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/markdave123-py/kbparse/internal/core"
)

// ExcelAnalyzer turns every data row of the first sheet into a table block.
type ExcelAnalyzer struct{}

var _ core.Analyzer = ExcelAnalyzer{}

// Classify always reports text; spreadsheets are never OCR'd.
func (ExcelAnalyzer) Classify(context.Context, *core.SourceDocument) (core.ParseMethod, error) {
	return core.MethodText, nil
}

func (ExcelAnalyzer) Analyze(_ context.Context, doc *core.SourceDocument, _ core.ParseMethod) (*core.Analysis, error) {
	f, err := excelize.OpenReader(bytes.NewReader(doc.Data))
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %s: %w", doc.Name, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &core.Analysis{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return &core.Analysis{}, nil
	}

	header := rows[0]
	blocks := make([]core.ContentBlock, 0, len(rows)-1)
	for _, row := range rows[1:] {
		blocks = append(blocks, core.ContentBlock{
			Type:      core.BlockTable,
			TableBody: rowTable(header, row),
		})
	}
	return &core.Analysis{Content: blocks}, nil
}

func rowTable(header, row []string) string {
	var sb strings.Builder
	sb.WriteString("<html><body><table><tr>")
	for _, h := range header {
		sb.WriteString("<td>" + h + "</td>")
	}
	sb.WriteString("</tr><tr>")
	for i := range header {
		v := ""
		if i < len(row) {
			v = row[i]
		}
		sb.WriteString("<td>" + v + "</td>")
	}
	sb.WriteString("</tr></table></body></html>")
	return sb.String()
}
