package ingestion_engine

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

// Geometry is the page and box a content block is assumed to come from.
type Geometry struct {
	PageIdx int
	BBox    core.BBox
}

// DefaultGeometry is used for content blocks past the end of the layout list.
var DefaultGeometry = Geometry{PageIdx: 0, BBox: core.BBox{}}

// imageWindow is how many chunks either side of an image may reference it.
const imageWindow = 5

var markdownControl = regexp.MustCompile(`[!#\\$/]`)

// FlattenGeometry lists the boxed layout blocks page by page. Blocks without
// a usable box are dropped, so the list only lines up with the content list
// by position.
func FlattenGeometry(m *core.MiddleDocument) []Geometry {
	if m == nil {
		return nil
	}
	var out []Geometry
	for pageIdx, page := range m.PdfInfo {
		for _, b := range page.PreprocBlocks {
			if b.BBox.IsZero() {
				continue
			}
			out = append(out, Geometry{PageIdx: pageIdx, BBox: b.BBox})
		}
	}
	return out
}

func geometryAt(list []Geometry, i int) Geometry {
	if i < 0 || i >= len(list) {
		return DefaultGeometry
	}
	return list[i]
}

// blockContent returns the indexable text of a block and whether to keep it.
func blockContent(b core.ContentBlock) (string, bool) {
	switch b.Type {
	case core.BlockText:
		if strings.TrimSpace(b.Text) == "" {
			return "", false
		}
		return markdownControl.ReplaceAllString(b.Text, ""), true
	case core.BlockEquation:
		if strings.TrimSpace(b.Text) == "" {
			return "", false
		}
		return b.Text, true
	case core.BlockTable:
		if strings.TrimSpace(b.TableBody) == "" {
			return "", false
		}
		return string(b.TableCaption) + b.TableBody, true
	}
	return "", false
}

// extractChunks walks the content list in order. Image positions are the
// number of chunks kept before them. Images whose file is missing from
// imageDir are skipped with a warning.
func extractChunks(blocks []core.ContentBlock, geo []Geometry, imageDir string, log *zap.Logger) ([]pendingChunk, []pendingImage) {
	var (
		chunks []pendingChunk
		images []pendingImage
	)
	for i, b := range blocks {
		if b.Type == core.BlockImage {
			if b.ImgPath == "" || imageDir == "" {
				continue
			}
			path := filepath.Join(imageDir, filepath.Base(b.ImgPath))
			if _, err := os.Stat(path); err != nil {
				log.Warn("image file missing, skipped", zap.String("path", path))
				continue
			}
			images = append(images, pendingImage{
				Path:     path,
				Ext:      filepath.Ext(path),
				Position: len(chunks),
			})
			continue
		}

		content, ok := blockContent(b)
		if !ok {
			continue
		}
		chunks = append(chunks, pendingChunk{Content: content, Geo: geometryAt(geo, i)})
	}
	return chunks, images
}

func tokenize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// buildChunk assembles the index record. Boxes are x1,y1,x2,y2 and are
// stored as [page, x1, x2, y1, y2].
func buildChunk(id string, doc *models.Document, p pendingChunk, vec []float32, now time.Time) models.Chunk {
	page := p.Geo.PageIdx + 1
	b := p.Geo.BBox
	return models.Chunk{
		ID:                 id,
		DocID:              doc.ID,
		KbID:               doc.KbID,
		DocName:            doc.Name,
		TitleTks:           tokenize(doc.Name),
		TitleSmTks:         tokenize(doc.Name),
		Content:            p.Content,
		ContentLtks:        tokenize(p.Content),
		ContentSmLtks:      tokenize(p.Content),
		PageNum:            []int{page},
		Position:           [][]int{{page, int(b[0]), int(b[2]), int(b[1]), int(b[3])}},
		Top:                []int{1},
		CreateTime:         now.Format(time.DateTime),
		CreateTimestampFlt: float64(now.UnixNano()) / 1e9,
		Vector:             vec,
	}
}

// associateImages sets img_id (<kb bucket>/<image key>) on every chunk within
// imageWindow of an image. When several images qualify the last one in the
// list wins.
func associateImages(kbID string, chunks []models.Chunk, images []pendingImage) {
	if len(images) == 0 {
		return
	}
	for i := range chunks {
		var match *pendingImage
		for j := range images {
			d := i - images[j].Position
			if d < 0 {
				d = -d
			}
			if d < imageWindow {
				match = &images[j]
			}
		}
		if match != nil {
			chunks[i].ImgID = kbID + "/" + match.Key
		}
	}
}
