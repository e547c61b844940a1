package ingestion_engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/kbparse/internal/core"
)

type decoderFamily string

const (
	familyPDF    decoderFamily = "pdf"
	familyOffice decoderFamily = "office"
	familyExcel  decoderFamily = "excel"
	familyVisual decoderFamily = "visual"
)

var officeSuffixes = []string{"word", "ppt", "txt", "md", "html"}

// decoderFor maps a document type to its decoder family by suffix.
func decoderFor(fileType string) (decoderFamily, core.SourceKind, error) {
	t := strings.ToLower(strings.TrimSpace(fileType))
	switch {
	case strings.HasSuffix(t, "pdf"):
		return familyPDF, core.KindPDF, nil
	case hasAnySuffix(t, officeSuffixes):
		return familyOffice, core.KindOffice, nil
	case strings.HasSuffix(t, "excel"):
		return familyExcel, core.KindOffice, nil
	case strings.HasSuffix(t, "visual"):
		return familyVisual, core.KindImage, nil
	}
	return "", "", fmt.Errorf("%w: %q", core.ErrUnsupportedType, fileType)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// sourceName prefers the display name but falls back to the stored key
// when the name carries no extension, so backends can sniff the format.
func sourceName(name, location string) string {
	if filepath.Ext(name) != "" || location == "" {
		return name
	}
	return filepath.Base(location)
}
