// Package ingestion stores uploaded files, extracts their text and splits it into chunks.
package ingestion

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file types no parser handles.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// DocumentFormat enumerates supported upload formats.
type DocumentFormat string

const (
	FormatUnknown  DocumentFormat = ""
	FormatText     DocumentFormat = "text"
	FormatMarkdown DocumentFormat = "markdown"
	FormatPDF      DocumentFormat = "pdf"
	FormatDOCX     DocumentFormat = "docx"
	FormatCSV      DocumentFormat = "csv"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt":
		return FormatText
	case ".md", ".markdown":
		return FormatMarkdown
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}

func parserFor(format DocumentFormat) (DocumentParser, bool) {
	switch format {
	case FormatText:
		return textParser{}, true
	case FormatMarkdown:
		return markdownParser{}, true
	case FormatPDF:
		return pdfParser{}, true
	case FormatDOCX:
		return docxParser{}, true
	case FormatCSV:
		return csvParser{}, true
	default:
		return nil, false
	}
}
