package export

import (
	"errors"
	"fmt"
)

// Supported export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

var errNoHeaders = errors.New("dataset has no headers")

// Dataset is a titled table. Rows are keyed by header; missing keys render
// as empty cells.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Records projects the rows onto the header order.
func (d Dataset) Records() [][]string {
	out := make([][]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		record := make([]string, len(d.Headers))
		for i, header := range d.Headers {
			record[i] = row[header]
		}
		out = append(out, record)
	}
	return out
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return errNoHeaders
	}
	return nil
}

// Renderer turns a dataset into file bytes.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat resolves the renderer for a format name. Empty means CSV.
func ForFormat(format string) (Renderer, error) {
	switch format {
	case "", FormatCSV:
		return NewCSVExporter(), nil
	case FormatPDF:
		return NewPDFExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
