package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/export"
)

// Exporter implements domain.ReportExporter by uploading a CSV rendering of
// the rows and the full JSON report next to it.
//
//	reports/erd1.../2024-01-01_2024-12-31/<id>.csv
//	reports/erd1.../2024-01-01_2024-12-31/<id>.json
type Exporter struct {
	writer domain.BlobWriter
	prefix string
}

// NewExporter creates an Exporter writing under prefix ("reports" when empty).
func NewExporter(writer domain.BlobWriter, prefix string) *Exporter {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "reports"
	}
	return &Exporter{writer: writer, prefix: prefix}
}

// Export uploads the report and returns the key of the CSV object.
func (e *Exporter) Export(ctx context.Context, report domain.Report) (string, error) {
	base := reportPath(e.prefix, report)

	var csvBuf bytes.Buffer
	if err := export.WriteCSV(&csvBuf, report.TaxRelevantTransactions); err != nil {
		return "", fmt.Errorf("s3blob: export %s: %w", report.ID, err)
	}
	csvKey := base + ".csv"
	if err := e.writer.Put(ctx, csvKey, &csvBuf, "text/csv"); err != nil {
		return "", fmt.Errorf("s3blob: export %s: %w", report.ID, err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("s3blob: export %s: marshal: %w", report.ID, err)
	}
	if err := e.writer.Put(ctx, base+".json", bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: export %s: %w", report.ID, err)
	}
	return csvKey, nil
}

func reportPath(prefix string, report domain.Report) string {
	window := report.From.UTC().Format("2006-01-02") + "_" + report.To.UTC().Format("2006-01-02")
	return path.Join(prefix, report.Wallet, window, report.ID)
}

// Compile-time interface check.
var _ domain.ReportExporter = (*Exporter)(nil)
