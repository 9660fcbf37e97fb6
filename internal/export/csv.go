// Package export renders tax reports into file formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// Header is the column order of the CSV rendering.
var Header = []string{
	"date",
	"timestamp",
	"function",
	"in_amount",
	"in_currency",
	"out_amount",
	"out_currency",
	"fee",
	"tx_hash",
}

// WriteCSV writes rows with a header line. The date column is the UTC
// RFC3339 rendering of the row timestamp.
func WriteCSV(w io.Writer, rows []domain.TaxRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for i, r := range rows {
		record := []string{
			time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
			strconv.FormatInt(r.Timestamp, 10),
			r.Function,
			r.InAmount,
			r.InCurrency,
			r.OutAmount,
			r.OutCurrency,
			r.Fee,
			r.TxHash,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}
