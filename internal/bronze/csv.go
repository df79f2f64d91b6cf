package bronze

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
)

// FallbackFileLayout names side files written when the bronze load fails.
const FallbackFileLayout = "mastodon_data_20060102_150405.csv"

// FallbackFileName returns the side-file name for a failure at now.
func FallbackFileName(now time.Time) string {
	return now.UTC().Format(FallbackFileLayout)
}

// WriteCSV writes records as CSV with a header row. Nulls become empty cells.
func WriteCSV(w io.Writer, records []normalize.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	cells := make([]string, len(RecordColumns))
	for _, rec := range records {
		for i, v := range recordValues(rec) {
			cells[i] = csvCell(v)
		}
		if err := cw.Write(cells); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func csvCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case bool:
		return strconv.FormatBool(x)
	case *bool:
		if x == nil {
			return ""
		}
		return strconv.FormatBool(*x)
	case *int64:
		if x == nil {
			return ""
		}
		return strconv.FormatInt(*x, 10)
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
