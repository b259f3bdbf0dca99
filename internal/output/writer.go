package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"github.com/mdunlap1/mrfy/internal/mrf"
)

// header matches the record fields one to one. It is written even when a run
// finds nothing, so downstream tooling always sees a well-formed file.
var header = []string{
	"npi",
	"tin_type",
	"tin_value",
	"billing_code",
	"billing_code_type",
	"negotiated_type",
	"negotiated_rate",
	"billing_class",
	"expiration_date",
	"service_code",
	"billing_code_modifier",
}

// Writer emits matched records as CSV rows. Fields absent from the source
// document are written as the literal "null".
type Writer struct {
	cw  *csv.Writer
	c   io.Closer
	row []string
}

// Open creates a CSV writer for path and writes the header row. The path
// "-" selects standard output.
func Open(path string) (*Writer, error) {
	w := &Writer{cw: csv.NewWriter(os.Stdout), row: make([]string, len(header))}
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("creating output file: %w", err)
		}
		w.cw = csv.NewWriter(f)
		w.c = f
	}
	if err := w.cw.Write(header); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return w, nil
}

// NewWriter wraps an arbitrary destination, writing the header immediately.
func NewWriter(dst io.Writer) (*Writer, error) {
	w := &Writer{cw: csv.NewWriter(dst), row: make([]string, len(header))}
	if err := w.cw.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return w, nil
}

// rateString renders a rate with the scale it was written with: a document
// saying 42.50 comes out as 42.50, not 42.5.
func rateString(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// Write appends one record as a CSV row.
func (w *Writer) Write(rec mrf.Record) error {
	rate := "null"
	if rec.HasRate {
		rate = rateString(rec.Rate)
	}
	w.row = append(w.row[:0],
		fmt.Sprintf("%d", rec.NPI),
		orNull(rec.TIN.Type),
		orNull(rec.TIN.Value),
		orNull(rec.BillingCode),
		orNull(rec.BillingCodeType),
		orNull(rec.NegotiatedType),
		rate,
		orNull(rec.BillingClass),
		orNull(rec.ExpirationDate),
		orNull(rec.ServiceCode),
		orNull(rec.Modifier),
	)
	return w.cw.Write(w.row)
}

// Close flushes buffered rows and closes the underlying file, reporting the
// first error encountered.
func (w *Writer) Close() error {
	w.cw.Flush()
	err := w.cw.Error()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}
