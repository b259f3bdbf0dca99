package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mdunlap1/mrfy/internal/mrf"
)

func TestHeaderAlwaysWritten(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got := strings.TrimSpace(buf.String())
	want := "npi,tin_type,tin_value,billing_code,billing_code_type,negotiated_type,negotiated_rate,billing_class,expiration_date,service_code,billing_code_modifier"
	if got != want {
		t.Errorf("empty run output = %q, want just the header", got)
	}
}

func TestWriteRecord(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}

	rec := mrf.Record{
		NPI:             1234567890,
		TIN:             mrf.TIN{Type: "ein", Value: "12-3456789"},
		BillingCode:     "99213",
		BillingCodeType: "CPT",
		Price: mrf.Price{
			NegotiatedType: "negotiated",
			Rate:           decimal.RequireFromString("42.50"),
			HasRate:        true,
			BillingClass:   "professional",
			ExpirationDate: "9999-12-31",
			ServiceCode:    "11 12",
		},
	}
	if err := w.Write(rec); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header plus one record", len(lines))
	}
	want := "1234567890,ein,12-3456789,99213,CPT,negotiated,42.50,professional,9999-12-31,11 12,null"
	if lines[1] != want {
		t.Errorf("record line = %q, want %q", lines[1], want)
	}
}

func TestWriteNullDefaults(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}

	// A provider match with no price details: everything but identity is null.
	rec := mrf.Record{
		NPI:         1234567890,
		TIN:         mrf.TIN{Type: "ein", Value: "12-3456789"},
		BillingCode: "99213",
	}
	if err := w.Write(rec); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := "1234567890,ein,12-3456789,99213,null,null,null,null,null,null,null"
	if lines[1] != want {
		t.Errorf("record line = %q, want %q", lines[1], want)
	}
}

func TestRateScale(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"42.50", "42.50"},
		{"42.5", "42.5"},
		{"100", "100"},
		{"0.001", "0.001"},
	}
	for _, tc := range cases {
		d := decimal.RequireFromString(tc.in)
		if got := rateString(d); got != tc.want {
			t.Errorf("rateString(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
