package mrf

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mdunlap1/mrfy/internal/query"
	"github.com/mdunlap1/mrfy/internal/scan"
	"github.com/mdunlap1/mrfy/internal/source"
)

const defaultQuery = `npi
    1234567890
CPT
    99213
`

type runResult struct {
	records  []Record
	res      *Result
	tr       *query.Tracker
	warnings []string
	meta     map[string]string
}

func runDoc(t *testing.T, doc, queryText string, chunk int) (*runResult, error) {
	t.Helper()
	q, err := query.Parse(strings.NewReader(queryText))
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	rr := &runResult{tr: query.NewTracker(q), meta: make(map[string]string)}
	cb := Callbacks{
		OnMeta:    func(f, v string) { rr.meta[f] = v },
		OnWarning: func(msg string) { rr.warnings = append(rr.warnings, msg) },
	}
	emit := func(rec Record) { rr.records = append(rr.records, rec) }

	sc := scan.New(source.New(strings.NewReader(doc), chunk))
	rr.res, err = Run(sc, q, rr.tr, cb, emit, nil)
	if err != nil {
		return rr, err
	}
	if rr.res.NeedSecondPass {
		sc = scan.New(source.New(strings.NewReader(doc), chunk))
		_, err = Run(sc, q, rr.tr, cb, emit, rr.res.Index)
	}
	return rr, err
}

const basicDoc = `{
  "reporting_entity_name": "Acme Health",
  "reporting_entity_type": "payer",
  "last_updated_on": "2026-08-01",
  "version": "1.0.0",
  "provider_references": [
    {
      "provider_group_id": 1,
      "provider_groups": [
        {"npi": [1234567890, 1111111111], "tin": {"type": "ein", "value": "12-3456789"}}
      ]
    },
    {
      "provider_group_id": 2,
      "provider_groups": [
        {"npi": [2222222222], "tin": {"type": "ein", "value": "99-9999999"}}
      ]
    }
  ],
  "in_network": [
    {
      "billing_code": "99213",
      "billing_code_type": "CPT",
      "negotiated_rates": [
        {
          "provider_references": [1],
          "negotiated_prices": [
            {
              "negotiated_type": "negotiated",
              "negotiated_rate": 42.50,
              "billing_class": "professional",
              "expiration_date": "9999-12-31",
              "service_code": ["11", "12"]
            }
          ]
        }
      ]
    },
    {
      "billing_code": "70000",
      "billing_code_type": "CPT",
      "negotiated_rates": [
        {
          "provider_references": [1],
          "negotiated_prices": [{"negotiated_type": "negotiated", "negotiated_rate": 1.00}]
        }
      ]
    }
  ]
}`

func TestExtractBasic(t *testing.T) {
	for _, chunk := range []int{1, 3, 16, 1 << 12} {
		rr, err := runDoc(t, basicDoc, defaultQuery, chunk)
		if err != nil {
			t.Fatalf("chunk=%d Run: %v", chunk, err)
		}

		if len(rr.records) != 1 {
			t.Fatalf("chunk=%d got %d records, want 1: %+v", chunk, len(rr.records), rr.records)
		}
		rec := rr.records[0]
		if rec.NPI != 1234567890 {
			t.Errorf("NPI = %d", rec.NPI)
		}
		if rec.TIN != (TIN{Type: "ein", Value: "12-3456789"}) {
			t.Errorf("TIN = %+v", rec.TIN)
		}
		if rec.BillingCode != "99213" || rec.BillingCodeType != "CPT" {
			t.Errorf("code = %s %s", rec.BillingCode, rec.BillingCodeType)
		}
		if !rec.HasRate || !rec.Rate.Equal(decimal.RequireFromString("42.50")) {
			t.Errorf("rate = %q (HasRate=%v)", rec.Rate.String(), rec.HasRate)
		}
		// The rate keeps the scale it was written with.
		if rec.Rate.Exponent() != -2 {
			t.Errorf("rate exponent = %d, want -2", rec.Rate.Exponent())
		}
		if rec.ServiceCode != "11 12" {
			t.Errorf("service code = %q", rec.ServiceCode)
		}
		if rec.NegotiatedType != "negotiated" || rec.BillingClass != "professional" || rec.ExpirationDate != "9999-12-31" {
			t.Errorf("price fields = %+v", rec.Price)
		}

		if rr.meta["reporting_entity_name"] != "Acme Health" || rr.meta["version"] != "1.0.0" {
			t.Errorf("metadata = %v", rr.meta)
		}
		if rr.res.Index.Len() != 1 {
			t.Errorf("index retained %d refs, want only the matching one", rr.res.Index.Len())
		}
		if rr.res.EarlyExit || rr.res.NeedSecondPass {
			t.Errorf("unexpected result flags: %+v", rr.res)
		}
	}
}

// String-encoded NPIs, rates, and group ids appear in real files and must
// behave like their unquoted forms.
func TestStringEncodedValues(t *testing.T) {
	doc := `{
	  "provider_references": [
	    {
	      "provider_group_id": "G-7",
	      "provider_groups": [
	        {"npi": ["1234567890"], "tin": {"type": "ein", "value": "12-3456789"}}
	      ]
	    }
	  ],
	  "in_network": [
	    {
	      "billing_code": "99213",
	      "billing_code_type": "CPT",
	      "negotiated_rates": [
	        {
	          "provider_references": ["G-7"],
	          "negotiated_prices": [{"negotiated_type": "fee schedule", "negotiated_rate": "42.50"}]
	        }
	      ]
	    }
	  ]
	}`
	rr, err := runDoc(t, doc, defaultQuery, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(rr.records) != 1 {
		t.Fatalf("got %d records, want 1", len(rr.records))
	}
	rec := rr.records[0]
	if rec.NPI != 1234567890 {
		t.Errorf("NPI = %d", rec.NPI)
	}
	// A string-encoded rate keeps its written scale.
	if !rec.HasRate || !rec.Rate.Equal(decimal.RequireFromString("42.50")) || rec.Rate.Exponent() != -2 {
		t.Errorf("rate = %q exp %d", rec.Rate.String(), rec.Rate.Exponent())
	}
}

// Fractional group ids must match by token text, not numeric value.
func TestFractionalRefID(t *testing.T) {
	doc := `{
	  "provider_references": [
	    {"provider_group_id": 1.5, "provider_groups": [
	      {"npi": [1234567890], "tin": {"type": "ein", "value": "12-3456789"}}
	    ]}
	  ],
	  "in_network": [
	    {"billing_code": "99213", "billing_code_type": "CPT", "negotiated_rates": [
	      {"provider_references": [1.5], "negotiated_prices": [{"negotiated_rate": 10}]},
	      {"provider_references": [1.50], "negotiated_prices": [{"negotiated_rate": 20}]}
	    ]}
	  ]
	}`
	rr, err := runDoc(t, doc, defaultQuery, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(rr.records) != 1 {
		t.Fatalf("got %d records, want only the textual 1.5 reference to match", len(rr.records))
	}
	if rr.records[0].Rate.String() != "10" {
		t.Errorf("rate = %q", rr.records[0].Rate.String())
	}
}

func TestInlineProviderGroups(t *testing.T) {
	doc := `{
	  "provider_references": [
	    {"provider_group_id": 9, "provider_groups": [
	      {"npi": [1234567890], "tin": {"type": "ein", "value": "12-3456789"}}
	    ]}
	  ],
	  "in_network": [
	    {"billing_code": "99213", "billing_code_type": "CPT", "negotiated_rates": [
	      {
	        "provider_groups": [
	          {"npi": [1234567890], "tin": {"type": "npi", "value": "1234567890"}},
	          {"npi": [3333333333], "tin": {"type": "ein", "value": "33-3333333"}}
	        ],
	        "negotiated_prices": [{"negotiated_rate": 55}]
	      }
	    ]}
	  ]
	}`
	rr, err := runDoc(t, doc, defaultQuery, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(rr.records) != 1 {
		t.Fatalf("got %d records, want 1 from the inline group", len(rr.records))
	}
	if rr.records[0].TIN.Type != "npi" {
		t.Errorf("TIN = %+v, want the inline group's TIN", rr.records[0].TIN)
	}
}

func TestNullAndMissingFields(t *testing.T) {
	doc := `{
	  "provider_references": [
	    {"provider_group_id": 1, "provider_groups": [
	      {"npi": [1234567890], "tin": {"type": "ein", "value": null}}
	    ]}
	  ],
	  "in_network": [
	    {"billing_code": "99213", "billing_code_type": "CPT", "negotiated_rates": [
	      {"provider_references": [1]}
	    ]}
	  ]
	}`
	rr, err := runDoc(t, doc, defaultQuery, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(rr.records) != 1 {
		t.Fatalf("got %d records, want a single all-null price row", len(rr.records))
	}
	rec := rr.records[0]
	if rec.TIN.Value != "null" {
		t.Errorf("null TIN value = %q, want the literal null", rec.TIN.Value)
	}
	if rec.HasRate {
		t.Errorf("HasRate = true with no negotiated_prices")
	}
	if rec.NegotiatedType != "" || rec.ExpirationDate != "" {
		t.Errorf("price fields should stay empty: %+v", rec.Price)
	}
}

// When no query provider appears in the references, the rate section must
// not be read at all. The in_network value here is deliberately invalid
// JSON: touching it would fail the run.
func TestEarlyExit(t *testing.T) {
	doc := `{
	  "provider_references": [
	    {"provider_group_id": 1, "provider_groups": [
	      {"npi": [9999999999], "tin": {"type": "ein", "value": "00-0000000"}}
	    ]}
	  ],
	  "in_network": [ !!! this is never parsed !!! ]
	}`
	rr, err := runDoc(t, doc, defaultQuery, 16)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rr.res.EarlyExit {
		t.Errorf("EarlyExit = false")
	}
	if len(rr.records) != 0 {
		t.Errorf("records = %d, want 0", len(rr.records))
	}
}

func TestOutOfOrderSections(t *testing.T) {
	doc := `{
	  "in_network": [
	    {"billing_code": "99213", "billing_code_type": "CPT", "negotiated_rates": [
	      {"provider_references": [1], "negotiated_prices": [{"negotiated_rate": 42.50}]}
	    ]}
	  ],
	  "provider_references": [
	    {"provider_group_id": 1, "provider_groups": [
	      {"npi": [1234567890], "tin": {"type": "ein", "value": "12-3456789"}}
	    ]}
	  ]
	}`

	q, err := query.Parse(strings.NewReader(defaultQuery))
	if err != nil {
		t.Fatal(err)
	}
	tr := query.NewTracker(q)
	var records []Record
	emit := func(rec Record) { records = append(records, rec) }

	sc := scan.New(source.New(strings.NewReader(doc), 16))
	res, err := Run(sc, q, tr, Callbacks{}, emit, nil)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if !res.NeedSecondPass {
		t.Fatalf("NeedSecondPass = false for out-of-order document")
	}
	if len(records) != 0 {
		t.Fatalf("first pass emitted %d records", len(records))
	}

	sc = scan.New(source.New(strings.NewReader(doc), 16))
	res2, err := Run(sc, q, tr, Callbacks{}, emit, res.Index)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res2.NeedSecondPass {
		t.Errorf("second pass asked for a third")
	}
	if len(records) != 1 || records[0].Rate.String() != "42.5" {
		t.Errorf("second pass records = %+v", records)
	}
}

func TestUnmatchedReporting(t *testing.T) {
	queryText := `npi
    1234567890
    2222222222
    5555555555
CPT
    99213
    99999
`
	rr, err := runDoc(t, basicDoc, queryText, 32)
	if err != nil {
		t.Fatal(err)
	}

	unmatched := rr.tr.UnmatchedCriteria()
	if len(unmatched) != 1 || unmatched[0].Value != "99999" {
		t.Errorf("UnmatchedCriteria = %v", unmatched)
	}
	zero := rr.tr.ZeroMatchPairs()
	if len(zero) != 1 || zero[0].NPI != 2222222222 {
		t.Errorf("ZeroMatchPairs = %v", zero)
	}
	missing := rr.tr.MissingNPIs()
	if len(missing) != 1 || missing[0] != 5555555555 {
		t.Errorf("MissingNPIs = %v", missing)
	}
}

func TestSchemaErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no provider_references", `{"in_network": []}`},
		{"no in_network", `{"provider_references": [
			{"provider_group_id": 1, "provider_groups": [
				{"npi": [1234567890], "tin": {"type": "ein", "value": "x"}}
			]}
		]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runDoc(t, tc.doc, defaultQuery, 16)
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Errorf("err = %v, want *SchemaError", err)
			}
		})
	}
}

func TestMalformedDocument(t *testing.T) {
	_, err := runDoc(t, `{"provider_references": [{]}`, defaultQuery, 8)
	var se *scan.SyntaxError
	if !errors.As(err, &se) {
		t.Errorf("err = %v, want *scan.SyntaxError", err)
	}
}

func TestUnsupportedKeysWarnOnce(t *testing.T) {
	doc := `{
	  "provider_references": [
	    {"provider_group_id": 1, "bogus": 1, "provider_groups": [
	      {"npi": [1234567890], "tin": {"type": "ein", "value": "x"}}
	    ]},
	    {"provider_group_id": 2, "bogus": 2, "provider_groups": [
	      {"npi": [1234567890], "tin": {"type": "ein", "value": "y"}}
	    ]}
	  ],
	  "in_network": []
	}`
	rr, err := runDoc(t, doc, defaultQuery, 32)
	if err != nil {
		t.Fatal(err)
	}
	var bogus int
	for _, w := range rr.warnings {
		if strings.Contains(w, `"bogus"`) {
			bogus++
		}
	}
	if bogus != 1 {
		t.Errorf("bogus key warned %d times, want once; warnings = %v", bogus, rr.warnings)
	}
}
