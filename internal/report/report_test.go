package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mdunlap1/mrfy/internal/query"
)

func buildTracker(t *testing.T) *query.Tracker {
	t.Helper()
	q, err := query.Parse(strings.NewReader(`npi
    1234567890
    9876543210
CPT
    99213
    99999
`))
	if err != nil {
		t.Fatal(err)
	}
	tr := query.NewTracker(q)
	tr.ObservePair(1234567890, "ein", "12-3456789")
	tr.MarkPair(1234567890, "ein", "12-3456789")
	tr.MarkCode("99213", "CPT")
	return tr
}

func TestBuild(t *testing.T) {
	s := Build(buildTracker(t))

	if len(s.Criteria) != 1 || s.Criteria[0].Value != "99999" {
		t.Errorf("Criteria = %v", s.Criteria)
	}
	if len(s.Pairs) != 0 {
		t.Errorf("Pairs = %v, want none (the only pair matched)", s.Pairs)
	}
	if len(s.MissingNPIs) != 1 || s.MissingNPIs[0] != 9876543210 {
		t.Errorf("MissingNPIs = %v", s.MissingNPIs)
	}
	if s.Empty() {
		t.Errorf("Empty() = true")
	}
}

func TestEmpty(t *testing.T) {
	tr := buildTracker(t)
	tr.MarkCode("99999", "CPT")
	tr.ObservePair(9876543210, "ein", "98-7654321")
	tr.MarkPair(9876543210, "ein", "98-7654321")

	s := Build(tr)
	if !s.Empty() {
		t.Errorf("Empty() = false: %s", s.String())
	}
	if s.String() != "all query inputs matched" {
		t.Errorf("String() = %q", s.String())
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	Build(buildTracker(t)).Log(log)

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Errorf("logged %d lines, want one per unmatched entry:\n%s", strings.Count(out, "\n"), out)
	}
	if !strings.Contains(out, "99999") {
		t.Errorf("unmatched code missing from log:\n%s", out)
	}
	if !strings.Contains(out, "9876543210") {
		t.Errorf("missing NPI absent from log:\n%s", out)
	}
}
