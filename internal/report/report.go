// Package report summarizes what a run could not match, so a user can tell
// a wrong query from a file that genuinely lacks their providers or codes.
package report

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mdunlap1/mrfy/internal/query"
)

// Summary captures the three unmatched categories at the end of a run.
type Summary struct {
	// Criteria lists query code criteria that gated zero items.
	Criteria []query.Criterion
	// Pairs lists NPI/TIN pairs seen in provider references but never in a
	// matched rate entry.
	Pairs []query.Pair
	// MissingNPIs lists query NPIs absent from the provider references
	// altogether.
	MissingNPIs []int64
}

// Build collects the unmatched summary from a tracker.
func Build(tr *query.Tracker) Summary {
	return Summary{
		Criteria:    tr.UnmatchedCriteria(),
		Pairs:       tr.ZeroMatchPairs(),
		MissingNPIs: tr.MissingNPIs(),
	}
}

// Empty reports whether every query input matched something.
func (s Summary) Empty() bool {
	return len(s.Criteria) == 0 && len(s.Pairs) == 0 && len(s.MissingNPIs) == 0
}

// Log writes each unmatched entry at warn level, one line per entry.
func (s Summary) Log(log zerolog.Logger) {
	for _, c := range s.Criteria {
		log.Warn().
			Str("code_type", c.Type).
			Str("code", c.Value).
			Msg("no in-network item matched this code")
	}
	for _, p := range s.Pairs {
		log.Warn().
			Int64("npi", p.NPI).
			Str("tin_type", p.TINType).
			Str("tin_value", p.TINValue).
			Msg("provider pair never appeared in a matching rate")
	}
	for _, npi := range s.MissingNPIs {
		log.Warn().
			Int64("npi", npi).
			Msg("NPI not found in provider references")
	}
}

// String renders the summary for plain-text contexts such as tests.
func (s Summary) String() string {
	if s.Empty() {
		return "all query inputs matched"
	}
	out := ""
	for _, c := range s.Criteria {
		out += fmt.Sprintf("unmatched code: %s %s\n", c.Type, c.Value)
	}
	for _, p := range s.Pairs {
		out += fmt.Sprintf("unmatched pair: %d %s %s\n", p.NPI, p.TINType, p.TINValue)
	}
	for _, npi := range s.MissingNPIs {
		out += fmt.Sprintf("missing npi: %d\n", npi)
	}
	return out
}
