package query

import "strings"

// Pair is one (NPI, TIN) combination observed in the document's
// provider-reference array.
type Pair struct {
	NPI      int64
	TINType  string
	TINValue string
}

// Tracker records which parts of the query were ever satisfied by the
// document. It is built alongside the Query, mutated during the two matching
// phases, and read once at the end by the unmatched report. Entries are only
// ever added, never removed.
type Tracker struct {
	q       *Query
	matched []bool // parallel to q.criteria
	pairs   map[Pair]bool
	order   []Pair
	npiSeen map[int64]struct{}
}

// NewTracker creates an empty tracker for q.
func NewTracker(q *Query) *Tracker {
	return &Tracker{
		q:       q,
		matched: make([]bool, len(q.criteria)),
		pairs:   make(map[Pair]bool),
		npiSeen: make(map[int64]struct{}),
	}
}

// ObservePair registers that a query NPI was seen in the provider-reference
// array with the given TIN. The pair starts with no code matches.
func (t *Tracker) ObservePair(npi int64, tinType, tinValue string) {
	t.npiSeen[npi] = struct{}{}
	p := Pair{NPI: npi, TINType: tinType, TINValue: tinValue}
	if _, ok := t.pairs[p]; !ok {
		t.pairs[p] = false
		t.order = append(t.order, p)
	}
}

// MarkPair records that the pair matched at least one billing code.
// Pairs never observed via ObservePair are registered as matched.
func (t *Tracker) MarkPair(npi int64, tinType, tinValue string) {
	p := Pair{NPI: npi, TINType: tinType, TINValue: tinValue}
	if _, ok := t.pairs[p]; !ok {
		t.order = append(t.order, p)
	}
	t.pairs[p] = true
	t.npiSeen[npi] = struct{}{}
}

// MarkCode records that an item with the given billing code and declared type
// passed the query's code gate. Every criterion that accepts the (code, type)
// combination is marked: an exact pair, a wildcard-typed entry for the same
// code, a wildcard code under the same type, or the double wildcard.
// Comparisons are case-insensitive; the wildcard token is compared exactly.
func (t *Tracker) MarkCode(code, codeType string) {
	for i, c := range t.q.criteria {
		valEq := strings.EqualFold(c.Value, code)
		typeEq := strings.EqualFold(c.Type, codeType)
		switch {
		case valEq && typeEq:
			t.matched[i] = true
		case valEq && c.Type == Wildcard:
			t.matched[i] = true
		case c.Value == Wildcard && c.Type == Wildcard:
			t.matched[i] = true
		case c.Value == Wildcard && typeEq:
			t.matched[i] = true
		}
	}
}

// UnmatchedCriteria returns the (code, type) criteria that never matched any
// item, in query order.
func (t *Tracker) UnmatchedCriteria() []Criterion {
	var out []Criterion
	for i, c := range t.q.criteria {
		if !t.matched[i] {
			out = append(out, c)
		}
	}
	return out
}

// ZeroMatchPairs returns the observed (NPI, TIN) pairs that never matched any
// billing code, in observation order.
func (t *Tracker) ZeroMatchPairs() []Pair {
	var out []Pair
	for _, p := range t.order {
		if !t.pairs[p] {
			out = append(out, p)
		}
	}
	return out
}

// MissingNPIs returns the queried NPIs that never appeared in the document's
// provider-reference array at all, in query order.
func (t *Tracker) MissingNPIs() []int64 {
	var out []int64
	for _, n := range t.q.npis {
		if _, ok := t.npiSeen[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// ObservedPairs reports how many distinct pairs were registered. Zero after
// the provider-reference phase triggers the early exit.
func (t *Tracker) ObservedPairs() int { return len(t.order) }
