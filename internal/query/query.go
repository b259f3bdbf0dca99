// Package query parses the user's query specification and tracks which parts
// of it ever matched anything in the document.
package query

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Wildcard is the token that matches any billing code or any code type.
const Wildcard = "*"

// ParseError describes malformed query text. It is fatal for the run and is
// reported before any document processing begins.
type ParseError struct {
	Line int // 1-based line number, 0 when the whole file is at fault
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("query line %d: %s", e.Line, e.Msg)
	}
	return "query: " + e.Msg
}

// Criterion is one (billing code, declared type) pair from the query. Either
// side may be the wildcard.
type Criterion struct {
	Type  string // declared code type, e.g. "CPT", or "*"
	Value string // billing code, or "*"
}

// Query is the normalized, immutable form of the query text: the target NPIs
// plus the billing-code criteria. Construct with Parse; match tracking lives
// in Tracker, not here.
type Query struct {
	npis     []int64
	npiSet   map[int64]struct{}
	criteria []Criterion
	codeSet  map[string]struct{} // upper-cased code values, wildcard excluded
	anyCode  bool                // some criterion has the wildcard code
}

// NPIs returns the target NPIs in query order.
func (q *Query) NPIs() []int64 { return q.npis }

// Criteria returns the (code, type) criteria in query order.
func (q *Query) Criteria() []Criterion { return q.criteria }

// WantsNPI reports whether npi is one of the query's target identifiers.
func (q *Query) WantsNPI(npi int64) bool {
	_, ok := q.npiSet[npi]
	return ok
}

// MatchesCode reports whether a billing code is relevant to the query.
// Matching is case-insensitive and ignores the declared type; a wildcard code
// anywhere in the query matches everything.
func (q *Query) MatchesCode(code string) bool {
	if q.anyCode {
		return true
	}
	_, ok := q.codeSet[strings.ToUpper(code)]
	return ok
}

// Format renders the query back into its text form: the npi section first,
// then one section per declared type in first-appearance order. Parsing the
// result yields an equal Query.
func (q *Query) Format() string {
	var b strings.Builder
	b.WriteString("npi\n")
	for _, n := range q.npis {
		fmt.Fprintf(&b, "    %d\n", n)
	}

	var types []string
	byType := make(map[string][]string)
	for _, c := range q.criteria {
		if _, ok := byType[c.Type]; !ok {
			types = append(types, c.Type)
		}
		byType[c.Type] = append(byType[c.Type], c.Value)
	}
	for _, t := range types {
		b.WriteString(t + "\n")
		for _, v := range byType[t] {
			b.WriteString("    " + v + "\n")
		}
	}
	return b.String()
}

// ParseFile reads and parses a query file.
func ParseFile(path string) (*Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads query text and returns the normalized Query.
//
// The format is line-based: an unindented line is a section header, either
// the literal "npi" or a billing-code type (or "*"); indented lines under it
// hold one NPI or one billing code (or "*") each. Blank lines are ignored.
// Duplicate NPIs and duplicate (code, type) pairs merge silently.
func Parse(r io.Reader) (*Query, error) {
	const (
		stateNone = iota
		stateNPI
		stateCode
	)

	q := &Query{
		npiSet:  make(map[int64]struct{}),
		codeSet: make(map[string]struct{}),
	}
	seenPairs := make(map[Criterion]struct{})

	state := stateNone
	codeType := ""
	sawNPIHeader := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}

		indented := line[0] == ' ' || line[0] == '\t'
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return nil, &ParseError{Line: lineNo, Msg: "blank entry under section header"}
		}

		if !indented {
			if trimmed == "npi" {
				state = stateNPI
				sawNPIHeader = true
			} else {
				state = stateCode
				codeType = trimmed
			}
			continue
		}

		switch state {
		case stateNPI:
			n, err := strconv.ParseInt(trimmed, 10, 64)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("invalid npi %q", trimmed)}
			}
			if _, dup := q.npiSet[n]; !dup {
				q.npiSet[n] = struct{}{}
				q.npis = append(q.npis, n)
			}
		case stateCode:
			c := Criterion{Type: codeType, Value: trimmed}
			key := Criterion{Type: strings.ToUpper(c.Type), Value: strings.ToUpper(c.Value)}
			if _, dup := seenPairs[key]; dup {
				continue
			}
			seenPairs[key] = struct{}{}
			q.criteria = append(q.criteria, c)
			if c.Value == Wildcard {
				q.anyCode = true
			} else {
				q.codeSet[strings.ToUpper(c.Value)] = struct{}{}
			}
		default:
			return nil, &ParseError{Line: lineNo, Msg: "data line before any section header"}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !sawNPIHeader {
		return nil, &ParseError{Msg: "no npi section"}
	}
	if len(q.npis) == 0 {
		return nil, &ParseError{Msg: "npi section is empty"}
	}
	if len(q.criteria) == 0 {
		return nil, &ParseError{Msg: "no billing-code criteria"}
	}

	return q, nil
}

// Equal reports whether two queries carry the same NPIs and criteria,
// ignoring order.
func (q *Query) Equal(other *Query) bool {
	if len(q.npis) != len(other.npis) || len(q.criteria) != len(other.criteria) {
		return false
	}
	for n := range q.npiSet {
		if _, ok := other.npiSet[n]; !ok {
			return false
		}
	}
	a := append([]Criterion(nil), q.criteria...)
	b := append([]Criterion(nil), other.criteria...)
	less := func(s []Criterion) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].Type != s[j].Type {
				return s[i].Type < s[j].Type
			}
			return s[i].Value < s[j].Value
		}
	}
	sort.Slice(a, less(a))
	sort.Slice(b, less(b))
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
