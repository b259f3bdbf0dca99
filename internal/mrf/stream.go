package mrf

import (
	"fmt"

	"github.com/mdunlap1/mrfy/internal/query"
	"github.com/mdunlap1/mrfy/internal/scan"
)

// Callbacks lets the caller observe progress without the stream layer
// knowing anything about terminals or logging. Any field may be nil.
type Callbacks struct {
	OnRefScanned  func()
	OnItemScanned func()
	OnStageChange func(stage string)
	OnMeta        func(field, value string)
	OnWarning     func(msg string)
}

// Result reports how a pass over the document ended.
type Result struct {
	// Index is the provider index built (or supplied) for this pass.
	Index *ProviderIndex
	// EarlyExit is set when the provider references retained no query
	// providers, so the in_network array was never scanned.
	EarlyExit bool
	// NeedSecondPass is set when in_network appeared before
	// provider_references. The caller should rewind the input and run
	// again with the returned Index.
	NeedSecondPass bool
}

// SchemaError reports a document that parses as JSON but does not have the
// in-network rate file shape.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return e.Msg }

// metaFields are the top-level attributes surfaced to the caller verbatim.
var metaFields = map[string]bool{
	"reporting_entity_name": true,
	"reporting_entity_type": true,
	"last_updated_on":       true,
	"version":               true,
}

// state carries the per-run scratch shared by the section parsers.
type state struct {
	cb       Callbacks
	reported map[string]bool
}

func (st *state) warnf(format string, args ...any) {
	if st.cb.OnWarning != nil {
		st.cb.OnWarning(fmt.Sprintf(format, args...))
	}
}

// unsupported reports a key the extractor skips, once per key name so a
// million-item array does not repeat itself.
func (st *state) unsupported(container string, key []byte) {
	if st.cb.OnWarning == nil {
		return
	}
	if st.reported == nil {
		st.reported = make(map[string]bool)
	}
	k := string(key)
	if st.reported[k] {
		return
	}
	st.reported[k] = true
	st.cb.OnWarning(fmt.Sprintf("skipping unsupported key %q in %s", k, container))
}

// Run makes one pass over an in-network rate document. The provider index is
// built from the provider_references section, then the in_network section is
// matched against the query, emitting one Record per result row.
//
// When prebuilt is non-nil this is a second pass: provider_references is
// skipped and the supplied index is used directly. When the document puts
// in_network before provider_references, that section is skipped, the index
// is still built, and the result asks for a second pass.
func Run(sc *scan.Scanner, q *query.Query, tr *query.Tracker, cb Callbacks, emit func(Record), prebuilt *ProviderIndex) (*Result, error) {
	st := &state{cb: cb}
	res := &Result{Index: prebuilt}

	if err := sc.BeginObject(); err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	var (
		keyBuf      []byte
		valBuf      []byte
		refsSeen    = prebuilt != nil
		networkDone bool
	)
	for {
		var ok bool
		var err error
		keyBuf, ok, err = sc.NextKey(keyBuf[:0])
		if err != nil {
			return nil, fmt.Errorf("reading document: %w", err)
		}
		if !ok {
			break
		}

		key := string(keyBuf)
		switch {
		case metaFields[key]:
			var kind scan.Kind
			valBuf, kind, err = sc.Scalar(valBuf[:0])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if cb.OnMeta != nil && kind != scan.KindNull {
				cb.OnMeta(key, string(valBuf))
			}

		case key == "provider_references":
			refsSeen = true
			if prebuilt != nil {
				if err := sc.Skip(); err != nil {
					return nil, fmt.Errorf("provider_references: %w", err)
				}
				continue
			}
			if cb.OnStageChange != nil {
				cb.OnStageChange("provider references")
			}
			idx, err := buildProviderIndex(sc, q, tr, st)
			if err != nil {
				return nil, err
			}
			res.Index = idx
			if idx.Len() == 0 {
				// No query provider appears in this file; the rate
				// section cannot produce a row even if it was skipped
				// earlier in the document.
				res.EarlyExit = true
				res.NeedSecondPass = false
				return res, nil
			}

		case key == "in_network":
			if res.Index == nil {
				st.warnf("in_network precedes provider_references; deferring to a second pass")
				if err := sc.Skip(); err != nil {
					return nil, fmt.Errorf("in_network: %w", err)
				}
				res.NeedSecondPass = true
				continue
			}
			if cb.OnStageChange != nil {
				cb.OnStageChange("in-network rates")
			}
			if err := scanInNetwork(sc, q, tr, res.Index, st, emit); err != nil {
				return nil, err
			}
			networkDone = true

		default:
			st.unsupported("document", keyBuf)
			if err := sc.Skip(); err != nil {
				return nil, fmt.Errorf("reading document: %w", err)
			}
		}
	}

	if !refsSeen {
		return nil, &SchemaError{Msg: "document has no provider_references section"}
	}
	if !networkDone && !res.NeedSecondPass {
		return nil, &SchemaError{Msg: "document has no in_network section"}
	}
	return res, nil
}
