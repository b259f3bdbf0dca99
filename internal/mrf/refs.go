package mrf

import (
	"fmt"
	"strconv"

	"github.com/mdunlap1/mrfy/internal/query"
	"github.com/mdunlap1/mrfy/internal/scan"
)

// buildProviderIndex consumes the provider_references array, filtering each
// element's provider groups down to query NPIs. Matching pairs are recorded
// against the element's reference identifier and registered with the tracker
// as observed. Elements and groups without query NPIs leave nothing behind,
// which keeps the index bounded by the query rather than the document.
func buildProviderIndex(sc *scan.Scanner, q *query.Query, tr *query.Tracker, st *state) (*ProviderIndex, error) {
	ix := NewProviderIndex()

	if err := sc.BeginArray(); err != nil {
		return nil, fmt.Errorf("provider_references: %w", err)
	}

	var (
		keyBuf []byte
		refBuf []byte
		pairs  []ProviderInfo
	)
	for {
		more, err := sc.NextElement()
		if err != nil {
			return nil, fmt.Errorf("provider_references: %w", err)
		}
		if !more {
			break
		}

		if err := sc.BeginObject(); err != nil {
			return nil, fmt.Errorf("provider_references element: %w", err)
		}

		refID := ""
		hasRef := false
		pairs = pairs[:0]

		for {
			var ok bool
			keyBuf, ok, err = sc.NextKey(keyBuf[:0])
			if err != nil {
				return nil, fmt.Errorf("provider_references element: %w", err)
			}
			if !ok {
				break
			}
			switch string(keyBuf) {
			case "provider_group_id":
				var kind scan.Kind
				refBuf, kind, err = sc.Scalar(refBuf[:0])
				if err != nil {
					return nil, fmt.Errorf("provider_group_id: %w", err)
				}
				if kind == scan.KindString || kind == scan.KindNumber {
					refID = string(refBuf)
					hasRef = true
				}
			case "provider_groups":
				err = parseProviderGroups(sc, q, st, func(npi int64, tin TIN) {
					pairs = append(pairs, ProviderInfo{NPI: npi, TIN: tin})
					tr.ObservePair(npi, tin.Type, tin.Value)
				})
				if err != nil {
					return nil, err
				}
			default:
				st.unsupported("provider_references", keyBuf)
				if err := sc.Skip(); err != nil {
					return nil, fmt.Errorf("provider_references element: %w", err)
				}
			}
		}

		if st.cb.OnRefScanned != nil {
			st.cb.OnRefScanned()
		}
		if len(pairs) == 0 {
			continue
		}
		if !hasRef {
			st.warnf("provider_references element with matching NPIs has no provider_group_id")
			continue
		}
		ix.ByRef[refID] = append(ix.ByRef[refID], pairs...)
	}

	return ix, nil
}

// parseProviderGroups streams a provider_groups array and calls fn once per
// (query NPI, TIN) pair it contains. TIN fields absent or null in the
// document become the literal "null", keeping pair identity stable. Nothing
// is retained for groups without query NPIs.
func parseProviderGroups(sc *scan.Scanner, q *query.Query, st *state, fn func(npi int64, tin TIN)) error {
	if err := sc.BeginArray(); err != nil {
		return fmt.Errorf("provider_groups: %w", err)
	}

	var (
		keyBuf  []byte
		strBuf  []byte
		matched []int64
	)
	for {
		more, err := sc.NextElement()
		if err != nil {
			return fmt.Errorf("provider_groups: %w", err)
		}
		if !more {
			return nil
		}

		if err := sc.BeginObject(); err != nil {
			return fmt.Errorf("provider group: %w", err)
		}

		matched = matched[:0]
		tinType, tinValue := "", ""

		for {
			var ok bool
			keyBuf, ok, err = sc.NextKey(keyBuf[:0])
			if err != nil {
				return fmt.Errorf("provider group: %w", err)
			}
			if !ok {
				break
			}
			switch string(keyBuf) {
			case "npi":
				if err := sc.BeginArray(); err != nil {
					return fmt.Errorf("npi list: %w", err)
				}
				for {
					more, err := sc.NextElement()
					if err != nil {
						return fmt.Errorf("npi list: %w", err)
					}
					if !more {
						break
					}
					npi, ok, err := readNPI(sc, &strBuf)
					if err != nil {
						return fmt.Errorf("npi list: %w", err)
					}
					if ok && q.WantsNPI(npi) {
						matched = append(matched, npi)
					}
				}
			case "tin":
				if err := sc.BeginObject(); err != nil {
					return fmt.Errorf("tin: %w", err)
				}
				for {
					var ok bool
					keyBuf, ok, err = sc.NextKey(keyBuf[:0])
					if err != nil {
						return fmt.Errorf("tin: %w", err)
					}
					if !ok {
						break
					}
					switch string(keyBuf) {
					case "type":
						var kind scan.Kind
						strBuf, kind, err = sc.Scalar(strBuf[:0])
						if err != nil {
							return fmt.Errorf("tin type: %w", err)
						}
						if kind == scan.KindString {
							tinType = string(strBuf)
						}
					case "value":
						var kind scan.Kind
						strBuf, kind, err = sc.Scalar(strBuf[:0])
						if err != nil {
							return fmt.Errorf("tin value: %w", err)
						}
						if kind == scan.KindString || kind == scan.KindNumber {
							tinValue = string(strBuf)
						}
					default:
						st.unsupported("tin", keyBuf)
						if err := sc.Skip(); err != nil {
							return fmt.Errorf("tin: %w", err)
						}
					}
				}
			default:
				st.unsupported("provider_groups", keyBuf)
				if err := sc.Skip(); err != nil {
					return fmt.Errorf("provider group: %w", err)
				}
			}
		}

		if len(matched) == 0 {
			continue
		}
		if tinType == "" {
			tinType = "null"
		}
		if tinValue == "" {
			tinValue = "null"
		}
		tin := TIN{Type: tinType, Value: tinValue}
		for _, npi := range matched {
			fn(npi, tin)
		}
	}
}

// readNPI reads one element of an npi array. NPIs normally arrive as JSON
// numbers but some payers quote them; values that parse as neither are
// consumed and ignored.
func readNPI(sc *scan.Scanner, buf *[]byte) (int64, bool, error) {
	b, kind, err := sc.Scalar((*buf)[:0])
	*buf = b
	if err != nil {
		return 0, false, err
	}
	if kind != scan.KindNumber && kind != scan.KindString {
		return 0, false, nil
	}
	n, perr := strconv.ParseInt(string(b), 10, 64)
	if perr != nil {
		return 0, false, nil
	}
	return n, true, nil
}
