package mrf

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mdunlap1/mrfy/internal/query"
	"github.com/mdunlap1/mrfy/internal/scan"
)

// rateEntry is one negotiated_rates element after filtering: the query
// providers it applies to and the prices negotiated for them. Entries that
// resolve to zero providers are dropped at parse time.
type rateEntry struct {
	providers []ProviderInfo
	prices    []Price
}

type networkScanner struct {
	sc   *scan.Scanner
	q    *query.Query
	tr   *query.Tracker
	idx  *ProviderIndex
	st   *state
	emit func(Record)

	keyBuf []byte
	strBuf []byte
}

// scanInNetwork walks the in_network array and emits one record per
// (provider, price) combination of each item whose billing code the query
// accepts. Items that fail the code gate have their remainder skipped
// without touching their rate lists, which is where almost all of a large
// file's bytes live.
func scanInNetwork(sc *scan.Scanner, q *query.Query, tr *query.Tracker, idx *ProviderIndex, st *state, emit func(Record)) error {
	ns := &networkScanner{sc: sc, q: q, tr: tr, idx: idx, st: st, emit: emit}

	if err := sc.BeginArray(); err != nil {
		return fmt.Errorf("in_network: %w", err)
	}
	for {
		more, err := sc.NextElement()
		if err != nil {
			return fmt.Errorf("in_network: %w", err)
		}
		if !more {
			return nil
		}
		if err := ns.item(); err != nil {
			return err
		}
		if st.cb.OnItemScanned != nil {
			st.cb.OnItemScanned()
		}
	}
}

func (ns *networkScanner) item() error {
	sc := ns.sc
	if err := sc.BeginObject(); err != nil {
		return fmt.Errorf("in_network item: %w", err)
	}

	var (
		code     string
		codeType string
		codeSeen bool
		rates    []rateEntry
	)
	for {
		var ok bool
		var err error
		ns.keyBuf, ok, err = sc.NextKey(ns.keyBuf[:0])
		if err != nil {
			return fmt.Errorf("in_network item: %w", err)
		}
		if !ok {
			break
		}
		switch string(ns.keyBuf) {
		case "billing_code":
			var kind scan.Kind
			ns.strBuf, kind, err = sc.Scalar(ns.strBuf[:0])
			if err != nil {
				return fmt.Errorf("billing_code: %w", err)
			}
			if kind == scan.KindString || kind == scan.KindNumber {
				code = string(ns.strBuf)
				codeSeen = true
			}
			if !ns.q.MatchesCode(code) {
				return ns.skipRest()
			}
		case "billing_code_type":
			var kind scan.Kind
			ns.strBuf, kind, err = sc.Scalar(ns.strBuf[:0])
			if err != nil {
				return fmt.Errorf("billing_code_type: %w", err)
			}
			if kind == scan.KindString {
				codeType = string(ns.strBuf)
			}
		case "negotiated_rates":
			rates, err = ns.parseRates(rates)
			if err != nil {
				return err
			}
		default:
			ns.st.unsupported("in_network", ns.keyBuf)
			if err := sc.Skip(); err != nil {
				return fmt.Errorf("in_network item: %w", err)
			}
		}
	}

	if !codeSeen {
		ns.st.warnf("in_network item without billing_code skipped")
		return nil
	}
	ns.tr.MarkCode(code, codeType)

	for _, re := range rates {
		for _, p := range re.providers {
			ns.tr.MarkPair(p.NPI, p.TIN.Type, p.TIN.Value)
			for _, price := range re.prices {
				ns.emit(Record{
					NPI:             p.NPI,
					TIN:             p.TIN,
					BillingCode:     code,
					BillingCodeType: codeType,
					Price:           price,
				})
			}
		}
	}
	return nil
}

// skipRest discards the remaining key/value pairs of the current object.
func (ns *networkScanner) skipRest() error {
	sc := ns.sc
	for {
		var ok bool
		var err error
		ns.keyBuf, ok, err = sc.NextKey(ns.keyBuf[:0])
		if err != nil {
			return fmt.Errorf("in_network item: %w", err)
		}
		if !ok {
			return nil
		}
		if err := sc.Skip(); err != nil {
			return fmt.Errorf("in_network item: %w", err)
		}
	}
}

func (ns *networkScanner) parseRates(rates []rateEntry) ([]rateEntry, error) {
	sc := ns.sc
	if err := sc.BeginArray(); err != nil {
		return rates, fmt.Errorf("negotiated_rates: %w", err)
	}
	for {
		more, err := sc.NextElement()
		if err != nil {
			return rates, fmt.Errorf("negotiated_rates: %w", err)
		}
		if !more {
			return rates, nil
		}

		if err := sc.BeginObject(); err != nil {
			return rates, fmt.Errorf("negotiated_rates entry: %w", err)
		}
		var entry rateEntry
		for {
			var ok bool
			ns.keyBuf, ok, err = sc.NextKey(ns.keyBuf[:0])
			if err != nil {
				return rates, fmt.Errorf("negotiated_rates entry: %w", err)
			}
			if !ok {
				break
			}
			switch string(ns.keyBuf) {
			case "provider_references":
				if err := sc.BeginArray(); err != nil {
					return rates, fmt.Errorf("provider_references list: %w", err)
				}
				for {
					more, err := sc.NextElement()
					if err != nil {
						return rates, fmt.Errorf("provider_references list: %w", err)
					}
					if !more {
						break
					}
					var kind scan.Kind
					ns.strBuf, kind, err = sc.Scalar(ns.strBuf[:0])
					if err != nil {
						return rates, fmt.Errorf("provider_references list: %w", err)
					}
					if kind != scan.KindString && kind != scan.KindNumber {
						continue
					}
					if infos, ok := ns.idx.ByRef[string(ns.strBuf)]; ok {
						entry.providers = append(entry.providers, infos...)
					}
				}
			case "provider_groups":
				err = parseProviderGroups(sc, ns.q, ns.st, func(npi int64, tin TIN) {
					entry.providers = append(entry.providers, ProviderInfo{NPI: npi, TIN: tin})
				})
				if err != nil {
					return rates, err
				}
			case "negotiated_prices":
				entry.prices, err = ns.parsePrices(entry.prices)
				if err != nil {
					return rates, err
				}
			default:
				ns.st.unsupported("negotiated_rates", ns.keyBuf)
				if err := sc.Skip(); err != nil {
					return rates, fmt.Errorf("negotiated_rates entry: %w", err)
				}
			}
		}

		if len(entry.providers) == 0 {
			continue
		}
		if len(entry.prices) == 0 {
			// Provider matched but no price details: emit one row of nulls
			// rather than dropping the match silently.
			entry.prices = append(entry.prices, Price{})
		}
		rates = append(rates, entry)
	}
}

func (ns *networkScanner) parsePrices(prices []Price) ([]Price, error) {
	sc := ns.sc
	if err := sc.BeginArray(); err != nil {
		return prices, fmt.Errorf("negotiated_prices: %w", err)
	}
	for {
		more, err := sc.NextElement()
		if err != nil {
			return prices, fmt.Errorf("negotiated_prices: %w", err)
		}
		if !more {
			return prices, nil
		}

		if err := sc.BeginObject(); err != nil {
			return prices, fmt.Errorf("price: %w", err)
		}
		var p Price
		for {
			var ok bool
			ns.keyBuf, ok, err = sc.NextKey(ns.keyBuf[:0])
			if err != nil {
				return prices, fmt.Errorf("price: %w", err)
			}
			if !ok {
				break
			}
			switch string(ns.keyBuf) {
			case "negotiated_type":
				p.NegotiatedType, err = ns.stringField("negotiated_type")
			case "negotiated_rate":
				var kind scan.Kind
				ns.strBuf, kind, err = sc.Scalar(ns.strBuf[:0])
				if err == nil && (kind == scan.KindNumber || kind == scan.KindString) {
					if d, derr := decimal.NewFromString(string(ns.strBuf)); derr == nil {
						p.Rate = d
						p.HasRate = true
					}
				}
			case "billing_class":
				p.BillingClass, err = ns.stringField("billing_class")
			case "expiration_date":
				p.ExpirationDate, err = ns.stringField("expiration_date")
			case "service_code":
				p.ServiceCode, err = ns.joinedField("service_code")
			case "billing_code_modifier":
				p.Modifier, err = ns.joinedField("billing_code_modifier")
			default:
				ns.st.unsupported("negotiated_prices", ns.keyBuf)
				err = sc.Skip()
			}
			if err != nil {
				return prices, fmt.Errorf("price: %w", err)
			}
		}
		prices = append(prices, p)
	}
}

func (ns *networkScanner) stringField(name string) (string, error) {
	var kind scan.Kind
	var err error
	ns.strBuf, kind, err = ns.sc.Scalar(ns.strBuf[:0])
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if kind != scan.KindString {
		return "", nil
	}
	return string(ns.strBuf), nil
}

// joinedField reads a field that the schema allows as either a string or an
// array of strings, flattening the latter into a space-separated value.
func (ns *networkScanner) joinedField(name string) (string, error) {
	sc := ns.sc
	c, err := sc.Peek()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if c == '[' {
		if err := sc.BeginArray(); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		out := ""
		for {
			more, err := sc.NextElement()
			if err != nil {
				return "", fmt.Errorf("%s: %w", name, err)
			}
			if !more {
				return out, nil
			}
			var kind scan.Kind
			ns.strBuf, kind, err = sc.Scalar(ns.strBuf[:0])
			if err != nil {
				return "", fmt.Errorf("%s: %w", name, err)
			}
			if kind != scan.KindString && kind != scan.KindNumber {
				continue
			}
			if out == "" {
				out = string(ns.strBuf)
			} else {
				out += " " + string(ns.strBuf)
			}
		}
	}
	return ns.stringField(name)
}
