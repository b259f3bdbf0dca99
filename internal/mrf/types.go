package mrf

import "github.com/shopspring/decimal"

// TIN identifies the tax entity of a provider group.
type TIN struct {
	Type  string // "ein" or "npi"
	Value string // e.g. "12-3456789"
}

// ProviderInfo is one query-matched (NPI, TIN) pair from the
// provider-reference array.
type ProviderInfo struct {
	NPI int64
	TIN TIN
}

// ProviderIndex maps reference identifiers to the query-filtered provider
// pairs they stand for. Reference identifiers keep their document spelling:
// raw token text for numbers, decoded text for strings, so fractional group
// ids some payers emit cannot collide. Built once per run, read-only during
// the in-network phase.
type ProviderIndex struct {
	ByRef map[string][]ProviderInfo
}

// NewProviderIndex returns an empty index.
func NewProviderIndex() *ProviderIndex {
	return &ProviderIndex{ByRef: make(map[string][]ProviderInfo)}
}

// Len reports how many reference identifiers retained at least one pair.
func (ix *ProviderIndex) Len() int { return len(ix.ByRef) }

// Price holds one negotiated price fact. String fields left empty by the
// document are rendered as "null" in output.
type Price struct {
	NegotiatedType string
	Rate           decimal.Decimal
	HasRate        bool
	BillingClass   string
	ExpirationDate string
	ServiceCode    string // space-joined when the document sends an array
	Modifier       string // space-joined when the document sends an array
}

// Record is one emitted match: a (NPI, TIN) pair, the billing code it
// matched, and the price fact. Written immediately, never buffered across
// items.
type Record struct {
	NPI             int64
	TIN             TIN
	BillingCode     string
	BillingCodeType string
	Price
}
