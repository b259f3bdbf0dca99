// Package npi resolves NPI numbers against the NPPES registry, so a user
// can sanity-check the providers in a query file before a long extraction.
package npi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const registryURL = "https://npiregistry.cms.hhs.gov/api/?version=2.1"

var client = &http.Client{Timeout: 10 * time.Second}

// Provider holds the key details NPPES returns for one NPI.
type Provider struct {
	NPI             int64
	Name            string // "LAST, FIRST MIDDLE" for individuals, org name otherwise
	Credential      string // e.g. "MD", "DO"
	Type            string // "Individual" or "Organization"
	PrimaryTaxonomy string // e.g. "Internal Medicine"
	TaxonomyCode    string // e.g. "207R00000X"
	Address         string // city, state, zip of the practice location
	Phone           string
	Status          string // "A" = active
}

// Format renders the provider as a single display line.
func (p *Provider) Format() string {
	parts := []string{fmt.Sprintf("%d  %s", p.NPI, p.Name)}
	if p.Credential != "" {
		parts[0] += ", " + p.Credential
	}
	if p.PrimaryTaxonomy != "" {
		parts = append(parts, p.PrimaryTaxonomy)
	}
	if p.Address != "" {
		parts = append(parts, p.Address)
	}
	if p.Status != "" && p.Status != "A" {
		parts = append(parts, "status "+p.Status)
	}
	return strings.Join(parts, "  |  ")
}

type apiResponse struct {
	ResultCount int         `json:"result_count"`
	Results     []apiResult `json:"results"`
}

type apiResult struct {
	Number          string        `json:"number"`
	EnumerationType string        `json:"enumeration_type"`
	Basic           apiBasic      `json:"basic"`
	Addresses       []apiAddress  `json:"addresses"`
	Taxonomies      []apiTaxonomy `json:"taxonomies"`
}

type apiBasic struct {
	FirstName        string `json:"first_name"`
	MiddleName       string `json:"middle_name"`
	LastName         string `json:"last_name"`
	Credential       string `json:"credential"`
	OrganizationName string `json:"organization_name"`
	Status           string `json:"status"`
}

type apiAddress struct {
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	AddressPurpose string `json:"address_purpose"`
	Phone          string `json:"telephone_number"`
}

type apiTaxonomy struct {
	Code    string `json:"code"`
	Desc    string `json:"desc"`
	Primary bool   `json:"primary"`
}

// Lookup queries NPPES for a single NPI. A nil result means the number is
// not registered.
func Lookup(ctx context.Context, number int64) (*Provider, error) {
	url := fmt.Sprintf("%s&number=%d", registryURL, number)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying NPI registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NPI registry returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing NPI registry response: %w", err)
	}

	if apiResp.ResultCount == 0 || len(apiResp.Results) == 0 {
		return nil, nil
	}

	return fromResult(apiResp.Results[0]), nil
}

// LookupAll resolves multiple NPIs concurrently, preserving input order.
// Unregistered numbers yield nil entries.
func LookupAll(ctx context.Context, npis []int64) ([]*Provider, []error) {
	results := make([]*Provider, len(npis))
	errs := make([]error, len(npis))

	type indexed struct {
		idx  int
		info *Provider
		err  error
	}

	ch := make(chan indexed, len(npis))
	for i, n := range npis {
		go func(idx int, number int64) {
			info, err := Lookup(ctx, number)
			ch <- indexed{idx, info, err}
		}(i, n)
	}

	for range npis {
		r := <-ch
		results[r.idx] = r.info
		errs[r.idx] = r.err
	}

	return results, errs
}

func fromResult(r apiResult) *Provider {
	num, _ := strconv.ParseInt(r.Number, 10, 64)
	p := &Provider{NPI: num, Status: r.Basic.Status}

	if r.EnumerationType == "NPI-1" {
		p.Type = "Individual"
		p.Name = individualName(r.Basic)
		p.Credential = cleanField(r.Basic.Credential)
	} else {
		p.Type = "Organization"
		p.Name = r.Basic.OrganizationName
	}

	for _, t := range r.Taxonomies {
		if t.Primary {
			p.PrimaryTaxonomy = t.Desc
			p.TaxonomyCode = t.Code
			break
		}
	}
	if p.PrimaryTaxonomy == "" && len(r.Taxonomies) > 0 {
		p.PrimaryTaxonomy = r.Taxonomies[0].Desc
		p.TaxonomyCode = r.Taxonomies[0].Code
	}

	for _, addr := range r.Addresses {
		if addr.AddressPurpose == "LOCATION" {
			p.Address = formatAddress(addr)
			p.Phone = formatPhone(addr.Phone)
			break
		}
	}
	if p.Address == "" && len(r.Addresses) > 0 {
		p.Address = formatAddress(r.Addresses[0])
		p.Phone = formatPhone(r.Addresses[0].Phone)
	}

	return p
}

func individualName(b apiBasic) string {
	parts := []string{cleanField(b.LastName)}
	if first := cleanField(b.FirstName); first != "" {
		parts = append(parts, first)
	}
	name := strings.Join(parts, ", ")
	if middle := cleanField(b.MiddleName); middle != "" {
		name += " " + middle
	}
	return name
}

func formatAddress(a apiAddress) string {
	parts := []string{}
	if a.City != "" {
		parts = append(parts, a.City)
	}
	if a.State != "" {
		parts = append(parts, a.State)
	}
	loc := strings.Join(parts, ", ")
	if a.PostalCode != "" {
		zip := a.PostalCode
		if len(zip) > 5 {
			zip = zip[:5]
		}
		loc += " " + zip
	}
	return loc
}

func formatPhone(phone string) string {
	p := strings.ReplaceAll(phone, "-", "")
	p = strings.TrimSpace(p)
	if len(p) == 10 {
		return fmt.Sprintf("(%s) %s-%s", p[:3], p[3:6], p[6:])
	}
	return phone
}

func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s == "--" {
		return ""
	}
	return s
}
