// Package netbox implements ipam.Allocator against a NetBox IPAM REST API,
// grounded on original_source's Python NetboxIPAM backend. No NetBox
// client library appears anywhere in the example corpus, so this package
// talks to the API directly over net/http — the one place in this module
// where a bespoke HTTP client substitutes for a missing third-party
// dependency (recorded in DESIGN.md).
package netbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"wgkex/internal/ipam"
	"wgkex/internal/logger"
)

// Config holds the connection details for a NetBox instance.
type Config struct {
	BaseURL      string
	Token        string
	ParentCIDR   string
	CreatedByID  string
	PrefixLength int
	HTTPClient   *http.Client
}

// Allocator is a NetBox-backed ipam.Allocator. Concurrency safety for
// allocation is delegated to NetBox's available-prefixes endpoint, which
// allocates atomically server-side.
type Allocator struct {
	cfg        Config
	client     *http.Client
	parentID   int
	parentCIDR string
}

type prefixRecord struct {
	ID          int    `json:"id"`
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
}

type prefixDescription struct {
	PublicKey       string `json:"pubkey"`
	LastAllocatedOn string `json:"last_allocated_on"`
	CreatedBy       string `json:"created_by,omitempty"`
}

type listResponse struct {
	Count   int            `json:"count"`
	Results []prefixRecord `json:"results"`
}

// New resolves the parent prefix named by cfg.ParentCIDR and returns an
// Allocator bound to it.
func New(ctx context.Context, cfg Config) (*Allocator, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	a := &Allocator{cfg: cfg, client: cfg.HTTPClient, parentCIDR: cfg.ParentCIDR}

	q := url.Values{}
	q.Set("family", "6")
	q.Set("prefix", cfg.ParentCIDR)
	var resp listResponse
	if err := a.do(ctx, http.MethodGet, "/api/ipam/prefixes/?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("resolving parent prefix: %w", err)
	}
	if resp.Count != 1 {
		return nil, fmt.Errorf("could not uniquely identify parent IPv6 prefix %s in NetBox (got %d matches)", cfg.ParentCIDR, resp.Count)
	}
	a.parentID = resp.Results[0].ID
	return a, nil
}

// GetOrAllocatePrefix implements ipam.Allocator.
func (a *Allocator) GetOrAllocatePrefix(ctx context.Context, pubkey string) (netip.Prefix, error) {
	if existing, ok, err := a.findByPubkey(ctx, pubkey); err != nil {
		return netip.Prefix{}, err
	} else if ok {
		return parseNetboxPrefix(existing.Prefix)
	}

	desc := prefixDescription{
		PublicKey:       pubkey,
		LastAllocatedOn: time.Now().UTC().Format(time.RFC3339),
		CreatedBy:       a.cfg.CreatedByID,
	}
	descJSON, err := json.Marshal(desc)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("encoding prefix description: %w", err)
	}

	body := map[string]any{
		"prefix_length": a.cfg.PrefixLength,
		"description":   string(descJSON),
		"mark_utilized": true,
	}

	var created prefixRecord
	path := fmt.Sprintf("/api/ipam/prefixes/%d/available-prefixes/", a.parentID)
	if err := a.do(ctx, http.MethodPost, path, body, &created); err != nil {
		logger.L().Sugar().Errorf("failed to allocate new prefix for pubkey %s: %v", pubkey, err)
		return netip.Prefix{}, ipam.ErrAllocatorExhausted
	}

	return parseNetboxPrefix(created.Prefix)
}

func (a *Allocator) findByPubkey(ctx context.Context, pubkey string) (prefixRecord, bool, error) {
	q := url.Values{}
	q.Set("family", "6")
	q.Set("within", a.parentCIDR)
	q.Set("description__ic", pubkey)

	var resp listResponse
	if err := a.do(ctx, http.MethodGet, "/api/ipam/prefixes/?"+q.Encode(), nil, &resp); err != nil {
		return prefixRecord{}, false, fmt.Errorf("looking up existing prefix: %w", err)
	}

	for _, candidate := range resp.Results {
		var desc prefixDescription
		if err := json.Unmarshal([]byte(candidate.Description), &desc); err != nil {
			logger.L().Sugar().Warnf("could not decode description for prefix %s: %v", candidate.Prefix, err)
			continue
		}
		if desc.PublicKey == pubkey {
			return candidate, true, nil
		}
	}
	return prefixRecord{}, false, nil
}

// UpdatePrefix refreshes the last-allocated-on timestamp for pubkey's
// prefix. selectedConcentrators is accepted for interface symmetry with
// the Python backend but is not yet persisted by this implementation.
func (a *Allocator) UpdatePrefix(ctx context.Context, pubkey string, selectedConcentrators []string) error {
	existing, ok, err := a.findByPubkey(ctx, pubkey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var desc prefixDescription
	_ = json.Unmarshal([]byte(existing.Description), &desc)
	desc.PublicKey = pubkey
	desc.LastAllocatedOn = time.Now().UTC().Format(time.RFC3339)
	descJSON, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encoding prefix description: %w", err)
	}

	path := fmt.Sprintf("/api/ipam/prefixes/%d/", existing.ID)
	return a.do(ctx, http.MethodPatch, path, map[string]any{"description": string(descJSON)}, nil)
}

// ReleasePrefix is unimplemented; see ipam.Allocator.
func (a *Allocator) ReleasePrefix(ctx context.Context, pubkey string) error {
	return ipam.ErrNotSupported
}

func (a *Allocator) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+a.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("netbox API %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseNetboxPrefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parsing netbox prefix %q: %w", s, err)
	}
	return p, nil
}
