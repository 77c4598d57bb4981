package netbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, existing map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	nextID := 100

	mux.HandleFunc("/api/ipam/prefixes/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.RawQuery, "prefix=2001"):
			json.NewEncoder(w).Encode(map[string]any{
				"count":   1,
				"results": []map[string]any{{"id": 1, "prefix": "2001:db8:ed0::/56"}},
			})
		case r.Method == http.MethodGet:
			results := []map[string]any{}
			pubkey := r.URL.Query().Get("description__ic")
			if prefix, ok := existing[pubkey]; ok {
				desc, _ := json.Marshal(map[string]string{"pubkey": pubkey})
				results = append(results, map[string]any{"id": 2, "prefix": prefix, "description": string(desc)})
			}
			json.NewEncoder(w).Encode(map[string]any{"count": len(results), "results": results})
		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/api/ipam/prefixes/1/available-prefixes/", func(w http.ResponseWriter, r *http.Request) {
		nextID++
		json.NewEncoder(w).Encode(map[string]any{"id": nextID, "prefix": "2001:db8:ed0:10::/63"})
	})

	return httptest.NewServer(mux)
}

func TestAllocator_AllocatesNewPrefix(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	a, err := New(context.Background(), Config{
		BaseURL:      srv.URL,
		Token:        "testtoken",
		ParentCIDR:   "2001:db8:ed0::/56",
		PrefixLength: 63,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := a.GetOrAllocatePrefix(context.Background(), "keyA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.String() != "2001:db8:ed0:10::/63" {
		t.Errorf("unexpected prefix: %v", p)
	}
}

func TestAllocator_ReturnsExistingPrefix(t *testing.T) {
	srv := newTestServer(t, map[string]string{"keyA": "2001:db8:ed0:4::/63"})
	defer srv.Close()

	a, err := New(context.Background(), Config{
		BaseURL:      srv.URL,
		Token:        "testtoken",
		ParentCIDR:   "2001:db8:ed0::/56",
		PrefixLength: 63,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := a.GetOrAllocatePrefix(context.Background(), "keyA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.String() != "2001:db8:ed0:4::/63" {
		t.Errorf("expected existing prefix to be reused, got %v", p)
	}
}
