package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"wgkex/internal/balancer"
	"wgkex/internal/blacklist"
	"wgkex/internal/fleet"
	"wgkex/internal/ipam"
	"wgkex/internal/logger"
	"wgkex/internal/model"
	"wgkex/internal/signer"
)

const (
	testPubkeyA = "o52Ge+Rpj4CUSitVag9mS7pSXUesNM0ESnvj/wwehkg="
	testPubkeyB = "mK0477z4M24qLMVu2aSNwJjgCR97FPbyxsZ3+gx/NWg="
)

type fakePublisher struct {
	peerInstalls []string
	parkerMsgs   [][]byte
	failInstall  bool
	failAnnounce bool
}

func (f *fakePublisher) PublishPeerInstall(domain, pubkey string) error {
	if f.failInstall {
		return errTest
	}
	f.peerInstalls = append(f.peerInstalls, domain+"|"+pubkey)
	return nil
}

func (f *fakePublisher) PublishParkerAnnouncement(payload []byte) error {
	if f.failAnnounce {
		return errTest
	}
	f.parkerMsgs = append(f.parkerMsgs, payload)
	return nil
}

var errTest = &testError{"fake publish failure"}

type testError struct{ s string }

func (e *testError) Error() string { return e.s }

func newTestHandler(t *testing.T) (*Handler, *fakePublisher) {
	t.Helper()
	logger.SetForTest(zaptest.NewLogger(t))
	gin.SetMode(gin.TestMode)

	table, err := model.NewDomainTable([]string{"ffmuc_welt"}, []string{"ffmuc_"})
	if err != nil {
		t.Fatalf("building domain table: %v", err)
	}

	registry := fleet.New()
	registry.SetOnline("worker-a")
	registry.UpdateMetric("worker-a", "ffmuc_welt", "connected_peers", 20)
	registry.PutEndpoint("worker-a", "ffmuc_welt", fleet.WorkerEndpoint{
		ExternalAddress: "worker-a.example.net",
		Port:            51820,
		PublicKey:       "worker-a-pubkey",
		LinkAddress:     "fe80::1/128",
	})
	registry.SetOnline("worker-b")
	registry.UpdateMetric("worker-b", "ffmuc_welt", "connected_peers", 19)
	registry.PutEndpoint("worker-b", "ffmuc_welt", fleet.WorkerEndpoint{
		ExternalAddress: "worker-b.example.net",
		Port:            51820,
		PublicKey:       "worker-b-pubkey",
		LinkAddress:     "fe80::2/128",
	})

	weights := balancer.WeightTable{
		"worker-a": {Weight: 1},
		"worker-b": {Weight: 1},
	}

	pub := &fakePublisher{}

	return &Handler{
		Domains:  table,
		Registry: registry,
		Selector: balancer.New(registry, weights),
		Bus:      pub,
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	}, pub
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPostV1KeyExchange_Happy(t *testing.T) {
	h, pub := newTestHandler(t)
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodPost, "/api/v1/wg/key/exchange", map[string]string{
		"public_key": testPubkeyA,
		"domain":     "ffmuc_welt",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(pub.peerInstalls) != 1 || pub.peerInstalls[0] != "ffmuc_welt|"+testPubkeyA {
		t.Fatalf("expected one peer-install publish, got %v", pub.peerInstalls)
	}
}

func TestPostV1KeyExchange_InvalidKey(t *testing.T) {
	h, pub := newTestHandler(t)
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodPost, "/api/v1/wg/key/exchange", map[string]string{
		"public_key": "not_a_key",
		"domain":     "ffmuc_welt",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(pub.peerInstalls) != 0 {
		t.Fatalf("expected no bus publish for invalid key, got %v", pub.peerInstalls)
	}
}

func TestPostV1KeyExchange_Blacklisted(t *testing.T) {
	h, pub := newTestHandler(t)

	path := filepath.Join(t.TempDir(), "deny.yaml")
	if err := os.WriteFile(path, []byte(testPubkeyA+": Abuse\n"), 0o644); err != nil {
		t.Fatalf("writing deny-list: %v", err)
	}
	bl, err := blacklist.New(path, false)
	if err != nil {
		t.Fatalf("building blacklist: %v", err)
	}
	h.Blacklist = bl

	router := NewRouter(h)
	w := doJSON(t, router, http.MethodPost, "/api/v1/wg/key/exchange", map[string]string{
		"public_key": testPubkeyA,
		"domain":     "ffmuc_welt",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blacklisted key, got %d", w.Code)
	}
	if len(pub.peerInstalls) != 0 {
		t.Fatalf("expected no bus publish for blacklisted key, got %v", pub.peerInstalls)
	}
}

func TestPostV1KeyExchange_UnknownDomain(t *testing.T) {
	h, _ := newTestHandler(t)
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodPost, "/api/v1/wg/key/exchange", map[string]string{
		"public_key": testPubkeyA,
		"domain":     "nope",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPostV2KeyExchange_SelectsLeastLoaded(t *testing.T) {
	h, _ := newTestHandler(t)
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodPost, "/api/v2/wg/key/exchange", map[string]string{
		"public_key": testPubkeyA,
		"domain":     "ffmuc_welt",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp v2Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Endpoint.PublicKey != "worker-b-pubkey" {
		t.Fatalf("expected worker-b to be selected (lower load), got %q", resp.Endpoint.PublicKey)
	}
	if got := h.Registry.PeerCount("worker-b"); got != 20 {
		t.Fatalf("expected optimistic bump to 20, got %d", got)
	}
}

func TestPostV2KeyExchange_NoWorkerOnline(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Registry = fleet.New() // empty registry, nobody online
	h.Selector = balancer.New(h.Registry, balancer.WeightTable{})
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodPost, "/api/v2/wg/key/exchange", map[string]string{
		"public_key": testPubkeyA,
		"domain":     "ffmuc_welt",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when no worker online, got %d", w.Code)
	}
}

func TestHealthLiveness(t *testing.T) {
	h, _ := newTestHandler(t)
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHealthReadiness_NoWorkersOnline(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Registry = fleet.New()
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetV3KeyExchange_Disabled(t *testing.T) {
	h, _ := newTestHandler(t)
	router := NewRouter(h)

	w := doJSON(t, router, http.MethodGet, "/api/v3/wg/key/exchange?v6mtu=1500&pubkey="+testPubkeyA+"&nonce=abc", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when parker disabled, got %d", w.Code)
	}
}

func TestGetV3KeyExchange_Signed(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Parker = ParkerConfig{Enabled: true, Range4: "10.80.99.0/22"}

	allocated := netip.MustParsePrefix("2001:db8:ed0::/63")
	h.IPAM = ipamStub{prefix: allocated}

	sgn, err := signer.Load("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	if err != nil {
		t.Fatalf("loading signer: %v", err)
	}
	h.Signer = sgn

	router := NewRouter(h)
	w := doJSON(t, router, http.MethodGet, "/api/v3/wg/key/exchange?v6mtu=1500&pubkey="+testPubkeyA+"&nonce=abc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") == "" {
		t.Fatalf("expected a content-type header")
	}

	body := w.Body.Bytes()
	idx := bytes.IndexByte(body, '\n')
	if idx < 0 {
		t.Fatalf("expected a newline-terminated json prefix, got %q", body)
	}
	var resp map[string]any
	if err := json.Unmarshal(body[:idx+1], &resp); err != nil {
		t.Fatalf("decoding json prefix: %v", err)
	}
	if resp["nonce"] != "abc" {
		t.Fatalf("expected nonce abc, got %v", resp["nonce"])
	}
	if resp["mtu"].(float64) != 1375 {
		t.Fatalf("expected mtu clamped to 1375, got %v", resp["mtu"])
	}
	if resp["range6"] != "2001:db8:ed0::/64" {
		t.Fatalf("expected range6 2001:db8:ed0::/64, got %v", resp["range6"])
	}
	if resp["xlat_range6"] != "2001:db8:ed0:1::/64" {
		t.Fatalf("expected xlat_range6 2001:db8:ed0:1::/64, got %v", resp["xlat_range6"])
	}
	if len(body) <= idx+1 {
		t.Fatalf("expected a trailing signature after the json body")
	}
}

type ipamStub struct {
	prefix netip.Prefix
}

func (s ipamStub) GetOrAllocatePrefix(_ context.Context, _ string) (netip.Prefix, error) {
	return s.prefix, nil
}
func (s ipamStub) UpdatePrefix(_ context.Context, _ string, _ []string) error { return nil }
func (s ipamStub) ReleasePrefix(_ context.Context, _ string) error            { return ipam.ErrNotSupported }
