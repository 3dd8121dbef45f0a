package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/api"
	"github.com/castellanhq/herald/store/memory"
)

// testServer creates a Handler backed by a memory store and returns the test
// server plus the bus behind it.
func testServer(t *testing.T) (*httptest.Server, *herald.Bus) {
	t.Helper()

	s := memory.New()
	bus, err := herald.New(herald.WithStore(s))
	if err != nil {
		t.Fatalf("herald.New() error = %v", err)
	}

	h := api.NewHandler(s, bus, bus.Endpoints(), bus.Engine(), bus.Replay(), slog.Default())
	return httptest.NewServer(h), bus
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func createTestEndpoint(t *testing.T, srvURL, targetURL string) map[string]any {
	t.Helper()
	resp := doJSON(t, "POST", srvURL+"/endpoints", map[string]any{
		"tenant_id":   "tenant-1",
		"name":        "billing hooks",
		"url":         targetURL,
		"event_types": []string{"invoice.*"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create endpoint: expected 201, got %d", resp.StatusCode)
	}
	var ep map[string]any
	decodeBody(t, resp, &ep)
	return ep
}

// --- Endpoints ---

func TestEndpoints_CRUD(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	// Create: the secret is returned exactly once.
	ep := createTestEndpoint(t, srv.URL, "https://example.com/hooks")
	epID, _ := ep["id"].(string)
	if epID == "" {
		t.Fatalf("create: no id in response %v", ep)
	}
	secret, _ := ep["secret"].(string)
	if !strings.HasPrefix(secret, "whsec_") {
		t.Fatalf("create: secret = %q, want whsec_ prefix", secret)
	}

	// Get: the secret must not serialize.
	resp := doJSON(t, "GET", srv.URL+"/endpoints/"+epID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, ok := got["secret"]; ok {
		t.Error("get: secret leaked in response")
	}

	// List by tenant.
	resp = doJSON(t, "GET", srv.URL+"/endpoints?tenant_id=tenant-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list: expected 1 endpoint, got %d", len(list))
	}

	// Update.
	resp = doJSON(t, "PUT", srv.URL+"/endpoints/"+epID, map[string]any{
		"name": "renamed hooks",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &got)
	if got["name"] != "renamed hooks" {
		t.Errorf("update: name = %v", got["name"])
	}

	// Disable and enable.
	resp = doJSON(t, "PATCH", srv.URL+"/endpoints/"+epID+"/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "PATCH", srv.URL+"/endpoints/"+epID+"/enable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Rotate secret.
	resp = doJSON(t, "POST", srv.URL+"/endpoints/"+epID+"/rotate-secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d", resp.StatusCode)
	}
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	if rotated["secret"] == secret || !strings.HasPrefix(rotated["secret"], "whsec_") {
		t.Errorf("rotate: secret %q not rotated", rotated["secret"])
	}

	// Delete.
	resp = doJSON(t, "DELETE", srv.URL+"/endpoints/"+epID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/endpoints/"+epID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEndpoints_Validation(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	// Missing URL.
	resp := doJSON(t, "POST", srv.URL+"/endpoints", map[string]any{
		"tenant_id":   "tenant-1",
		"event_types": []string{"*"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Missing tenant.
	resp = doJSON(t, "POST", srv.URL+"/endpoints", map[string]any{
		"url":         "https://example.com/hooks",
		"event_types": []string{"*"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing tenant: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Invalid pattern.
	resp = doJSON(t, "POST", srv.URL+"/endpoints", map[string]any{
		"tenant_id":   "tenant-1",
		"url":         "https://example.com/hooks",
		"event_types": []string{"has space"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid pattern: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown ID.
	resp = doJSON(t, "GET", srv.URL+"/endpoints/not-an-id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Events ---

func TestEvents_PublishAndGet(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"type":      "invoice.paid",
		"source":    "billing",
		"tenant_id": "tenant-1",
		"data":      map[string]any{"invoice_id": "inv-1"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish: expected 202, got %d", resp.StatusCode)
	}
	var published map[string]string
	decodeBody(t, resp, &published)
	evtID := published["id"]
	if !strings.HasPrefix(evtID, "evt_") {
		t.Fatalf("publish: id = %q", evtID)
	}

	resp = doJSON(t, "GET", srv.URL+"/events/"+evtID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var evt map[string]any
	decodeBody(t, resp, &evt)
	if evt["type"] != "invoice.paid" {
		t.Errorf("get: type = %v", evt["type"])
	}

	resp = doJSON(t, "GET", srv.URL+"/events?type=invoice.paid", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("list: expected 1 event, got %d", len(list))
	}

	// Missing type is rejected before anything persists.
	resp = doJSON(t, "POST", srv.URL+"/events", map[string]any{"source": "billing"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("publish without type: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEvents_ReplayRequiresFailed(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"type":      "invoice.paid",
		"tenant_id": "tenant-1",
	})
	var published map[string]string
	decodeBody(t, resp, &published)

	// Still pending, so a manual replay must be refused.
	resp = doJSON(t, "POST", srv.URL+"/events/"+published["id"]+"/replay", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("replay pending event: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Test delivery ---

func TestEndpoints_TestDelivery(t *testing.T) {
	var gotSignature atomic.Value
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature.Store(r.Header.Get("X-Herald-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	srv, _ := testServer(t)
	defer srv.Close()

	ep := createTestEndpoint(t, srv.URL, receiver.URL)
	epID, _ := ep["id"].(string)

	resp := doJSON(t, "POST", srv.URL+"/endpoints/"+epID+"/test", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test: expected 200, got %d", resp.StatusCode)
	}
	var result map[string]any
	decodeBody(t, resp, &result)

	sig, _ := gotSignature.Load().(string)
	if len(sig) != 64 {
		t.Errorf("receiver saw signature %q, want 64 hex chars", sig)
	}
}

// --- Stats ---

func TestStats(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"type":      "invoice.paid",
		"tenant_id": "tenant-1",
	})
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats map[string]any
	decodeBody(t, resp, &stats)
	if stats["pending"] != float64(1) {
		t.Errorf("stats: pending = %v, want 1", stats["pending"])
	}
}
