package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/signature"
)

type captured struct {
	body    []byte
	headers http.Header
}

func testEvent(eventType string) *event.Event {
	return &event.Event{
		ID:       id.NewEventID(),
		Type:     eventType,
		Source:   "billing",
		TenantID: "tenant-1",
		Data:     map[string]any{"invoice_id": "inv-1"},
	}
}

func TestSender_SignsExactBytesSent(t *testing.T) {
	var got atomic.Pointer[captured]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.Store(&captured{body: body, headers: r.Header.Clone()})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep := &endpoint.Endpoint{
		ID:      id.NewEndpointID(),
		URL:     srv.URL,
		Secret:  signature.GenerateSecret(),
		Headers: map[string]string{"X-Custom": "custom-value"},
	}
	evt := testEvent("invoice.paid")

	s := delivery.NewSender(5 * time.Second)
	res := s.Send(context.Background(), ep, evt)

	if !res.OK() {
		t.Fatalf("Send() = %+v, want 2xx", res)
	}

	c := got.Load()
	if c == nil {
		t.Fatal("receiver never called")
	}

	// The signature verifies over the exact bytes that hit the wire.
	sig := c.headers.Get("X-Herald-Signature")
	if sig != res.Signature {
		t.Errorf("header signature %q != result signature %q", sig, res.Signature)
	}
	if !signature.Verify(c.body, ep.Secret, sig) {
		t.Errorf("signature %q does not verify over delivered body %s", sig, c.body)
	}

	if ct := c.headers.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if et := c.headers.Get("X-Herald-Event"); et != "invoice.paid" {
		t.Errorf("X-Herald-Event = %q", et)
	}
	if eid := c.headers.Get("X-Herald-Event-ID"); eid != evt.ID.String() {
		t.Errorf("X-Herald-Event-ID = %q", eid)
	}
	if ts := c.headers.Get("X-Herald-Timestamp"); ts == "" {
		t.Error("X-Herald-Timestamp missing")
	} else if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("X-Herald-Timestamp %q not RFC3339: %v", ts, err)
	}
	if cv := c.headers.Get("X-Custom"); cv != "custom-value" {
		t.Errorf("custom header = %q", cv)
	}
}

func TestSender_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ep := &endpoint.Endpoint{
		ID:     id.NewEndpointID(),
		URL:    srv.URL,
		Secret: signature.GenerateSecret(),
	}

	s := delivery.NewSender(5 * time.Second)
	res := s.Send(context.Background(), ep, testEvent("invoice.paid"))

	if res.OK() {
		t.Fatal("Send() reported OK for a 503")
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}
	if res.Error != "HTTP 503" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSender_TransportError(t *testing.T) {
	ep := &endpoint.Endpoint{
		ID:     id.NewEndpointID(),
		URL:    "http://127.0.0.1:1", // nothing listens here
		Secret: signature.GenerateSecret(),
	}

	s := delivery.NewSender(time.Second)
	res := s.Send(context.Background(), ep, testEvent("invoice.paid"))

	if res.OK() {
		t.Fatal("Send() reported OK for unreachable endpoint")
	}
	if res.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", res.StatusCode)
	}
	if res.Error == "" {
		t.Error("Error is empty")
	}
}

func TestSender_ResponseBodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	ep := &endpoint.Endpoint{
		ID:     id.NewEndpointID(),
		URL:    srv.URL,
		Secret: signature.GenerateSecret(),
	}

	s := delivery.NewSender(5 * time.Second)
	res := s.Send(context.Background(), ep, testEvent("invoice.paid"))

	if len(res.Response) != 1024 {
		t.Errorf("Response length = %d, want 1024", len(res.Response))
	}
}
