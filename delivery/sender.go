package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/signature"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Envelope is the wire payload POSTed to webhook endpoints. It is
// serialized canonically (sorted keys) and the signature is computed over
// exactly the bytes sent, so receivers can verify without re-serializing.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	TenantID  string `json:"tenantId"`
	Timestamp string `json:"timestamp"`
}

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	Signature  string
	LatencyMs  int
}

// OK reports whether the attempt got a 2xx response.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs signed HTTP webhook delivery with a bounded timeout.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers an event to an endpoint and returns the result. A hung
// endpoint is cut off by the client timeout and reported as a failure; it
// never stalls the caller beyond the configured bound.
func (s *Sender) Send(ctx context.Context, ep *endpoint.Endpoint, evt *event.Event) Result {
	ts := time.Now().UTC().Format(time.RFC3339)

	body, err := signature.CanonicalJSON(Envelope{
		Type:      evt.Type,
		Data:      evt.Data,
		TenantID:  evt.TenantID,
		Timestamp: ts,
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	sig := signature.Sign(body, ep.Secret)

	// Standard headers.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Herald/1.0")
	req.Header.Set("X-Herald-Signature", sig)
	req.Header.Set("X-Herald-Event", evt.Type)
	req.Header.Set("X-Herald-Timestamp", ts)
	if !evt.ID.IsNil() {
		req.Header.Set("X-Herald-Event-ID", evt.ID.String())
	}

	// Custom endpoint headers.
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			Signature: sig,
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			Signature:  sig,
			LatencyMs:  int(latency),
		}
	}

	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		Signature:  sig,
		LatencyMs:  int(latency),
	}
	if !res.OK() {
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res
}
