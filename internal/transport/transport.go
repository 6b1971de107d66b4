// Package transport implements the POST-only JSON request/response channel
// of spec.md §2.4/§6: "HTTP POST to <baseUrl>/<method> with
// Content-Type: application/json. Response is JSON." It is deliberately
// thin — callers marshal/unmarshal their own request and response types;
// this package only owns the wire mechanics, grounded on the teacher's
// parseJSON/jsonResponse/jsonErrorResponse helpers in
// internal/server/server.go.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNoBody mirrors the teacher's parseJSON guard against a nil request body.
var ErrNoBody = errors.New("transport: no request body")

// Client issues POST <baseUrl>/<method> calls and decodes the JSON response,
// per spec.md §6. It is the seam internal/readerclient drives every RPC
// through; a fake implementation backs the pool-manager tests without a
// real HTTP round trip.
type Client interface {
	// Post sends req as a JSON body to <method> and decodes the response
	// body into resp (ignored if nil). It returns the HTTP status code
	// alongside any transport-level error, so callers can distinguish
	// protocol-significant statuses (404 on certifyKeys) from decode
	// failures.
	Post(ctx context.Context, method string, req, resp interface{}) (statusCode int, err error)
}

// HTTPClient is the production Client: POST <baseUrl>/<method>.
type HTTPClient struct {
	BaseURL string
	HC      *http.Client
}

// NewHTTPClient builds an HTTPClient; a nil http.Client defaults to
// http.DefaultClient.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{BaseURL: baseURL, HC: hc}
}

func (c *HTTPClient) Post(ctx context.Context, method string, req, resp interface{}) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("transport: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("transport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HC.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("transport: %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return httpResp.StatusCode, fmt.Errorf("transport: read response: %w", err)
	}

	if httpResp.StatusCode/100 != 2 {
		return httpResp.StatusCode, fmt.Errorf("transport: %s: status %d: %s", method, httpResp.StatusCode, raw)
	}

	if resp != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil {
			return httpResp.StatusCode, fmt.Errorf("transport: decode response: %w", err)
		}
	}
	return httpResp.StatusCode, nil
}

// ParseJSON decodes an inbound HTTP request body into v, the server-side
// mirror of the teacher's parseJSON.
func ParseJSON(r *http.Request, v interface{}) error {
	if r == nil || r.Body == nil {
		return ErrNoBody
	}
	defer r.Body.Close()
	defer io.Copy(io.Discard, r.Body) //nolint:errcheck

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("transport: decode request: %w", err)
	}
	return nil
}

// WriteJSON writes v as the JSON response body with status code, the
// server-side mirror of the teacher's jsonResponse.
func WriteJSON(w http.ResponseWriter, v interface{}, statusCode int) {
	raw, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "transport: error creating JSON response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(raw)
}

// WriteJSONError writes {"error": err.Error()} with statusCode, the
// server-side mirror of the teacher's jsonErrorResponse.
func WriteJSONError(w http.ResponseWriter, err error, statusCode int) {
	WriteJSON(w, struct {
		Error string `json:"error"`
	}{Error: err.Error()}, statusCode)
}
