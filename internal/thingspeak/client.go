// Package thingspeak posts single-field channel updates as JSON.
package thingspeak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const maxResponseBytes = 64 << 10

// ErrRejected is returned when the endpoint answers 200 with body "0",
// which is how ThingSpeak reports a refused update (bad key, rate limit).
var ErrRejected = errors.New("update rejected by endpoint")

// Payload is the request body. Both keys are always present.
type Payload struct {
	APIKey string  `json:"api_key"`
	Field1 float64 `json:"field1"`
}

// LogValue keeps the write key out of logs.
func (p Payload) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("api_key", redact(p.APIKey)),
		slog.Float64("field1", p.Field1),
	)
}

func redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// Response is the decoded channel entry returned by the endpoint.
type Response struct {
	StatusCode int
	Body       map[string]any
	Raw        json.RawMessage
}

// EntryID returns the entry id the endpoint assigned, if it reported one.
func (r Response) EntryID() (int64, bool) {
	n, ok := r.Body["entry_id"].(json.Number)
	if !ok {
		return 0, false
	}
	id, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return id, true
}

// Dialer is satisfied by wifi.SocketPool.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient builds a client whose connections are opened through dialer.
// TLS uses the system trust store.
func NewClient(url string, dialer Dialer, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if dialer != nil {
		transport.DialContext = dialer.DialContext
	}
	return NewClientWithHTTP(url, &http.Client{Transport: transport, Timeout: timeout})
}

func NewClientWithHTTP(url string, hc *http.Client) *Client {
	return &Client{url: url, httpClient: hc}
}

func (c *Client) URL() string { return c.url }

// Post sends one update and decodes the JSON reply.
func (c *Client) Post(ctx context.Context, p Payload) (Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	return decode(resp.StatusCode, raw)
}

func decode(status int, raw []byte) (Response, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	switch body := v.(type) {
	case map[string]any:
		return Response{StatusCode: status, Body: body, Raw: json.RawMessage(raw)}, nil
	case json.Number:
		if body.String() == "0" {
			return Response{}, ErrRejected
		}
	}
	return Response{}, fmt.Errorf("decode response: unexpected body %s", bytes.TrimSpace(raw))
}
