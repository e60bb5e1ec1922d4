// Package transport defines the injectable HTTP transport boundary the
// engine calls through, keeping it provider-agnostic.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Request is a provider-agnostic outbound call.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is the raw result of a Transport call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport performs one HTTP round trip. Implementations must honor
// ctx cancellation/deadlines.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// HTTPTransport is a Transport backed by the standard library's net/http
// client.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport builds an HTTPTransport with the given per-request
// timeout. A nil or zero timeout uses the provided context's deadline
// alone.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, req Request) (Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, err
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}

	return Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}
