// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DefaultEndpoint is where the field deployment's collection server listens
const DefaultEndpoint = "http://localhost:1337/newMeasurement"

// maxErrorBody bounds how much of a failed response is kept
const maxErrorBody = 4096

// Codec serializes request payloads
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
}

// JSONCodec encodes payloads as JSON
type JSONCodec struct{}

// ContentType implements Codec
func (JSONCodec) ContentType() string { return "application/json" }

// Marshal implements Codec
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// CBORCodec encodes payloads as CBOR
type CBORCodec struct{}

// ContentType implements Codec
func (CBORCodec) ContentType() string { return "application/cbor" }

// Marshal implements Codec
func (CBORCodec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

// CodecFor returns the codec named by format ("json" or "cbor")
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown collector format %q", format)
	}
}

// DeliveryError reports a non-2xx response from the collection server
type DeliveryError struct {
	StatusCode int
	Body       []byte
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("collector: http %d", e.StatusCode)
	}
	return fmt.Sprintf("collector: http %d: %s", e.StatusCode, bytes.TrimSpace(e.Body))
}

// HTTPOption configures an HTTPDeliverer
type HTTPOption func(*HTTPDeliverer)

// WithCodec selects the payload encoding
func WithCodec(c Codec) HTTPOption {
	return func(h *HTTPDeliverer) {
		h.codec = c
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPDeliverer) {
		h.header.Set(key, value)
	}
}

// HTTPDeliverer delivers requests over HTTP. Each delivery runs on its own
// goroutine and reports through the done callback.
type HTTPDeliverer struct {
	client *http.Client
	codec  Codec
	header http.Header
}

// NewHTTPDeliverer creates a deliverer. A nil client gets a 10s timeout.
func NewHTTPDeliverer(client *http.Client, opts ...HTTPOption) *HTTPDeliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	h := &HTTPDeliverer{
		client: client,
		codec:  JSONCodec{},
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Deliver implements Deliverer
func (h *HTTPDeliverer) Deliver(ctx context.Context, req Request, done func(error)) {
	go func() {
		done(h.Do(ctx, req))
	}()
}

// Do performs req synchronously
func (h *HTTPDeliverer) Do(ctx context.Context, req Request) error {
	body, err := h.codec.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("collector: encode payload: %w", err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collector: build request: %w", err)
	}
	for k, v := range h.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", h.codec.ContentType())
	httpReq.Header.Set("Accept", h.codec.ContentType())
	httpReq.Header.Set("X-Request-Id", req.ID.String())

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &DeliveryError{StatusCode: resp.StatusCode, Body: rb}
}
