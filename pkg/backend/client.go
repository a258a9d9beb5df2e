// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// INTERFACES
// =============================================================================

// HTTPClient abstracts the HTTP transport for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// CONFIGURATION STRUCTS
// =============================================================================

// ClientConfig configures the backend command client.
type ClientConfig struct {
	// BaseURL is the assistant service root, e.g. "http://localhost:8080".
	BaseURL string

	// HTTPClient optionally overrides the transport. Nil selects a
	// default client with a request timeout suitable for command calls
	// (the event subscription uses its own untimed client).
	HTTPClient HTTPClient
}

// =============================================================================
// IMPLEMENTATION STRUCTS
// =============================================================================

// Client issues session commands to the assistant backend.
//
// # Thread Safety
//
// Client is immutable after construction and safe for concurrent use.
type Client struct {
	baseURL  string
	http     HTTPClient
	validate *validator.Validate
	tracer   trace.Tracer
}

// streamLocationHeader carries the event subscription endpoint back to
// the caller when the backend relocates the stream.
const streamLocationHeader = "X-Stream-Location"

// =============================================================================
// CONSTRUCTOR FUNCTIONS
// =============================================================================

// NewClient creates a backend command client.
func NewClient(config ClientConfig) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		http:     httpClient,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer("aleutianscribe/backend"),
	}
}

// =============================================================================
// METHODS
// =============================================================================

// Analyze asks the assistant to analyze the current draft.
//
// # Description
//
// Issues POST /v1/co-author/analyze. The response echoes the session
// id and may carry a stream-location header pointing at a new event
// subscription endpoint; the caller re-subscribes there.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (CommandResponse, error) {
	req.IssuedAt = time.Now().UnixMilli()
	var resp CommandResponse
	location, err := c.post(ctx, "backend.analyze", "/v1/co-author/analyze", req.SessionID, req, &resp)
	if err != nil {
		return CommandResponse{}, err
	}
	resp.StreamLocation = location
	return resp, nil
}

// Propose asks the assistant for a concrete edit proposal.
func (c *Client) Propose(ctx context.Context, req ProposalRequest) (CommandResponse, error) {
	req.IssuedAt = time.Now().UnixMilli()
	var resp CommandResponse
	location, err := c.post(ctx, "backend.propose", "/v1/co-author/proposal", req.SessionID, req, &resp)
	if err != nil {
		return CommandResponse{}, err
	}
	resp.StreamLocation = location
	return resp, nil
}

// Apply approves a pending proposal with its canonical diff hash.
func (c *Client) Apply(ctx context.Context, req ApplyRequest) (ApplyResponse, error) {
	req.IssuedAt = time.Now().UnixMilli()
	var resp ApplyResponse
	if _, err := c.post(ctx, "backend.apply", "/v1/co-author/apply", req.SessionID, req, &resp); err != nil {
		return ApplyResponse{}, err
	}
	return resp, nil
}

// Reject discards a pending proposal. The caller treats failure as
// non-fatal; the rejection is already applied client-side.
func (c *Client) Reject(ctx context.Context, req RejectRequest) error {
	_, err := c.post(ctx, "backend.reject", "/v1/co-author/proposal/reject", req.SessionID, req, nil)
	return err
}

// Teardown closes the session on the backend.
func (c *Client) Teardown(ctx context.Context, req TeardownRequest) error {
	_, err := c.post(ctx, "backend.teardown", "/v1/co-author/teardown", req.SessionID, req, nil)
	return err
}

// post validates, serializes, and issues one command request, decoding
// the JSON response into out when out is non-nil. Returns the stream
// location header value, which most commands ignore.
func (c *Client) post(ctx context.Context, spanName, path, sessionID string, body any, out any) (string, error) {
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	if err := c.validate.Struct(body); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("validate %s request: %w", spanName, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("marshal %s request: %w", spanName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("build %s request: %w", spanName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("send %s request: %w", spanName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("%s rejected (status %d)", spanName, resp.StatusCode)
		span.RecordError(err)
		return "", err
	}

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("read %s response: %w", spanName, err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				span.RecordError(err)
				return "", fmt.Errorf("decode %s response: %w", spanName, err)
			}
		}
	}

	return resp.Header.Get(streamLocationHeader), nil
}
