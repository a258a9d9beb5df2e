// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream provides the typed event layer between the assistant
// backend's event feed and the session coordinator.
//
// This file contains the SSE parser. Parsers ONLY parse: they do not
// perform I/O, rendering, or state management.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	data: {"type":"token","value":"Hello","sequence":3}\n
//	\n
//
// Each line starting with "data: " carries a JSON payload. Empty lines
// are event delimiters. Lines starting with ":" are comments.
//
// Robustness contract: unknown event types and malformed JSON are
// dropped (nil event, nil error). A bad payload must never crash or
// terminate the subscription.
package stream

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Parser Interface
// =============================================================================

// Parser converts raw wire payloads into typed Events.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. The default
//	implementation is stateless apart from a shared validator, which
//	is itself thread-safe.
type Parser interface {
	// ParseLine parses a single line of SSE input.
	//
	// Returns nil, nil for empty lines, comments, non-data lines,
	// malformed JSON, and unknown event types. Returns a fully typed
	// event otherwise.
	ParseLine(line string) (*Event, error)

	// ParseRawJSON parses a raw JSON payload (without the "data: "
	// prefix) into a typed Event. Same drop semantics as ParseLine.
	ParseRawJSON(data []byte) (*Event, error)
}

// =============================================================================
// Implementation
// =============================================================================

// eventParser implements Parser for the co-author event taxonomy.
type eventParser struct {
	validate *validator.Validate
}

// NewParser creates the production event parser.
//
// The returned parser is stateless and can be shared across goroutines.
func NewParser() Parser {
	return &eventParser{
		validate: validator.New(),
	}
}

// envelope is the minimal shape probed before payload decoding.
type envelope struct {
	Type string `json:"type"`
}

// ParseLine parses a single SSE line.
func (p *eventParser) ParseLine(line string) (*Event, error) {
	line = strings.TrimSpace(line)

	// Empty lines are event delimiters; comments start with ":".
	if line == "" || strings.HasPrefix(line, ":") {
		return nil, nil
	}

	if strings.HasPrefix(line, "data: ") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data: ")))
	}
	// Some servers omit the space after the colon.
	if strings.HasPrefix(line, "data:") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data:")))
	}

	// Not a data line (e.g. "event:", "id:", "retry:"). The event type
	// rides inside the JSON payload, so framing fields are ignored.
	return nil, nil
}

// ParseRawJSON parses a JSON payload into a typed Event.
//
// Exactly one payload field is populated per event. Validation failures
// (missing required fields, out-of-range confidence) drop the event.
func (p *eventParser) ParseRawJSON(data []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Debug("dropping malformed stream payload", "error", err)
		return nil, nil
	}

	event := &Event{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      EventType(env.Type),
	}

	var payload any
	switch event.Type {
	case EventProgress:
		pl := &ProgressPayload{}
		event.Progress = pl
		payload = pl
	case EventToken:
		pl := &TokenPayload{}
		event.Token = pl
		payload = pl
	case EventProposalReady:
		pl := &ProposalPayload{}
		event.Proposal = pl
		payload = pl
	case EventAnalysisCompleted:
		pl := &AnalysisPayload{}
		event.Analysis = pl
		payload = pl
	case EventState:
		pl := &StatePayload{}
		event.State = pl
		payload = pl
	case EventError:
		pl := &ErrorPayload{}
		event.Error = pl
		payload = pl
	default:
		slog.Debug("ignoring unknown stream event type", "type", env.Type)
		return nil, nil
	}

	if err := json.Unmarshal(data, payload); err != nil {
		slog.Debug("dropping stream event with malformed payload",
			"type", env.Type,
			"error", err,
		)
		return nil, nil
	}

	if err := p.validate.Struct(payload); err != nil {
		slog.Debug("dropping stream event failing validation",
			"type", env.Type,
			"error", err,
		)
		return nil, nil
	}

	return event, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Parser = (*eventParser)(nil)
