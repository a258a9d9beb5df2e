// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream provides the typed event layer between the assistant
// backend's event feed and the session coordinator.
//
// This file defines the tagged-union event model. Inbound wire payloads
// are duck-typed JSON; the parser in this package converts them into
// exactly one strongly-typed payload per event before dispatch, so the
// coordinator never probes raw maps.
//
// Event taxonomy:
//
//   - progress:           lifecycle snapshot deltas
//   - token:              streamed response text, optionally sequenced
//   - proposal.ready:     an assistant-authored edit awaiting approval
//   - analysis.completed: analysis turn finished
//   - state:              fallback-delivery state transitions
//   - error:              stream-scoped failure
//
// Unknown event types and malformed payloads are dropped by the parser;
// they never terminate a subscription.
package stream

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Event Types
// =============================================================================

// EventType identifies the kind of streaming event.
type EventType string

const (
	EventProgress          EventType = "progress"
	EventToken             EventType = "token"
	EventProposalReady     EventType = "proposal.ready"
	EventAnalysisCompleted EventType = "analysis.completed"
	EventState             EventType = "state"
	EventError             EventType = "error"
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsTerminal reports whether this event type ends the stream.
//
// Only error events are terminal; progress and state events may keep
// arriving for the lifetime of the session.
func (t EventType) IsTerminal() bool {
	return t == EventError
}

// =============================================================================
// Payload Structs
// =============================================================================

// ReplacementInfo reports that this session preempted another.
type ReplacementInfo struct {
	PreviousSessionID string `json:"previousSessionId" validate:"required"`
	PromotedSessionID string `json:"promotedSessionId,omitempty"`
}

// ProgressPayload is a lifecycle snapshot delta from the backend.
//
// Optional fields use pointers so the coordinator can distinguish
// "absent" from zero values when merging into its canonical state.
type ProgressPayload struct {
	Status          string           `json:"status" validate:"required"`
	ElapsedMs       int64            `json:"elapsedMs"`
	Stage           string           `json:"stage,omitempty"`
	Sequence        *int64           `json:"sequence,omitempty"`
	CancelReason    string           `json:"cancelReason,omitempty"`
	RetryCount      *int             `json:"retryCount,omitempty"`
	FallbackReason  string           `json:"fallbackReason,omitempty"`
	PreservedTokens *int             `json:"preservedTokensCount,omitempty"`
	Delivery        string           `json:"delivery,omitempty"`
	Replacement     *ReplacementInfo `json:"replacement,omitempty"`
}

// TokenPayload is a single streamed response token.
//
// Sequence is nil for the unordered legacy path; such tokens are
// appended in receipt order and never buffered.
type TokenPayload struct {
	Value    string `json:"value"`
	Sequence *int64 `json:"sequence,omitempty"`
}

// DiffSegment is one raw wire segment of a proposed edit.
//
// The backend has shipped segment text under both "content" and
// "value" at different API revisions; both are retained here and
// resolved by the canonicalizer.
type DiffSegment struct {
	SegmentID string `json:"segmentId"`
	Type      string `json:"type,omitempty"`
	Content   string `json:"content,omitempty"`
	Value     string `json:"value,omitempty"`
}

// DiffPayload is the raw, partially-typed diff attached to a proposal.
type DiffPayload struct {
	Mode     string        `json:"mode,omitempty"`
	Segments []DiffSegment `json:"segments"`
}

// Citation references source material supporting a proposal or turn.
type Citation struct {
	SourceID string `json:"sourceId"`
	Label    string `json:"label,omitempty"`
	Location string `json:"location,omitempty"`
}

// ProposalPayload is an assistant-authored edit awaiting approval.
type ProposalPayload struct {
	ProposalID  string      `json:"proposalId" validate:"required"`
	Diff        DiffPayload `json:"diff"`
	Annotations []string    `json:"annotations,omitempty"`
	Confidence  float64     `json:"confidence" validate:"gte=0,lte=1"`
	Citations   []Citation  `json:"citations,omitempty"`
	ExpiresAt   int64       `json:"expiresAt,omitempty"`
	DiffHash    string      `json:"diffHash,omitempty"`
}

// AnalysisPayload signals completion of an analysis turn.
type AnalysisPayload struct {
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId" validate:"required"`
}

// Fallback delivery statuses carried by state events.
const (
	FallbackActive    = "fallback_active"
	FallbackCompleted = "fallback_completed"
	FallbackCanceled  = "fallback_canceled"
	FallbackFailed    = "fallback_failed"
)

// StatePayload reports degraded-delivery state transitions.
type StatePayload struct {
	Status          string `json:"status" validate:"required,oneof=fallback_active fallback_completed fallback_canceled fallback_failed"`
	FallbackReason  string `json:"fallbackReason,omitempty"`
	PreservedTokens *int   `json:"preservedTokensCount,omitempty"`
	RetryAttempted  bool   `json:"retryAttempted,omitempty"`
	ElapsedMs       int64  `json:"elapsedMs,omitempty"`
	Delivery        string `json:"delivery,omitempty"`
}

// ErrorPayload is a stream-scoped failure message.
type ErrorPayload struct {
	Message string `json:"message" validate:"required"`
}

// =============================================================================
// Event
// =============================================================================

// Event is a strongly-typed streaming event.
//
// Exactly one payload pointer is non-nil, matching Type. The parser
// guarantees this invariant for every event it emits.
type Event struct {
	ID        string
	CreatedAt int64
	Type      EventType

	Progress *ProgressPayload
	Token    *TokenPayload
	Proposal *ProposalPayload
	Analysis *AnalysisPayload
	State    *StatePayload
	Error    *ErrorPayload
}

// IsTerminal reports whether this event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type.IsTerminal()
}

// NewErrorEvent builds a synthetic error event. Used by readers to
// surface transport-level disconnects as an in-band event.
func NewErrorEvent(message string) Event {
	return Event{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      EventError,
		Error:     &ErrorPayload{Message: message},
	}
}

// NewTokenEvent builds a token event. Primarily used by tests and the
// websocket transport's keepalive path.
func NewTokenEvent(value string, sequence *int64) Event {
	return Event{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      EventToken,
		Token:     &TokenPayload{Value: value, Sequence: sequence},
	}
}

// DisconnectReason is the stable machine-readable reason attached to
// synthetic error events when the transport drops.
const DisconnectReason = "stream_disconnected"
