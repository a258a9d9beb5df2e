// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coauthor coordinates long-running, streamed, human-in-the-loop
// assistant interactions for document co-authoring and document QA review.
//
// The package centers on the Coordinator, which owns session identity,
// the event subscription, and the mapping from backend protocol events
// to observable state. Four satellites support it: the token
// resequencer, the diff canonicalizer, the fallback tracker, and the
// progress announcer.
//
// This file defines the shared data model.
package coauthor

import (
	"time"
)

// =============================================================================
// Status & Enums
// =============================================================================

// Status is the externally observed lifecycle status of a session.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusQueued           Status = "queued"
	StatusStreaming        Status = "streaming"
	StatusAwaitingApproval Status = "awaiting-approval"
	StatusFallback         Status = "fallback"
	StatusCanceled         Status = "canceled"
	StatusError            Status = "error"
)

// IsTerminal reports whether the status ends the current attempt.
// A terminal session cannot be reused; a fresh EnsureSession call
// allocates a new identity.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusError
}

// timed reports whether the elapsed ticker should run in this status.
func (s Status) timed() bool {
	return s == StatusQueued || s == StatusStreaming || s == StatusFallback
}

// Delivery identifies how assistant output is arriving.
type Delivery string

const (
	DeliveryStreaming Delivery = "streaming"
	DeliveryFallback  Delivery = "fallback"
)

// SessionKind distinguishes the two interaction flavors.
type SessionKind string

const (
	KindCoAuthor SessionKind = "co-author"
	KindReview   SessionKind = "review"
)

// Speaker identifies who authored a conversation turn.
type Speaker string

const (
	SpeakerAuthor    Speaker = "author"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// Cancel reasons understood by the backend.
const (
	CancelReasonAuthor    = "author_cancelled"
	CancelReasonReplaced  = "replaced_by_new_request"
	CancelReasonTransport = "transport_failure"
	CancelReasonDeferred  = "deferred"
)

// Stable machine-readable reasons for degraded or failed delivery.
const (
	FallbackReasonAssistantUnavailable = "assistant_unavailable"
	FallbackReasonTransportBlocked     = "transport_blocked"
	FallbackReasonRequestFailed        = "request_failed"

	// ReasonApprovalFailed classifies proposals that arrive without any
	// resolvable diff hash. No approval was attempted, but an unhashed
	// proposal can never be safely approved, so it shares the class.
	ReasonApprovalFailed = "approval_failed"
)

// =============================================================================
// Session
// =============================================================================

// Session identifies one active assistant interaction scoped to a
// document section and participant. Exactly one non-terminated session
// may exist per (DocumentID, SectionID) pair; creating a new one
// atomically supersedes any prior session for that pair.
type Session struct {
	SessionID      string      `json:"session_id"`
	DocumentID     string      `json:"document_id"`
	SectionID      string      `json:"section_id"`
	ParticipantID  string      `json:"participant_id"`
	Kind           SessionKind `json:"kind"`
	StartedAt      time.Time   `json:"started_at"`
	StreamState    Status      `json:"stream_state"`
	StreamLocation string      `json:"stream_location"`
	Terminated     bool        `json:"terminated"`
}

// =============================================================================
// ProgressState
// =============================================================================

// SlowStreamThreshold is the wall-clock SLA after which the cancel
// affordance becomes available while still streaming.
const SlowStreamThreshold = 5 * time.Second

// ProgressState is the externally observed lifecycle snapshot.
//
// The Coordinator owns ProgressState exclusively; all other components
// read it or propose deltas that the Coordinator merges. Transitions
// are pure (state, event) -> state merges; see progress.go.
type ProgressState struct {
	Status          Status   `json:"status"`
	ElapsedMs       int64    `json:"elapsed_ms"`
	StageLabel      string   `json:"stage_label,omitempty"`
	FirstUpdateMs   int64    `json:"first_update_ms,omitempty"`
	CancelReason    string   `json:"cancel_reason,omitempty"`
	RetryCount      int      `json:"retry_count"`
	FallbackReason  string   `json:"fallback_reason,omitempty"`
	PreservedTokens int      `json:"preserved_tokens"`
	Delivery        Delivery `json:"delivery"`
}

// CancelAvailable reports whether the slow-stream cancel affordance
// should be offered. This is a derived fact, not a distinct status.
func (p ProgressState) CancelAvailable() bool {
	return p.Status == StatusStreaming &&
		p.ElapsedMs >= SlowStreamThreshold.Milliseconds()
}

// =============================================================================
// Replacement
// =============================================================================

// ReplacementNotice records that a session preempted another.
type ReplacementNotice struct {
	PreviousSessionID string    `json:"previous_session_id"`
	ReplacedAt        time.Time `json:"replaced_at"`
	PromotedSessionID string    `json:"promoted_session_id,omitempty"`
}

// =============================================================================
// Proposals & Turns
// =============================================================================

// PendingProposalSnapshot is an assistant-authored edit awaiting
// approval. DiffHash is never empty while a snapshot is observable: it
// is either server-supplied or computed by the canonicalizer before
// the proposal becomes visible.
type PendingProposalSnapshot struct {
	ProposalID   string        `json:"proposal_id"`
	OriginTurnID string        `json:"origin_turn_id"`
	Diff         CanonicalDiff `json:"diff"`
	DraftPatch   string        `json:"draft_patch"`
	DiffHash     string        `json:"diff_hash"`
	Confidence   float64       `json:"confidence"`
	Annotations  []string      `json:"annotations,omitempty"`
	Citations    []CitationRef `json:"citations,omitempty"`
	ExpiresAt    int64         `json:"expires_at,omitempty"`
}

// CitationRef references source material supporting a proposal or turn.
type CitationRef struct {
	SourceID string `json:"source_id"`
	Label    string `json:"label,omitempty"`
	Location string `json:"location,omitempty"`
}

// ApprovedProposalRecord is the audit-trail entry for an applied edit.
// Teardown for navigation preserves these records; only a manual
// teardown clears them.
type ApprovedProposalRecord struct {
	ProposalID    string    `json:"proposal_id"`
	DiffHash      string    `json:"diff_hash"`
	DraftVersion  string    `json:"draft_version,omitempty"`
	ApprovalNotes string    `json:"approval_notes,omitempty"`
	ApprovedAt    time.Time `json:"approved_at"`
}

// ConversationTurn is an append-only transcript entry. Turns are
// immutable once recorded; only new turns are appended.
type ConversationTurn struct {
	TurnID    string        `json:"turn_id"`
	SessionID string        `json:"session_id"`
	Speaker   Speaker       `json:"speaker"`
	Intent    string        `json:"intent,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
	Response  string        `json:"response,omitempty"`
	Citations []CitationRef `json:"citations,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// =============================================================================
// Fallback
// =============================================================================

// FallbackState carries degraded-delivery metadata while the primary
// stream cannot be sustained. Fallback is not an error: tokens may
// still arrive and transcripts still build.
type FallbackState struct {
	Active          bool   `json:"active"`
	Reason          string `json:"reason,omitempty"`
	PreservedTokens int    `json:"preserved_tokens"`
	ElapsedMs       int64  `json:"elapsed_ms"`
	Retryable       bool   `json:"retryable"`
	RetryAttempted  bool   `json:"retry_attempted"`
}
