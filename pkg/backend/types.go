// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backend implements the REST command surface toward the
// assistant service: co-author analysis and proposal requests, proposal
// approval and rejection, session teardown, and the document QA review
// variant with its cancel and retry commands.
//
// This file defines the wire DTOs. Field names follow the backend's
// JSON contract, not Go conventions.
package backend

// =============================================================================
// Co-author Commands
// =============================================================================

// AnalyzeRequest asks the assistant to analyze the current draft of a
// section within an ensured session.
type AnalyzeRequest struct {
	SessionID    string   `json:"sessionId"    validate:"required"`
	TurnID       string   `json:"turnId"       validate:"required"`
	Intent       string   `json:"intent,omitempty"`
	Prompt       string   `json:"prompt"       validate:"required"`
	ContextRefs  []string `json:"contextRefs,omitempty"`
	CurrentDraft string   `json:"currentDraft,omitempty"`
	IssuedAt     int64    `json:"issuedAt"`
}

// ProposalRequest asks the assistant to produce a concrete edit
// proposal. Shares the analyze body shape; the route differs.
type ProposalRequest = AnalyzeRequest

// CommandResponse is the common acknowledgement for analyze and
// proposal commands. StreamLocation is populated from the response
// header when the backend moved the event subscription endpoint.
type CommandResponse struct {
	SessionID      string `json:"sessionId"`
	Status         string `json:"status"`
	StreamLocation string `json:"-"`
}

// ApplyRequest approves a pending proposal and asks the backend to
// apply it to the draft. DiffHash must be the canonical hash.
type ApplyRequest struct {
	SessionID     string `json:"sessionId"     validate:"required"`
	ProposalID    string `json:"proposalId"    validate:"required"`
	DraftPatch    string `json:"draftPatch"    validate:"required"`
	DiffHash      string `json:"diffHash"      validate:"required"`
	ApprovalNotes string `json:"approvalNotes,omitempty"`
	IssuedAt      int64  `json:"issuedAt"`
}

// ApplyResponse acknowledges a queued approval with draft-version and
// diff-hash bookkeeping.
type ApplyResponse struct {
	Status       string `json:"status"`
	DraftVersion string `json:"draftVersion,omitempty"`
	DiffHash     string `json:"diffHash,omitempty"`
}

// RejectRequest discards a pending proposal. Best effort.
type RejectRequest struct {
	SessionID  string `json:"sessionId"  validate:"required"`
	ProposalID string `json:"proposalId" validate:"required"`
}

// TeardownRequest closes a session on the backend. Best effort.
type TeardownRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Reason    string `json:"reason,omitempty"`
}

// =============================================================================
// Document QA Commands
// =============================================================================

// ReviewRequest starts or queues a QA review for a section.
type ReviewRequest struct {
	SessionID  string `json:"sessionId"  validate:"required"`
	DocumentID string `json:"documentId" validate:"required"`
	SectionID  string `json:"sectionId"  validate:"required"`
	ReviewerID string `json:"reviewerId" validate:"required"`
	IssuedAt   int64  `json:"issuedAt"`
}

// Review admission statuses reported by the backend.
const (
	ReviewStarted = "started"
	ReviewPending = "pending"
)

// ReviewResponse reports queue disposition. ReplacedSessionID is
// non-empty when this request preempted an existing pending session.
type ReviewResponse struct {
	SessionID         string `json:"sessionId"`
	Status            string `json:"status"`
	ReplacedSessionID string `json:"replacedSessionId,omitempty"`
	StreamLocation    string `json:"-"`
}

// CancelRequest stops an in-flight review. Reason is constrained to
// the backend's cancel taxonomy.
type CancelRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Reason    string `json:"reason"    validate:"required,oneof=author_cancelled replaced_by_new_request transport_failure deferred"`
}

// RetryRequest re-queues a review using the previous session id as
// lineage.
type RetryRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}
