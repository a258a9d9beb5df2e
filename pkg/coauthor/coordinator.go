// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coauthor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianScribe/pkg/backend"
	"github.com/AleutianAI/AleutianScribe/pkg/stream"
	"github.com/AleutianAI/AleutianScribe/pkg/validation"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Commander is the outbound command surface toward the assistant
// backend. Implemented by *backend.Client; mocked in tests.
type Commander interface {
	Analyze(ctx context.Context, req backend.AnalyzeRequest) (backend.CommandResponse, error)
	Propose(ctx context.Context, req backend.ProposalRequest) (backend.CommandResponse, error)
	Apply(ctx context.Context, req backend.ApplyRequest) (backend.ApplyResponse, error)
	Reject(ctx context.Context, req backend.RejectRequest) error
	Teardown(ctx context.Context, req backend.TeardownRequest) error
	Review(ctx context.Context, req backend.ReviewRequest) (backend.ReviewResponse, error)
	Cancel(ctx context.Context, req backend.CancelRequest) error
	Retry(ctx context.Context, req backend.RetryRequest) (backend.ReviewResponse, error)
}

// Subscriber is the inbound event-feed surface. Implemented by
// *stream.Manager.
type Subscriber interface {
	Subscribe(sessionID, location string, callback stream.Callback) error
	Close()
	OpenCount() int
}

// =============================================================================
// CONFIGURATION STRUCTS
// =============================================================================

// Config configures a Coordinator.
type Config struct {
	// DocumentID scopes every session this coordinator creates.
	DocumentID string

	// ParticipantID identifies the author or reviewer on outbound
	// commands and conversation turns.
	ParticipantID string

	// Kind selects the co-author or the document QA review flow.
	Kind SessionKind

	// Backend issues outbound commands.
	Backend Commander

	// Subscriber owns the event subscription.
	Subscriber Subscriber

	// StreamBase is the default event subscription root. A session's
	// initial stream location is derived from it; command responses may
	// relocate the stream afterwards.
	StreamBase string

	// Metrics is optional; nil records nothing.
	Metrics *Metrics

	// Logger is optional; nil selects slog.Default().
	Logger *slog.Logger

	// OnProgress, when set, receives a copy of every published progress
	// snapshot.
	OnProgress func(ProgressState)

	// Announce, when set, receives at-most-once narration of notable
	// conditions.
	Announce func(Announcement)

	// TickInterval overrides the elapsed-time ticker period. Zero
	// selects one second.
	TickInterval time.Duration

	// Clock overrides the wall clock for tests. Nil selects time.Now.
	Clock func() time.Time
}

// =============================================================================
// IMPLEMENTATION STRUCTS
// =============================================================================

// Coordinator is the single authority over session identity, the event
// subscription, and the mapping from backend protocol events to
// progress, transcript, proposal, and replacement mutations.
//
// # Description
//
// The Coordinator owns one active session per (document, section)
// pair. Inbound events flow from the subscription into handleEvent,
// which updates exactly one concern per event. Outbound commands abort
// any prior in-flight request through a single shared cancellation,
// so at most one command is in flight at a time.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Observers are
// invoked without the internal lock held.
type Coordinator struct {
	mu sync.Mutex

	documentID    string
	participantID string
	kind          SessionKind
	backend       Commander
	subs          Subscriber
	streamBase    string
	metrics       *Metrics
	logger        *slog.Logger
	onProgress    func(ProgressState)
	announce      func(Announcement)
	tickInterval  time.Duration
	now           func() time.Time

	ensure singleflight.Group

	session     *Session
	progress    ProgressState
	fallback    FallbackState
	replacement *ReplacementNotice
	turns       []ConversationTurn
	transcript  strings.Builder
	pending     *PendingProposalSnapshot
	approved    []ApprovedProposalRecord
	reseq       *Resequencer
	announcer   *Announcer
	lastTurnID  string

	inflightCancel context.CancelFunc
	tickerCancel   context.CancelFunc
	streamStart    time.Time
}

// ErrNoActiveSession is returned by commands that require an ensured,
// non-terminated session.
var ErrNoActiveSession = errors.New("no active session")

// ErrNoPendingProposal is returned by approval and rejection when no
// proposal snapshot is pending.
var ErrNoPendingProposal = errors.New("no pending proposal")

// =============================================================================
// CONSTRUCTOR FUNCTIONS
// =============================================================================

// NewCoordinator creates a coordinator for one document.
func NewCoordinator(config Config) (*Coordinator, error) {
	if config.DocumentID == "" {
		return nil, fmt.Errorf("coordinator: document id is required")
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("coordinator: backend commander is required")
	}
	if config.Subscriber == nil {
		return nil, fmt.Errorf("coordinator: subscriber is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	kind := config.Kind
	if kind == "" {
		kind = KindCoAuthor
	}
	tick := config.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Coordinator{
		documentID:    config.DocumentID,
		participantID: config.ParticipantID,
		kind:          kind,
		backend:       config.Backend,
		subs:          config.Subscriber,
		streamBase:    strings.TrimRight(config.StreamBase, "/"),
		metrics:       config.Metrics,
		logger:        logger,
		onProgress:    config.OnProgress,
		announce:      config.Announce,
		tickInterval:  tick,
		now:           clock,
		progress:      ProgressState{Status: StatusIdle, Delivery: DeliveryStreaming},
		announcer:     NewAnnouncer(),
	}
	c.reseq = NewResequencer(c.appendToken)
	return c, nil
}

// =============================================================================
// METHODS — Session Lifecycle
// =============================================================================

// EnsureSession returns the live session for sectionID, creating one if
// necessary.
//
// # Description
//
// If a non-terminated session already exists for the same section it
// is returned idempotently and no new subscription is opened. Creating
// a session for a different section first notifies the backend that
// the old session was replaced (best effort), then resets transcript,
// resequencing, and replacement state, allocates a fresh session id,
// opens the event subscription, and sets progress to streaming with
// zero elapsed time. Two sessions never coexist for the same section.
//
// Concurrent callers for the same section coalesce onto a single
// creation.
func (c *Coordinator) EnsureSession(ctx context.Context, sectionID, intent string) (Session, error) {
	if err := validation.ValidateIdentifier("section id", sectionID); err != nil {
		return Session{}, fmt.Errorf("ensure session: %w", err)
	}

	result, err, _ := c.ensure.Do(sectionID, func() (any, error) {
		return c.ensureSection(ctx, sectionID, intent)
	})
	if err != nil {
		return Session{}, err
	}
	return result.(Session), nil
}

func (c *Coordinator) ensureSection(ctx context.Context, sectionID, intent string) (Session, error) {
	c.mu.Lock()

	if c.session != nil && !c.session.Terminated &&
		c.session.SectionID == sectionID && !c.progress.Status.IsTerminal() {
		existing := *c.session
		c.mu.Unlock()
		c.logger.Debug("session reused",
			"session_id", existing.SessionID,
			"section_id", sectionID,
		)
		return existing, nil
	}

	// A different section's session vacates first.
	if old := c.session; old != nil && !old.Terminated && old.SectionID != sectionID {
		go c.notifyCancel(old.SessionID, CancelReasonReplaced)
	}

	c.abortInflightLocked()
	c.resetStreamStateLocked()
	c.turns = nil
	c.pending = nil
	c.replacement = nil

	session := &Session{
		SessionID:     uuid.NewString(),
		DocumentID:    c.documentID,
		SectionID:     sectionID,
		ParticipantID: c.participantID,
		Kind:          c.kind,
		StartedAt:     c.now(),
		StreamState:   StatusStreaming,
	}
	session.StreamLocation = fmt.Sprintf("%s/v1/sessions/%s/events", c.streamBase, session.SessionID)
	c.session = session
	c.progress = freshProgress(0)
	c.streamStart = c.now()
	snapshot := *session
	c.mu.Unlock()

	c.subs.Close()
	if err := c.subs.Subscribe(snapshot.SessionID, snapshot.StreamLocation, c.handleEvent); err != nil {
		// Without a feed the session is stillborn. Roll it back so the
		// next EnsureSession takes the creation path instead of the
		// idempotent one.
		c.mu.Lock()
		if c.session == session {
			c.session = nil
			c.progress = ProgressState{Status: StatusIdle, Delivery: DeliveryStreaming}
		}
		c.mu.Unlock()
		return Session{}, fmt.Errorf("open event subscription: %w", err)
	}

	c.metrics.sessionStarted()
	c.publish()
	c.logger.Info("session ensured",
		"session_id", snapshot.SessionID,
		"section_id", sectionID,
		"intent", intent,
		"kind", string(c.kind),
	)
	return snapshot, nil
}

// Teardown closes the subscription and any pending request.
//
// For reason "manual" the entire session, transcript, proposal, and
// approval history is cleared. Any other reason (navigation, shutdown)
// marks the session terminated but preserves the approved-edit audit
// trail.
func (c *Coordinator) Teardown(ctx context.Context, reason string) {
	c.mu.Lock()
	session := c.session
	wasStreaming := c.progress.Status == StatusStreaming
	streamStart := c.streamStart
	c.abortInflightLocked()
	c.stopTickerLocked()

	if session != nil {
		go c.notifyTeardown(session.SessionID, reason)
	}

	if reason == "manual" {
		c.session = nil
		c.turns = nil
		c.pending = nil
		c.approved = nil
		c.replacement = nil
		c.resetStreamStateLocked()
	} else if session != nil {
		session.Terminated = true
	}
	c.progress.Status = StatusIdle
	c.mu.Unlock()

	if wasStreaming && !streamStart.IsZero() {
		c.metrics.streamDuration(c.now().Sub(streamStart).Seconds())
	}
	c.subs.Close()
	c.logger.Info("session torn down", "reason", reason)
}

// =============================================================================
// METHODS — Commands
// =============================================================================

// Analyze asks the assistant to analyze the current draft.
//
// A new turn id is allocated and the author turn is recorded before
// the request leaves. Starting the request aborts any prior in-flight
// command. On success the coordinator re-subscribes to the stream
// location returned by the backend, if any. A superseded or cancelled
// request is not an error; any other failure terminates the attempt
// with a retryable error state.
func (c *Coordinator) Analyze(ctx context.Context, intent, prompt string, contextRefs []string, currentDraft string) error {
	return c.command(ctx, intent, prompt, func(reqCtx context.Context, turnID, sessionID string) (backend.CommandResponse, error) {
		return c.backend.Analyze(reqCtx, backend.AnalyzeRequest{
			SessionID:    sessionID,
			TurnID:       turnID,
			Intent:       intent,
			Prompt:       prompt,
			ContextRefs:  contextRefs,
			CurrentDraft: currentDraft,
		})
	})
}

// RequestProposal asks the assistant for a concrete edit proposal.
// Identical command discipline to Analyze; the resulting turn id
// becomes the origin turn of the next proposal snapshot.
func (c *Coordinator) RequestProposal(ctx context.Context, intent, prompt string, contextRefs []string, currentDraft string) error {
	return c.command(ctx, intent, prompt, func(reqCtx context.Context, turnID, sessionID string) (backend.CommandResponse, error) {
		return c.backend.Propose(reqCtx, backend.ProposalRequest{
			SessionID:    sessionID,
			TurnID:       turnID,
			Intent:       intent,
			Prompt:       prompt,
			ContextRefs:  contextRefs,
			CurrentDraft: currentDraft,
		})
	})
}

func (c *Coordinator) command(ctx context.Context, intent, prompt string, send func(ctx context.Context, turnID, sessionID string) (backend.CommandResponse, error)) error {
	c.mu.Lock()
	if c.session == nil || c.session.Terminated {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	sessionID := c.session.SessionID

	turnID := uuid.NewString()
	c.turns = append(c.turns, ConversationTurn{
		TurnID:    turnID,
		SessionID: sessionID,
		Speaker:   SpeakerAuthor,
		Intent:    intent,
		Prompt:    prompt,
		CreatedAt: c.now(),
	})
	c.lastTurnID = turnID

	c.abortInflightLocked()
	reqCtx, cancel := context.WithCancel(ctx)
	c.inflightCancel = cancel
	c.mu.Unlock()

	resp, err := send(reqCtx, turnID, sessionID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Superseded or cancelled; never surfaced as an error.
			return nil
		}
		c.mu.Lock()
		c.progress = applyRequestFailure(c.progress, FallbackReasonRequestFailed)
		c.fallback.Retryable = true
		c.mu.Unlock()
		c.publish()
		return fmt.Errorf("assistant command failed: %w", err)
	}

	if resp.StreamLocation != "" {
		c.mu.Lock()
		if c.session != nil {
			c.session.StreamLocation = resp.StreamLocation
		}
		c.mu.Unlock()
		if err := c.subs.Subscribe(sessionID, resp.StreamLocation, c.handleEvent); err != nil {
			return fmt.Errorf("re-subscribe after command: %w", err)
		}
	}

	c.mu.Lock()
	// A proposal or terminal event may have raced in between the
	// response and this merge; its status wins over the default.
	if c.progress.Status != StatusAwaitingApproval && !c.progress.Status.IsTerminal() {
		c.progress.Status = StatusStreaming
		c.streamStart = c.now()
	}
	c.mu.Unlock()
	c.publish()
	return nil
}

// ApproveProposal sends the pending proposal's approval with its
// canonical diff hash, never a caller-supplied raw hash. On success it
// appends an approval record, clears the pending proposal, and resets
// progress to idle.
func (c *Coordinator) ApproveProposal(ctx context.Context, proposalID, notes string) error {
	c.mu.Lock()
	if c.session == nil || c.session.Terminated {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if c.pending == nil || c.pending.ProposalID != proposalID {
		c.mu.Unlock()
		return ErrNoPendingProposal
	}
	sessionID := c.session.SessionID
	pending := *c.pending
	c.mu.Unlock()

	resp, err := c.backend.Apply(ctx, backend.ApplyRequest{
		SessionID:     sessionID,
		ProposalID:    pending.ProposalID,
		DraftPatch:    pending.DraftPatch,
		DiffHash:      pending.DiffHash,
		ApprovalNotes: notes,
	})
	if err != nil {
		c.metrics.proposal("approve_failed")
		return fmt.Errorf("apply proposal: %w", err)
	}

	c.mu.Lock()
	c.approved = append(c.approved, ApprovedProposalRecord{
		ProposalID:    pending.ProposalID,
		DiffHash:      pending.DiffHash,
		DraftVersion:  resp.DraftVersion,
		ApprovalNotes: notes,
		ApprovedAt:    c.now(),
	})
	c.pending = nil
	c.progress.Status = StatusIdle
	c.mu.Unlock()

	c.metrics.proposal("approved")
	c.publish()
	c.logger.Info("proposal approved",
		"proposal_id", pending.ProposalID,
		"diff_hash", pending.DiffHash,
	)
	return nil
}

// RejectProposal discards the pending proposal. The backend
// notification is best effort; the local rejection applies regardless.
func (c *Coordinator) RejectProposal(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if c.pending == nil {
		c.mu.Unlock()
		return ErrNoPendingProposal
	}
	sessionID := c.session.SessionID
	proposalID := c.pending.ProposalID
	c.pending = nil
	c.progress.Status = StatusIdle
	c.mu.Unlock()

	go func() {
		err := c.backend.Reject(context.Background(), backend.RejectRequest{
			SessionID:  sessionID,
			ProposalID: proposalID,
		})
		if err != nil {
			c.logger.Warn("proposal reject notify failed", "error", err)
		}
	}()

	c.metrics.proposal("rejected")
	c.publish()
	return nil
}

// CancelStreaming cancels the in-flight request and marks the attempt
// canceled.
//
// Synchronous and idempotent: the local transition applies immediately
// and a second call is a no-op. The backend is notified best effort;
// its failure never blocks the transition, because cancellation is a
// client-observed fact regardless of backend acknowledgement.
func (c *Coordinator) CancelStreaming(ctx context.Context) {
	c.mu.Lock()
	if c.progress.Status == StatusCanceled {
		c.mu.Unlock()
		return
	}
	wasStreaming := c.progress.Status == StatusStreaming
	streamStart := c.streamStart
	c.abortInflightLocked()
	c.reseq.Reset()
	c.progress = applyCancel(c.progress, CancelReasonAuthor)
	var sessionID string
	if c.session != nil {
		sessionID = c.session.SessionID
	}
	c.mu.Unlock()

	if sessionID != "" {
		go c.notifyCancel(sessionID, CancelReasonAuthor)
	}
	if wasStreaming && !streamStart.IsZero() {
		c.metrics.streamDuration(c.now().Sub(streamStart).Seconds())
	}
	c.metrics.cancel(CancelReasonAuthor)
	c.publish()
}

// =============================================================================
// METHODS — Document QA Review
// =============================================================================

// Review starts or queues a QA review on the current session.
//
// The backend's queue disposition maps onto progress: "started" means
// streaming, "pending" means queued. When the backend reports that it
// replaced an existing pending session, a ReplacementNotice is set; it
// clears once streaming genuinely begins.
func (c *Coordinator) Review(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil || c.session.Terminated {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	req := backend.ReviewRequest{
		SessionID:  c.session.SessionID,
		DocumentID: c.session.DocumentID,
		SectionID:  c.session.SectionID,
		ReviewerID: c.participantID,
	}
	c.mu.Unlock()

	resp, err := c.backend.Review(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.progress = applyRequestFailure(c.progress, FallbackReasonRequestFailed)
		c.fallback.Retryable = true
		c.mu.Unlock()
		c.publish()
		return fmt.Errorf("start review: %w", err)
	}

	c.mu.Lock()
	if resp.ReplacedSessionID != "" {
		c.replacement = &ReplacementNotice{
			PreviousSessionID: resp.ReplacedSessionID,
			ReplacedAt:        c.now(),
			PromotedSessionID: resp.SessionID,
		}
	}
	switch resp.Status {
	case backend.ReviewStarted:
		c.progress.Status = StatusStreaming
		c.streamStart = c.now()
	case backend.ReviewPending:
		c.progress.Status = StatusQueued
	}
	sessionID := req.SessionID
	location := resp.StreamLocation
	if location != "" && c.session != nil {
		c.session.StreamLocation = location
	}
	c.mu.Unlock()

	if location != "" {
		if err := c.subs.Subscribe(sessionID, location, c.handleEvent); err != nil {
			return fmt.Errorf("subscribe review stream: %w", err)
		}
	}
	c.publish()
	return nil
}

// Retry re-queues a review on the same session lineage. The session id
// is reused on the backend call; locally this is an attempt increment,
// not a new identity.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil || c.session.Terminated {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	sessionID := c.session.SessionID
	c.reseq.Reset()
	c.progress = applyRetry(c.progress)
	c.mu.Unlock()

	c.metrics.retry()
	c.publish()

	resp, err := c.backend.Retry(ctx, backend.RetryRequest{SessionID: sessionID})
	if err != nil {
		c.mu.Lock()
		c.progress = applyRequestFailure(c.progress, FallbackReasonRequestFailed)
		c.fallback.Retryable = true
		c.mu.Unlock()
		c.publish()
		return fmt.Errorf("retry review: %w", err)
	}

	if resp.StreamLocation != "" {
		c.mu.Lock()
		if c.session != nil {
			c.session.StreamLocation = resp.StreamLocation
		}
		c.mu.Unlock()
		if err := c.subs.Subscribe(sessionID, resp.StreamLocation, c.handleEvent); err != nil {
			return fmt.Errorf("re-subscribe after retry: %w", err)
		}
	}
	return nil
}

// =============================================================================
// METHODS — Event Dispatch
// =============================================================================

// handleEvent routes one inbound stream event to exactly one concern:
// progress, transcript, proposal, or replacement.
func (c *Coordinator) handleEvent(event stream.Event) error {
	c.metrics.eventDispatched(string(event.Type))

	switch event.Type {
	case stream.EventToken:
		c.handleToken(event.Token)
	case stream.EventProgress:
		c.handleProgress(event.Progress)
	case stream.EventProposalReady:
		c.handleProposal(event.Proposal)
	case stream.EventAnalysisCompleted:
		c.handleAnalysisCompleted(event.Analysis)
	case stream.EventState:
		c.handleState(event.State)
	case stream.EventError:
		c.handleError(event.Error)
	}
	return nil
}

func (c *Coordinator) handleToken(p *stream.TokenPayload) {
	c.reseq.Push(p.Value, p.Sequence)
}

// appendToken receives ordered tokens from the resequencer.
func (c *Coordinator) appendToken(value string) {
	c.mu.Lock()
	c.transcript.WriteString(value)
	c.mu.Unlock()
}

func (c *Coordinator) handleProgress(p *stream.ProgressPayload) {
	c.mu.Lock()

	// A replacement-bearing progress event is a replacement concern,
	// nothing else.
	if p.Replacement != nil {
		c.replacement = &ReplacementNotice{
			PreviousSessionID: p.Replacement.PreviousSessionID,
			ReplacedAt:        c.now(),
			PromotedSessionID: p.Replacement.PromotedSessionID,
		}
		c.mu.Unlock()
		return
	}

	c.progress = applyProgress(c.progress, *p)

	// Streaming genuinely underway (or the attempt settled) means any
	// earlier replacement notice has served its purpose.
	if c.progress.Status == StatusStreaming || c.progress.Status == StatusIdle {
		c.replacement = nil
	}
	if c.session != nil {
		switch c.progress.Status {
		case StatusIdle, StatusQueued, StatusStreaming, StatusAwaitingApproval:
			c.session.StreamState = c.progress.Status
		}
	}

	stats := c.reseq.Flush()
	c.mu.Unlock()

	c.metrics.outOfOrder(stats.OutOfOrder)
	if stats.OutOfOrder > 0 {
		c.logger.Debug("tokens arrived out of order",
			"count", stats.OutOfOrder,
			"highest_sequence", stats.HighestSequence,
		)
	}
	c.publish()
}

func (c *Coordinator) handleProposal(p *stream.ProposalPayload) {
	canonical := Canonicalize(p.Diff)
	hash, err := HashDiff(p.DiffHash, canonical)
	if err != nil {
		// An unhashed proposal can never be safely approved; route to
		// the error branch and never set a snapshot.
		c.mu.Lock()
		c.progress = applyRequestFailure(c.progress, ReasonApprovalFailed)
		c.mu.Unlock()
		c.metrics.proposal("unhashable")
		c.publish()
		c.logger.Error("proposal diff is unhashable",
			"proposal_id", p.ProposalID,
			"error", err,
		)
		return
	}

	c.mu.Lock()
	c.pending = &PendingProposalSnapshot{
		ProposalID:   p.ProposalID,
		OriginTurnID: c.lastTurnID,
		Diff:         canonical,
		DraftPatch:   DraftPatch(canonical),
		DiffHash:     hash,
		Confidence:   p.Confidence,
		Annotations:  p.Annotations,
		Citations:    citationsFromWire(p.Citations),
		ExpiresAt:    p.ExpiresAt,
	}
	c.progress.Status = StatusAwaitingApproval
	if c.session != nil {
		c.session.StreamState = StatusAwaitingApproval
	}
	c.mu.Unlock()

	c.metrics.proposal("ready")
	c.publish()
}

func (c *Coordinator) handleAnalysisCompleted(p *stream.AnalysisPayload) {
	c.mu.Lock()
	response := c.transcript.String()
	c.transcript.Reset()
	if response != "" && c.session != nil {
		c.turns = append(c.turns, ConversationTurn{
			TurnID:    uuid.NewString(),
			SessionID: c.session.SessionID,
			Speaker:   SpeakerAssistant,
			Response:  response,
			CreatedAt: c.now(),
		})
	}
	c.mu.Unlock()
}

func (c *Coordinator) handleState(p *stream.StatePayload) {
	c.mu.Lock()
	wasFallback := c.progress.Status == StatusFallback
	c.progress, c.fallback = applyStateEvent(c.progress, c.fallback, *p)
	nowFallback := c.progress.Status == StatusFallback
	c.mu.Unlock()

	if nowFallback && !wasFallback {
		c.metrics.fallback()
	}
	c.publish()
}

func (c *Coordinator) handleError(p *stream.ErrorPayload) {
	reason := FallbackReasonRequestFailed
	if p.Message == stream.DisconnectReason {
		reason = FallbackReasonTransportBlocked
	}
	c.mu.Lock()
	c.progress = applyRequestFailure(c.progress, reason)
	c.fallback.Retryable = true
	c.mu.Unlock()
	c.publish()
	c.logger.Warn("stream reported error", "message", p.Message)
}

// =============================================================================
// METHODS — Snapshots
// =============================================================================

// Progress returns a copy of the current progress state.
func (c *Coordinator) Progress() ProgressState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Fallback returns a copy of the fallback tracker state.
func (c *Coordinator) Fallback() FallbackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

// Replacement returns the current replacement notice, or nil.
func (c *Coordinator) Replacement() *ReplacementNotice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replacement == nil {
		return nil
	}
	copied := *c.replacement
	return &copied
}

// PendingProposal returns the pending proposal snapshot, or nil.
func (c *Coordinator) PendingProposal() *PendingProposalSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	copied := *c.pending
	return &copied
}

// Turns returns a copy of the conversation transcript entries.
func (c *Coordinator) Turns() []ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConversationTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Transcript returns the assistant text accumulated since the last
// completed analysis.
func (c *Coordinator) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.String()
}

// ApprovedHistory returns a copy of the approval audit trail.
func (c *Coordinator) ApprovedHistory() []ApprovedProposalRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ApprovedProposalRecord, len(c.approved))
	copy(out, c.approved)
	return out
}

// ActiveSession returns a copy of the current session, or false when
// none exists.
func (c *Coordinator) ActiveSession() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// =============================================================================
// METHODS — Internal
// =============================================================================

// publish pushes the current snapshot to observers and keeps the
// elapsed ticker aligned with the status.
func (c *Coordinator) publish() {
	c.mu.Lock()
	snapshot := c.progress
	if snapshot.Status.timed() {
		c.startTickerLocked()
	} else {
		c.stopTickerLocked()
	}
	c.mu.Unlock()

	if c.onProgress != nil {
		c.onProgress(snapshot)
	}
	if c.announce != nil {
		for _, a := range c.announcer.Observe(snapshot) {
			c.announce(a)
		}
	}
}

// startTickerLocked launches the elapsed ticker if it is not running.
// Caller holds c.mu.
func (c *Coordinator) startTickerLocked() {
	if c.tickerCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.tickerCancel = cancel

	go func() {
		ticker := time.NewTicker(c.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			c.mu.Lock()
			if !c.progress.Status.timed() {
				// Self-cancel the moment status leaves the timed set.
				if c.tickerCancel != nil {
					c.tickerCancel()
					c.tickerCancel = nil
				}
				c.mu.Unlock()
				return
			}
			c.progress.ElapsedMs = c.now().Sub(c.streamStart).Milliseconds()
			snapshot := c.progress
			c.mu.Unlock()

			if c.onProgress != nil {
				c.onProgress(snapshot)
			}
			if c.announce != nil {
				for _, a := range c.announcer.Observe(snapshot) {
					c.announce(a)
				}
			}
		}
	}()
}

// stopTickerLocked cancels the elapsed ticker. Caller holds c.mu.
func (c *Coordinator) stopTickerLocked() {
	if c.tickerCancel == nil {
		return
	}
	c.tickerCancel()
	c.tickerCancel = nil
}

// abortInflightLocked aborts the in-flight request. Idempotent; caller
// holds c.mu.
func (c *Coordinator) abortInflightLocked() {
	if c.inflightCancel == nil {
		return
	}
	c.inflightCancel()
	c.inflightCancel = nil
}

// resetStreamStateLocked clears transcript accumulation, resequencing,
// and announcement arming. Caller holds c.mu.
func (c *Coordinator) resetStreamStateLocked() {
	c.reseq.Reset()
	c.announcer.Reset()
	c.transcript.Reset()
	c.lastTurnID = ""
	c.fallback = FallbackState{}
}

// notifyCancel tells the backend a session stopped. Best effort.
func (c *Coordinator) notifyCancel(sessionID, reason string) {
	err := c.backend.Cancel(context.Background(), backend.CancelRequest{
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		c.logger.Warn("cancel notify failed",
			"session_id", sessionID,
			"reason", reason,
			"error", err,
		)
	}
}

// notifyTeardown tells the backend a session is closed. Best effort.
func (c *Coordinator) notifyTeardown(sessionID, reason string) {
	err := c.backend.Teardown(context.Background(), backend.TeardownRequest{
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		c.logger.Warn("teardown notify failed",
			"session_id", sessionID,
			"error", err,
		)
	}
}

func citationsFromWire(in []stream.Citation) []CitationRef {
	if len(in) == 0 {
		return nil
	}
	out := make([]CitationRef, 0, len(in))
	for _, cit := range in {
		out = append(out, CitationRef{
			SourceID: cit.SourceID,
			Label:    cit.Label,
			Location: cit.Location,
		})
	}
	return out
}

// =============================================================================
// COMPILE-TIME INTERFACE CHECKS
// =============================================================================

var (
	_ Commander  = (*backend.Client)(nil)
	_ Subscriber = (*stream.Manager)(nil)
)
