// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coauthor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScribe/pkg/backend"
	"github.com/AleutianAI/AleutianScribe/pkg/stream"
)

// =============================================================================
// Test Fixtures
// =============================================================================

type mockBackend struct {
	mu sync.Mutex

	analyzeErr     error
	streamLocation string
	applyResp      backend.ApplyResponse
	applyErr       error
	reviewResp     backend.ReviewResponse
	reviewErr      error
	retryResp      backend.ReviewResponse

	analyzeCalls int
	applyReqs    []backend.ApplyRequest
	cancels      []backend.CancelRequest
	teardowns    []backend.TeardownRequest
	rejects      []backend.RejectRequest
}

func (m *mockBackend) Analyze(ctx context.Context, req backend.AnalyzeRequest) (backend.CommandResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyzeCalls++
	if m.analyzeErr != nil {
		return backend.CommandResponse{}, m.analyzeErr
	}
	return backend.CommandResponse{SessionID: req.SessionID, Status: "accepted", StreamLocation: m.streamLocation}, nil
}

func (m *mockBackend) Propose(ctx context.Context, req backend.ProposalRequest) (backend.CommandResponse, error) {
	return m.Analyze(ctx, req)
}

func (m *mockBackend) Apply(ctx context.Context, req backend.ApplyRequest) (backend.ApplyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyReqs = append(m.applyReqs, req)
	if m.applyErr != nil {
		return backend.ApplyResponse{}, m.applyErr
	}
	return m.applyResp, nil
}

func (m *mockBackend) Reject(ctx context.Context, req backend.RejectRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects = append(m.rejects, req)
	return nil
}

func (m *mockBackend) Teardown(ctx context.Context, req backend.TeardownRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns = append(m.teardowns, req)
	return nil
}

func (m *mockBackend) Review(ctx context.Context, req backend.ReviewRequest) (backend.ReviewResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reviewErr != nil {
		return backend.ReviewResponse{}, m.reviewErr
	}
	return m.reviewResp, nil
}

func (m *mockBackend) Cancel(ctx context.Context, req backend.CancelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, req)
	return nil
}

func (m *mockBackend) Retry(ctx context.Context, req backend.RetryRequest) (backend.ReviewResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryResp, nil
}

func (m *mockBackend) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// fakeSubscriber mimics the manager's one-subscription-per-session
// semantics without opening anything.
type fakeSubscriber struct {
	mu       sync.Mutex
	opens    int
	active   string
	callback stream.Callback
}

func (f *fakeSubscriber) Subscribe(sessionID, location string, callback stream.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == sessionID {
		return nil
	}
	f.active = sessionID
	f.callback = callback
	f.opens++
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = ""
}

func (f *fakeSubscriber) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeSubscriber) emit(t *testing.T, event stream.Event) {
	t.Helper()
	f.mu.Lock()
	callback := f.callback
	f.mu.Unlock()
	require.NotNil(t, callback, "no subscription open")
	require.NoError(t, callback(event))
}

func newTestCoordinator(t *testing.T, mock Commander, subs *fakeSubscriber) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Config{
		DocumentID:    "doc-1",
		ParticipantID: "author-1",
		Backend:       mock,
		Subscriber:    subs,
		StreamBase:    "http://backend",
		TickInterval:  time.Hour,
	})
	require.NoError(t, err)
	return c
}

func progressEvent(p stream.ProgressPayload) stream.Event {
	return stream.Event{Type: stream.EventProgress, Progress: &p}
}

// =============================================================================
// Session Lifecycle
// =============================================================================

func TestEnsureSession_Idempotent(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)

	first, err := c.EnsureSession(context.Background(), "sec-1", "draft")
	require.NoError(t, err)
	second, err := c.EnsureSession(context.Background(), "sec-1", "draft")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID, "same section reuses the session")
	assert.Equal(t, 1, subs.OpenCount(), "no duplicate subscription opened")

	progress := c.Progress()
	assert.Equal(t, StatusStreaming, progress.Status)
	assert.Zero(t, progress.ElapsedMs)
}

func TestEnsureSession_DifferentSectionReplaces(t *testing.T) {
	mock := &mockBackend{}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)

	old, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)
	fresh, err := c.EnsureSession(context.Background(), "sec-2", "")
	require.NoError(t, err)

	assert.NotEqual(t, old.SessionID, fresh.SessionID)
	assert.Equal(t, 2, subs.OpenCount())

	require.Eventually(t, func() bool { return mock.cancelCount() == 1 },
		time.Second, 5*time.Millisecond)
	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, old.SessionID, mock.cancels[0].SessionID)
	assert.Equal(t, CancelReasonReplaced, mock.cancels[0].Reason)
}

// flakySubscriber refuses a scripted number of opens before behaving.
type flakySubscriber struct {
	fakeSubscriber
	failures int
}

func (f *flakySubscriber) Subscribe(sessionID, location string, callback stream.Callback) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("subscribe refused")
	}
	f.mu.Unlock()
	return f.fakeSubscriber.Subscribe(sessionID, location, callback)
}

func TestEnsureSession_SubscribeFailureRollsBack(t *testing.T) {
	mock := &mockBackend{}
	subs := &flakySubscriber{failures: 1}
	c, err := NewCoordinator(Config{
		DocumentID:    "doc-1",
		ParticipantID: "author-1",
		Backend:       mock,
		Subscriber:    subs,
		StreamBase:    "http://backend",
		TickInterval:  time.Hour,
	})
	require.NoError(t, err)

	_, err = c.EnsureSession(context.Background(), "sec-1", "")
	require.Error(t, err)
	_, live := c.ActiveSession()
	assert.False(t, live, "a session without a feed must not survive")

	// The retry must take the creation path and open a real feed.
	session, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, 1, subs.OpenCount())
	assert.Equal(t, StatusStreaming, c.Progress().Status)
}

func TestTeardown_ManualClearsEverything(t *testing.T) {
	mock := &mockBackend{}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)

	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)
	subs.emit(t, stream.Event{Type: stream.EventProposalReady, Proposal: &stream.ProposalPayload{
		ProposalID: "prop-1",
		Diff: stream.DiffPayload{Segments: []stream.DiffSegment{
			{SegmentID: "s1", Type: "added", Content: "x"},
		}},
		Confidence: 0.9,
	}})
	require.NoError(t, c.ApproveProposal(context.Background(), "prop-1", ""))

	c.Teardown(context.Background(), "manual")

	_, live := c.ActiveSession()
	assert.False(t, live)
	assert.Empty(t, c.ApprovedHistory(), "manual teardown clears the audit trail")
	assert.Empty(t, c.Turns())
}

func TestTeardown_NavigationPreservesHistory(t *testing.T) {
	mock := &mockBackend{}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)

	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)
	subs.emit(t, stream.Event{Type: stream.EventProposalReady, Proposal: &stream.ProposalPayload{
		ProposalID: "prop-1",
		Diff: stream.DiffPayload{Segments: []stream.DiffSegment{
			{SegmentID: "s1", Type: "added", Content: "x"},
		}},
	}})
	require.NoError(t, c.ApproveProposal(context.Background(), "prop-1", ""))

	c.Teardown(context.Background(), "navigation")

	session, live := c.ActiveSession()
	require.True(t, live)
	assert.True(t, session.Terminated)
	assert.Len(t, c.ApprovedHistory(), 1, "navigation must not discard approvals")
}

// =============================================================================
// Token & Transcript
// =============================================================================

func TestTokens_ResequencedIntoTranscript(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	subs.emit(t, stream.NewTokenEvent("b", seq(2)))
	subs.emit(t, stream.NewTokenEvent("c", seq(3)))
	subs.emit(t, stream.NewTokenEvent("a", seq(1)))

	assert.Equal(t, "abc", c.Transcript())
}

func TestAnalysisCompleted_AppendsAssistantTurn(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	session, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	subs.emit(t, stream.NewTokenEvent("hello ", seq(1)))
	subs.emit(t, stream.NewTokenEvent("world", seq(2)))
	subs.emit(t, stream.Event{Type: stream.EventAnalysisCompleted, Analysis: &stream.AnalysisPayload{
		SessionID: session.SessionID,
		Timestamp: time.Now().UnixMilli(),
	}})

	turns := c.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, SpeakerAssistant, turns[0].Speaker)
	assert.Equal(t, "hello world", turns[0].Response)
	assert.Empty(t, c.Transcript(), "transcript resets after the turn is recorded")
}

// =============================================================================
// Replacement Notice
// =============================================================================

func TestReplacementNotice_Lifecycle(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	subs.emit(t, progressEvent(stream.ProgressPayload{
		Status:      "queued",
		Replacement: &stream.ReplacementInfo{PreviousSessionID: "X"},
	}))

	notice := c.Replacement()
	require.NotNil(t, notice)
	assert.Equal(t, "X", notice.PreviousSessionID)

	subs.emit(t, progressEvent(stream.ProgressPayload{Status: "streaming"}))
	assert.Nil(t, c.Replacement(), "streaming transition clears the notice")
}

// =============================================================================
// Proposals
// =============================================================================

func TestProposalReady_ComputesCanonicalHash(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	subs.emit(t, stream.Event{Type: stream.EventProposalReady, Proposal: &stream.ProposalPayload{
		ProposalID: "prop-1",
		Diff: stream.DiffPayload{Mode: "replace", Segments: []stream.DiffSegment{
			{SegmentID: "s1", Type: "added", Value: "new text"},
		}},
		Confidence: 0.7,
	}})

	pending := c.PendingProposal()
	require.NotNil(t, pending)
	assert.True(t, strings.HasPrefix(pending.DiffHash, "sha256:"))
	assert.Equal(t, "+new text", pending.DraftPatch)
	assert.Equal(t, StatusAwaitingApproval, c.Progress().Status)
}

func TestProposalReady_UnhashableRoutesToError(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	subs.emit(t, stream.Event{Type: stream.EventProposalReady, Proposal: &stream.ProposalPayload{
		ProposalID: "prop-bad",
		Diff:       stream.DiffPayload{},
	}})

	assert.Nil(t, c.PendingProposal(), "unhashed proposal never becomes observable")
	progress := c.Progress()
	assert.Equal(t, StatusError, progress.Status)
	assert.Equal(t, ReasonApprovalFailed, progress.FallbackReason)
}

func TestApproveProposal_SendsCanonicalHash(t *testing.T) {
	mock := &mockBackend{applyResp: backend.ApplyResponse{Status: "queued", DraftVersion: "v2"}}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	subs.emit(t, stream.Event{Type: stream.EventProposalReady, Proposal: &stream.ProposalPayload{
		ProposalID: "prop-1",
		Diff: stream.DiffPayload{Segments: []stream.DiffSegment{
			{SegmentID: "s1", Type: "added", Content: "x"},
		}},
	}})
	pending := c.PendingProposal()
	require.NotNil(t, pending)

	require.NoError(t, c.ApproveProposal(context.Background(), "prop-1", "looks good"))

	mock.mu.Lock()
	require.Len(t, mock.applyReqs, 1)
	sent := mock.applyReqs[0]
	mock.mu.Unlock()
	assert.Equal(t, pending.DiffHash, sent.DiffHash, "approval carries the canonical hash")

	history := c.ApprovedHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "v2", history[0].DraftVersion)
	assert.Nil(t, c.PendingProposal())
	assert.Equal(t, StatusIdle, c.Progress().Status)
}

func TestApproveProposal_UnknownProposal(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	err = c.ApproveProposal(context.Background(), "prop-ghost", "")
	assert.ErrorIs(t, err, ErrNoPendingProposal)
}

// =============================================================================
// Cancel & Commands
// =============================================================================

func TestCancelStreaming_Idempotent(t *testing.T) {
	mock := &mockBackend{}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	c.CancelStreaming(context.Background())
	c.CancelStreaming(context.Background())

	progress := c.Progress()
	assert.Equal(t, StatusCanceled, progress.Status)
	assert.Equal(t, CancelReasonAuthor, progress.CancelReason)
	assert.Equal(t, 1, progress.RetryCount, "second cancel is a no-op")

	require.Eventually(t, func() bool { return mock.cancelCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestAnalyze_RecordsAuthorTurn(t *testing.T) {
	mock := &mockBackend{}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	require.NoError(t, c.Analyze(context.Background(), "clarity", "tighten this paragraph", nil, "draft text"))

	turns := c.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, SpeakerAuthor, turns[0].Speaker)
	assert.Equal(t, "tighten this paragraph", turns[0].Prompt)
	assert.Equal(t, StatusStreaming, c.Progress().Status)
}

// proposalDuringSend delivers a proposal event before its own response
// returns, modeling a fast backend whose stream outruns the REST reply.
type proposalDuringSend struct {
	mockBackend
	t    *testing.T
	subs *fakeSubscriber
}

func (b *proposalDuringSend) Propose(ctx context.Context, req backend.ProposalRequest) (backend.CommandResponse, error) {
	b.subs.emit(b.t, stream.Event{Type: stream.EventProposalReady, Proposal: &stream.ProposalPayload{
		ProposalID: "prop-fast",
		Diff: stream.DiffPayload{Segments: []stream.DiffSegment{
			{SegmentID: "s1", Type: "added", Content: "x"},
		}},
	}})
	return backend.CommandResponse{SessionID: req.SessionID, Status: "accepted"}, nil
}

func TestRequestProposal_RacingProposalKeepsApprovalState(t *testing.T) {
	subs := &fakeSubscriber{}
	mock := &proposalDuringSend{t: t, subs: subs}
	c := newTestCoordinator(t, mock, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	require.NoError(t, c.RequestProposal(context.Background(), "improve", "prompt", nil, ""))

	assert.Equal(t, StatusAwaitingApproval, c.Progress().Status,
		"response merge must not knock an arrived proposal back to streaming")
	require.NotNil(t, c.PendingProposal())
}

func TestAnalyze_FailureIsRetryableError(t *testing.T) {
	mock := &mockBackend{analyzeErr: errors.New("backend down")}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	err = c.Analyze(context.Background(), "", "prompt", nil, "")
	require.Error(t, err)

	progress := c.Progress()
	assert.Equal(t, StatusError, progress.Status)
	assert.Equal(t, FallbackReasonRequestFailed, progress.FallbackReason)
	assert.True(t, c.Fallback().Retryable)
}

func TestAnalyze_AbortedRequestIsSilent(t *testing.T) {
	mock := &mockBackend{analyzeErr: context.Canceled}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	assert.NoError(t, c.Analyze(context.Background(), "", "prompt", nil, ""),
		"a superseded request is never surfaced as an error")
	assert.NotEqual(t, StatusError, c.Progress().Status)
}

func TestAnalyze_WithoutSession(t *testing.T) {
	c := newTestCoordinator(t, &mockBackend{}, &fakeSubscriber{})
	err := c.Analyze(context.Background(), "", "prompt", nil, "")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

// =============================================================================
// Stream Errors & Fallback
// =============================================================================

func TestErrorEvent_TransportReason(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	subs.emit(t, stream.NewErrorEvent(stream.DisconnectReason))

	progress := c.Progress()
	assert.Equal(t, StatusError, progress.Status)
	assert.Equal(t, FallbackReasonTransportBlocked, progress.FallbackReason)
	assert.True(t, c.Fallback().Retryable)
}

func TestStateEvent_FallbackPreservesTokens(t *testing.T) {
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, &mockBackend{}, subs)
	_, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	preserved := 4
	subs.emit(t, stream.Event{Type: stream.EventState, State: &stream.StatePayload{
		Status:          stream.FallbackActive,
		FallbackReason:  FallbackReasonTransportBlocked,
		PreservedTokens: &preserved,
	}})

	progress := c.Progress()
	assert.Equal(t, StatusFallback, progress.Status)
	assert.Equal(t, 4, progress.PreservedTokens)
	assert.Equal(t, DeliveryFallback, progress.Delivery)
}

// =============================================================================
// Document QA Review
// =============================================================================

func TestReview_PendingSetsQueuedAndReplacement(t *testing.T) {
	mock := &mockBackend{}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)
	session, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	mock.mu.Lock()
	mock.reviewResp = backend.ReviewResponse{
		SessionID:         session.SessionID,
		Status:            backend.ReviewPending,
		ReplacedSessionID: "old-9",
	}
	mock.mu.Unlock()

	require.NoError(t, c.Review(context.Background()))

	assert.Equal(t, StatusQueued, c.Progress().Status)
	notice := c.Replacement()
	require.NotNil(t, notice)
	assert.Equal(t, "old-9", notice.PreviousSessionID)
	assert.Equal(t, session.SessionID, notice.PromotedSessionID)
}

func TestRetry_IncrementsAttemptOnSameLineage(t *testing.T) {
	mock := &mockBackend{}
	subs := &fakeSubscriber{}
	c := newTestCoordinator(t, mock, subs)
	session, err := c.EnsureSession(context.Background(), "sec-1", "")
	require.NoError(t, err)

	require.NoError(t, c.Retry(context.Background()))

	progress := c.Progress()
	assert.Equal(t, 1, progress.RetryCount)
	assert.Equal(t, StatusQueued, progress.Status)

	still, live := c.ActiveSession()
	require.True(t, live)
	assert.Equal(t, session.SessionID, still.SessionID, "retry reuses the session identity")
}
