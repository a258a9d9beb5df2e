// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coauthor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianScribe/pkg/stream"
)

func TestApplyProgress_FirstUpdateLatched(t *testing.T) {
	state := freshProgress(0)
	state.Status = StatusQueued

	state = applyProgress(state, stream.ProgressPayload{Status: "streaming", ElapsedMs: 250})
	assert.Equal(t, int64(250), state.FirstUpdateMs)

	state = applyProgress(state, stream.ProgressPayload{Status: "streaming", ElapsedMs: 900})
	assert.Equal(t, int64(250), state.FirstUpdateMs, "first update never overwritten")
	assert.Equal(t, int64(900), state.ElapsedMs)
}

func TestApplyProgress_UnknownStatusIgnored(t *testing.T) {
	state := ProgressState{Status: StatusStreaming}
	state = applyProgress(state, stream.ProgressPayload{Status: "warp-speed"})
	assert.Equal(t, StatusStreaming, state.Status)
}

func TestApplyProgress_RetryCountNeverRegresses(t *testing.T) {
	state := ProgressState{Status: StatusStreaming, RetryCount: 3}
	lower := 1
	state = applyProgress(state, stream.ProgressPayload{Status: "streaming", RetryCount: &lower})
	assert.Equal(t, 3, state.RetryCount)

	higher := 5
	state = applyProgress(state, stream.ProgressPayload{Status: "streaming", RetryCount: &higher})
	assert.Equal(t, 5, state.RetryCount)
}

func TestNormalizeStatus_QueueAdmissionAliases(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
		ok   bool
	}{
		{"started", StatusStreaming, true},
		{"pending", StatusQueued, true},
		{"complete", StatusIdle, true},
		{"streaming", StatusStreaming, true},
		{"awaiting-approval", StatusAwaitingApproval, true},
		{"nonsense", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeStatus(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestApplyCancel(t *testing.T) {
	state := ProgressState{Status: StatusStreaming, RetryCount: 1}
	state = applyCancel(state, CancelReasonAuthor)

	assert.Equal(t, StatusCanceled, state.Status)
	assert.Equal(t, CancelReasonAuthor, state.CancelReason)
	assert.Equal(t, 2, state.RetryCount)
}

func TestApplyRetry_ClearsTerminalReasons(t *testing.T) {
	state := ProgressState{
		Status:         StatusCanceled,
		CancelReason:   CancelReasonAuthor,
		FallbackReason: FallbackReasonRequestFailed,
		RetryCount:     1,
	}
	state = applyRetry(state)

	assert.Equal(t, StatusQueued, state.Status)
	assert.Empty(t, state.CancelReason)
	assert.Empty(t, state.FallbackReason)
	assert.Equal(t, 2, state.RetryCount)
}

func TestCancelAvailable(t *testing.T) {
	assert.False(t, ProgressState{Status: StatusStreaming, ElapsedMs: 4999}.CancelAvailable())
	assert.True(t, ProgressState{Status: StatusStreaming, ElapsedMs: 5000}.CancelAvailable())
	assert.False(t, ProgressState{Status: StatusFallback, ElapsedMs: 9000}.CancelAvailable())
}

// =============================================================================
// State Event Merges
// =============================================================================

func TestApplyStateEvent_FallbackActive(t *testing.T) {
	preserved := 7
	progress, fallback := applyStateEvent(
		ProgressState{Status: StatusStreaming, Delivery: DeliveryStreaming},
		FallbackState{},
		stream.StatePayload{
			Status:          stream.FallbackActive,
			FallbackReason:  FallbackReasonAssistantUnavailable,
			PreservedTokens: &preserved,
		},
	)

	assert.Equal(t, StatusFallback, progress.Status)
	assert.Equal(t, DeliveryFallback, progress.Delivery)
	assert.Equal(t, 7, progress.PreservedTokens)
	assert.True(t, fallback.Active)
	assert.True(t, fallback.Retryable)
	assert.Equal(t, FallbackReasonAssistantUnavailable, fallback.Reason)
}

func TestApplyStateEvent_Terminations(t *testing.T) {
	base := ProgressState{Status: StatusFallback}

	completed, fb := applyStateEvent(base, FallbackState{Active: true}, stream.StatePayload{Status: stream.FallbackCompleted})
	assert.Equal(t, StatusIdle, completed.Status)
	assert.False(t, fb.Active)

	canceled, _ := applyStateEvent(base, FallbackState{}, stream.StatePayload{Status: stream.FallbackCanceled})
	assert.Equal(t, StatusCanceled, canceled.Status)
	assert.Equal(t, CancelReasonAuthor, canceled.CancelReason)

	failed, fbFailed := applyStateEvent(base, FallbackState{}, stream.StatePayload{Status: stream.FallbackFailed})
	assert.Equal(t, StatusError, failed.Status)
	assert.True(t, fbFailed.Retryable)
	assert.Equal(t, FallbackReasonAssistantUnavailable, failed.FallbackReason)
}
