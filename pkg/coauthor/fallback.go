// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coauthor

import (
	"github.com/AleutianAI/AleutianScribe/pkg/stream"
)

// =============================================================================
// Fallback Merges
// =============================================================================

// applyStateEvent merges an explicit backend state event into the
// progress and fallback trackers.
//
// Fallback is not an error. While active, tokens may still arrive and
// transcripts still build; the tracker carries the reason, the
// preserved-token count, and whether a retry was already attempted.
// Completion folds back to idle, cancellation and failure terminate
// the attempt.
func applyStateEvent(progress ProgressState, fallback FallbackState, s stream.StatePayload) (ProgressState, FallbackState) {
	nextProgress := progress
	nextFallback := fallback

	if s.FallbackReason != "" {
		nextFallback.Reason = s.FallbackReason
		nextProgress.FallbackReason = s.FallbackReason
	}
	if s.PreservedTokens != nil {
		nextFallback.PreservedTokens = *s.PreservedTokens
		nextProgress.PreservedTokens = *s.PreservedTokens
	}
	if s.ElapsedMs > 0 {
		nextFallback.ElapsedMs = s.ElapsedMs
		nextProgress.ElapsedMs = s.ElapsedMs
	}
	if s.RetryAttempted {
		nextFallback.RetryAttempted = true
	}
	if s.Delivery != "" {
		nextProgress.Delivery = Delivery(s.Delivery)
	}

	switch s.Status {
	case stream.FallbackActive:
		nextFallback.Active = true
		nextFallback.Retryable = true
		nextProgress.Status = StatusFallback
		nextProgress.Delivery = DeliveryFallback
	case stream.FallbackCompleted:
		nextFallback.Active = false
		nextFallback.Retryable = false
		nextProgress.Status = StatusIdle
	case stream.FallbackCanceled:
		nextFallback.Active = false
		nextFallback.Retryable = false
		nextProgress.Status = StatusCanceled
		if nextProgress.CancelReason == "" {
			nextProgress.CancelReason = CancelReasonAuthor
		}
	case stream.FallbackFailed:
		nextFallback.Active = false
		nextFallback.Retryable = true
		nextProgress.Status = StatusError
		if nextProgress.FallbackReason == "" {
			nextProgress.FallbackReason = FallbackReasonAssistantUnavailable
		}
	}

	return nextProgress, nextFallback
}
