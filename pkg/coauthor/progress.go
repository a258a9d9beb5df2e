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
// Progress Merges
// =============================================================================
//
// Every transition in this file is a pure (state, event) -> state merge.
// The Coordinator is the only caller and the only writer of the merged
// result; nothing here mutates its inputs.

// applyProgress merges an inbound progress event into the current
// progress state.
//
// The first time the merged status lands on streaming, FirstUpdateMs is
// latched from the event's elapsed time and never overwritten for the
// remainder of the attempt. Unknown inbound statuses leave the current
// status untouched so a junk event cannot knock a session sideways.
func applyProgress(state ProgressState, p stream.ProgressPayload) ProgressState {
	next := state

	if status, ok := normalizeStatus(p.Status); ok {
		next.Status = status
	}
	if p.ElapsedMs > 0 {
		next.ElapsedMs = p.ElapsedMs
	}
	if p.Stage != "" {
		next.StageLabel = p.Stage
	}
	if p.CancelReason != "" {
		next.CancelReason = p.CancelReason
	}
	if p.RetryCount != nil && *p.RetryCount > next.RetryCount {
		next.RetryCount = *p.RetryCount
	}
	if p.FallbackReason != "" {
		next.FallbackReason = p.FallbackReason
	}
	if p.PreservedTokens != nil {
		next.PreservedTokens = *p.PreservedTokens
	}
	if p.Delivery != "" {
		next.Delivery = Delivery(p.Delivery)
	}

	if next.Status == StatusStreaming && state.FirstUpdateMs == 0 {
		ms := next.ElapsedMs
		if ms == 0 {
			ms = 1
		}
		next.FirstUpdateMs = ms
	}

	return next
}

// normalizeStatus maps a wire status string onto the internal status
// set. The second return is false for statuses this client does not
// recognize.
func normalizeStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusIdle, StatusQueued, StatusStreaming,
		StatusAwaitingApproval, StatusFallback,
		StatusCanceled, StatusError:
		return Status(raw), true
	}
	// The backend reports queue admission as started/pending on the
	// review flow; fold those onto the internal set.
	switch raw {
	case "started":
		return StatusStreaming, true
	case "pending":
		return StatusQueued, true
	case "complete", "completed":
		return StatusIdle, true
	}
	return "", false
}

// applyCancel merges an author-initiated cancellation. Cancellation is
// a client-observed fact: the merge happens regardless of backend
// acknowledgement, and the retry counter advances so the lineage shows
// cumulative attempts.
func applyCancel(state ProgressState, reason string) ProgressState {
	next := state
	next.Status = StatusCanceled
	next.CancelReason = reason
	next.RetryCount++
	return next
}

// applyRequestFailure merges a non-abort command failure. The attempt
// terminates with a stable machine-readable reason and the caller
// surfaces a retryable fallback state alongside.
func applyRequestFailure(state ProgressState, reason string) ProgressState {
	next := state
	next.Status = StatusError
	next.FallbackReason = reason
	return next
}

// applyRetry merges a retry-triggered re-request into a fresh attempt
// on the same lineage.
func applyRetry(state ProgressState) ProgressState {
	next := state
	next.Status = StatusQueued
	next.CancelReason = ""
	next.FallbackReason = ""
	next.RetryCount++
	return next
}

// freshProgress is the state a newly ensured session starts in.
func freshProgress(retryCount int) ProgressState {
	return ProgressState{
		Status:     StatusStreaming,
		ElapsedMs:  0,
		RetryCount: retryCount,
		Delivery:   DeliveryStreaming,
	}
}
