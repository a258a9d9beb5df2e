// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coauthor

import (
	"fmt"
	"sync"
)

// =============================================================================
// Announcer
// =============================================================================

// Announcement is one human-readable status narration, suitable for an
// accessibility live region or an operator console.
type Announcement struct {
	Condition string
	Message   string
}

// Announcement condition keys. Each fires at most once while its
// underlying condition holds; leaving the condition and re-entering it
// re-arms the announcement.
const (
	conditionStillWorking = "still-working"
	conditionFallback     = "fallback"
	conditionCanceled     = "canceled"
	conditionError        = "error"
	conditionProposal     = "proposal-ready"
)

// Announcer is a purely reactive narrator over progress snapshots. It
// holds no session state of its own beyond which conditions have
// already been announced.
type Announcer struct {
	mu        sync.Mutex
	announced map[string]bool
}

// NewAnnouncer creates an announcer with no conditions armed.
func NewAnnouncer() *Announcer {
	return &Announcer{announced: make(map[string]bool)}
}

// Observe inspects one progress snapshot and returns the announcements
// it newly triggers, in a stable order. Repeated snapshots with the
// same status produce nothing until the status changes away and back.
func (a *Announcer) Observe(state ProgressState) []Announcement {
	a.mu.Lock()
	defer a.mu.Unlock()

	active := map[string]string{}
	if state.CancelAvailable() {
		active[conditionStillWorking] = fmt.Sprintf(
			"Assistant is still working after %d seconds. You can cancel and retry.",
			state.ElapsedMs/1000,
		)
	}
	if state.Status == StatusFallback {
		msg := "Live streaming is degraded; the response will arrive another way."
		if state.PreservedTokens > 0 {
			msg = fmt.Sprintf(
				"Live streaming is degraded; %d tokens already received are preserved.",
				state.PreservedTokens,
			)
		}
		active[conditionFallback] = msg
	}
	if state.Status == StatusCanceled {
		active[conditionCanceled] = "Request canceled."
	}
	if state.Status == StatusError {
		active[conditionError] = "The assistant request failed. You can retry."
	}
	if state.Status == StatusAwaitingApproval {
		active[conditionProposal] = "A proposed edit is ready for your review."
	}

	// Re-arm conditions that no longer hold.
	for condition := range a.announced {
		if _, holds := active[condition]; !holds {
			delete(a.announced, condition)
		}
	}

	var out []Announcement
	for _, condition := range []string{
		conditionStillWorking,
		conditionFallback,
		conditionCanceled,
		conditionError,
		conditionProposal,
	} {
		msg, holds := active[condition]
		if !holds || a.announced[condition] {
			continue
		}
		a.announced[condition] = true
		out = append(out, Announcement{Condition: condition, Message: msg})
	}
	return out
}

// Reset clears all armed conditions. Called on session reset.
func (a *Announcer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.announced = make(map[string]bool)
}
