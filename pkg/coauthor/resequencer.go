// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coauthor

import (
	"sync"
)

// =============================================================================
// Resequencer
// =============================================================================

// FlushStats summarizes delivery quality since the previous flush.
type FlushStats struct {
	// OutOfOrder counts insertions whose sequence did not match the
	// expected sequence at arrival time.
	OutOfOrder int

	// HighestSequence is the largest sequence number observed since the
	// last flush, or 0 if none arrived.
	HighestSequence int64
}

// Resequencer releases sequence-numbered streaming tokens in strict
// ascending order even when the transport delivers them out of order.
//
// # Description
//
// The resequencer keeps an expected sequence counter starting at 1 and
// a sparse buffer keyed by sequence. Sequenced tokens are buffered and
// drained in order; tokens without a sequence number take the legacy
// path and are emitted immediately in receipt order, never buffered.
// Tokens are never emitted twice.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Resequencer struct {
	mu         sync.Mutex
	emit       func(value string)
	buffer     map[int64]string
	expected   int64
	outOfOrder int
	highest    int64
}

// NewResequencer creates a resequencer that delivers ordered tokens to
// emit. The emit function is called synchronously from Push.
func NewResequencer(emit func(value string)) *Resequencer {
	return &Resequencer{
		emit:     emit,
		buffer:   make(map[int64]string),
		expected: 1,
	}
}

// Push accepts one token. A nil sequence means the token predates
// sequencing and is emitted immediately.
//
// Emission happens outside the internal lock so the emit function may
// take its own locks without ordering constraints.
func (r *Resequencer) Push(value string, sequence *int64) {
	var ready []string

	r.mu.Lock()
	if sequence == nil {
		ready = append(ready, value)
	} else {
		seq := *sequence
		if seq < r.expected {
			// Already emitted; a retransmitted token is dropped so
			// nothing is ever emitted twice.
			r.mu.Unlock()
			return
		}
		if seq > r.highest {
			r.highest = seq
		}
		if seq != r.expected {
			r.outOfOrder++
		}
		r.buffer[seq] = value

		for {
			next, ok := r.buffer[r.expected]
			if !ok {
				break
			}
			delete(r.buffer, r.expected)
			ready = append(ready, next)
			r.expected++
		}
	}
	r.mu.Unlock()

	for _, token := range ready {
		r.emit(token)
	}
}

// Flush reports out-of-order and highest-sequence counters accumulated
// since the last flush, then resets them. Buffered tokens and the
// expected sequence are untouched.
func (r *Resequencer) Flush() FlushStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := FlushStats{
		OutOfOrder:      r.outOfOrder,
		HighestSequence: r.highest,
	}
	r.outOfOrder = 0
	r.highest = 0
	return stats
}

// Reset clears the buffer and restores the expected sequence to 1.
// Called on session reset so a fresh attempt starts clean.
func (r *Resequencer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = make(map[int64]string)
	r.expected = 1
	r.outOfOrder = 0
	r.highest = 0
}

// Pending returns the number of buffered tokens still waiting for an
// earlier sequence to arrive.
func (r *Resequencer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}
