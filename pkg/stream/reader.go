// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream provides the typed event layer between the assistant
// backend's event feed and the session coordinator.
//
// This file contains the stream reader that consumes an io.Reader
// source and emits parsed events via a callback.
//
// Single Responsibility:
//
//	Readers handle I/O and event sequencing. They use a Parser to
//	convert bytes to events but do not dispatch or mutate session
//	state. That separation keeps the coordinator testable against
//	synthetic event feeds.
package stream

import (
	"bufio"
	"context"
	"io"
)

// Callback is invoked once per parsed event. Returning a non-nil error
// stops the read loop.
type Callback func(event Event) error

// =============================================================================
// Reader Interface
// =============================================================================

// Reader reads an event stream and invokes a callback per event.
//
// The stream is considered complete when:
//   - EOF is reached
//   - A terminal event (error) is received
//   - Context is cancelled
//   - The callback returns an error
//
// Thread Safety:
//
//	A single Read operation must not be invoked concurrently on the
//	same reader instance.
type Reader interface {
	// Read processes the stream, invoking callback for each event.
	//
	// A transport-level read failure is surfaced to the callback as a
	// synthetic error event with DisconnectReason before Read returns
	// the underlying error.
	Read(ctx context.Context, r io.Reader, callback Callback) error
}

// =============================================================================
// SSE Reader
// =============================================================================

// sseReader implements Reader for Server-Sent Events using a line
// scanner and a Parser.
type sseReader struct {
	parser Parser
}

// NewSSEReader creates a reader for SSE-framed event streams.
func NewSSEReader(parser Parser) Reader {
	return &sseReader{parser: parser}
}

// Read processes an SSE stream, invoking callback for each event.
//
// Nil events (delimiters, comments, malformed payloads, unknown types)
// are skipped; they never terminate the stream.
func (r *sseReader) Read(ctx context.Context, reader io.Reader, callback Callback) error {
	scanner := bufio.NewScanner(reader)
	// Proposal events can carry large diffs in one line.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}

		if err := callback(*event); err != nil {
			return err
		}

		if event.IsTerminal() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		// A dropped connection is a client-observed fact: report it
		// in-band so the coordinator can transition to error state,
		// then return the transport error to the subscription loop.
		_ = callback(NewErrorEvent(DisconnectReason))
		return err
	}

	return nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Reader = (*sseReader)(nil)
