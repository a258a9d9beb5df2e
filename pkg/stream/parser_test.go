// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"testing"
)

// =============================================================================
// ParseLine Tests
// =============================================================================

func TestParseLine_SkipsFraming(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name string
		line string
	}{
		{"empty line", ""},
		{"whitespace only", "   "},
		{"comment", ": keepalive"},
		{"event framing field", "event: progress"},
		{"id framing field", "id: 42"},
		{"retry framing field", "retry: 3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parser.ParseLine(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event != nil {
				t.Errorf("expected nil event, got %+v", event)
			}
		})
	}
}

func TestParseLine_DataPrefixVariants(t *testing.T) {
	parser := NewParser()

	withSpace, err := parser.ParseLine(`data: {"type":"token","value":"hi"}`)
	if err != nil || withSpace == nil {
		t.Fatalf("expected event, got %v, err %v", withSpace, err)
	}

	withoutSpace, err := parser.ParseLine(`data:{"type":"token","value":"hi"}`)
	if err != nil || withoutSpace == nil {
		t.Fatalf("expected event, got %v, err %v", withoutSpace, err)
	}

	if withSpace.Token.Value != withoutSpace.Token.Value {
		t.Errorf("prefix variants parsed differently: %q vs %q",
			withSpace.Token.Value, withoutSpace.Token.Value)
	}
}

// =============================================================================
// ParseRawJSON Tests
// =============================================================================

func TestParseRawJSON_AllEventTypes(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name string
		json string
		want EventType
	}{
		{
			"progress",
			`{"type":"progress","status":"streaming","elapsedMs":1200,"stage":"drafting"}`,
			EventProgress,
		},
		{
			"token",
			`{"type":"token","value":"Hello","sequence":1}`,
			EventToken,
		},
		{
			"proposal.ready",
			`{"type":"proposal.ready","proposalId":"prop-1","confidence":0.8,"diff":{"mode":"replace","segments":[{"segmentId":"s1","type":"added","content":"x"}]}}`,
			EventProposalReady,
		},
		{
			"analysis.completed",
			`{"type":"analysis.completed","timestamp":1735657200000,"sessionId":"sess-1"}`,
			EventAnalysisCompleted,
		},
		{
			"state",
			`{"type":"state","status":"fallback_active","fallbackReason":"assistant_unavailable","preservedTokensCount":12}`,
			EventState,
		},
		{
			"error",
			`{"type":"error","message":"boom"}`,
			EventError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parser.ParseRawJSON([]byte(tt.json))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event == nil {
				t.Fatal("expected event, got nil")
			}
			if event.Type != tt.want {
				t.Errorf("Type = %v, want %v", event.Type, tt.want)
			}
			if event.ID == "" {
				t.Error("expected Id to be set")
			}
			if event.CreatedAt == 0 {
				t.Error("expected CreatedAt to be set")
			}
		})
	}
}

func TestParseRawJSON_ExactlyOnePayload(t *testing.T) {
	parser := NewParser()
	event, err := parser.ParseRawJSON([]byte(`{"type":"token","value":"x"}`))
	if err != nil || event == nil {
		t.Fatalf("expected event, err %v", err)
	}

	populated := 0
	if event.Progress != nil {
		populated++
	}
	if event.Token != nil {
		populated++
	}
	if event.Proposal != nil {
		populated++
	}
	if event.Analysis != nil {
		populated++
	}
	if event.State != nil {
		populated++
	}
	if event.Error != nil {
		populated++
	}
	if populated != 1 {
		t.Errorf("expected exactly one payload, got %d", populated)
	}
}

func TestParseRawJSON_DropsMalformed(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name string
		json string
	}{
		{"not json", `{{{{`},
		{"unknown type", `{"type":"telemetry","value":1}`},
		{"progress missing status", `{"type":"progress","elapsedMs":5}`},
		{"state with bad status", `{"type":"state","status":"exploded"}`},
		{"error missing message", `{"type":"error"}`},
		{"confidence above one", `{"type":"proposal.ready","proposalId":"p","confidence":1.5}`},
		{"proposal missing id", `{"type":"proposal.ready","confidence":0.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parser.ParseRawJSON([]byte(tt.json))
			if err != nil {
				t.Fatalf("malformed payloads must not error, got: %v", err)
			}
			if event != nil {
				t.Errorf("expected dropped event, got %+v", event)
			}
		})
	}
}

func TestParseRawJSON_TokenSequenceOptional(t *testing.T) {
	parser := NewParser()

	sequenced, _ := parser.ParseRawJSON([]byte(`{"type":"token","value":"a","sequence":7}`))
	if sequenced == nil || sequenced.Token.Sequence == nil {
		t.Fatal("expected sequenced token")
	}
	if *sequenced.Token.Sequence != 7 {
		t.Errorf("Sequence = %d, want 7", *sequenced.Token.Sequence)
	}

	legacy, _ := parser.ParseRawJSON([]byte(`{"type":"token","value":"b"}`))
	if legacy == nil {
		t.Fatal("expected legacy token")
	}
	if legacy.Token.Sequence != nil {
		t.Errorf("expected nil Sequence for legacy token, got %d", *legacy.Token.Sequence)
	}
}

func TestParseRawJSON_ProgressReplacement(t *testing.T) {
	parser := NewParser()

	event, _ := parser.ParseRawJSON([]byte(
		`{"type":"progress","status":"queued","replacement":{"previousSessionId":"old-1","promotedSessionId":"q-2"}}`,
	))
	if event == nil {
		t.Fatal("expected event")
	}
	rep := event.Progress.Replacement
	if rep == nil {
		t.Fatal("expected replacement info")
	}
	if rep.PreviousSessionID != "old-1" {
		t.Errorf("PreviousSessionID = %q, want old-1", rep.PreviousSessionID)
	}
	if rep.PromotedSessionID != "q-2" {
		t.Errorf("PromotedSessionID = %q, want q-2", rep.PromotedSessionID)
	}
}
