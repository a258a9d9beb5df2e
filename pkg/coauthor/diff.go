// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coauthor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/AleutianScribe/pkg/stream"
)

// =============================================================================
// Canonical Diff Model
// =============================================================================

// SegmentType classifies one canonical diff segment.
type SegmentType string

const (
	SegmentAdded   SegmentType = "added"
	SegmentRemoved SegmentType = "removed"
	SegmentContext SegmentType = "context"
)

// CanonicalSegment is the fixed-shape normalized form of one diff
// segment. Raw payload segments may carry their text under either of
// two field names and may omit the type; normalization resolves both.
type CanonicalSegment struct {
	SegmentID string      `json:"segmentId"`
	Type      SegmentType `json:"type"`
	Content   string      `json:"content"`
}

// CanonicalDiff is a normalized, ordered segment list plus the diff
// mode reported by the backend.
type CanonicalDiff struct {
	Mode     string             `json:"mode"`
	Segments []CanonicalSegment `json:"segments"`
}

// ErrUnhashableDiff indicates that no diff hash could be resolved: the
// backend supplied none and the normalized payload has nothing to hash.
// An unhashed proposal must never become observable.
var ErrUnhashableDiff = errors.New("diff has no server hash and no hashable segments")

// =============================================================================
// Canonicalization
// =============================================================================

// Canonicalize converts a raw diff payload into its canonical form.
//
// # Description
//
// Segment text is resolved from the "content" field, falling back to
// the legacy "value" field. Unknown or missing segment types default to
// context. Segments without an id are dropped; an id-less segment
// cannot participate in a reproducible hash.
func Canonicalize(payload stream.DiffPayload) CanonicalDiff {
	canonical := CanonicalDiff{
		Mode:     payload.Mode,
		Segments: make([]CanonicalSegment, 0, len(payload.Segments)),
	}
	for _, seg := range payload.Segments {
		if seg.SegmentID == "" {
			continue
		}
		content := seg.Content
		if content == "" {
			content = seg.Value
		}
		canonical.Segments = append(canonical.Segments, CanonicalSegment{
			SegmentID: seg.SegmentID,
			Type:      normalizeSegmentType(seg.Type),
			Content:   content,
		})
	}
	return canonical
}

func normalizeSegmentType(raw string) SegmentType {
	switch SegmentType(raw) {
	case SegmentAdded, SegmentRemoved, SegmentContext:
		return SegmentType(raw)
	default:
		return SegmentContext
	}
}

// =============================================================================
// Draft Patch
// =============================================================================

// DraftPatch renders the canonical diff as prefixed patch text: every
// physical line of every segment gets the prefix for its type ("+"
// added, "-" removed, space for context).
//
// A removed segment that ends in a trailing blank line keeps that blank
// line as a literal "-" line, so the patch accounts for the removed
// newline. Added and context segments drop the empty trailing split.
func DraftPatch(diff CanonicalDiff) string {
	var out []string
	for _, seg := range diff.Segments {
		prefix := " "
		switch seg.Type {
		case SegmentAdded:
			prefix = "+"
		case SegmentRemoved:
			prefix = "-"
		}

		lines := strings.Split(seg.Content, "\n")
		if len(lines) > 1 && lines[len(lines)-1] == "" && seg.Type != SegmentRemoved {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			out = append(out, prefix+line)
		}
	}
	return strings.Join(out, "\n")
}

// =============================================================================
// Hashing
// =============================================================================

// hashAlgorithmTag prefixes every locally computed diff hash so the
// backend can identify the digest algorithm when re-verifying.
const hashAlgorithmTag = "sha256:"

// HashDiff resolves the authoritative content hash for a proposal.
//
// # Description
//
// A non-empty server-supplied hash wins unconditionally. Otherwise the
// normalized segment array (never the raw payload) is serialized to a
// deterministic string and digested. An empty segment list with no
// server hash returns ErrUnhashableDiff: diff integrity must never be
// approvable without a hash the backend can re-verify.
func HashDiff(serverHash string, diff CanonicalDiff) (string, error) {
	if serverHash != "" {
		return serverHash, nil
	}
	if len(diff.Segments) == 0 {
		return "", ErrUnhashableDiff
	}

	serialized, err := json.Marshal(diff.Segments)
	if err != nil {
		return "", fmt.Errorf("serialize canonical segments: %w", err)
	}
	digest := sha256.Sum256(serialized)
	return hashAlgorithmTag + hex.EncodeToString(digest[:]), nil
}

// =============================================================================
// Unified Diff Export
// =============================================================================

// ExportUnifiedDiff renders the canonical diff as a standard unified
// diff document for the named section, suitable for external review
// tooling. The draft patch becomes a single hunk.
func ExportUnifiedDiff(sectionID string, diff CanonicalDiff) (string, error) {
	patch := DraftPatch(diff)
	if patch == "" {
		return "", ErrUnhashableDiff
	}

	var origLines, newLines int32
	for _, line := range strings.Split(patch, "\n") {
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case '+':
			newLines++
		case '-':
			origLines++
		default:
			origLines++
			newLines++
		}
	}

	fileDiff := &godiff.FileDiff{
		OrigName: "a/" + sectionID,
		NewName:  "b/" + sectionID,
		Hunks: []*godiff.Hunk{
			{
				OrigStartLine: 1,
				OrigLines:     origLines,
				NewStartLine:  1,
				NewLines:      newLines,
				Body:          []byte(patch + "\n"),
			},
		},
	}

	rendered, err := godiff.PrintFileDiff(fileDiff)
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	return string(rendered), nil
}
