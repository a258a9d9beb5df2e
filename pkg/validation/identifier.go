// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that are
// interpolated into request paths and stream locations. Using these
// validators prevents injection attacks (path traversal, URL manipulation).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches document, section, and participant ids.
// Allows: letters, digits, dots, hyphens, underscores.
// Max length: 128 characters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateIdentifier validates an id that will appear in a request path
// or stream location URL.
//
// Valid identifiers:
//   - 1-128 characters
//   - Letters and digits
//   - Dots (.), hyphens (-), underscores (_) after the first character
//
// Returns an error naming the field if the id is invalid.
//
// Example:
//
//	if err := validation.ValidateIdentifier("section id", sectionID); err != nil {
//	    return err
//	}
func ValidateIdentifier(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%s must not contain path traversal sequences", field)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters: %q", field, id)
	}
	return nil
}
