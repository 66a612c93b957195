// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyTable indicates the input had a header but no data rows.
	ErrEmptyTable = errors.New("profile table has no rows")

	// ErrMissingHeader indicates the input had no header row.
	ErrMissingHeader = errors.New("profile table has no header row")
)

// MissingColumnError reports required columns absent from the header.
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("profile table is missing required columns: %s", strings.Join(e.Columns, ", "))
}

// ParseError reports a malformed cell.
type ParseError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %s: cannot parse %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// InvalidProfileError reports a profile that breaks a table invariant.
type InvalidProfileError struct {
	SourceID int64
	Reason   string
}

func (e *InvalidProfileError) Error() string {
	return fmt.Sprintf("profile %d: %s", e.SourceID, e.Reason)
}
