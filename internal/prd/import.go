// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package prd

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports a malformed pasted export. The restore flow surfaces it
// to the user and leaves the session untouched.
type ParseError struct {
	Line int
	Msg  string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Msg)
}

// taskLineRe matches "t: <id> <text> pr:<priority>". The greedy middle group
// binds pr: to the last occurrence, so task text containing "pr:" elsewhere
// parses correctly.
var taskLineRe = regexp.MustCompile(`^t: (\S+) (.*) pr:(\S+)$`)

// Parse reads the compact export format back into a Document.
//
// The pn: key is required; its absence is a ParseError even when every other
// section is well formed. A task under a category code outside the fixed
// taxonomy does not abort the import: the code becomes a synthetic category
// carrying the pasted display name. That fallback keeps restores working for
// documents exported by newer versions with extra categories.
//
// Parse is all-or-nothing: on error the returned document is nil and the
// caller's state must not change.
func Parse(text string) (*Document, error) {
	d := New()

	seenPN := false
	inPRDs := false
	var current *Category

	lines := strings.Split(text, "\n")
	for i, raw := range lines {
		lineNo := i + 1
		if strings.TrimSpace(raw) == "" {
			continue
		}

		if !strings.HasPrefix(raw, " ") {
			// Top-level key.
			inPRDs = false
			current = nil
			key, value, ok := splitField(raw)
			if !ok {
				return nil, &ParseError{Line: lineNo, Msg: "expected key: value"}
			}
			switch key {
			case "pn":
				d.SetName(value)
				seenPN = true
			case "pd":
				d.SetDescription(value)
			case "ts":
				for _, tag := range strings.Split(value, ",") {
					d.AddStackTag(tag)
				}
			case "p":
				if value != "" {
					return nil, &ParseError{Line: lineNo, Msg: "p: takes no inline value"}
				}
				inPRDs = true
			default:
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("unknown key %q", key)}
			}
			continue
		}

		if !inPRDs {
			return nil, &ParseError{Line: lineNo, Msg: "indented line outside p: section"}
		}

		if strings.HasPrefix(raw, "    ") {
			// Task line.
			if current == nil {
				return nil, &ParseError{Line: lineNo, Msg: "task before any category"}
			}
			m := taskLineRe.FindStringSubmatch(strings.TrimSpace(raw))
			if m == nil {
				return nil, &ParseError{Line: lineNo, Msg: "malformed task line"}
			}
			pri, ok := ParsePriority(m[3])
			if !ok {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("unknown priority %q", m[3])}
			}
			d.restoreTask(current.Code, m[1], m[2], pri)
			continue
		}

		// Category header: "  CODE Display Name".
		fields := strings.Fields(raw)
		if len(fields) < 2 {
			return nil, &ParseError{Line: lineNo, Msg: "malformed category header"}
		}
		current = d.AddOrGetCategory(fields[0])
		current.Name = strings.Join(fields[1:], " ")
	}

	if !seenPN {
		return nil, &ParseError{Line: 0, Msg: "missing required key pn:"}
	}
	return d, nil
}

// splitField splits "key: value" (or bare "key:") into its parts.
func splitField(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}
