// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package prd

import (
	"strings"
)

// Export serializes the document to the compact line format:
//
//	pn: <project name>
//	pd: <project description>
//	ts: <tag>,<tag>
//	p:
//	  <CODE> <category name>
//	    t: <task-id> <task text> pr:<Medium|High>
//
// Key order, category order (taxonomy first, synthetic after), and task order
// (sequence order within a category) are all fixed, so the same document
// always produces the same text. The format is stable across versions:
// previously exported documents must keep re-parsing.
func Export(d *Document) string {
	var sb strings.Builder

	writeField(&sb, "pn", d.Name)
	writeField(&sb, "pd", d.Description)
	writeField(&sb, "ts", strings.Join(d.Stack, ","))

	sb.WriteString("p:\n")
	for _, cat := range d.Categories {
		sb.WriteString("  ")
		sb.WriteString(cat.Code)
		sb.WriteString(" ")
		sb.WriteString(cat.Name)
		sb.WriteString("\n")
		for _, task := range cat.Tasks {
			sb.WriteString("    t: ")
			sb.WriteString(task.ID)
			sb.WriteString(" ")
			sb.WriteString(task.Text)
			sb.WriteString(" pr:")
			sb.WriteString(string(task.Priority))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// writeField emits a "key: value" line, dropping the trailing space when the
// value is empty so the output has no invisible whitespace.
func writeField(sb *strings.Builder, key, value string) {
	sb.WriteString(key)
	sb.WriteString(":")
	if value != "" {
		sb.WriteString(" ")
		sb.WriteString(value)
	}
	sb.WriteString("\n")
}
