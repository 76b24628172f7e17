// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package prd

import (
	"strings"
	"testing"
)

// buildDocument returns a document touching every exportable field.
func buildDocument() *Document {
	d := New()
	d.SetName("Todo App")
	d.SetDescription("Building a todo app")
	d.AddStackTag("python")
	d.AddStackTag("flask")
	d.AddTask("SEC", "Configure secret key", PriorityHigh)
	d.AddTask("SET", "Initialize repository", PriorityHigh)
	d.AddTask("CORE", "users can add tasks", PriorityMedium)
	d.AddTask("CORE", "users can delete tasks", PriorityMedium)
	return d
}

// =============================================================================
// EXPORT FORMAT TESTS
// =============================================================================

func TestExport_Format(t *testing.T) {
	d := buildDocument()
	out := Export(d)

	wantLines := []string{
		"pn: Todo App",
		"pd: Building a todo app",
		"ts: python,flask",
		"p:",
		"  SEC Security",
		"    t: SEC-001 Configure secret key pr:High",
		"  CORE Core",
		"    t: CORE-001 users can add tasks pr:Medium",
	}
	for _, want := range wantLines {
		if !strings.Contains(out, want) {
			t.Errorf("export missing line %q\nfull export:\n%s", want, out)
		}
	}

	// SEC must come before SET, SET before CORE.
	if strings.Index(out, "  SEC ") > strings.Index(out, "  SET ") {
		t.Error("SEC category should be exported before SET")
	}
	if strings.Index(out, "  SET ") > strings.Index(out, "  CORE ") {
		t.Error("SET category should be exported before CORE")
	}
}

func TestExport_Deterministic(t *testing.T) {
	d := buildDocument()
	if Export(d) != Export(d) {
		t.Error("export of the same document must be byte-identical")
	}
}

func TestExport_EmptyDocument(t *testing.T) {
	out := Export(New())
	for _, want := range []string{"pn:\n", "pd:\n", "ts:\n", "p:\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("empty export missing %q, got:\n%s", want, out)
		}
	}
}

// =============================================================================
// ROUND-TRIP TESTS
// =============================================================================

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Document
	}{
		{"full document", buildDocument},
		{"empty document with name", func() *Document {
			d := New()
			d.SetName("Bare")
			return d
		}},
		{"task with pr text inside", func() *Document {
			d := New()
			d.SetName("Edge")
			d.AddTask("CORE", "show pr:High labels in the ui", PriorityMedium)
			return d
		}},
		{"emptied category survives", func() *Document {
			d := New()
			d.SetName("Emptied")
			task := d.AddTask("API", "temp", PriorityMedium)
			d.RemoveTask(task.ID)
			return d
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := tc.build()
			parsed, err := Parse(Export(d))
			if err != nil {
				t.Fatalf("Parse(Export(d)) failed: %v", err)
			}
			if !d.Equal(parsed) {
				t.Errorf("round trip mismatch:\noriginal:\n%s\nreparsed:\n%s", Export(d), Export(parsed))
			}
		})
	}
}

func TestRoundTrip_SequenceContinues(t *testing.T) {
	d := buildDocument()
	parsed, err := Parse(Export(d))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// Adding after a round trip continues the sequence instead of colliding.
	task := parsed.AddTask("CORE", "new after restore", PriorityMedium)
	if task.ID != "CORE-003" {
		t.Errorf("post-restore ID = %q, want CORE-003", task.ID)
	}
}

// =============================================================================
// PARSE ERROR TESTS
// =============================================================================

func TestParse_MissingProjectName(t *testing.T) {
	_, err := Parse("pd: something\nts: python\np:\n")
	var pe *ParseError
	if err == nil {
		t.Fatal("expected ParseError for missing pn:")
	}
	if !asParseError(err, &pe) {
		t.Fatalf("err = %T, want *ParseError", err)
	}
	if !strings.Contains(pe.Msg, "pn") {
		t.Errorf("error should mention pn, got %q", pe.Msg)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"garbage line", "pn: x\nnot a field line\n"},
		{"unknown key", "pn: x\nzz: what\n"},
		{"task outside p section", "pn: x\n    t: CORE-001 a pr:Medium\n"},
		{"task before category", "pn: x\np:\n    t: CORE-001 a pr:Medium\n"},
		{"bad priority", "pn: x\np:\n  CORE Core\n    t: CORE-001 a pr:Urgent\n"},
		{"malformed task line", "pn: x\np:\n  CORE Core\n    t: CORE-001\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.text); err == nil {
				t.Errorf("expected parse error for:\n%s", tc.text)
			}
		})
	}
}

func TestParse_UnknownCategoryBecomesSynthetic(t *testing.T) {
	text := "pn: Foreign\npd:\nts:\np:\n  DOCS Documentation\n    t: DOCS-001 write readme pr:Medium\n"
	d, err := Parse(text)
	if err != nil {
		t.Fatalf("unknown category should not abort import: %v", err)
	}

	cat, ok := d.Category("DOCS")
	if !ok {
		t.Fatal("synthetic DOCS category missing")
	}
	if cat.Name != "Documentation" {
		t.Errorf("synthetic name = %q, want Documentation", cat.Name)
	}
	if len(cat.Tasks) != 1 || cat.Tasks[0].ID != "DOCS-001" {
		t.Errorf("synthetic category tasks = %+v", cat.Tasks)
	}

	// Synthetic categories round trip too.
	again, err := Parse(Export(d))
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if !d.Equal(again) {
		t.Error("synthetic category did not survive round trip")
	}
}

// asParseError is errors.As without the import noise in every test.
func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

// =============================================================================
// COMPRESSED BLOCK TESTS
// =============================================================================

func TestCompressedBlock(t *testing.T) {
	d := buildDocument()
	block := CompressedBlock(d)

	if !strings.HasPrefix(block, "=== PRD LEGEND") {
		t.Error("compressed block should start with the legend")
	}
	for _, want := range []string{`"pn": "Todo App"`, `"SEC"`, `"SEC-001"`, `"pr": "High"`} {
		if !strings.Contains(block, want) {
			t.Errorf("compressed block missing %q", want)
		}
	}
	if block != CompressedBlock(d) {
		t.Error("compressed block must be deterministic")
	}
}

func TestCompressPhrases(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Install authentication dependencies", "I auth dep"},
		{"Create database configuration", "C db cfg"},
		{"nothing to shorten", "nothing to shorten"},
	}
	for _, tc := range tests {
		if got := compressPhrases(tc.input); got != tc.want {
			t.Errorf("compressPhrases(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
