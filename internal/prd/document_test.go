// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package prd

import (
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// TASK ID TESTS
// =============================================================================

func TestAddTask_SequentialIDs(t *testing.T) {
	d := New()

	first := d.AddTask("CORE", "users can add tasks", PriorityMedium)
	second := d.AddTask("CORE", "users can delete tasks", PriorityMedium)

	if first.ID != "CORE-001" {
		t.Errorf("first.ID = %q, want CORE-001", first.ID)
	}
	if second.ID != "CORE-002" {
		t.Errorf("second.ID = %q, want CORE-002", second.ID)
	}
}

func TestAddTask_IDsNeverReused(t *testing.T) {
	d := New()
	d.AddTask("SEC", "configure secret key", PriorityHigh)
	second := d.AddTask("SEC", "validate inputs", PriorityMedium)

	if err := d.RemoveTask(second.ID); err != nil {
		t.Fatalf("RemoveTask failed: %v", err)
	}

	third := d.AddTask("SEC", "add rate limiting", PriorityMedium)
	if third.ID != "SEC-003" {
		t.Errorf("third.ID = %q, want SEC-003 (sequence must not reuse %q)", third.ID, second.ID)
	}
}

func TestAddTask_DefaultPriority(t *testing.T) {
	d := New()
	task := d.AddTask("CORE", "something", "")
	if task.Priority != PriorityMedium {
		t.Errorf("default priority = %q, want Medium", task.Priority)
	}
}

// =============================================================================
// CATEGORY TESTS
// =============================================================================

func TestAddOrGetCategory_Idempotent(t *testing.T) {
	d := New()

	a := d.AddOrGetCategory("SEC")
	b := d.AddOrGetCategory("SEC")
	if a != b {
		t.Error("AddOrGetCategory should return the same category for the same code")
	}
	if len(d.Categories) != 1 {
		t.Errorf("expected 1 category, got %d", len(d.Categories))
	}
}

func TestAddOrGetCategory_TaxonomyOrder(t *testing.T) {
	d := New()

	// Created out of order, listed in taxonomy order.
	d.AddOrGetCategory("TEST")
	d.AddOrGetCategory("SEC")
	d.AddOrGetCategory("CORE")

	var codes []string
	for _, cat := range d.Categories {
		codes = append(codes, cat.Code)
	}
	want := "SEC CORE TEST"
	if got := strings.Join(codes, " "); got != want {
		t.Errorf("category order = %q, want %q", got, want)
	}
}

func TestAddOrGetCategory_SyntheticAfterTaxonomy(t *testing.T) {
	d := New()
	d.AddOrGetCategory("DOCS")
	d.AddOrGetCategory("SEC")

	if d.Categories[0].Code != "SEC" {
		t.Errorf("taxonomy category should sort first, got %q", d.Categories[0].Code)
	}
	if d.Categories[1].Code != "DOCS" {
		t.Errorf("synthetic category should sort last, got %q", d.Categories[1].Code)
	}
	if d.Categories[1].Name != "Docs" {
		t.Errorf("synthetic category name = %q, want Docs", d.Categories[1].Name)
	}
}

func TestCategorySurvivesEmptying(t *testing.T) {
	d := New()
	task := d.AddTask("API", "expose rest endpoint", PriorityMedium)
	if err := d.RemoveTask(task.ID); err != nil {
		t.Fatalf("RemoveTask failed: %v", err)
	}

	cat, ok := d.Category("API")
	if !ok {
		t.Fatal("category should survive removal of its last task")
	}
	if len(cat.Tasks) != 0 {
		t.Errorf("category should be empty, has %d tasks", len(cat.Tasks))
	}
}

// =============================================================================
// MUTATION ERROR TESTS
// =============================================================================

func TestSetTaskPriority_Unknown(t *testing.T) {
	d := New()
	err := d.SetTaskPriority("CORE-999", PriorityHigh)
	if !errors.Is(err, ErrUnknownTaskID) {
		t.Errorf("err = %v, want ErrUnknownTaskID", err)
	}
}

func TestRemoveTask_Unknown(t *testing.T) {
	d := New()
	err := d.RemoveTask("SEC-001")
	if !errors.Is(err, ErrUnknownTaskID) {
		t.Errorf("err = %v, want ErrUnknownTaskID", err)
	}
}

// =============================================================================
// STACK TAG TESTS
// =============================================================================

func TestAddStackTag(t *testing.T) {
	d := New()

	if !d.AddStackTag("Python") {
		t.Error("first add should return true")
	}
	if d.AddStackTag("python") {
		t.Error("duplicate (case-insensitive) should return false")
	}
	d.AddStackTag("flask")
	d.AddStackTag(" ")

	if len(d.Stack) != 2 || d.Stack[0] != "python" || d.Stack[1] != "flask" {
		t.Errorf("stack = %v, want [python flask]", d.Stack)
	}
}

// =============================================================================
// CLONE AND EQUAL TESTS
// =============================================================================

func TestCloneEqual(t *testing.T) {
	d := New()
	d.SetName("Todo App")
	d.SetDescription("Building a todo app")
	d.AddStackTag("python")
	d.AddTask("CORE", "users can add tasks", PriorityMedium)
	d.AddTask("SEC", "configure secret key", PriorityHigh)

	clone := d.Clone()
	if !d.Equal(clone) {
		t.Fatal("clone should equal original")
	}

	// Mutating the clone must not touch the original.
	clone.AddTask("CORE", "extra", PriorityMedium)
	if d.Equal(clone) {
		t.Error("documents should differ after mutating clone")
	}
	if d.TaskCount() != 2 {
		t.Errorf("original task count = %d, want 2", d.TaskCount())
	}

	// Clone keeps sequence counters.
	task := clone.AddTask("SEC", "more", PriorityMedium)
	if task.ID != "SEC-002" {
		t.Errorf("clone sequence ID = %q, want SEC-002", task.ID)
	}
}

func TestSummary(t *testing.T) {
	d := New()
	if d.Summary() != "New PRD" {
		t.Errorf("empty summary = %q", d.Summary())
	}

	d.SetName("Todo App")
	d.AddStackTag("python")
	d.AddTask("CORE", "x", PriorityMedium)

	got := d.Summary()
	for _, want := range []string{"Building: Todo App", "Tech: python", "Tasks: 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() = %q, want to contain %q", got, want)
		}
	}
}

// =============================================================================
// PRIORITY PARSING
// =============================================================================

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input string
		want  Priority
		ok    bool
	}{
		{"Medium", PriorityMedium, true},
		{"med", PriorityMedium, true},
		{"HIGH", PriorityHigh, true},
		{"!", PriorityHigh, true},
		{"urgent", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		got, ok := ParsePriority(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParsePriority(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}
