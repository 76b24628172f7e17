// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package prd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Snail3D/prplbry/internal/util"
)

// =============================================================================
// PRIORITY
// =============================================================================

// Priority is the two-level task priority scheme. Every task defaults to
// Medium; seeded security/setup tasks and explicit user promotions are High.
type Priority string

const (
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// ParsePriority maps user and wire spellings to a Priority.
// Accepts the historical short forms ("med", "high", "!") as well as the
// canonical names.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "medium", "med", "normal":
		return PriorityMedium, true
	case "high", "hi", "!", "critical":
		return PriorityHigh, true
	default:
		return "", false
	}
}

// =============================================================================
// TAXONOMY
// =============================================================================

// TaxonomyEntry is one fixed category the exporter and the downstream agent
// both know about.
type TaxonomyEntry struct {
	Code string
	Name string
}

// Taxonomy is the fixed category set, in build order: security first, then
// setup, core, api, test. Export order follows this order; codes outside the
// taxonomy only appear via import of a foreign document.
var Taxonomy = []TaxonomyEntry{
	{Code: "SEC", Name: "Security"},
	{Code: "SET", Name: "Setup"},
	{Code: "CORE", Name: "Core"},
	{Code: "API", Name: "API"},
	{Code: "TEST", Name: "Testing"},
}

// DefaultCategoryCode receives tasks that match no classification rule.
const DefaultCategoryCode = "CORE"

// taxonomyRank returns the sort rank for a category code. Codes outside the
// taxonomy rank after all known codes and keep their creation order.
func taxonomyRank(code string) int {
	for i, e := range Taxonomy {
		if e.Code == code {
			return i
		}
	}
	return len(Taxonomy)
}

// TaxonomyName returns the display name for a taxonomy code.
func TaxonomyName(code string) (string, bool) {
	for _, e := range Taxonomy {
		if e.Code == code {
			return e.Name, true
		}
	}
	return "", false
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnknownTaskID is returned when a priority change or removal references a
// task that does not exist. Callers treat it as a reported no-op.
var ErrUnknownTaskID = errors.New("unknown task id")

// =============================================================================
// TASK AND CATEGORY
// =============================================================================

// Task is a unit of work inside a category.
type Task struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`
}

// Category is a named grouping of tasks. Once created it is never removed,
// even when emptied, so historical task IDs stay resolvable.
type Category struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Tasks []*Task `json:"tasks"`

	// nextSeq is the per-category ID sequence. Monotonic for the lifetime
	// of the document; removing a task never frees its number.
	nextSeq int
}

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the PRD tree for one session.
type Document struct {
	Name        string
	Description string
	Stack       []string

	// Categories in taxonomy order, synthetic (imported) codes after.
	Categories []*Category

	byCode map[string]*Category
}

// New creates an empty document. Categories appear lazily when the first
// task is classified into them.
func New() *Document {
	return &Document{
		byCode: make(map[string]*Category),
	}
}

// SetName sets the project name. Collapsed to a single line so the export
// format stays line-oriented.
func (d *Document) SetName(name string) {
	d.Name = util.CollapseWhitespace(name)
}

// SetDescription sets the project description, collapsed to a single line.
func (d *Document) SetDescription(desc string) {
	d.Description = util.CollapseWhitespace(desc)
}

// AddStackTag appends a tech-stack tag, preserving insertion order and
// dropping duplicates. Returns true when the tag was added.
func (d *Document) AddStackTag(tag string) bool {
	tag = sanitizeTag(tag)
	if tag == "" {
		return false
	}
	for _, existing := range d.Stack {
		if existing == tag {
			return false
		}
	}
	d.Stack = append(d.Stack, tag)
	return true
}

// sanitizeTag lowercases a tag and strips characters that would break the
// comma-separated ts: line.
func sanitizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, ",", "")
	tag = strings.ReplaceAll(tag, " ", "-")
	return tag
}

// AddOrGetCategory returns the category for code, creating it if needed.
// Idempotent: calling twice with the same code returns the same category.
// Codes outside the taxonomy get a synthetic category named after the code;
// that is the importer's fallback for foreign documents.
func (d *Document) AddOrGetCategory(code string) *Category {
	code = strings.ToUpper(strings.TrimSpace(code))
	if cat, ok := d.byCode[code]; ok {
		return cat
	}

	name, known := TaxonomyName(code)
	if !known {
		name = util.TitleWords(strings.ToLower(code))
	}

	cat := &Category{Code: code, Name: name}
	d.byCode[code] = cat

	// Insert keeping taxonomy order; synthetic codes stay in creation
	// order after the known ones.
	rank := taxonomyRank(code)
	pos := len(d.Categories)
	for i, existing := range d.Categories {
		if taxonomyRank(existing.Code) > rank {
			pos = i
			break
		}
	}
	d.Categories = append(d.Categories, nil)
	copy(d.Categories[pos+1:], d.Categories[pos:])
	d.Categories[pos] = cat
	return cat
}

// Category returns the category for code if it exists.
func (d *Document) Category(code string) (*Category, bool) {
	cat, ok := d.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return cat, ok
}

// AddTask creates a task in the given category with the next sequence number.
// IDs are never reused, even after removal of earlier tasks.
func (d *Document) AddTask(code, text string, pri Priority) *Task {
	if pri == "" {
		pri = PriorityMedium
	}
	cat := d.AddOrGetCategory(code)
	cat.nextSeq++
	task := &Task{
		ID:       fmt.Sprintf("%s-%03d", cat.Code, cat.nextSeq),
		Text:     util.CollapseWhitespace(text),
		Priority: pri,
	}
	cat.Tasks = append(cat.Tasks, task)
	return task
}

// restoreTask re-creates a task with a known ID during import, bumping the
// category sequence so future AddTask calls never collide.
func (d *Document) restoreTask(code, id, text string, pri Priority) *Task {
	cat := d.AddOrGetCategory(code)
	if seq, ok := taskSeq(id); ok && seq > cat.nextSeq {
		cat.nextSeq = seq
	}
	task := &Task{
		ID:       id,
		Text:     util.CollapseWhitespace(text),
		Priority: pri,
	}
	cat.Tasks = append(cat.Tasks, task)
	return task
}

// taskSeq extracts the numeric suffix of a task ID like "SEC-001".
func taskSeq(id string) (int, bool) {
	idx := strings.LastIndexByte(id, '-')
	if idx < 0 || idx == len(id)-1 {
		return 0, false
	}
	seq := 0
	for _, r := range id[idx+1:] {
		if r < '0' || r > '9' {
			return 0, false
		}
		seq = seq*10 + int(r-'0')
	}
	return seq, true
}

// FindTask looks a task up by ID across all categories.
func (d *Document) FindTask(id string) (*Task, bool) {
	for _, cat := range d.Categories {
		for _, task := range cat.Tasks {
			if task.ID == id {
				return task, true
			}
		}
	}
	return nil, false
}

// SetTaskPriority changes a task's priority. Returns ErrUnknownTaskID when
// the ID does not resolve.
func (d *Document) SetTaskPriority(id string, pri Priority) error {
	task, ok := d.FindTask(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTaskID, id)
	}
	task.Priority = pri
	return nil
}

// RemoveTask deletes a task by ID. The category stays, and its sequence
// counter is untouched, so the removed ID is never reissued.
func (d *Document) RemoveTask(id string) error {
	for _, cat := range d.Categories {
		for i, task := range cat.Tasks {
			if task.ID == id {
				cat.Tasks = append(cat.Tasks[:i], cat.Tasks[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTaskID, id)
}

// TaskCount returns the total number of tasks across categories.
func (d *Document) TaskCount() int {
	total := 0
	for _, cat := range d.Categories {
		total += len(cat.Tasks)
	}
	return total
}

// =============================================================================
// COPY AND COMPARE
// =============================================================================

// Clone creates a deep copy of the document.
func (d *Document) Clone() *Document {
	clone := New()
	clone.Name = d.Name
	clone.Description = d.Description
	clone.Stack = append([]string(nil), d.Stack...)
	for _, cat := range d.Categories {
		cc := clone.AddOrGetCategory(cat.Code)
		cc.Name = cat.Name
		cc.nextSeq = cat.nextSeq
		for _, task := range cat.Tasks {
			tc := *task
			cc.Tasks = append(cc.Tasks, &tc)
		}
	}
	return clone
}

// Equal reports whether two documents match in all observable fields:
// metadata, stack order, category order and names, task IDs, text, and
// priorities. Sequence counters are not observable and are not compared.
func (d *Document) Equal(other *Document) bool {
	if other == nil {
		return false
	}
	if d.Name != other.Name || d.Description != other.Description {
		return false
	}
	if len(d.Stack) != len(other.Stack) {
		return false
	}
	for i, tag := range d.Stack {
		if other.Stack[i] != tag {
			return false
		}
	}
	if len(d.Categories) != len(other.Categories) {
		return false
	}
	for i, cat := range d.Categories {
		oc := other.Categories[i]
		if cat.Code != oc.Code || cat.Name != oc.Name || len(cat.Tasks) != len(oc.Tasks) {
			return false
		}
		for j, task := range cat.Tasks {
			ot := oc.Tasks[j]
			if task.ID != ot.ID || task.Text != ot.Text || task.Priority != ot.Priority {
				return false
			}
		}
	}
	return true
}

// Summary returns a one-line progress summary for session listings, e.g.
// "Building: Todo App | Tech: python | Tasks: 4".
func (d *Document) Summary() string {
	var parts []string
	if d.Name != "" {
		parts = append(parts, "Building: "+d.Name)
	}
	if len(d.Stack) > 0 {
		parts = append(parts, "Tech: "+strings.Join(d.Stack, ","))
	}
	if n := d.TaskCount(); n > 0 {
		parts = append(parts, "Tasks: "+util.IntToString(n))
	}
	if len(parts) == 0 {
		return "New PRD"
	}
	return strings.Join(parts, " | ")
}
