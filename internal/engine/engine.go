// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Snail3D/prplbry/internal/model"
	"github.com/Snail3D/prplbry/internal/prd"
	"github.com/Snail3D/prplbry/internal/util"
)

// =============================================================================
// STEPS
// =============================================================================

// Step is the position in the PRD-building script.
type Step int

const (
	// StepVision waits for the project description.
	StepVision Step = iota
	// StepStack waits for the tech stack.
	StepStack
	// StepFeatures collects feature messages until a completion utterance.
	StepFeatures
	// StepPriorities accepts priority and removal commands until done.
	StepPriorities
	// StepDone is terminal. Further messages mutate nothing.
	StepDone
)

var stepNames = map[Step]string{
	StepVision:     "awaiting_vision",
	StepStack:      "awaiting_stack",
	StepFeatures:   "awaiting_features",
	StepPriorities: "awaiting_priorities",
	StepDone:       "done",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStep restores a Step from its wire name, used when loading a saved
// session. Unknown names fall back to the first step.
func ParseStep(name string) (Step, bool) {
	for s, n := range stepNames {
		if n == name {
			return s, true
		}
	}
	return StepVision, false
}

// =============================================================================
// LIMITS AND ERRORS
// =============================================================================

const (
	// MaxNameRunes caps the inferred project name.
	MaxNameRunes = 100
	// MaxDescriptionRunes caps the stored project description.
	MaxDescriptionRunes = 1000
)

// ErrEmptyInput is returned when a message is empty after normalization.
// The document is untouched and the message should not enter the log.
var ErrEmptyInput = errors.New("empty input")

// =============================================================================
// DRIVER
// =============================================================================

// Result is the outcome of advancing the script by one user message.
type Result struct {
	// Step after the message was applied.
	Step Step
	// Reply is the assistant response to show and log.
	Reply string
	// TaskIDs lists tasks created by this message, in creation order.
	TaskIDs []string
}

// Driver advances the script. It is stateless: all state lives in the
// (step, document) pair the caller holds, which keeps replay trivial.
type Driver struct{}

// NewDriver creates a Driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Greeting is the opening assistant message for a fresh session.
func (dr *Driver) Greeting() string {
	return "What are we building today? Give me a sentence or two about your project."
}

// Advance applies one user message to the document given the current step and
// returns the next step plus the assistant reply. Deterministic: the same
// (step, document, input) always produces the same mutation and reply.
func (dr *Driver) Advance(step Step, doc *prd.Document, input string) (Result, error) {
	input = util.NormalizeInput(input)
	if input == "" {
		return Result{Step: step}, ErrEmptyInput
	}

	switch step {
	case StepVision:
		return dr.advanceVision(doc, input), nil
	case StepStack:
		return dr.advanceStack(doc, input), nil
	case StepFeatures:
		return dr.advanceFeatures(doc, input), nil
	case StepPriorities:
		return dr.advancePriorities(doc, input), nil
	default:
		return Result{
			Step:  StepDone,
			Reply: "This PRD is finished. Reset the session to start a new one.",
		}, nil
	}
}

// Rebuild replays every user message from an empty document and returns the
// resulting document and step. This is how message deletion works: drop the
// message, replay the rest.
func (dr *Driver) Rebuild(messages []*model.Message) (*prd.Document, Step) {
	doc := prd.New()
	step := StepVision
	for _, msg := range messages {
		if msg.Role != model.RoleUser {
			continue
		}
		res, err := dr.Advance(step, doc, msg.Content)
		if err != nil {
			// Empty messages never enter the log; skip defensively.
			continue
		}
		step = res.Step
	}
	return doc, step
}

// =============================================================================
// STEP: VISION
// =============================================================================

// setupSeeds are the High-priority setup tasks every project starts with.
var setupSeeds = []string{
	"Initialize repository and project scaffold",
	"Create environment configuration with secrets outside version control",
}

func (dr *Driver) advanceVision(doc *prd.Document, input string) Result {
	doc.SetDescription(util.TruncateRunes(input, MaxDescriptionRunes))
	doc.SetName(inferProjectName(input))

	var ids []string
	for _, text := range setupSeeds {
		task := doc.AddTask("SET", text, prd.PriorityHigh)
		ids = append(ids, task.ID)
	}

	reply := fmt.Sprintf(
		"%s. I like it. I've added %d setup tasks to get the foundation right.\n\nWhat's the tech stack? (e.g. \"Python, Flask\" or \"python-fastapi\")",
		doc.Name, len(ids))
	return Result{Step: StepStack, Reply: reply, TaskIDs: ids}
}

// inferProjectName takes the first few alphabetic words of the vision
// statement and title-cases them. Falls back to a generic name when the
// statement has no usable words.
func inferProjectName(input string) string {
	var words []string
	for _, w := range strings.Fields(input) {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if trimmed == "" {
			continue
		}
		words = append(words, trimmed)
		if len(words) == 3 {
			break
		}
	}
	if len(words) == 0 {
		return "My Project"
	}
	name := util.TitleWords(strings.ToLower(strings.Join(words, " ")))
	return util.TruncateRunes(name, MaxNameRunes)
}

// =============================================================================
// STEP: STACK
// =============================================================================

// stackPresets expand a single shorthand answer into a full tag set.
var stackPresets = map[string][]string{
	"python-flask":    {"python", "flask", "postgresql"},
	"python-fastapi":  {"python", "fastapi", "postgresql"},
	"javascript-node": {"javascript", "node", "express"},
	"rust-axum":       {"rust", "axum", "sqlite"},
	"go-gin":          {"go", "gin", "postgresql"},
}

func (dr *Driver) advanceStack(doc *prd.Document, input string) Result {
	for _, tag := range parseStackTags(input) {
		doc.AddStackTag(tag)
	}

	reply := fmt.Sprintf(
		"Noted: %s.\n\nNow tell me the features, one message at a time. Say \"done\" when you've covered everything.",
		strings.Join(doc.Stack, ", "))
	return Result{Step: StepFeatures, Reply: reply}
}

// parseStackTags tokenizes a stack answer. A preset key expands to its tag
// set; anything else becomes one tag per token.
func parseStackTags(input string) []string {
	key := strings.ToLower(strings.TrimSpace(input))
	if preset, ok := stackPresets[key]; ok {
		return preset
	}

	tokens := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return r == ',' || r == '/' || r == '+' || r == '&' || unicode.IsSpace(r)
	})
	var tags []string
	for _, tok := range tokens {
		if tok == "and" || tok == "with" || tok == "plus" {
			continue
		}
		if preset, ok := stackPresets[tok]; ok {
			tags = append(tags, preset...)
			continue
		}
		tags = append(tags, tok)
	}
	return tags
}

// =============================================================================
// STEP: FEATURES
// =============================================================================

// securitySeeds are added when the user finishes listing features, so no PRD
// ships without a security section.
var securitySeeds = []string{
	"Store secrets in environment variables, never in code",
	"Validate and sanitize all user input",
}

// featureReplies rotate by task count so consecutive acknowledgements differ
// while staying fully deterministic under replay.
var featureReplies = []string{
	"Added as %s.",
	"Got it, that's %s.",
	"On the list as %s.",
	"%s it is.",
}

func (dr *Driver) advanceFeatures(doc *prd.Document, input string) Result {
	if isCompletionUtterance(input) {
		var ids []string
		for _, text := range securitySeeds {
			task := doc.AddTask("SEC", text, prd.PriorityHigh)
			ids = append(ids, task.ID)
		}
		reply := fmt.Sprintf(
			"PRD drafted: %d tasks across %d categories, security included.\n\nAdjust priorities with \"<task-id> high\" or \"<task-id> medium\", drop tasks with \"remove <task-id>\", or say \"done\" to finish.",
			doc.TaskCount(), len(doc.Categories))
		return Result{Step: StepPriorities, Reply: reply, TaskIDs: ids}
	}

	code := ClassifyFeature(input)
	task := doc.AddTask(code, input, prd.PriorityMedium)

	ack := fmt.Sprintf(featureReplies[doc.TaskCount()%len(featureReplies)], task.ID)
	reply := fmt.Sprintf("%s Total tasks: %d. What else? (\"done\" when finished)",
		ack, doc.TaskCount())
	return Result{Step: StepFeatures, Reply: reply, TaskIDs: []string{task.ID}}
}

// completionUtterances end the features loop. Matched against the whole
// message, lowercased, trailing punctuation stripped.
var completionUtterances = map[string]bool{
	"done":       true,
	"ready":      true,
	"generate":   true,
	"finish":     true,
	"finished":   true,
	"that's it":  true,
	"thats it":   true,
	"looks good": true,
	"no more":    true,
	"i'm done":   true,
	"im done":    true,
}

func isCompletionUtterance(input string) bool {
	s := strings.ToLower(util.CollapseWhitespace(input))
	s = strings.TrimRight(s, ".!?")
	return completionUtterances[s]
}

// IsCompletion reports whether a message would end the features loop rather
// than add a task. The session layer uses it to let "done" through the free
// task limit.
func IsCompletion(input string) bool {
	return isCompletionUtterance(util.NormalizeInput(input))
}

// =============================================================================
// STEP: PRIORITIES
// =============================================================================

var taskIDRe = regexp.MustCompile(`^[A-Za-z]+-[0-9]+$`)

func (dr *Driver) advancePriorities(doc *prd.Document, input string) Result {
	if isCompletionUtterance(input) {
		reply := fmt.Sprintf(
			"Done. %s is ready: %d tasks. Export the PRD and hand it to your coding agent.",
			doc.Name, doc.TaskCount())
		return Result{Step: StepDone, Reply: reply}
	}

	applied, unknown := applyPriorityCommands(doc, input)
	if len(applied) == 0 && len(unknown) == 0 {
		return Result{
			Step:  StepPriorities,
			Reply: "I didn't catch a command. Use \"<task-id> high\", \"<task-id> medium\", \"remove <task-id>\", or \"done\".",
		}
	}

	var parts []string
	if len(applied) > 0 {
		parts = append(parts, "Updated "+strings.Join(applied, ", ")+".")
	}
	for _, id := range unknown {
		parts = append(parts, fmt.Sprintf("No task %s exists; nothing changed for it.", id))
	}
	parts = append(parts, "Anything else, or \"done\"?")
	return Result{Step: StepPriorities, Reply: strings.Join(parts, " ")}
}

// applyPriorityCommands parses comma-separated clauses of the forms
// "<id> <priority>" and "remove <id>". Unknown task IDs are reported and
// skipped; they never abort the other clauses.
func applyPriorityCommands(doc *prd.Document, input string) (applied, unknown []string) {
	for _, clause := range strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		fields := strings.Fields(clause)
		if len(fields) < 2 {
			continue
		}

		head := strings.ToLower(fields[0])
		if head == "remove" || head == "delete" || head == "drop" {
			id := strings.ToUpper(fields[len(fields)-1])
			if !taskIDRe.MatchString(id) {
				continue
			}
			if err := doc.RemoveTask(id); err != nil {
				unknown = append(unknown, id)
				continue
			}
			applied = append(applied, id)
			continue
		}

		id := strings.ToUpper(fields[0])
		pri, ok := prd.ParsePriority(fields[len(fields)-1])
		if !taskIDRe.MatchString(id) || !ok {
			continue
		}
		if err := doc.SetTaskPriority(id, pri); err != nil {
			unknown = append(unknown, id)
			continue
		}
		applied = append(applied, id)
	}
	return applied, unknown
}

// Prompt returns the standing question for a step, used when re-showing a
// restored session.
func (dr *Driver) Prompt(step Step) string {
	switch step {
	case StepVision:
		return dr.Greeting()
	case StepStack:
		return "What's the tech stack?"
	case StepFeatures:
		return "What features do you need? Say \"done\" when finished."
	case StepPriorities:
		return "Adjust priorities or say \"done\" to finish."
	default:
		return "This PRD is finished. Reset the session to start a new one."
	}
}
