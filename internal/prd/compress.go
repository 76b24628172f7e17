// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package prd

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// COMPRESSION LEGEND
// =============================================================================

// CompressionLegend is the decode table prepended to every compressed block.
// The downstream coding agent reads it before the JSON body.
const CompressionLegend = `=== PRD LEGEND (decode before reading) ===
KEYS: pn=project_name pd=project_description ts=tech_stack
      p=prds n=name t=tasks ti=title pr=priority
PHRASES: C=Create I=Install R=Run T=Test V=Verify env=environment
         var=variable cfg=config db=database req=required opt=optional
         impl=implement dep=dependencies auth=authentication sec=security

=== BUILD LOOP (how to use this PRD) ===
1. START: Work categories in order: SEC -> SET -> CORE -> API -> TEST
2. LOOP: Pick the highest priority incomplete task
3. BUILD: Implement the task per its title
4. TEST: Verify it works
5. COMMIT: Reference the task id in the commit message (e.g. "SEC-001: ...")
6. REPEAT: Until every task is complete
===`

// phrasePairs is the ordered phrase compression table. Order matters: longer
// phrases first so partial overlaps compress the long form.
var phrasePairs = []struct {
	long  string
	short string
}{
	{"authentication", "auth"},
	{"configuration", "cfg"},
	{"dependencies", "dep"},
	{"environment", "env"},
	{"implement", "impl"},
	{"database", "db"},
	{"required", "req"},
	{"optional", "opt"},
	{"security", "sec"},
	{"variable", "var"},
	{"Create ", "C "},
	{"Install ", "I "},
	{"Verify ", "V "},
	{"Test ", "T "},
	{"Run ", "R "},
}

// compressPhrases applies the phrase table to a string value. Deterministic:
// the table is applied in declaration order.
func compressPhrases(s string) string {
	for _, p := range phrasePairs {
		s = strings.ReplaceAll(s, p.long, p.short)
	}
	return s
}

// =============================================================================
// COMPRESSED BLOCK
// =============================================================================

// compressedTask mirrors a Task with abbreviated keys.
type compressedTask struct {
	ID       string `json:"id"`
	Title    string `json:"ti"`
	Priority string `json:"pr"`
}

// compressedCategory mirrors a Category with abbreviated keys.
type compressedCategory struct {
	Name  string           `json:"n"`
	Tasks []compressedTask `json:"t"`
}

// compressedDocument is the abbreviated wire shape of a whole document.
type compressedDocument struct {
	ProjectName string                        `json:"pn"`
	Description string                        `json:"pd"`
	TechStack   []string                      `json:"ts"`
	PRDs        map[string]compressedCategory `json:"p"`
}

// CompressedBlock renders the complete copiable agent block: legend header
// plus the key-abbreviated, phrase-compressed JSON body. This is the live
// preview shown next to the chat and the payload handed to the downstream
// coding agent. JSON map keys encode in sorted order, so the block is
// deterministic for a given document.
func CompressedBlock(d *Document) string {
	cd := compressedDocument{
		ProjectName: compressPhrases(d.Name),
		Description: compressPhrases(d.Description),
		TechStack:   append([]string(nil), d.Stack...),
		PRDs:        make(map[string]compressedCategory, len(d.Categories)),
	}
	if cd.TechStack == nil {
		cd.TechStack = []string{}
	}

	for _, cat := range d.Categories {
		cc := compressedCategory{
			Name:  cat.Name,
			Tasks: make([]compressedTask, 0, len(cat.Tasks)),
		}
		for _, task := range cat.Tasks {
			cc.Tasks = append(cc.Tasks, compressedTask{
				ID:       task.ID,
				Title:    compressPhrases(task.Text),
				Priority: string(task.Priority),
			})
		}
		cd.PRDs[cat.Code] = cc
	}

	body, err := json.MarshalIndent(cd, "", "  ")
	if err != nil {
		// A document is plain strings and slices; marshal cannot fail.
		return CompressionLegend
	}
	return CompressionLegend + "\n\n" + string(body)
}
