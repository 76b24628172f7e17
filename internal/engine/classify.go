// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"strings"
	"unicode"

	"github.com/Snail3D/prplbry/internal/prd"
)

// classifierRule binds a keyword set to a taxonomy code. Rules are evaluated
// in order and the first match wins, so the table order is part of the
// observable behavior.
type classifierRule struct {
	Code     string
	Keywords []string
}

// classifierRules routes feature text to categories. SEC outranks API so
// "secure the api endpoints" lands in security. Anything unmatched falls
// through to the default category; that is not an error.
var classifierRules = []classifierRule{
	{Code: "SEC", Keywords: []string{
		"security", "secure", "auth", "authentication", "login", "password",
		"encrypt", "encryption", "permission", "permissions", "token", "csrf",
	}},
	{Code: "TEST", Keywords: []string{
		"test", "tests", "testing", "qa", "coverage",
	}},
	{Code: "API", Keywords: []string{
		"api", "endpoint", "endpoints", "rest", "graphql", "webhook",
		"webhooks", "integration",
	}},
	{Code: "SET", Keywords: []string{
		"setup", "install", "deploy", "deployment", "docker", "migration",
		"ci", "pipeline",
	}},
}

// ClassifyFeature maps free feature text to a category code using whole-word
// matching against the ordered rule table. Unmatched text goes to the default
// category.
func ClassifyFeature(text string) string {
	words := splitWords(text)
	for _, rule := range classifierRules {
		for _, kw := range rule.Keywords {
			if words[kw] {
				return rule.Code
			}
		}
	}
	return prd.DefaultCategoryCode
}

// splitWords lowercases text and splits it into a word set on any
// non-alphanumeric boundary.
func splitWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words
}
