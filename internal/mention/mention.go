// Package mention turns @handles in comment text into agent targets.
package mention

import (
	"regexp"
	"strings"

	"missionctl/internal/domain"
)

const (
	// ModeFirst matches a token to the first agent, in listing order, whose
	// normalized name equals or contains it.
	ModeFirst = "first"
	// ModeStrict prefers an exact normalized match and leaves a token
	// unresolved when it is only a substring of several names.
	ModeStrict = "strict"
)

var handlePattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// Target is one resolved recipient.
type Target struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Extract returns the raw handles in order of appearance, without the @.
func Extract(text string) []string {
	matches := handlePattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Normalize lower-cases s and drops everything outside [a-z0-9].
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve maps every handle in text to at most one agent. Each agent appears
// once in the result, in the order it was first matched. Unknown handles are
// skipped.
func Resolve(text string, agents []domain.Agent, mode string) []Target {
	tokens := Extract(text)
	if len(tokens) == 0 || len(agents) == 0 {
		return nil
	}
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = Normalize(a.Name)
	}
	var out []Target
	seen := map[string]bool{}
	for _, tok := range tokens {
		norm := Normalize(tok)
		if norm == "" {
			continue
		}
		var idx int
		if mode == ModeStrict {
			idx = matchStrict(norm, names)
		} else {
			idx = matchFirst(norm, names)
		}
		if idx < 0 || seen[agents[idx].ID] {
			continue
		}
		seen[agents[idx].ID] = true
		out = append(out, Target{ID: agents[idx].ID, Name: agents[idx].Name})
	}
	return out
}

func matchFirst(token string, names []string) int {
	for i, n := range names {
		if n == token || strings.Contains(n, token) {
			return i
		}
	}
	return -1
}

func matchStrict(token string, names []string) int {
	for i, n := range names {
		if n == token {
			return i
		}
	}
	found := -1
	for i, n := range names {
		if !strings.Contains(n, token) {
			continue
		}
		if found >= 0 {
			return -1
		}
		found = i
	}
	return found
}
