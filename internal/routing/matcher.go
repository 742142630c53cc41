// Package routing scores agents against a task and ranks the candidates.
// Everything here is pure: no store access, no clock.
package routing

import (
	"fmt"
	"strings"

	"missionctl/internal/domain"
)

// Profile is one entry of the routing catalog. Keywords are matched
// against task text, affinity hints against agent text.
type Profile struct {
	ID            string   `yaml:"id" json:"id"`
	Keywords      []string `yaml:"keywords" json:"keywords"`
	AffinityHints []string `yaml:"affinity_hints" json:"affinity_hints"`
}

// DefaultAssignee boosts one named agent when the task text contains any trigger.
type DefaultAssignee struct {
	Name     string   `yaml:"name" json:"name"`
	Triggers []string `yaml:"triggers" json:"triggers"`
	Bonus    int      `yaml:"bonus" json:"bonus"`
	Tag      string   `yaml:"tag" json:"tag"`
}

type Weights struct {
	Keyword  int `yaml:"keyword" json:"keyword"`
	Affinity int `yaml:"affinity" json:"affinity"`
	Fit      int `yaml:"fit" json:"fit"`
	Master   int `yaml:"master" json:"master"`
}

// Settings is the operator-maintained routing configuration.
type Settings struct {
	Profiles          []Profile       `yaml:"profiles" json:"profiles"`
	Weights           Weights         `yaml:"weights" json:"weights"`
	DefaultAssignee   DefaultAssignee `yaml:"default_assignee" json:"default_assignee"`
	MaxReasonTerms    int             `yaml:"max_reason_terms" json:"max_reason_terms"`
	TopCandidates     int             `yaml:"top_candidates" json:"top_candidates"`
	PreviewCandidates int             `yaml:"preview_candidates" json:"preview_candidates"`
}

// Matcher holds an immutable copy of the catalog.
type Matcher struct {
	profiles       []Profile
	weights        Weights
	assignee       DefaultAssignee
	maxReasonTerms int
}

// NewMatcher copies and lower-cases the catalog so later edits to s cannot leak in.
func NewMatcher(s Settings) Matcher {
	profiles := make([]Profile, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		profiles = append(profiles, Profile{
			ID:            p.ID,
			Keywords:      lowerAll(p.Keywords),
			AffinityHints: lowerAll(p.AffinityHints),
		})
	}
	assignee := DefaultAssignee{
		Name:     strings.ToLower(strings.TrimSpace(s.DefaultAssignee.Name)),
		Triggers: lowerAll(s.DefaultAssignee.Triggers),
		Bonus:    s.DefaultAssignee.Bonus,
		Tag:      s.DefaultAssignee.Tag,
	}
	if assignee.Tag == "" {
		assignee.Tag = "default-assignee"
	}
	maxTerms := s.MaxReasonTerms
	if maxTerms <= 0 {
		maxTerms = 3
	}
	return Matcher{
		profiles:       profiles,
		weights:        s.Weights,
		assignee:       assignee,
		maxReasonTerms: maxTerms,
	}
}

// Profiles returns a copy of the catalog in scoring order.
func (m Matcher) Profiles() []Profile {
	out := make([]Profile, len(m.profiles))
	copy(out, m.profiles)
	return out
}

// AgentText is the lower-cased text affinity hints are matched against.
func AgentText(a domain.Agent) string {
	return strings.ToLower(a.Name + " " + a.Role + " " + a.Description)
}

// Score rates how well agent fits taskText, which must already be lower-cased.
func (m Matcher) Score(taskText string, agent domain.Agent) (int, []string) {
	score := 0
	reasons := []string{}
	agentText := AgentText(agent)

	if m.assignee.Name != "" && strings.ToLower(agent.Name) == m.assignee.Name && len(hits(taskText, m.assignee.Triggers)) > 0 {
		score += m.assignee.Bonus
		reasons = append(reasons, fmt.Sprintf("%s: prioritized for %s tasks", m.assignee.Tag, strings.Join(m.assignee.Triggers, "/")))
	}

	for _, p := range m.profiles {
		keywordHits := hits(taskText, p.Keywords)
		affinityHits := hits(agentText, p.AffinityHints)
		if len(keywordHits) > 0 {
			score += len(keywordHits) * m.weights.Keyword
			reasons = append(reasons, fmt.Sprintf("%s: keyword match (%s)", p.ID, m.firstTerms(keywordHits)))
		}
		if len(affinityHits) > 0 {
			score += len(affinityHits) * m.weights.Affinity
			reasons = append(reasons, fmt.Sprintf("%s: agent affinity (%s)", p.ID, m.firstTerms(affinityHits)))
		}
		if len(keywordHits) > 0 && len(affinityHits) > 0 {
			score += m.weights.Fit
			reasons = append(reasons, fmt.Sprintf("%s: strong profile fit", p.ID))
		}
	}

	if agent.IsMaster {
		score += m.weights.Master
	}
	return score, reasons
}

func (m Matcher) firstTerms(terms []string) string {
	if len(terms) > m.maxReasonTerms {
		terms = terms[:m.maxReasonTerms]
	}
	return strings.Join(terms, ", ")
}

// hits returns the terms contained in text as substrings, in term order.
func hits(text string, terms []string) []string {
	var out []string
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			out = append(out, term)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
