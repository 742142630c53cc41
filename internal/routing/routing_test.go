package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/internal/domain"
)

func testSettings() Settings {
	return Settings{
		Weights: Weights{Keyword: 2, Affinity: 3, Fit: 4, Master: 1},
		DefaultAssignee: DefaultAssignee{
			Name:     "Platform Builder Pro",
			Triggers: []string{"api", "backend", "platform"},
			Bonus:    20,
			Tag:      "platform-default",
		},
		Profiles: []Profile{
			{ID: "ops", Keywords: []string{"api", "deploy", "script", "fix", "build"}, AffinityHints: []string{"ops", "backend", "dev"}},
			{ID: "briefing", Keywords: []string{"summary", "digest"}, AffinityHints: []string{"editor", "writer"}},
		},
	}
}

func TestScoreReasonsAndWeights(t *testing.T) {
	m := NewMatcher(testSettings())
	agent := domain.Agent{Name: "Platform Builder Pro", Role: "backend"}

	score, reasons := m.Score("fix api deploy script", agent)
	// override 20 + 4 keywords*2 + 1 affinity*3 + fit 4
	assert.Equal(t, 35, score)
	assert.Equal(t, []string{
		"platform-default: prioritized for api/backend/platform tasks",
		"ops: keyword match (api, deploy, script)",
		"ops: agent affinity (backend)",
		"ops: strong profile fit",
	}, reasons)
}

func TestScoreIsDeterministic(t *testing.T) {
	m := NewMatcher(testSettings())
	agent := domain.Agent{Name: "Ops Dev", Role: "ops", IsMaster: true}
	s1, r1 := m.Score("build summary digest", agent)
	s2, r2 := m.Score("build summary digest", agent)
	assert.Equal(t, s1, s2)
	assert.Equal(t, r1, r2)
}

func TestScoreNoMatch(t *testing.T) {
	m := NewMatcher(testSettings())
	score, reasons := m.Score("water the plants", domain.Agent{Name: "Gardener"})
	assert.Equal(t, 0, score)
	assert.Empty(t, reasons)

	score, reasons = m.Score("water the plants", domain.Agent{Name: "Gardener", IsMaster: true})
	assert.Equal(t, 1, score)
	assert.Empty(t, reasons, "master bonus adds no reason")
}

func TestMatcherCopiesCatalog(t *testing.T) {
	s := testSettings()
	m := NewMatcher(s)
	s.Profiles[0].Keywords[0] = "zzz"
	score, _ := m.Score("api", domain.Agent{Name: "x"})
	assert.Equal(t, 2, score)
	assert.Equal(t, "api", m.Profiles()[0].Keywords[0])
}

func TestRankTieBreaksOnMasterThenListingOrder(t *testing.T) {
	s := testSettings()
	s.Weights.Master = 0
	m := NewMatcher(s)
	agents := []domain.Agent{
		{ID: "a", Name: "First"},
		{ID: "b", Name: "Second"},
		{ID: "c", Name: "Chief", IsMaster: true},
		{ID: "d", Name: "Writer"},
	}
	res, err := Rank(m, domain.Task{Title: "Weekly summary"}, agents)
	require.NoError(t, err)
	ids := []string{}
	for _, d := range res.Ranked {
		ids = append(ids, d.AgentID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
	assert.Equal(t, "d", res.Selected.AgentID)
}

func TestRankRequiresCandidates(t *testing.T) {
	_, err := Rank(NewMatcher(testSettings()), domain.Task{Title: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestTop(t *testing.T) {
	ranked := []domain.RoutingDecision{{AgentID: "a"}, {AgentID: "b"}, {AgentID: "c"}}
	assert.Len(t, Top(ranked, 2), 2)
	assert.Len(t, Top(ranked, 5), 3)
}
