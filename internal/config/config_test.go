package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/internal/domain"
	"missionctl/internal/routing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.Routing.Profiles, 4)
	assert.Equal(t, 2, cfg.Routing.Weights.Keyword)
	assert.Equal(t, 3, cfg.Routing.Weights.Affinity)
	assert.Equal(t, 4, cfg.Routing.Weights.Fit)
	assert.Equal(t, 1, cfg.Routing.Weights.Master)
	assert.Equal(t, 20, cfg.Routing.DefaultAssignee.Bonus)
	assert.Equal(t, MatchFirst, cfg.Mentions.MatchMode)
	assert.Equal(t, 10*time.Second, cfg.DispatchTimeout())
	assert.Empty(t, cfg.Dispatch.GatewayURL)
}

func TestFromYAMLAppliesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`routing:
  profiles:
    - id: ops
      keywords: [deploy]
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Routing.MaxReasonTerms)
	assert.Equal(t, 3, cfg.Routing.TopCandidates)
	assert.Equal(t, 5, cfg.Routing.PreviewCandidates)
	assert.Equal(t, 60, cfg.Alerts.RepeatAfterMinutes)
	assert.Equal(t, 2, cfg.Dispatch.Workers)
	assert.Equal(t, 64, cfg.Dispatch.QueueSize)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no profiles": "routing:\n  profiles: []\n",
		"duplicate id": `routing:
  profiles:
    - id: ops
      keywords: [a]
    - id: ops
      keywords: [b]
`,
		"empty term": `routing:
  profiles:
    - id: ops
      keywords: ["  "]
`,
		"bad mode": `routing:
  profiles:
    - id: ops
      keywords: [a]
mentions:
  match_mode: fuzzy
`,
		"negative weight": `routing:
  weights:
    keyword: -1
  profiles:
    - id: ops
      keywords: [a]
`,
		"default assignee without triggers": `routing:
  default_assignee:
    name: builder
    triggers: []
  profiles:
    - id: ops
      keywords: [a]
`,
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndLoadOptional(t *testing.T) {
	ws := t.TempDir()
	_, err := Load(ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missionctl config init")

	cfg, err := LoadOptional(ws)
	require.NoError(t, err)
	assert.Len(t, cfg.Routing.Profiles, 4)

	require.NoError(t, os.WriteFile(filepath.Join(ws, "missionctl.yml"), []byte(GenerateDefault()), 0o644))
	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, cfg.Routing.Profiles, loaded.Routing.Profiles)
	assert.Equal(t, filepath.Join(ws, "missionctl.yml"), Path(ws))
}

func TestCatalogOnlyFileKeepsDefaultScoring(t *testing.T) {
	cfg, err := FromYAML([]byte(`routing:
  profiles:
    - id: ops
      keywords: [api, deploy, script, fix]
      affinity_hints: [backend, engineer]
`))
	require.NoError(t, err)
	assert.Len(t, cfg.Routing.Profiles, 1)
	assert.Equal(t, routing.Weights{Keyword: 2, Affinity: 3, Fit: 4, Master: 1}, cfg.Routing.Weights)
	assert.Equal(t, "platform builder pro", cfg.Routing.DefaultAssignee.Name)
	assert.Equal(t, []string{"api", "backend", "platform"}, cfg.Routing.DefaultAssignee.Triggers)
	assert.Equal(t, 20, cfg.Routing.DefaultAssignee.Bonus)
	assert.True(t, cfg.Alerts.Mark)

	m := routing.NewMatcher(cfg.Routing)
	text := "fix api deploy script"
	pbp, _ := m.Score(text, domain.Agent{Name: "Platform Builder Pro", Role: "backend"})
	scout, _ := m.Score(text, domain.Agent{Name: "News Scout", Role: "research"})
	assert.Greater(t, pbp, scout)
	assert.Greater(t, pbp, 0)
}

func TestExplicitValuesOverrideDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`routing:
  weights:
    keyword: 5
  default_assignee:
    bonus: 7
alerts:
  mark: false
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Routing.Weights.Keyword)
	assert.Equal(t, 3, cfg.Routing.Weights.Affinity)
	assert.Equal(t, 7, cfg.Routing.DefaultAssignee.Bonus)
	assert.Equal(t, "platform builder pro", cfg.Routing.DefaultAssignee.Name)
	assert.False(t, cfg.Alerts.Mark)
	assert.Len(t, cfg.Routing.Profiles, 4)
}
