package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/internal/config"
	"missionctl/internal/engine"
	"missionctl/internal/observability"
)

func TestOpenWithDefaults(t *testing.T) {
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), Logger: observability.Discard()})
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.DispatchEnabled())
	assert.Nil(t, a.Engine.Dispatch)
	assert.Equal(t, 60, a.Config.Alerts.RepeatAfterMinutes)
	p, err := a.NewPoller()
	require.NoError(t, err)
	assert.Nil(t, p)

	agent, err := a.Engine.CreateAgent(context.Background(), engine.AgentCreateOptions{Name: "Ops Engineer", Role: "ops"})
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
}

func TestOpenWiresDispatchAndPoller(t *testing.T) {
	ws := t.TempDir()
	yml := strings.Replace(config.GenerateDefault(), `gateway_url: ""`, `gateway_url: "http://127.0.0.1:1"`, 1)
	yml = strings.Replace(yml, `schedule: ""`, `schedule: "@every 5m"`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "missionctl.yml"), []byte(yml), 0o644))

	a, err := Open(context.Background(), Options{Workspace: ws, Logger: observability.Discard()})
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.DispatchEnabled())
	assert.NotNil(t, a.Engine.Dispatch)
	p, err := a.NewPoller()
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestGatewayOverrideAndNoDispatch(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: ws, GatewayURL: "http://gw.local", NoDispatch: true, Logger: observability.Discard()})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "http://gw.local", a.Config.Dispatch.GatewayURL)
	assert.False(t, a.DispatchEnabled())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "missionctl.yml"), []byte("mentions:\n  match_mode: fuzzy\nrouting:\n  profiles: []\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws})
	require.Error(t, err)
}
