package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/internal/domain"
)

func TestExtract(t *testing.T) {
	assert.Equal(t, []string{"alpha", "beta-2", "g_h"}, Extract("hey @alpha, @beta-2 and @g_h!"))
	assert.Empty(t, Extract("no handles here, just an email a @ b"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "platformbuilderpro", Normalize("Platform Builder-Pro"))
	assert.Equal(t, "", Normalize("__--"))
}

func TestResolveUnknownHandleIsIgnored(t *testing.T) {
	agents := []domain.Agent{{ID: "1", Name: "Platform Builder Pro"}}
	got := Resolve("ping @PlatformBuilderPro and @unknownzzz", agents, ModeFirst)
	require.Len(t, got, 1)
	assert.Equal(t, Target{ID: "1", Name: "Platform Builder Pro"}, got[0])
}

func TestResolveSubstringAndDedupe(t *testing.T) {
	agents := []domain.Agent{
		{ID: "a", Name: "News Scout"},
		{ID: "b", Name: "Ops Engineer"},
	}
	got := Resolve("@scout @NewsScout @ops", agents, ModeFirst)
	assert.Equal(t, []Target{{ID: "a", Name: "News Scout"}, {ID: "b", Name: "Ops Engineer"}}, got)
}

func TestResolveSkipsEmptyTokens(t *testing.T) {
	agents := []domain.Agent{{ID: "a", Name: "Anyone"}}
	assert.Empty(t, Resolve("@__ @--", agents, ModeFirst))
}

func TestResolveFirstModePicksListingOrder(t *testing.T) {
	agents := []domain.Agent{
		{ID: "a", Name: "Dev Alpha"},
		{ID: "b", Name: "Dev"},
	}
	got := Resolve("@dev", agents, ModeFirst)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestResolveStrictMode(t *testing.T) {
	agents := []domain.Agent{
		{ID: "a", Name: "Dev Alpha"},
		{ID: "b", Name: "Dev"},
		{ID: "c", Name: "Dev Beta"},
	}
	got := Resolve("@dev", agents, ModeStrict)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID, "exact match wins over substring")

	got = Resolve("@alp", agents, ModeStrict)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	got = Resolve("@de", agents[:1], ModeStrict)
	require.Len(t, got, 1, "single substring match resolves")
	assert.Empty(t, Resolve("@ev", []domain.Agent{{ID: "a", Name: "Dev Alpha"}, {ID: "c", Name: "Dev Beta"}}, ModeStrict), "ambiguous substring stays unresolved")
}
