package routing

import (
	"errors"
	"sort"

	"missionctl/internal/domain"
)

// ErrNoCandidates is returned when there is nobody to route to.
var ErrNoCandidates = errors.New("no available agents")

// Result is a routing decision for one task.
type Result struct {
	Task     domain.Task              `json:"task"`
	Selected domain.RoutingDecision   `json:"selected"`
	Ranked   []domain.RoutingDecision `json:"ranked"`
}

// Rank scores every candidate and orders them by score, master agents
// first among equal scores, listing order otherwise. Offline agents are
// expected to have been filtered out by the caller.
func Rank(m Matcher, task domain.Task, agents []domain.Agent) (Result, error) {
	if len(agents) == 0 {
		return Result{}, ErrNoCandidates
	}
	text := task.RoutingText()
	ranked := make([]domain.RoutingDecision, 0, len(agents))
	for _, a := range agents {
		score, reasons := m.Score(text, a)
		ranked = append(ranked, domain.RoutingDecision{
			AgentID:   a.ID,
			AgentName: a.Name,
			Score:     score,
			Reasons:   reasons,
			IsMaster:  a.IsMaster,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].IsMaster && !ranked[j].IsMaster
	})
	return Result{Task: task, Selected: ranked[0], Ranked: ranked}, nil
}

// Top returns at most n leading entries of ranked.
func Top(ranked []domain.RoutingDecision, n int) []domain.RoutingDecision {
	if n <= 0 || n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}
