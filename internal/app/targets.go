package app

import (
	"context"

	"goprof/internal/agent"
)

var discoverAgents = agent.Discover

// Targets lists the programs with a running agent for the current user.
func (a *App) Targets(ctx context.Context) ([]Target, error) {
	return discoverAgents(ctx)
}
