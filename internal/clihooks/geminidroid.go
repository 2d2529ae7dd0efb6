package clihooks

import (
	"context"

	"github.com/agent-relay/broker/internal/logging"
)

// mcpAddHook runs a one-shot "<cli> mcp add ..." pre-spawn command for
// Gemini and Droid, whose --env arguments must include all six of
// RELAY_API_KEY, RELAY_BASE_URL, RELAY_AGENT_NAME, RELAY_AGENT_TYPE,
// RELAY_STRICT_AGENT_NAME, and RELAY_AGENT_TOKEN. Missing any of those is
// a bug.
type mcpAddHook struct {
	cli string
	log *logging.Logger
}

func (h *mcpAddHook) Prepare(ctx context.Context, sc SpawnContext) (Result, error) {
	args := mcpAddArgs(sc)
	if err := runPreCommand(ctx, h.cli, args, sc.WorkDir, baseEnv(sc)); err != nil {
		return Result{}, err
	}
	h.log.WithAgentName(sc.Credentials.AgentName).Debug("ran mcp add pre-command")
	return Result{ExtraEnv: baseEnv(sc)}, nil
}

// mcpAddArgs builds the "<cli> mcp add ..." argv, pulled out of Prepare so
// the six mandatory --env entries can be asserted without spawning a
// process.
func mcpAddArgs(sc SpawnContext) []string {
	c := sc.Credentials
	return []string{
		"mcp", "add", "relaycast",
		"--url", relaycastSSEURL(sc.RelayPort),
		"--env", "RELAY_API_KEY=" + c.APIKey,
		"--env", "RELAY_BASE_URL=" + c.BaseURL,
		"--env", "RELAY_AGENT_NAME=" + c.AgentName,
		"--env", "RELAY_AGENT_TYPE=" + c.AgentType,
		"--env", "RELAY_STRICT_AGENT_NAME=" + c.AgentName,
		"--env", "RELAY_AGENT_TOKEN=" + c.AgentToken,
	}
}
