package clihooks

import (
	"context"

	"github.com/agent-relay/broker/internal/logging"
)

// codexHook appends repeated --config key=value flags that inline the
// credentials directly, since Codex reads its MCP/env configuration from
// -c flags at startup rather than a file.
type codexHook struct {
	log *logging.Logger
}

func (h *codexHook) Prepare(ctx context.Context, sc SpawnContext) (Result, error) {
	c := sc.Credentials
	args := []string{
		"--config", "mcp_servers.relaycast.url=" + relaycastSSEURL(sc.RelayPort),
		"--config", "env.RELAY_API_KEY=" + c.APIKey,
		"--config", "env.RELAY_BASE_URL=" + c.BaseURL,
		"--config", "env.RELAY_AGENT_NAME=" + c.AgentName,
		"--config", "env.RELAY_AGENT_TOKEN=" + c.AgentToken,
	}
	h.log.WithAgentName(c.AgentName).Debug("prepared codex config flags")
	return Result{ExtraArgs: args, ExtraEnv: baseEnv(sc)}, nil
}
