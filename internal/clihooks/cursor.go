package clihooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agent-relay/broker/internal/logging"
)

// cursorHook writes a cursor-specific MCP config file. The canonical name
// "cursor" must never collapse to "agent" at this point — Normalize already
// ran the other direction.
type cursorHook struct {
	log *logging.Logger
}

type cursorConfig struct {
	MCPServers map[string]cursorMCPEntry `json:"mcpServers"`
}

type cursorMCPEntry struct {
	URL   string            `json:"url"`
	Token string            `json:"token,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

func (h *cursorHook) Prepare(ctx context.Context, sc SpawnContext) (Result, error) {
	c := sc.Credentials
	cfg := cursorConfig{
		MCPServers: map[string]cursorMCPEntry{
			"relaycast": {
				URL:   relaycastSSEURL(sc.RelayPort),
				Token: c.AgentToken,
				Env: map[string]string{
					"RELAY_AGENT_NAME": c.AgentName,
				},
			},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Result{}, err
	}
	path := filepath.Join(sc.WorkDir, ".cursor-mcp.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Result{}, err
	}
	h.log.WithAgentName(c.AgentName).Debug("wrote cursor mcp config")
	return Result{ExtraEnv: baseEnv(sc)}, nil
}
