package clihooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agent-relay/broker/internal/logging"
)

// opencodeHook writes opencode.json in the child's working directory with
// an mcp.relaycast block whose env map carries the full credential set
// including RELAY_AGENT_TOKEN. writeOpencodeConfig takes Credentials
// directly, never a partial view, so the token can never be dropped.
type opencodeHook struct {
	log *logging.Logger
}

type opencodeConfig struct {
	MCP map[string]opencodeMCPEntry `json:"mcp"`
}

type opencodeMCPEntry struct {
	Type string            `json:"type"`
	URL  string            `json:"url"`
	Env  map[string]string `json:"env"`
}

func (h *opencodeHook) Prepare(ctx context.Context, sc SpawnContext) (Result, error) {
	path := filepath.Join(sc.WorkDir, "opencode.json")
	if err := writeOpencodeConfig(path, sc); err != nil {
		return Result{}, err
	}
	h.log.WithAgentName(sc.Credentials.AgentName).Debug("wrote opencode config")
	return Result{
		ExtraArgs: []string{"--agent", "relaycast"},
		ExtraEnv:  baseEnv(sc),
	}, nil
}

func writeOpencodeConfig(path string, sc SpawnContext) error {
	c := sc.Credentials
	cfg := opencodeConfig{
		MCP: map[string]opencodeMCPEntry{
			"relaycast": {
				Type: "sse",
				URL:  relaycastSSEURL(sc.RelayPort),
				Env: map[string]string{
					"RELAY_API_KEY":    c.APIKey,
					"RELAY_BASE_URL":   c.BaseURL,
					"RELAY_AGENT_NAME": c.AgentName,
					// every call site writing this config must pass the agent
					// token; omitting it is a bug.
					"RELAY_AGENT_TOKEN": c.AgentToken,
				},
			},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
