package clihooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agent-relay/broker/internal/logging"
)

// claudeHook writes a --mcp-config file describing the relaycast MCP
// server. The per-agent token is never inlined into this JSON; the child
// reads it from the workspace credential cache file instead.
type claudeHook struct {
	log *logging.Logger
}

type mcpConfigFile struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func (h *claudeHook) Prepare(ctx context.Context, sc SpawnContext) (Result, error) {
	cfg := mcpConfigFile{
		MCPServers: map[string]mcpServerEntry{
			"relaycast": {Type: "sse", URL: relaycastSSEURL(sc.RelayPort)},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Result{}, err
	}

	path := filepath.Join(sc.WorkDir, ".agent-relay-mcp.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Result{}, err
	}

	// The agent token goes into the workspace credential cache, not into
	// this file. internal/mcpserver does not read that cache: it authorizes
	// tool calls against the same token held in the agent's registry record.
	if err := writeCredentialCache(sc.WorkDir, sc.Credentials); err != nil {
		return Result{}, err
	}

	h.log.WithAgentName(sc.Credentials.AgentName).Debug("wrote claude mcp config")
	return Result{
		ExtraArgs: []string{"--mcp-config", path},
		ExtraEnv:  baseEnv(sc),
	}, nil
}

// credentialCache is the per-workspace file mapping agent name to its
// token, so the token never has to be inlined into a CLI's own config
// file. Nothing in the broker reads it back.
type credentialCache struct {
	Agents map[string]string `json:"agents"` // agent name -> agent token
}

func writeCredentialCache(workDir string, c Credentials) error {
	path := filepath.Join(workDir, ".agent-relay-credentials.json")
	cache := credentialCache{Agents: map[string]string{}}
	if existing, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(existing, &cache)
	}
	if cache.Agents == nil {
		cache.Agents = map[string]string{}
	}
	cache.Agents[c.AgentName] = c.AgentToken
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
