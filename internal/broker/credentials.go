package broker

import (
	"github.com/google/uuid"

	"github.com/agent-relay/broker/internal/clihooks"
)

// issueCredentials allocates the per-agent credential bundle: a shared
// machine/project/workspace identity for this broker instance, plus a
// freshly minted agent_id/agent_token pair that belongs to name alone.
// The agent token written into each assistant's configuration belongs to
// that agent, never the workspace-wide API key masquerading as one.
func (b *Broker) issueCredentials(name string, flavor clihooks.Flavor) clihooks.Credentials {
	return clihooks.Credentials{
		MachineID:   b.machineID,
		ProjectID:   b.projectID,
		WorkspaceID: b.workspaceID,
		AgentID:     uuid.NewString(),
		AgentToken:  uuid.NewString(),
		APIKey:      b.cfg.APIKey,
		BaseURL:     b.cfg.BaseURL,
		AgentName:   name,
		AgentType:   string(flavor),
	}
}
