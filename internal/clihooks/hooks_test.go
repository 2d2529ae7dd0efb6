package clihooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredentials() Credentials {
	return Credentials{
		MachineID:   "machine-1",
		ProjectID:   "project-1",
		WorkspaceID: "workspace-1",
		AgentID:     "agent-1",
		AgentToken:  "agent-token-secret",
		APIKey:      "workspace-api-key",
		BaseURL:     "https://relay.example.test",
		AgentName:   "alice",
		AgentType:   "claude",
	}
}

// TestHooks_ProduceRelayAgentToken is the mandatory test spec §4.5(iii) and
// testable property 6 require: every supported flavor's hook must produce a
// configuration (file or command line) containing RELAY_AGENT_TOKEN, and it
// must be this agent's own token, never the workspace API key.
func TestHooks_ProduceRelayAgentToken(t *testing.T) {
	cases := []struct {
		flavor Flavor
		// scan returns every string the hook wrote that should be checked
		// for the token (env entries, argv, file contents).
		scan func(t *testing.T, workDir string, result Result) []string
	}{
		{
			flavor: FlavorClaude,
			scan: func(t *testing.T, workDir string, result Result) []string {
				data, err := os.ReadFile(filepath.Join(workDir, ".agent-relay-credentials.json"))
				require.NoError(t, err)
				var cache credentialCache
				require.NoError(t, json.Unmarshal(data, &cache))
				return append(append([]string{}, result.ExtraEnv...), cache.Agents["alice"])
			},
		},
		{
			flavor: FlavorCodex,
			scan: func(t *testing.T, workDir string, result Result) []string {
				return append(append([]string{}, result.ExtraEnv...), result.ExtraArgs...)
			},
		},
		{
			flavor: FlavorOpencode,
			scan: func(t *testing.T, workDir string, result Result) []string {
				data, err := os.ReadFile(filepath.Join(workDir, "opencode.json"))
				require.NoError(t, err)
				return append(append([]string{}, result.ExtraEnv...), string(data))
			},
		},
		{
			flavor: FlavorCursor,
			scan: func(t *testing.T, workDir string, result Result) []string {
				data, err := os.ReadFile(filepath.Join(workDir, ".cursor-mcp.json"))
				require.NoError(t, err)
				return append(append([]string{}, result.ExtraEnv...), string(data))
			},
		},
	}

	for _, tc := range cases {
		t.Run(string(tc.flavor), func(t *testing.T) {
			workDir := t.TempDir()
			sc := SpawnContext{WorkDir: workDir, RelayPort: 9191, Credentials: testCredentials()}

			hook := Resolve(tc.flavor, nil)
			result, err := hook.Prepare(context.Background(), sc)
			require.NoError(t, err)

			blobs := tc.scan(t, workDir, result)
			found := false
			for _, blob := range blobs {
				if strings.Contains(blob, "agent-token-secret") {
					found = true
				}
			}
			assert.True(t, found, "hook for %s must produce a configuration containing RELAY_AGENT_TOKEN's value", tc.flavor)
		})
	}
}

// TestMcpAddHook_GeminiDroidArgsCarryAllSixEnvVars covers the Gemini/Droid
// one-shot pre-spawn command path, whose token lives on the command line
// (mcp add --env ...) rather than in a written file. The args are built by
// the pure mcpAddArgs helper so this test doesn't need a real gemini/droid
// binary on PATH.
func TestMcpAddHook_GeminiDroidArgsCarryAllSixEnvVars(t *testing.T) {
	for _, flavor := range []Flavor{FlavorGemini, FlavorDroid} {
		t.Run(string(flavor), func(t *testing.T) {
			sc := SpawnContext{WorkDir: t.TempDir(), RelayPort: 9191, Credentials: testCredentials()}
			args := mcpAddArgs(sc)
			joined := strings.Join(args, " ")

			assert.Contains(t, joined, "RELAY_API_KEY=workspace-api-key")
			assert.Contains(t, joined, "RELAY_BASE_URL=https://relay.example.test")
			assert.Contains(t, joined, "RELAY_AGENT_NAME=alice")
			assert.Contains(t, joined, "RELAY_AGENT_TYPE=claude")
			assert.Contains(t, joined, "RELAY_STRICT_AGENT_NAME=alice")
			assert.Contains(t, joined, "RELAY_AGENT_TOKEN=agent-token-secret")
		})
	}
}

// TestClaudeHook_MCPConfigFileNeverInlinesAPIKey asserts the spec's explicit
// "must not inline the API key" constraint on the --mcp-config JSON itself
// (the token/key still reach the child via ExtraEnv and the credential
// cache, just not inside this particular file).
func TestClaudeHook_MCPConfigFileNeverInlinesAPIKey(t *testing.T) {
	workDir := t.TempDir()
	sc := SpawnContext{WorkDir: workDir, RelayPort: 9191, Credentials: testCredentials()}

	hook := Resolve(FlavorClaude, nil)
	result, err := hook.Prepare(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, result.ExtraArgs, 2)

	data, err := os.ReadFile(result.ExtraArgs[1])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "workspace-api-key")
}

// TestNormalize_PreservesCursorAndFoldsAgentSynonym covers spec §4.5's
// requirement that "cursor" is never silently rewritten while the "agent"
// synonym folds back onto it.
func TestNormalize_PreservesCursorAndFoldsAgentSynonym(t *testing.T) {
	assert.Equal(t, FlavorCursor, Normalize("cursor"))
	assert.Equal(t, FlavorCursor, Normalize("agent"))
	assert.Equal(t, FlavorClaude, Normalize("claude"))
}

// TestResolve_UnsupportedFlavorIsNoop covers aider/goose/unsupported: no MCP
// injection, PTY-only delivery still works.
func TestResolve_UnsupportedFlavorIsNoop(t *testing.T) {
	for _, flavor := range []Flavor{FlavorAider, FlavorGoose, Flavor("some-future-cli")} {
		hook := Resolve(flavor, nil)
		result, err := hook.Prepare(context.Background(), SpawnContext{WorkDir: t.TempDir(), Credentials: testCredentials()})
		require.NoError(t, err)
		assert.Empty(t, result.ExtraArgs)
		assert.Empty(t, result.ExtraEnv)
	}
}
