// Package clihooks implements the CLI Integration Hooks (C5): per-CLI-flavor
// pre-spawn credential/MCP injection so each spawned assistant can call back
// into the broker's relaycast MCP server. Grounded on the teacher's
// server/adapter/factory.go (finite tagged dispatch with a default case) and
// server/config/config.go's injectKandevMcpServer pattern.
package clihooks

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/agent-relay/broker/internal/logging"
)

// Flavor is the canonical CLI identifier.
type Flavor string

const (
	FlavorClaude   Flavor = "claude"
	FlavorCodex    Flavor = "codex"
	FlavorGemini   Flavor = "gemini"
	FlavorDroid    Flavor = "droid"
	FlavorOpencode Flavor = "opencode"
	FlavorAider    Flavor = "aider"
	FlavorGoose    Flavor = "goose"
	FlavorCursor   Flavor = "cursor"
	FlavorCat      Flavor = "cat"
	FlavorBash     Flavor = "bash"
)

// Normalize folds any "agent" synonym used by integrations back to
// "cursor", and leaves every other name, including "cursor"
// itself, untouched. Every new CLI's canonical name must pass through here
// unmodified.
func Normalize(cli string) Flavor {
	if cli == "agent" {
		return FlavorCursor
	}
	return Flavor(cli)
}

// Credentials is the per-agent credential bundle injected by every hook.
type Credentials struct {
	MachineID   string
	ProjectID   string
	WorkspaceID string
	AgentID     string
	AgentToken  string
	APIKey      string
	BaseURL     string
	AgentName   string
	AgentType   string
}

// SpawnContext is what a hook needs to prepare the child's environment.
type SpawnContext struct {
	WorkDir     string
	RelayPort   int // local port the relaycast MCP server listens on
	Credentials Credentials
}

// Result is what a hook produces: extra argv to append and/or extra env to set.
type Result struct {
	ExtraArgs []string
	ExtraEnv  []string
}

// Hook prepares a child's environment/config before it is exec'd.
type Hook interface {
	// Prepare runs any file writes or one-shot pre-commands and returns the
	// argv/env additions the supervisor must apply before exec.
	Prepare(ctx context.Context, sc SpawnContext) (Result, error)
}

// Resolve returns the hook for flavor, or the no-op PTY-only hook for any
// unsupported/unknown flavor.
func Resolve(flavor Flavor, log *logging.Logger) Hook {
	if log == nil {
		log = logging.Default()
	}
	switch flavor {
	case FlavorClaude:
		return &claudeHook{log: log}
	case FlavorCodex:
		return &codexHook{log: log}
	case FlavorOpencode:
		return &opencodeHook{log: log}
	case FlavorGemini, FlavorDroid:
		return &mcpAddHook{cli: string(flavor), log: log}
	case FlavorCursor:
		return &cursorHook{log: log}
	default:
		return noopHook{}
	}
}

// noopHook is used for aider/goose/unsupported: no MCP injection, PTY-only.
type noopHook struct{}

func (noopHook) Prepare(context.Context, SpawnContext) (Result, error) { return Result{}, nil }

// baseEnv returns the per-agent RELAY_* environment variables every hook
// that does inject credentials must include.
func baseEnv(sc SpawnContext) []string {
	c := sc.Credentials
	return []string{
		"RELAY_API_KEY=" + c.APIKey,
		"RELAY_BASE_URL=" + c.BaseURL,
		"RELAY_AGENT_NAME=" + c.AgentName,
		"RELAY_AGENT_TOKEN=" + c.AgentToken,
		"RELAY_AGENT_TYPE=" + c.AgentType,
		"RELAY_STRICT_AGENT_NAME=" + c.AgentName,
	}
}

func relaycastSSEURL(port int) string {
	return "http://localhost:" + strconv.Itoa(port) + "/sse"
}

// runPreCommand executes a one-shot pre-spawn command (Gemini/Droid's
// "<cli> mcp add ...") synchronously, mirroring env_preparer_local.go's
// runSetupScript use of exec.CommandContext.
func runPreCommand(ctx context.Context, name string, args []string, dir string, env []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, string(out))
	}
	return nil
}
