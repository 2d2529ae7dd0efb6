package broker

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/protocol"
	"github.com/agent-relay/broker/internal/registry"
)

// Dispatch implements protocol.Handler: it decodes req.Fields for the named
// op and routes to the matching control-plane method. All
// ops are idempotent except spawn_pty.
func (b *Broker) Dispatch(ctx context.Context, req protocol.Request) (map[string]interface{}, error) {
	switch req.Op {
	case "spawn_pty":
		return b.SpawnPTY(ctx, decodeSpawnParams(req.Fields))
	case "list_agents":
		return b.ListAgents()
	case "send_message":
		return b.SendMessage(decodeSendParams(req.Fields))
	case "send_input":
		return b.SendInput(getString(req.Fields, "name"), getString(req.Fields, "data"))
	case "release":
		return b.Release(getString(req.Fields, "name"))
	case "status":
		return b.Status()
	case "metrics":
		return b.Metrics(getString(req.Fields, "name"))
	case "crash_insights":
		return b.CrashInsights()
	case "shutdown":
		return b.RequestShutdown()
	default:
		return nil, dispatchError(protocol.CodeUnsupportedOperation, "op %q not supported", req.Op)
	}
}

func decodeSpawnParams(fields map[string]interface{}) SpawnParams {
	return SpawnParams{
		Name:         getString(fields, "name"),
		CLI:          getString(fields, "cli"),
		Args:         getStringSlice(fields, "args"),
		Env:          getStringMap(fields, "env"),
		Channels:     getStringSlice(fields, "channels"),
		Task:         getString(fields, "task"),
		ContinueFrom: getString(fields, "continueFrom"),
		Model:        getString(fields, "model"),
	}
}

// sendParams is the decoded "send_message" request.
type sendParams struct {
	To       string
	From     string
	Text     string
	ThreadID string
	Priority int
}

func decodeSendParams(fields map[string]interface{}) sendParams {
	priority := getInt(fields, "priority", 3)
	from := getString(fields, "from")
	if from == "" {
		from = "system"
	}
	return sendParams{
		To:       getString(fields, "to"),
		From:     from,
		Text:     getString(fields, "text"),
		ThreadID: getString(fields, "thread_id"),
		Priority: priority,
	}
}

// ListAgents returns a snapshot of every live agent.
func (b *Broker) ListAgents() (map[string]interface{}, error) {
	recs := b.Registry.List()
	agents := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		agents = append(agents, agentSummary(rec))
	}
	return map[string]interface{}{"agents": agents}, nil
}

func agentSummary(rec *registry.AgentRecord) map[string]interface{} {
	m := map[string]interface{}{
		"name":        rec.Name,
		"cli":         rec.CLI,
		"state":       string(rec.GetState()),
		"channels":    rec.Channels,
		"pid":         rec.PID(),
		"uptime_secs": rec.Uptime().Seconds(),
	}
	if rec.Supervisor != nil {
		if line := rec.Supervisor.LastScreenLine(); line != "" {
			m["last_screen_line"] = line
		}
	}
	return m
}

// SendMessage validates the target(s) and enqueues one delivery per
// matching agent, expanding a "#channel" target to every local subscriber.
func (b *Broker) SendMessage(p sendParams) (map[string]interface{}, error) {
	if p.To == "" {
		return nil, dispatchError(protocol.CodeInvalidRequest, "send_message requires a non-empty to")
	}
	if p.Text == "" {
		return nil, dispatchError(protocol.CodeInvalidRequest, "send_message requires non-empty text")
	}

	eventID := uuid.NewString()

	if strings.HasPrefix(p.To, "#") {
		channel := strings.TrimPrefix(p.To, "#")
		members := b.Registry.ChannelMembers(channel)
		targets := make([]string, 0, len(members))
		for _, name := range members {
			if _, err := b.Pipeline.Enqueue(name, p.From, p.Text, p.ThreadID, channel, p.Priority, eventID); err == nil {
				targets = append(targets, name)
			}
		}
		return map[string]interface{}{"event_id": eventID, "targets": targets}, nil
	}

	rec, err := b.Registry.Get(p.To)
	if err != nil {
		return nil, dispatchError(protocol.CodeAgentNotFound, "no live agent named %q", p.To)
	}
	if rec.GetState() == registry.StateReleased || rec.GetState() == registry.StateExited {
		return nil, dispatchError(protocol.CodeDeliveryRejected, "agent %q is no longer deliverable", p.To)
	}
	if _, err := b.Pipeline.Enqueue(p.To, p.From, p.Text, p.ThreadID, "", p.Priority, eventID); err != nil {
		return nil, dispatchError(protocol.CodeDeliveryRejected, "%v", err)
	}
	rec.AppendHistory(registry.MessageHistoryEntry{Direction: "in", From: p.From, Text: p.Text})
	return map[string]interface{}{"event_id": eventID, "targets": []string{p.To}}, nil
}

// SendInput writes raw bytes directly to an agent's PTY, bypassing the
// delivery pipeline entirely.
func (b *Broker) SendInput(name, data string) (map[string]interface{}, error) {
	rec, err := b.Registry.Get(name)
	if err != nil {
		return nil, dispatchError(protocol.CodeAgentNotFound, "no live agent named %q", name)
	}
	n, err := rec.Supervisor.Write([]byte(data))
	if err != nil {
		return nil, dispatchError(protocol.CodeInternalError, "write to %q: %v", name, err)
	}
	return map[string]interface{}{"name": name, "bytes_written": n}, nil
}

// Status returns the broker-wide snapshot the "status" op reports.
func (b *Broker) Status() (map[string]interface{}, error) {
	recs := b.Registry.List()
	agents := make([]map[string]interface{}, 0, len(recs))
	pendingTotal := 0
	pending := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		agents = append(agents, agentSummary(rec))
		n := 0
		if rec.Deliveries != nil {
			n = rec.Deliveries.Len()
		}
		pendingTotal += n
		if n > 0 {
			pending = append(pending, map[string]interface{}{"name": rec.Name, "pending": n})
		}
	}
	return map[string]interface{}{
		"agent_count":            len(recs),
		"agents":                 agents,
		"pending_delivery_count": pendingTotal,
		"pending_deliveries":     pending,
	}, nil
}

// Metrics returns broker stats plus per-agent pid/memory/uptime, filtered
// by name when provided.
func (b *Broker) Metrics(name string) (map[string]interface{}, error) {
	if name != "" {
		rec, err := b.Registry.Get(name)
		if err != nil {
			return nil, dispatchError(protocol.CodeAgentNotFound, "no live agent named %q", name)
		}
		return map[string]interface{}{"agents": []map[string]interface{}{metricsFor(rec)}}, nil
	}

	recs := b.Registry.List()
	agents := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		agents = append(agents, metricsFor(rec))
	}
	return map[string]interface{}{"agent_count": len(recs), "agents": agents}, nil
}

func metricsFor(rec *registry.AgentRecord) map[string]interface{} {
	return map[string]interface{}{
		"name":        rec.Name,
		"pid":         rec.PID(),
		"memory_bytes": readRSS(rec.PID()),
		"uptime_secs": rec.Uptime().Seconds(),
	}
}

// CrashInsights derives a crash summary from the event bus's replay ring
// buffer: every agent_exited with a non-zero code or a signal counts as
// a crash.
func (b *Broker) CrashInsights() (map[string]interface{}, error) {
	recent := b.Bus.Recent(500)
	var crashes []map[string]interface{}
	totalExits := 0
	patterns := map[string]int{}

	for _, evt := range recent {
		if evt.Kind != events.KindAgentExited {
			continue
		}
		totalExits++
		code, _ := evt.Fields["code"].(int)
		signal, _ := evt.Fields["signal"].(string)
		if code == 0 && signal == "" {
			continue
		}
		name, _ := evt.Fields["name"].(string)
		crashes = append(crashes, map[string]interface{}{"name": name, "code": code, "signal": signal})
		key := signal
		if key == "" {
			key = "nonzero_exit"
		}
		patterns[key]++
	}

	healthScore := 1.0
	if totalExits > 0 {
		healthScore = 1.0 - float64(len(crashes))/float64(totalExits)
	}

	return map[string]interface{}{
		"total_crashes": len(crashes),
		"recent":        crashes,
		"patterns":      patterns,
		"health_score":  healthScore,
	}, nil
}

// RequestShutdown sets the broker's shutdown flag; the main loop observes
// it and runs the graceful exit path.
func (b *Broker) RequestShutdown() (map[string]interface{}, error) {
	b.shutdownOnce.Do(func() {
		close(b.shutdownCh)
	})
	return map[string]interface{}{"shutdown": true}, nil
}
