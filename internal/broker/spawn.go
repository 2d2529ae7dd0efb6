package broker

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/agent-relay/broker/internal/clihooks"
	"github.com/agent-relay/broker/internal/continuity"
	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/protocol"
	"github.com/agent-relay/broker/internal/ptysup"
	"github.com/agent-relay/broker/internal/registry"
	"github.com/agent-relay/broker/internal/tracing"
)

var spawnTracer = tracing.Tracer("agent-relay/spawn")

// SpawnParams is the decoded "spawn_pty" request.
type SpawnParams struct {
	Name         string
	CLI          string
	Args         []string
	Env          map[string]string
	Channels     []string
	Task         string
	ContinueFrom string
	Model        string
}

// SpawnPTY validates, prepares, and starts a new agent. No partial
// registry entry is left behind on any failure path: a failed spawn_pty
// leaves the registry exactly as it was before the call.
func (b *Broker) SpawnPTY(ctx context.Context, p SpawnParams) (map[string]interface{}, error) {
	if p.Name == "" {
		return nil, dispatchError(protocol.CodeInvalidRequest, "spawn_pty requires a non-empty name")
	}
	if p.CLI == "" {
		return nil, dispatchError(protocol.CodeInvalidRequest, "spawn_pty requires a non-empty cli")
	}
	if _, err := b.Registry.Get(p.Name); err == nil {
		return nil, dispatchError(protocol.CodeDuplicateAgent, "agent %q is already live", p.Name)
	}

	channels := p.Channels
	if len(channels) == 0 {
		channels = b.cfg.DefaultSpawnChannels()
	}

	flavor := clihooks.Normalize(p.CLI)
	creds := b.issueCredentials(p.Name, flavor)

	workDir := b.cfg.Dir
	hook := clihooks.Resolve(flavor, b.log)

	hookCtx, span := spawnTracer.Start(ctx, "clihooks.Prepare")
	hookResult, err := hook.Prepare(hookCtx, clihooks.SpawnContext{
		WorkDir:     workDir,
		RelayPort:   b.mcpPort,
		Credentials: creds,
	})
	span.End()
	if err != nil {
		return nil, dispatchError(protocol.CodeInternalError, "cli integration hook failed: %v", err)
	}

	args := append(append([]string{}, p.Args...), hookResult.ExtraArgs...)
	env := append(os.Environ(), hookResult.ExtraEnv...)
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}

	sup, err := ptysup.Spawn(ptysup.SpawnSpec{
		Name:            p.Name,
		Path:            p.CLI,
		Args:            args,
		Env:             env,
		WorkDir:         workDir,
		ReadyBytesFloor: clihooks.ReadyBytesFloor(flavor, b.cfg.ReadyBytesFloor),
		Quiescence:      time.Duration(b.cfg.QuiescenceMillis) * time.Millisecond,
		ReleaseGrace:    time.Duration(b.cfg.ReleaseGraceMillis) * time.Millisecond,
	}, b.Bus, b.log)
	if err != nil {
		return nil, dispatchError(protocol.CodeInternalError, "spawn %q: %v", p.CLI, err)
	}

	rec := &registry.AgentRecord{
		Name:        p.Name,
		CLI:         p.CLI,
		Supervisor:  sup,
		Channels:    channels,
		State:       registry.StateStarting,
		Credentials: creds,
		SpawnSpec: registry.SpawnSpec{
			Name:         p.Name,
			CLI:          p.CLI,
			Args:         p.Args,
			Env:          p.Env,
			Channels:     channels,
			Task:         p.Task,
			ContinueFrom: p.ContinueFrom,
			Model:        p.Model,
		},
		CreatedAt: time.Now(),
	}
	if sup.Ready() {
		rec.State = registry.StateReady
	}

	if err := b.Registry.Register(rec); err != nil {
		sup.Release()
		return nil, dispatchError(protocol.CodeDuplicateAgent, "agent %q is already live", p.Name)
	}

	rec.Deliveries = b.Pipeline.Attach(p.Name, sup)
	go b.trackReadiness(rec)
	go b.watchExit(rec)

	// Continuity preamble (priority 1) delivers before the initial task
	// (priority 2), both ahead of any ordinary priority-3 send_message.
	if p.ContinueFrom != "" {
		if snap, err := b.Continuity.Read(p.ContinueFrom); err != nil {
			b.log.WithAgentName(p.Name).WithError(err).Warn("failed to read continuity snapshot")
		} else if snap != nil {
			preamble := continuity.Preamble(snap)
			if _, err := b.Pipeline.Enqueue(p.Name, "system", preamble, "", "", 1, uuid.NewString()); err != nil {
				b.log.WithAgentName(p.Name).WithError(err).Warn("failed to enqueue continuity preamble")
			}
		}
	}
	if p.Task != "" {
		if _, err := b.Pipeline.Enqueue(p.Name, "system", p.Task, "", "", 2, uuid.NewString()); err != nil {
			b.log.WithAgentName(p.Name).WithError(err).Warn("failed to enqueue initial task")
		}
	}

	return map[string]interface{}{"name": p.Name, "runtime": "pty"}, nil
}

// trackReadiness flips the registry's state from Starting to Ready once
// the supervisor crosses that threshold, so list_agents/status reflect it
// without polling the supervisor directly.
func (b *Broker) trackReadiness(rec *registry.AgentRecord) {
	sub, err := b.Bus.Subscribe(events.AgentSubject(rec.Name, events.KindWorkerReady), func(events.Event) {
		if rec.GetState() == registry.StateStarting {
			rec.SetState(registry.StateReady)
		}
	})
	if err != nil {
		return
	}
	defer sub.Unsubscribe()
	<-rec.Supervisor.Done()
}

// Release gracefully tears an agent down.
func (b *Broker) Release(name string) (map[string]interface{}, error) {
	rec, err := b.Registry.Get(name)
	if err != nil {
		return nil, dispatchError(protocol.CodeAgentNotFound, "no live agent named %q", name)
	}
	if err := b.releaseAgent(rec, "explicit"); err != nil {
		return nil, err
	}
	return map[string]interface{}{"name": name}, nil
}

func (b *Broker) releaseAgent(rec *registry.AgentRecord, reason string) error {
	if !rec.Finalize() {
		return nil // a concurrent release/exit already tore this agent down
	}
	rec.SetState(registry.StateReleased)
	rec.Supervisor.Release()
	b.finishTeardown(rec, reason)
	return nil
}

// watchExit is the per-agent task that reacts to an unrequested child
// exit: it finalizes the agent the same way an explicit release does,
// unless release() already won the race.
func (b *Broker) watchExit(rec *registry.AgentRecord) {
	<-rec.Supervisor.Done()
	if !rec.Finalize() {
		return
	}
	rec.SetState(registry.StateExited)
	b.finishTeardown(rec, "")
}

// finishTeardown drops the delivery queue (emitting delivery_dropped for
// anything still queued), writes the continuity snapshot, frees the name
// for reuse, and — for releases (explicit or shutdown) only, never for an
// unrequested exit — emits agent_released.
func (b *Broker) finishTeardown(rec *registry.AgentRecord, reason string) {
	b.Pipeline.Detach(rec.Name)
	if err := b.Continuity.Write(rec, summarize(rec)); err != nil {
		b.log.WithAgentName(rec.Name).WithError(err).Warn("failed to write continuity snapshot")
	}
	b.Registry.Remove(rec.Name)
	if reason != "" {
		b.Bus.Publish(events.AgentSubject(rec.Name, events.KindAgentReleased), events.AgentReleased(rec.Name, reason))
	}
}

// summarize produces the ContinuitySnapshot.summary field from an agent's
// bounded message history. A fuller summarizer (e.g. an LLM call) is
// explicitly out of this broker's scope; this is a cheap, local
// approximation.
func summarize(rec *registry.AgentRecord) string {
	history := rec.History()
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	return last.Text
}
