// Package registry implements the Agent Registry (C8): a process-wide
// name -> AgentRecord map, mutated only through the control plane and never
// persisted across restarts. Grounded on the teacher's
// server/instance/manager.go Manager (map[string]*Instance + sync.RWMutex).
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/agent-relay/broker/internal/clihooks"
	"github.com/agent-relay/broker/internal/ptysup"
)

// State is one of AgentRecord's lifecycle states.
type State string

const (
	StateStarting State = "Starting"
	StateReady    State = "Ready"
	StateBusy     State = "Busy"
	StateReleased State = "Released"
	StateExited   State = "Exited"
)

// MessageHistoryEntry is one entry in an agent's bounded continuity ring.
type MessageHistoryEntry struct {
	Direction string // "in" or "out"
	From      string
	Text      string
	At        time.Time
}

const messageHistoryCap = 50

// SpawnSpec is the caller-supplied request retained for continuity writes.
type SpawnSpec struct {
	Name         string
	CLI          string
	Args         []string
	Env          map[string]string
	Channels     []string
	Task         string
	ContinueFrom string
	Model        string
}

// DeliveryQueue is the minimal view the registry needs of a per-agent
// delivery queue (internal/delivery.Queue satisfies this structurally;
// registry never imports internal/delivery).
type DeliveryQueue interface {
	Len() int
}

// AgentRecord is one live agent.
type AgentRecord struct {
	Name        string
	CLI         string
	Supervisor  *ptysup.Supervisor
	Channels    []string
	State       State
	Credentials clihooks.Credentials
	SpawnSpec   SpawnSpec
	Deliveries  DeliveryQueue

	CreatedAt  time.Time
	ReleasedAt *time.Time

	mu             sync.Mutex
	messageHistory []MessageHistoryEntry
	finalized      bool
}

// PID returns the child process id, or 0 if the agent has no supervisor.
func (a *AgentRecord) PID() int {
	if a.Supervisor == nil {
		return 0
	}
	return a.Supervisor.PID()
}

// Uptime returns how long the agent has been alive.
func (a *AgentRecord) Uptime() time.Duration {
	end := time.Now()
	if a.ReleasedAt != nil {
		end = *a.ReleasedAt
	}
	return end.Sub(a.CreatedAt)
}

// AppendHistory records a message in the bounded ring kept for continuity.
func (a *AgentRecord) AppendHistory(entry MessageHistoryEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messageHistory = append(a.messageHistory, entry)
	if len(a.messageHistory) > messageHistoryCap {
		a.messageHistory = a.messageHistory[len(a.messageHistory)-messageHistoryCap:]
	}
}

// History returns a snapshot of the message history ring.
func (a *AgentRecord) History() []MessageHistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]MessageHistoryEntry, len(a.messageHistory))
	copy(out, a.messageHistory)
	return out
}

// SetState updates the agent's lifecycle state.
func (a *AgentRecord) SetState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.State = s
}

// GetState reads the agent's lifecycle state.
func (a *AgentRecord) GetState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.State
}

// ErrDuplicateAgent is returned by Register when name is already live.
var ErrDuplicateAgent = fmt.Errorf("duplicate_agent")

// ErrNotFound is returned when name does not refer to a live agent.
var ErrNotFound = fmt.Errorf("agent_not_found")

// Registry is the process-wide agent map (C8). All mutation is serialized
// through a single mutex; List returns a point-in-time snapshot.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*AgentRecord
}

// New creates an empty Registry. The registry is never persisted: a
// restarted broker always starts from New().
func New() *Registry {
	return &Registry{agents: make(map[string]*AgentRecord)}
}

// Register adds rec under rec.Name, failing if the name is already live.
func (r *Registry) Register(rec *AgentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[rec.Name]; exists {
		return ErrDuplicateAgent
	}
	r.agents[rec.Name] = rec
	return nil
}

// Get returns the record for name, or ErrNotFound.
func (r *Registry) Get(name string) (*AgentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[name]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Remove drops name from the registry. Releasing an agent frees its name
// for reuse.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
}

// List returns a snapshot of all live agents.
func (r *Registry) List() []*AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, rec)
	}
	return out
}

// ChannelMembers returns the names of live agents subscribed to channel.
func (r *Registry) ChannelMembers(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, rec := range r.agents {
		for _, ch := range rec.Channels {
			if ch == channel {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// Count returns the number of live agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
