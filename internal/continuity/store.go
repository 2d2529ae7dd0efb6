// Package continuity implements the Continuity Store (C9): on release,
// persist a JSON snapshot of an agent's session so a later agent can
// resume from it; on spawn with continueFrom, compose a preamble from the
// prior snapshot. Grounded on the teacher's server/config file-writer
// style (create-or-overwrite JSON, 0o644) and env_preparer_local.go's
// file-staging approach to pre-spawn artifacts.
package continuity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/registry"
)

const dirName = "continuity"

// Snapshot is the on-disk schema written at release time.
type Snapshot struct {
	AgentName      string                         `json:"agent_name"`
	CLI            string                         `json:"cli"`
	InitialTask    string                         `json:"initial_task"`
	Summary        string                         `json:"summary"`
	ReleasedAt     int64                          `json:"released_at"`
	LifetimeSecs   float64                        `json:"lifetime_seconds"`
	MessageHistory []registry.MessageHistoryEntry `json:"message_history"`
}

// Store reads and writes continuity snapshots under baseDir/continuity.
type Store struct {
	dir string
	log *logging.Logger
}

// New creates a Store rooted at baseDir (the broker's `.agent-relay` directory).
func New(baseDir string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Default()
	}
	dir := filepath.Join(baseDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create continuity dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Write persists rec's snapshot, overwriting any prior snapshot for the
// same agent name.
func (s *Store) Write(rec *registry.AgentRecord, summary string) error {
	snap := Snapshot{
		AgentName:      rec.Name,
		CLI:            rec.CLI,
		InitialTask:    rec.SpawnSpec.Task,
		Summary:        summary,
		ReleasedAt:     time.Now().Unix(),
		LifetimeSecs:   rec.Uptime().Seconds(),
		MessageHistory: rec.History(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(rec.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(rec.Name))
}

// Read returns the snapshot for name, or (nil, nil) if none exists. If the
// named continuity file does not exist, the spawn still succeeds and no
// preamble is delivered.
func (s *Store) Read(name string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode continuity snapshot for %q: %w", name, err)
	}
	return &snap, nil
}

// Preamble composes the "context from previous session" text delivered as
// the new agent's first message when continueFrom names a prior snapshot.
func Preamble(snap *Snapshot) string {
	if snap.Summary != "" {
		return fmt.Sprintf("Context from previous session %q: %s (previously: %s)", snap.AgentName, snap.Summary, snap.InitialTask)
	}
	return fmt.Sprintf("Context from previous session %q: %s", snap.AgentName, snap.InitialTask)
}

// Watch emits the agent name whenever that agent's continuity file changes
// on disk, for internal observers that want to react to new snapshots
// without polling. The broker republishes each name on the event bus as a
// continuity_saved event; no new op is added.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	out := make(chan string, 16)
	go func() {
		defer watcher.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				name := filepath.Base(ev.Name)
				ext := filepath.Ext(name)
				if ext != ".json" {
					continue
				}
				agentName := name[:len(name)-len(ext)]
				select {
				case out <- agentName:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.WithError(err).Warn("continuity watch error")
			}
		}
	}()
	return out, nil
}
