package registry

// Finalize marks rec as having begun its terminal teardown (continuity
// write + registry removal), returning true only the first time it is
// called for rec. Both the explicit release path and the exit watchdog
// race to tear an agent down; this makes whichever gets there first win
// and the other a no-op, without a second package-level lock.
func (a *AgentRecord) Finalize() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return false
	}
	a.finalized = true
	return true
}
