// Package ptysup implements the PTY Supervisor (C4): per-agent PTY + child
// process, output reading with idle/readiness detection, exit watchdog, and
// input writing. Grounded on the teacher's
// internal/agentctl/server/process package (interactive_runner.go,
// pty_handle.go, pty_unix.go, pty_windows.go, idle_detector.go).
package ptysup

// Handle abstracts a PTY master across platforms: unix (creack/pty) and
// Windows (ConPTY via UserExistsError/conpty).
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Resize(cols, rows uint16) error
}
