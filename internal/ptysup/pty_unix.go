//go:build !windows

package ptysup

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// startPTYWithSize starts cmd attached to a new PTY of the given size. The
// size is set at creation time rather than resized after the fact so the
// child CLI sees its real terminal dimensions from its very first read of
// the window, mirroring the teacher's lazy-spawn-on-first-resize pattern.
func startPTYWithSize(cmd *exec.Cmd, cols, rows uint16) (Handle, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}
