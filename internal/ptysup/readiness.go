package ptysup

import (
	"sync"

	"github.com/tuzig/vt10x"
)

// ScreenState feeds raw PTY output into a virtual terminal so the agent's
// current bottom screen line can be reported in status output. It does not
// take part in readiness, which is decided by the startup byte floor alone.
// Grounded on the teacher's status_tracker.go / idle_detector.go pairing
// with tuzig/vt10x.
type ScreenState struct {
	mu    sync.Mutex
	term  vt10x.Terminal
	cols  int
	rows  int
}

// NewScreenState creates a virtual terminal of the given size.
func NewScreenState(cols, rows int) *ScreenState {
	t := vt10x.New(vt10x.WithSize(cols, rows))
	return &ScreenState{term: t, cols: cols, rows: rows}
}

// Feed writes a PTY output chunk into the virtual screen.
func (s *ScreenState) Feed(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.term.Write(chunk)
}

// LastLine returns the text of the bottom-most non-empty row, a cheap proxy
// for "what prompt is the CLI currently showing".
func (s *ScreenState) LastLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Lock()
	defer s.term.Unlock()
	for row := s.rows - 1; row >= 0; row-- {
		line := rowText(s.term, row, s.cols)
		if line != "" {
			return line
		}
	}
	return ""
}

func rowText(term vt10x.Terminal, row, cols int) string {
	b := make([]rune, 0, cols)
	for col := 0; col < cols; col++ {
		g := term.Cell(col, row)
		if g.Char == 0 {
			continue
		}
		b = append(b, g.Char)
	}
	out := string(b)
	return trimTrailingSpace(out)
}

func trimTrailingSpace(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[:end]
}
