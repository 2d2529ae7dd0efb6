// Package protocol implements the Protocol Codec (C3): line-delimited JSON
// request/response framing over stdin/stdout, plus unsolicited event
// frames sharing the same stream. Grounded on the teacher's line-oriented
// JSON readers (pkg/acp/jsonrpc/client.go, agent/streaming/reader.go):
// bufio.Scanner with an enlarged token buffer, one decode per line, never
// terminating the stream on a malformed line.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/logging"
)

const (
	scannerInitialBuf = 64 * 1024
	scannerMaxBuf      = 4 * 1024 * 1024
)

// Request is a decoded `{id, op, ...}` frame from the client.
type Request struct {
	ID     string
	Op     string
	Fields map[string]interface{}
}

// Response is the wire shape of one `{id, ok, ...}` frame.
type Response struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Error  *Error      `json:"error,omitempty"`
	Result interface{} `json:"-"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{"id": r.ID, "ok": r.OK}
	if r.Error != nil {
		m["error"] = r.Error
	}
	if res, ok := r.Result.(map[string]interface{}); ok {
		for k, v := range res {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// Handler processes one decoded Request and returns the result fields to
// flatten into the success response, or an error to map onto ok:false.
type Handler func(ctx context.Context, req Request) (map[string]interface{}, error)

// Codec owns the stdin reader loop and the stdout/event writer, multiplexed
// over one process-wide mutex so response and event frames never interleave
// mid-line.
type Codec struct {
	in     io.Reader
	out    io.Writer
	log    *logging.Logger
	writeMu sync.Mutex
}

// New creates a Codec over in/out (typically os.Stdin/os.Stdout).
func New(in io.Reader, out io.Writer, log *logging.Logger) *Codec {
	if log == nil {
		log = logging.Default()
	}
	return &Codec{in: in, out: out, log: log}
}

// Run reads line-delimited requests from in until EOF or ctx is cancelled,
// dispatching each decoded frame to handle and writing its response.
// Malformed lines are reported as a worker_error event, never abort the
// stream.
func (c *Codec) Run(ctx context.Context, bus events.Bus, handle Handler) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, scannerInitialBuf), scannerMaxBuf)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return scanner.Err() // nil on clean EOF
			}
			if line == "" {
				continue
			}
			c.handleLine(ctx, line, bus, handle)
		}
	}
}

func (c *Codec) handleLine(ctx context.Context, line string, bus events.Bus, handle Handler) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		bus.Publish(events.BrokerSubject(events.KindWorkerError), events.WorkerError("<broker>", "malformed request line: "+err.Error()))
		return
	}

	id, _ := raw["id"].(string)
	op, _ := raw["op"].(string)
	if id == "" || op == "" {
		c.WriteResponse(Response{ID: id, OK: false, Error: NewError(CodeInvalidRequest, "request must include non-empty id and op")})
		return
	}
	delete(raw, "id")
	delete(raw, "op")

	req := Request{ID: id, Op: op, Fields: raw}
	result, err := handle(ctx, req)
	if err != nil {
		c.WriteResponse(Response{ID: id, OK: false, Error: toProtocolError(err)})
		return
	}
	c.WriteResponse(Response{ID: id, OK: true, Result: result})
}

func toProtocolError(err error) *Error {
	if perr, ok := err.(*Error); ok {
		return perr
	}
	return NewError(CodeInternalError, err.Error())
}

// WriteResponse marshals and writes one response frame.
func (c *Codec) WriteResponse(resp Response) {
	c.writeLine(resp)
}

// WriteEvent marshals and writes one unsolicited event frame.
func (c *Codec) WriteEvent(evt events.Event) {
	c.writeLine(evt)
}

func (c *Codec) writeLine(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).Error("failed to marshal protocol frame")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.out, "%s\n", data); err != nil {
		c.log.WithError(err).Error("failed to write protocol frame")
	}
}
