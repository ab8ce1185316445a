package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// slot is a one-shot completion cell for a single pending request. Exactly
// one of deliver (by the reader) or the caller's timeout/cancellation path
// removes it from the in-flight map; removal is always performed exactly
// once and is infallible.
type slot struct {
	ch chan slotResult
}

type slotResult struct {
	result json.RawMessage
	err    error
}

// conn owns framing and id correlation over a pair of pipes. It knows
// nothing about child processes — that's process.go's job — which keeps
// the correlation logic testable against plain in-memory pipes.
type conn struct {
	w io.Writer

	encodeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]*slot
	closed  bool

	log *slog.Logger

	onNotification func(method string, params json.RawMessage)
	onExit         func(reason string)
}

func newConn(r io.Reader, w io.Writer, log *slog.Logger) *conn {
	if log == nil {
		log = slog.Default()
	}
	c := &conn{
		w:       w,
		pending: make(map[uint64]*slot),
		log:     log,
	}
	go c.readLoop(r)
	return c
}

// register installs a one-shot slot for id before the request is written:
// register then send, so the reader can never observe a response before
// its slot exists.
func (c *conn) register(id uint64) (*slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("transport: connection closed")
	}
	s := &slot{ch: make(chan slotResult, 1)}
	c.pending[id] = s
	return s, nil
}

// unregister removes id's slot if still present, for cancellation/timeout
// cleanup. It is infallible: calling it twice, or after fulfillment, is a
// no-op.
func (c *conn) unregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// send writes one framed JSON-RPC request (id != 0) or notification (id ==
// 0) as a single line terminated by \n.
func (c *conn) send(ctx context.Context, method string, params any, id uint64) error {
	req := request{JSONRPC: jsonrpcVersion, Method: method, Params: params, ID: id}
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("transport: marshal request: %w", err)
	}
	line = append(line, '\n')

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()
	_, err = c.w.Write(line)
	return err
}

// readLoop consumes newline-delimited JSON from r until EOF, a read error,
// or an oversized line. Malformed lines and responses with unknown ids are
// logged and discarded; they never terminate the loop by themselves.
func (c *conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	exitReason := "stream closed"
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.log.Debug("mcp: discarding unparseable stdout line", "error", err)
			continue
		}

		if env.ID != nil {
			c.handleResponse(line)
			continue
		}
		if env.Method != "" {
			c.handleNotification(line, env.Method)
			continue
		}
		c.log.Debug("mcp: discarding line with neither id nor method")
	}

	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			exitReason = "oversized line exceeds 16MiB limit"
		} else {
			exitReason = err.Error()
		}
	}

	c.shutdown(exitReason)
}

func (c *conn) handleResponse(line []byte) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.log.Debug("mcp: discarding malformed response", "error", err)
		return
	}
	if resp.ID == nil {
		return
	}
	id := *resp.ID

	c.mu.Lock()
	s, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("mcp: got response for different id", "id", id)
		return
	}

	if resp.Result != nil && resp.Error != nil {
		s.ch <- slotResult{err: fmt.Errorf("response carries both result and error")}
		return
	}
	if resp.Error != nil {
		s.ch <- slotResult{err: resp.Error}
		return
	}
	if resp.Result == nil {
		s.ch <- slotResult{result: json.RawMessage("null")}
		return
	}
	s.ch <- slotResult{result: json.RawMessage(*resp.Result)}
}

func (c *conn) handleNotification(line []byte, method string) {
	if c.onNotification == nil {
		return
	}
	var full struct {
		Params json.RawMessage `json:"params,omitempty"`
	}
	_ = json.Unmarshal(line, &full)
	c.onNotification(method, full.Params)
}

// shutdown fails every remaining in-flight slot with a Connection-flavored
// error and marks the conn closed. Safe to call more than once.
func (c *conn) shutdown(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]*slot)
	c.mu.Unlock()

	for id, s := range pending {
		s.ch <- slotResult{err: fmt.Errorf("transport closed: %s", reason)}
		_ = id
	}

	if c.onExit != nil {
		c.onExit(reason)
	}
}
