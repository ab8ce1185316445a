// Package transport owns one MCP server child process: spawning it with
// piped stdio, framing outbound JSON-RPC requests, parsing the inbound
// newline-delimited JSON stream, correlating responses by id, and
// detecting exit. It is the "Process Transport" component of the runtime.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/honganh1206/mcprun/mcperr"
)

// killGrace is how long Close waits for a graceful exit (stdin closed,
// os.Interrupt sent) before escalating to Process.Kill, mirroring the
// host-application lifecycle's server shutdown escalation.
const killGrace = 2 * time.Second

// StatusChangeFunc is invoked at most once per terminal transition, off
// the transport's internal locks, so the registry can safely publish
// lifecycle events without risking a deadlock against a concurrent Close.
type StatusChangeFunc func(status Status, reason string, unexpected bool)

// Transport owns a single running child process and its stdio pipes.
//
// State machine:
//
//	[new] --spawn ok--> Connecting --first send/recv--> Connected
//	   └--spawn err--> (no Transport; Connection error returned)
//	Connected --reader EOF / exit--> Disconnected{reason}
//	Connected --caller close------->  Disconnected{"requested"}
//	Connecting --reader EOF--------> Errored{reason}
//
// Transitions are one-way: a Transport never re-enters Connected after
// leaving it.
type Transport struct {
	spec      LaunchSpec
	createdAt time.Time
	log       *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	conn *conn

	mu               sync.Mutex
	status           Status
	disconnectReason string
	closeRequested   bool

	finishOnce sync.Once
	waitDone   chan struct{}

	onStatusChange StatusChangeFunc
}

// Spawn starts the child process described by spec and begins reading its
// stdout. On spawn failure no Transport is returned.
func Spawn(ctx context.Context, spec LaunchSpec, log *slog.Logger, onStatusChange StatusChangeFunc) (*Transport, error) {
	if spec.Command == "" {
		return nil, mcperr.New(mcperr.Configuration, "command cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Connection, err, "failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Connection, err, "failed to open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Connection, err, "failed to open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, mcperr.Wrap(mcperr.Connection, err, "failed to spawn %q", spec.Command)
	}

	t := &Transport{
		spec:           spec,
		createdAt:      time.Now(),
		log:            log,
		cmd:            cmd,
		stdin:          stdin,
		status:         StatusConnecting,
		waitDone:       make(chan struct{}),
		onStatusChange: onStatusChange,
	}

	t.conn = newConn(stdout, stdin, log)
	t.conn.onExit = t.handleReaderExit

	go t.forwardStderr(stderr)
	go t.waitProcess()

	return t, nil
}

func (t *Transport) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		t.log.Debug("mcp: server stderr", "server", t.spec.Command, "line", scanner.Text())
	}
}

// waitProcess reaps the child exactly once and records its exit status.
func (t *Transport) waitProcess() {
	err := t.cmd.Wait()
	t.mu.Lock()
	reason := exitReason(t.cmd, err)
	t.mu.Unlock()
	close(t.waitDone)
	// In the common case the reader's EOF races this goroutine; whichever
	// arrives first wins via finishOnce, so this is a safety net for
	// children that exit without fully closing stdout first.
	t.finish(reason)
}

func exitReason(cmd *exec.Cmd, waitErr error) string {
	if cmd.ProcessState != nil {
		return fmt.Sprintf("exited with code %d", cmd.ProcessState.ExitCode())
	}
	if waitErr != nil {
		return waitErr.Error()
	}
	return "stream closed"
}

// handleReaderExit is conn's onExit callback, invoked from the reader
// goroutine once the stdout stream ends.
func (t *Transport) handleReaderExit(reason string) {
	select {
	case <-t.waitDone:
		t.mu.Lock()
		r := exitReason(t.cmd, nil)
		t.mu.Unlock()
		t.finish(r)
	case <-time.After(200 * time.Millisecond):
		t.finish(reason)
	}
}

// finish performs the one-way terminal transition exactly once.
func (t *Transport) finish(reason string) {
	t.finishOnce.Do(func() {
		t.mu.Lock()
		prev := t.status
		unexpected := !t.closeRequested
		if t.closeRequested {
			reason = "requested"
		}
		if prev == StatusConnecting {
			t.status = StatusErrored
		} else {
			t.status = StatusDisconnected
		}
		t.disconnectReason = reason
		t.mu.Unlock()

		if t.onStatusChange != nil {
			t.onStatusChange(t.status, reason, unexpected)
		}
	})
}

// markConnected records the first successful send/recv, transitioning
// Connecting -> Connected. A no-op once already past Connecting.
func (t *Transport) markConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusConnecting {
		t.status = StatusConnected
	}
}

// Status returns the transport's current lifecycle state.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// DisconnectReason returns the reason recorded at the last terminal
// transition, or "" if the transport is still live.
func (t *Transport) DisconnectReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnectReason
}

// LaunchSpec returns the immutable spec the transport was spawned with.
func (t *Transport) LaunchSpec() LaunchSpec { return t.spec }

// CreatedAt returns the transport's creation timestamp.
func (t *Transport) CreatedAt() time.Time { return t.createdAt }

// SendRequest writes one JSON-RPC request and awaits its correlated
// response, bounded by timeout. The in-flight slot is always removed by
// the time SendRequest returns, regardless of outcome.
func (t *Transport) SendRequest(ctx context.Context, id uint64, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	s, err := t.conn.register(id)
	if err != nil {
		return nil, mcperr.WithServer(mcperr.Wrap(mcperr.Connection, err, "cannot send request"), t.spec.Command)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.conn.send(callCtx, method, params, id); err != nil {
		t.conn.unregister(id)
		return nil, mcperr.Wrap(mcperr.Connection, err, "failed to write request id %d", id)
	}

	select {
	case res := <-s.ch:
		if res.err != nil {
			if rpcErr, ok := res.err.(*rpcError); ok {
				return nil, mcperr.New(mcperr.Protocol, "server error (code %d): %s", rpcErr.Code, rpcErr.Message)
			}
			if res.err.Error() == "response carries both result and error" {
				return nil, mcperr.New(mcperr.Protocol, "response for id %d carries both result and error", id)
			}
			if strings.Contains(res.err.Error(), "oversized line") {
				return nil, mcperr.Wrap(mcperr.Protocol, res.err, "request id %d failed", id)
			}
			return nil, mcperr.Wrap(mcperr.Connection, res.err, "request id %d failed", id)
		}
		t.markConnected()
		return res.result, nil
	case <-callCtx.Done():
		t.conn.unregister(id)
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, mcperr.New(mcperr.Connection, "response timeout for id %d", id)
		}
		return nil, callCtx.Err()
	}
}

// Notify writes a JSON-RPC notification (no id, no response expected).
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if err := t.conn.send(ctx, method, params, 0); err != nil {
		return mcperr.Wrap(mcperr.Connection, err, "failed to write notification %q", method)
	}
	return nil
}

// Close terminates the child process and reaps it. It closes stdin, sends
// an interrupt, waits a bounded grace period for a clean exit, and escalates
// to Kill if the child hasn't exited in time. Close is idempotent.
func (t *Transport) Close(reason string) error {
	t.mu.Lock()
	if t.closeRequested {
		t.mu.Unlock()
		<-t.waitDone
		return nil
	}
	t.closeRequested = true
	t.mu.Unlock()

	_ = t.stdin.Close()

	if t.cmd.Process != nil {
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = t.cmd.Process.Kill()
		} else {
			select {
			case <-t.waitDone:
			case <-time.After(killGrace):
				_ = t.cmd.Process.Kill()
			}
		}
	}

	<-t.waitDone
	t.finish(reason)
	return nil
}
