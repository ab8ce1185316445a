package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer sits on the other end of two in-memory pipes connected to a
// conn, standing in for "the server": a goroutine records whatever the
// conn writes, and the test scripts responses by writing to toConn.
type fakeServer struct {
	toConn   *io.PipeWriter
	fromConn *io.PipeReader
	mu       sync.Mutex
	written  [][]byte
}

func newFakeServer() (*conn, *fakeServer) {
	clientIn, serverOut := io.Pipe()  // server writes here, conn reads
	serverIn, clientOut := io.Pipe()  // conn writes here, server reads

	fs := &fakeServer{toConn: serverOut, fromConn: serverIn}
	go fs.drain()

	c := newConn(clientIn, clientOut, nil)
	return c, fs
}

func (fs *fakeServer) drain() {
	dec := json.NewDecoder(fs.fromConn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return
		}
		fs.mu.Lock()
		fs.written = append(fs.written, append([]byte(nil), raw...))
		fs.mu.Unlock()
	}
}

func (fs *fakeServer) respond(t *testing.T, id uint64, result any) {
	t.Helper()
	payload, err := json.Marshal(result)
	require.NoError(t, err)
	raw := json.RawMessage(payload)
	resp := response{JSONRPC: jsonrpcVersion, ID: &id, Result: &raw}
	line, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = fs.toConn.Write(append(line, '\n'))
	require.NoError(t, err)
}

func (fs *fakeServer) respondError(t *testing.T, id uint64, code int, message string) {
	t.Helper()
	resp := response{JSONRPC: jsonrpcVersion, ID: &id, Error: &rpcError{Code: code, Message: message}}
	line, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = fs.toConn.Write(append(line, '\n'))
	require.NoError(t, err)
}

func TestConnCorrelatesResponseToCorrectSlot(t *testing.T) {
	c, fs := newFakeServer()
	defer fs.toConn.Close()

	s, err := c.register(7)
	require.NoError(t, err)
	require.NoError(t, c.send(context.Background(), "tools/list", nil, 7))

	fs.respond(t, 7, map[string]string{"ok": "yes"})

	select {
	case r := <-s.ch:
		require.NoError(t, r.err)
		assert.JSONEq(t, `{"ok":"yes"}`, string(r.result))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestConnOutOfOrderResponsesGoToCorrectCaller(t *testing.T) {
	c, fs := newFakeServer()
	defer fs.toConn.Close()

	sA, err := c.register(1)
	require.NoError(t, err)
	require.NoError(t, c.send(context.Background(), "m", nil, 1))

	sB, err := c.register(2)
	require.NoError(t, err)
	require.NoError(t, c.send(context.Background(), "m", nil, 2))

	// B's response arrives before A's.
	fs.respond(t, 2, "B")
	fs.respond(t, 1, "A")

	var gotA, gotB string
	select {
	case r := <-sA.ch:
		require.NoError(t, r.err)
		json.Unmarshal(r.result, &gotA)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout A")
	}
	select {
	case r := <-sB.ch:
		require.NoError(t, r.err)
		json.Unmarshal(r.result, &gotB)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout B")
	}

	assert.Equal(t, "A", gotA)
	assert.Equal(t, "B", gotB)
}

func TestConnDropsResponseForUnknownID(t *testing.T) {
	c, fs := newFakeServer()
	defer fs.toConn.Close()

	s, err := c.register(1)
	require.NoError(t, err)
	require.NoError(t, c.send(context.Background(), "m", nil, 1))

	// Unsolicited response for an id nobody registered.
	fs.respond(t, 99, "ghost")
	// The real response follows; it must still reach the waiting caller.
	fs.respond(t, 1, "real")

	select {
	case r := <-s.ch:
		require.NoError(t, r.err)
		var got string
		json.Unmarshal(r.result, &got)
		assert.Equal(t, "real", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnServerErrorBecomesDeliveredError(t *testing.T) {
	c, fs := newFakeServer()
	defer fs.toConn.Close()

	s, err := c.register(5)
	require.NoError(t, err)
	require.NoError(t, c.send(context.Background(), "m", nil, 5))

	fs.respondError(t, 5, -32601, "method not found")

	select {
	case r := <-s.ch:
		require.Error(t, r.err)
		assert.Contains(t, r.err.Error(), "method not found")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnBothResultAndErrorIsProtocolViolation(t *testing.T) {
	c, fs := newFakeServer()
	defer fs.toConn.Close()

	s, err := c.register(3)
	require.NoError(t, err)
	require.NoError(t, c.send(context.Background(), "m", nil, 3))

	raw := json.RawMessage(`{"weird":true}`)
	id := uint64(3)
	resp := response{JSONRPC: jsonrpcVersion, ID: &id, Result: &raw, Error: &rpcError{Code: 1, Message: "also an error"}}
	line, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = fs.toConn.Write(append(line, '\n'))
	require.NoError(t, err)

	select {
	case r := <-s.ch:
		require.Error(t, r.err)
		assert.Contains(t, r.err.Error(), "both result and error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnMalformedLinesAreSkippedNotFatal(t *testing.T) {
	c, fs := newFakeServer()
	defer fs.toConn.Close()

	s, err := c.register(1)
	require.NoError(t, err)
	require.NoError(t, c.send(context.Background(), "m", nil, 1))

	_, err = fs.toConn.Write([]byte("not json at all\n"))
	require.NoError(t, err)
	fs.respond(t, 1, "fine")

	select {
	case r := <-s.ch:
		require.NoError(t, r.err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: malformed line should not have killed the reader")
	}
}

func TestConnUnregisterIsIdempotent(t *testing.T) {
	c, _ := newFakeServer()
	c.unregister(42)
	c.unregister(42)
}

// Ensure registering against a closed conn fails cleanly rather than
// leaking a slot nobody will ever fulfill.
func TestConnRegisterAfterShutdownFails(t *testing.T) {
	in, inW := io.Pipe()
	var out bytes.Buffer
	c := newConn(in, &out, nil)
	inW.Close() // EOF triggers shutdown

	time.Sleep(50 * time.Millisecond)
	_, err := c.register(1)
	assert.Error(t, err)
}
