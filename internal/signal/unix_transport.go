package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// UnixSocketTransport implements Transport over signal-cli's line-delimited
// JSON-RPC socket.
type UnixSocketTransport struct {
	conn          net.Conn
	pending       map[string]chan *rpcResponse
	notifications chan *Notification
	done          chan struct{}
	closeOnce     sync.Once
	requestID     atomic.Uint64
	pendingMu     sync.Mutex
}

// DialUnixSocket connects to the signal-cli daemon socket.
func DialUnixSocket(ctx context.Context, socketPath string) (*UnixSocketTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signal-cli socket: %w", err)
	}

	t := &UnixSocketTransport{
		conn:          conn,
		pending:       make(map[string]chan *rpcResponse),
		notifications: make(chan *Notification, 100),
		done:          make(chan struct{}),
	}

	go t.readLoop()

	return t, nil
}

// Call implements Transport.Call.
func (t *UnixSocketTransport) Call(ctx context.Context, method string, params any) (*json.RawMessage, error) {
	id := "req-" + strconv.FormatUint(t.requestID.Add(1), 10)

	data, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respChan := make(chan *rpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if _, writeErr := fmt.Fprintf(t.conn, "%s\n", data); writeErr != nil {
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled while waiting for response: %w", ctx.Err())
	case <-t.done:
		return nil, ErrTransportClosed
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, &RPCError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return resp.Result, nil
	}
}

// readLoop routes responses to waiting calls and everything else to the
// notification stream until the connection ends.
func (t *UnixSocketTransport) readLoop() {
	defer close(t.done)
	defer close(t.notifications)

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024) // attachments arrive inline

	for scanner.Scan() {
		line := scanner.Bytes()

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err == nil && resp.ID != "" {
			t.pendingMu.Lock()
			if ch, ok := t.pending[resp.ID]; ok {
				ch <- &resp
			}
			t.pendingMu.Unlock()
			continue
		}

		var notif Notification
		if err := json.Unmarshal(line, &notif); err == nil && notif.Method != "" {
			t.notifications <- &notif
		}
	}
}

// Subscribe implements Transport.Subscribe.
func (t *UnixSocketTransport) Subscribe(_ context.Context) (<-chan *Notification, error) {
	return t.notifications, nil
}

// Done is closed when the connection ends.
func (t *UnixSocketTransport) Done() <-chan struct{} {
	return t.done
}

// Close implements Transport.Close.
func (t *UnixSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	// Unblock readLoop if it is waiting on a full notification buffer.
	go func() {
		for range t.notifications {
		}
	}()
	<-t.done
	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      string           `json:"id"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *rpcError        `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return "RPC error " + strconv.Itoa(e.Code) + ": " + e.Message
}
