package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrTransportClosed indicates the connection to signal-cli is gone.
var ErrTransportClosed = errors.New("transport closed")

// Transport is a JSON-RPC connection to signal-cli.
type Transport interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params any) (*json.RawMessage, error)

	// Subscribe returns the notification stream. It is closed when the
	// connection ends.
	Subscribe(ctx context.Context) (<-chan *Notification, error)

	// Close closes the transport.
	Close() error
}

// Notification represents a JSON-RPC notification.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// MockTransport implements Transport for testing.
type MockTransport struct {
	responses     map[string]mockResponse
	calls         map[string][]any
	notifications chan *Notification
	mu            sync.RWMutex
	closed        bool
}

type mockResponse struct {
	result *json.RawMessage
	err    error
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:     make(map[string]mockResponse),
		calls:         make(map[string][]any),
		notifications: make(chan *Notification, 100),
	}
}

// SetResult marshals result as the response for method.
func (m *MockTransport) SetResult(method string, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		panic(fmt.Sprintf("marshal mock result: %v", err))
	}
	raw := json.RawMessage(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = mockResponse{result: &raw}
}

// SetError sets an error response for method.
func (m *MockTransport) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = mockResponse{err: err}
}

// GetCalls returns the params of every call to method.
func (m *MockTransport) GetCalls(method string) []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]any, len(m.calls[method]))
	copy(out, m.calls[method])
	return out
}

// Call implements Transport.Call.
func (m *MockTransport) Call(ctx context.Context, method string, params any) (*json.RawMessage, error) {
	m.mu.Lock()
	m.calls[method] = append(m.calls[method], params)
	response, ok := m.responses[method]
	closed := m.closed
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if closed {
		return nil, ErrTransportClosed
	}
	if !ok {
		return nil, fmt.Errorf("no mock response configured for method: %s", method)
	}
	return response.result, response.err
}

// Subscribe implements Transport.Subscribe.
func (m *MockTransport) Subscribe(_ context.Context) (<-chan *Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrTransportClosed
	}
	return m.notifications, nil
}

// SimulateNotification sends a notification to subscribers.
func (m *MockTransport) SimulateNotification(notif *Notification) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.closed {
		m.notifications <- notif
	}
}

// SimulateEnvelope wraps env in a receive notification.
func (m *MockTransport) SimulateEnvelope(env *Envelope) {
	params, err := json.Marshal(map[string]any{"envelope": env})
	if err != nil {
		panic(fmt.Sprintf("marshal envelope: %v", err))
	}
	m.SimulateNotification(&Notification{JSONRPC: "2.0", Method: "receive", Params: params})
}

// Close implements Transport.Close.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.notifications)
	}
	return nil
}

// IsClosed returns whether the transport is closed.
func (m *MockTransport) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
