package realtime

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pulse/internal/configs"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// fakeTransport is an in-memory Transport. Frames the server writes appear on outbound.
type fakeTransport struct {
	inbound  chan []byte
	outbound chan []byte

	peer      chan struct{}
	peerOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	// stall blocks every data write until the transport closes.
	stall atomic.Bool

	closeCode atomic.Int32

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 1024),
		peer:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	deadline := f.readDeadline
	f.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case msg := <-f.inbound:
		return websocket.TextMessage, msg, nil
	case <-f.peer:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-f.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}

	if messageType != websocket.TextMessage {
		return nil
	}

	if f.stall.Load() {
		f.mu.Lock()
		deadline := f.writeDeadline
		f.mu.Unlock()

		select {
		case <-f.closed:
			return net.ErrClosed
		case <-time.After(time.Until(deadline)):
			return timeoutError{}
		}
	}

	select {
	case f.outbound <- append([]byte(nil), data...):
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.closeCode.Store(int32(binary.BigEndian.Uint16(data[:2])))
	}
	return nil
}

func (f *fakeTransport) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.readDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	f.writeDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetReadLimit(int64) {}

func (f *fakeTransport) SetPongHandler(func(string) error) {}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// peerClose simulates the client closing the connection.
func (f *fakeTransport) peerClose() {
	f.peerOnce.Do(func() { close(f.peer) })
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (w wireFrame) string(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(w.Data, &s))
	return s
}

func (w wireFrame) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Data, dst))
}

func testConfig() configs.RealtimeConfig {
	return configs.RealtimeConfig{
		SessionPolicy:     configs.SessionPolicyReplace,
		OutboundQueueSize: 64,
		JoinTimeout:       5 * time.Second,
		IdleTimeout:       5 * time.Second,
		WriteTimeout:      time.Second,
		MaxFrameBytes:     32768,
		MaxContentBytes:   5000,
		StateShards:       8,
		EventRate:         1000,
		EventBurst:        1000,
		ObserverQueueSize: 64,
	}
}

// testClient drives one connection served by a hub.
type testClient struct {
	t    *testing.T
	ft   *fakeTransport
	done chan struct{}
}

func connect(t *testing.T, h *Hub, verifiedID string) *testClient {
	t.Helper()

	tc := &testClient{t: t, ft: newFakeTransport(), done: make(chan struct{})}
	go func() {
		defer close(tc.done)
		h.Serve(tc.ft, verifiedID)
	}()

	t.Cleanup(func() {
		tc.ft.peerClose()
		<-tc.done
	})
	return tc
}

func (tc *testClient) send(event string, data any) {
	tc.t.Helper()

	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(tc.t, err)
	tc.ft.inbound <- raw
}

func (tc *testClient) sendRaw(raw string) {
	tc.ft.inbound <- []byte(raw)
}

// join announces userID and waits for the online_users snapshot that completes it.
func (tc *testClient) join(userID string) []string {
	tc.t.Helper()

	tc.send(EventJoin, userID)
	f := tc.waitFor(EventOnlineUsers)

	var users []string
	f.decode(tc.t, &users)
	return users
}

func (tc *testClient) next() wireFrame {
	tc.t.Helper()

	select {
	case raw := <-tc.ft.outbound:
		var f wireFrame
		require.NoError(tc.t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		tc.t.Fatal("timed out waiting for a frame")
		return wireFrame{}
	}
}

// waitFor skips frames until one named event arrives.
func (tc *testClient) waitFor(event string) wireFrame {
	tc.t.Helper()

	for {
		if f := tc.next(); f.Event == event {
			return f
		}
	}
}

// drain collects frames until none arrive for quiet.
func (tc *testClient) drain(quiet time.Duration) []wireFrame {
	tc.t.Helper()

	var frames []wireFrame
	for {
		select {
		case raw := <-tc.ft.outbound:
			var f wireFrame
			require.NoError(tc.t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		case <-time.After(quiet):
			return frames
		}
	}
}

func (tc *testClient) waitClosed() {
	tc.t.Helper()

	select {
	case <-tc.done:
	case <-time.After(3 * time.Second):
		tc.t.Fatal("connection did not close")
	}
}

func count(frames []wireFrame, event string) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

var errObserver = errors.New("observer failed")
