package presence

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/synest-overlay/internal/domain"
	"github.com/genricoloni/synest-overlay/internal/presence/mocks"
	"github.com/gorilla/websocket"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const testUserID = "94490510688792576"

// TestHandleMessage_Events verifies that presence events become snapshots.
func TestHandleMessage_Events(t *testing.T) {
	tests := []struct {
		name     string
		msg      message
		wantKind domain.SnapshotKind
	}{
		{
			name: "Init State With Spotify",
			msg: message{
				Op:   opEvent,
				Type: eventInitState,
				Data: json.RawMessage(`{"spotify":{"song":"Song","artist":"Artist"},"activities":[]}`),
			},
			wantKind: domain.SnapshotPrimary,
		},
		{
			name: "Presence Update With Activities",
			msg: message{
				Op:   opEvent,
				Seq:  4,
				Type: eventPresenceUpdate,
				Data: json.RawMessage(`{"spotify":null,"activities":[{"type":2,"name":"Deezer"}]}`),
			},
			wantKind: domain.SnapshotActivities,
		},
		{
			name: "Presence Update With Null Data",
			msg: message{
				Op:   opEvent,
				Type: eventPresenceUpdate,
				Data: json.RawMessage(`null`),
			},
			wantKind: domain.SnapshotAbsent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(zap.NewNop(), &mockConfig{}, nil)
			c.handleMessage(tt.msg)

			select {
			case snap := <-c.Events():
				if snap.Kind != tt.wantKind {
					t.Errorf("Kind: expected %v, got %v", tt.wantKind, snap.Kind)
				}
			default:
				t.Fatal("Event was not emitted")
			}
		})
	}
}

// TestHandleMessage_Ignored consolidates frames that must not produce events.
func TestHandleMessage_Ignored(t *testing.T) {
	tests := []struct {
		name string
		msg  message
	}{
		{name: "Hello Frame", msg: message{Op: opHello, Data: json.RawMessage(`{"heartbeat_interval":30000}`)}},
		{name: "Heartbeat Frame", msg: message{Op: opHeartbeat}},
		{name: "Unknown Event", msg: message{Op: opEvent, Type: "KV_UPDATE", Data: json.RawMessage(`{}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(zap.NewNop(), &mockConfig{}, nil)
			c.handleMessage(tt.msg)

			select {
			case snap := <-c.Events():
				t.Errorf("Should NOT emit event, got %+v", snap)
			default:
			}
		})
	}
}

func TestEmit_DropsOldestWhenFull(t *testing.T) {
	c := NewClient(zap.NewNop(), &mockConfig{}, nil)

	for i := 0; i < eventBufferSize; i++ {
		c.emit(domain.Snapshot{Kind: domain.SnapshotAbsent})
	}
	c.emit(domain.Snapshot{Kind: domain.SnapshotPrimary})

	if got := len(c.Events()); got != eventBufferSize {
		t.Fatalf("expected %d buffered events, got %d", eventBufferSize, got)
	}

	var last domain.Snapshot
	for len(c.Events()) > 0 {
		last = <-c.Events()
	}
	if last.Kind != domain.SnapshotPrimary {
		t.Errorf("expected newest snapshot to be kept, got %v", last.Kind)
	}
}

// TestSession covers the handshake and read loop against a mocked socket.
func TestSession(t *testing.T) {
	readErr := errors.New("connection reset")

	tests := []struct {
		name          string
		setupMock     func(*mocks.MockConn)
		expectedError error
		expectEvent   bool
	}{
		{
			name: "Success - Hello, Initialize, Event",
			setupMock: func(m *mocks.MockConn) {
				gomock.InOrder(
					m.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{
						Op:   opHello,
						Data: json.RawMessage(`{"heartbeat_interval":60000}`),
					})),
					m.EXPECT().WriteJSON(outgoing{
						Op:   opInitialize,
						Data: initialize{SubscribeToID: testUserID},
					}).Return(nil),
					m.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{
						Op:   opEvent,
						Type: eventInitState,
						Data: json.RawMessage(`{"activities":[{"type":2,"name":"Spotify","details":"S"}]}`),
					})),
					m.EXPECT().ReadJSON(gomock.Any()).Return(readErr),
				)
				m.EXPECT().Close().Return(nil)
			},
			expectedError: readErr,
			expectEvent:   true,
		},
		{
			name: "Failure - First Frame Is Not Hello",
			setupMock: func(m *mocks.MockConn) {
				m.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{Op: opEvent, Type: eventInitState}))
				m.EXPECT().Close().Return(nil)
			},
			expectedError: ErrUnexpectedHello,
		},
		{
			name: "Failure - Initialize Write Fails",
			setupMock: func(m *mocks.MockConn) {
				m.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{Op: opHello}))
				m.EXPECT().WriteJSON(gomock.Any()).Return(readErr)
				m.EXPECT().Close().Return(nil)
			},
			expectedError: readErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			conn := mocks.NewMockConn(ctrl)
			allowKeepalive(conn)
			tt.setupMock(conn)

			c := NewClient(zap.NewNop(), &mockConfig{}, &fakeDialer{conn: conn})
			err := c.session(context.Background())

			if !errors.Is(err, tt.expectedError) {
				t.Errorf("expected error %v, got %v", tt.expectedError, err)
			}

			select {
			case snap := <-c.Events():
				if !tt.expectEvent {
					t.Errorf("Unexpected event emitted: %+v", snap)
				}
			default:
				if tt.expectEvent {
					t.Error("Expected event was not emitted")
				}
			}
		})
	}
}

func TestSession_SendsHeartbeats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conn := mocks.NewMockConn(ctrl)
	allowKeepalive(conn)
	beat := make(chan struct{}, 1)

	conn.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{
		Op:   opHello,
		Data: json.RawMessage(`{"heartbeat_interval":10}`),
	}))
	conn.EXPECT().WriteJSON(gomock.Any()).Return(nil)
	conn.EXPECT().WriteJSON(outgoing{Op: opHeartbeat}).DoAndReturn(func(any) error {
		select {
		case beat <- struct{}{}:
		default:
		}
		return nil
	}).MinTimes(1)
	conn.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(func(any) error {
		<-beat
		return errors.New("done")
	})
	conn.EXPECT().Close().Return(nil)

	c := NewClient(zap.NewNop(), &mockConfig{}, &fakeDialer{conn: conn})
	if err := c.session(context.Background()); err == nil {
		t.Fatal("expected session to end with the read error")
	}
}

// TestSession_HeartbeatFailureDropsConnection verifies that a failed keepalive
// write tears the session down instead of leaving the read blocked.
func TestSession_HeartbeatFailureDropsConnection(t *testing.T) {
	brokenPipe := errors.New("broken pipe")

	tests := []struct {
		name      string
		setupMock func(*mocks.MockConn)
	}{
		{
			name: "Heartbeat Write Fails",
			setupMock: func(m *mocks.MockConn) {
				m.EXPECT().WriteJSON(outgoing{Op: opHeartbeat}).Return(brokenPipe)
			},
		},
		{
			name: "Ping Write Fails",
			setupMock: func(m *mocks.MockConn) {
				m.EXPECT().WriteJSON(outgoing{Op: opHeartbeat}).Return(nil)
				m.EXPECT().WriteControl(websocket.PingMessage, gomock.Any(), gomock.Any()).Return(brokenPipe)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			conn := mocks.NewMockConn(ctrl)
			closed := make(chan struct{})

			conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
			conn.EXPECT().SetPongHandler(gomock.Any())
			gomock.InOrder(
				conn.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{
					Op:   opHello,
					Data: json.RawMessage(`{"heartbeat_interval":10}`),
				})),
				conn.EXPECT().WriteJSON(outgoing{Op: opInitialize, Data: initialize{SubscribeToID: testUserID}}).Return(nil),
			)
			tt.setupMock(conn)
			// The read only returns once the socket is closed
			conn.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(func(any) error {
				select {
				case <-closed:
					return net.ErrClosed
				case <-time.After(2 * time.Second):
					return errors.New("read was never unblocked")
				}
			})
			conn.EXPECT().Close().DoAndReturn(func() error {
				close(closed)
				return nil
			})

			c := NewClient(zap.NewNop(), &mockConfig{}, &fakeDialer{conn: conn})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			start := time.Now()
			err := c.session(ctx)

			if !errors.Is(err, net.ErrClosed) {
				t.Fatalf("expected session to end with a closed socket, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("session took %v to notice the failed heartbeat", elapsed)
			}
			if ctx.Err() != nil {
				t.Error("session ended only because the outer context expired")
			}
		})
	}
}

// TestSession_ReadDeadlineFollowsHeartbeat checks that every read and every
// pong pushes the deadline to twice the heartbeat interval.
func TestSession_ReadDeadlineFollowsHeartbeat(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conn := mocks.NewMockConn(ctrl)

	var (
		mu      sync.Mutex
		windows []time.Duration
		onPong  func(string) error
	)
	conn.EXPECT().SetReadDeadline(gomock.Any()).DoAndReturn(func(d time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		windows = append(windows, time.Until(d))
		return nil
	}).AnyTimes()
	conn.EXPECT().SetPongHandler(gomock.Any()).Do(func(h func(string) error) {
		onPong = h
	})
	gomock.InOrder(
		conn.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{
			Op:   opHello,
			Data: json.RawMessage(`{"heartbeat_interval":60000}`),
		})),
		conn.EXPECT().WriteJSON(gomock.Any()).Return(nil),
		conn.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(frame(message{Op: opEvent, Type: "KV_UPDATE"})),
		conn.EXPECT().ReadJSON(gomock.Any()).Return(errors.New("i/o timeout")),
	)
	conn.EXPECT().Close().Return(nil)

	c := NewClient(zap.NewNop(), &mockConfig{}, &fakeDialer{conn: conn})
	if err := c.session(context.Background()); err == nil {
		t.Fatal("expected session to end with the read error")
	}

	if onPong == nil {
		t.Fatal("pong handler was not installed")
	}
	if err := onPong(""); err != nil {
		t.Fatalf("pong handler failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(windows) != 4 {
		t.Fatalf("expected 4 deadline updates (hello, 2 reads, pong), got %d", len(windows))
	}
	if w := windows[0]; w > helloTimeout || w < helloTimeout-time.Second {
		t.Errorf("hello deadline: expected about %v, got %v", helloTimeout, w)
	}
	want := 2 * time.Minute
	for i, w := range windows[1:] {
		if w > want || w < want-time.Second {
			t.Errorf("deadline %d: expected about %v, got %v", i+1, want, w)
		}
	}
}

// TestClient_EndToEnd runs the real dialer against a relay served by httptest.
func TestClient_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": 30000}})

		var sub struct {
			Op int        `json:"op"`
			D  initialize `json:"d"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.D.SubscribeToID

		_ = conn.WriteJSON(map[string]any{
			"op": opEvent,
			"t":  eventInitState,
			"d":  map[string]any{"spotify": map[string]any{"song": "Live Song", "artist": "Live Artist"}},
		})

		// Hold the socket open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := &mockConfig{url: "ws" + strings.TrimPrefix(server.URL, "http")}
	c := NewClient(zap.NewNop(), cfg, NewWSDialer())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case id := <-subscribed:
		if id != testUserID {
			t.Errorf("subscribed to %q, want %q", id, testUserID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout: client never subscribed")
	}

	select {
	case snap := <-c.Events():
		if snap.Kind != domain.SnapshotPrimary || snap.Primary.Song != "Live Song" {
			t.Errorf("unexpected snapshot: %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout: event was not emitted")
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout: Start did not return after Stop")
	}

	if _, ok := <-c.Events(); ok {
		t.Error("expected events channel to be closed")
	}
}

func TestStop_WithoutStart(t *testing.T) {
	c := NewClient(zap.NewNop(), &mockConfig{}, nil)
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// allowKeepalive accepts deadline, pong and ping calls in any number
func allowKeepalive(m *mocks.MockConn) {
	m.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	m.EXPECT().SetPongHandler(gomock.Any()).AnyTimes()
	m.EXPECT().WriteControl(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// frame returns a ReadJSON implementation that fills the target with msg
func frame(msg message) func(v any) error {
	return func(v any) error {
		*(v.(*message)) = msg
		return nil
	}
}

type fakeDialer struct {
	conn Conn
	err  error
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	return d.conn, d.err
}

// mockConfig is a simple implementation of domain.Config for testing
type mockConfig struct {
	url string
}

func (m *mockConfig) GetUserID() string          { return testUserID }
func (m *mockConfig) GetSocketURL() string       { return m.url }
func (m *mockConfig) GetListenAddr() string      { return ":0" }
func (m *mockConfig) GetThrottle() time.Duration { return 0 }
func (m *mockConfig) GetStateDir() string        { return "/tmp/synest-test" }
func (m *mockConfig) GetColorEnabled() bool      { return true }
