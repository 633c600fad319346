package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPortServer(t *testing.T, r *Relay, cfg PortConfig) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		_ = r.ServePort(context.Background(), conn, cfg)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialPort(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readPortMessage(t *testing.T, conn *websocket.Conn) PortMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg PortMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServePort_SubscribeAndReceive(t *testing.T) {
	r, upstream := newTestRelay(t, Config{})
	conn := dialPort(t, startPortServer(t, r, PortConfig{}))

	require.NoError(t, conn.WriteJSON(Request{
		Type:         RequestSubscribe,
		DispatchType: domain.EventEmoteSetUpdate,
		ID:           "01HQ8Z4V6XK3M2N5P7R9S1T3W5",
		HandlerID:    "h1",
	}))
	assert.Eventually(t, func() bool { return r.Snapshot().Handlers == 1 }, 2*time.Second, 10*time.Millisecond)

	r.OnDispatch(setUpdate("01HQ8Z4V6XK3M2N5P7R9S1T3W5"))

	msg := readPortMessage(t, conn)
	assert.Equal(t, []domain.HandlerID{"h1"}, msg.HandlerIDs)
	require.NotNil(t, msg.Payload)
	assert.Equal(t, domain.EventEmoteSetUpdate, msg.Payload.Type)
	assert.Equal(t, domain.ObjectKindEmoteSet, msg.Payload.Body.Kind)
	assert.Nil(t, msg.Error)

	subscribed, _ := upstream.calls()
	assert.Equal(t, []domain.Topic{setTopic}, subscribed)
}

func TestServePort_WireFormat(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	conn := dialPort(t, startPortServer(t, r, PortConfig{}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":0,"dispatchType":"user.update","id":"01HQ8Z4V6XK3M2N5P7R9S1T3W6","handlerId":"cb"}`)))
	assert.Eventually(t, func() bool { return r.Snapshot().Handlers == 1 }, 2*time.Second, 10*time.Millisecond)

	r.OnDispatch(domain.Dispatch{Type: domain.EventUserUpdate, Body: domain.ChangeMap{ID: "01HQ8Z4V6XK3M2N5P7R9S1T3W6", Kind: domain.ObjectKindUser}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"handlerIds":["cb"],"payload":{"type":"user.update","body":{"id":"01HQ8Z4V6XK3M2N5P7R9S1T3W6","kind":1}}}`, string(data))
}

func TestServePort_ErrorReplies(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	conn := dialPort(t, startPortServer(t, r, PortConfig{}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	msg := readPortMessage(t, conn)
	require.NotNil(t, msg.Error)
	assert.Equal(t, apperrors.TypeValidation, msg.Error.Type)

	require.NoError(t, conn.WriteJSON(Request{Type: RequestSubscribe, DispatchType: "nope.update", ID: "x", HandlerID: "h9"}))
	msg = readPortMessage(t, conn)
	require.NotNil(t, msg.Error)
	assert.Equal(t, apperrors.TypeValidation, msg.Error.Type)
	assert.Equal(t, domain.HandlerID("h9"), msg.Error.HandlerID)
}

func TestServePort_RateLimited(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	conn := dialPort(t, startPortServer(t, r, PortConfig{RateLimit: 0.001, RateBurst: 1}))

	require.NoError(t, conn.WriteJSON(Request{Type: RequestSubscribe, DispatchType: domain.EventEmoteSetUpdate, ID: "01HQ8Z4V6XK3M2N5P7R9S1T3W5", HandlerID: "a"}))
	require.NoError(t, conn.WriteJSON(Request{Type: RequestSubscribe, DispatchType: domain.EventEmoteSetUpdate, ID: "01HQ8Z4V6XK3M2N5P7R9S1T3W5", HandlerID: "b"}))

	msg := readPortMessage(t, conn)
	require.NotNil(t, msg.Error)
	assert.Equal(t, apperrors.TypeRateLimit, msg.Error.Type)
	assert.Equal(t, domain.HandlerID("b"), msg.Error.HandlerID)
	assert.Equal(t, 1, r.Snapshot().Handlers)
}

func TestServePort_DisconnectReleasesTopics(t *testing.T) {
	r, upstream := newTestRelay(t, Config{})
	conn := dialPort(t, startPortServer(t, r, PortConfig{}))

	require.NoError(t, conn.WriteJSON(Request{Type: RequestSubscribe, DispatchType: domain.EventEmoteSetUpdate, ID: "01HQ8Z4V6XK3M2N5P7R9S1T3W5", HandlerID: "h1"}))
	assert.Eventually(t, func() bool { return r.Snapshot().Handlers == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, unsubscribed := upstream.calls()
		return len(unsubscribed) == 1 && r.Snapshot().Ports == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServePort_RejectedWhenFull(t *testing.T) {
	r, _ := newTestRelay(t, Config{MaxPorts: 1})
	url := startPortServer(t, r, PortConfig{})
	dialPort(t, url)
	assert.Eventually(t, func() bool { return r.Snapshot().Ports == 1 }, 2*time.Second, 10*time.Millisecond)

	second := dialPort(t, url)

	msg := readPortMessage(t, second)
	require.NotNil(t, msg.Error)
	assert.Equal(t, apperrors.TypeRateLimit, msg.Error.Type)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWSPort_PingsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	upstream := &fakeUpstream{limit: 500}
	r := New(Config{}, upstream, clock)
	t.Cleanup(r.Stop)
	conn := dialPort(t, startPortServer(t, r, PortConfig{PingInterval: time.Minute}))

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Minute)

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
