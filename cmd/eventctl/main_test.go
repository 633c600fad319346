package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/pscheid92/eventrelay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out syncBuffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestParseTopics(t *testing.T) {
	topics, err := parseTopics([]string{"emote_set.update:01HQ8Z4V6XK3M2N5P7R9S1T3W5", "user.*"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Topic{
		domain.NewTopic(domain.EventEmoteSetUpdate, "01HQ8Z4V6XK3M2N5P7R9S1T3W5"),
		domain.NewTopic(domain.EventAnyUser, ""),
	}, topics)

	_, err = parseTopics([]string{"emote_set.update:01HQ8Z4V6XK3M2N5P7R9S1T3W5", "bogus.thing:x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)
	assert.Contains(t, err.Error(), `"bogus.thing:x"`)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
}

func TestWatchRequiresTopic(t *testing.T) {
	_, err := execute(t, context.Background(), "watch")
	require.Error(t, err)
}

func TestTopicsCommand_Table(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/topics", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "eventrelay/"))
		gotQuery = r.URL.Query().Get("type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ports":2,"handlers":3,"topics":[
			{"topic":{"type":"emote_set.update","id":"01HQ8Z4V6XK3M2N5P7R9S1T3W5"},"handlers":2},
			{"topic":{"type":"user.*"},"handlers":1}]}`))
	}))
	defer srv.Close()

	out, err := execute(t, context.Background(), "topics", "--api", srv.URL, "--type", "emote_set.*")
	require.NoError(t, err)

	assert.Equal(t, "emote_set.*", gotQuery)
	assert.Contains(t, out, "emote_set.update")
	assert.Contains(t, out, "01HQ8Z4V6XK3M2N5P7R9S1T3W5")
	assert.Regexp(t, `user\.\*\s+\*\s+1`, out)
	assert.Contains(t, out, "2 topics, 3 handlers, 2 ports")
}

func TestTopicsCommand_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ports":0,"handlers":0,"topics":[]}`))
	}))
	defer srv.Close()

	out, err := execute(t, context.Background(), "topics", "--api", srv.URL, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ports":0,"handlers":0,"topics":[]}`, out)
}

func TestTopicsCommand_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unknown event type","type":"validation"}`))
	}))
	defer srv.Close()

	_, err := execute(t, context.Background(), "topics", "--api", srv.URL, "--type", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay returned 400: unknown event type")
}

type stubUpstream struct{}

func (stubUpstream) Subscribe(domain.Topic) error   { return nil }
func (stubUpstream) Unsubscribe(domain.Topic) error { return nil }
func (stubUpstream) SubscriptionLimit() int         { return 0 }

func TestWatchCommand_PrintsDispatches(t *testing.T) {
	r := relay.New(relay.Config{}, stubUpstream{}, clockwork.NewRealClock())
	t.Cleanup(r.Stop)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		_ = r.ServePort(context.Background(), conn, relay.PortConfig{})
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"watch", "--relay", "ws" + strings.TrimPrefix(srv.URL, "http"), "emote_set.update:01HQ8Z4V6XK3M2N5P7R9S1T3W5"})

	errCh := make(chan error, 1)
	go func() { errCh <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return r.Snapshot().Handlers == 1 }, 2*time.Second, 10*time.Millisecond)

	r.OnDispatch(domain.Dispatch{
		Type: domain.EventEmoteSetUpdate,
		Body: domain.ChangeMap{ID: "01HQ8Z4V6XK3M2N5P7R9S1T3W5", Kind: domain.ObjectKindEmoteSet},
	})

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "01HQ8Z4V6XK3M2N5P7R9S1T3W5") }, 2*time.Second, 10*time.Millisecond)

	var d domain.Dispatch
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &d))
	assert.Equal(t, domain.EventEmoteSetUpdate, d.Type)
	assert.Equal(t, "01HQ8Z4V6XK3M2N5P7R9S1T3W5", d.Body.ID)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
