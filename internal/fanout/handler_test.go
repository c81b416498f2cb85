package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var e event.Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestHandlerStreamsSnapshotThenEvents(t *testing.T) {
	b := NewBroker(8, testLogger(), nil)
	subscribed := make(chan struct{}, 1)
	h := NewHandler(func(context.Context) (*Subscriber, error) {
		sub := b.Subscribe(event.Event{Seq: 4, SessionID: "s1", Type: event.TypeSnapshot,
			Snapshot: &event.Snapshot{State: event.StateActive}})
		subscribed <- struct{}{}
		return sub, nil
	}, b, HandlerConfig{}, testLogger())

	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, srv)

	<-subscribed
	b.Publish(event.Event{Seq: 5, SessionID: "s1", Type: event.TypeSessionEnded, Ended: &event.SessionEnded{}})
	b.CloseAll()

	first := readEvent(t, conn)
	assert.Equal(t, event.TypeSnapshot, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, event.StateActive, first.Snapshot.State)

	last := readEvent(t, conn)
	assert.Equal(t, uint64(5), last.Seq)
	assert.True(t, last.Terminal())

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestHandlerRejectsWhenFull(t *testing.T) {
	b := NewBroker(8, testLogger(), nil)
	b.Subscribe(event.Event{Type: event.TypeSnapshot})

	h := NewHandler(func(context.Context) (*Subscriber, error) {
		return b.Subscribe(event.Event{Type: event.TypeSnapshot}), nil
	}, b, HandlerConfig{MaxSubscribers: 1}, testLogger())

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
