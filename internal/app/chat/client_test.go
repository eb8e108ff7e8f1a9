package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nook/internal/app/chat"
	"nook/internal/app/events"
	"nook/internal/app/user"
)

type relay struct {
	reg    *chat.Registry
	events *events.Recorder
	url    string
}

// newRelay serves the chat relay with the identity taken from the "id" query parameter.
func newRelay(t *testing.T, tune ...func(*chat.Options)) *relay {
	t.Helper()

	rel := &relay{reg: chat.NewRegistry(), events: &events.Recorder{}}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		identity := user.Identity{ID: id, DisplayName: strings.ToUpper(id), Role: user.RoleMember}
		opts := chat.Options{
			Buffer:     16,
			PingPeriod: time.Second,
			Events:     rel.events,
		}
		for _, fn := range tune {
			fn(&opts)
		}

		client := chat.NewClient(rel.reg, conn, identity, opts)
		_ = client.Run(context.WithoutCancel(r.Context()))
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		assert.NoError(t, rel.reg.Shutdown(ctx))
		srv.Close()
	})

	rel.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return rel
}

func (rel *relay) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(rel.url+"?id="+id, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func (rel *relay) waitConnected(t *testing.T, ids ...string) {
	t.Helper()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !rel.reg.Connected(id) {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg chat.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := conn.ReadMessage()

	var netErr net.Error
	require.Error(t, err, "unexpected frame %s", data)
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected a read timeout, got %v", err)
}

func TestMessageReachesEveryoneButTheSender(t *testing.T) {
	rel := newRelay(t)
	a := rel.dial(t, "a")
	b := rel.dial(t, "b")
	c := rel.dial(t, "c")
	rel.waitConnected(t, "a", "b", "c")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello")))

	mb := readMessage(t, b)
	mc := readMessage(t, c)

	assert.Equal(t, "a", mb.From)
	assert.Equal(t, "A", mb.FromName)
	assert.Equal(t, "hello", mb.Content)
	assert.NotZero(t, mb.Timestamp)
	assert.Equal(t, mb, mc, "every recipient sees the same frame")

	assertSilent(t, a)
}

func TestMessagesFromOneSenderKeepTheirOrder(t *testing.T) {
	rel := newRelay(t)
	a := rel.dial(t, "a")
	b := rel.dial(t, "b")
	rel.waitConnected(t, "a", "b")

	want := []string{"one", "two", "three", "four", "five"}
	for _, text := range want {
		require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(text)))
	}

	for _, text := range want {
		assert.Equal(t, text, readMessage(t, b).Content)
	}
}

func TestBinaryFramesAreIgnored(t *testing.T) {
	rel := newRelay(t)
	a := rel.dial(t, "a")
	b := rel.dial(t, "b")
	rel.waitConnected(t, "a", "b")

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0x00}))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("after")))

	assert.Equal(t, "after", readMessage(t, b).Content)
}

func TestLargeEncryptedPayloadIsRelayed(t *testing.T) {
	rel := newRelay(t)
	a := rel.dial(t, "a")
	b := rel.dial(t, "b")
	rel.waitConnected(t, "a", "b")

	// byte-array ciphertext plus wrapped keys for a handful of recipients
	keys := make([]string, 0, 4)
	for i := range 4 {
		keys = append(keys, `"r`+string(rune('0'+i))+`":[`+strings.Repeat("231,", 255)+`7]`)
	}
	payload := `{"ciphertext":[` + strings.Repeat("104,", 2000) + `0],"encrypted_keys":{` + strings.Join(keys, ",") + `}}`
	require.Greater(t, len(payload), 9000)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(payload)))

	assert.Equal(t, payload, readMessage(t, b).Content)
	assert.True(t, rel.reg.Connected("a"), "sender stays registered")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("still here")))
	assert.Equal(t, "still here", readMessage(t, b).Content)
}

func TestOversizedMessageIsDiscardedWithoutDisconnect(t *testing.T) {
	rel := newRelay(t, func(o *chat.Options) { o.MaxFrame = 64 })
	a := rel.dial(t, "a")
	b := rel.dial(t, "b")
	rel.waitConnected(t, "a", "b")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("z", 65))))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("fits")))

	assert.Equal(t, "fits", readMessage(t, b).Content)
	assert.True(t, rel.reg.Connected("a"))
	assertSilent(t, a)
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	rel := newRelay(t)
	old := rel.dial(t, "a")
	rel.waitConnected(t, "a")

	fresh := rel.dial(t, "a")
	b := rel.dial(t, "b")

	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := old.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, chat.WsCloseCodeSessionReplaced), "got %v", err)

	rel.waitConnected(t, "a", "b")
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte("still there?")))
	assert.Equal(t, "still there?", readMessage(t, fresh).Content)
	assert.Equal(t, 2, rel.reg.Len())
}

func TestDisconnectUnregistersOnce(t *testing.T) {
	rel := newRelay(t)
	a := rel.dial(t, "a")
	rel.dial(t, "b")
	rel.waitConnected(t, "a", "b")

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	require.Eventually(t, func() bool {
		return !rel.reg.Connected("a") && rel.events.Count(events.TypeDisconnect, "a") == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, rel.events.Count(events.TypeConnect, "a"))
	assert.True(t, rel.reg.Connected("b"))
}

func TestAbruptDisconnectUnregisters(t *testing.T) {
	rel := newRelay(t)
	a := rel.dial(t, "a")
	rel.waitConnected(t, "a")

	require.NoError(t, a.UnderlyingConn().Close())

	require.Eventually(t, func() bool {
		return !rel.reg.Connected("a")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownClosesConnections(t *testing.T) {
	rel := newRelay(t)
	a := rel.dial(t, "a")
	rel.waitConnected(t, "a")

	go func() { _ = rel.reg.Shutdown(context.Background()) }()

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return rel.reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
