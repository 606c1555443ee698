package comms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === ТЕСТЫ ПРОСЛУШКИ ===

func TestLineTap_RequiresGroup(t *testing.T) {
	tap := NewLineTapServer(nil)
	srv := httptest.NewServer(tap)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLineTap_PublishToSubscribers(t *testing.T) {
	tap := NewLineTapServer(nil)
	srv := httptest.NewServer(tap)
	defer srv.Close()
	defer tap.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?group=north"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return tap.Subscribers("north") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, tap.Subscribers("south"))

	payload := []byte{0x42, 0x43, 0x44}
	assert.Equal(t, 1, tap.Publish("north", payload))
	assert.Zero(t, tap.Publish("south", payload), "у группы нет клиентов")
	payload[0] = 0

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte{0x42, 0x43, 0x44}, data, "нагрузка копируется при публикации")

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return tap.Subscribers("north") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, tap.Publish("north", payload))
}

func TestLineTap_SlowSubscriberDrops(t *testing.T) {
	tap := NewLineTapServer(nil)
	sub := &tapSubscriber{id: "slow", group: "north", send: make(chan []byte, 1)}
	tap.subscribe(sub)

	assert.Equal(t, 1, tap.Publish("north", []byte{1}))
	assert.Equal(t, 0, tap.Publish("north", []byte{2}), "очередь полна, нагрузка отброшена")

	tap.unsubscribe(sub)
	tap.unsubscribe(sub)
	_, open := <-sub.send
	assert.True(t, open, "в очереди осталась первая нагрузка")
	_, open = <-sub.send
	assert.False(t, open, "очередь закрыта")
}
