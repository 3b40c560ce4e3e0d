package websocket

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnsync/pkg/types"
)

// echoConnection dials a server that writes every received frame back.
func echoConnection(t *testing.T) *Connection {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	raw, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	c := newConnection(raw, types.ChannelProgress, testSocketConfig())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	c := echoConnection(t)

	assert.Equal(t, types.ChannelProgress, c.Channel())
	assert.Equal(t, testSocketConfig().BufferSize, cap(c.writeCh))
}

func TestConnection_ReadLoopDeliversInOrder(t *testing.T) {
	c := echoConnection(t)

	var mu sync.Mutex
	var got []string
	closed := make(chan error, 1)
	go c.readLoop(func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	}, func(err error) { closed <- err })

	for i := 0; i < 20; i++ {
		require.NoError(t, c.WriteJSON(map[string]int{"n": i}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	for i, frame := range got {
		assert.JSONEq(t, `{"n":`+strconv.Itoa(i)+`}`, frame)
	}
	mu.Unlock()

	require.NoError(t, c.Close())
	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("onClosed not called")
	}
	<-c.Done()
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	c := echoConnection(t)

	err := c.WriteJSON(map[string]interface{}{"func": func() {}})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestConnection_CloseIdempotent(t *testing.T) {
	c := echoConnection(t)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestConnection_WriteAfterClose(t *testing.T) {
	c := echoConnection(t)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.WriteJSON(map[string]string{"type": "ping"}), ErrConnectionClosed)
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	c := echoConnection(t)

	const workers = 10
	const perWorker = 10

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = c.WriteJSON(map[string]int{"worker": id, "message": j})
			}
		}(i)
	}
	wg.Wait()
}
