package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/pkg/circuitbreaker"
	"freelancehub/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "push-test-secret"

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(testSecret, zap.NewNop())
	r := gin.New()
	r.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, userID int64) *websocket.Conn {
	t.Helper()
	token, err := util.GenerateJWT(userID, testSecret, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PushReachesRoom(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dial(t, srv, 20)
	require.Eventually(t, func() bool { return hub.Connections("user:20") == 1 }, time.Second, 10*time.Millisecond)

	msg := mqcontracts.NotificationPushPayload{
		Type:         mqcontracts.EventMilestoneFunded,
		Notification: mqcontracts.PushedInboxItem{ID: 3, UserID: 20, Title: "Milestone funded"},
	}
	require.NoError(t, hub.Push(context.Background(), "user:20", msg))
	require.NoError(t, hub.Push(context.Background(), "user:99", msg))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got mqcontracts.NotificationPushPayload
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, int64(3), got.Notification.ID)
}

func TestHub_RejectsMissingToken(t *testing.T) {
	_, srv := newHubServer(t)
	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dial(t, srv, 7)
	require.Eventually(t, func() bool { return hub.Connections("user:7") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections("user:7") == 0 }, 2*time.Second, 10*time.Millisecond)
}

type failingPusher struct{ calls int }

func (p *failingPusher) Push(context.Context, string, mqcontracts.NotificationPushPayload) error {
	p.calls++
	return errors.New("redis down")
}

func TestBreakerPusher_OpensAfterFailures(t *testing.T) {
	next := &failingPusher{}
	p := NewBreakerPusher(next, circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		assert.Error(t, p.Push(context.Background(), "user:1", mqcontracts.NotificationPushPayload{}))
	}
	assert.Equal(t, circuitbreaker.StateOpen, p.State())

	err := p.Push(context.Background(), "user:1", mqcontracts.NotificationPushPayload{})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, 2, next.calls)
}
