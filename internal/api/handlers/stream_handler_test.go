package handlers_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lingocrowd/core/internal/api/handlers"
	"lingocrowd/core/internal/api/middleware"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/utils"
)

func streamServer(t *testing.T, f *apiFixture, fanout realtime.Fanout) *httptest.Server {
	t.Helper()
	handler := handlers.NewStreamHandler(fanout, f.conversations).WithHeartbeat(50 * time.Millisecond)
	r := gin.New()
	authed := r.Group("/v1", middleware.AuthMiddleware(f.cfg.JwtSecret))
	authed.GET("/stream", handler.UserStream)
	authed.GET("/conversation/:id/stream", handler.ConversationStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// readEvent returns the next "event:" name and its data line.
func readEvent(t *testing.T, lines *bufio.Scanner) (string, string) {
	t.Helper()
	var name, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		case line == "" && name != "":
			return name, data
		}
	}
	t.Fatalf("stream ended: %v", lines.Err())
	return "", ""
}

func TestStreamHandler_ConversationStreamDeliversAndTracksPresence(t *testing.T) {
	f := newApiFixture()
	hub := realtime.NewHub()
	srv := streamServer(t, f, hub)

	token, student := f.login(t, models.RoleStudent)
	conv := &models.Conversation{Base: models.NewBase(), StudentID: student.UserID, TeacherID: utils.NewSixID(), Status: models.ConversationOpen}
	f.conversations.On("GetConversation", mock.Anything, student, conv.ID).Return(conv, nil)
	channel := realtime.ConversationChannel(conv.ID)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/v1/conversation/"+conv.ID.String()+"/stream?access_token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	name, _ := readEvent(t, lines)
	require.Equal(t, "ready", name)

	present, err := hub.IsSubscriberPresent(ctx, student.UserID, channel)
	require.NoError(t, err)
	assert.True(t, present)

	ev, err := realtime.NewEvent(realtime.EventMessage, map[string]string{"content": "Hola"})
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, channel, ev))

	name, data := readEvent(t, lines)
	assert.Equal(t, realtime.EventMessage, name)
	assert.JSONEq(t, `{"content":"Hola"}`, data)

	cancel()
	assert.Eventually(t, func() bool {
		return hub.SubscriberCount(channel) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStreamHandler_ConversationStreamParticipantsOnly(t *testing.T) {
	f := newApiFixture()
	srv := streamServer(t, f, realtime.NewHub())

	token, moderator := f.login(t, models.RoleModerator)
	conv := &models.Conversation{Base: models.NewBase(), StudentID: utils.NewSixID(), TeacherID: utils.NewSixID()}
	f.conversations.On("GetConversation", mock.Anything, moderator, conv.ID).Return(conv, nil)

	req, _ := http.NewRequest("GET", srv.URL+"/v1/conversation/"+conv.ID.String()+"/stream", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// touchCounter is a Hub that counts presence renewals.
type touchCounter struct {
	*realtime.Hub
	touches atomic.Int32
}

func (c *touchCounter) Touch(ctx context.Context, channel string, sub *realtime.Subscriber) error {
	c.touches.Add(1)
	return c.Hub.Touch(ctx, channel, sub)
}

func TestStreamHandler_HeartbeatRenewsPresence(t *testing.T) {
	f := newApiFixture()
	fanout := &touchCounter{Hub: realtime.NewHub()}
	srv := streamServer(t, f, fanout)
	token, _ := f.login(t, models.RoleStudent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/v1/stream?access_token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	name, _ := readEvent(t, lines)
	require.Equal(t, "ready", name)
	name, _ = readEvent(t, lines)
	assert.Equal(t, "ping", name)
	assert.GreaterOrEqual(t, fanout.touches.Load(), int32(1))
}
