package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/openmined/syftupload/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsHandler_StreamsObserverEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newFakeUploads()

	r := gin.New()
	r.GET("/v1/uploads/events", NewEventsHandler(svc).Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/uploads/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return svc.observerCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	svc.emit(func(o upload.Observer) { o.OnQueued("/data/a.bin") })
	svc.emit(func(o upload.Observer) { o.OnFailed("/data/a.bin", errors.New("boom")) })

	var first, second upload.Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.NoError(t, wsjson.Read(ctx, conn, &second))

	assert.Equal(t, upload.EventQueued, first.Type)
	assert.Equal(t, "/data/a.bin", first.Path)
	assert.Equal(t, upload.EventFailed, second.Type)
	assert.Equal(t, "boom", second.Error)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestEventsHandler_RejectsPlainHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/uploads/events", nil)

	NewEventsHandler(newFakeUploads()).Stream(c)
	assert.Equal(t, 400, w.Code)
}
