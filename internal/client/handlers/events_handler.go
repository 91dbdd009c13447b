package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/openmined/syftupload/internal/upload"
)

const (
	eventBufferSize   = 256
	eventWriteTimeout = 10 * time.Second
)

type EventsHandler struct {
	uploads UploadService
}

func NewEventsHandler(uploads UploadService) *EventsHandler {
	return &EventsHandler{uploads: uploads}
}

// Stream godoc
//
//	@Summary		Stream upload events
//	@Description	Upgrades to a websocket and sends one JSON event per upload lifecycle change
//	@Tags			uploads
//	@Router			/v1/uploads/events [get]
//	@Security		APIToken
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local control plane, guarded by the token
	})
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Errorf("websocket accept failed: %w", err))
		return
	}
	defer conn.CloseNow()

	events := make(chan upload.Event, eventBufferSize)
	remove := h.uploads.AddObserver(upload.EventFunc(func(e upload.Event) {
		select {
		case events <- e:
		default:
			slog.Warn("events buffer full", "type", e.Type, "path", e.Path)
		}
	}))
	defer remove()

	// the client never sends, CloseRead handles control frames and ends ctx on close
	ctx := conn.CloseRead(c.Request.Context())
	slog.Debug("events stream open", "ip", c.ClientIP())

	for {
		select {
		case <-ctx.Done():
			slog.Debug("events stream closed", "ip", c.ClientIP())
			return

		case e := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, e)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("events stream write", "error", err)
				}
				return
			}
		}
	}
}
