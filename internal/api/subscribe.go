package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscribe streams task snapshots over a WebSocket.
type Subscribe struct {
	svc *lifecycle.Service
	log *logrus.Entry
}

// NewSubscribeHandler returns the WebSocket snapshot handler.
func NewSubscribeHandler(svc *lifecycle.Service, log *logrus.Entry) *Subscribe {
	return &Subscribe{svc: svc, log: log}
}

// EnrichRoutes registers the task subscription route.
func (h *Subscribe) EnrichRoutes(router gin.IRouter) {
	router.GET("/tasks/:taskID/subscribe", h.subscribeAction)
}

// subscribeAction sends the current task as the first frame and every
// committed change after it, each as a JSON TaskResponse. The stream ends
// when the client disconnects.
func (h *Subscribe) subscribeAction(c *gin.Context) {
	const op = "api.Subscribe.subscribeAction"
	p := principal(c)
	taskID := c.Param("taskID")
	log := h.log.WithFields(logrus.Fields{"operation": op, "task_id": taskID, "principal": p.Email})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authorization and existence errors are reported before the upgrade.
	snapshots, err := h.svc.Subscribe(ctx, p, taskID)
	if err != nil {
		HandleError(err, c)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("upgrading connection")
		return
	}
	defer conn.Close()
	log.Debug("subscriber connected")

	// The reader only serves control frames and detects disconnects.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case task, ok := <-snapshots:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newTaskResponse(p, task)); err != nil {
				log.WithError(err).Debug("writing snapshot")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			log.Debug("subscriber disconnected")
			return
		}
	}
}
