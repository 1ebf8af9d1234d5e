package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/pkg/fanout"
	"chatrelay/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// origin policy lives in the gateway middleware
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveLive upgrades the connection and streams deltas from the fan-out bus.
// An optional ?conversation= query scopes the feed to one conversation.
func (a *API) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}
	key := r.URL.Query().Get("conversation")
	sub := a.bus.Subscribe(key)
	logger.Log.Info("ws_subscribed", zap.String("conversation", key), zap.String("remote", r.RemoteAddr))

	go readPump(conn, sub)
	writePump(conn, sub)
}

// readPump discards client frames; its job is pong handling and noticing
// the peer going away so the subscription gets torn down.
func readPump(conn *websocket.Conn, sub *fanout.Subscriber) {
	defer sub.Close()
	conn.SetReadLimit(8 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *fanout.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		sub.Close()
	}()
	for {
		select {
		case d, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			b, err := json.Marshal(d)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
