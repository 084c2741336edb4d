package server

import (
	"github.com/chucky-1/venue/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"strings"
	"time"
)

type streamRequest struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// stream upgrades the connection and serves tick subscriptions over it.
// All writes happen in the write pump, the read loop only mutates subscriptions
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error(err)
		return
	}
	id := conn.RemoteAddr().String()
	ch := s.hub.Register(id)
	go s.writePump(conn, ch)
	s.readPump(conn, id)
}

// readPump mutates subscriptions until the peer goes away. The read deadline
// is refreshed only by pongs, so a peer that died without closing trips it
// and cannot hold its subscriptions and symbol tickers forever
func (s *Server) readPump(conn *websocket.Conn, id string) {
	defer func() {
		s.hub.Disconnect(id)
		conn.Close()
	}()
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
		if symbol == "" {
			continue
		}
		switch req.Action {
		case "subscribe":
			s.hub.Subscribe(id, symbol)
		case "unsubscribe":
			s.hub.Unsubscribe(id, symbol)
		default:
			log.Warnf("subscriber %s sent unknown action %q", id, req.Action)
		}
	}
}

// writePump owns every write on the connection: ticks, pings and the close
// frame. Closing the connection on exit unblocks the read pump right away
func (s *Server) writePump(conn *websocket.Conn, ch <-chan *model.Tick) {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case tick, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(tick); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
