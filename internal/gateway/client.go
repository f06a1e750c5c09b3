package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	readLimit   = 4096
	sendBufSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn.EnableWriteCompression(true)
	h.Register(conn)
}

// Client represents a single WebSocket peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// minSeq is the last candle seq included in this client's snapshot.
	minSeq int64
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{hub: h, conn: conn, send: make(chan []byte, sendBufSize)}
}

// enqueue queues msg without blocking; a full queue drops it.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// inbound is any message a client may send.
type inbound struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id"`
	Command string `json:"command"`
	Arg     string `json:"arg"`
	TOTP    string `json:"totp"`
	FromSeq int64  `json:"from_seq"`
	ToSeq   int64  `json:"to_seq"`
	Ping    int64  `json:"ping"`
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}

		switch {
		case msg.Type == "command":
			c.handleCommand(msg)
		case msg.Type == "replay":
			for _, env := range c.hub.Replay.Range(msg.FromSeq, msg.ToSeq) {
				c.enqueue(env)
			}
		case msg.Type == "ping" || msg.Ping > 0:
			c.enqueue(marshalEnvelope(ChannelPong, map[string]int64{
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			}, c.hub.now(), 0))
		default:
			c.sendError("unknown message type " + msg.Type)
		}
	}
}

func (c *Client) handleCommand(msg inbound) {
	reply := OutcomeReply{ReqID: msg.ReqID, Command: msg.Command}
	switch {
	case c.hub.Limiter != nil && !c.hub.Limiter.Allow():
		reply.Message = "rate limited"
		reply.Error = "rate limited"
	case c.hub.VerifyCode != nil && !c.hub.VerifyCode(msg.TOTP):
		reply.Message = "missing or invalid TOTP code"
		reply.Error = "unauthorized"
	default:
		out, err := c.hub.src.Dispatch(msg.Command, msg.Arg)
		reply.Command = out.Command
		reply.Accepted = out.Accepted
		reply.Message = out.Message
		if err != nil {
			reply.Error = err.Error()
		}
	}
	c.enqueue(marshalEnvelope(ChannelOutcome, reply, c.hub.now(), 0))
}

func (c *Client) sendError(msg string) {
	c.enqueue(marshalEnvelope(ChannelError, map[string]string{"message": msg}, c.hub.now(), 0))
}
