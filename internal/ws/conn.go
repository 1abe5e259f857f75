package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sanaka-srujana/tars-chat/internal/auth"
	"github.com/sanaka-srujana/tars-chat/internal/config"
	"github.com/sanaka-srujana/tars-chat/internal/mw"
	"github.com/sanaka-srujana/tars-chat/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 1 << 20
	frameTimeout   = 5 * time.Second
	sendBufferSize = 256
)

// Services are the operations a websocket client can drive.
type Services struct {
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Typing        *service.TypingService
	Unread        *service.UnreadService
}

type Client struct {
	conv   *ConversationHub
	conn   *websocket.Conn
	send   chan []byte
	svc    Services
	userID string
	uname  string
}

// newUpgrader accepts the handshake from origins the REST API accepts.
// Requests without an Origin header come from non-browser clients.
func newUpgrader(cfg config.Config) *websocket.Upgrader {
	policy := mw.NewOriginPolicy(cfg.Env, cfg.CORSOrigins)
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || policy.Allow(origin, r.Host)
		},
	}
}

// InboundMessage is a frame sent by the client.
type InboundMessage struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	ReplyToID *string `json:"reply_to_id"`
	IsTyping  bool    `json:"is_typing"`
}

func Serve(h *Hub, cfg config.Config, svc Services) gin.HandlerFunc {
	upgrader := newUpgrader(cfg)
	return func(c *gin.Context) {
		conversationID := c.Query("conversation_id")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation_id"})
			return
		}
		token := auth.TokenFromRequest(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ctx := c.Request.Context()
		user, err := svc.Users.Get(ctx, claims.UserID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if _, err := svc.Conversations.Require(ctx, user.ID, conversationID); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, service.ErrConversationNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade")
			return
		}
		client := &Client{conn: conn, send: make(chan []byte, sendBufferSize), svc: svc, userID: user.ID, uname: user.Name}
		h.Join(conversationID, client)

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.conv.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		c.handle(ctx, in)
		cancel()
	}
}

// handle applies one inbound frame and broadcasts its outcome. Failures are
// reported to this client only.
func (c *Client) handle(ctx context.Context, in InboundMessage) {
	convID := c.conv.conversationID
	switch in.Type {
	case EventMessage:
		msg, err := c.svc.Messages.Send(ctx, convID, c.userID, in.Content, in.ReplyToID)
		if err != nil {
			c.fail(in.Type, err)
			return
		}
		c.conv.Publish(Event{Type: EventMessage, UserID: c.userID, Username: c.uname, Data: msg})
		c.publishTyping(ctx)
	case EventTyping:
		if err := c.svc.Typing.SetTyping(ctx, convID, c.userID, in.IsTyping); err != nil {
			c.fail(in.Type, err)
			return
		}
		c.publishTyping(ctx)
	case EventRead:
		n, err := c.svc.Unread.MarkAsRead(ctx, convID, c.userID)
		if err != nil {
			c.fail(in.Type, err)
			return
		}
		c.conv.Publish(Event{Type: EventRead, UserID: c.userID, Username: c.uname, Data: gin.H{"marked": n}})
	}
}

func (c *Client) publishTyping(ctx context.Context) {
	users, err := c.svc.Typing.TypingUsers(ctx, c.conv.conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", c.conv.conversationID).Msg("list typing users")
		return
	}
	c.conv.Publish(Event{Type: EventTyping, Data: users})
}

func (c *Client) fail(frame string, err error) {
	log.Debug().Err(err).Str("user_id", c.userID).Str("frame", frame).Msg("ws frame rejected")
	c.conv.Direct(c, Event{Type: EventError, Data: gin.H{"frame": frame, "error": err.Error()}})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
