package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sanaka-srujana/tars-chat/internal/metrics"
)

// Outbound event types.
const (
	EventMessage  = "message"
	EventTyping   = "typing"
	EventRead     = "read"
	EventJoin     = "join"
	EventLeave    = "leave"
	EventError    = "error"
	EventReaction = "reaction"
	EventEdit     = "edit"
	EventDelete   = "delete"
)

// Event is the envelope of every frame pushed to clients.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	UserID         string      `json:"user_id,omitempty"`
	Username       string      `json:"username,omitempty"`
	Online         int         `json:"online,omitempty"`
	Data           interface{} `json:"data,omitempty"`
}

// Hub lazily creates one ConversationHub per conversation.
type Hub struct {
	mu    sync.RWMutex
	convs map[string]*ConversationHub
}

func NewHub() *Hub { return &Hub{convs: make(map[string]*ConversationHub)} }

// Get returns the conversation's hub, starting it on first use.
func (h *Hub) Get(conversationID string) *ConversationHub {
	h.mu.RLock()
	ch := h.convs[conversationID]
	h.mu.RUnlock()
	if ch != nil {
		return ch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch = h.convs[conversationID]
	if ch != nil {
		return ch
	}
	ch = NewConversationHub(conversationID)
	ch.onIdle = h.remove
	h.convs[conversationID] = ch
	go ch.run()
	return ch
}

// Join registers c with its conversation's hub. If that hub shuts down
// while c is waiting, c joins the hub that replaces it.
func (h *Hub) Join(conversationID string, c *Client) {
	for {
		ch := h.Get(conversationID)
		c.conv = ch
		select {
		case ch.register <- c:
			return
		case <-ch.done:
		}
	}
}

func (h *Hub) remove(ch *ConversationHub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.convs[ch.conversationID] == ch {
		delete(h.convs, ch.conversationID)
	}
}

func (h *Hub) Online(conversationID string) int {
	h.mu.RLock()
	ch := h.convs[conversationID]
	h.mu.RUnlock()
	if ch == nil {
		return 0
	}
	return ch.Online()
}

// Publish pushes ev to everyone connected to its conversation. Nothing
// happens when nobody is connected.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	ch := h.convs[ev.ConversationID]
	h.mu.RUnlock()
	if ch == nil {
		return
	}
	ch.Publish(ev)
}

// ConversationHub fans events out to the clients of one conversation. A hub
// created by Hub.Get stops once its last client unregisters.
type ConversationHub struct {
	conversationID string
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	broadcast      chan []byte
	direct         chan directFrame
	done           chan struct{}
	onIdle         func(*ConversationHub)
	online         int32
}

type directFrame struct {
	to  *Client
	msg []byte
}

func NewConversationHub(conversationID string) *ConversationHub {
	return &ConversationHub{
		conversationID: conversationID,
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan []byte, 256),
		direct:         make(chan directFrame, 64),
		done:           make(chan struct{}),
	}
}

// Publish encodes ev and queues it for broadcast. A full queue drops the
// event rather than blocking the caller.
func (ch *ConversationHub) Publish(ev Event) {
	ev.ConversationID = ch.conversationID
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("encode ws event")
		return
	}
	select {
	case ch.broadcast <- b:
	default:
		log.Warn().Str("conversation_id", ch.conversationID).Str("type", ev.Type).Msg("ws broadcast queue full")
	}
}

// Direct queues ev for a single client. It is dropped if the client has
// already left.
func (ch *ConversationHub) Direct(to *Client, ev Event) {
	ev.ConversationID = ch.conversationID
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case ch.direct <- directFrame{to: to, msg: b}:
	default:
	}
}

func (ch *ConversationHub) run() {
	for {
		select {
		case c := <-ch.register:
			ch.clients[c] = true
			atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
			metrics.WsConnections.Inc()
			ch.fanout(ch.presence(EventJoin, c))
		case c := <-ch.unregister:
			if _, ok := ch.clients[c]; ok {
				ch.drop(c)
				ch.fanout(ch.presence(EventLeave, c))
			}
			if len(ch.clients) == 0 && ch.onIdle != nil {
				ch.onIdle(ch)
				close(ch.done)
				return
			}
		case msg := <-ch.broadcast:
			ch.fanout(msg)
		case d := <-ch.direct:
			if ch.clients[d.to] {
				select {
				case d.to.send <- d.msg:
				default:
					ch.drop(d.to)
				}
			}
		}
	}
}

// leave unregisters c. It returns at once if the hub has already stopped.
func (ch *ConversationHub) leave(c *Client) {
	select {
	case ch.unregister <- c:
	case <-ch.done:
	}
}

func (ch *ConversationHub) presence(kind string, c *Client) []byte {
	ev := Event{
		Type:           kind,
		ConversationID: ch.conversationID,
		UserID:         c.userID,
		Username:       c.uname,
		Online:         int(atomic.LoadInt32(&ch.online)),
	}
	b, _ := json.Marshal(ev)
	return b
}

// fanout delivers msg to every client; a client whose buffer is full is
// disconnected.
func (ch *ConversationHub) fanout(msg []byte) {
	if msg == nil {
		return
	}
	for c := range ch.clients {
		select {
		case c.send <- msg:
		default:
			ch.drop(c)
		}
	}
}

func (ch *ConversationHub) drop(c *Client) {
	delete(ch.clients, c)
	close(c.send)
	atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
	metrics.WsConnections.Dec()
}

func (ch *ConversationHub) Online() int { return int(atomic.LoadInt32(&ch.online)) }
