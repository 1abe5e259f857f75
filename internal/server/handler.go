package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sanaka-srujana/tars-chat/internal/auth"
	"github.com/sanaka-srujana/tars-chat/internal/service"
	"github.com/sanaka-srujana/tars-chat/internal/ws"
)

// Handler aggregates the HTTP handlers; the services are injected.
type Handler struct {
	svc ws.Services
	hub *ws.Hub
}

func NewHandler(svc ws.Services, hub *ws.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// fail maps a service error to an HTTP response. Unknown errors are logged
// and reported as 500 with the given fallback message.
func fail(c *gin.Context, err error, op string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRefreshToken):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotParticipant), errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrInvalidParticipants),
		errors.Is(err, service.ErrInvalidReaction),
		errors.Is(err, service.ErrMessageDeleted),
		errors.Is(err, service.ErrReplyOutsideThread):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("user_id", auth.GetUserID(c)).Msg(op)
		c.JSON(status, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 2 || len(req.Username) > 64 {
		badRequest(c, "invalid username")
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 72 {
		badRequest(c, "invalid password")
		return
	}
	user, err := h.svc.Users.Register(c.Request.Context(), req.Username, req.Password, req.Name)
	if err != nil {
		fail(c, err, "register")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		badRequest(c, "invalid payload")
		return
	}
	pair, err := h.svc.Users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "invalid payload")
		return
	}
	pair, err := h.svc.Users.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err, "refresh token")
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- users ---

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.Users.List(c.Request.Context())
	if err != nil {
		fail(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.svc.Users.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "get user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) SetOnline(c *gin.Context) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		badRequest(c, "invalid payload")
		return
	}
	if err := h.svc.Users.SetOnline(c.Request.Context(), auth.GetUserID(c), *req.Online); err != nil {
		fail(c, err, "set online")
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": *req.Online})
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		ImageURL string `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if len(req.Name) > 128 || len(req.ImageURL) > 512 {
		badRequest(c, "invalid profile")
		return
	}
	user, err := h.svc.Users.UpdateProfile(c.Request.Context(), auth.GetUserID(c), req.Name, req.ImageURL)
	if err != nil {
		fail(c, err, "update profile")
		return
	}
	c.JSON(http.StatusOK, user)
}

// --- conversations ---

func (h *Handler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantIDs []string `json:"participant_ids"`
		Name           string   `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if len(req.Name) > 128 {
		badRequest(c, "invalid conversation name")
		return
	}
	conv, err := h.svc.Conversations.Create(c.Request.Context(), auth.GetUserID(c), req.ParticipantIDs, req.Name)
	if err != nil {
		fail(c, err, "create conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.svc.Conversations.ListForUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "list conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.svc.Conversations.Get(c.Request.Context(), auth.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, err, "get conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "online": h.hub.Online(conv.ID)})
}

// --- messages ---

func (h *Handler) ListMessages(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		limit = v
	}
	var before time.Time
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			badRequest(c, "invalid before")
			return
		}
		before = t
	}
	msgs, err := h.svc.Messages.List(c.Request.Context(), auth.GetUserID(c), c.Param("id"), limit, before)
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Content   string  `json:"content"`
		ReplyToID *string `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	ctx := c.Request.Context()
	uid := auth.GetUserID(c)
	msg, err := h.svc.Messages.Send(ctx, c.Param("id"), uid, req.Content, req.ReplyToID)
	if err != nil {
		fail(c, err, "send message")
		return
	}
	h.hub.Publish(ws.Event{Type: ws.EventMessage, ConversationID: msg.ConversationID, UserID: uid, Username: msg.SenderName, Data: msg})
	h.publishTyping(c, msg.ConversationID)
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	msg, err := h.svc.Messages.Edit(c.Request.Context(), c.Param("id"), auth.GetUserID(c), req.Content)
	if err != nil {
		fail(c, err, "edit message")
		return
	}
	h.hub.Publish(ws.Event{Type: ws.EventEdit, ConversationID: msg.ConversationID, UserID: msg.SenderID, Data: msg})
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	msg, err := h.svc.Messages.Delete(c.Request.Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "delete message")
		return
	}
	h.hub.Publish(ws.Event{Type: ws.EventDelete, ConversationID: msg.ConversationID, UserID: msg.SenderID, Data: msg})
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) React(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	uid := auth.GetUserID(c)
	msg, err := h.svc.Messages.React(c.Request.Context(), c.Param("id"), uid, req.Emoji)
	if err != nil {
		fail(c, err, "react")
		return
	}
	h.hub.Publish(ws.Event{Type: ws.EventReaction, ConversationID: msg.ConversationID, UserID: uid, Data: msg})
	c.JSON(http.StatusOK, msg)
}

// --- typing ---

func (h *Handler) SetTyping(c *gin.Context) {
	var req struct {
		IsTyping *bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsTyping == nil {
		badRequest(c, "invalid payload")
		return
	}
	ctx := c.Request.Context()
	uid, convID := auth.GetUserID(c), c.Param("id")
	if _, err := h.svc.Conversations.Require(ctx, uid, convID); err != nil {
		fail(c, err, "set typing")
		return
	}
	if err := h.svc.Typing.SetTyping(ctx, convID, uid, *req.IsTyping); err != nil {
		fail(c, err, "set typing")
		return
	}
	h.publishTyping(c, convID)
	c.JSON(http.StatusOK, gin.H{"is_typing": *req.IsTyping})
}

func (h *Handler) TypingUsers(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	if _, err := h.svc.Conversations.Require(ctx, auth.GetUserID(c), convID); err != nil {
		fail(c, err, "typing users")
		return
	}
	users, err := h.svc.Typing.TypingUsers(ctx, convID)
	if err != nil {
		fail(c, err, "typing users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"typing": users})
}

func (h *Handler) AllTyping(c *gin.Context) {
	all, err := h.svc.Typing.AllTypingIndicators(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "typing indicators")
		return
	}
	c.JSON(http.StatusOK, gin.H{"typing": all})
}

func (h *Handler) publishTyping(c *gin.Context, conversationID string) {
	users, err := h.svc.Typing.TypingUsers(c.Request.Context(), conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("list typing users")
		return
	}
	h.hub.Publish(ws.Event{Type: ws.EventTyping, ConversationID: conversationID, Data: users})
}

// --- unread ---

func (h *Handler) UnreadCount(c *gin.Context) {
	ctx := c.Request.Context()
	uid, convID := auth.GetUserID(c), c.Param("id")
	if _, err := h.svc.Conversations.Require(ctx, uid, convID); err != nil {
		fail(c, err, "unread count")
		return
	}
	n, err := h.svc.Unread.UnreadCount(ctx, uid, convID)
	if err != nil {
		fail(c, err, "unread count")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": convID, "unread_count": n})
}

func (h *Handler) MarkAsRead(c *gin.Context) {
	ctx := c.Request.Context()
	uid, convID := auth.GetUserID(c), c.Param("id")
	if _, err := h.svc.Conversations.Require(ctx, uid, convID); err != nil {
		fail(c, err, "mark as read")
		return
	}
	n, err := h.svc.Unread.MarkAsRead(ctx, convID, uid)
	if err != nil {
		fail(c, err, "mark as read")
		return
	}
	if n > 0 {
		h.hub.Publish(ws.Event{Type: ws.EventRead, ConversationID: convID, UserID: uid, Data: gin.H{"marked": n}})
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
