package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sanaka-srujana/tars-chat/internal/config"
	"github.com/sanaka-srujana/tars-chat/internal/repository/memory"
	"github.com/sanaka-srujana/tars-chat/internal/service"
	"github.com/sanaka-srujana/tars-chat/internal/ws"
)

type testServer struct {
	engine *gin.Engine
	store  *memory.Store
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", JWTSecret: "secret", Env: "dev", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	store := memory.NewStore()
	unread := service.NewUnreadService(store)
	convs := service.NewConversationService(store, store, unread)
	typing := service.NewTypingService(store, store, store)
	svc := ws.Services{
		Users:         service.NewUserService(store, cfg),
		Conversations: convs,
		Messages:      service.NewMessageService(store, store, store, convs, typing),
		Typing:        typing,
		Unread:        unread,
	}
	return &testServer{engine: SetupRouter(cfg, svc, ws.NewHub(), checks), store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

// login registers username and returns its access token and user id.
func (s *testServer) login(t *testing.T, username string) (string, string) {
	t.Helper()
	creds := map[string]string{"username": username, "password": "pw-" + username}
	if code, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", creds); code != http.StatusOK {
		t.Fatalf("register %s: %d %v", username, code, body)
	}
	code, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
	if code != http.StatusOK {
		t.Fatalf("login %s: %d %v", username, code, body)
	}
	user := body["user"].(map[string]interface{})
	return body["access_token"].(string), user["id"].(string)
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthCheck
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"healthy db", map[string]HealthCheck{"db": func(context.Context) error { return nil }}, http.StatusOK},
		{"db down", map[string]HealthCheck{"db": func(context.Context) error { return errors.New("down") }}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.checks)
			if code, _ := s.do(t, http.MethodGet, "/healthz", "", nil); code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, nil)
	creds := map[string]string{"username": "alice", "password": "secret-pw"}

	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", creds); code != http.StatusOK {
		t.Fatalf("register: %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", creds); code != http.StatusConflict {
		t.Fatalf("duplicate register: %d, want 409", code)
	}
	bad := map[string]string{"username": "alice", "password": "nope"}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", bad); code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d, want 401", code)
	}
	code, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
	if code != http.StatusOK {
		t.Fatalf("login: %d", code)
	}
	rt := body["refresh_token"].(string)

	code, body = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": rt})
	if code != http.StatusOK || body["access_token"] == "" {
		t.Fatalf("refresh: %d %v", code, body)
	}
	// refresh tokens rotate
	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": rt}); code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token: %d, want 401", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/users", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated roster: %d, want 401", code)
	}
}

func TestTypingAndUnreadEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	aliceTok, _ := s.login(t, "alice")
	bobTok, bobID := s.login(t, "bob")
	carolTok, _ := s.login(t, "carol")

	code, body := s.do(t, http.MethodPost, "/api/v1/conversations", aliceTok, map[string]interface{}{"participant_ids": []string{bobID}})
	if code != http.StatusOK {
		t.Fatalf("create conversation: %d %v", code, body)
	}
	convID := body["id"].(string)
	base := "/api/v1/conversations/" + convID

	if code, _ := s.do(t, http.MethodPut, base+"/typing", aliceTok, map[string]bool{"is_typing": true}); code != http.StatusOK {
		t.Fatalf("set typing: %d", code)
	}
	code, body = s.do(t, http.MethodGet, base+"/typing", bobTok, nil)
	if code != http.StatusOK {
		t.Fatalf("typing users: %d", code)
	}
	if typing := body["typing"].([]interface{}); len(typing) != 1 {
		t.Fatalf("typing = %v, want alice", typing)
	}
	code, body = s.do(t, http.MethodGet, "/api/v1/typing", bobTok, nil)
	if code != http.StatusOK {
		t.Fatalf("all typing: %d", code)
	}
	if _, ok := body["typing"].(map[string]interface{})[convID]; !ok {
		t.Fatalf("all typing misses conversation: %v", body)
	}

	if code, _ := s.do(t, http.MethodPost, base+"/messages", aliceTok, map[string]string{"content": "hello"}); code != http.StatusOK {
		t.Fatalf("send: %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, base+"/messages", aliceTok, map[string]string{"content": "  "}); code != http.StatusBadRequest {
		t.Fatalf("empty send: %d, want 400", code)
	}
	if code, _ := s.do(t, http.MethodGet, base+"/messages", carolTok, nil); code != http.StatusForbidden {
		t.Fatalf("outsider list: %d, want 403", code)
	}

	_, body = s.do(t, http.MethodGet, base+"/unread", bobTok, nil)
	if body["unread_count"] != float64(1) {
		t.Fatalf("bob unread = %v, want 1", body["unread_count"])
	}
	_, body = s.do(t, http.MethodGet, base+"/unread", aliceTok, nil)
	if body["unread_count"] != float64(0) {
		t.Fatalf("alice unread = %v, want 0", body["unread_count"])
	}
	if code, _ := s.do(t, http.MethodPost, base+"/read", bobTok, nil); code != http.StatusOK {
		t.Fatalf("mark read: %d", code)
	}
	_, body = s.do(t, http.MethodGet, "/api/v1/conversations", bobTok, nil)
	convs := body["conversations"].([]interface{})
	if len(convs) != 1 || convs[0].(map[string]interface{})["unread_count"] != float64(0) {
		t.Fatalf("conversations after read = %v", convs)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/conversations/missing/unread", bobTok, nil); code != http.StatusNotFound {
		t.Fatalf("unknown conversation: %d, want 404", code)
	}
}

func TestMessageMutations(t *testing.T) {
	s := newTestServer(t, nil)
	aliceTok, _ := s.login(t, "alice")
	bobTok, bobID := s.login(t, "bob")

	_, body := s.do(t, http.MethodPost, "/api/v1/conversations", aliceTok, map[string]interface{}{"participant_ids": []string{bobID}})
	convID := body["id"].(string)
	_, body = s.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", aliceTok, map[string]string{"content": "draft"})
	msgPath := "/api/v1/messages/" + body["id"].(string)

	if code, _ := s.do(t, http.MethodPatch, msgPath, bobTok, map[string]string{"content": "hijack"}); code != http.StatusForbidden {
		t.Fatalf("edit by other user: %d, want 403", code)
	}
	code, body := s.do(t, http.MethodPatch, msgPath, aliceTok, map[string]string{"content": "final"})
	if code != http.StatusOK || body["content"] != "final" || body["edited_at"] == nil {
		t.Fatalf("edit: %d %v", code, body)
	}

	_, body = s.do(t, http.MethodPost, msgPath+"/reactions", bobTok, map[string]string{"emoji": "👍"})
	if r := body["reactions"].([]interface{}); len(r) != 1 {
		t.Fatalf("reactions after toggle on = %v", r)
	}
	_, body = s.do(t, http.MethodPost, msgPath+"/reactions", bobTok, map[string]string{"emoji": "👍"})
	if r := body["reactions"].([]interface{}); len(r) != 0 {
		t.Fatalf("reactions after toggle off = %v", r)
	}

	code, body = s.do(t, http.MethodDelete, msgPath, aliceTok, nil)
	if code != http.StatusOK || body["is_deleted"] != true {
		t.Fatalf("delete: %d %v", code, body)
	}
	if code, _ := s.do(t, http.MethodPatch, msgPath, aliceTok, map[string]string{"content": "again"}); code != http.StatusBadRequest {
		t.Fatalf("edit deleted: %d, want 400", code)
	}
}
