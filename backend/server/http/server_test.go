package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adwski/chat-backend/backend/auth"
	"github.com/adwski/chat-backend/backend/model"
	"github.com/adwski/chat-backend/backend/service"
	"github.com/adwski/chat-backend/backend/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats map[string]int64

func (s staticStats) Stats() map[string]int64 { return s }

type apiClient struct {
	t       *testing.T
	handler http.Handler
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()

	store, err := sqlite.Open(sqlite.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := zerolog.Nop()
	svc := service.NewService(service.Config{
		Store:  store,
		Hasher: auth.NewPasswordHasher(4),
		Tokens: auth.NewTokens(auth.TokenConfig{Secret: "test"}),
		Logger: &logger,
	})
	srv := NewServer(Config{
		Logger:      &logger,
		ChatService: svc,
		Stats:       staticStats{"no_participants": 3},
	})
	return &apiClient{t: t, handler: srv.Handler}
}

func (c *apiClient) do(method, path, token string, body any, out any) int {
	c.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (c *apiClient) register(name string) service.AuthResponse {
	c.t.Helper()
	var resp service.AuthResponse
	code := c.do(http.MethodPost, "/api/user", "", map[string]string{
		"name":     name,
		"email":    name + "@example.com",
		"password": "secret",
	}, &resp)
	require.Equal(c.t, http.StatusCreated, code)
	return resp
}

func TestServer_Auth(t *testing.T) {
	c := newAPIClient(t)
	alice := c.register("alice")
	assert.NotEmpty(t, alice.Token)

	var errResp GenericResponse
	code := c.do(http.MethodPost, "/api/user", "", map[string]string{
		"name": "alice", "email": "alice@example.com", "password": "secret",
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errResp.Message, "already exists")

	code = c.do(http.MethodPost, "/api/user", "", map[string]string{"name": "bob"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = c.do(http.MethodPost, "/api/user", "", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var login service.AuthResponse
	code = c.do(http.MethodPost, "/api/user/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret",
	}, &login)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, alice.ID, login.ID)

	code = c.do(http.MethodPost, "/api/user/login", "", map[string]string{
		"email": "alice@example.com", "password": "nope",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestServer_Protected(t *testing.T) {
	c := newAPIClient(t)

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/chat", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/chat", "bad-token", nil, nil))

	alice := c.register("alice")
	var chats []model.Chat
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/chat", alice.Token, nil, &chats))
	assert.Empty(t, chats)
}

func TestServer_Users(t *testing.T) {
	c := newAPIClient(t)
	alice := c.register("alice")
	bob := c.register("bob")

	var users []model.User
	code := c.do(http.MethodGet, "/api/user?search=bo", alice.Token, nil, &users)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, users, 1)
	assert.Equal(t, bob.ID, users[0].ID)

	var user map[string]any
	code = c.do(http.MethodGet, "/api/user/"+bob.ID, alice.Token, nil, &user)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bob", user["name"])
	assert.NotContains(t, user, "password")

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/user/missing", alice.Token, nil, nil))
}

func TestServer_Chats(t *testing.T) {
	c := newAPIClient(t)
	alice := c.register("alice")
	bob := c.register("bob")
	carol := c.register("carol")

	var direct model.Chat
	code := c.do(http.MethodPost, "/api/chat", alice.Token, map[string]string{"userId": bob.ID}, &direct)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, direct.Users, 2)

	assert.Equal(t, http.StatusBadRequest,
		c.do(http.MethodPost, "/api/chat", alice.Token, map[string]string{}, nil))
	assert.Equal(t, http.StatusNotFound,
		c.do(http.MethodPost, "/api/chat", alice.Token, map[string]string{"userId": "missing"}, nil))

	// users as JSON encoded string
	usersJSON, err := json.Marshal([]string{bob.ID, carol.ID})
	require.NoError(t, err)
	var group model.Chat
	code = c.do(http.MethodPost, "/api/chat/group", alice.Token, map[string]string{
		"name":  "team",
		"users": string(usersJSON),
	}, &group)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, group.IsGroupChat)
	assert.Len(t, group.Users, 3)
	require.NotNil(t, group.GroupAdmin)
	assert.Equal(t, alice.ID, group.GroupAdmin.ID)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/chat/group", alice.Token,
		map[string]any{"name": "duo", "users": []string{bob.ID}}, nil))

	var renamed model.Chat
	code = c.do(http.MethodPut, "/api/chat/rename", alice.Token,
		map[string]string{"chatId": group.ID, "chatName": "squad"}, &renamed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "squad", renamed.ChatName)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPut, "/api/chat/rename", alice.Token,
		map[string]string{"chatId": "missing", "chatName": "x"}, nil))

	var changed model.Chat
	code = c.do(http.MethodPut, "/api/chat/groupremove", alice.Token,
		map[string]string{"chatId": group.ID, "userId": carol.ID}, &changed)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, changed.Users, 2)

	code = c.do(http.MethodPut, "/api/chat/groupadd", alice.Token,
		map[string]string{"chatId": group.ID, "userId": carol.ID}, &changed)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, changed.Users, 3)

	var chats []model.Chat
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/chat", alice.Token, nil, &chats))
	assert.Len(t, chats, 2)

	var errResp GenericResponse
	code = c.do(http.MethodDelete, "/api/chat/group/"+group.ID, bob.Token, nil, &errResp)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, errResp.Message, "only the group admin")

	assert.Equal(t, http.StatusOK, c.do(http.MethodDelete, "/api/chat/group/"+group.ID, alice.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodDelete, "/api/chat/group/"+group.ID, alice.Token, nil, nil))
}

func TestServer_Messages(t *testing.T) {
	c := newAPIClient(t)
	alice := c.register("alice")
	bob := c.register("bob")

	var chat model.Chat
	require.Equal(t, http.StatusOK,
		c.do(http.MethodPost, "/api/chat", alice.Token, map[string]string{"userId": bob.ID}, &chat))

	var msg map[string]any
	code := c.do(http.MethodPost, "/api/message", alice.Token,
		map[string]string{"chatId": chat.ID, "content": "hello"}, &msg)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello", msg["content"])
	assert.Contains(t, msg, "chat")
	assert.Contains(t, msg, "sender")

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/message", alice.Token,
		map[string]string{"chatId": chat.ID}, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/api/message", alice.Token,
		map[string]string{"chatId": "missing", "content": "x"}, nil))

	var messages []model.Message
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/message/"+chat.ID, bob.Token, nil, &messages))
	require.Len(t, messages, 1)

	var resp GenericResponse
	require.Equal(t, http.StatusOK, c.do(http.MethodPut, "/api/chat/"+chat.ID+"/read", bob.Token, nil, &resp))
	assert.Equal(t, "Messages marked as read", resp.Message)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPut, "/api/chat/missing/read", bob.Token, nil, nil))
}

func TestServer_StatsAndCORS(t *testing.T) {
	c := newAPIClient(t)

	var resp struct {
		Data map[string]int64 `json:"data"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/stats", "", nil, &resp))
	assert.EqualValues(t, 3, resp.Data["no_participants"])

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIDList(t *testing.T) {
	var l idList
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &l))
	assert.Equal(t, idList{"a", "b"}, l)

	require.NoError(t, json.Unmarshal([]byte(`"[\"c\"]"`), &l))
	assert.Equal(t, idList{"c"}, l)

	assert.Error(t, json.Unmarshal([]byte(`"c"`), &l))
}
