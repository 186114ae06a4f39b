package http

import (
	"encoding/json"
	"net/http"

	"github.com/adwski/chat-backend/backend/service"
)

type (
	accessChatRequest struct {
		UserID string `json:"userId"`
	}

	groupRequest struct {
		Name  string `json:"name"`
		Users idList `json:"users"`
	}

	renameRequest struct {
		ChatID   string `json:"chatId"`
		ChatName string `json:"chatName"`
	}

	groupMemberRequest struct {
		ChatID string `json:"chatId"`
		UserID string `json:"userId"`
	}

	sendMessageRequest struct {
		ChatID  string `json:"chatId"`
		Content string `json:"content"`
	}
)

// idList accepts user ids either as a JSON array or as a string holding
// a JSON encoded array, which is how browser form clients send it.
type idList []string

func (l *idList) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err == nil {
		*l = ids
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return err
	}
	*l = ids
	return nil
}

func (srv *Server) root(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Message: "API is running"})
}

func (srv *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.stats.Stats()})
}

func (srv *Server) register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	resp, err := srv.svc.Register(r.Context(), req)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, resp)
}

func (srv *Server) login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	resp, err := srv.svc.Login(r.Context(), req)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, resp)
}

func (srv *Server) searchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := srv.svc.SearchUsers(r.Context(), callerID(r), r.URL.Query().Get("search"))
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, users)
}

func (srv *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := srv.svc.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, user)
}

func (srv *Server) accessChat(w http.ResponseWriter, r *http.Request) {
	var req accessChatRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	chat, err := srv.svc.AccessChat(r.Context(), callerID(r), req.UserID)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chat)
}

func (srv *Server) fetchChats(w http.ResponseWriter, r *http.Request) {
	chats, err := srv.svc.FetchChats(r.Context(), callerID(r))
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chats)
}

func (srv *Server) createGroupChat(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	chat, err := srv.svc.CreateGroupChat(r.Context(), callerID(r), req.Name, req.Users)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chat)
}

func (srv *Server) renameGroup(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	chat, err := srv.svc.RenameGroup(r.Context(), req.ChatID, req.ChatName)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chat)
}

func (srv *Server) addToGroup(w http.ResponseWriter, r *http.Request) {
	var req groupMemberRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	chat, err := srv.svc.AddToGroup(r.Context(), req.ChatID, req.UserID)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chat)
}

func (srv *Server) removeFromGroup(w http.ResponseWriter, r *http.Request) {
	var req groupMemberRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	chat, err := srv.svc.RemoveFromGroup(r.Context(), req.ChatID, req.UserID)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chat)
}

func (srv *Server) markRead(w http.ResponseWriter, r *http.Request) {
	marked, err := srv.svc.MarkRead(r.Context(), callerID(r), r.PathValue("chatID"))
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{
		Message: "Messages marked as read",
		Data:    map[string]int64{"marked": marked},
	})
}

func (srv *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := srv.svc.DeleteGroup(r.Context(), callerID(r), r.PathValue("chatID")); err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Message: "Group chat and all its messages have been deleted"})
}

func (srv *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !srv.readJSON(w, r, &req) {
		return
	}
	msg, err := srv.svc.SendMessage(r.Context(), callerID(r), req.ChatID, req.Content)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, msg)
}

func (srv *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := srv.svc.ListMessages(r.Context(), callerID(r), r.PathValue("chatID"))
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, messages)
}
