package service

import (
	"context"
	"errors"
	"strings"

	"github.com/adwski/chat-backend/backend/model"
)

const (
	directChatName = "sender"

	minGroupMembers = 2
)

// AccessChat returns the one-on-one chat between caller and userID,
// creating it on first access.
func (svc *Service) AccessChat(ctx context.Context, callerID, userID string) (*model.Chat, error) {
	if userID == "" {
		return nil, validation("userId param not sent with request")
	}
	if userID == callerID {
		return nil, validation("cannot start a chat with yourself")
	}

	chat, err := svc.store.FindDirectChat(ctx, callerID, userID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, model.ErrRecordNotFound) {
		return nil, err
	}

	users, err := svc.usersExist(ctx, []string{callerID, userID})
	if err != nil {
		return nil, err
	}
	chat = &model.Chat{
		ChatName:    directChatName,
		IsGroupChat: false,
		Users:       users,
	}
	if err = svc.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	svc.logger.Debug().Str("chatID", chat.ID).Msg("direct chat created")
	return svc.chat(ctx, chat.ID)
}

func (svc *Service) FetchChats(ctx context.Context, callerID string) ([]model.Chat, error) {
	return svc.store.ChatsOfUser(ctx, callerID)
}

// CreateGroupChat creates a group of userIDs plus caller, who becomes admin.
func (svc *Service) CreateGroupChat(ctx context.Context, callerID, name string, userIDs []string) (*model.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" || userIDs == nil {
		return nil, validation("please fill all the fields")
	}

	ids := make([]string, 0, len(userIDs)+1)
	seen := map[string]struct{}{callerID: {}}
	for _, id := range userIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) < minGroupMembers {
		return nil, validation("more than 2 users are required to form a group chat")
	}

	users, err := svc.usersExist(ctx, append(ids, callerID))
	if err != nil {
		return nil, err
	}
	chat := &model.Chat{
		ChatName:     name,
		IsGroupChat:  true,
		Users:        users,
		GroupAdminID: &callerID,
	}
	if err = svc.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	svc.logger.Debug().Str("chatID", chat.ID).Int("users", len(users)).Msg("group chat created")
	return svc.chat(ctx, chat.ID)
}

func (svc *Service) RenameGroup(ctx context.Context, chatID, name string) (*model.Chat, error) {
	name = strings.TrimSpace(name)
	if chatID == "" || name == "" {
		return nil, validation("chatId and chatName are required")
	}
	chat, err := svc.store.RenameChat(ctx, chatID, name)
	if err != nil {
		return nil, storeErr(err, "chat")
	}
	return chat, nil
}

func (svc *Service) AddToGroup(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	if chatID == "" || userID == "" {
		return nil, validation("chatId and userId are required")
	}
	user, err := svc.store.UserByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	chat, err := svc.store.AddChatUser(ctx, chatID, user)
	if err != nil {
		return nil, storeErr(err, "chat")
	}
	return chat, nil
}

func (svc *Service) RemoveFromGroup(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	if chatID == "" || userID == "" {
		return nil, validation("chatId and userId are required")
	}
	chat, err := svc.store.RemoveChatUser(ctx, chatID, userID)
	if err != nil {
		return nil, storeErr(err, "chat")
	}
	return chat, nil
}

// DeleteGroup removes group chat with its messages. Admin only.
func (svc *Service) DeleteGroup(ctx context.Context, callerID, chatID string) error {
	chat, err := svc.chat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.GroupAdminID == nil || *chat.GroupAdminID != callerID {
		return errors.Join(ErrForbidden, errors.New("only the group admin can delete the chat"))
	}
	if err = svc.store.DeleteChat(ctx, chatID); err != nil {
		return storeErr(err, "chat")
	}
	svc.logger.Debug().Str("chatID", chatID).Msg("group chat deleted")
	return nil
}

// MarkRead marks every message of the chat as read by caller.
func (svc *Service) MarkRead(ctx context.Context, callerID, chatID string) (int64, error) {
	if _, err := svc.chat(ctx, chatID); err != nil {
		return 0, err
	}
	return svc.store.MarkRead(ctx, chatID, callerID)
}

func (svc *Service) chat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := svc.store.ChatByID(ctx, chatID)
	if err != nil {
		return nil, storeErr(err, "chat")
	}
	return chat, nil
}

func (svc *Service) usersExist(ctx context.Context, ids []string) ([]model.User, error) {
	users, err := svc.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(users) != len(ids) {
		return nil, errors.Join(ErrNotFound, errors.New("user not found"))
	}
	return users, nil
}
