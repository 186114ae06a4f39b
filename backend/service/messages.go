package service

import (
	"context"
	"errors"
	"strings"

	"github.com/adwski/chat-backend/backend/model"
)

// SendMessage persists a message from a chat participant. The returned
// message carries the chat with its participants, ready to be emitted
// as "new message" by the client.
func (svc *Service) SendMessage(ctx context.Context, callerID, chatID, content string) (*model.Message, error) {
	if chatID == "" || strings.TrimSpace(content) == "" {
		return nil, validation("invalid data passed into request")
	}
	if err := svc.participant(ctx, callerID, chatID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		SenderID: callerID,
		ChatID:   chatID,
		Content:  content,
	}
	if err := svc.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (svc *Service) ListMessages(ctx context.Context, callerID, chatID string) ([]model.Message, error) {
	if err := svc.participant(ctx, callerID, chatID); err != nil {
		return nil, err
	}
	return svc.store.MessagesOfChat(ctx, chatID)
}

func (svc *Service) participant(ctx context.Context, callerID, chatID string) error {
	chat, err := svc.chat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasUser(callerID) {
		return errors.Join(ErrForbidden, errors.New("not a member of this chat"))
	}
	return nil
}
