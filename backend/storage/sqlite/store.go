package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adwski/chat-backend/backend/model"
	"github.com/google/uuid"
	driver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	joinChatUsers    = "chat_users"
	joinMessageReads = "message_reads"
)

type Config struct {
	DSN string
	// Debug turns on SQL statement logging.
	Debug bool
}

// Store persists users, chats and messages.
type Store struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	lvl := logger.Silent
	if cfg.Debug {
		lvl = logger.Info
	}
	db, err := gorm.Open(driver.Open(cfg.DSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(lvl),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite allows a single writer, and an in-memory database lives
	// inside one connection.
	sqlDB.SetMaxOpenConns(1)

	if err = db.AutoMigrate(&model.User{}, &model.Chat{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *Store) findUser(ctx context.Context, query string, arg string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// UsersByIDs returns users that exist among ids.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	var users []model.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	return users, nil
}

// SearchUsers does case-insensitive substring match on name and email.
func (s *Store) SearchUsers(ctx context.Context, search, excludeID string) ([]model.User, error) {
	var users []model.User
	q := s.db.WithContext(ctx).Where("id <> ?", excludeID)
	if search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(email) LIKE ?)", pattern, pattern)
	}
	if err := q.Order("name").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

func preloadChat(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Users").
		Preload("GroupAdmin").
		Preload("LatestMessage").
		Preload("LatestMessage.Sender")
}

func chatsOf(db *gorm.DB, userID string) *gorm.DB {
	return db.Table(joinChatUsers).Select("chat_id").Where("user_id = ?", userID)
}

// FindDirectChat looks up the one-on-one chat between two users.
func (s *Store) FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	db := s.db.WithContext(ctx)
	var chat model.Chat
	err := preloadChat(db).
		Where("is_group_chat = ?", false).
		Where("id IN (?)", chatsOf(db, userA)).
		Where("id IN (?)", chatsOf(db, userB)).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}
	return &chat, nil
}

// CreateChat stores chat and links it with its (already existing) users.
func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Omit("Users.*", "GroupAdmin", "LatestMessage").Create(chat).Error; err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

func (s *Store) ChatByID(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	if err := preloadChat(s.db.WithContext(ctx)).First(&chat, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}
	return &chat, nil
}

// ChatsOfUser lists chats that user participates in, most recently updated first.
func (s *Store) ChatsOfUser(ctx context.Context, userID string) ([]model.Chat, error) {
	db := s.db.WithContext(ctx)
	var chats []model.Chat
	err := preloadChat(db).
		Where("id IN (?)", chatsOf(db, userID)).
		Order("updated_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (s *Store) RenameChat(ctx context.Context, chatID, name string) (*model.Chat, error) {
	res := s.db.WithContext(ctx).Model(&model.Chat{}).Where("id = ?", chatID).Update("chat_name", name)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to rename chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrRecordNotFound
	}
	return s.ChatByID(ctx, chatID)
}

func (s *Store) AddChatUser(ctx context.Context, chatID string, user *model.User) (*model.Chat, error) {
	err := s.updateChat(ctx, chatID, func(tx *gorm.DB, chat *model.Chat) error {
		return tx.Model(chat).Association("Users").Append(user)
	})
	if err != nil {
		return nil, err
	}
	return s.ChatByID(ctx, chatID)
}

func (s *Store) RemoveChatUser(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	err := s.updateChat(ctx, chatID, func(tx *gorm.DB, chat *model.Chat) error {
		return tx.Model(chat).Association("Users").Delete(&model.User{ID: userID})
	})
	if err != nil {
		return nil, err
	}
	return s.ChatByID(ctx, chatID)
}

func (s *Store) updateChat(ctx context.Context, chatID string, fn func(tx *gorm.DB, chat *model.Chat) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat model.Chat
		if err := tx.First(&chat, "id = ?", chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrRecordNotFound
			}
			return fmt.Errorf("failed to find chat: %w", err)
		}
		if err := fn(tx, &chat); err != nil {
			return fmt.Errorf("failed to update chat: %w", err)
		}
		return touchChat(tx, chatID)
	})
}

func touchChat(tx *gorm.DB, chatID string) error {
	err := tx.Model(&model.Chat{}).Where("id = ?", chatID).UpdateColumn("updated_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	return nil
}

// DeleteChat removes chat together with all its messages.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(
			"DELETE FROM "+joinMessageReads+" WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)",
			chatID).Error
		if err != nil {
			return fmt.Errorf("failed to delete read marks: %w", err)
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Exec("DELETE FROM "+joinChatUsers+" WHERE chat_id = ?", chatID).Error; err != nil {
			return fmt.Errorf("failed to delete chat users: %w", err)
		}
		res := tx.Where("id = ?", chatID).Delete(&model.Chat{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete chat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrRecordNotFound
		}
		return nil
	})
}

// CreateMessage stores message and makes it the latest one of its chat.
// Message is reloaded with sender and chat participants.
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sender", "Chat", "ReadBy").Create(msg).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		err := tx.Model(&model.Chat{}).Where("id = ?", msg.ChatID).UpdateColumns(map[string]any{
			"latest_message_id": msg.ID,
			"updated_at":        time.Now(),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update latest message: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Chat").
		Preload("Chat.Users").
		First(msg, "id = ?", msg.ID).Error
}

// MessagesOfChat lists chat messages oldest first.
func (s *Store) MessagesOfChat(ctx context.Context, chatID string) ([]model.Message, error) {
	var messages []model.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("ReadBy").
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// MarkRead records userID as reader of every chat message it has not read yet
// and returns how many messages were marked.
func (s *Store) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		"INSERT INTO "+joinMessageReads+" (message_id, user_id) "+
			"SELECT id, ? FROM messages WHERE chat_id = ? "+
			"AND id NOT IN (SELECT message_id FROM "+joinMessageReads+" WHERE user_id = ?)",
		userID, chatID, userID)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages as read: %w", res.Error)
	}
	return res.RowsAffected, nil
}
