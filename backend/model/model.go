package model

import (
	"encoding/json"
	"errors"
	"time"
)

const defaultWireBuffer = 32

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("record already exists")
)

type User struct {
	ID        string    `gorm:"primaryKey;type:text" json:"_id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	Pic       string    `json:"pic"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

type Chat struct {
	ID              string    `gorm:"primaryKey;type:text" json:"_id"`
	ChatName        string    `gorm:"not null" json:"chatName"`
	IsGroupChat     bool      `gorm:"not null;default:false" json:"isGroupChat"`
	Users           []User    `gorm:"many2many:chat_users" json:"users"`
	GroupAdminID    *string   `gorm:"type:text" json:"-"`
	GroupAdmin      *User     `gorm:"foreignKey:GroupAdminID" json:"groupAdmin,omitempty"`
	LatestMessageID *string   `gorm:"type:text" json:"-"`
	LatestMessage   *Message  `gorm:"foreignKey:LatestMessageID" json:"latestMessage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `gorm:"index" json:"updatedAt"`
}

func (Chat) TableName() string {
	return "chats"
}

// HasUser reports whether userID is one of the chat participants.
func (c *Chat) HasUser(userID string) bool {
	for _, u := range c.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID        string    `gorm:"primaryKey;type:text" json:"_id"`
	SenderID  string    `gorm:"index;not null;type:text" json:"-"`
	Sender    *User     `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content   string    `gorm:"not null" json:"content"`
	ChatID    string    `gorm:"index;not null;type:text" json:"-"`
	Chat      *Chat     `gorm:"foreignKey:ChatID" json:"chat,omitempty"`
	ReadBy    []User    `gorm:"many2many:message_reads" json:"readBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Message) TableName() string {
	return "messages"
}

// Frame is a single real-time event as it travels over the wire.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wire carries frames between a live connection and the router.
// RX is inbound (client -> server), TX is outbound.
type Wire struct {
	RX chan Frame
	TX chan Frame
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Frame),
		TX: make(chan Frame, defaultWireBuffer),
	}
}
