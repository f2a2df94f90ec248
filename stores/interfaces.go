package stores

import (
	"time"

	"gorm.io/gorm"

	"github.com/parlorchat/parlor/models"
)

// Turn is the persisted row for one ChatTurn. The full turn, including
// telemetry and sources, is stored as JSON; the promoted columns exist for
// ordering and filtering. The composite unique index makes concurrent
// writers racing the count-then-insert sequence assignment fail loudly
// instead of silently duplicating a sequence number.
type Turn struct {
	gorm.Model
	ConversationID string `gorm:"index;not null;uniqueIndex:idx_turns_conversation_sequence"`
	Sequence       int    `gorm:"not null;uniqueIndex:idx_turns_conversation_sequence"`
	TurnID         string `gorm:"index;not null"`
	Role           string `gorm:"not null"` // "user", "assistant"
	IsError        bool
	// TurnJSON stores the JSON marshaled models.ChatTurn.
	TurnJSON string `gorm:"type:json"`
}

// Conversation holds metadata for a chat conversation.
type Conversation struct {
	gorm.Model
	ConversationID string `gorm:"uniqueIndex;not null"`
	UserID         string `gorm:"index"`
	Title          string `gorm:"type:text"`
	TurnCount      int    `gorm:"default:0"`
}

// ConversationInfo holds basic conversation metadata for listing.
type ConversationInfo struct {
	ConversationID string
	UserID         string
	Title          string
	TurnCount      int
	CreatedAt      string
	UpdatedAt      string
}

// TurnStore is the conversation-history collaborator. It owns serialization
// and concurrent-write safety; the pipeline only appends finalized turns and
// reads bounded windows.
type TurnStore interface {
	// AppendTurn persists one finalized turn at the next sequence number.
	AppendTurn(conversationID string, turn models.ChatTurn) error
	// FetchHistory returns the last `limit` turns in sequence order
	// (0 = all turns).
	FetchHistory(conversationID string, limit int) ([]models.ChatTurn, error)

	CreateConversation(convoID, userID string) error
	ListConversations() ([]string, error)
	ListConversationsForUser(userID string) ([]ConversationInfo, error)
	// DeleteConversationsIdleSince removes conversations (and their turns)
	// not updated since the cutoff. Used by the retention sweeper.
	DeleteConversationsIdleSince(cutoff time.Time) (int64, error)

	Connect() error
	Close() error
	Ping() error
}

// StoreConfig holds configuration for database stores.
type StoreConfig struct {
	Type       string            `json:"type"`       // "sqlite", "postgres"
	Connection string            `json:"connection"` // connection string
	Options    map[string]string `json:"options"`
}

func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	c.Options[key] = value
	return c
}
