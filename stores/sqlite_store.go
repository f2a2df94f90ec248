package stores

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/parlorchat/parlor/models"
)

// SQLiteStore implements TurnStore for SQLite databases
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *StoreConfig) (*SQLiteStore, error) {
	if config.Type != "sqlite" {
		return nil, fmt.Errorf("invalid store type for SQLite store: %s", config.Type)
	}

	store := &SQLiteStore{path: config.Connection}
	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return store, nil
}

// NewSQLiteStoreSimple creates a new SQLite store with just a file path
func NewSQLiteStoreSimple(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStore(NewStoreConfig("sqlite", dbPath))
}

// Connect establishes a connection to the SQLite database
func (s *SQLiteStore) Connect() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	s.db = db

	if err := s.db.AutoMigrate(&Conversation{}, &Turn{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// AppendTurn persists one finalized turn at the next sequence number.
func (s *SQLiteStore) AppendTurn(conversationID string, turn models.ChatTurn) error {
	return appendTurn(s.db, conversationID, turn)
}

// FetchHistory retrieves the last `limit` turns in sequence order
// (0 = all turns).
func (s *SQLiteStore) FetchHistory(conversationID string, limit int) ([]models.ChatTurn, error) {
	return fetchHistory(s.db, conversationID, limit)
}

// CreateConversation creates a new conversation record
func (s *SQLiteStore) CreateConversation(convoID, userID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Create(&Conversation{ConversationID: convoID, UserID: userID}).Error
}

// ListConversations returns all conversation IDs
func (s *SQLiteStore) ListConversations() ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return listConversations(s.db)
}

// ListConversationsForUser returns all conversations with details for a user
func (s *SQLiteStore) ListConversationsForUser(userID string) ([]ConversationInfo, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return listConversationsForUser(s.db, userID)
}

// DeleteConversationsIdleSince removes conversations not updated since the
// cutoff, with their turns.
func (s *SQLiteStore) DeleteConversationsIdleSince(cutoff time.Time) (int64, error) {
	return deleteIdleConversations(s.db, cutoff)
}

// Shared gorm plumbing for both store backends.

func appendTurn(db *gorm.DB, conversationID string, turn models.ChatTurn) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Ensure conversation record exists (create if first turn). Count()
	// avoids "record not found" noise in the gorm logs.
	var count int64
	if err := db.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		log.Printf("Warning: error checking for conversation %s: %v", conversationID, err)
	} else if count == 0 {
		if err := db.Create(&Conversation{ConversationID: conversationID}).Error; err != nil {
			log.Printf("Warning: failed to create conversation record for %s: %v", conversationID, err)
		}
	}

	if err := db.Model(&Turn{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count existing turns: %w", err)
	}
	seq := int(count) + 1

	turnJSON, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn for database: %w", err)
	}

	row := Turn{
		ConversationID: conversationID,
		Sequence:       seq,
		TurnID:         turn.ID,
		Role:           turn.Role,
		IsError:        turn.IsError,
		TurnJSON:       string(turnJSON),
	}

	tx := db.Begin()
	if err := tx.Create(&row).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create turn record: %w", err)
	}
	if err := tx.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Update("turn_count", seq).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update conversation turn count: %w", err)
	}
	return tx.Commit().Error
}

func fetchHistory(db *gorm.DB, conversationID string, limit int) ([]models.ChatTurn, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := db.Where("conversation_id = ?", conversationID).Order("sequence ASC")

	if limit > 0 {
		var count int64
		if err := db.Model(&Turn{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count turns: %w", err)
		}
		if count > int64(limit) {
			query = query.Offset(int(count) - limit)
		}
	}

	var rows []Turn
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch turns: %w", err)
	}

	turns := make([]models.ChatTurn, 0, len(rows))
	for _, row := range rows {
		var turn models.ChatTurn
		if err := json.Unmarshal([]byte(row.TurnJSON), &turn); err != nil {
			log.Printf("Warning: skipping unreadable turn %d in %s: %v", row.ID, conversationID, err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func listConversations(db *gorm.DB) ([]string, error) {
	var convs []Conversation
	if err := db.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ConversationID
	}
	return ids, nil
}

func listConversationsForUser(db *gorm.DB, userID string) ([]ConversationInfo, error) {
	var convs []Conversation
	if err := db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	result := make([]ConversationInfo, len(convs))
	for i, c := range convs {
		result[i] = ConversationInfo{
			ConversationID: c.ConversationID,
			UserID:         c.UserID,
			Title:          c.Title,
			TurnCount:      c.TurnCount,
			CreatedAt:      c.CreatedAt.Format(time.RFC3339),
			UpdatedAt:      c.UpdatedAt.Format(time.RFC3339),
		}
	}
	return result, nil
}

func deleteIdleConversations(db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	var stale []Conversation
	if err := db.Where("updated_at < ?", cutoff).Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("failed to find idle conversations: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ConversationID
	}

	tx := db.Begin()
	if err := tx.Where("conversation_id IN ?", ids).Delete(&Turn{}).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to delete turns: %w", err)
	}
	res := tx.Where("conversation_id IN ?", ids).Delete(&Conversation{})
	if res.Error != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to delete conversations: %w", res.Error)
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}
