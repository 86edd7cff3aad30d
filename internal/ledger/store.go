// Package ledger is the durable side of the coordinator: pending
// actions written by headless notification handlers, handled-event
// marks that must survive a process kill, and small key-value state.
package ledger

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PendingActionRecord is one deferred user decision awaiting replay.
// Seq preserves insertion order across process restarts.
type PendingActionRecord struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	ActionID  string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	Kind      string    `gorm:"type:varchar(32);not null"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (PendingActionRecord) TableName() string { return "pending_actions" }

// ProcessedEventRecord mirrors the in-memory duplicate suppressor.
type ProcessedEventRecord struct {
	ID        string    `gorm:"type:varchar(128);primaryKey"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (ProcessedEventRecord) TableName() string { return "processed_events" }

// KVRecord holds small durable state (session token, device identity).
type KVRecord struct {
	Key       string `gorm:"type:varchar(128);primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (KVRecord) TableName() string { return "kv" }

// Store wraps the coordinator's sqlite database.
type Store struct {
	db *gorm.DB
}

// Open initializes the database and migrates the schema. Pass
// ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&PendingActionRecord{},
		&ProcessedEventRecord{},
		&KVRecord{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Get returns the value for key, or "" when absent.
func (s *Store) Get(key string) (string, error) {
	var rec KVRecord
	if err := s.db.Where("key = ?", key).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return rec.Value, nil
}

func (s *Store) Set(key, value string) error {
	rec := KVRecord{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.Save(&rec).Error
}

func (s *Store) Remove(key string) error {
	return s.db.Where("key = ?", key).Delete(&KVRecord{}).Error
}

// WasHandled implements the duplicate suppressor's durable mirror.
func (s *Store) WasHandled(id string, now time.Time) bool {
	var count int64
	s.db.Model(&ProcessedEventRecord{}).
		Where("id = ? AND expires_at > ?", id, now).
		Count(&count)
	return count > 0
}

func (s *Store) MarkHandled(id string, expiresAt time.Time) error {
	rec := ProcessedEventRecord{ID: id, ExpiresAt: expiresAt}
	return s.db.Save(&rec).Error
}

func (s *Store) PurgeExpired(now time.Time) error {
	return s.db.Where("expires_at <= ?", now).Delete(&ProcessedEventRecord{}).Error
}
