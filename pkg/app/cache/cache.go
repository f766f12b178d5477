// Package cache is the local chat-session cache. It is a best-effort
// fallback keyed by user session id; the remote store wins whenever it
// answers.
package cache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/pilot-dev/pilot/pkg/app/errors"
	"github.com/pilot-dev/pilot/pkg/app/metrics"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

// record is one cached session list, serialized as JSON.
type record struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Payload   string    `gorm:"column:payload"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (record) TableName() string {
	return "chat_session_cache"
}

// Store is a sqlite-backed cache of chat session lists.
type Store struct {
	db  *gorm.DB
	log logr.Logger
}

// Open opens (and migrates) the cache database at path. Use ":memory:"
// for an ephemeral cache.
func Open(path string, log logr.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCacheAccess, "failed to open cache database", err)
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCacheAccess, "failed to migrate cache schema", err)
	}
	return &Store{db: db, log: log.WithName("session-cache")}, nil
}

// SaveSessions writes the full session list for a user, replacing any
// previous entry.
func (s *Store) SaveSessions(userID string, sessions []state.ChatSession) error {
	payload, err := json.Marshal(sessions)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeCacheAccess, "failed to serialize sessions", err)
	}
	rec := record{Key: cacheKey(userID), Payload: string(payload), UpdatedAt: time.Now().UTC()}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
		return apperrors.New(apperrors.ErrCodeCacheAccess, "failed to write cache entry", err)
	}
	metrics.CacheWrites.Inc()
	return nil
}

// LoadSessions reads the cached session list for a user. A missing entry
// is not an error; it returns a nil slice.
func (s *Store) LoadSessions(userID string) ([]state.ChatSession, error) {
	var rec record
	err := s.db.First(&rec, "key = ?", cacheKey(userID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCacheAccess, "failed to read cache entry", err)
	}

	var sessions []state.ChatSession
	if err := json.Unmarshal([]byte(rec.Payload), &sessions); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCacheAccess, "failed to decode cache entry", err)
	}
	return sessions, nil
}

// DeleteSessions drops the cached list for a user.
func (s *Store) DeleteSessions(userID string) error {
	if err := s.db.Delete(&record{}, "key = ?", cacheKey(userID)).Error; err != nil {
		return apperrors.New(apperrors.ErrCodeCacheAccess, "failed to delete cache entry", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func cacheKey(userID string) string {
	return "chat_sessions_" + userID
}
