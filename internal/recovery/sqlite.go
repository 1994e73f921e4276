package recovery

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one cached key in the on-device SQLite store.
type Entry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "recovery_entries" }

type SQLiteCache struct {
	db *gorm.DB
}

// NewSQLiteCache migrates the entry table and returns a cache backed by db.
func NewSQLiteCache(db *gorm.DB) (*SQLiteCache, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Save(ctx context.Context, key string, value []byte) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&e).Error
}

func (c *SQLiteCache) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var e Entry
	err := c.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

func (c *SQLiteCache) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.db.WithContext(ctx).Where("key IN ?", keys).Delete(&Entry{}).Error
}
