package panel

import (
	"fmt"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const busyTimeoutMillis = 5000

// Store reads (and, for maintenance, edits) the database of a 3x-ui panel.
// The panel owns the schema; Store never migrates it.
type Store struct {
	db *gorm.DB
}

// Options controls how the panel database is opened.
type Options struct {
	// ReadOnly opens the file with mode=ro so the bot never holds a write
	// lock on the panel's database.
	ReadOnly bool
	Logger   logger.Interface
}

func Open(path string, opts Options) (*Store, error) {
	// sqlite would silently create an empty file otherwise
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("panel db %s: %w", path, err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeoutMillis)
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}

	cfg := &gorm.Config{}
	if opts.Logger != nil {
		cfg.Logger = opts.Logger
	}

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open panel db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get raw panel db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping panel db: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an already opened connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get raw panel db: %w", err)
	}
	return sqlDB.Close()
}
