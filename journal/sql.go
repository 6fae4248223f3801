package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlBatchSize = 256

// journalRow is the relational layout of an entry. Seq is the auto-increment
// primary key so the database assigns ordering.
type journalRow struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	Type      string `gorm:"size:64;not null;index"`
	Account   string `gorm:"size:128;index"`
	Payload   []byte `gorm:"not null"`
	Timestamp uint64 `gorm:"not null"`
	CreatedAt time.Time
}

// TableName implements the GORM tabler interface.
func (journalRow) TableName() string { return "journal_entries" }

// SQL persists entries through GORM on SQLite or Postgres.
type SQL struct {
	db *gorm.DB
}

// OpenSQL opens the journal for driver ("sqlite" or "postgres") and migrates
// the schema.
func OpenSQL(driver, dsn string) (*SQL, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return NewSQL(db)
}

// NewSQL wraps an existing connection and migrates the schema.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := db.AutoMigrate(&journalRow{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &SQL{db: db}, nil
}

// Append inserts the entry; the database assigns Seq.
func (s *SQL) Append(ctx context.Context, entry Entry) (Entry, error) {
	row := journalRow{
		Type:      entry.Type,
		Account:   entry.Account,
		Payload:   entry.Payload,
		Timestamp: entry.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	entry.Seq = row.Seq
	return entry, nil
}

// Iterate reads entries after fromSeq in batches.
func (s *SQL) Iterate(ctx context.Context, fromSeq uint64, fn func(Entry) bool) error {
	cursor := fromSeq
	for {
		var rows []journalRow
		err := s.db.WithContext(ctx).
			Where("seq > ?", cursor).
			Order("seq ASC").
			Limit(sqlBatchSize).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("journal: query: %w", err)
		}
		for _, row := range rows {
			cursor = row.Seq
			if !fn(Entry{Seq: row.Seq, Type: row.Type, Account: row.Account, Payload: row.Payload, Timestamp: row.Timestamp}) {
				return nil
			}
		}
		if len(rows) < sqlBatchSize {
			return nil
		}
	}
}

// Close releases the underlying connection pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
