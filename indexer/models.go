package indexer

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord mirrors one journal entry in SQL. Account and Asset are copied
// out of the attributes so the common lookups stay indexed.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Seq        uint64 `gorm:"uniqueIndex;not null"`
	Type       string `gorm:"size:64;index"`
	Account    string `gorm:"size:64;index"`
	Asset      string `gorm:"size:64;index"`
	Amount     string `gorm:"size:80"`
	Attributes string `gorm:"type:text"`
	Checksum   string `gorm:"size:64"`
	IndexedAt  time.Time
}

// TableName pins the table name independent of gorm's pluralisation.
func (EventRecord) TableName() string { return "broker_events" }

// Cursor records the last journal sequence copied into the index.
type Cursor struct {
	Name      string `gorm:"primaryKey;size:32"`
	Seq       uint64
	UpdatedAt time.Time
}

func (Cursor) TableName() string { return "broker_index_cursor" }

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventRecord{},
		&Cursor{},
	)
}
