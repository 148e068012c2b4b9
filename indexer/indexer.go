package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brokerchain/storage"
)

const (
	cursorName      = "journal"
	defaultBatch    = 500
	defaultInterval = 2 * time.Second
	defaultPageSize = 100
)

// accountKeys lists, in priority order, the attributes naming the account an
// event belongs to.
var accountKeys = []string{"address", "maker", "owner", "originator", "creator", "filler", "from"}

// Source is the journal the indexer copies from.
type Source interface {
	Range(from uint64, limit int) ([]storage.JournalEntry, error)
}

// Indexer copies the event journal into a SQL database for ad-hoc queries and
// reporting.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	batch  int
}

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates the
// schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// New wraps an opened database.
func New(db *gorm.DB, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, logger: logger, batch: defaultBatch}
}

// DB exposes the underlying handle.
func (ix *Indexer) DB() *gorm.DB { return ix.db }

// Cursor returns the last indexed journal sequence.
func (ix *Indexer) Cursor(ctx context.Context) (uint64, error) {
	var cur Cursor
	err := ix.db.WithContext(ctx).Where("name = ?", cursorName).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cur.Seq, nil
}

// Sync copies every journal entry after the cursor and returns the number of
// entries indexed. Each batch and its cursor move commit together.
func (ix *Indexer) Sync(ctx context.Context, src Source) (int, error) {
	total := 0
	for {
		cursor, err := ix.Cursor(ctx)
		if err != nil {
			return total, err
		}
		entries, err := src.Range(cursor+1, ix.batch)
		if err != nil {
			return total, fmt.Errorf("indexer: read journal: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}
		records := make([]EventRecord, 0, len(entries))
		for _, entry := range entries {
			rec, err := newRecord(entry)
			if err != nil {
				return total, err
			}
			records = append(records, rec)
		}
		last := entries[len(entries)-1].Seq
		err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error; err != nil {
				return err
			}
			return tx.Save(&Cursor{Name: cursorName, Seq: last, UpdatedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return total, fmt.Errorf("indexer: write batch: %w", err)
		}
		total += len(records)
		if len(entries) < ix.batch {
			return total, nil
		}
	}
}

// Run syncs on every tick until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := ix.Sync(ctx, src)
		if err != nil {
			ix.logger.Error("indexer sync failed", slog.Any("error", err))
		} else if n > 0 {
			ix.logger.Debug("indexer synced", slog.Int("events", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newRecord(entry storage.JournalEntry) (EventRecord, error) {
	attrs, err := json.Marshal(entry.Attributes)
	if err != nil {
		return EventRecord{}, err
	}
	rec := EventRecord{
		Seq:        entry.Seq,
		Type:       entry.Type,
		Asset:      entry.Attributes["asset"],
		Amount:     entry.Attributes["amount"],
		Attributes: string(attrs),
		Checksum:   entry.Checksum,
		IndexedAt:  time.Now().UTC(),
	}
	for _, key := range accountKeys {
		if v := entry.Attributes[key]; v != "" {
			rec.Account = v
			break
		}
	}
	return rec, nil
}

// Filter narrows an event query. Zero fields match everything.
type Filter struct {
	Type     string
	Account  string
	Asset    string
	AfterSeq uint64
	Limit    int
}

// Events returns indexed events in sequence order.
func (ix *Indexer) Events(ctx context.Context, f Filter) ([]EventRecord, error) {
	q := ix.db.WithContext(ctx).Model(&EventRecord{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Account != "" {
		q = q.Where("account = ?", f.Account)
	}
	if f.Asset != "" {
		q = q.Where("asset = ?", f.Asset)
	}
	if f.AfterSeq > 0 {
		q = q.Where("seq > ?", f.AfterSeq)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	var out []EventRecord
	if err := q.Order("seq ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountByType summarises indexed events per type.
func (ix *Indexer) CountByType(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Type  string
		Total int64
	}
	var rows []row
	err := ix.db.WithContext(ctx).Model(&EventRecord{}).
		Select("type, count(*) as total").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Type] = r.Total
	}
	return out, nil
}
