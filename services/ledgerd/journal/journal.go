package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendledger/core/events"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var errNilDB = errors.New("journal: database must not be nil")

// EventRecord is the persisted form of a committed ledger event. The row ID is
// the durable sequence reported to readers.
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	CallID     string    `gorm:"size:36;index"`
	EventIndex int       `gorm:"column:event_index"`
	Action     string    `gorm:"size:64;index"`
	Caller     string    `gorm:"size:128;index"`
	Type       string    `gorm:"size:128"`
	Attributes string    `gorm:"type:text"`
	Timestamp  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of the struct name.
func (EventRecord) TableName() string { return "ledger_events" }

// Filter narrows a journal query. Zero fields match everything.
type Filter struct {
	Action  string
	Caller  string
	CallID  string
	AfterID uint64
	Limit   int
}

// Journal appends committed ledger events to a SQL table and serves history
// queries over them.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the journal database selected by driver ("sqlite",
// "postgres" or "mysql") and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errNilDB
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, logger: log}, nil
}

// Emit implements events.Emitter. Only committed records are journaled;
// failures are logged because the ledger write already succeeded.
func (j *Journal) Emit(evt events.Event) {
	record, ok := evt.(events.Record)
	if !ok || j == nil {
		return
	}
	if err := j.Append(context.Background(), record); err != nil {
		j.logger.Error("journal append failed",
			slog.String("call_id", record.CallID),
			slog.String("action", record.Action),
			slog.String("error", err.Error()))
	}
}

// Append persists records in a single transaction.
func (j *Journal) Append(ctx context.Context, records ...events.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]EventRecord, 0, len(records))
	for _, record := range records {
		attrs, err := json.Marshal(record.Attributes)
		if err != nil {
			return fmt.Errorf("journal: encode attributes: %w", err)
		}
		rows = append(rows, EventRecord{
			CallID:     record.CallID,
			EventIndex: record.Index,
			Action:     record.Action,
			Caller:     record.Caller,
			Type:       record.Type,
			Attributes: string(attrs),
			Timestamp:  record.Timestamp.UTC(),
		})
	}
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}

// Query returns journaled records matching filter in append order.
func (j *Journal) Query(ctx context.Context, filter Filter) ([]events.Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := j.db.WithContext(ctx).Model(&EventRecord{})
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action = ?", action)
	}
	if caller := strings.TrimSpace(filter.Caller); caller != "" {
		query = query.Where("caller = ?", caller)
	}
	if callID := strings.TrimSpace(filter.CallID); callID != "" {
		query = query.Where("call_id = ?", callID)
	}
	if filter.AfterID > 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	var rows []EventRecord
	if err := query.Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	out := make([]events.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Count reports the number of journaled events.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var total int64
	err := j.db.WithContext(ctx).Model(&EventRecord{}).Count(&total).Error
	return total, err
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (row EventRecord) toRecord() (events.Record, error) {
	attrs := map[string]string{}
	if row.Attributes != "" {
		if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
			return events.Record{}, fmt.Errorf("journal: decode attributes of %d: %w", row.ID, err)
		}
	}
	return events.Record{
		Sequence:   row.ID,
		CallID:     row.CallID,
		Index:      row.EventIndex,
		Action:     row.Action,
		Caller:     row.Caller,
		Type:       row.Type,
		Attributes: attrs,
		Timestamp:  row.Timestamp.UTC(),
	}, nil
}
