package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"carbonlink/core/events"
	"carbonlink/core/types"
	"carbonlink/native/linkage"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// Record is one persisted event.
type Record struct {
	Seq        int64     `gorm:"primaryKey;autoIncrement" json:"seq"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	FlightID   string    `gorm:"size:64;index:idx_journal_linkage" json:"flightId,omitempty"`
	ProjectID  string    `gorm:"size:64;index:idx_journal_linkage" json:"projectId,omitempty"`
	Height     uint64    `json:"height"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (Record) TableName() string { return "linkage_events" }

// Event decodes the stored record back into its wire shape.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("journal: decode attributes of %d: %w", r.Seq, err)
		}
	}
	return &types.Event{Type: r.Type, Height: r.Height, Attributes: attrs}, nil
}

// Journal persists emitted events so they can be listed after the fact.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the journal database and migrates its schema.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, logger: slog.Default()}, nil
}

// SetLogger overrides the logger used for write failures.
func (j *Journal) SetLogger(l *slog.Logger) {
	if l != nil {
		j.logger = l
	}
}

// Emit implements events.Emitter. Write failures are logged; the state
// transition that produced the event has already committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	if err := j.Record(context.Background(), payload); err != nil {
		j.logger.Error("journal write failed", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Record persists a single event.
func (j *Journal) Record(ctx context.Context, evt *types.Event) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	row := Record{
		EventID:    uuid.New(),
		Type:       evt.Type,
		FlightID:   evt.Attr(linkage.AttrFlight),
		ProjectID:  evt.Attr(linkage.AttrProject),
		Height:     evt.Height,
		Attributes: string(attrs),
	}
	return j.db.WithContext(ctx).Create(&row).Error
}

// ListByLinkage returns the events recorded for one linkage in emission
// order.
func (j *Journal) ListByLinkage(ctx context.Context, key linkage.Key, limit int) ([]Record, error) {
	var rows []Record
	err := j.db.WithContext(ctx).
		Where("flight_id = ? AND project_id = ?", key.FlightID, key.ProjectID).
		Order("seq ASC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	return rows, err
}

// ListSince returns events with a sequence number above after.
func (j *Journal) ListSince(ctx context.Context, after int64, limit int) ([]Record, error) {
	var rows []Record
	err := j.db.WithContext(ctx).
		Where("seq > ?", after).
		Order("seq ASC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	return rows, err
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
