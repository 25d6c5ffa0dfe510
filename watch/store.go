package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens (or creates) the SQLite database and migrates every table.
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SignalRow{}, &AlertRecord{}, &AlertFingerprint{}); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenQueryDB opens an existing SQLite DB for querying without mutating schema.
// Used by read-only commands such as history.
func OpenQueryDB(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// SQLStore serves signals and keeps alert history in one gorm database.
type SQLStore struct {
	db     *gorm.DB
	region *Region
}

// NewSQLStore wraps db. A non-nil region restricts signal queries to it.
func NewSQLStore(db *gorm.DB, region *Region) *SQLStore {
	return &SQLStore{db: db, region: region}
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	s.db = nil
	return err
}

// InsertSignals stores raw reports, in batches.
func (s *SQLStore) InsertSignals(ctx context.Context, signals []Signal) error {
	if len(signals) == 0 {
		return nil
	}
	rows := make([]SignalRow, 0, len(signals))
	for _, sig := range signals {
		rows = append(rows, SignalRow{
			MMSI:      sig.VesselID,
			Lat:       sig.Latitude,
			Lon:       sig.Longitude,
			SOG:       sig.SpeedOverGround,
			Timestamp: sig.Timestamp.UTC(),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

// Query returns the reports in [start, end]. An unreachable store or an empty
// window both yield ErrDataUnavailable.
func (s *SQLStore) Query(ctx context.Context, start, end time.Time) ([]Signal, error) {
	q := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", start.UTC(), end.UTC())
	if s.region != nil {
		q = q.Where("lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?",
			s.region.MinLat, s.region.MaxLat, s.region.MinLon, s.region.MaxLon)
	}
	var rows []SignalRow
	if err := q.Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no signals between %s and %s", ErrDataUnavailable, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	out := make([]Signal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.signal())
	}
	return out, nil
}

// FindRecent returns the latest record that announced fingerprint at or
// after since, or nil.
func (s *SQLStore) FindRecent(ctx context.Context, fingerprint string, since time.Time) (*AlertRecord, error) {
	var fp AlertFingerprint
	err := s.db.WithContext(ctx).
		Where("fingerprint = ? AND sent_at >= ?", fingerprint, since.UTC()).
		Order("sent_at desc").
		First(&fp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec AlertRecord
	if err := s.db.WithContext(ctx).Where("id = ?", fp.RecordID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert writes the record and one fingerprint row per bundled encounter in
// a single transaction. RecordID and SentAt of the rows are taken from rec.
func (s *SQLStore) Insert(ctx context.Context, rec *AlertRecord, encounters []AlertFingerprint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		if len(encounters) == 0 {
			return nil
		}
		rows := make([]AlertFingerprint, 0, len(encounters))
		for _, e := range encounters {
			e.ID = 0
			e.RecordID = rec.ID
			e.SentAt = rec.SentAt
			e.Start = e.Start.UTC()
			e.End = e.End.UTC()
			rows = append(rows, e)
		}
		return tx.Create(&rows).Error
	})
}

// FindContinuing returns the most recently announced encounter of pair sent
// at or after since whose last observation is at or after notBefore, or nil.
func (s *SQLStore) FindContinuing(ctx context.Context, pair string, since, notBefore time.Time) (*AlertFingerprint, error) {
	var fp AlertFingerprint
	err := s.db.WithContext(ctx).
		Where("pair_key = ? AND sent_at >= ? AND end_at >= ?", pair, since.UTC(), notBefore.UTC()).
		Order("end_at desc").
		First(&fp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

// ExtendEncounter moves the last observation of pair's announced encounters
// within the cool-down forward to end. It never moves it back.
func (s *SQLStore) ExtendEncounter(ctx context.Context, pair string, since, end time.Time) error {
	return s.db.WithContext(ctx).Model(&AlertFingerprint{}).
		Where("pair_key = ? AND sent_at >= ? AND end_at < ?", pair, since.UTC(), end.UTC()).
		Update("end_at", end.UTC()).Error
}

// MarkDelivery records one delivery attempt. A nil deliveryErr marks the
// record delivered.
func (s *SQLStore) MarkDelivery(ctx context.Context, id string, deliveryErr error) error {
	updates := map[string]any{"attempts": gorm.Expr("attempts + ?", 1)}
	if deliveryErr != nil {
		updates["last_error"] = deliveryErr.Error()
	} else {
		now := time.Now().UTC()
		updates["delivered"] = true
		updates["delivered_at"] = &now
		updates["last_error"] = ""
	}
	return s.db.WithContext(ctx).Model(&AlertRecord{}).Where("id = ?", id).Updates(updates).Error
}

// Pending lists undelivered records with fewer than maxAttempts attempts,
// oldest first. maxAttempts <= 0 means no limit.
func (s *SQLStore) Pending(ctx context.Context, maxAttempts int) ([]AlertRecord, error) {
	q := s.db.WithContext(ctx).Where("delivered = ?", false)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	var out []AlertRecord
	if err := q.Order("sent_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryFilter selects records for Recent.
type HistoryFilter struct {
	// Limit caps the result. Default 10.
	Limit int
	// HighPriorityOnly keeps records bundling at least one high-priority
	// verdict.
	HighPriorityOnly bool
}

// Recent returns the newest records matching f.
func (s *SQLStore) Recent(ctx context.Context, f HistoryFilter) ([]AlertRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}
	q := s.db.WithContext(ctx)
	if f.HighPriorityOnly {
		q = q.Where("high_priority > ?", 0)
	}
	var out []AlertRecord
	if err := q.Order("sent_at desc").Limit(f.Limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
