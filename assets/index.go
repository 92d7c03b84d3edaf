package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is one row of the asset index: content hash to blob location.
// The index plus the blob directory is the only durable state the core
// owns.
type Record struct {
	Hash        string    `gorm:"primaryKey;size:64"`
	Path        string    `gorm:"not null"`
	Size        int64     `gorm:"not null"`
	ContentType string    `gorm:"size:128"`
	SourceURL   string    `gorm:"size:2048"`
	CreatedAt   time.Time `gorm:"not null"`
	LastAccess  time.Time `gorm:"not null;index"`
}

// TableName keeps the table name stable regardless of gorm pluralization.
func (Record) TableName() string { return "assets" }

// Index is the gorm-backed hash index over the blob store.
type Index struct {
	db *gorm.DB
}

// NewIndex migrates the schema and wraps the connection.
func NewIndex(db *gorm.DB) (*Index, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate asset index: %w", err)
	}
	return &Index{db: db}, nil
}

// Get looks up a record by content hash. Returns (nil, nil) on a miss.
func (ix *Index) Get(ctx context.Context, hash string) (*Record, error) {
	var rec Record
	err := ix.db.WithContext(ctx).First(&rec, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put inserts or refreshes a record. A concurrent fetch of byte-identical
// content from another URL may have inserted the hash first; the upsert
// keeps that harmless.
func (ix *Index) Put(ctx context.Context, rec *Record) error {
	return ix.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_access", "source_url"}),
	}).Create(rec).Error
}

// Touch bumps LastAccess for the eviction ordering.
func (ix *Index) Touch(ctx context.Context, hash string, at time.Time) error {
	return ix.db.WithContext(ctx).Model(&Record{}).
		Where("hash = ?", hash).
		Update("last_access", at).Error
}

// Delete removes a record.
func (ix *Index) Delete(ctx context.Context, hash string) error {
	return ix.db.WithContext(ctx).Delete(&Record{}, "hash = ?", hash).Error
}

// TotalBytes sums stored blob sizes.
func (ix *Index) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	err := ix.db.WithContext(ctx).Model(&Record{}).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// LeastRecent returns up to n records ordered by LastAccess ascending,
// the eviction candidates.
func (ix *Index) LeastRecent(ctx context.Context, n int) ([]Record, error) {
	var recs []Record
	err := ix.db.WithContext(ctx).
		Order("last_access asc").
		Limit(n).
		Find(&recs).Error
	return recs, err
}

// Count returns the number of indexed blobs.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	err := ix.db.WithContext(ctx).Model(&Record{}).Count(&n).Error
	return n, err
}
