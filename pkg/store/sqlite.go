package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/soft_delete"
)

// evaluationRecord is the table row behind SQLHistory. Times are stored as
// unix nanoseconds so range queries compare integers.
type evaluationRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Expression string
	Grammar    string
	Dataset    string `gorm:"index:idx_evaluation_dataset"`
	Row        int
	State      string
	Result     string
	ResultType string
	Error      string
	Tags       string
	CreatedAt  int64                 `gorm:"autoCreateTime:nano;index:idx_evaluation_created"`
	DeletedAt  soft_delete.DeletedAt `gorm:"index:idx_evaluation_deleted"`
}

func (evaluationRecord) TableName() string { return "evaluations" }

// SQLHistory is a History persisted in a SQLite database through gorm.
// Prune soft-deletes; Purge removes soft-deleted rows for good.
type SQLHistory struct {
	db *gorm.DB
}

// OpenSQLHistory opens (creating if needed) the SQLite database at path
// and migrates the evaluations table.
func OpenSQLHistory(path string) (*SQLHistory, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening history database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&evaluationRecord{}); err != nil {
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return &SQLHistory{db: db}, nil
}

func (h *SQLHistory) Record(ctx context.Context, e *Evaluation) error {
	if e.CreateTime.IsZero() {
		e.CreateTime = time.Now()
	}
	rec := &evaluationRecord{
		Expression: e.Expression,
		Grammar:    e.Grammar,
		Dataset:    e.Dataset,
		Row:        e.Row,
		State:      string(e.State),
		Result:     e.Result,
		ResultType: e.ResultType,
		Error:      e.Error,
		Tags:       strings.Join(e.Tags, ","),
		CreatedAt:  e.CreateTime.UnixNano(),
	}
	if err := h.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("recording evaluation: %w", err)
	}
	if e.Name == "" {
		e.Name = recordName(rec.ID)
	}
	return nil
}

func (h *SQLHistory) List(ctx context.Context, limit int) ([]*Evaluation, error) {
	var recs []evaluationRecord
	q := h.db.WithContext(ctx).Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing evaluations: %w", err)
	}

	result := make([]*Evaluation, 0, len(recs))
	for _, rec := range recs {
		e := &Evaluation{
			Name:       recordName(rec.ID),
			Expression: rec.Expression,
			Grammar:    rec.Grammar,
			Dataset:    rec.Dataset,
			Row:        rec.Row,
			State:      EvaluationState(rec.State),
			Result:     rec.Result,
			ResultType: rec.ResultType,
			Error:      rec.Error,
			CreateTime: time.Unix(0, rec.CreatedAt),
		}
		if rec.Tags != "" {
			e.Tags = strings.Split(rec.Tags, ",")
		}
		result = append(result, e)
	}
	return result, nil
}

func (h *SQLHistory) Prune(ctx context.Context, before time.Time) (int, error) {
	res := h.db.WithContext(ctx).
		Where("created_at < ?", before.UnixNano()).
		Delete(&evaluationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning evaluations: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Purge permanently removes rows that Prune soft-deleted.
func (h *SQLHistory) Purge(ctx context.Context) (int, error) {
	res := h.db.WithContext(ctx).Unscoped().
		Where("deleted_at != ?", 0).
		Delete(&evaluationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging evaluations: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Count returns the number of rows including soft-deleted ones.
func (h *SQLHistory) Count(ctx context.Context) (live, total int64, err error) {
	if err = h.db.WithContext(ctx).Model(&evaluationRecord{}).Count(&live).Error; err != nil {
		return 0, 0, err
	}
	if err = h.db.WithContext(ctx).Unscoped().Model(&evaluationRecord{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	return live, total, nil
}

func (h *SQLHistory) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordName(id int64) string {
	return fmt.Sprintf("evaluations/eval-%d", id)
}
