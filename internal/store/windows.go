package store

import (
	"context"
	"time"

	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type windowRow struct {
	ID                string                        `gorm:"primaryKey;size:32"`
	StartTime         time.Time                     `gorm:"index;not null"`
	EndTime           time.Time                     `gorm:"not null"`
	TotalFlows        int64                         `gorm:"not null;default:0"`
	TotalPackets      int64                         `gorm:"not null;default:0"`
	TotalPayloadBytes int64                         `gorm:"not null;default:0"`
	BenignFlows       int64                         `gorm:"not null;default:0"`
	AttackFlows       int64                         `gorm:"not null;default:0"`
	UnknownFlows      int64                         `gorm:"not null;default:0"`
	LabelCounts       map[string]int64              `gorm:"serializer:json"`
	FeatureStats      map[string]model.FeatureStats `gorm:"serializer:json"`
	Narrative         string                        `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (windowRow) TableName() string { return "windows" }

func windowToRow(w *model.Window) *windowRow {
	return &windowRow{
		ID:                w.ID,
		StartTime:         w.StartTime.UTC(),
		EndTime:           w.EndTime.UTC(),
		TotalFlows:        w.TotalFlows,
		TotalPackets:      w.TotalPackets,
		TotalPayloadBytes: w.TotalPayloadBytes,
		BenignFlows:       w.BenignFlows,
		AttackFlows:       w.AttackFlows,
		UnknownFlows:      w.UnknownFlows,
		LabelCounts:       w.LabelCounts,
		FeatureStats:      w.FeatureStats,
		Narrative:         w.Narrative,
	}
}

func (r *windowRow) toModel() *model.Window {
	w := &model.Window{
		ID:                r.ID,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		TotalFlows:        r.TotalFlows,
		TotalPackets:      r.TotalPackets,
		TotalPayloadBytes: r.TotalPayloadBytes,
		BenignFlows:       r.BenignFlows,
		AttackFlows:       r.AttackFlows,
		UnknownFlows:      r.UnknownFlows,
		LabelCounts:       r.LabelCounts,
		FeatureStats:      r.FeatureStats,
		Narrative:         r.Narrative,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if w.LabelCounts == nil {
		w.LabelCounts = map[string]int64{}
	}
	if w.FeatureStats == nil {
		w.FeatureStats = map[string]model.FeatureStats{}
	}
	return w.UTC()
}

// Upsert inserts w, or overwrites every mutable field of the existing window
// with the same id. The write happens in one transaction. On return w carries
// the stored timestamps.
func (s *Store) Upsert(ctx context.Context, w *model.Window) error {
	if w.ID == "" {
		return errors.New("window id is empty")
	}
	if w.TotalFlows <= 0 {
		return errors.Newf("refusing to persist window %s without flows", w.ID)
	}
	row := windowToRow(w)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing windowRow
		err := tx.Where("id = ?", w.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(row).Error
		case err != nil:
			return err
		}
		row.CreatedAt = existing.CreatedAt
		return tx.Save(row).Error
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upsert window %s", w.ID)
	}
	w.CreatedAt = row.CreatedAt.UTC()
	w.UpdatedAt = row.UpdatedAt.UTC()
	return nil
}

// Get returns the window with the given id.
func (s *Store) Get(ctx context.Context, id string) (*model.Window, error) {
	var row windowRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "window %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load window %s", id)
	}
	return row.toModel(), nil
}

// Exists reports whether a window with the given id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&windowRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, errors.Wrapf(err, "failed to check window %s", id)
	}
	return n > 0, nil
}

// List returns windows matching f, newest first unless f.Ascending is set.
func (s *Store) List(ctx context.Context, f model.WindowFilter) ([]*model.Window, error) {
	q := s.db.WithContext(ctx).Model(&windowRow{})
	if !f.From.IsZero() {
		q = q.Where("start_time >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("start_time < ?", f.To.UTC())
	}
	if f.Ascending {
		q = q.Order("start_time ASC")
	} else {
		q = q.Order("start_time DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []windowRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list windows")
	}
	out := make([]*model.Window, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// Latest returns the most recent window by start time.
func (s *Store) Latest(ctx context.Context) (*model.Window, error) {
	windows, err := s.List(ctx, model.WindowFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, errors.Wrap(ErrNotFound, "no windows stored")
	}
	return windows[0], nil
}

// Count returns the number of stored windows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&windowRow{}).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count windows")
	}
	return n, nil
}

// Prune hard-deletes every window except the keepN most recent by start
// time and returns the deleted ids, oldest last. Alerts are left untouched.
func (s *Store) Prune(ctx context.Context, keepN int) ([]string, error) {
	if keepN < 0 {
		keepN = 0
	}
	var doomed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&windowRow{}).Order("start_time DESC").Order("id DESC").Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) <= keepN {
			return nil
		}
		doomed = ids[keepN:]
		return tx.Where("id IN ?", doomed).Delete(&windowRow{}).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to prune windows")
	}
	if len(doomed) > 0 {
		s.logger.Info("Pruned windows", zap.Int("deleted", len(doomed)), zap.Int("kept", keepN))
	}
	return doomed, nil
}
