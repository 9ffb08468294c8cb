package store

import (
	"context"
	"time"

	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

type alertRow struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement"`
	WindowID       string         `gorm:"index;size:32;not null"`
	Type           string         `gorm:"size:16;index;not null"`
	Severity       string         `gorm:"size:16;index;not null"`
	Title          string         `gorm:"size:255;not null"`
	Message        string         `gorm:"type:text"`
	Details        map[string]any `gorm:"serializer:json"`
	Acknowledged   bool           `gorm:"index;not null;default:false"`
	Resolved       bool           `gorm:"index;not null;default:false"`
	CreatedAt      time.Time      `gorm:"index"`
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

func (alertRow) TableName() string { return "alerts" }

func alertToRow(a *model.Alert) *alertRow {
	return &alertRow{
		WindowID: a.WindowID,
		Type:     string(a.Type),
		Severity: string(a.Severity),
		Title:    a.Title,
		Message:  a.Message,
		Details:  a.Details,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r *alertRow) toModel() *model.Alert {
	details := r.Details
	if details == nil {
		details = map[string]any{}
	}
	return &model.Alert{
		ID:             r.ID,
		WindowID:       r.WindowID,
		Type:           model.AlertType(r.Type),
		Severity:       model.Severity(r.Severity),
		Title:          r.Title,
		Message:        r.Message,
		Details:        details,
		Acknowledged:   r.Acknowledged,
		Resolved:       r.Resolved,
		CreatedAt:      r.CreatedAt.UTC(),
		AcknowledgedAt: utcPtr(r.AcknowledgedAt),
		ResolvedAt:     utcPtr(r.ResolvedAt),
	}
}

// CreateAlerts appends alerts in one transaction and fills in their ids and
// creation times.
func (s *Store) CreateAlerts(ctx context.Context, alerts []*model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	rows := make([]*alertRow, len(alerts))
	for i, a := range alerts {
		rows[i] = alertToRow(a)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return errors.Wrap(err, "failed to create alerts")
	}
	for i, r := range rows {
		alerts[i].ID = r.ID
		alerts[i].CreatedAt = r.CreatedAt.UTC()
	}
	return nil
}

// ListAlerts returns alerts matching f, newest first.
func (s *Store) ListAlerts(ctx context.Context, f model.AlertFilter) ([]*model.Alert, error) {
	q := s.db.WithContext(ctx).Model(&alertRow{})
	if f.Acknowledged != nil {
		q = q.Where("acknowledged = ?", *f.Acknowledged)
	}
	if f.Resolved != nil {
		q = q.Where("resolved = ?", *f.Resolved)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.WindowID != "" {
		q = q.Where("window_id = ?", f.WindowID)
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []alertRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list alerts")
	}
	out := make([]*model.Alert, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// GetAlert returns one alert.
func (s *Store) GetAlert(ctx context.Context, id uint64) (*model.Alert, error) {
	var row alertRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "alert %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load alert %d", id)
	}
	return row.toModel(), nil
}

// Acknowledge marks an alert acknowledged. Acknowledging twice keeps the
// first timestamp.
func (s *Store) Acknowledge(ctx context.Context, id uint64) (*model.Alert, error) {
	return s.mark(ctx, id, "acknowledged", "acknowledged_at")
}

// Resolve marks an alert resolved. Resolving twice keeps the first timestamp.
func (s *Store) Resolve(ctx context.Context, id uint64) (*model.Alert, error) {
	return s.mark(ctx, id, "resolved", "resolved_at")
}

func (s *Store) mark(ctx context.Context, id uint64, flag, stamp string) (*model.Alert, error) {
	var row alertRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			return err
		}
		if (flag == "acknowledged" && row.Acknowledged) || (flag == "resolved" && row.Resolved) {
			return nil
		}
		now := tx.NowFunc()
		if err := tx.Model(&alertRow{}).Where("id = ?", id).
			Updates(map[string]any{flag: true, stamp: now}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "alert %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set %s on alert %d", flag, id)
	}
	return row.toModel(), nil
}

// CountOpenAlerts returns the number of unresolved alerts.
func (s *Store) CountOpenAlerts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&alertRow{}).Where("resolved = ?", false).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count open alerts")
	}
	return n, nil
}
