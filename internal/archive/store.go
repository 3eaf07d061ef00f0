// Package archive keeps an audit copy of every notification pushed to this client.
package archive

import (
	"context"
	"time"

	"carenotify/internal/model"
	"carenotify/pkg/exception"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 50

// Record is one archived notification for one subscriber.
type Record struct {
	NotificationID  int64     `gorm:"primaryKey;autoIncrement:false"`
	SubscriberID    string    `gorm:"primaryKey;size:64"`
	Title           string    `gorm:"size:255"`
	Content         string    `gorm:"type:text"`
	IsUrgent        bool      `gorm:"index"`
	Status          string    `gorm:"size:16;index"`
	Service         string    `gorm:"size:64"`
	ServerCreatedAt string    `gorm:"size:40"`
	ReceivedAt      time.Time `gorm:"index"`
}

func (Record) TableName() string {
	return "notification_archive"
}

// FromNotification builds a record for a notification received at receivedAt.
func FromNotification(subscriberID string, n model.Notification, receivedAt time.Time) Record {
	status := n.Status
	if !status.IsAvailable() {
		status = model.StatusUnread
	}
	return Record{
		NotificationID:  n.ID,
		SubscriberID:    subscriberID,
		Title:           n.Title,
		Content:         n.Content,
		IsUrgent:        n.IsUrgent,
		Status:          string(status),
		Service:         n.Service,
		ServerCreatedAt: n.CreatedAt,
		ReceivedAt:      receivedAt.UTC(),
	}
}

// Notification converts a record back to the wire model.
func (r Record) Notification() model.Notification {
	return model.Notification{
		ID:          r.NotificationID,
		Title:       r.Title,
		Content:     r.Content,
		IsUrgent:    r.IsUrgent,
		Status:      model.Status(r.Status),
		CreatedAt:   r.ServerCreatedAt,
		Service:     r.Service,
		RecipientID: r.SubscriberID,
	}
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, exception.ErrArchiveNilStore
	}
	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return errors.Wrap(err, "migrate notification archive")
	}
	return nil
}

// Save inserts rec or refreshes the stored copy when the notification was seen before.
func (s *Store) Save(ctx context.Context, rec Record) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "notification_id"}, {Name: "subscriber_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "content", "is_urgent", "status", "service", "server_created_at", "received_at",
			}),
		}).
		Create(&rec).Error
	if err != nil {
		return errors.Wrap(err, "save archive record").With("notification_id", rec.NotificationID)
	}
	return nil
}

// MarkRead sets the stored status to READ and reports whether a record matched.
func (s *Store) MarkRead(ctx context.Context, subscriberID string, notificationID int64) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("subscriber_id = ? AND notification_id = ?", subscriberID, notificationID).
		Update("status", string(model.StatusRead))
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "mark archive record read").With("notification_id", notificationID)
	}
	return result.RowsAffected > 0, nil
}

// List returns the newest records first. A non-positive limit means 50.
func (s *Store) List(ctx context.Context, subscriberID string, filter model.StatusFilter, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []Record
	err := s.scope(ctx, subscriberID, filter).
		Order("received_at DESC").
		Order("notification_id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "list archive records")
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, subscriberID string, filter model.StatusFilter) (int64, error) {
	var n int64
	if err := s.scope(ctx, subscriberID, filter).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "count archive records")
	}
	return n, nil
}

func (s *Store) scope(ctx context.Context, subscriberID string, filter model.StatusFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Record{}).Where("subscriber_id = ?", subscriberID)
	filter = filter.OrDefault()
	if filter != model.FilterAll {
		q = q.Where("status = ?", string(filter))
	}
	return q
}
