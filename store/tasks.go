package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrDuplicateTask indicates a retry task is already queued for the
// username. Duplicate enqueues are rejected, never merged.
var ErrDuplicateTask = errors.New("store: task already queued for username")

// ContributorTask is a pending contributor grant that failed on the
// subreddit's invite rate limit and will be retried later. At most one task
// exists per username; the rendered report travels with it so the eventual
// modmail reply doesn't require re-verification.
type ContributorTask struct {
	Username  string    `gorm:"primaryKey"`
	Report    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TaskStore wraps task-queue access. Every operation runs in its own
// transaction, so overlapping schedulers never observe a partial write.
type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) (*TaskStore, error) {
	if err := db.AutoMigrate(&ContributorTask{}); err != nil {
		return nil, err
	}
	return &TaskStore{db: db}, nil
}

// Enqueue records a pending grant for the username. Returns
// ErrDuplicateTask if one is already queued.
func (s *TaskStore) Enqueue(ctx context.Context, username, report string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&ContributorTask{
			Username:  username,
			Report:    report,
			CreatedAt: time.Now(),
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateTask
	}
	return err
}

// Next returns a single pending task if one exists, or nil.
func (s *TaskStore) Next(ctx context.Context) (*ContributorTask, error) {
	var task ContributorTask
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Order("created_at").First(&task).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Complete removes the username's task after a successful grant.
func (s *TaskStore) Complete(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&ContributorTask{}, "username = ?", username).Error
	})
}

// Pending lists every queued task, oldest first.
func (s *TaskStore) Pending(ctx context.Context) ([]ContributorTask, error) {
	var tasks []ContributorTask
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Order("created_at").Find(&tasks).Error
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
