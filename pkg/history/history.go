package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("session not found")

// Session is one contiguous stretch of playback: opened when the intent
// transitions to Playing, closed when it leaves Playing or switches
// source/selection.
type Session struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Source          string     `json:"source" gorm:"type:varchar(20);not null;index"`
	Selection       string     `json:"selection" gorm:"not null"`
	InstanceID      string     `json:"instance_id" gorm:"not null"`
	StartedAt       time.Time  `json:"started_at" gorm:"not null;index"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// BeforeCreate hook to generate UUID if not present
func (s *Session) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Store is the playback history journal. Writes are best-effort and
// never on the reconcile hot path.
type Store interface {
	// Open persists a newly started session.
	Open(ctx context.Context, session *Session) error

	// CloseSession stamps the end time and duration of an open session.
	CloseSession(ctx context.Context, id uuid.UUID, endedAt time.Time) error

	// ListRecent returns the most recently started sessions.
	ListRecent(ctx context.Context, limit int) ([]Session, error)

	Close() error
}
