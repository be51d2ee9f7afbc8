package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spothuman/spothuman/internal/event"
)

type eventRow struct {
	ID        string `gorm:"primaryKey"`
	Type      string
	MatchID   string `gorm:"index"`
	Timestamp time.Time
	Data      string
}

func (eventRow) TableName() string { return "events" }

// Append writes one event to the durable log. The event id is the primary
// key, so redelivered appends are no-ops at the storage layer.
func (s *Store) Append(ctx context.Context, e event.Envelope) error {
	row := eventRow{
		ID:        e.EventID,
		Type:      string(e.EventType),
		MatchID:   e.MatchID,
		Timestamp: e.Timestamp,
		Data:      string(e.Data),
	}
	return s.db.WithContext(ctx).Where("id = ?", row.ID).FirstOrCreate(&row).Error
}

// Events returns the full log ordered by timestamp, for replaying into a
// projector at startup.
func (s *Store) Events(ctx context.Context) ([]event.Envelope, error) {
	var rows []eventRow
	if err := s.db.WithContext(ctx).Order("timestamp").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]event.Envelope, 0, len(rows))
	for _, r := range rows {
		out = append(out, event.Envelope{
			EventID:   r.ID,
			EventType: event.Type(r.Type),
			MatchID:   r.MatchID,
			Timestamp: r.Timestamp,
			Data:      json.RawMessage(r.Data),
		})
	}
	return out, nil
}
