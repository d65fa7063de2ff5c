package history

import (
	"context"
	"time"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Entry is one journalled change event.
type Entry struct {
	ID        int64            `json:"id"`
	Path      string           `json:"path"`
	Action    blueprint.Action `json:"action"`
	Value     any              `json:"value,omitempty"`
	Unit      string           `json:"unit,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Event returns the change event this entry recorded.
func (e Entry) Event() *blueprint.ChangeEvent {
	return &blueprint.ChangeEvent{Path: e.Path, Action: e.Action, Value: e.Value, Unit: e.Unit}
}

// Repository stores and retrieves journalled change events.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Record appends ev to the journal.
	Record(ctx context.Context, ev *blueprint.ChangeEvent) error

	// List returns entries for pathPrefix and everything beneath it, newest
	// first. An empty prefix lists the whole station. limit is clamped to
	// [1, 1000]; zero means 50.
	List(ctx context.Context, pathPrefix string, limit int) ([]Entry, error)

	// Prune deletes entries older than olderThan and reports how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
