// Package registry defines the read interfaces the core consumes from
// the external entity-persistence layer. The relational store, CRUD
// surface and auth all live outside this repository; the core only
// reads current records and reports display liveness back.
package registry

import (
	"context"

	"github.com/lodgevision/signage/internal/model"
)

// DisplayRegistry exposes display records and receives liveness and
// pairing side effects.
type DisplayRegistry interface {
	GetDisplay(ctx context.Context, displayID string) (*model.Display, error)
	// MarkPaired binds a display to its persisted identity after a
	// successful pairing confirmation.
	MarkPaired(ctx context.Context, displayID string) error
	// TouchLastSeen records display liveness (heartbeat / resolve).
	TouchLastSeen(ctx context.Context, displayID string) error
}

// AlertSource exposes currently active emergency alerts.
type AlertSource interface {
	ActiveAlerts(ctx context.Context) ([]model.Alert, error)
}

// ScheduleSource exposes active schedules assigned to a display.
type ScheduleSource interface {
	SchedulesForDisplay(ctx context.Context, displayID string) ([]model.Schedule, error)
}

// PlaylistSource exposes the ordered playlist assigned to a display,
// with content snapshots attached.
type PlaylistSource interface {
	PlaylistForDisplay(ctx context.Context, displayID string) ([]model.PlaylistItem, error)
}

// ContentCatalog exposes content snapshots by id.
type ContentCatalog interface {
	GetContent(ctx context.Context, contentID string) (*model.Content, error)
}
