package registry

import (
	"context"
	"sync"
	"time"

	"github.com/lodgevision/signage/internal/errs"
	"github.com/lodgevision/signage/internal/model"
)

// Memory is an in-memory implementation of every collaborator
// interface. It backs single-box deployments where the entity service
// pushes snapshots over the event bridge, and doubles as the test
// fixture for the resolver and gateway.
type Memory struct {
	mu        sync.RWMutex
	displays  map[string]*model.Display
	alerts    map[string]*model.Alert
	schedules map[string]*model.Schedule
	playlists map[string][]model.PlaylistItem
	contents  map[string]*model.Content
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		displays:  make(map[string]*model.Display),
		alerts:    make(map[string]*model.Alert),
		schedules: make(map[string]*model.Schedule),
		playlists: make(map[string][]model.PlaylistItem),
		contents:  make(map[string]*model.Content),
	}
}

var (
	_ DisplayRegistry = (*Memory)(nil)
	_ AlertSource     = (*Memory)(nil)
	_ ScheduleSource  = (*Memory)(nil)
	_ PlaylistSource  = (*Memory)(nil)
	_ ContentCatalog  = (*Memory)(nil)
)

func (m *Memory) GetDisplay(_ context.Context, displayID string) (*model.Display, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.displays[displayID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (m *Memory) MarkPaired(_ context.Context, displayID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.displays[displayID]
	if !ok {
		return errs.ErrNotFound
	}
	d.Paired = true
	return nil
}

func (m *Memory) TouchLastSeen(_ context.Context, displayID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.displays[displayID]
	if !ok {
		return errs.ErrNotFound
	}
	now := time.Now()
	d.LastSeenAt = &now
	return nil
}

func (m *Memory) ActiveAlerts(_ context.Context) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if a.Active {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *Memory) SchedulesForDisplay(_ context.Context, displayID string) ([]model.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Schedule
	for _, s := range m.schedules {
		if s.Active && s.TargetsDisplay(displayID) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *Memory) PlaylistForDisplay(_ context.Context, displayID string) ([]model.PlaylistItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.PlaylistItem(nil), m.playlists[displayID]...), nil
}

func (m *Memory) GetContent(_ context.Context, contentID string) (*model.Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[contentID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

// PutDisplay inserts or replaces a display record.
func (m *Memory) PutDisplay(d model.Display) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displays[d.ID] = &d
}

// PutAlert inserts or replaces an alert record.
func (m *Memory) PutAlert(a model.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = &a
}

// RemoveAlert deletes an alert record.
func (m *Memory) RemoveAlert(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alerts, alertID)
}

// PutSchedule inserts or replaces a schedule record.
func (m *Memory) PutSchedule(s model.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = &s
}

// SetPlaylist replaces the playlist assigned to a display.
func (m *Memory) SetPlaylist(displayID string, items []model.PlaylistItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists[displayID] = append([]model.PlaylistItem(nil), items...)
}

// PutContent inserts or replaces a content record.
func (m *Memory) PutContent(c model.Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents[c.ID] = &c
}
