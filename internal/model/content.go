package model

// ContentStatus tracks where a content item is in the upload/transcode
// pipeline. Only ready content is playable.
type ContentStatus string

const (
	ContentStatusProcessing ContentStatus = "processing"
	ContentStatusReady      ContentStatus = "ready"
	ContentStatusFailed     ContentStatus = "failed"
)

// Content is a read model of a playable content item.
type Content struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Type     string        `json:"type"`
	Status   ContentStatus `json:"status"`
	Duration *int          `json:"duration,omitempty"`
}

// SourceType identifies which ranked source won the resolve decision.
type SourceType string

const (
	SourceAlert    SourceType = "alert"
	SourceSync     SourceType = "sync"
	SourceSchedule SourceType = "schedule"
	SourcePlaylist SourceType = "playlist"
	SourceFallback SourceType = "fallback"
	SourceNone     SourceType = "none"
)

// Base priorities per source type. Intra-type ties are broken by the
// secondary priority carried on the alert or schedule itself.
const (
	PriorityAlertBase    = 1000
	PrioritySync         = 500
	PriorityScheduleBase = 100
	PriorityPlaylist     = 10
	PriorityFallback     = 1
	PriorityNone         = 0
)

// ContentSource is the resolver's decision of what a display should
// currently render. It is computed on demand and never persisted.
type ContentSource struct {
	Type     SourceType `json:"type"`
	Priority int        `json:"priority"`
	Reason   string     `json:"reason"`

	ContentID *string  `json:"content_id,omitempty"`
	Content   *Content `json:"content,omitempty"`

	AlertID     *string `json:"alert_id,omitempty"`
	ScheduleID  *string `json:"schedule_id,omitempty"`
	SyncGroupID *string `json:"sync_group_id,omitempty"`
}
