package model

import "time"

// Playlist is a read model of an ordered set of content items.
type Playlist struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Items     []PlaylistItem `json:"items,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PlaylistItem is a single positioned entry in a playlist.
type PlaylistItem struct {
	ID         string   `json:"id"`
	PlaylistID string   `json:"playlist_id"`
	ContentID  string   `json:"content_id"`
	Position   int      `json:"position"`
	Duration   *int     `json:"duration,omitempty"`
	Content    *Content `json:"content,omitempty"`
}
