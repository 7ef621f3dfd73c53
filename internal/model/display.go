package model

import "time"

// Display represents a signage device registered with the platform.
// Persistence lives in the external entity service; the core only reads
// these records and updates the last-seen timestamp.
type Display struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Location          *string    `json:"location,omitempty"`
	HotelID           string     `json:"hotel_id"`
	AreaID            *string    `json:"area_id,omitempty"`
	Paired            bool       `json:"paired"`
	FallbackContentID *string    `json:"fallback_content_id,omitempty"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty"`
}
