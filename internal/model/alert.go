package model

import "time"

// Alert is a read model of an emergency alert. Targeting is by hotel,
// by area within the hotel, or by direct display assignment.
type Alert struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ContentID string    `json:"content_id"`
	Active    bool      `json:"active"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`

	HotelID    *string  `json:"hotel_id,omitempty"`
	AreaID     *string  `json:"area_id,omitempty"`
	DisplayIDs []string `json:"display_ids,omitempty"`
}

// Targets reports whether the alert applies to the given display.
func (a *Alert) Targets(d *Display) bool {
	for _, id := range a.DisplayIDs {
		if id == d.ID {
			return true
		}
	}
	if a.AreaID != nil {
		return d.AreaID != nil && *d.AreaID == *a.AreaID
	}
	if a.HotelID != nil {
		return d.HotelID == *a.HotelID
	}
	return false
}
