package model

import "time"

// Schedule is a read model of a time-based content schedule. A schedule
// is live when its date range, daily time window and weekday recurrence
// all cover the instant being evaluated.
type Schedule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ContentID string    `json:"content_id"`
	Active    bool      `json:"active"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// StartTime/EndTime are daily time-of-day bounds in "15:04" form.
	// An EndTime earlier than StartTime wraps past midnight.
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`

	// Weekdays restricts recurrence; empty means every day.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	DisplayIDs []string `json:"display_ids"`
}

// TargetsDisplay reports whether the schedule is assigned to displayID.
func (s *Schedule) TargetsDisplay(displayID string) bool {
	for _, id := range s.DisplayIDs {
		if id == displayID {
			return true
		}
	}
	return false
}

// CoversTime reports whether the schedule's window includes now.
func (s *Schedule) CoversTime(now time.Time) bool {
	if s.StartDate != nil && now.Before(*s.StartDate) {
		return false
	}
	if s.EndDate != nil && now.After(*s.EndDate) {
		return false
	}
	if len(s.Weekdays) > 0 {
		match := false
		for _, d := range s.Weekdays {
			if now.Weekday() == d {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if s.StartTime == "" || s.EndTime == "" {
		return true
	}
	start, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", s.EndTime)
	if err != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if startMin <= endMin {
		return minute >= startMin && minute < endMin
	}
	// Window wraps past midnight.
	return minute >= startMin || minute < endMin
}
