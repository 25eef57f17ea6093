package domain

import "time"

type Room struct {
	ID              string
	Name            string
	Location        string
	Capacity        int
	Description     string
	HourlyRateCents int64
	Currency        string
	ImageURL        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type RoomFilter struct {
	MinCapacity int
	Location    string
	StartTime   *time.Time
	EndTime     *time.Time
}

// Unfiltered reports whether the full catalog is asked for. The time range only
// annotates availability and does not narrow the list.
func (f RoomFilter) Unfiltered() bool {
	return f.MinCapacity == 0 && f.Location == ""
}

func (f RoomFilter) HasRange() bool {
	return f.StartTime != nil || f.EndTime != nil
}

type RoomView struct {
	Room
	Available *bool
}
