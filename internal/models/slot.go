// internal/models/slot.go
package models

import (
	"fmt"
	"time"
)

// RosterSize is the fixed number of slots in the roster.
const RosterSize = 6

const (
	RoleLeader   = "Leader"
	RoleCoLeader = "Co-Leader"
)

type SlotStatus string

const (
	SlotStatusOpen   SlotStatus = "open"
	SlotStatusFilled SlotStatus = "filled"
)

type Slot struct {
	ID              string     `json:"id"`
	Position        int        `json:"position"`
	Status          SlotStatus `json:"status"`
	OccupantName    *string    `json:"occupantName"`
	OccupantRole    *string    `json:"occupantRole"`
	AvatarReference string     `json:"avatarReference"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsOpen reports whether the slot can still be claimed.
func (s Slot) IsOpen() bool {
	return s.Status == SlotStatusOpen
}

// RoleForPosition maps a roster position to its role: 1-3 Leader, 4-6 Co-Leader.
func RoleForPosition(position int) (string, error) {
	switch {
	case position >= 1 && position <= 3:
		return RoleLeader, nil
	case position >= 4 && position <= RosterSize:
		return RoleCoLeader, nil
	default:
		return "", fmt.Errorf("position %d outside roster 1..%d", position, RosterSize)
	}
}

// SlotSummary is the occupancy view used by the admin page.
type SlotSummary struct {
	Total  int `json:"total"`
	Filled int `json:"filled"`
	Open   int `json:"open"`
}

// Summarize counts filled slots; open is derived from the fixed roster size.
func Summarize(slots []Slot) SlotSummary {
	filled := 0
	for _, s := range slots {
		if s.Status == SlotStatusFilled {
			filled++
		}
	}
	return SlotSummary{
		Total:  RosterSize,
		Filled: filled,
		Open:   RosterSize - filled,
	}
}
