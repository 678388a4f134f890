// internal/models/application.go
package models

import "time"

type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusApproved ApplicationStatus = "approved"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// Valid reports whether s is one of pending, approved, rejected.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusApproved, ApplicationStatusRejected:
		return true
	}
	return false
}

type Application struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	WhatsappNumber string            `json:"whatsappNumber"`
	Bio            *string           `json:"bio"`
	ProfileImage   string            `json:"profileImage"`
	Status         ApplicationStatus `json:"status"`
	SlotID         *string           `json:"slotId"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NewApplication carries the fields accepted by ApplicationStore.Create.
type NewApplication struct {
	Name           string
	Email          string
	WhatsappNumber string
	Bio            *string
	ProfileImage   string
	SlotID         string
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ApplicationFilter selects a page of applications, newest first.
type ApplicationFilter struct {
	Status *ApplicationStatus
	Limit  int
	Offset int
}

// Normalized applies the default limit, the 100 cap and a zero floor on offset.
func (f ApplicationFilter) Normalized() ApplicationFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
