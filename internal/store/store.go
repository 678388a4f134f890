// Package store persists the slot roster and the submitted applications.
package store

import (
	"context"
	"strings"
	"time"

	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/models"
)

// SlotStore owns the fixed roster of six slots.
type SlotStore interface {
	// Initialize creates the six open slots. It fails with ALREADY_INITIALIZED
	// when any slot exists and never leaves a partial roster behind.
	Initialize(ctx context.Context, defaultAvatar string) ([]models.Slot, error)
	// ListAll returns every slot ordered by position.
	ListAll(ctx context.Context) ([]models.Slot, error)
	Get(ctx context.Context, id string) (*models.Slot, error)
	// ClaimNextOpen returns the open slot with the lowest position without
	// changing it. NO_OPEN_SLOTS when the roster is full.
	ClaimNextOpen(ctx context.Context) (*models.Slot, error)
	// FillSlot moves an open slot to filled. It is a compare-and-swap on
	// status: SLOT_ALREADY_FILLED means another claim won.
	FillSlot(ctx context.Context, id, occupantName, occupantRole, avatarReference string) (*models.Slot, error)
}

// ApplicationStore owns submitted applications.
type ApplicationStore interface {
	Create(ctx context.Context, app models.NewApplication) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)
	Get(ctx context.Context, id string) (*models.Application, error)
	UpdateStatus(ctx context.Context, id string, status models.ApplicationStatus) (*models.Application, error)
	// Delete is only used to compensate a failed slot fill.
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Clock returns the current time; stores take one so tests can control timestamps.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// sanitizeNewApplication trims the text fields, lower-cases the email and
// rejects empty required fields.
func sanitizeNewApplication(in models.NewApplication) (models.NewApplication, error) {
	out := in
	out.Name = strings.TrimSpace(in.Name)
	out.Email = strings.ToLower(strings.TrimSpace(in.Email))
	out.WhatsappNumber = strings.TrimSpace(in.WhatsappNumber)
	out.SlotID = strings.TrimSpace(in.SlotID)
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if bio == "" {
			out.Bio = nil
		} else {
			out.Bio = &bio
		}
	}

	switch {
	case out.Name == "":
		return out, apperrors.NewValidationError("name")
	case out.Email == "":
		return out, apperrors.NewValidationError("email")
	case out.WhatsappNumber == "":
		return out, apperrors.NewValidationError("whatsappNumber")
	case out.ProfileImage == "":
		return out, apperrors.NewValidationError("profileImage")
	case out.SlotID == "":
		return out, apperrors.NewValidationError("slotId")
	}
	return out, nil
}

func strPtr(s string) *string {
	return &s
}
