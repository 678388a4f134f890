// internal/services/review/service.go
package review

import (
	"context"

	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/common/logger"
	"leader-intake/internal/common/metrics"
	"leader-intake/internal/models"
	"leader-intake/internal/store"
)

// Service backs the admin view: listings, roster occupancy and status changes.
type Service struct {
	slots         store.SlotStore
	applications  store.ApplicationStore
	defaultAvatar string
	logger        logger.Logger
}

func NewService(slots store.SlotStore, applications store.ApplicationStore, defaultAvatar string, log logger.Logger) *Service {
	return &Service{
		slots:         slots,
		applications:  applications,
		defaultAvatar: defaultAvatar,
		logger:        log.WithFields(map[string]interface{}{"service": "review"}),
	}
}

func (s *Service) ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperrors.NewInvalidStatusError(string(*filter.Status))
	}
	if filter.Offset < 0 {
		return nil, apperrors.NewInvalidPaginationError("offset must not be negative")
	}
	if filter.Limit < 0 {
		return nil, apperrors.NewInvalidPaginationError("limit must be positive")
	}
	return s.applications.List(ctx, filter.Normalized())
}

func (s *Service) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	return s.applications.Get(ctx, id)
}

func (s *Service) ListSlots(ctx context.Context) ([]models.Slot, error) {
	return s.slots.ListAll(ctx)
}

// SlotSummary reports occupancy; open is always the roster size minus filled.
func (s *Service) SlotSummary(ctx context.Context) (models.SlotSummary, error) {
	slots, err := s.slots.ListAll(ctx)
	if err != nil {
		return models.SlotSummary{}, err
	}
	summary := models.Summarize(slots)
	metrics.SlotsFilled.Set(float64(summary.Filled))
	return summary, nil
}

// SetApplicationStatus moves an application to any of the three statuses.
// There is no transition guard: approved or rejected can go back to pending.
func (s *Service) SetApplicationStatus(ctx context.Context, id string, status models.ApplicationStatus) (*models.Application, error) {
	if !status.Valid() {
		return nil, apperrors.NewInvalidStatusError(string(status))
	}

	app, err := s.applications.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	metrics.ApplicationStatusChanges.WithLabelValues(string(status)).Inc()
	s.logger.Info("application status updated", map[string]interface{}{
		"applicationId": id,
		"status":        string(status),
	})
	return app, nil
}

// InitializeRoster creates the six open slots once.
func (s *Service) InitializeRoster(ctx context.Context) ([]models.Slot, error) {
	slots, err := s.slots.Initialize(ctx, s.defaultAvatar)
	if err != nil {
		return nil, err
	}
	metrics.SlotsFilled.Set(0)
	s.logger.Info("roster initialized", map[string]interface{}{"slots": len(slots)})
	return slots, nil
}
