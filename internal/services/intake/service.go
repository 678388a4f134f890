// internal/services/intake/service.go
package intake

import (
	"context"
	"time"

	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/common/logger"
	"leader-intake/internal/common/metrics"
	"leader-intake/internal/common/observability"
	"leader-intake/internal/models"
	"leader-intake/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	OutcomeCreated = "created"

	compensationDeleted = "deleted"
	compensationFailed  = "failed"
)

// Service validates public submissions and assigns each accepted applicant
// to the lowest open slot.
type Service struct {
	slots        store.SlotStore
	applications store.ApplicationStore
	config       *Config
	logger       logger.Logger
	obs          *observability.Observability
}

func NewService(cfg *Config, slots store.SlotStore, applications store.ApplicationStore, log logger.Logger, obs *observability.Observability) *Service {
	if cfg == nil {
		cfg = &Config{MaxImageBytes: DefaultMaxImageBytes, ClaimAttempts: DefaultClaimAttempts}
	}
	return &Service{
		slots:        slots,
		applications: applications,
		config:       cfg,
		logger:       log.WithFields(map[string]interface{}{"service": "intake"}),
		obs:          obs,
	}
}

// Submit runs the whole intake: validation, slot claim, application create,
// slot fill and, when the fill fails, compensation.
func (s *Service) Submit(ctx context.Context, sub *Submission) (*models.Application, error) {
	start := time.Now()
	ctx, span := s.obs.StartSpan(ctx, "intake.submit")
	defer span.End()

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	app, err := s.submit(ctx, sub)

	outcome := OutcomeCreated
	if err != nil {
		outcome = string(apperrors.Normalize(err).Code)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(
			attribute.String("application.id", app.ID),
			attribute.String("slot.id", derefString(app.SlotID)),
		)
	}
	metrics.IntakeSubmissions.WithLabelValues(outcome).Inc()
	s.obs.RecordIntake(ctx, outcome)
	s.obs.RecordIntakeDuration(ctx, time.Since(start), outcome)

	return app, err
}

func (s *Service) submit(ctx context.Context, sub *Submission) (*models.Application, error) {
	valid, err := validate(sub, s.config.MaxImageBytes)
	if err != nil {
		s.logger.Debug("submission rejected", map[string]interface{}{"error": err})
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.ClaimAttempts; attempt++ {
		app, err := s.assign(ctx, valid)
		if err == nil {
			return app, nil
		}
		if !apperrors.IsCode(err, apperrors.ErrCodeSlotAlreadyFilled) {
			return nil, err
		}

		lastErr = err
		metrics.IntakeClaimRetries.Inc()
		s.logger.Info("slot taken by a concurrent submission, reclaiming", map[string]interface{}{
			"attempt": attempt,
			"error":   err,
		})
	}

	// Each lost round went to another submission; if that left the roster
	// full, say so instead of reporting the last conflict.
	if _, err := s.slots.ClaimNextOpen(ctx); apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots) {
		return nil, err
	}

	s.logger.Warn("claim attempts exhausted", map[string]interface{}{
		"attempts": s.config.ClaimAttempts,
	})
	return nil, lastErr
}

// assign performs one claim/create/fill round. SLOT_ALREADY_FILLED from
// either write means another submission won the slot and the caller may retry.
func (s *Service) assign(ctx context.Context, valid *validatedSubmission) (*models.Application, error) {
	slot, err := s.slots.ClaimNextOpen(ctx)
	if err != nil {
		return nil, err
	}

	role, err := models.RoleForPosition(slot.Position)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	app, err := s.applications.Create(ctx, models.NewApplication{
		Name:           valid.name,
		Email:          valid.email,
		WhatsappNumber: valid.whatsappNumber,
		Bio:            valid.bio,
		ProfileImage:   valid.profileImage,
		SlotID:         slot.ID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.slots.FillSlot(ctx, slot.ID, app.Name, role, app.ProfileImage); err != nil {
		s.compensate(ctx, app, slot, err)
		if apperrors.IsCode(err, apperrors.ErrCodeSlotAlreadyFilled) {
			return nil, err
		}
		return nil, apperrors.NewSlotUpdateFailedError(slot.ID, err).
			WithMetadata("applicationId", app.ID).
			WithMetadata("position", slot.Position)
	}

	metrics.SlotsFilled.Inc()
	s.logger.Info("application accepted", map[string]interface{}{
		"applicationId": app.ID,
		"slotId":        slot.ID,
		"position":      slot.Position,
		"role":          role,
	})
	return app, nil
}

// compensate deletes the application whose slot fill failed and then checks
// whether the slot was transitioned anyway. It runs detached from the request
// context so a disconnecting client cannot interrupt it.
func (s *Service) compensate(ctx context.Context, app *models.Application, slot *models.Slot, fillErr error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	fields := map[string]interface{}{
		"applicationId": app.ID,
		"slotId":        slot.ID,
		"position":      slot.Position,
		"fillError":     fillErr,
	}

	if err := s.applications.Delete(cctx, app.ID); err != nil {
		metrics.IntakeCompensations.WithLabelValues(compensationFailed).Inc()
		fields["deleteError"] = err
		s.logger.Error("compensating delete failed, manual reconciliation required", fields)
	} else {
		metrics.IntakeCompensations.WithLabelValues(compensationDeleted).Inc()
		s.logger.Warn("application removed after slot fill failure", fields)
	}

	// A lost race leaves the slot filled by the winner, which is expected.
	if apperrors.IsCode(fillErr, apperrors.ErrCodeSlotAlreadyFilled) {
		return
	}

	current, err := s.slots.Get(cctx, slot.ID)
	if err != nil {
		fields["getError"] = err
		s.logger.Error("could not verify slot state after failed fill", fields)
		return
	}
	if !current.IsOpen() {
		fields["occupantName"] = derefString(current.OccupantName)
		s.logger.Error("slot inconsistency: slot filled although its fill failed", fields)
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
