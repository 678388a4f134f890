package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/common/logger"
	"leader-intake/internal/common/metrics"
	"leader-intake/internal/common/observability"
	"leader-intake/internal/models"
	"leader-intake/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testAvatar      = "https://api.dicebear.com/7.x/avataaars/svg?seed=default"
	formContentType = "multipart/form-data; boundary=----intake"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-payload")

// ==========================
// Test Helper Functions
// ==========================

type fixture struct {
	service *Service
	slots   *faultySlotStore
	apps    *faultyApplicationStore
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()

	slotStore, appStore := store.NewMemoryStores(nil)
	slots := &faultySlotStore{SlotStore: slotStore}
	apps := &faultyApplicationStore{ApplicationStore: appStore}

	_, err := slots.Initialize(context.Background(), testAvatar)
	require.NoError(t, err)

	cfg := &Config{
		MaxImageBytes: DefaultMaxImageBytes,
		ClaimAttempts: DefaultClaimAttempts,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	svc := NewService(cfg, slots, apps, logger.NewZapAdapter(zap.New(core)), observability.NewNoop())

	return &fixture{service: svc, slots: slots, apps: apps, logs: logs}
}

func validSubmission(name string) *Submission {
	return &Submission{
		ContentType:    formContentType,
		Name:           name,
		Email:          strings.ToLower(name) + "@example.com",
		WhatsappNumber: "+15550001",
		Image: &ImageUpload{
			Filename:    "avatar.png",
			ContentType: "image/png",
			Size:        int64(len(pngBytes)),
			Content:     bytes.NewReader(pngBytes),
		},
	}
}

// faultySlotStore injects failures into FillSlot.
type faultySlotStore struct {
	store.SlotStore

	mu        sync.Mutex
	fillCalls int
	// failOnFill is the 1-based FillSlot call that fails; 0 disables.
	failOnFill int
	fillErr    error
	// fillAnyway applies the fill before reporting failure.
	fillAnyway bool
	// stealOnFill lets another occupant take the slot just before the given call.
	stealOnFill int
	// fillDelay holds every fill open so concurrent claims overlap it.
	fillDelay time.Duration
}

func (f *faultySlotStore) FillSlot(ctx context.Context, id, name, role, avatar string) (*models.Slot, error) {
	f.mu.Lock()
	f.fillCalls++
	call := f.fillCalls
	f.mu.Unlock()

	if f.fillDelay > 0 {
		time.Sleep(f.fillDelay)
	}
	if call == f.stealOnFill {
		_, err := f.SlotStore.FillSlot(ctx, id, "Intruder", role, avatar)
		if err != nil {
			return nil, err
		}
	}
	if call == f.failOnFill {
		if f.fillAnyway {
			_, _ = f.SlotStore.FillSlot(ctx, id, name, role, avatar)
		}
		return nil, f.fillErr
	}
	return f.SlotStore.FillSlot(ctx, id, name, role, avatar)
}

type faultyApplicationStore struct {
	store.ApplicationStore
	deleteErr error
}

func (f *faultyApplicationStore) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.ApplicationStore.Delete(ctx, id)
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.apps.Count(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) slotAt(t *testing.T, position int) models.Slot {
	t.Helper()
	slots, err := f.slots.ListAll(context.Background())
	require.NoError(t, err)
	for _, s := range slots {
		if s.Position == position {
			return s
		}
	}
	t.Fatalf("no slot at position %d", position)
	return models.Slot{}
}

// ==========================
// Validation
// ==========================

func TestService_Submit_ValidationOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		code   apperrors.ErrorCode
	}{
		{
			name:   "json body",
			mutate: func(s *Submission) { s.ContentType = "application/json" },
			code:   apperrors.ErrCodeUnsupportedMediaType,
		},
		{
			name: "empty content type beats missing fields",
			mutate: func(s *Submission) {
				s.ContentType = ""
				s.Name = ""
			},
			code: apperrors.ErrCodeUnsupportedMediaType,
		},
		{
			name:   "blank name",
			mutate: func(s *Submission) { s.Name = "   " },
			code:   apperrors.ErrCodeMissingName,
		},
		{
			name: "name checked before email",
			mutate: func(s *Submission) {
				s.Name = ""
				s.Email = ""
			},
			code: apperrors.ErrCodeMissingName,
		},
		{
			name:   "blank email",
			mutate: func(s *Submission) { s.Email = "\t" },
			code:   apperrors.ErrCodeMissingEmail,
		},
		{
			name:   "blank whatsapp",
			mutate: func(s *Submission) { s.WhatsappNumber = "" },
			code:   apperrors.ErrCodeMissingWhatsapp,
		},
		{
			name:   "no image",
			mutate: func(s *Submission) { s.Image = nil },
			code:   apperrors.ErrCodeMissingImage,
		},
		{
			name: "text file",
			mutate: func(s *Submission) {
				s.Image.ContentType = "text/plain"
			},
			code: apperrors.ErrCodeInvalidImageType,
		},
		{
			name: "gif is not accepted",
			mutate: func(s *Submission) {
				s.Image.ContentType = "image/gif"
			},
			code: apperrors.ErrCodeInvalidImageType,
		},
		{
			name: "type checked before size",
			mutate: func(s *Submission) {
				s.Image.ContentType = "text/plain"
				s.Image.Size = 3 * 1024 * 1024
			},
			code: apperrors.ErrCodeInvalidImageType,
		},
		{
			name: "declared 3 MiB png",
			mutate: func(s *Submission) {
				s.Image.Size = 3 * 1024 * 1024
			},
			code: apperrors.ErrCodeImageTooLarge,
		},
		{
			name: "understated size with 3 MiB content",
			mutate: func(s *Submission) {
				s.Image.Size = 10
				s.Image.Content = bytes.NewReader(make([]byte, 3*1024*1024))
			},
			code: apperrors.ErrCodeImageTooLarge,
		},
		{
			name: "empty file",
			mutate: func(s *Submission) {
				s.Image.Size = 0
				s.Image.Content = bytes.NewReader(nil)
			},
			code: apperrors.ErrCodeMissingImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sub := validSubmission("Ada")
			tt.mutate(sub)

			app, err := f.service.Submit(context.Background(), sub)

			assert.Nil(t, app)
			assert.True(t, apperrors.IsCode(err, tt.code), "want %s, got %v", tt.code, err)
			assert.Equal(t, 0, f.count(t))
			assert.True(t, f.slotAt(t, 1).IsOpen())
		})
	}
}

func TestService_Submit_AcceptedImageTypes(t *testing.T) {
	for _, contentType := range []string{"image/png", "image/jpeg", "image/jpg", "IMAGE/PNG"} {
		t.Run(contentType, func(t *testing.T) {
			f := newFixture(t)
			sub := validSubmission("Ada")
			sub.Image.ContentType = contentType

			app, err := f.service.Submit(context.Background(), sub)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(app.ProfileImage, "data:"+strings.ToLower(contentType)+";base64,"))
		})
	}
}

func TestService_Submit_ExactLimitAccepted(t *testing.T) {
	f := newFixture(t)
	content := make([]byte, DefaultMaxImageBytes)
	sub := validSubmission("Ada")
	sub.Image.Size = int64(len(content))
	sub.Image.Content = bytes.NewReader(content)

	_, err := f.service.Submit(context.Background(), sub)
	assert.NoError(t, err)
}

// ==========================
// Assignment
// ==========================

func TestService_Submit_SanitizesFields(t *testing.T) {
	f := newFixture(t)
	bio := "  I run meetups  "
	sub := validSubmission("Ada")
	sub.Name = " Ada "
	sub.Email = "ADA@X.COM"
	sub.WhatsappNumber = " +4470000 "
	sub.Bio = &bio

	app, err := f.service.Submit(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, "Ada", app.Name)
	assert.Equal(t, "ada@x.com", app.Email)
	assert.Equal(t, "+4470000", app.WhatsappNumber)
	require.NotNil(t, app.Bio)
	assert.Equal(t, "I run meetups", *app.Bio)
	assert.Equal(t, models.ApplicationStatusPending, app.Status)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgpmYWtlLWltYWdlLXBheWxvYWQ=", app.ProfileImage)

	slot := f.slotAt(t, 1)
	require.NotNil(t, app.SlotID)
	assert.Equal(t, slot.ID, *app.SlotID)
	assert.Equal(t, "Ada", *slot.OccupantName)
	assert.Equal(t, app.ProfileImage, slot.AvatarReference)
}

func TestService_Submit_FillsRosterInPositionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= models.RosterSize; i++ {
		app, err := f.service.Submit(ctx, validSubmission(fmt.Sprintf("User%d", i)))
		require.NoError(t, err, "submission %d", i)
		assert.Equal(t, f.slotAt(t, i).ID, *app.SlotID, "submission %d takes position %d", i, i)

		slots, err := f.slots.ListAll(ctx)
		require.NoError(t, err)
		summary := models.Summarize(slots)
		assert.Equal(t, i, summary.Filled)
		assert.Equal(t, models.RosterSize, summary.Filled+summary.Open)
	}

	for position := 1; position <= models.RosterSize; position++ {
		slot := f.slotAt(t, position)
		assert.Equal(t, models.SlotStatusFilled, slot.Status)
		want := models.RoleLeader
		if position > 3 {
			want = models.RoleCoLeader
		}
		require.NotNil(t, slot.OccupantRole)
		assert.Equal(t, want, *slot.OccupantRole, "position %d", position)
	}

	_, err := f.service.Submit(ctx, validSubmission("Latecomer"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots))
	assert.Equal(t, models.RosterSize, f.count(t))
}

func TestService_Submit_FillFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.slots.failOnFill = 3
	f.slots.fillErr = errors.New("write timeout")

	for i := 1; i <= 2; i++ {
		_, err := f.service.Submit(ctx, validSubmission(fmt.Sprintf("User%d", i)))
		require.NoError(t, err)
	}
	before := f.count(t)
	deletedBefore := testutil.ToFloat64(metrics.IntakeCompensations.WithLabelValues(compensationDeleted))

	_, err := f.service.Submit(ctx, validSubmission("User3"))

	require.Error(t, err)
	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSlotUpdateFailed, stdErr.Code)
	assert.Equal(t, apperrors.KindConsistency, stdErr.Kind)
	assert.Equal(t, before, f.count(t))
	assert.True(t, f.slotAt(t, 3).IsOpen())
	assert.Equal(t, 1, f.logs.FilterMessage("application removed after slot fill failure").Len())
	assert.Zero(t, f.logs.FilterMessage("slot inconsistency: slot filled although its fill failed").Len())
	assert.Equal(t, deletedBefore+1, testutil.ToFloat64(metrics.IntakeCompensations.WithLabelValues(compensationDeleted)))

	// the next applicant gets the slot that was released
	app, err := f.service.Submit(ctx, validSubmission("User4"))
	require.NoError(t, err)
	assert.Equal(t, f.slotAt(t, 3).ID, *app.SlotID)
}

func TestService_Submit_FillFailureAfterTransitionIsLogged(t *testing.T) {
	f := newFixture(t)
	f.slots.failOnFill = 1
	f.slots.fillErr = errors.New("ack lost")
	f.slots.fillAnyway = true

	_, err := f.service.Submit(context.Background(), validSubmission("Ada"))

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSlotUpdateFailed))
	assert.Equal(t, 0, f.count(t))

	entries := f.logs.FilterMessage("slot inconsistency: slot filled although its fill failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, f.slotAt(t, 1).ID, entries[0].ContextMap()["slotId"])
}

func TestService_Submit_CompensationDeleteFailure(t *testing.T) {
	f := newFixture(t)
	f.slots.failOnFill = 1
	f.slots.fillErr = errors.New("write timeout")
	f.apps.deleteErr = errors.New("connection lost")

	_, err := f.service.Submit(context.Background(), validSubmission("Ada"))

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSlotUpdateFailed))
	entries := f.logs.FilterMessage("compensating delete failed, manual reconciliation required").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.NotEmpty(t, entries[0].ContextMap()["applicationId"])
}

func TestService_Submit_RetriesAfterLosingRace(t *testing.T) {
	f := newFixture(t)
	f.slots.stealOnFill = 1
	retriesBefore := testutil.ToFloat64(metrics.IntakeClaimRetries)

	app, err := f.service.Submit(context.Background(), validSubmission("Ada"))

	require.NoError(t, err)
	assert.Equal(t, f.slotAt(t, 2).ID, *app.SlotID)
	assert.Equal(t, "Intruder", *f.slotAt(t, 1).OccupantName)
	assert.Equal(t, 1, f.count(t))
	assert.Equal(t, retriesBefore+1, testutil.ToFloat64(metrics.IntakeClaimRetries))
	assert.Zero(t, f.logs.FilterMessage("slot inconsistency: slot filled although its fill failed").Len())
}

func TestService_Submit_RaceOnLastSlotEndsWithNoOpenSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i < models.RosterSize; i++ {
		_, err := f.service.Submit(ctx, validSubmission(fmt.Sprintf("User%d", i)))
		require.NoError(t, err)
	}
	f.slots.stealOnFill = models.RosterSize

	_, err := f.service.Submit(ctx, validSubmission("Last"))

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots))
	assert.Equal(t, models.RosterSize-1, f.count(t))
}

func TestService_Submit_ClaimAttemptsExhausted(t *testing.T) {
	t.Run("open slots remain", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.ClaimAttempts = 1 })
		f.slots.stealOnFill = 1

		_, err := f.service.Submit(context.Background(), validSubmission("Ada"))

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSlotAlreadyFilled))
		assert.Equal(t, 1, f.logs.FilterMessage("claim attempts exhausted").Len())
		assert.Zero(t, f.count(t))
	})

	t.Run("roster full after the lost round", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.ClaimAttempts = 1 })
		ctx := context.Background()
		for i := 1; i < models.RosterSize; i++ {
			_, err := f.service.Submit(ctx, validSubmission(fmt.Sprintf("User%d", i)))
			require.NoError(t, err)
		}
		f.slots.stealOnFill = models.RosterSize

		_, err := f.service.Submit(ctx, validSubmission("Last"))

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots))
		assert.Zero(t, f.logs.FilterMessage("claim attempts exhausted").Len())
	})
}

// submitConcurrently runs n submissions at once and returns the slot each
// winner got and the errors of the rest.
func submitConcurrently(t *testing.T, f *fixture, n int) (map[string]string, []error) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]string)
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			app, err := f.service.Submit(context.Background(), validSubmission(fmt.Sprintf("User%d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if other, dup := claimed[*app.SlotID]; dup {
				t.Errorf("slot %s given to %s and %s", *app.SlotID, other, app.ID)
			}
			claimed[*app.SlotID] = app.ID
		}(i)
	}
	wg.Wait()
	return claimed, errs
}

func (f *fixture) assertRosterFull(t *testing.T) {
	t.Helper()
	slots, err := f.slots.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SlotSummary{Total: 6, Filled: 6, Open: 0}, models.Summarize(slots))
	assert.Equal(t, models.RosterSize, f.count(t))
}

func TestService_Submit_ConcurrentSubmissionsFillEverySlot(t *testing.T) {
	f := newFixture(t)

	claimed, errs := submitConcurrently(t, f, 12)

	assert.Len(t, claimed, models.RosterSize)
	require.Len(t, errs, 6)
	for _, err := range errs {
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots), "unexpected error %v", err)
	}
	f.assertRosterFull(t)
}

func TestService_Submit_ConcurrentSubmissionsWithSlowFill(t *testing.T) {
	f := newFixture(t)
	f.slots.fillDelay = 2 * time.Millisecond

	claimed, errs := submitConcurrently(t, f, models.RosterSize)

	assert.Len(t, claimed, models.RosterSize)
	assert.Empty(t, errs)
	f.assertRosterFull(t)
	assert.Zero(t, f.logs.FilterMessage("application removed after slot fill failure").Len())

	claimed, errs = submitConcurrently(t, f, 3)
	assert.Empty(t, claimed)
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots), "unexpected error %v", err)
	}
}

func TestService_Submit_UninitializedRoster(t *testing.T) {
	apps := store.NewMemoryApplicationStore(nil)
	svc := NewService(nil, store.NewMemorySlotStore(nil), apps, logger.NewTestLogger(t), observability.NewNoop())

	_, err := svc.Submit(context.Background(), validSubmission("Ada"))

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots))
	n, err := apps.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
