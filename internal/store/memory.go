package store

import (
	"context"
	"sort"
	"sync"

	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/models"

	"github.com/google/uuid"
)

// slotClaims reports whether an application already holds a slot.
type slotClaims interface {
	slotClaimed(slotID string) bool
}

// MemorySlotStore keeps the roster in process memory.
type MemorySlotStore struct {
	slots  map[string]models.Slot
	mu     sync.RWMutex
	now    Clock
	claims slotClaims
}

func NewMemorySlotStore(now Clock) *MemorySlotStore {
	if now == nil {
		now = utcNow
	}
	return &MemorySlotStore{
		slots: make(map[string]models.Slot),
		now:   now,
	}
}

// NewMemoryStores returns slot and application stores that share claim
// state, so ClaimNextOpen skips a slot whose application exists but whose
// fill has not landed yet.
func NewMemoryStores(now Clock) (*MemorySlotStore, *MemoryApplicationStore) {
	slots := NewMemorySlotStore(now)
	apps := NewMemoryApplicationStore(now)
	slots.claims = apps
	return slots, apps
}

func (s *MemorySlotStore) Initialize(ctx context.Context, defaultAvatar string) ([]models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.slots) > 0 {
		return nil, apperrors.NewAlreadyInitializedError()
	}

	now := s.now()
	created := make([]models.Slot, 0, models.RosterSize)
	for position := 1; position <= models.RosterSize; position++ {
		slot := models.Slot{
			ID:              uuid.New().String(),
			Position:        position,
			Status:          models.SlotStatusOpen,
			AvatarReference: defaultAvatar,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		s.slots[slot.ID] = slot
		created = append(created, slot)
	}
	return created, nil
}

func (s *MemorySlotStore) ListAll(ctx context.Context) ([]models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(), nil
}

func (s *MemorySlotStore) Get(ctx context.Context, id string) (*models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, apperrors.NewSlotNotFoundError(id)
	}
	return &slot, nil
}

func (s *MemorySlotStore) ClaimNextOpen(ctx context.Context) (*models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, slot := range s.sortedLocked() {
		if !slot.IsOpen() {
			continue
		}
		if s.claims != nil && s.claims.slotClaimed(slot.ID) {
			continue
		}
		return &slot, nil
	}
	return nil, apperrors.NewNoOpenSlotsError()
}

func (s *MemorySlotStore) FillSlot(ctx context.Context, id, occupantName, occupantRole, avatarReference string) (*models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, apperrors.NewSlotNotFoundError(id)
	}
	if !slot.IsOpen() {
		return nil, apperrors.NewSlotAlreadyFilledError(id)
	}

	slot.Status = models.SlotStatusFilled
	slot.OccupantName = strPtr(occupantName)
	slot.OccupantRole = strPtr(occupantRole)
	slot.AvatarReference = avatarReference
	slot.UpdatedAt = s.now()
	s.slots[id] = slot
	return &slot, nil
}

func (s *MemorySlotStore) sortedLocked() []models.Slot {
	out := make([]models.Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

type memoryApplication struct {
	app models.Application
	seq int64
}

// MemoryApplicationStore keeps applications in process memory and enforces
// the one-application-per-slot rule with a slot index.
type MemoryApplicationStore struct {
	apps   map[string]*memoryApplication
	bySlot map[string]string
	seq    int64
	mu     sync.RWMutex
	now    Clock
}

func NewMemoryApplicationStore(now Clock) *MemoryApplicationStore {
	if now == nil {
		now = utcNow
	}
	return &MemoryApplicationStore{
		apps:   make(map[string]*memoryApplication),
		bySlot: make(map[string]string),
		now:    now,
	}
}

func (s *MemoryApplicationStore) Create(ctx context.Context, in models.NewApplication) (*models.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := sanitizeNewApplication(in)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.bySlot[clean.SlotID]; taken {
		return nil, apperrors.NewSlotAlreadyFilledError(clean.SlotID)
	}

	now := s.now()
	app := models.Application{
		ID:             uuid.New().String(),
		Name:           clean.Name,
		Email:          clean.Email,
		WhatsappNumber: clean.WhatsappNumber,
		Bio:            clean.Bio,
		ProfileImage:   clean.ProfileImage,
		Status:         models.ApplicationStatusPending,
		SlotID:         strPtr(clean.SlotID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.seq++
	s.apps[app.ID] = &memoryApplication{app: app, seq: s.seq}
	s.bySlot[clean.SlotID] = app.ID
	return &app, nil
}

func (s *MemoryApplicationStore) slotClaimed(slotID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, taken := s.bySlot[slotID]
	return taken
}

func (s *MemoryApplicationStore) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.Normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memoryApplication, 0, len(s.apps))
	for _, entry := range s.apps {
		if filter.Status != nil && entry.app.Status != *filter.Status {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.app.CreatedAt.Equal(b.app.CreatedAt) {
			return a.app.CreatedAt.After(b.app.CreatedAt)
		}
		return a.seq > b.seq
	})

	if filter.Offset >= len(matched) {
		return []models.Application{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]models.Application, 0, end-filter.Offset)
	for _, entry := range matched[filter.Offset:end] {
		out = append(out, entry.app)
	}
	return out, nil
}

func (s *MemoryApplicationStore) Get(ctx context.Context, id string) (*models.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.apps[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(id)
	}
	app := entry.app
	return &app, nil
}

func (s *MemoryApplicationStore) UpdateStatus(ctx context.Context, id string, status models.ApplicationStatus) (*models.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperrors.NewInvalidStatusError(string(status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.apps[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(id)
	}
	entry.app.Status = status
	entry.app.UpdatedAt = s.now()
	app := entry.app
	return &app, nil
}

func (s *MemoryApplicationStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.apps[id]
	if !ok {
		return apperrors.NewNotFoundError(id)
	}
	if entry.app.SlotID != nil {
		delete(s.bySlot, *entry.app.SlotID)
	}
	delete(s.apps, id)
	return nil
}

func (s *MemoryApplicationStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apps), nil
}
