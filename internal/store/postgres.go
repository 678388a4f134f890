// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"leader-intake/internal/common/database"
	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/models"

	"github.com/google/uuid"
)

const (
	slotColumns        = `id, position, status, occupant_name, occupant_role, avatar_reference, created_at, updated_at`
	applicationColumns = `id, name, email, whatsapp_number, bio, profile_image, status, slot_id, created_at, updated_at`

	constraintSlotPosition    = "slots_position_key"
	constraintApplicationSlot = "applications_slot_id_key"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresSlotStore persists the roster in the slots table.
type PostgresSlotStore struct {
	db  *sql.DB
	now Clock
}

func NewPostgresSlotStore(db *sql.DB, now Clock) *PostgresSlotStore {
	if now == nil {
		now = utcNow
	}
	return &PostgresSlotStore{db: db, now: now}
}

// Initialize holds an exclusive table lock so two concurrent initializers
// cannot both see an empty table. The unique position constraint backs this up.
func (s *PostgresSlotStore) Initialize(ctx context.Context, defaultAvatar string) ([]models.Slot, error) {
	var created []models.Slot

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE slots IN EXCLUSIVE MODE`); err != nil {
			return apperrors.NewStorageError("lock slots", err)
		}

		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM slots`).Scan(&existing); err != nil {
			return apperrors.NewStorageError("count slots", err)
		}
		if existing > 0 {
			return apperrors.NewAlreadyInitializedError()
		}

		now := s.now()
		created = make([]models.Slot, 0, models.RosterSize)
		for position := 1; position <= models.RosterSize; position++ {
			slot := models.Slot{
				ID:              uuid.New().String(),
				Position:        position,
				Status:          models.SlotStatusOpen,
				AvatarReference: defaultAvatar,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO slots (id, position, status, avatar_reference, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $5)`,
				slot.ID, slot.Position, string(slot.Status), slot.AvatarReference, now,
			)
			if err != nil {
				if database.IsPgError(err, database.PgUniqueViolation, constraintSlotPosition) {
					return apperrors.NewAlreadyInitializedError()
				}
				return apperrors.NewStorageError("insert slot", err)
			}
			created = append(created, slot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresSlotStore) ListAll(ctx context.Context) ([]models.Slot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots ORDER BY position ASC`)
	if err != nil {
		return nil, apperrors.NewStorageError("list slots", err)
	}
	defer rows.Close()

	slots := make([]models.Slot, 0, models.RosterSize)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("scan slot", err)
		}
		slots = append(slots, *slot)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("list slots", err)
	}
	return slots, nil
}

func (s *PostgresSlotStore) Get(ctx context.Context, id string) (*models.Slot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewSlotNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get slot", err)
	}
	return slot, nil
}

// ClaimNextOpen skips open slots that already carry an application, i.e. a
// concurrent submission between its create and its fill.
func (s *PostgresSlotStore) ClaimNextOpen(ctx context.Context) (*models.Slot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE status = $1
		  AND NOT EXISTS (SELECT 1 FROM applications a WHERE a.slot_id = slots.id)
		ORDER BY position ASC
		LIMIT 1`, string(models.SlotStatusOpen))
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNoOpenSlotsError()
	}
	if err != nil {
		return nil, apperrors.NewStorageError("claim slot", err)
	}
	return slot, nil
}

// FillSlot only matches rows still open. When nothing matches, a follow-up
// read tells a missing slot apart from one that another claim already filled.
func (s *PostgresSlotStore) FillSlot(ctx context.Context, id, occupantName, occupantRole, avatarReference string) (*models.Slot, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE slots
		SET status = $2, occupant_name = $3, occupant_role = $4, avatar_reference = $5, updated_at = $6
		WHERE id = $1 AND status = $7
		RETURNING `+slotColumns,
		id, string(models.SlotStatusFilled), occupantName, occupantRole, avatarReference, s.now(), string(models.SlotStatusOpen),
	)
	slot, err := scanSlot(row)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewStorageError("fill slot", err)
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM slots WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewSlotNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("fill slot", err)
	}
	return nil, apperrors.NewSlotAlreadyFilledError(id)
}

func scanSlot(row rowScanner) (*models.Slot, error) {
	var (
		slot         models.Slot
		status       string
		occupantName sql.NullString
		occupantRole sql.NullString
	)
	err := row.Scan(
		&slot.ID,
		&slot.Position,
		&status,
		&occupantName,
		&occupantRole,
		&slot.AvatarReference,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	slot.Status = models.SlotStatus(status)
	slot.OccupantName = nullableString(occupantName)
	slot.OccupantRole = nullableString(occupantRole)
	return &slot, nil
}

// PostgresApplicationStore persists applications in the applications table.
type PostgresApplicationStore struct {
	db  *sql.DB
	now Clock
}

func NewPostgresApplicationStore(db *sql.DB, now Clock) *PostgresApplicationStore {
	if now == nil {
		now = utcNow
	}
	return &PostgresApplicationStore{db: db, now: now}
}

func (s *PostgresApplicationStore) Create(ctx context.Context, in models.NewApplication) (*models.Application, error) {
	clean, err := sanitizeNewApplication(in)
	if err != nil {
		return nil, err
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (
			id, name, email, whatsapp_number, bio,
			profile_image, status, slot_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		app.ID,
		app.Name,
		app.Email,
		app.WhatsappNumber,
		toNullString(app.Bio),
		app.ProfileImage,
		string(app.Status),
		clean.SlotID,
		now,
	)
	if err != nil {
		switch {
		case database.IsPgError(err, database.PgUniqueViolation, constraintApplicationSlot):
			return nil, apperrors.NewSlotAlreadyFilledError(clean.SlotID)
		case database.IsPgError(err, database.PgForeignKeyViolation, ""):
			return nil, apperrors.NewSlotNotFoundError(clean.SlotID)
		}
		return nil, apperrors.NewStorageError("insert application", err)
	}
	return &app, nil
}

func (s *PostgresApplicationStore) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	filter = filter.Normalized()

	var (
		query strings.Builder
		args  []interface{}
	)
	query.WriteString(`SELECT ` + applicationColumns + ` FROM applications`)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		fmt.Fprintf(&query, ` WHERE status = $%d`, len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&query, ` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, apperrors.NewStorageError("list applications", err)
	}
	defer rows.Close()

	apps := make([]models.Application, 0, filter.Limit)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("scan application", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("list applications", err)
	}
	return apps, nil
}

func (s *PostgresApplicationStore) Get(ctx context.Context, id string) (*models.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get application", err)
	}
	return app, nil
}

func (s *PostgresApplicationStore) UpdateStatus(ctx context.Context, id string, status models.ApplicationStatus) (*models.Application, error) {
	if !status.Valid() {
		return nil, apperrors.NewInvalidStatusError(string(status))
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE applications SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+applicationColumns,
		id, string(status), s.now(),
	)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("update application status", err)
	}
	return app, nil
}

func (s *PostgresApplicationStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewStorageError("delete application", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewStorageError("delete application", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError(id)
	}
	return nil
}

func (s *PostgresApplicationStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications`).Scan(&count); err != nil {
		return 0, apperrors.NewStorageError("count applications", err)
	}
	return count, nil
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app    models.Application
		status string
		bio    sql.NullString
		slotID sql.NullString
	)
	err := row.Scan(
		&app.ID,
		&app.Name,
		&app.Email,
		&app.WhatsappNumber,
		&bio,
		&app.ProfileImage,
		&status,
		&slotID,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.Status = models.ApplicationStatus(status)
	app.Bio = nullableString(bio)
	app.SlotID = nullableString(slotID)
	return &app, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return strPtr(ns.String)
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
