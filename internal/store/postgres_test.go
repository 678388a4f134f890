package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func slotRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "position", "status", "occupant_name", "occupant_role",
		"avatar_reference", "created_at", "updated_at",
	})
}

func applicationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "email", "whatsapp_number", "bio",
		"profile_image", "status", "slot_id", "created_at", "updated_at",
	})
}

// ==========================
// Slots
// ==========================

func TestPostgresSlotStore_Initialize(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`LOCK TABLE slots IN EXCLUSIVE MODE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM slots`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	for position := 1; position <= models.RosterSize; position++ {
		mock.ExpectExec(`INSERT INTO slots`).
			WithArgs(sqlmock.AnyArg(), position, "open", testAvatar, fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	s := NewPostgresSlotStore(db, fixedClock)
	slots, err := s.Initialize(context.Background(), testAvatar)

	require.NoError(t, err)
	require.Len(t, slots, models.RosterSize)
	assert.Equal(t, 1, slots[0].Position)
	assert.Equal(t, 6, slots[5].Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSlotStore_InitializeTwice(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`LOCK TABLE slots`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM slots`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))
	mock.ExpectRollback()

	s := NewPostgresSlotStore(db, fixedClock)
	_, err := s.Initialize(context.Background(), testAvatar)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyInitialized))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSlotStore_InitializePositionConflict(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`LOCK TABLE slots`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM slots`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO slots`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "slots_position_key"})
	mock.ExpectRollback()

	s := NewPostgresSlotStore(db, fixedClock)
	_, err := s.Initialize(context.Background(), testAvatar)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyInitialized))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSlotStore_ListAll(t *testing.T) {
	db, mock := setupMockDB(t)

	rows := slotRows().
		AddRow("s1", 1, "filled", "Ada", "Leader", "data:image/png;base64,AAAA", fixedNow, fixedNow).
		AddRow("s2", 2, "open", nil, nil, testAvatar, fixedNow, fixedNow)
	mock.ExpectQuery(`SELECT id, position, status, occupant_name, occupant_role, avatar_reference, created_at, updated_at FROM slots ORDER BY position ASC`).
		WillReturnRows(rows)

	s := NewPostgresSlotStore(db, fixedClock)
	slots, err := s.ListAll(context.Background())

	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, models.SlotStatusFilled, slots[0].Status)
	require.NotNil(t, slots[0].OccupantName)
	assert.Equal(t, "Ada", *slots[0].OccupantName)
	assert.Nil(t, slots[1].OccupantName)
	assert.Nil(t, slots[1].OccupantRole)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSlotStore_ClaimNextOpen(t *testing.T) {
	t.Run("returns lowest open position", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM slots\s+WHERE status = \$1\s+AND NOT EXISTS \(SELECT 1 FROM applications a WHERE a\.slot_id = slots\.id\)\s+ORDER BY position ASC\s+LIMIT 1`).
			WithArgs("open").
			WillReturnRows(slotRows().AddRow("s3", 3, "open", nil, nil, testAvatar, fixedNow, fixedNow))

		slot, err := NewPostgresSlotStore(db, fixedClock).ClaimNextOpen(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, slot.Position)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no open slots", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM slots\s+WHERE status = \$1`).
			WithArgs("open").
			WillReturnRows(slotRows())

		_, err := NewPostgresSlotStore(db, fixedClock).ClaimNextOpen(context.Background())
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoOpenSlots))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM slots`).WillReturnError(errors.New("connection reset"))

		_, err := NewPostgresSlotStore(db, fixedClock).ClaimNextOpen(context.Background())
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStorage))
	})
}

func TestPostgresSlotStore_FillSlot(t *testing.T) {
	t.Run("fills open slot", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`UPDATE slots\s+SET status = \$2`).
			WithArgs("s1", "filled", "Ada", "Leader", "avatar", fixedNow, "open").
			WillReturnRows(slotRows().AddRow("s1", 1, "filled", "Ada", "Leader", "avatar", fixedNow, fixedNow))

		slot, err := NewPostgresSlotStore(db, fixedClock).FillSlot(context.Background(), "s1", "Ada", "Leader", "avatar")
		require.NoError(t, err)
		assert.Equal(t, models.SlotStatusFilled, slot.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`UPDATE slots`).WillReturnRows(slotRows())
		mock.ExpectQuery(`SELECT status FROM slots WHERE id = \$1`).
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("filled"))

		_, err := NewPostgresSlotStore(db, fixedClock).FillSlot(context.Background(), "s1", "Ada", "Leader", "avatar")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSlotAlreadyFilled))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing slot", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`UPDATE slots`).WillReturnRows(slotRows())
		mock.ExpectQuery(`SELECT status FROM slots`).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		_, err := NewPostgresSlotStore(db, fixedClock).FillSlot(context.Background(), "nope", "Ada", "Leader", "avatar")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSlotNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresSlotStore_Get_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`FROM slots WHERE id = \$1`).WithArgs("nope").WillReturnRows(slotRows())

	_, err := NewPostgresSlotStore(db, fixedClock).Get(context.Background(), "nope")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSlotNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Applications
// ==========================

func TestPostgresApplicationStore_Create(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectExec(`INSERT INTO applications`).
		WithArgs(
			sqlmock.AnyArg(),
			"Ada",
			"ada@example.com",
			"+15551234",
			sqlmock.AnyArg(),
			"data:image/png;base64,AAAA",
			"pending",
			"slot-1",
			fixedNow,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	in := newApplication("slot-1")
	in.Name = " Ada "
	in.Email = "ADA@example.com"

	app, err := NewPostgresApplicationStore(db, fixedClock).Create(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, app.ID)
	assert.Equal(t, "Ada", app.Name)
	assert.Equal(t, models.ApplicationStatusPending, app.Status)
	assert.Equal(t, fixedNow, app.CreatedAt)
	assert.Equal(t, fixedNow, app.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplicationStore_CreateConstraintErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{
			name: "slot already taken",
			err:  &pq.Error{Code: "23505", Constraint: "applications_slot_id_key"},
			code: apperrors.ErrCodeSlotAlreadyFilled,
		},
		{
			name: "unknown slot",
			err:  &pq.Error{Code: "23503", Constraint: "applications_slot_id_fkey"},
			code: apperrors.ErrCodeSlotNotFound,
		},
		{
			name: "other failure",
			err:  errors.New("disk full"),
			code: apperrors.ErrCodeStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			mock.ExpectExec(`INSERT INTO applications`).WillReturnError(tt.err)

			_, err := NewPostgresApplicationStore(db, fixedClock).Create(context.Background(), newApplication("slot-1"))
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresApplicationStore_CreateRejectsBlankFields(t *testing.T) {
	db, mock := setupMockDB(t)

	in := newApplication("slot-1")
	in.Name = "  "

	_, err := NewPostgresApplicationStore(db, fixedClock).Create(context.Background(), in)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplicationStore_List(t *testing.T) {
	t.Run("default page", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM applications ORDER BY created_at DESC, id DESC LIMIT \$1 OFFSET \$2`).
			WithArgs(20, 0).
			WillReturnRows(applicationRows().
				AddRow("a2", "Grace", "grace@example.com", "+1", nil, "img", "pending", "s2", fixedNow, fixedNow).
				AddRow("a1", "Ada", "ada@example.com", "+2", "bio", "img", "approved", "s1", fixedNow, fixedNow))

		apps, err := NewPostgresApplicationStore(db, fixedClock).List(context.Background(), models.ApplicationFilter{})
		require.NoError(t, err)
		require.Len(t, apps, 2)
		assert.Equal(t, "a2", apps[0].ID)
		assert.Nil(t, apps[0].Bio)
		require.NotNil(t, apps[1].Bio)
		assert.Equal(t, "bio", *apps[1].Bio)
		assert.Equal(t, models.ApplicationStatusApproved, apps[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status filter and capped limit", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM applications WHERE status = \$1 ORDER BY created_at DESC, id DESC LIMIT \$2 OFFSET \$3`).
			WithArgs("rejected", 100, 40).
			WillReturnRows(applicationRows())

		rejected := models.ApplicationStatusRejected
		apps, err := NewPostgresApplicationStore(db, fixedClock).List(context.Background(), models.ApplicationFilter{
			Status: &rejected,
			Limit:  1000,
			Offset: 40,
		})
		require.NoError(t, err)
		assert.Empty(t, apps)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresApplicationStore_UpdateStatus(t *testing.T) {
	t.Run("updates and refreshes timestamp", func(t *testing.T) {
		db, mock := setupMockDB(t)
		created := fixedNow.Add(-time.Hour)
		mock.ExpectQuery(`UPDATE applications SET status = \$2, updated_at = \$3`).
			WithArgs("a1", "approved", fixedNow).
			WillReturnRows(applicationRows().
				AddRow("a1", "Ada", "ada@example.com", "+1", nil, "img", "approved", "s1", created, fixedNow))

		app, err := NewPostgresApplicationStore(db, fixedClock).UpdateStatus(context.Background(), "a1", models.ApplicationStatusApproved)
		require.NoError(t, err)
		assert.Equal(t, models.ApplicationStatusApproved, app.Status)
		assert.Equal(t, fixedNow, app.UpdatedAt)
		assert.Equal(t, created, app.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`UPDATE applications`).WillReturnRows(applicationRows())

		_, err := NewPostgresApplicationStore(db, fixedClock).UpdateStatus(context.Background(), "a1", models.ApplicationStatusRejected)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid status never reaches the database", func(t *testing.T) {
		db, mock := setupMockDB(t)

		_, err := NewPostgresApplicationStore(db, fixedClock).UpdateStatus(context.Background(), "a1", "archived")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidStatus))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresApplicationStore_Delete(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(`DELETE FROM applications WHERE id = \$1`).
		WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM applications WHERE id = \$1`).
		WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresApplicationStore(db, fixedClock)
	require.NoError(t, s.Delete(context.Background(), "a1"))

	err := s.Delete(context.Background(), "a1")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplicationStore_Count(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := NewPostgresApplicationStore(db, fixedClock).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
