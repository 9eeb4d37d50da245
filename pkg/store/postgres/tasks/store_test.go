package tasks

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/de-tools/usage-meter/pkg/models/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store Store
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	require.NoError(t, err)
	return &fixture{db: db, mock: mock, store: s}
}

var (
	testDate    = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	testCreated = time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)
)

func testTask(status string) store.CalculationTask {
	return store.CalculationTask{
		TaskID:    "task-1",
		UserID:    "user-1",
		Date:      testDate,
		Status:    status,
		CreatedAt: testCreated,
	}
}

func TestTaskStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("insert wins", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectExec("INSERT INTO calculation_tasks").
			WithArgs("task-1", "user-1", testDate, "SCHEDULED", testCreated).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := f.store.Create(ctx, testTask("SCHEDULED"))
		require.NoError(t, err)
		assert.True(t, created)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("conflict loses quietly", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectExec("INSERT INTO calculation_tasks").
			WithArgs("task-1", "user-1", testDate, "SCHEDULED", testCreated).
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := f.store.Create(ctx, testTask("SCHEDULED"))
		require.NoError(t, err)
		assert.False(t, created)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestTaskStore_Get(t *testing.T) {
	ctx := context.Background()
	columns := []string{"task_id", "user_id", "date", "status", "created_at"}

	t.Run("found", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectQuery("SELECT task_id, user_id, date, status, created_at").
			WithArgs("task-1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("task-1", "user-1", testDate, "COMPLETE", testCreated))

		task, err := f.store.Get(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, "COMPLETE", task.Status)
		assert.Equal(t, testDate, task.Date)
	})

	t.Run("missing maps to ErrNotFound", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectQuery("SELECT task_id, user_id, date, status, created_at").
			WithArgs("task-1").
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := f.store.Get(ctx, "task-1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTaskStore_GetScheduled(t *testing.T) {
	ctx := context.Background()
	columns := []string{"task_id", "user_id", "date", "status", "created_at"}

	t.Run("filters on the scheduled status", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectQuery("SELECT task_id, user_id, date, status, created_at").
			WithArgs("user-1", testDate, "SCHEDULED").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("task-1", "user-1", testDate, "SCHEDULED", testCreated))

		task, err := f.store.GetScheduled(ctx, "user-1", testDate)
		require.NoError(t, err)
		assert.Equal(t, "task-1", task.TaskID)
	})

	t.Run("no outstanding task maps to ErrNotFound", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectQuery("SELECT task_id, user_id, date, status, created_at").
			WithArgs("user-1", testDate, "SCHEDULED").
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := f.store.GetScheduled(ctx, "user-1", testDate)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTaskStore_SetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("updates the row", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectExec("UPDATE calculation_tasks SET status").
			WithArgs("task-1", "COMPLETE").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.store.SetStatus(ctx, "task-1", "COMPLETE"))
	})

	t.Run("missing row is tolerated", func(t *testing.T) {
		f := setupFixture(t)
		f.mock.ExpectExec("UPDATE calculation_tasks SET status").
			WithArgs("task-1", "ERROR").
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, f.store.SetStatus(ctx, "task-1", "ERROR"))
	})
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}
