package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/pkg/database"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentColumnNames() []string {
	parts := strings.Split(studentColumns, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.TrimSpace(p))
	}
	return names
}

func studentRows(students ...models.Student) *sqlmock.Rows {
	columns := studentColumnNames()
	rows := sqlmock.NewRows(columns)
	for _, s := range students {
		values := make([]driver.Value, 0, len(columns))
		for _, c := range columns {
			switch c {
			case "id":
				values = append(values, s.ID)
			case "instansi_id":
				values = append(values, s.InstansiID)
			case "nik":
				values = append(values, s.NIK)
			case "nisn":
				if s.NISN != nil {
					values = append(values, *s.NISN)
				} else {
					values = append(values, nil)
				}
			case "full_name":
				values = append(values, s.FullName)
			case "birth_date", "class_id":
				values = append(values, nil)
			case "is_active":
				values = append(values, s.IsActive)
			case "created_at", "updated_at":
				values = append(values, time.Now())
			default:
				values = append(values, "")
			}
		}
		rows.AddRow(values...)
	}
	return rows
}

func TestStudentRepositoryListScopesByInstansi(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE instansi_id = $1 AND (full_name ILIKE $2 OR nickname ILIKE $2 OR nik ILIKE $2 OR nisn ILIKE $2) AND is_active = TRUE AND academic_year = $3 ORDER BY full_name ASC, id ASC LIMIT 10 OFFSET 10")).
		WithArgs("tenant-a", "%budi%", "2024/2025").
		WillReturnRows(studentRows(models.Student{ID: "s1", InstansiID: "tenant-a", NIK: "3201010101010001", FullName: "Budi", IsActive: true}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE instansi_id = $1")).
		WithArgs("tenant-a", "%budi%", "2024/2025").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	students, total, err := repo.List(context.Background(), "tenant-a", models.StudentFilter{
		Search: "budi", Status: models.StudentStatusActive, AcademicYear: "2024/2025",
		Page: 2, PageSize: 10, SortBy: "full_name", SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "Budi", students[0].FullName)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListIgnoresUnknownSort(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE instansi_id = $1 ORDER BY created_at DESC, id ASC LIMIT 20 OFFSET 0")).
		WithArgs("tenant-a").
		WillReturnRows(studentRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE instansi_id = $1")).
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	students, total, err := repo.List(context.Background(), "tenant-a", models.StudentFilter{SortBy: "password; drop", AcademicYear: models.AcademicYearAll})
	require.NoError(t, err)
	assert.Empty(t, students)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDOtherTenant(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 AND instansi_id = $2")).
		WithArgs("s1", "tenant-b").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "tenant-b", "s1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryActiveNIKElsewhere(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE nik = $1 AND is_active = TRUE AND instansi_id <> $2 AND id <> $3 LIMIT 1")).
		WithArgs("3201010101010001", "tenant-b", "s9").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE nik = $1 AND is_active = TRUE AND instansi_id <> $2 LIMIT 1")).
		WithArgs("3201010101010002", "tenant-b").
		WillReturnError(sql.ErrNoRows)

	found, err := repo.ActiveNIKElsewhere(context.Background(), "3201010101010001", "tenant-b", "s9")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.ActiveNIKElsewhere(context.Background(), "3201010101010002", "tenant-b", "")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsNISNInTenant(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE instansi_id = $1 AND nisn = $2 LIMIT 1")).
		WithArgs("tenant-a", "0012345678").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	found, err := repo.ExistsNISNInTenant(context.Background(), "tenant-a", "0012345678", "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_active_nik_key"})

	err := repo.Create(context.Background(), &models.Student{InstansiID: "tenant-a", NIK: "3201010101010001", FullName: "Budi", IsActive: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrUniqueViolation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND instansi_id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Student{ID: "s1", InstansiID: "tenant-b", NIK: "3201010101010001", FullName: "Budi"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1 AND instansi_id = $2")).
		WithArgs("s1", "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "tenant-a", "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateAcademicLevelRollsBack(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET academic_level = $1")).
		WithArgs("SMA", "XI", "2025/2026", sqlmock.AnyArg(), "s1", "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO student_promotions").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	student := &models.Student{ID: "s1", InstansiID: "tenant-a", AcademicLevel: "SMA", CurrentGrade: "XI", AcademicYear: "2025/2026"}
	err := repo.UpdateAcademicLevel(context.Background(), student, &models.StudentPromotion{StudentID: "s1", InstansiID: "tenant-a"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryStats(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active"}).AddRow(5, 3))
	mock.ExpectQuery("SELECT gender AS label").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"label", "total"}).AddRow("L", 2).AddRow("P", 1))
	mock.ExpectQuery("SELECT academic_level AS label").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"label", "total"}).AddRow("SMA", 3))

	stats, err := repo.Stats(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Inactive)
	assert.Equal(t, 2, stats.ByGender["L"])
	assert.Equal(t, 3, stats.ByAcademicLevel["SMA"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
