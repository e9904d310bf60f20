package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/timnyborg/redpot-unchained-sub001/core/user"
	"github.com/timnyborg/redpot-unchained-sub001/storage/database"
)

// PrepareDB connects to TEST_DATABASE_URL, migrates it and empties every table.
// The test is skipped when the variable is unset.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenURL(dsn)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err = db.Exec(`TRUNCATE tutor_payment, tutor_module, module, tutor, student, "user" RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// TutorFacts describes the tutor and module a seeded tutor module links.
type TutorFacts struct {
	AppointmentID  string
	EmployeeNumber string
	RTWType        string
	RTWEndDate     null.Time
	FinanceCode    string
}

// CreateStudent inserts a student, with moodleID unless it is 0, and returns its id.
func CreateStudent(t *testing.T, db *sqlx.DB, moodleID int) int {
	t.Helper()

	var id int
	err := db.Get(&id, `INSERT INTO student (firstname, surname, moodle_id) VALUES ('Test', 'Student', $1) RETURNING id`,
		null.NewInt(moodleID, moodleID != 0))
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return id
}

// CreateTutorModule inserts a student, tutor, module and their tutor module and returns its id.
func CreateTutorModule(t *testing.T, db *sqlx.DB, facts TutorFacts) int {
	t.Helper()

	studentID := CreateStudent(t, db, 0)
	var tutorID, moduleID, tmID int
	err := db.Get(&tutorID,
		`INSERT INTO tutor (student_id, appointment_id, employee_no, rtw_type, rtw_end_date) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		studentID, facts.AppointmentID, facts.EmployeeNumber, facts.RTWType, facts.RTWEndDate)
	if err == nil {
		err = db.Get(&moduleID,
			`INSERT INTO module (code, title, finance_code) VALUES ('M' || $1::text, 'Test module', $2) RETURNING id`,
			tutorID, facts.FinanceCode)
	}
	if err == nil {
		err = db.Get(&tmID, `INSERT INTO tutor_module (tutor_id, module_id) VALUES ($1, $2) RETURNING id`, tutorID, moduleID)
	}
	if err != nil {
		t.Fatalf("CreateTutorModule() failed: %v", err)
	}
	return tmID
}
