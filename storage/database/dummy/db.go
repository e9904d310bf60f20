// Package dummydb is an in-memory stand-in for the Postgres repositories, used by tests and
// local runs without a database.
package dummydb

import (
	"context"
	"sync"

	"github.com/volatiletech/null/v8"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
	"github.com/timnyborg/redpot-unchained-sub001/core/user"
)

type (
	Student struct {
		ID        int
		Firstname string
		Surname   string
		Email     string
		MoodleID  null.Int
	}

	Tutor struct {
		ID             int
		StudentID      int
		AppointmentID  string
		EmployeeNumber string
		RTWType        string
		RTWEndDate     null.Time
	}

	Module struct {
		ID          int
		Code        string
		Title       string
		FinanceCode string
	}

	TutorModule struct {
		ID       int
		TutorID  int
		ModuleID int
	}

	DB struct {
		sync.RWMutex
		txMu sync.Mutex
		pks  map[string]int

		users        map[int]*user.User
		students     map[int]*Student
		tutors       map[int]*Tutor
		modules      map[int]*Module
		tutorModules map[int]*TutorModule
		payments     map[int]*payment.TutorPayment
	}
)

func Open() (*DB, error) {
	db := &DB{
		pks:          make(map[string]int),
		users:        make(map[int]*user.User),
		students:     make(map[int]*Student),
		tutors:       make(map[int]*Tutor),
		modules:      make(map[int]*Module),
		tutorModules: make(map[int]*TutorModule),
		payments:     make(map[int]*payment.TutorPayment),
	}
	return db, nil
}

// nextPK must be called with the write lock held.
func (db *DB) nextPK(table string) int {
	db.pks[table]++
	return db.pks[table]
}

func (db *DB) AddStudent(s Student) Student {
	db.Lock()
	defer db.Unlock()
	s.ID = db.nextPK("student")
	db.students[s.ID] = &s
	return s
}

func (db *DB) AddTutor(t Tutor) Tutor {
	db.Lock()
	defer db.Unlock()
	t.ID = db.nextPK("tutor")
	db.tutors[t.ID] = &t
	return t
}

func (db *DB) AddModule(m Module) Module {
	db.Lock()
	defer db.Unlock()
	m.ID = db.nextPK("module")
	db.modules[m.ID] = &m
	return m
}

func (db *DB) AddTutorModule(tutorID, moduleID int) TutorModule {
	db.Lock()
	defer db.Unlock()
	tm := TutorModule{ID: db.nextPK("tutor_module"), TutorID: tutorID, ModuleID: moduleID}
	db.tutorModules[tm.ID] = &tm
	return tm
}

// Student returns a copy of the stored student.
func (db *DB) Student(id int) (Student, bool) {
	db.RLock()
	defer db.RUnlock()
	s, ok := db.students[id]
	if !ok {
		return Student{}, false
	}
	return *s, true
}

type transactor struct {
	db *DB
}

var _ core.Transactor = (*transactor)(nil) // interface compliance check

// NewTransactor serialises transactions. Changes made before fn fails are not rolled back.
func NewTransactor(db *DB) core.Transactor {
	return &transactor{db: db}
}

func (t *transactor) InTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()
	return fn(nil)
}
