package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/timnyborg/redpot-unchained-sub001/apps/api/echo"
	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
	"github.com/timnyborg/redpot-unchained-sub001/core/user"
	emailsvc "github.com/timnyborg/redpot-unchained-sub001/services/email"
	logsvc "github.com/timnyborg/redpot-unchained-sub001/services/logger"
	dummydb "github.com/timnyborg/redpot-unchained-sub001/storage/database/dummy"
)

const testPassword = "s3cret-pass"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type fixture struct {
	srv     *Server
	conf    *core.Config
	db      *dummydb.DB
	usrRepo user.Repository
	payRepo payment.Repository
	usrSvc  *user.Service
	paySvc  *payment.Service

	admin, finance, jdoe, other user.User

	goodTM   int // tutor module whose payments are approvable
	noEmplTM int // tutor without employee number
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := dummydb.Open()
	require.NoError(t, err)

	conf := core.NewTestConfig()
	conf.Server.DisableReqLogs = true
	logger := logsvc.NewNopLogger()

	fx := &fixture{
		conf:    conf,
		db:      db,
		usrRepo: dummydb.NewUserRepository(db),
		payRepo: dummydb.NewPaymentRepository(db),
	}

	fx.usrSvc = user.NewService(fx.usrRepo)
	fx.paySvc = payment.NewService(fx.payRepo, dummydb.NewTransactor(db), emailsvc.NewConsoleServiceMock(conf, logger), conf, logger)
	fx.srv = fx.newServer(dummydb.NewStudentRepository(db))

	fx.admin = createUser(t, fx.usrSvc, "admin", user.RoleAdmin)
	fx.finance = createUser(t, fx.usrSvc, "finance", user.RoleFinance)
	fx.jdoe = createUser(t, fx.usrSvc, "jdoe")
	fx.other = createUser(t, fx.usrSvc, "other")

	student := db.AddStudent(dummydb.Student{Firstname: "Ada", Surname: "Lovelace"})
	good := db.AddTutor(dummydb.Tutor{StudentID: student.ID, AppointmentID: "APT-1", EmployeeNumber: "E1", RTWType: "passport"})
	noEmpl := db.AddTutor(dummydb.Tutor{StudentID: student.ID, AppointmentID: "APT-2"})
	mod := db.AddModule(dummydb.Module{Code: "O25P001COH", Title: "Ancient Egypt", FinanceCode: "XB123"})
	fx.goodTM = db.AddTutorModule(good.ID, mod.ID).ID
	fx.noEmplTM = db.AddTutorModule(noEmpl.ID, mod.ID).ID

	return fx
}

// newServer returns a server sharing the fixture's users and payments, with students stored in students.
func (fx *fixture) newServer(students moodleid.Repository) *Server {
	logger := logsvc.NewNopLogger()
	moodleSvc := moodleid.NewService(students, nil, fx.conf, logger)
	return NewServer(fx.conf, logger, fx.usrSvc, fx.paySvc, moodleSvc)
}

func createUser(t *testing.T, svc *user.Service, uname string, roles ...string) user.User {
	t.Helper()
	usr, err := svc.Create(context.Background(), user.NewUser{
		Name:     uname,
		Username: uname,
		Email:    uname + "@example.com",
		Password: testPassword,
		Roles:    roles,
	})
	require.NoError(t, err)
	return usr
}

func (fx *fixture) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(fx.conf, GetUserClaims(fx.conf, usr))
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

func (fx *fixture) raise(t *testing.T, tutorModuleID int, approver string) payment.TutorPayment {
	t.Helper()
	p, err := fx.payRepo.CreatePayment(context.Background(), payment.TutorPayment{
		TutorModuleID: tutorModuleID,
		Amount:        decimal.RequireFromString("120.50"),
		Type:          payment.TypeTeaching,
		Status:        payment.StatusRaised,
		Approver:      approver,
		RaisedBy:      "finance",
	})
	require.NoError(t, err)
	return p
}

func (fx *fixture) do(req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	fx.srv.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	} else if !ok {
		t.Errorf("failed! data = %s; wantData %s", rec.Body.Bytes(), tt.wantData)
	}
}

func runHTTPTests(t *testing.T, fx *fixture, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, fx.do(req, rec))
		})
	}
}
