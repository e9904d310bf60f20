package payment_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
	logsvc "github.com/timnyborg/redpot-unchained-sub001/services/logger"
	dummydb "github.com/timnyborg/redpot-unchained-sub001/storage/database/dummy"
)

var now = time.Date(2025, time.June, 2, 10, 30, 0, 0, time.UTC)

type mailbox struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailbox) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

type fixture struct {
	db       *dummydb.DB
	repo     payment.Repository
	svc      *payment.Service
	mail     *mailbox
	goodTM   int // tutor module whose payments are approvable
	noEmplTM int // tutor without employee number
}

func setup(t *testing.T, configure ...func(conf *core.Config)) *fixture {
	t.Helper()
	t.Cleanup(payment.SetNow(now))

	db, err := dummydb.Open()
	require.NoError(t, err)

	student := db.AddStudent(dummydb.Student{Firstname: "Ada", Surname: "Lovelace"})
	good := db.AddTutor(dummydb.Tutor{StudentID: student.ID, AppointmentID: "APT-1", EmployeeNumber: "E1", RTWType: "passport"})
	noEmpl := db.AddTutor(dummydb.Tutor{StudentID: student.ID, AppointmentID: "APT-2"})
	mod := db.AddModule(dummydb.Module{Code: "O25P001COH", Title: "Ancient Egypt", FinanceCode: "XB123"})

	conf := core.NewTestConfig()
	for _, fn := range configure {
		fn(conf)
	}

	fx := &fixture{
		db:       db,
		repo:     dummydb.NewPaymentRepository(db),
		mail:     new(mailbox),
		goodTM:   db.AddTutorModule(good.ID, mod.ID).ID,
		noEmplTM: db.AddTutorModule(noEmpl.ID, mod.ID).ID,
	}
	fx.svc = payment.NewService(fx.repo, dummydb.NewTransactor(db), fx.mail, conf, logsvc.NewNopLogger())
	return fx
}

func (fx *fixture) raise(t *testing.T, tutorModuleID int, approver string) payment.TutorPayment {
	t.Helper()
	p, err := fx.repo.CreatePayment(context.Background(), payment.TutorPayment{
		TutorModuleID: tutorModuleID,
		Amount:        decimal.RequireFromString("120.50"),
		Type:          payment.TypeTeaching,
		Status:        payment.StatusRaised,
		Approver:      approver,
		RaisedBy:      "finance",
		RaisedOn:      now.Add(-time.Hour),
	})
	require.NoError(t, err)
	return p
}

func TestService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("mixed batch", func(t *testing.T) {
		fx := setup(t)
		p1 := fx.raise(t, fx.goodTM, "jdoe")
		p2 := fx.raise(t, fx.goodTM, "jdoe")
		p3 := fx.raise(t, fx.noEmplTM, "jdoe")  // ineligible
		p4 := fx.raise(t, fx.goodTM, "someone") // other approver

		n, err := fx.svc.Approve(ctx, []int{p1.ID, p2.ID, p3.ID, p4.ID, 999}, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, tt := range []struct {
			id   int
			want payment.Status
		}{
			{p1.ID, payment.StatusApproved},
			{p2.ID, payment.StatusApproved},
			{p3.ID, payment.StatusRaised},
			{p4.ID, payment.StatusRaised},
		} {
			got, err := fx.svc.GetByID(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status, "payment %d", tt.id)
		}

		got, _ := fx.svc.GetByID(ctx, p1.ID)
		assert.Equal(t, "jdoe", got.ApprovedBy.String)
		assert.True(t, got.ApprovedOn.Valid)
		assert.True(t, now.Equal(got.ApprovedOn.Time))
	})

	t.Run("approver is normalized", func(t *testing.T) {
		fx := setup(t)
		p := fx.raise(t, fx.goodTM, "jdoe")

		n, err := fx.svc.Approve(ctx, []int{p.ID, p.ID}, "  JDoe ")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("second approval is a no-op", func(t *testing.T) {
		fx := setup(t)
		p := fx.raise(t, fx.goodTM, "jdoe")

		n, err := fx.svc.Approve(ctx, []int{p.ID}, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = fx.svc.Approve(ctx, []int{p.ID}, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("non-raised payments are skipped", func(t *testing.T) {
		fx := setup(t)
		p := fx.raise(t, fx.goodTM, "jdoe")
		fx.db.SetPaymentStatus(p.ID, payment.StatusCancelled)

		n, err := fx.svc.Approve(ctx, []int{p.ID}, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("nothing to approve", func(t *testing.T) {
		fx := setup(t)
		for _, ids := range [][]int{nil, {}, {0, -3}} {
			n, err := fx.svc.Approve(ctx, ids, "jdoe")
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		}

		p := fx.raise(t, fx.goodTM, "jdoe")
		n, err := fx.svc.Approve(ctx, []int{p.ID}, "")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("rtw enforced when required", func(t *testing.T) {
		fx := setup(t, func(conf *core.Config) { conf.Payments.RequireRTW = true })
		noRTW := fx.db.AddTutor(dummydb.Tutor{StudentID: 1, AppointmentID: "APT-3", EmployeeNumber: "E3"})
		tm := fx.db.AddTutorModule(noRTW.ID, 1)
		p1 := fx.raise(t, tm.ID, "jdoe")
		p2 := fx.raise(t, fx.goodTM, "jdoe")

		n, err := fx.svc.Approve(ctx, []int{p1.ID, p2.ID}, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("concurrent approvals count each payment once", func(t *testing.T) {
		fx := setup(t)
		ids := make([]int, 0, 10)
		for i := 0; i < 10; i++ {
			ids = append(ids, fx.raise(t, fx.goodTM, "jdoe").ID)
		}

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			total int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := fx.svc.Approve(ctx, ids, "jdoe")
				assert.NoError(t, err)
				mu.Lock()
				total += n
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, len(ids), total)
	})
}

func TestService_Approve_notification(t *testing.T) {
	ctx := context.Background()

	t.Run("sent when configured", func(t *testing.T) {
		fx := setup(t, func(conf *core.Config) { conf.Payments.NotifyEmail = "payroll@example.com" })
		p1 := fx.raise(t, fx.goodTM, "jdoe")
		p2 := fx.raise(t, fx.noEmplTM, "jdoe")

		n, err := fx.svc.Approve(ctx, []int{p1.ID, p2.ID}, "jdoe")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		require.Len(t, fx.mail.sent, 1)
		msg := fx.mail.sent[0]
		assert.Equal(t, "payroll@example.com", msg.To[0].Address)
		assert.Equal(t, "1 tutor payment(s) approved", msg.Subject)

		require.NoError(t, msg.Render("Redpot"))
		assert.Contains(t, msg.TextContent, "1 tutor payment(s) approved by jdoe")
		assert.Contains(t, msg.TextContent, "120.50")
		assert.True(t, strings.Contains(msg.HTMLContent, "jdoe"))

		require.Len(t, msg.Attachments, 1)
		at := msg.Attachments[0]
		assert.Equal(t, "payments-approved-20250602-103000.csv", at.Filename)
		assert.Equal(t, "text/csv", at.ContentType)
		report, err := base64.StdEncoding.DecodeString(at.Content.String())
		require.NoError(t, err)
		assert.Equal(t,
			"id,tutor_module_id,type,amount,approved_by,approved_on\n"+
				fmt.Sprintf("%d,%d,teaching,120.50,jdoe,2025-06-02T10:30:00Z\n", p1.ID, fx.goodTM),
			string(report))
	})

	t.Run("not sent when nothing approved", func(t *testing.T) {
		fx := setup(t, func(conf *core.Config) { conf.Payments.NotifyEmail = "payroll@example.com" })
		p := fx.raise(t, fx.noEmplTM, "jdoe")

		n, err := fx.svc.Approve(ctx, []int{p.ID}, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, fx.mail.sent)
	})

	t.Run("not sent when unconfigured", func(t *testing.T) {
		fx := setup(t)
		p := fx.raise(t, fx.goodTM, "jdoe")

		_, err := fx.svc.Approve(ctx, []int{p.ID}, "jdoe")
		require.NoError(t, err)
		assert.Empty(t, fx.mail.sent)
	})
}

func TestService_Review(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	ok := fx.raise(t, fx.goodTM, "jdoe")
	inelig := fx.raise(t, fx.noEmplTM, "jdoe")
	other := fx.raise(t, fx.goodTM, "someone")
	done := fx.raise(t, fx.goodTM, "jdoe")
	fx.db.SetPaymentStatus(done.ID, payment.StatusTransferred)

	got, err := fx.svc.Review(ctx, []int{ok.ID, inelig.ID, other.ID, done.ID, 404, ok.ID}, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, []payment.Review{
		{PaymentID: ok.ID, Outcome: payment.ReviewApprovable},
		{PaymentID: inelig.ID, Outcome: payment.ReviewIneligible, Reasons: []string{"Tutor has no employee number"}},
		{PaymentID: other.ID, Outcome: payment.ReviewWrongApprover},
		{PaymentID: done.ID, Outcome: payment.ReviewNotRaised, Reasons: []string{"Payment is transferred"}},
		{PaymentID: 404, Outcome: payment.ReviewNotFound},
	}, got)

	// reviewing changes nothing
	p, err := fx.svc.GetByID(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRaised, p.Status)

	// and agrees with Approve
	n, err := fx.svc.Approve(ctx, []int{ok.ID, inelig.ID, other.ID, done.ID, 404}, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_Raise(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	valid := func() payment.NewPayment {
		return payment.NewPayment{
			TutorModuleID: fx.goodTM,
			Amount:        decimal.RequireFromString("99.999"),
			Type:          " Marking ",
			Note:          " essays ",
			Approver:      " JDoe",
		}
	}

	t.Run("valid", func(t *testing.T) {
		p, err := fx.svc.Raise(ctx, valid(), "Finance")
		require.NoError(t, err)
		assert.NotZero(t, p.ID)
		assert.Equal(t, payment.StatusRaised, p.Status)
		assert.Equal(t, payment.TypeMarking, p.Type)
		assert.Equal(t, "jdoe", p.Approver)
		assert.Equal(t, "essays", p.Note)
		assert.Equal(t, "finance", p.RaisedBy)
		assert.Equal(t, "100.00", p.Amount.StringFixed(2))
		assert.True(t, now.Equal(p.RaisedOn))
		assert.False(t, p.ApprovedBy.Valid)
	})

	tests := []struct {
		name  string
		mod   func(np *payment.NewPayment)
		field string
	}{
		{"zero amount", func(np *payment.NewPayment) { np.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(np *payment.NewPayment) { np.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"unknown type", func(np *payment.NewPayment) { np.Type = "bonus" }, "type"},
		{"no approver", func(np *payment.NewPayment) { np.Approver = " " }, "approver"},
		{"no tutor module", func(np *payment.NewPayment) { np.TutorModuleID = 0 }, "tutor_module_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			np := valid()
			tt.mod(&np)
			_, err := fx.svc.Raise(ctx, np, "finance")
			var verrs validator.ValidationErrors
			require.True(t, errors.As(err, &verrs), "want validation errors, got %v", err)
			assert.Equal(t, tt.field, verrs[0].Field())
		})
	}

	t.Run("unknown tutor module", func(t *testing.T) {
		np := valid()
		np.TutorModuleID = 12345
		_, err := fx.svc.Raise(ctx, np, "finance")
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
		assert.Equal(t, payment.ErrTutorModuleNotFound, verr.Err)
		assert.Equal(t, "tutor_module_id", verr.Fields[0].Field)
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	p := fx.raise(t, fx.goodTM, "jdoe")
	got, err := fx.svc.Cancel(ctx, p.ID, "finance")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, got.Status)

	_, err = fx.svc.Cancel(ctx, p.ID, "finance")
	assert.Equal(t, payment.ErrInvalidTransition, errors.Cause(err))

	approved := fx.raise(t, fx.goodTM, "jdoe")
	_, err = fx.svc.Approve(ctx, []int{approved.ID}, "jdoe")
	require.NoError(t, err)
	_, err = fx.svc.Cancel(ctx, approved.ID, "finance")
	assert.Equal(t, payment.ErrInvalidTransition, errors.Cause(err))

	_, err = fx.svc.Cancel(ctx, 999, "finance")
	assert.Equal(t, payment.ErrNotFound, errors.Cause(err))

	// cancelled payments can't be approved
	n, err := fx.svc.Approve(ctx, []int{p.ID}, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	p1 := fx.raise(t, fx.goodTM, "jdoe")
	p2 := fx.raise(t, fx.noEmplTM, "jdoe")
	p3 := fx.raise(t, fx.goodTM, "someone")
	_, err := fx.svc.Approve(ctx, []int{p1.ID}, "jdoe")
	require.NoError(t, err)

	ids := func(payments []payment.TutorPayment) []int {
		out := make([]int, 0, len(payments))
		for _, p := range payments {
			out = append(out, p.ID)
		}
		return out
	}

	tests := []struct {
		name     string
		filter   payment.QueryFilter
		ordering []core.DBOrdering
		want     []int
	}{
		{"all, by id", payment.QueryFilter{}, []core.DBOrdering{{Field: "id", Ascending: true}}, []int{p1.ID, p2.ID, p3.ID}},
		{"all, default order", payment.QueryFilter{}, nil, []int{p3.ID, p2.ID, p1.ID}},
		{"by approver", payment.QueryFilter{Approver: " JDOE "}, []core.DBOrdering{{Field: "id", Ascending: true}}, []int{p1.ID, p2.ID}},
		{"by status", payment.QueryFilter{Statuses: []payment.Status{payment.StatusRaised}}, []core.DBOrdering{{Field: "id", Ascending: true}}, []int{p2.ID, p3.ID}},
		{"by tutor module", payment.QueryFilter{TutorModuleID: fx.noEmplTM}, nil, []int{p2.ID}},
		{"unknown ordering ignored", payment.QueryFilter{IDs: []int{p1.ID, p3.ID}}, []core.DBOrdering{{Field: "password", Ascending: true}}, []int{p3.ID, p1.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fx.svc.Query(ctx, tt.filter, tt.ordering...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}
