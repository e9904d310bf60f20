package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/volatiletech/null/v8"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
)

type paymentRepository struct {
	db *DB
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *DB) payment.Repository {
	return &paymentRepository{db: db}
}

func (repo *paymentRepository) CreatePayment(_ context.Context, p payment.TutorPayment, _ ...core.DBExecutor) (payment.TutorPayment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tutorModules[p.TutorModuleID]; !ok {
		return payment.TutorPayment{}, payment.ErrTutorModuleNotFound
	}
	p.ID = repo.db.nextPK("tutor_payment")
	repo.db.payments[p.ID] = &p
	return p, nil
}

func (repo *paymentRepository) GetPayment(_ context.Context, id int, _ ...core.DBExecutor) (payment.TutorPayment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.payments[id]; ok {
		return *p, nil
	}
	return payment.TutorPayment{}, payment.ErrNotFound
}

func (repo *paymentRepository) QueryPayments(_ context.Context, filter payment.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]payment.TutorPayment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	payments := make([]payment.TutorPayment, 0)
	for _, p := range repo.db.payments {
		if len(filter.IDs) > 0 && !lo.Contains(filter.IDs, p.ID) {
			continue
		}
		if len(filter.Statuses) > 0 && !lo.Contains(filter.Statuses, p.Status) {
			continue
		}
		if filter.Approver != "" && p.Approver != filter.Approver {
			continue
		}
		if filter.TutorModuleID != 0 && p.TutorModuleID != filter.TutorModuleID {
			continue
		}
		payments = append(payments, *p)
	}

	sort.Slice(payments, func(i, j int) bool {
		for _, ord := range ordering {
			c := comparePayments(payments[i], payments[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return payments[i].ID < payments[j].ID
	})
	return payments, nil
}

func comparePayments(a, b payment.TutorPayment, field string) int {
	switch field {
	case "id":
		return a.ID - b.ID
	case "amount":
		return a.Amount.Cmp(b.Amount)
	case "status":
		return compareStrings(string(a.Status), string(b.Status))
	case "raised_on":
		return compareTimes(a.RaisedOn, b.RaisedOn)
	case "approved_on":
		return compareTimes(a.ApprovedOn.Time, b.ApprovedOn.Time)
	}
	return 0
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func (repo *paymentRepository) TutorModuleExists(_ context.Context, id int, _ ...core.DBExecutor) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	_, ok := repo.db.tutorModules[id]
	return ok, nil
}

// candidate joins a payment with its tutor and module; must be called with the lock held.
func (repo *paymentRepository) candidate(p *payment.TutorPayment) payment.Candidate {
	cand := payment.Candidate{
		Facts:    payment.Facts{PaymentID: p.ID},
		Status:   p.Status,
		Approver: p.Approver,
	}
	tm, ok := repo.db.tutorModules[p.TutorModuleID]
	if !ok {
		return cand
	}
	if t, ok := repo.db.tutors[tm.TutorID]; ok {
		cand.AppointmentID = t.AppointmentID
		cand.EmployeeNumber = t.EmployeeNumber
		cand.RTWType = t.RTWType
		cand.RTWEndDate = t.RTWEndDate
	}
	if m, ok := repo.db.modules[tm.ModuleID]; ok {
		cand.FinanceCode = m.FinanceCode
	}
	return cand
}

func (repo *paymentRepository) QueryApprovalCandidates(_ context.Context, ids []int, approver string, _ ...core.DBExecutor) ([]payment.Candidate, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	candidates := make([]payment.Candidate, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		p, ok := repo.db.payments[id]
		if !ok || p.Status != payment.StatusRaised || p.Approver != approver {
			continue
		}
		candidates = append(candidates, repo.candidate(p))
	}
	return candidates, nil
}

func (repo *paymentRepository) QueryCandidates(_ context.Context, ids []int, _ ...core.DBExecutor) ([]payment.Candidate, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	candidates := make([]payment.Candidate, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		if p, ok := repo.db.payments[id]; ok {
			candidates = append(candidates, repo.candidate(p))
		}
	}
	return candidates, nil
}

func (repo *paymentRepository) ApprovePayments(_ context.Context, ids []int, approver string, approvedOn time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var count int
	for _, id := range lo.Uniq(ids) {
		p, ok := repo.db.payments[id]
		// status and approver are re-checked at write time
		if !ok || p.Status != payment.StatusRaised || p.Approver != approver {
			continue
		}
		p.Status = payment.StatusApproved
		p.ApprovedBy = null.StringFrom(approver)
		p.ApprovedOn = null.TimeFrom(approvedOn)
		count++
	}
	return count, nil
}

func (repo *paymentRepository) UpdateStatus(_ context.Context, id int, from, to payment.Status, _ ...core.DBExecutor) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

// SetPaymentStatus forces a payment's status, as the external transfer process would.
func (db *DB) SetPaymentStatus(id int, status payment.Status) {
	db.Lock()
	defer db.Unlock()
	if p, ok := db.payments[id]; ok {
		p.Status = status
	}
}
