package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
)

const (
	paymentColumns = `id, tutor_module_id, amount, type, status, note, approver, raised_by, raised_on,
		approved_by, approved_on, transferred_by, transferred_on`

	candidateQuery = `
		SELECT tp.id AS payment_id, tp.status, tp.approver,
			t.appointment_id, t.employee_no, t.rtw_type, t.rtw_end_date, m.finance_code
		FROM tutor_payment tp
			JOIN tutor_module tm ON tm.id = tp.tutor_module_id
			JOIN tutor t ON t.id = tm.tutor_id
			JOIN module m ON m.id = tm.module_id`
)

type paymentRepository struct {
	exec core.DBExecutor
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(exec core.DBExecutor) *paymentRepository {
	return &paymentRepository{exec: exec}
}

func (repo paymentRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// trapNoRowsErr maps psql "no rows" err to payment.ErrNotFound
func (repo paymentRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return payment.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo paymentRepository) CreatePayment(ctx context.Context, p payment.TutorPayment, exec ...core.DBExecutor) (payment.TutorPayment, error) {
	q := fmt.Sprintf(`
		INSERT INTO tutor_payment (tutor_module_id, amount, type, status, note, approver, raised_by, raised_on)
		VALUES (:tutor_module_id, :amount, :type, :status, :note, :approver, :raised_by, :raised_on)
		RETURNING %s`, paymentColumns)

	var created payment.TutorPayment
	if err := namedGet(ctx, repo.getExec(exec), &created, q, p); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" { // foreign_key_violation
			return payment.TutorPayment{}, payment.ErrTutorModuleNotFound
		}
		return payment.TutorPayment{}, errors.Wrap(err, "inserting payment")
	}
	return created, nil
}

func (repo paymentRepository) GetPayment(ctx context.Context, id int, exec ...core.DBExecutor) (payment.TutorPayment, error) {
	var p payment.TutorPayment
	q := fmt.Sprintf(`SELECT %s FROM tutor_payment WHERE id = $1`, paymentColumns)
	if err := sqlxGet(ctx, repo.getExec(exec), &p, q, id); err != nil {
		return payment.TutorPayment{}, repo.trapNoRowsErr(err, "finding payment")
	}
	return p, nil
}

func (repo paymentRepository) QueryPayments(ctx context.Context, filter payment.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]payment.TutorPayment, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.IDs) > 0 {
		conds = append(conds, "id = ANY("+arg(int64s(filter.IDs))+")")
	}
	if len(filter.Statuses) > 0 {
		statuses := lo.Map(filter.Statuses, func(s payment.Status, _ int) string { return string(s) })
		conds = append(conds, "status = ANY("+arg(pq.StringArray(statuses))+")")
	}
	if filter.Approver != "" {
		conds = append(conds, "approver = "+arg(filter.Approver))
	}
	if filter.TutorModuleID != 0 {
		conds = append(conds, "tutor_module_id = "+arg(filter.TutorModuleID))
	}

	q := fmt.Sprintf(`SELECT %s FROM tutor_payment`, paymentColumns)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	// ordering fields are whitelisted by the service
	if len(ordering) > 0 {
		orderList := lo.Map(ordering, func(ord core.DBOrdering, _ int) string { return ord.String() })
		q += " ORDER BY " + strings.Join(orderList, ", ")
	} else {
		q += " ORDER BY id"
	}

	payments := make([]payment.TutorPayment, 0)
	if err := sqlxSelect(ctx, repo.getExec(exec), &payments, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	return payments, nil
}

func (repo paymentRepository) TutorModuleExists(ctx context.Context, id int, exec ...core.DBExecutor) (bool, error) {
	var found bool
	if err := sqlxGet(ctx, repo.getExec(exec), &found, `SELECT EXISTS (SELECT 1 FROM tutor_module WHERE id = $1)`, id); err != nil {
		return false, errors.Wrap(err, "checking tutor module")
	}
	return found, nil
}

func (repo paymentRepository) QueryApprovalCandidates(ctx context.Context, ids []int, approver string, exec ...core.DBExecutor) ([]payment.Candidate, error) {
	q := candidateQuery + `
		WHERE tp.id = ANY($1) AND tp.status = $2 AND tp.approver = $3
		ORDER BY tp.id
		FOR UPDATE OF tp`

	candidates := make([]payment.Candidate, 0)
	if err := sqlxSelect(ctx, repo.getExec(exec), &candidates, q, int64s(ids), string(payment.StatusRaised), approver); err != nil {
		return nil, errors.Wrap(err, "querying approval candidates")
	}
	return candidates, nil
}

func (repo paymentRepository) QueryCandidates(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]payment.Candidate, error) {
	q := candidateQuery + `
		WHERE tp.id = ANY($1)
		ORDER BY tp.id`

	candidates := make([]payment.Candidate, 0)
	if err := sqlxSelect(ctx, repo.getExec(exec), &candidates, q, int64s(ids)); err != nil {
		return nil, errors.Wrap(err, "querying candidates")
	}
	return candidates, nil
}

func (repo paymentRepository) ApprovePayments(ctx context.Context, ids []int, approver string, approvedOn time.Time, exec ...core.DBExecutor) (int, error) {
	res, err := repo.getExec(exec).ExecContext(ctx, `
		UPDATE tutor_payment SET status = $1, approved_by = $2, approved_on = $3
		WHERE id = ANY($4) AND status = $5 AND approver = $2`,
		string(payment.StatusApproved), approver, approvedOn.UTC(), int64s(ids), string(payment.StatusRaised),
	)
	if err != nil {
		return 0, errors.Wrap(err, "approving payments")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "approving payments")
	}
	return int(n), nil
}

func (repo paymentRepository) UpdateStatus(ctx context.Context, id int, from, to payment.Status, exec ...core.DBExecutor) (bool, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`UPDATE tutor_payment SET status = $1 WHERE id = $2 AND status = $3`, string(to), id, string(from))
	if err != nil {
		return false, errors.Wrap(err, "updating payment status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "updating payment status")
	}
	return n == 1, nil
}
