package payment

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/timnyborg/redpot-unchained-sub001/core"
)

var (
	// errors
	ErrNotFound            = errors.New("payment not found")
	ErrInvalidTransition   = errors.New("payment status does not allow this change")
	ErrTutorModuleNotFound = errors.New("tutor module not found")

	nowFunc = time.Now // mockable

	allowedOrdering = []string{"id", "amount", "status", "raised_on", "approved_on"}
)

type (
	Repository interface {
		CreatePayment(ctx context.Context, p TutorPayment, exec ...core.DBExecutor) (TutorPayment, error)
		GetPayment(ctx context.Context, id int, exec ...core.DBExecutor) (TutorPayment, error)
		QueryPayments(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]TutorPayment, error)
		TutorModuleExists(ctx context.Context, id int, exec ...core.DBExecutor) (bool, error)

		// QueryApprovalCandidates returns the payments among ids that are raised and name approver,
		// locking them for the rest of the transaction.
		QueryApprovalCandidates(ctx context.Context, ids []int, approver string, exec ...core.DBExecutor) ([]Candidate, error)
		// QueryCandidates returns the payments among ids whatever their status and approver.
		QueryCandidates(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]Candidate, error)
		// ApprovePayments approves the payments among ids that are still raised and still name
		// approver, and returns how many it updated.
		ApprovePayments(ctx context.Context, ids []int, approver string, approvedOn time.Time, exec ...core.DBExecutor) (int, error)
		// UpdateStatus moves payment id from one status to another; it reports false when the
		// payment was not in status from.
		UpdateStatus(ctx context.Context, id int, from, to Status, exec ...core.DBExecutor) (bool, error)
	}

	Service struct {
		repo    Repository
		tx      core.Transactor
		checker *Checker
		mailer  core.EmailService
		conf    *core.Config
		logger  core.Logger
	}
)

func NewService(repo Repository, tx core.Transactor, mailer core.EmailService, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		checker: DefaultChecker(conf.Payments.RequireRTW, func() time.Time { return nowFunc() }),
		mailer:  mailer,
		conf:    conf,
		logger:  logger,
	}
}

// Checker returns the eligibility checker approvals are validated with.
func (svc *Service) Checker() *Checker {
	return svc.checker
}

// normalize drops non-positive and duplicate ids, keeping the first occurrence order.
func normalize(ids []int, approver string) ([]int, string) {
	ids = lo.Uniq(lo.Filter(ids, func(id int, _ int) bool { return id > 0 }))
	return ids, core.CleanString(approver, true /* lower */)
}

// Approve approves, as approver, every payment in ids that is raised, names approver and passes
// every eligibility check; other ids are ignored. It returns the number of payments approved.
func (svc *Service) Approve(ctx context.Context, ids []int, approver string) (int, error) {
	ids, approver = normalize(ids, approver)
	if len(ids) == 0 || approver == "" {
		return 0, nil
	}

	now := nowFunc().UTC()
	var (
		count    int
		eligible []int
	)
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		candidates, err := svc.repo.QueryApprovalCandidates(ctx, ids, approver, exec)
		if err != nil {
			return errors.Wrap(err, "querying approval candidates")
		}

		eligible = FilterEligible(svc.checker, candidates)
		if len(eligible) == 0 {
			return nil
		}

		count, err = svc.repo.ApprovePayments(ctx, eligible, approver, now, exec)
		return errors.Wrap(err, "approving payments")
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		svc.logger.Info(fmt.Sprintf("%d of %d payment(s) approved by %s", count, len(ids), approver))
		svc.notifyApproved(ctx, eligible, approver, now, count)
	}
	return count, nil
}

func (svc *Service) notifyApproved(ctx context.Context, ids []int, approver string, on time.Time, count int) {
	if svc.mailer == nil || svc.conf.Payments.NotifyEmail == "" {
		return
	}
	to, err := mail.ParseAddress(svc.conf.Payments.NotifyEmail)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("parsing payments notify email: %v", err), err)
		return
	}

	payments, err := svc.repo.QueryPayments(ctx, QueryFilter{IDs: ids, Statuses: []Status{StatusApproved}}, nil)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("querying approved payments: %v", err), err)
		return
	}
	payments = lo.Filter(payments, func(p TutorPayment, _ int) bool {
		return p.ApprovedBy.String == approver
	})

	msg := &core.EmailMessage{
		To:           []mail.Address{*to},
		Subject:      fmt.Sprintf("%d tutor payment(s) approved", count),
		TemplateName: "payments_approved",
		TemplateData: approvalNotice{
			Count:      count,
			ApprovedBy: approver,
			ApprovedOn: on,
			Payments:   payments,
		},
	}

	// the email still goes out without the attachment
	if report, err := ApprovedCSV(payments); err != nil {
		svc.logger.Error(fmt.Sprintf("building approved payments csv: %v", err), err)
	} else if err = msg.Attach(bytes.NewReader(report), approvedCSVName(on), "text/csv"); err != nil {
		svc.logger.Error(fmt.Sprintf("attaching approved payments csv: %v", err), err)
	}

	svc.mailer.SendMessages(msg)
}

func approvedCSVName(on time.Time) string {
	return fmt.Sprintf("payments-approved-%s.csv", on.Format("20060102-150405"))
}

// Review explains, for each payment in ids, what Approve would do with it when called by approver.
// It changes nothing.
func (svc *Service) Review(ctx context.Context, ids []int, approver string) ([]Review, error) {
	ids, approver = normalize(ids, approver)
	if len(ids) == 0 {
		return []Review{}, nil
	}

	candidates, err := svc.repo.QueryCandidates(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying candidates")
	}
	byID := lo.KeyBy(candidates, func(c Candidate) int { return c.PaymentID })

	reviews := make([]Review, 0, len(ids))
	for _, id := range ids {
		rvw := Review{PaymentID: id}
		cand, ok := byID[id]
		switch {
		case !ok:
			rvw.Outcome = ReviewNotFound
		case cand.Approver != approver:
			rvw.Outcome = ReviewWrongApprover
		case cand.Status != StatusRaised:
			rvw.Outcome = ReviewNotRaised
			rvw.Reasons = []string{fmt.Sprintf("Payment is %s", cand.Status)}
		default:
			if reasons := svc.checker.Errors(cand.Facts); len(reasons) > 0 {
				rvw.Outcome = ReviewIneligible
				rvw.Reasons = reasons
			} else {
				rvw.Outcome = ReviewApprovable
			}
		}
		reviews = append(reviews, rvw)
	}
	return reviews, nil
}

func (np *NewPayment) Validate(ctx context.Context, svc *Service) error {
	np.clean()
	if err := core.Validate.Struct(np); err != nil {
		return err
	}

	exists, err := svc.repo.TutorModuleExists(ctx, np.TutorModuleID)
	if err != nil {
		return errors.Wrap(err, "checking tutor module")
	}
	if !exists {
		return core.NewValidationError(
			ErrTutorModuleNotFound,
			core.FieldError{Field: "tutor_module_id", Error: ErrTutorModuleNotFound.Error()},
		)
	}
	return nil
}

// Raise validates np and stores it as a raised payment.
func (svc *Service) Raise(ctx context.Context, np NewPayment, raisedBy string) (TutorPayment, error) {
	if err := np.Validate(ctx, svc); err != nil {
		return TutorPayment{}, err
	}

	p, err := svc.repo.CreatePayment(ctx, TutorPayment{
		TutorModuleID: np.TutorModuleID,
		Amount:        np.Amount.Round(2),
		Type:          np.Type,
		Status:        StatusRaised,
		Note:          np.Note,
		Approver:      np.Approver,
		RaisedBy:      core.CleanString(raisedBy, true /* lower */),
		RaisedOn:      nowFunc().UTC(),
	})
	if err != nil {
		return TutorPayment{}, errors.Wrap(err, "creating payment")
	}
	return p, nil
}

// Cancel cancels a raised payment.
func (svc *Service) Cancel(ctx context.Context, id int, by string) (TutorPayment, error) {
	var p TutorPayment
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if p, err = svc.repo.GetPayment(ctx, id, exec); err != nil {
			return err
		}
		if !CanTransition(p.Status, StatusCancelled) {
			return ErrInvalidTransition
		}

		ok, err := svc.repo.UpdateStatus(ctx, id, p.Status, StatusCancelled, exec)
		if err != nil {
			return errors.Wrap(err, "cancelling payment")
		}
		if !ok { // changed since read
			return ErrInvalidTransition
		}
		p.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return TutorPayment{}, err
	}
	svc.logger.Info(fmt.Sprintf("payment %d cancelled by %s", id, by))
	return p, nil
}

func (svc *Service) GetByID(ctx context.Context, id int) (TutorPayment, error) {
	return svc.repo.GetPayment(ctx, id)
}

// Query lists payments matching filter. Unknown ordering fields are ignored; the default order
// is most recently raised first.
func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]TutorPayment, error) {
	filter.Approver = core.CleanString(filter.Approver, true /* lower */)
	ordering = core.CleanOrdering(ordering, allowedOrdering...)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "raised_on"}, {Field: "id"}}
	}
	payments, err := svc.repo.QueryPayments(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	return payments, nil
}
