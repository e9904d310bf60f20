package payment

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/timnyborg/redpot-unchained-sub001/core"
)

type Status string

// Statuses
const (
	StatusRaised      Status = "raised"
	StatusApproved    Status = "approved"
	StatusTransferred Status = "transferred"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Types
const (
	TypeTeaching       = "teaching"
	TypeOnlineTeaching = "online_teaching"
	TypeMarking        = "marking"
	TypeExam           = "exam"
	TypeExpenses       = "expenses"
	TypeOther          = "other"
)

var (
	AllStatuses = []Status{StatusRaised, StatusApproved, StatusTransferred, StatusFailed, StatusCancelled}
	AllTypes    = []string{TypeTeaching, TypeOnlineTeaching, TypeMarking, TypeExam, TypeExpenses, TypeOther}

	transitions = map[Status][]Status{
		StatusRaised:   {StatusApproved, StatusCancelled, StatusFailed},
		StatusApproved: {StatusTransferred},
	}
)

// CanTransition reports whether a payment may move from one status to another.
// Transferred, failed and cancelled payments are final.
func CanTransition(from, to Status) bool {
	return lo.Contains(transitions[from], to)
}

// IsFinal reports whether no transition leaves s.
func (s Status) IsFinal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	return lo.Contains(AllStatuses, s)
}

// TutorPayment is a payment owed to a tutor for an activity on a module.
type TutorPayment struct {
	ID            int             `json:"id" db:"id"`
	TutorModuleID int             `json:"tutor_module_id" db:"tutor_module_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Type          string          `json:"type" db:"type"`
	Status        Status          `json:"status" db:"status"`
	Note          string          `json:"note" db:"note"`
	Approver      string          `json:"approver" db:"approver"` // username
	RaisedBy      string          `json:"raised_by" db:"raised_by"`
	RaisedOn      time.Time       `json:"raised_on" db:"raised_on"` // UTC
	ApprovedBy    null.String     `json:"approved_by" db:"approved_by"`
	ApprovedOn    null.Time       `json:"approved_on" db:"approved_on"`
	TransferredBy null.String     `json:"transferred_by" db:"transferred_by"`
	TransferredOn null.Time       `json:"transferred_on" db:"transferred_on"`
}

// Facts are the tutor and module details a payment's approval depends on.
type Facts struct {
	PaymentID      int       `json:"payment_id" db:"payment_id"`
	AppointmentID  string    `json:"appointment_id" db:"appointment_id"`
	EmployeeNumber string    `json:"employee_no" db:"employee_no"`
	FinanceCode    string    `json:"finance_code" db:"finance_code"`
	RTWType        string    `json:"rtw_type" db:"rtw_type"`
	RTWEndDate     null.Time `json:"rtw_end_date" db:"rtw_end_date"`
}

// Candidate is a payment as seen by the approval process.
type Candidate struct {
	Facts
	Status   Status `json:"status" db:"status"`
	Approver string `json:"approver" db:"approver"`
}

// NewPayment contains information needed to raise a TutorPayment.
type NewPayment struct {
	TutorModuleID int             `json:"tutor_module_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type" validate:"required,paymenttype"`
	Note          string          `json:"note" validate:"max=1000"`
	Approver      string          `json:"approver" validate:"required,min=2,alphanum_"`
}

func (np *NewPayment) clean() {
	np.Type = core.CleanString(np.Type, true /* lower */)
	np.Note = core.CleanString(np.Note)
	np.Approver = core.CleanString(np.Approver, true /* lower */)
}

type QueryFilter struct {
	IDs           []int
	Statuses      []Status
	Approver      string
	TutorModuleID int
}

type ReviewOutcome string

const (
	ReviewApprovable    ReviewOutcome = "approvable"
	ReviewNotFound      ReviewOutcome = "not_found"
	ReviewWrongApprover ReviewOutcome = "wrong_approver"
	ReviewNotRaised     ReviewOutcome = "not_raised"
	ReviewIneligible    ReviewOutcome = "ineligible"
)

// Review explains what Approve would do with a single payment.
type Review struct {
	PaymentID int           `json:"payment_id"`
	Outcome   ReviewOutcome `json:"outcome"`
	Reasons   []string      `json:"reasons,omitempty"`
}

// approvalNotice is the data of the "payments_approved" email.
type approvalNotice struct {
	Count      int
	ApprovedBy string
	ApprovedOn time.Time
	Payments   []TutorPayment
}
